// Package stepflow implements the step-file workflow engine: a directory
// holding a workflow.yaml manifest plus numbered step files under steps/,
// with progress tracked in the YAML frontmatter of a state file rather
// than in a database. It is a separate flavor of workflow from the
// conductor's node-graph runs, meant for long-running, human-paced tasks
// that outlive any one process.
package stepflow

import "time"

// Status is the lifecycle state of a step-file workflow.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
)

// Definition is the parsed workflow.yaml manifest.
type Definition struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Steps       []StepSpec `yaml:"steps"`
}

// StepSpec names one step file and its position in the sequence.
type StepSpec struct {
	Number int    `yaml:"number"`
	File   string `yaml:"file"`
	Title  string `yaml:"title"`
}

// Checkpoint records when a step was completed.
type Checkpoint struct {
	Step        int       `yaml:"step"`
	CompletedAt time.Time `yaml:"completed_at"`
}

// State is the full frontmatter payload persisted between runs.
type State struct {
	WorkflowStatus Status       `yaml:"workflow_status"`
	StepsCompleted []int        `yaml:"steps_completed"`
	CurrentStep    int          `yaml:"current_step"`
	Checkpoints    []Checkpoint `yaml:"checkpoints"`
}

const stateFileName = "workflow-state.md"
