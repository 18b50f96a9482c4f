package stepflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Engine drives one workflow directory's progress through its steps.
type Engine struct {
	dir       string
	statePath string
	def       Definition
	state     State
	body      string
}

// Load reads workflow.yaml from dir and either loads its existing state
// file or initializes a fresh pending one.
func Load(dir string) (*Engine, error) {
	defPath := filepath.Join(dir, "workflow.yaml")
	data, err := os.ReadFile(defPath)
	if err != nil {
		return nil, fmt.Errorf("stepflow: read workflow definition: %w", err)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("stepflow: decode workflow definition: %w", err)
	}
	sort.Slice(def.Steps, func(i, j int) bool { return def.Steps[i].Number < def.Steps[j].Number })

	statePath := filepath.Join(dir, stateFileName)
	state, body, err := readFrontmatter(statePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		state = State{WorkflowStatus: StatusPending}
	}

	return &Engine{dir: dir, statePath: statePath, def: def, state: state, body: body}, nil
}

// State returns a copy of the engine's current state.
func (e *Engine) State() State {
	return e.state
}

// Definition returns the parsed workflow manifest.
func (e *Engine) Definition() Definition {
	return e.def
}

func (e *Engine) isCompleted(step int) bool {
	for _, s := range e.state.StepsCompleted {
		if s == step {
			return true
		}
	}
	return false
}

func (e *Engine) firstPendingStep() int {
	for _, s := range e.def.Steps {
		if !e.isCompleted(s.Number) {
			return s.Number
		}
	}
	return 0
}

func (e *Engine) nextPendingStepAfter(step int) int {
	for _, s := range e.def.Steps {
		if s.Number > step && !e.isCompleted(s.Number) {
			return s.Number
		}
	}
	for _, s := range e.def.Steps {
		if s.Number <= step && !e.isCompleted(s.Number) {
			return s.Number
		}
	}
	return 0
}

// Start transitions a pending workflow to in_progress at its first step.
func (e *Engine) Start() error {
	if e.state.WorkflowStatus != StatusPending {
		return fmt.Errorf("stepflow: cannot start workflow in status %s", e.state.WorkflowStatus)
	}
	e.state.WorkflowStatus = StatusInProgress
	e.state.CurrentStep = e.firstPendingStep()
	return e.save("workflow started")
}

// CanResume is true iff the workflow is in_progress or paused and has at
// least one pending step left.
func (e *Engine) CanResume() bool {
	if e.state.WorkflowStatus != StatusInProgress && e.state.WorkflowStatus != StatusPaused {
		return false
	}
	return e.firstPendingStep() != 0
}

// Resume continues a paused or stalled workflow. fromStep of 0 resumes at
// the first pending step.
func (e *Engine) Resume(fromStep int) error {
	if !e.CanResume() {
		return fmt.Errorf("stepflow: cannot resume workflow in status %s", e.state.WorkflowStatus)
	}
	if fromStep == 0 {
		fromStep = e.firstPendingStep()
	}
	e.state.WorkflowStatus = StatusInProgress
	e.state.CurrentStep = fromStep
	return e.save(fmt.Sprintf("resumed at step %d", fromStep))
}

// CompleteStep marks stepNum done, checkpointing the time, and advances to
// the next pending step or completes the workflow if none remain.
func (e *Engine) CompleteStep(stepNum int, output string) error {
	if e.state.WorkflowStatus != StatusInProgress {
		return fmt.Errorf("stepflow: cannot complete a step while workflow is %s", e.state.WorkflowStatus)
	}
	if e.isCompleted(stepNum) {
		return nil
	}

	e.state.StepsCompleted = append(e.state.StepsCompleted, stepNum)
	sort.Ints(e.state.StepsCompleted)
	e.state.Checkpoints = append(e.state.Checkpoints, Checkpoint{Step: stepNum, CompletedAt: time.Now().UTC()})

	if next := e.nextPendingStepAfter(stepNum); next != 0 {
		e.state.CurrentStep = next
	} else {
		e.state.WorkflowStatus = StatusCompleted
		e.state.CurrentStep = 0
	}

	logLine := fmt.Sprintf("completed step %d", stepNum)
	if output != "" {
		logLine += ": " + output
	}
	return e.save(logLine)
}

// Pause stops an in-progress workflow, recording reason in the log.
func (e *Engine) Pause(reason string) error {
	if e.state.WorkflowStatus != StatusInProgress {
		return fmt.Errorf("stepflow: cannot pause workflow in status %s", e.state.WorkflowStatus)
	}
	e.state.WorkflowStatus = StatusPaused
	logLine := "workflow paused"
	if reason != "" {
		logLine += ": " + reason
	}
	return e.save(logLine)
}

func (e *Engine) save(logLine string) error {
	if e.body != "" {
		e.body += "\n"
	}
	e.body += fmt.Sprintf("- %s: %s\n", time.Now().UTC().Format(time.RFC3339), logLine)
	return writeFrontmatter(e.statePath, e.state, e.body)
}
