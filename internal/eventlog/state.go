package eventlog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event types dispatched during replay. This set is closed: unknown types
// are reported as a CurrentState warning and skipped, never aborting replay.
const (
	TypeAgentRegistered    = "agent.registered"
	TypeAgentStatusUpdated = "agent.status_updated"
	TypeAgentCursorUpdated = "agent.cursor_updated"
	TypeAgentHeartbeat     = "agent.heartbeat"
	TypeFindingAdded       = "finding.added"
	TypeMessageSent        = "message.sent"
	TypeMessageRead        = "message.read"
	TypeTaskAdded          = "task.added"
	TypeTaskClaimed        = "task.claimed"
	TypeTaskCompleted      = "task.completed"
	TypeQuestionAsked      = "question.asked"
	TypeQuestionAnswered   = "question.answered"
	TypeContextSet         = "context.set"
)

// Agent is the replayed state of one registered agent.
type Agent struct {
	Task          string    `json:"task"`
	Scope         []string  `json:"scope"`
	Interests     []string  `json:"interests"`
	Status        string    `json:"status"`
	StartedAt     time.Time `json:"started_at"`
	LastSeen      time.Time `json:"last_seen"`
	FinishedAt    time.Time `json:"finished_at,omitempty"`
	Result        any       `json:"result,omitempty"`
	ContextCursor int64     `json:"context_cursor"`
}

// Finding is a discovery reported by an agent.
type Finding struct {
	ID         string    `json:"id"`
	Agent      string    `json:"agent"`
	Type       string    `json:"type"`
	Content    string    `json:"content"`
	Files      []string  `json:"files"`
	Importance string    `json:"importance"`
	Tags       []string  `json:"tags"`
	CreatedAt  time.Time `json:"created_at"`
	Seq        int64     `json:"seq"`
}

// Message is a point-to-point or broadcast message between agents.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Task is a unit of work in the shared queue.
type Task struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	ClaimedBy   string    `json:"claimed_by,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Question is an agent-to-agent or agent-to-operator query.
type Question struct {
	ID        string    `json:"id"`
	Asker     string    `json:"asker"`
	Body      string    `json:"body"`
	Answer    string    `json:"answer,omitempty"`
	Answered  bool      `json:"answered"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is the folded state produced by replaying the event log. It is
// the same shape the blackboard persists. The blackboard does not append
// events to this log, so a replayed Snapshot holds only events appended to
// the log directly, not blackboard mutations.
type Snapshot struct {
	Version   string              `json:"version"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
	Agents    map[string]*Agent   `json:"agents"`
	Findings  []Finding           `json:"findings"`
	Messages  []Message           `json:"messages"`
	Tasks     []Task              `json:"task_queue"`
	Questions []Question          `json:"questions"`
	Context   map[string]any      `json:"context"`
}

// NewSnapshot returns the empty default state, matching what a missing or
// corrupt blackboard document resets to.
func NewSnapshot() *Snapshot {
	now := time.Now().UTC()
	return &Snapshot{
		Version:   "1.0-substrate",
		CreatedAt: now,
		UpdatedAt: now,
		Agents:    make(map[string]*Agent),
		Context:   make(map[string]any),
	}
}

// CurrentState replays every event in the log into a fresh Snapshot. The
// blackboard does not call it: a missing or corrupt blackboard document
// resets to the empty default instead of being rebuilt from the log.
func (l *Log) CurrentState() (*Snapshot, []string, error) {
	events, warnings, err := l.Read(0)
	if err != nil {
		return nil, warnings, err
	}
	state := NewSnapshot()
	for _, e := range events {
		if !ApplyEvent(state, e) {
			warnings = append(warnings, fmt.Sprintf("unknown event type %q at seq %d, skipping", e.Type, e.Seq))
		}
	}
	return state, warnings, nil
}

// ApplyEvent folds one event into state using dictionary dispatch, the
// replay step CurrentState runs for each event. It reports false for an
// event type outside the closed set, which leaves state unchanged apart
// from UpdatedAt.
func ApplyEvent(state *Snapshot, e Event) bool {
	data := map[string]any{}
	_ = json.Unmarshal(e.Data, &data)

	switch e.Type {
	case TypeAgentRegistered:
		handleAgentRegistered(state, e, data)
	case TypeAgentStatusUpdated:
		handleAgentStatusUpdated(state, e, data)
	case TypeAgentCursorUpdated:
		handleAgentCursorUpdated(state, e, data)
	case TypeAgentHeartbeat:
		handleAgentHeartbeat(state, e, data)
	case TypeFindingAdded:
		handleFindingAdded(state, e, data)
	case TypeMessageSent:
		handleMessageSent(state, e, data)
	case TypeMessageRead:
		handleMessageRead(state, e, data)
	case TypeTaskAdded:
		handleTaskAdded(state, e, data)
	case TypeTaskClaimed:
		handleTaskClaimed(state, e, data)
	case TypeTaskCompleted:
		handleTaskCompleted(state, e, data)
	case TypeQuestionAsked:
		handleQuestionAsked(state, e, data)
	case TypeQuestionAnswered:
		handleQuestionAnswered(state, e, data)
	case TypeContextSet:
		handleContextSet(state, e, data)
	default:
		// Unknown type: skip, matching the closed-set replay contract.
		state.UpdatedAt = e.TS
		return false
	}
	state.UpdatedAt = e.TS
	return true
}

func handleAgentRegistered(state *Snapshot, e Event, data map[string]any) {
	id, _ := data["agent_id"].(string)
	if id == "" {
		return
	}
	state.Agents[id] = &Agent{
		Task:          stringField(data, "task"),
		Scope:         stringSliceField(data, "scope"),
		Interests:     stringSliceField(data, "interests"),
		Status:        "active",
		StartedAt:     e.TS,
		LastSeen:      e.TS,
		ContextCursor: int64Field(data, "context_cursor"),
	}
}

func handleAgentStatusUpdated(state *Snapshot, e Event, data map[string]any) {
	id, _ := data["agent_id"].(string)
	a, ok := state.Agents[id]
	if !ok {
		return
	}
	status := stringField(data, "status")
	if status == "" {
		status = "active"
	}
	a.Status = status
	a.LastSeen = e.TS
	if result, ok := data["result"]; ok {
		a.Result = result
	}
	if status == "completed" || status == "failed" {
		a.FinishedAt = e.TS
	}
}

func handleAgentCursorUpdated(state *Snapshot, e Event, data map[string]any) {
	id, _ := data["agent_id"].(string)
	a, ok := state.Agents[id]
	if !ok {
		return
	}
	a.ContextCursor = int64Field(data, "cursor")
	a.LastSeen = e.TS
}

func handleAgentHeartbeat(state *Snapshot, e Event, data map[string]any) {
	id, _ := data["agent_id"].(string)
	if a, ok := state.Agents[id]; ok {
		a.LastSeen = e.TS
	}
}

func handleFindingAdded(state *Snapshot, e Event, data map[string]any) {
	state.Findings = append(state.Findings, Finding{
		ID:         stringField(data, "finding_id"),
		Agent:      stringField(data, "agent"),
		Type:       stringField(data, "type"),
		Content:    stringField(data, "content"),
		Files:      stringSliceField(data, "files"),
		Importance: stringField(data, "importance"),
		Tags:       stringSliceField(data, "tags"),
		CreatedAt:  e.TS,
		Seq:        e.Seq,
	})
}

func handleMessageSent(state *Snapshot, e Event, data map[string]any) {
	state.Messages = append(state.Messages, Message{
		ID:        stringField(data, "message_id"),
		From:      stringField(data, "from"),
		To:        stringField(data, "to"),
		Body:      stringField(data, "body"),
		CreatedAt: e.TS,
	})
}

func handleMessageRead(state *Snapshot, e Event, data map[string]any) {
	id := stringField(data, "message_id")
	for i := range state.Messages {
		if state.Messages[i].ID == id {
			state.Messages[i].Read = true
			return
		}
	}
}

func handleTaskAdded(state *Snapshot, e Event, data map[string]any) {
	state.Tasks = append(state.Tasks, Task{
		ID:          stringField(data, "task_id"),
		Description: stringField(data, "description"),
		Status:      "open",
		CreatedAt:   e.TS,
	})
}

func handleTaskClaimed(state *Snapshot, e Event, data map[string]any) {
	id := stringField(data, "task_id")
	for i := range state.Tasks {
		if state.Tasks[i].ID == id {
			state.Tasks[i].ClaimedBy = stringField(data, "agent_id")
			state.Tasks[i].Status = "claimed"
			return
		}
	}
}

func handleTaskCompleted(state *Snapshot, e Event, data map[string]any) {
	id := stringField(data, "task_id")
	for i := range state.Tasks {
		if state.Tasks[i].ID == id {
			state.Tasks[i].Status = "completed"
			state.Tasks[i].CompletedAt = e.TS
			return
		}
	}
}

func handleQuestionAsked(state *Snapshot, e Event, data map[string]any) {
	state.Questions = append(state.Questions, Question{
		ID:        stringField(data, "question_id"),
		Asker:     stringField(data, "agent_id"),
		Body:      stringField(data, "body"),
		CreatedAt: e.TS,
	})
}

func handleQuestionAnswered(state *Snapshot, e Event, data map[string]any) {
	id := stringField(data, "question_id")
	for i := range state.Questions {
		if state.Questions[i].ID == id {
			state.Questions[i].Answer = stringField(data, "answer")
			state.Questions[i].Answered = true
			return
		}
	}
}

func handleContextSet(state *Snapshot, e Event, data map[string]any) {
	key := stringField(data, "key")
	if key == "" {
		return
	}
	state.Context[key] = data["value"]
}

func stringField(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

func int64Field(data map[string]any, key string) int64 {
	switch v := data[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func stringSliceField(data map[string]any, key string) []string {
	raw, ok := data[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// FindingsMatchingInterests returns findings whose tags or content match any
// interest substring, case-insensitively — grounds the blackboard's
// get_findings_for_interests operation.
func FindingsMatchingInterests(findings []Finding, interests []string) []Finding {
	if len(interests) == 0 {
		return nil
	}
	lowered := make([]string, len(interests))
	for i, it := range interests {
		lowered[i] = strings.ToLower(it)
	}

	var out []Finding
	for _, f := range findings {
		content := strings.ToLower(f.Content)
		matched := false
		for _, tag := range f.Tags {
			tl := strings.ToLower(tag)
			for _, it := range lowered {
				if tl == it {
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
		if !matched {
			for _, it := range lowered {
				if strings.Contains(content, it) {
					matched = true
					break
				}
			}
		}
		if matched {
			out = append(out, f)
		}
	}
	return out
}
