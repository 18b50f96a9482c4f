package blackboard

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/corewright/substrate/internal/eventlog"
)

// RegisterAgent adds or replaces an agent's registry entry.
func (b *Board) RegisterAgent(ctx context.Context, agentID, task string, scope, interests []string) error {
	return b.withLock(ctx, func(doc *document) (bool, error) {
		now := time.Now().UTC()
		doc.Agents[agentID] = &eventlog.Agent{
			Task: task, Scope: scope, Interests: interests,
			Status: "active", StartedAt: now, LastSeen: now,
		}
		return true, nil
	})
}

// UpdateAgentStatus sets an agent's status and, for terminal statuses, its result.
func (b *Board) UpdateAgentStatus(ctx context.Context, agentID, status string, result any) error {
	return b.withLock(ctx, func(doc *document) (bool, error) {
		a, ok := doc.Agents[agentID]
		if !ok {
			return false, nil
		}
		a.Status = status
		a.LastSeen = time.Now().UTC()
		if result != nil {
			a.Result = result
		}
		if status == "completed" || status == "failed" {
			a.FinishedAt = time.Now().UTC()
		}
		return true, nil
	})
}

// Heartbeat refreshes an agent's last_seen timestamp.
func (b *Board) Heartbeat(ctx context.Context, agentID string) error {
	return b.withLock(ctx, func(doc *document) (bool, error) {
		a, ok := doc.Agents[agentID]
		if !ok {
			return false, nil
		}
		a.LastSeen = time.Now().UTC()
		return true, nil
	})
}

// UpdateAgentCursor moves an agent's read cursor over the findings/event stream.
func (b *Board) UpdateAgentCursor(ctx context.Context, agentID string, cursor int64) error {
	return b.withLock(ctx, func(doc *document) (bool, error) {
		a, ok := doc.Agents[agentID]
		if !ok {
			return false, nil
		}
		a.ContextCursor = cursor
		a.LastSeen = time.Now().UTC()
		return true, nil
	})
}

// GetAgentCursor returns an agent's current read cursor.
func (b *Board) GetAgentCursor(ctx context.Context, agentID string) (int64, error) {
	doc, err := b.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	if a, ok := doc.Agents[agentID]; ok {
		return a.ContextCursor, nil
	}
	return 0, nil
}

// GetActiveAgents returns agents with status "active".
func (b *Board) GetActiveAgents(ctx context.Context) (map[string]*eventlog.Agent, error) {
	doc, err := b.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*eventlog.Agent)
	for id, a := range doc.Agents {
		if a.Status == "active" {
			out[id] = a
		}
	}
	return out, nil
}

// GetAllAgents returns every registered agent, any status.
func (b *Board) GetAllAgents(ctx context.Context) (map[string]*eventlog.Agent, error) {
	doc, err := b.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Agents, nil
}

// AddFinding appends a finding, assigning a fresh ID if findingID is empty.
func (b *Board) AddFinding(ctx context.Context, agent, findingType, content string, files, tags []string, importance, findingID string) (eventlog.Finding, error) {
	if findingID == "" {
		findingID = uuid.NewString()
	}
	f := eventlog.Finding{
		ID: findingID, Agent: agent, Type: findingType, Content: content,
		Files: files, Importance: importance, Tags: tags, CreatedAt: time.Now().UTC(),
	}
	err := b.withLock(ctx, func(doc *document) (bool, error) {
		f.Seq = int64(len(doc.Findings)) + 1
		doc.Findings = append(doc.Findings, f)
		return true, nil
	})
	return f, err
}

// GetFindings filters findings optionally by sequence cursor, type, and importance.
func (b *Board) GetFindings(ctx context.Context, since int64, findingType, importance string) ([]eventlog.Finding, error) {
	doc, err := b.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var out []eventlog.Finding
	for _, f := range doc.Findings {
		if f.Seq <= since {
			continue
		}
		if findingType != "" && f.Type != findingType {
			continue
		}
		if importance != "" && f.Importance != importance {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// GetFindingsSinceCursor returns findings[cursor:] by slice position, not sequence.
func (b *Board) GetFindingsSinceCursor(ctx context.Context, cursor int) ([]eventlog.Finding, error) {
	doc, err := b.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if cursor < 0 || cursor >= len(doc.Findings) {
		return nil, nil
	}
	return doc.Findings[cursor:], nil
}

// GetCriticalFindings returns findings with importance=critical or type=blocker.
func (b *Board) GetCriticalFindings(ctx context.Context) ([]eventlog.Finding, error) {
	doc, err := b.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var out []eventlog.Finding
	for _, f := range doc.Findings {
		if f.Importance == "critical" || f.Type == "blocker" {
			out = append(out, f)
		}
	}
	return out, nil
}

// GetFindingsForInterests matches findings by tag or content substring, case-insensitive.
func (b *Board) GetFindingsForInterests(ctx context.Context, interests []string) ([]eventlog.Finding, error) {
	doc, err := b.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return eventlog.FindingsMatchingInterests(doc.Findings, interests), nil
}

// SearchFindings performs a case-insensitive keyword-only search over content and tags.
func (b *Board) SearchFindings(ctx context.Context, query string, limit int) ([]eventlog.Finding, error) {
	doc, err := b.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	var out []eventlog.Finding
	for _, f := range doc.Findings {
		if strings.Contains(strings.ToLower(f.Content), q) || containsTag(f.Tags, q) {
			out = append(out, f)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func containsTag(tags []string, q string) bool {
	for _, t := range tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

// SendMessage appends a message to the log.
func (b *Board) SendMessage(ctx context.Context, from, to, body string) (eventlog.Message, error) {
	m := eventlog.Message{ID: uuid.NewString(), From: from, To: to, Body: body, CreatedAt: time.Now().UTC()}
	err := b.withLock(ctx, func(doc *document) (bool, error) {
		doc.Messages = append(doc.Messages, m)
		return true, nil
	})
	return m, err
}

// MarkMessageRead flips a message's read flag.
func (b *Board) MarkMessageRead(ctx context.Context, messageID string) (bool, error) {
	var found bool
	err := b.withLock(ctx, func(doc *document) (bool, error) {
		for i := range doc.Messages {
			if doc.Messages[i].ID == messageID {
				doc.Messages[i].Read = true
				found = true
				return true, nil
			}
		}
		return false, nil
	})
	return found, err
}

// AddTask appends a task to the shared queue.
func (b *Board) AddTask(ctx context.Context, description string) (eventlog.Task, error) {
	t := eventlog.Task{ID: uuid.NewString(), Description: description, Status: "open", CreatedAt: time.Now().UTC()}
	err := b.withLock(ctx, func(doc *document) (bool, error) {
		doc.Tasks = append(doc.Tasks, t)
		return true, nil
	})
	return t, err
}

// ClaimTask atomically assigns an open task to an agent.
func (b *Board) ClaimTask(ctx context.Context, taskID, agentID string) (bool, error) {
	var claimed bool
	err := b.withLock(ctx, func(doc *document) (bool, error) {
		for i := range doc.Tasks {
			if doc.Tasks[i].ID == taskID && doc.Tasks[i].Status == "open" {
				doc.Tasks[i].ClaimedBy = agentID
				doc.Tasks[i].Status = "claimed"
				claimed = true
				return true, nil
			}
		}
		return false, nil
	})
	return claimed, err
}

// CompleteTask marks a claimed task as completed.
func (b *Board) CompleteTask(ctx context.Context, taskID string) (bool, error) {
	var done bool
	err := b.withLock(ctx, func(doc *document) (bool, error) {
		for i := range doc.Tasks {
			if doc.Tasks[i].ID == taskID && doc.Tasks[i].Status == "claimed" {
				doc.Tasks[i].Status = "completed"
				doc.Tasks[i].CompletedAt = time.Now().UTC()
				done = true
				return true, nil
			}
		}
		return false, nil
	})
	return done, err
}

// AskQuestion appends a question awaiting an answer.
func (b *Board) AskQuestion(ctx context.Context, asker, body string) (eventlog.Question, error) {
	q := eventlog.Question{ID: uuid.NewString(), Asker: asker, Body: body, CreatedAt: time.Now().UTC()}
	err := b.withLock(ctx, func(doc *document) (bool, error) {
		doc.Questions = append(doc.Questions, q)
		return true, nil
	})
	return q, err
}

// AnswerQuestion records an answer to a previously asked question.
func (b *Board) AnswerQuestion(ctx context.Context, questionID, answer string) (bool, error) {
	var answered bool
	err := b.withLock(ctx, func(doc *document) (bool, error) {
		for i := range doc.Questions {
			if doc.Questions[i].ID == questionID {
				doc.Questions[i].Answer = answer
				doc.Questions[i].Answered = true
				answered = true
				return true, nil
			}
		}
		return false, nil
	})
	return answered, err
}

// SetContext stores a shared key-value entry.
func (b *Board) SetContext(ctx context.Context, key string, value any) error {
	return b.withLock(ctx, func(doc *document) (bool, error) {
		doc.Context[key] = value
		return true, nil
	})
}

// GetContext returns one value (key != "") or the whole context map.
func (b *Board) GetContext(ctx context.Context, key string) (any, error) {
	doc, err := b.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return doc.Context, nil
	}
	return doc.Context[key], nil
}
