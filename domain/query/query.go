// Package query provides question-answering query domain types.
package query

import (
	"context"
	"encoding/json"
	"time"
)

// Status represents the query lifecycle state.
type Status string

// Status values.
const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCached    Status = "cached"
)

// EvidenceStep records one tool call made while answering a query.
// Serialized as JSON into the query row.
type EvidenceStep struct {
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args"`
	Summary  string         `json:"summary"`
}

// UsageStats accumulates token usage across all model turns of a run.
type UsageStats struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	ThinkingTokens   int     `json:"thinking_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`
}

// Add accumulates another turn's usage.
func (u *UsageStats) Add(prompt, completion, thinking int) {
	u.PromptTokens += prompt
	u.CompletionTokens += completion
	u.ThinkingTokens += thinking
}

// Query is one question-answering run. Immutable after completion; cached
// rows reference the completed row they were copied from.
type Query struct {
	id            int64
	repoID        int64
	prompt        string
	answer        string
	evidence      []EvidenceStep
	status        Status
	errText       string
	createdAt     time.Time
	completedAt   *time.Time
	durationSecs  float64
	usage         UsageStats
	sourceQueryID *int64
	strategy      string
}

// NewQuery creates a running Query.
func NewQuery(repoID int64, prompt, strategy string) Query {
	return Query{
		repoID:    repoID,
		prompt:    prompt,
		status:    StatusRunning,
		createdAt: time.Now().UTC(),
		strategy:  strategy,
	}
}

// ReconstructQuery recreates a Query from persistence.
func ReconstructQuery(
	id, repoID int64,
	prompt, answer string,
	evidence []EvidenceStep,
	status Status,
	errText string,
	createdAt time.Time,
	completedAt *time.Time,
	durationSecs float64,
	usage UsageStats,
	sourceQueryID *int64,
	strategy string,
) Query {
	ev := make([]EvidenceStep, len(evidence))
	copy(ev, evidence)
	return Query{
		id:            id,
		repoID:        repoID,
		prompt:        prompt,
		answer:        answer,
		evidence:      ev,
		status:        status,
		errText:       errText,
		createdAt:     createdAt,
		completedAt:   completedAt,
		durationSecs:  durationSecs,
		usage:         usage,
		sourceQueryID: sourceQueryID,
		strategy:      strategy,
	}
}

// ID returns the database identifier.
func (q Query) ID() int64 { return q.id }

// RepoID returns the repo the query ran against.
func (q Query) RepoID() int64 { return q.repoID }

// Prompt returns the natural-language question.
func (q Query) Prompt() string { return q.prompt }

// Answer returns the final answer, empty until completed.
func (q Query) Answer() string { return q.answer }

// Evidence returns the ordered tool-call evidence.
func (q Query) Evidence() []EvidenceStep {
	ev := make([]EvidenceStep, len(q.evidence))
	copy(ev, q.evidence)
	return ev
}

// EvidenceJSON serializes the evidence for persistence.
func (q Query) EvidenceJSON() (string, error) {
	if len(q.evidence) == 0 {
		return "", nil
	}
	b, err := json.Marshal(q.evidence)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Status returns the lifecycle status.
func (q Query) Status() Status { return q.status }

// Error returns the failure message, empty unless failed.
func (q Query) Error() string { return q.errText }

// CreatedAt returns when the query was submitted.
func (q Query) CreatedAt() time.Time { return q.createdAt }

// CompletedAt returns when the query finished, nil while running.
func (q Query) CompletedAt() *time.Time { return q.completedAt }

// DurationSecs returns the wall-clock run duration.
func (q Query) DurationSecs() float64 { return q.durationSecs }

// Usage returns the accumulated token usage.
func (q Query) Usage() UsageStats { return q.usage }

// SourceQueryID returns the completed query a cached row was copied from.
func (q Query) SourceQueryID() *int64 { return q.sourceQueryID }

// Strategy returns the agent strategy used.
func (q Query) Strategy() string { return q.strategy }

// WithID returns a copy with the given identifier.
func (q Query) WithID(id int64) Query {
	q.id = id
	return q
}

// Completed returns a copy marked completed with the answer and evidence.
func (q Query) Completed(answer string, evidence []EvidenceStep, usage UsageStats) Query {
	now := time.Now().UTC()
	ev := make([]EvidenceStep, len(evidence))
	copy(ev, evidence)
	q.answer = answer
	q.evidence = ev
	q.usage = usage
	q.status = StatusCompleted
	q.completedAt = &now
	q.durationSecs = now.Sub(q.createdAt).Seconds()
	return q
}

// Failed returns a copy marked failed with the error message.
func (q Query) Failed(errText string) Query {
	now := time.Now().UTC()
	q.status = StatusFailed
	q.errText = errText
	q.completedAt = &now
	q.durationSecs = now.Sub(q.createdAt).Seconds()
	return q
}

// CachedFrom creates a new cached Query copying the source's answer and
// evidence.
func CachedFrom(src Query, prompt string) Query {
	now := time.Now().UTC()
	id := src.id
	return Query{
		repoID:        src.repoID,
		prompt:        prompt,
		answer:        src.answer,
		evidence:      src.Evidence(),
		status:        StatusCached,
		createdAt:     now,
		completedAt:   &now,
		sourceQueryID: &id,
		strategy:      src.strategy,
	}
}

// Store persists queries.
type Store interface {
	Create(ctx context.Context, q Query) (Query, error)
	Update(ctx context.Context, q Query) error
	Get(ctx context.Context, id int64) (Query, error)
	List(ctx context.Context, repoID int64, limit int) ([]Query, error)
	// CompletedSince returns completed queries for the repo whose
	// completed_at is after the given time, newest first.
	CompletedSince(ctx context.Context, repoID int64, since time.Time) ([]Query, error)
	Count(ctx context.Context, repoID int64) (int64, error)
}
