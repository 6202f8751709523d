// Package taskmgr runs background tasks one at a time and fans progress
// events out to subscribers. Indexing and sync are serial writers by
// contract, so the manager holds a single slot: submissions while a task
// runs fail with Conflict.
package taskmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/indiseek/indiseek/domain/task"
	"github.com/indiseek/indiseek/internal/apperr"
)

const (
	// eventRingSize bounds the per-task event history.
	eventRingSize = 256
	// subscriberBuffer is the per-subscriber channel depth. A subscriber
	// that falls this far behind is dropped.
	subscriberBuffer = 64
)

// Func is the body of a background task. It reports progress through the
// callback and returns the task result payload.
type Func func(ctx context.Context, progress func(task.ProgressEvent)) (map[string]any, error)

// Manager is the single-slot background executor. Task history is kept in
// memory for the process lifetime.
type Manager struct {
	logger *slog.Logger

	mu      sync.Mutex
	running *record
	tasks   map[string]*record
	order   []string
}

// NewManager creates a Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger: logger,
		tasks:  make(map[string]*record),
	}
}

// Submit schedules fn under the given name and returns the task id.
// It fails with Conflict while another task is running; the decision and
// the slot claim happen under one lock, so concurrent submissions are
// serialized and exactly one wins.
func (m *Manager) Submit(name string, fn Func) (string, error) {
	m.mu.Lock()
	if m.running != nil {
		runningName := m.running.name
		m.mu.Unlock()
		return "", apperr.Conflict("task %s is already running", runningName)
	}

	rec := newRecord(name)
	m.running = rec
	m.tasks[rec.id] = rec
	m.order = append(m.order, rec.id)
	m.mu.Unlock()

	go m.run(rec, fn)
	return rec.id, nil
}

// Get returns a snapshot of the task.
func (m *Manager) Get(id string) (task.Snapshot, error) {
	m.mu.Lock()
	rec, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return task.Snapshot{}, apperr.NotFound("task %s", id)
	}
	return rec.snapshot(), nil
}

// List returns snapshots of all tasks, newest first.
func (m *Manager) List() []task.Snapshot {
	m.mu.Lock()
	ids := make([]string, len(m.order))
	copy(ids, m.order)
	tasks := m.tasks
	m.mu.Unlock()

	out := make([]task.Snapshot, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, tasks[ids[i]].snapshot())
	}
	return out
}

// Subscribe returns a channel of the task's events, starting with a replay
// of everything retained so far. The channel closes after the terminal
// event, or immediately after replay when the task already finished.
// cancel unregisters the subscriber; calling it after close is fine.
func (m *Manager) Subscribe(id string) (<-chan task.ProgressEvent, func(), error) {
	m.mu.Lock()
	rec, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return nil, nil, apperr.NotFound("task %s", id)
	}

	ch := rec.subscribe()
	cancel := func() { rec.unsubscribe(ch) }
	return ch, cancel, nil
}

func (m *Manager) run(rec *record, fn Func) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("task panicked", "task_id", rec.id, "name", rec.name, "panic", r)
			rec.finish(nil, fmt.Errorf("panic: %v", r))
		}
		m.mu.Lock()
		m.running = nil
		m.mu.Unlock()
	}()

	m.logger.Info("task started", "task_id", rec.id, "name", rec.name)
	rec.start()

	result, err := fn(context.Background(), rec.publish)
	rec.finish(result, err)

	if err != nil {
		m.logger.Error("task failed", "task_id", rec.id, "name", rec.name, "error", err)
	} else {
		m.logger.Info("task completed", "task_id", rec.id, "name", rec.name)
	}
}

// record is the mutable state of one task.
type record struct {
	id        string
	name      string
	createdAt time.Time

	mu          sync.Mutex
	status      task.Status
	result      map[string]any
	err         string
	startedAt   *time.Time
	finishedAt  *time.Time
	events      []task.ProgressEvent
	subscribers map[chan task.ProgressEvent]bool
	done        bool
}

func newRecord(name string) *record {
	return &record{
		id:          uuid.NewString(),
		name:        name,
		createdAt:   time.Now().UTC(),
		status:      task.StatusPending,
		subscribers: make(map[chan task.ProgressEvent]bool),
	}
}

func (r *record) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	r.status = task.StatusRunning
	r.startedAt = &now
}

// finish records the outcome and emits the terminal event. Safe to call
// twice; only the first call wins (panic recovery may race a late finish).
func (r *record) finish(result map[string]any, err error) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.done = true
	now := time.Now().UTC()
	r.finishedAt = &now

	var terminal task.ProgressEvent
	if err != nil {
		r.status = task.StatusFailed
		r.err = err.Error()
		terminal = task.Errored(err.Error())
	} else {
		r.status = task.StatusCompleted
		r.result = result
		terminal = task.Done(result)
	}
	r.mu.Unlock()

	r.publish(terminal)

	r.mu.Lock()
	for ch := range r.subscribers {
		close(ch)
	}
	r.subscribers = make(map[chan task.ProgressEvent]bool)
	r.mu.Unlock()
}

// publish appends the event to the bounded ring and fans it out. A full
// subscriber channel means the consumer stopped reading; it is dropped
// rather than blocking the task.
func (r *record) publish(event task.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
	if len(r.events) > eventRingSize {
		r.events = r.events[len(r.events)-eventRingSize:]
	}

	for ch := range r.subscribers {
		select {
		case ch <- event:
		default:
			delete(r.subscribers, ch)
			close(ch)
		}
	}
}

func (r *record) subscribe() chan task.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Replay fits: the buffer is sized for the full ring.
	ch := make(chan task.ProgressEvent, eventRingSize+subscriberBuffer)
	for _, event := range r.events {
		ch <- event
	}
	if r.done {
		close(ch)
		return ch
	}
	r.subscribers[ch] = true
	return ch
}

func (r *record) unsubscribe(ch chan task.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subscribers[ch] {
		delete(r.subscribers, ch)
		close(ch)
	}
}

func (r *record) snapshot() task.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make([]task.ProgressEvent, len(r.events))
	copy(events, r.events)

	return task.Snapshot{
		ID:         r.id,
		Name:       r.name,
		Status:     r.status,
		Result:     r.result,
		Error:      r.err,
		CreatedAt:  r.createdAt,
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
		Events:     events,
	}
}
