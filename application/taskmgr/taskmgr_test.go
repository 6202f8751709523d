package taskmgr_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indiseek/indiseek/application/taskmgr"
	"github.com/indiseek/indiseek/domain/task"
	"github.com/indiseek/indiseek/internal/apperr"
)

// drain collects events until the channel closes or the timeout fires.
func drain(t *testing.T, ch <-chan task.ProgressEvent) []task.ProgressEvent {
	t.Helper()
	var events []task.ProgressEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, event)
		case <-timeout:
			t.Fatal("timed out waiting for task events")
		}
	}
}

func TestManager_RunsTaskToCompletion(t *testing.T) {
	m := taskmgr.NewManager(nil)

	id, err := m.Submit("embed", func(ctx context.Context, progress func(task.ProgressEvent)) (map[string]any, error) {
		progress(task.Progress("embed", 1, 2, "batch 1"))
		progress(task.Progress("embed", 2, 2, "batch 2"))
		return map[string]any{"embedded": 64}, nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	ch, cancel, err := m.Subscribe(id)
	require.NoError(t, err)
	defer cancel()

	events := drain(t, ch)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, task.EventDone, last.Type)
	assert.EqualValues(t, 64, last.Result["embedded"])

	snap, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, snap.Status)
	assert.EqualValues(t, 64, snap.Result["embedded"])
	assert.NotNil(t, snap.FinishedAt)
}

func TestManager_SingleSlot(t *testing.T) {
	m := taskmgr.NewManager(nil)
	release := make(chan struct{})

	first, err := m.Submit("index", func(ctx context.Context, progress func(task.ProgressEvent)) (map[string]any, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	_, err = m.Submit("sync", func(ctx context.Context, progress func(task.ProgressEvent)) (map[string]any, error) {
		return nil, nil
	})
	require.True(t, apperr.IsConflict(err))

	close(release)
	require.Eventually(t, func() bool {
		snap, err := m.Get(first)
		return err == nil && snap.Status == task.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	// The slot frees up once the task finishes.
	second, err := m.Submit("sync", func(ctx context.Context, progress func(task.ProgressEvent)) (map[string]any, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestManager_FailedTask(t *testing.T) {
	m := taskmgr.NewManager(nil)

	id, err := m.Submit("parse", func(ctx context.Context, progress func(task.ProgressEvent)) (map[string]any, error) {
		return nil, fmt.Errorf("clone target missing")
	})
	require.NoError(t, err)

	ch, cancel, err := m.Subscribe(id)
	require.NoError(t, err)
	defer cancel()

	events := drain(t, ch)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, task.EventError, last.Type)
	assert.Contains(t, last.Error, "clone target missing")

	snap, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, snap.Status)
	assert.Contains(t, snap.Error, "clone target missing")
}

func TestManager_PanicBecomesFailure(t *testing.T) {
	m := taskmgr.NewManager(nil)

	id, err := m.Submit("summarize", func(ctx context.Context, progress func(task.ProgressEvent)) (map[string]any, error) {
		panic("boom")
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := m.Get(id)
		return err == nil && snap.Status == task.StatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	snap, _ := m.Get(id)
	assert.Contains(t, snap.Error, "boom")

	// The slot is released even after a panic.
	_, err = m.Submit("next", func(ctx context.Context, progress func(task.ProgressEvent)) (map[string]any, error) {
		return nil, nil
	})
	require.NoError(t, err)
}

func TestManager_SubscribeAfterCompletionReplays(t *testing.T) {
	m := taskmgr.NewManager(nil)

	id, err := m.Submit("lexical", func(ctx context.Context, progress func(task.ProgressEvent)) (map[string]any, error) {
		progress(task.Progress("lexical", 1, 1, "rebuild"))
		return map[string]any{"docs": 3}, nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := m.Get(id)
		return err == nil && snap.Status == task.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	ch, cancel, err := m.Subscribe(id)
	require.NoError(t, err)
	defer cancel()

	events := drain(t, ch)
	require.Len(t, events, 2)
	assert.Equal(t, task.EventProgress, events[0].Type)
	assert.Equal(t, task.EventDone, events[1].Type)
}

func TestManager_EventRingIsBounded(t *testing.T) {
	m := taskmgr.NewManager(nil)

	id, err := m.Submit("parse", func(ctx context.Context, progress func(task.ProgressEvent)) (map[string]any, error) {
		for i := 0; i < 500; i++ {
			progress(task.Progress("parse", i+1, 500, fmt.Sprintf("file-%d", i)))
		}
		return nil, nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := m.Get(id)
		return err == nil && snap.Status == task.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	snap, _ := m.Get(id)
	assert.Len(t, snap.Events, 256)
	// The ring keeps the newest events; the terminal event is last.
	assert.Equal(t, task.EventDone, snap.Events[255].Type)
	assert.Equal(t, 500, snap.Events[254].Current)
}

func TestManager_ListNewestFirst(t *testing.T) {
	m := taskmgr.NewManager(nil)

	var ids []string
	for _, name := range []string{"a", "b", "c"} {
		id, err := m.Submit(name, func(ctx context.Context, progress func(task.ProgressEvent)) (map[string]any, error) {
			return nil, nil
		})
		require.NoError(t, err)
		ids = append(ids, id)

		require.Eventually(t, func() bool {
			snap, err := m.Get(id)
			return err == nil && snap.Status == task.StatusCompleted
		}, 5*time.Second, 10*time.Millisecond)
	}

	list := m.List()
	require.Len(t, list, 3)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[0], list[2].ID)
}

func TestManager_GetUnknownTask(t *testing.T) {
	m := taskmgr.NewManager(nil)

	_, err := m.Get("nope")
	assert.True(t, apperr.IsNotFound(err))

	_, _, err = m.Subscribe("nope")
	assert.True(t, apperr.IsNotFound(err))
}
