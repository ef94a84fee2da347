package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtaas-io/engine/pkg/model"
)

type memStore struct {
	mu   sync.Mutex
	task *model.Task
}

func (s *memStore) GetTask(context.Context, int64) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := *s.task
	return &t, nil
}

func (s *memStore) SetStatus(_ context.Context, _ int64, status model.TaskStatus, lastRunAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.task.Status = status
	if lastRunAt != nil {
		s.task.LastRunAt = lastRunAt
	}
	return nil
}

func (s *memStore) status() model.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task.Status
}

func TestStartDispatchesAndMarksRunning(t *testing.T) {
	store := &memStore{task: &model.Task{ID: 1, Status: model.StatusCreated}}
	started := make(chan struct{})
	ctrl := New(store, func(ctx context.Context, task *model.Task, gate *PauseGate) {
		close(started)
		<-ctx.Done()
	})

	require.NoError(t, ctrl.Start(context.Background(), 1))
	<-started
	assert.Equal(t, model.StatusRunning, store.status())
}

func TestStartIsIdempotentWhenAlreadyRunning(t *testing.T) {
	store := &memStore{task: &model.Task{ID: 1, Status: model.StatusRunning}}
	calls := 0
	ctrl := New(store, func(ctx context.Context, task *model.Task, gate *PauseGate) { calls++ })

	require.NoError(t, ctrl.Start(context.Background(), 1))
	assert.Equal(t, 0, calls)
}

func TestStopCancelsDispatchContext(t *testing.T) {
	store := &memStore{task: &model.Task{ID: 1, Status: model.StatusCreated}}
	cancelled := make(chan struct{})
	ctrl := New(store, func(ctx context.Context, task *model.Task, gate *PauseGate) {
		<-ctx.Done()
		close(cancelled)
	})
	require.NoError(t, ctrl.Start(context.Background(), 1))

	require.NoError(t, ctrl.Stop(context.Background(), 1))
	<-cancelled
	assert.Equal(t, model.StatusStopped, store.status())
}

func TestPauseParksDispatcherUntilResume(t *testing.T) {
	store := &memStore{task: &model.Task{ID: 1, Status: model.StatusCreated}}
	progressed := make(chan int, 10)
	proceed := make(chan struct{})
	ctrl := New(store, func(ctx context.Context, task *model.Task, gate *PauseGate) {
		for i := 0; i < 2; i++ {
			if err := gate.Park(ctx); err != nil {
				return
			}
			progressed <- i
			select {
			case <-proceed:
			case <-ctx.Done():
				return
			}
		}
	})
	require.NoError(t, ctrl.Start(context.Background(), 1))
	<-progressed // iteration 0 happened before any pause; dispatcher now awaits proceed

	require.NoError(t, ctrl.Pause(context.Background(), 1))
	assert.Equal(t, model.StatusPaused, store.status())
	proceed <- struct{}{} // let the dispatcher loop back around to Park, which now blocks

	select {
	case <-progressed:
		t.Fatal("dispatcher progressed while paused")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, ctrl.Resume(context.Background(), 1))
	assert.Equal(t, model.StatusRunning, store.status())
	<-progressed
}

func TestResumeIsNoOpWhenNotPaused(t *testing.T) {
	store := &memStore{task: &model.Task{ID: 1, Status: model.StatusRunning}}
	ctrl := New(store, func(context.Context, *model.Task, *PauseGate) {})

	require.NoError(t, ctrl.Resume(context.Background(), 1))
	assert.Equal(t, model.StatusRunning, store.status())
}

func TestPauseOnUnstartedTaskFails(t *testing.T) {
	store := &memStore{task: &model.Task{ID: 1, Status: model.StatusCreated}}
	ctrl := New(store, func(context.Context, *model.Task, *PauseGate) {})

	err := ctrl.Pause(context.Background(), 1)
	assert.Error(t, err)
}

// TestStartOnPausedTaskResumesInstead guards against Start overwriting a
// paused task's live gate/token and spawning a second concurrent
// dispatcher for the same task.
func TestStartOnPausedTaskResumesInstead(t *testing.T) {
	store := &memStore{task: &model.Task{ID: 1, Status: model.StatusCreated}}
	dispatches := 0
	progressed := make(chan int, 10)
	proceed := make(chan struct{})
	ctrl := New(store, func(ctx context.Context, task *model.Task, gate *PauseGate) {
		dispatches++
		for i := 0; i < 2; i++ {
			if err := gate.Park(ctx); err != nil {
				return
			}
			progressed <- i
			select {
			case <-proceed:
			case <-ctx.Done():
				return
			}
		}
	})
	require.NoError(t, ctrl.Start(context.Background(), 1))
	<-progressed // iteration 0 happened before any pause; dispatcher now awaits proceed

	require.NoError(t, ctrl.Pause(context.Background(), 1))
	assert.Equal(t, model.StatusPaused, store.status())
	proceed <- struct{}{} // let the dispatcher loop back around to Park, which now blocks

	require.NoError(t, ctrl.Start(context.Background(), 1))
	assert.Equal(t, model.StatusRunning, store.status())
	<-progressed // iteration 1, unblocked by Start routing through Resume

	assert.Equal(t, 1, dispatches, "Start on a paused task must not spawn a second dispatcher")
}
