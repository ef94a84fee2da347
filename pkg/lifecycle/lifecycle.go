// Package lifecycle implements the Lifecycle Controller (C7, spec §4.7):
// the only component permitted to mutate a Task's status, and the owner
// of the per-task cancellation tokens that stop(), and the pause gates
// that pause()/resume(), rely on.
//
// Grounded on the teacher's pkg/migration/runner.go Run method, which
// derives its own context.WithCancel from the caller's context and defers
// its cancel — generalised here from one migration's single cancel
// function to a map of per-task tokens, since many tasks run concurrently.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/dtaas-io/engine/pkg/model"
	"github.com/dtaas-io/engine/pkg/storeerr"
)

// TaskStore is the narrow slice of pkg/store.Store the controller needs:
// read a task's current definition and status, and persist a status
// transition. pkg/store's MySQL-backed Store satisfies this directly.
type TaskStore interface {
	GetTask(ctx context.Context, taskID int64) (*model.Task, error)
	SetStatus(ctx context.Context, taskID int64, status model.TaskStatus, lastRunAt *time.Time) error
}

// Dispatch runs one task to completion (or until ctx is cancelled),
// choosing the full_load/cdc/full_load_then_cdc composition itself (spec
// §4.6). It must call gate.Park at every suspension point named in
// spec §5 so Pause can take effect, and must observe ctx.Done() to honor
// Stop.
type Dispatch func(ctx context.Context, task *model.Task, gate *PauseGate)

// PauseGate is a cooperative parking point: Park blocks while the gate is
// paused and returns when Resume is called or ctx is cancelled, whichever
// comes first.
type PauseGate struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

// NewPauseGate returns an initially-unpaused gate.
func NewPauseGate() *PauseGate {
	return &PauseGate{}
}

// Park blocks the caller while the gate is paused.
func (g *PauseGate) Park(ctx context.Context) error {
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()
		return nil
	}
	ch := g.resume
	g.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pause marks the gate paused; subsequent Park calls block until Resume.
func (g *PauseGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return
	}
	g.paused = true
	g.resume = make(chan struct{})
}

// Resume releases any parked callers and clears the paused flag. Safe to
// call when not paused.
func (g *PauseGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	close(g.resume)
}

// IsPaused reports the gate's current state.
func (g *PauseGate) IsPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Controller is the Lifecycle Controller. It is safe for concurrent use
// across many tasks; operations on distinct task IDs never block each
// other.
type Controller struct {
	Store    TaskStore
	Dispatch Dispatch

	mu     sync.Mutex
	tokens map[int64]context.CancelFunc
	gates  map[int64]*PauseGate
}

// New constructs a Controller.
func New(store TaskStore, dispatch Dispatch) *Controller {
	return &Controller{
		Store:    store,
		Dispatch: dispatch,
		tokens:   make(map[int64]context.CancelFunc),
		gates:    make(map[int64]*PauseGate),
	}
}

// Start begins running a task per spec §4.7: a no-op if it is already
// running (spec §8 testable property 10: idempotent start), and resets a
// stopped task back to running (by way of created) otherwise.
func (c *Controller) Start(ctx context.Context, taskID int64) error {
	task, err := c.Store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status == model.StatusRunning {
		return nil
	}
	if task.Status == model.StatusPaused {
		// The dispatcher and its gate/token are still alive, parked on
		// the existing PauseGate — Start must not overwrite them with a
		// second concurrent dispatch. Route through Resume instead.
		return c.Resume(ctx, taskID)
	}
	if task.Status == model.StatusStopped {
		if err := c.Store.SetStatus(ctx, taskID, model.StatusCreated, nil); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	gate := NewPauseGate()
	c.mu.Lock()
	c.tokens[taskID] = cancel
	c.gates[taskID] = gate
	c.mu.Unlock()

	now := time.Now()
	if err := c.Store.SetStatus(ctx, taskID, model.StatusRunning, &now); err != nil {
		cancel()
		c.forget(taskID)
		return err
	}

	go c.Dispatch(runCtx, task, gate)
	return nil
}

// Stop cancels the task's dispatch via its cancellation token and marks
// it stopped. The dispatcher is expected to let any in-flight batch write
// finish before observing the cancellation (spec §4.6), so Stop itself
// does not block on that happening.
func (c *Controller) Stop(ctx context.Context, taskID int64) error {
	c.mu.Lock()
	cancel, hadToken := c.tokens[taskID]
	gate := c.gates[taskID]
	c.mu.Unlock()
	c.forget(taskID)

	if hadToken {
		cancel()
	}
	if gate != nil {
		// Unpark a paused task so it observes the cancellation promptly
		// instead of waiting indefinitely for a resume that will never come.
		gate.Resume()
	}
	return c.Store.SetStatus(ctx, taskID, model.StatusStopped, nil)
}

// Pause parks the task's dispatcher at its next suspension point; no new
// batches or CDC polls are started until Resume.
func (c *Controller) Pause(ctx context.Context, taskID int64) error {
	c.mu.Lock()
	gate, ok := c.gates[taskID]
	c.mu.Unlock()
	if !ok {
		return storeerr.Newf(storeerr.KindInvariantViolation, "task %d is not running", taskID)
	}
	gate.Pause()
	return c.Store.SetStatus(ctx, taskID, model.StatusPaused, nil)
}

// Resume releases a paused task's gate and marks it running again. No-op
// if the task is not currently paused.
func (c *Controller) Resume(ctx context.Context, taskID int64) error {
	task, err := c.Store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != model.StatusPaused {
		return nil
	}
	c.mu.Lock()
	gate := c.gates[taskID]
	c.mu.Unlock()
	if gate != nil {
		gate.Resume()
	}
	return c.Store.SetStatus(ctx, taskID, model.StatusRunning, nil)
}

// MarkFinished records a task's terminal status (completed or failed) once
// its dispatcher has run to completion on its own — e.g. an on_demand
// full_load that finished rather than one a caller stopped. It clears the
// task's cancellation token and pause gate the same way Stop does, so
// Controller remains the only caller of TaskStore.SetStatus.
func (c *Controller) MarkFinished(ctx context.Context, taskID int64, status model.TaskStatus) error {
	c.forget(taskID)
	return c.Store.SetStatus(ctx, taskID, status, nil)
}

func (c *Controller) forget(taskID int64) {
	c.mu.Lock()
	delete(c.tokens, taskID)
	delete(c.gates, taskID)
	c.mu.Unlock()
}
