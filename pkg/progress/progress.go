// Package progress defines the ProgressSink interface (spec §9:
// "ambient progress callback via captured closure" replaced by "explicit
// ProgressSink interface passed to each worker") and an in-memory
// coalescing implementation suitable for the WebSocket broadcast named in
// spec §6 (at most once per second per running task).
package progress

import (
	"sync"
	"time"

	"github.com/siddontang/loggers"

	"github.com/dtaas-io/engine/pkg/model"
)

// TableSnapshot is one table's progress at a point in time, matching the
// wire shape in spec §6.
type TableSnapshot struct {
	Table           string
	Status          model.ExecutionStatus
	TotalRows       uint64
	ProcessedRows   uint64
	FailedRows      uint64
	ProgressPercent float64
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// TaskSnapshot is a full progress broadcast for one task.
type TaskSnapshot struct {
	TaskID   int64
	Name     string
	Status   model.TaskStatus
	Progress float64
	Tables   []TableSnapshot
}

// Sink receives progress updates and resolution warnings from every
// pipeline worker. Implementations must be safe for concurrent use (spec
// §5: many workers may report progress for the same task concurrently).
type Sink interface {
	// ReportTable is called after every batch; a coalescing Sink is
	// expected to rate-limit its downstream broadcast, not drop the
	// underlying state update.
	ReportTable(taskID int64, snapshot TableSnapshot)
	// Warnf surfaces a non-fatal condition, e.g. a variable resolution
	// fallback to "unknown" (spec §4.3).
	Warnf(format string, args ...any)
}

// memSink is an in-memory Sink that coalesces broadcasts to at most once
// per second per task, while always keeping the latest snapshot available
// via Snapshot.
type memSink struct {
	mu        sync.Mutex
	tables    map[int64]map[string]TableSnapshot
	lastSent  map[int64]time.Time
	broadcast func(TaskSnapshot)
	nowFn     func() time.Time
	logger    loggers.Advanced
}

// NewMemSink constructs a coalescing in-memory Sink. broadcast is invoked
// at most once per second per task with the merged snapshot; pass nil to
// disable broadcasting and only retain state for Snapshot. Warnf is
// written through logger at Warn level; pass nil to drop warnings (not
// recommended — see spec §4.3's "a warning is surfaced via the progress
// sink").
func NewMemSink(broadcast func(TaskSnapshot), logger loggers.Advanced) *memSink {
	return &memSink{
		tables:    make(map[int64]map[string]TableSnapshot),
		lastSent:  make(map[int64]time.Time),
		broadcast: broadcast,
		nowFn:     time.Now,
		logger:    logger,
	}
}

func (m *memSink) ReportTable(taskID int64, snapshot TableSnapshot) {
	m.mu.Lock()
	if m.tables[taskID] == nil {
		m.tables[taskID] = make(map[string]TableSnapshot)
	}
	m.tables[taskID][snapshot.Table] = snapshot
	due := m.broadcast != nil && m.nowFn().Sub(m.lastSent[taskID]) >= time.Second
	var out TaskSnapshot
	if due {
		out = m.snapshotLocked(taskID)
		m.lastSent[taskID] = m.nowFn()
	}
	m.mu.Unlock()
	if due {
		m.broadcast(out)
	}
}

func (m *memSink) Warnf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Warnf(format, args...)
	}
}

// Snapshot returns the latest merged view for a task regardless of the
// coalescing window, for GET /tasks/{id}/detail (spec §6).
func (m *memSink) Snapshot(taskID int64) TaskSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(taskID)
}

func (m *memSink) snapshotLocked(taskID int64) TaskSnapshot {
	out := TaskSnapshot{TaskID: taskID}
	for _, t := range m.tables[taskID] {
		out.Tables = append(out.Tables, t)
	}
	return out
}
