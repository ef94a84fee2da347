package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dtaas-io/engine/pkg/storeerr"
)

// taskLock holds a per-(taskID, table) advisory lock for the lifetime of
// one CDC poll's read-modify-write span (spec §5: LoadCursor, ReadCDC,
// transform, Write, SaveCursor must not interleave with another poller of
// the same table). Adapted from the teacher's pkg/dbconn/metadatalock.go
// GET_LOCK pattern: MySQL's GET_LOCK is connection-scoped, so the lock is
// held on a single dedicated *sql.Conn for the duration of the caller's
// critical section, not refreshed in the background — a taskLock's holder
// is expected to release it within one CDC poll, unlike the teacher's
// lock which is held for an entire migration's runtime.
type taskLock struct {
	conn *sql.Conn
	name string
}

// Lock implements pipeline.CursorStore. It blocks (bounded by ctx) until
// it obtains the named advisory lock, scoped per (taskID, table) so
// distinct tables of the same task never contend, and returns an unlock
// function the caller must invoke exactly once.
func (s *MySQLStore) Lock(ctx context.Context, taskID int64, table string) (func(context.Context), error) {
	name := lockName(taskID, table)
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, storeerr.New(storeerr.KindConnectionFailed, err)
	}

	var answer sql.NullInt64
	// A 30s timeout keeps a stuck holder (e.g. a worker that crashed mid
	// write) from wedging every future poll for this table indefinitely.
	if err := conn.QueryRowContext(ctx, `SELECT GET_LOCK(?, 30)`, name).Scan(&answer); err != nil {
		conn.Close()
		return nil, storeerr.New(storeerr.KindConnectionFailed, err)
	}
	if !answer.Valid || answer.Int64 != 1 {
		conn.Close()
		return nil, storeerr.Newf(storeerr.KindTransient, "could not acquire task lock %q", name)
	}
	l := &taskLock{conn: conn, name: name}
	return l.release, nil
}

// release frees the advisory lock and returns the dedicated connection to
// the pool. Errors are swallowed (matching the caller's defer-unlock
// usage) since the connection is closed regardless and the lock itself
// expires with it.
func (l *taskLock) release(ctx context.Context) {
	defer l.conn.Close()
	_, _ = l.conn.ExecContext(ctx, `SELECT RELEASE_LOCK(?)`, l.name)
}

func lockName(taskID int64, table string) string {
	name := fmt.Sprintf("dtaas_cursor_%d_%s", taskID, table)
	if len(name) > 64 {
		name = name[:64] // MySQL advisory lock names are capped at 64 bytes
	}
	return name
}
