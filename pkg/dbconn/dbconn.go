// Package dbconn contains connection-pooling and retry utilities shared by
// every source/destination adapter and the control-plane store. Adapted
// from the teacher's pkg/dbconn, generalized from a single MySQL dialect to
// any database/sql driver.
package dbconn

import (
	"context"
	"database/sql"
	"math/rand"
	"time"

	"github.com/siddontang/loggers"
)

// Config controls connection pooling and retry behavior.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// Connect retry policy (spec §4.1): jittered exponential backoff,
	// initial 1s, factor 2, capped at MaxAttempts attempts.
	InitialBackoff time.Duration
	BackoffFactor  float64
	MaxAttempts    int

	// ConnectTimeout bounds a single connection attempt (spec §5: 60s).
	ConnectTimeout time.Duration
}

// NewConfig returns the default pooling/retry configuration.
func NewConfig() *Config {
	return &Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 3 * time.Minute,
		InitialBackoff:  time.Second,
		BackoffFactor:   2,
		MaxAttempts:     5,
		ConnectTimeout:  60 * time.Second,
	}
}

// ConnectWithRetry opens a *sql.DB and pings it, retrying transient
// failures with jittered exponential backoff to avoid a thundering herd of
// reconnecting workers (spec §4.1). A connection attempt is bounded by
// cfg.ConnectTimeout.
func ConnectWithRetry(ctx context.Context, driverName, dsn string, cfg *Config, logger loggers.Advanced) (*sql.DB, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	var lastErr error
	backoff := cfg.InitialBackoff
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		db, err := sql.Open(driverName, dsn)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
			err = db.PingContext(pingCtx)
			cancel()
			if err == nil {
				db.SetMaxOpenConns(cfg.MaxOpenConns)
				db.SetMaxIdleConns(cfg.MaxIdleConns)
				db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
				return db, nil
			}
			_ = db.Close()
		}
		lastErr = err
		if logger != nil {
			logger.Warnf("connect attempt %d/%d to %s failed: %v", attempt, cfg.MaxAttempts, driverName, err)
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(jitter(backoff)):
		}
		backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
	}
	return nil, lastErr
}

// jitter returns d scaled by a random factor in [1.0, 1.5), i.e. 0-50%
// jitter added on top of the base delay (spec §4.1).
func jitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Float64()*0.5*float64(d))
}
