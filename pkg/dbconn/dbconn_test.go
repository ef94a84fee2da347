package dbconn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJitterIsWithinRange(t *testing.T) {
	base := time.Second
	for i := 0; i < 100; i++ {
		d := jitter(base)
		assert.GreaterOrEqual(t, d, base)
		assert.Less(t, d, base+base/2)
	}
}

func TestConnectWithRetryFailsOnBadDriver(t *testing.T) {
	cfg := NewConfig()
	cfg.MaxAttempts = 2
	cfg.InitialBackoff = time.Millisecond
	_, err := ConnectWithRetry(t.Context(), "nonexistent-driver", "dsn", cfg, nil)
	assert.Error(t, err)
}
