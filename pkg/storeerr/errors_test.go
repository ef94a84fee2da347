package storeerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryableClassification(t *testing.T) {
	assert.True(t, Retryable(New(KindTransient, errors.New("timeout"))))
	assert.True(t, Retryable(New(KindConnectionFailed, errors.New("reset"))))
	assert.True(t, Retryable(New(KindWriteError, errors.New("disk full"))))
	assert.False(t, Retryable(New(KindTransformationErr, errors.New("bad cast"))))
	assert.False(t, Retryable(errors.New("plain error")))
}

func TestKindOfUnwraps(t *testing.T) {
	base := Newf(KindNotFound, "task %s missing", "T1").WithTable("dbo.Orders")
	wrapped := errors.Join(base)
	kind, ok := KindOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, KindNotFound, kind)
	assert.Equal(t, "dbo.Orders", base.Table)
}

func TestIs(t *testing.T) {
	err := New(KindStopped, errors.New("user cancelled"))
	assert.True(t, Is(err, KindStopped))
	assert.False(t, Is(err, KindTransient))
}
