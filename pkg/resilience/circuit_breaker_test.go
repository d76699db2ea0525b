package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 2, OpenTimeout: time.Hour, HalfOpenMax: 1})
	boom := errors.New("boom")

	err := b.Execute(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateClosed, b.StateNow())

	err = b.Execute(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateOpen, b.StateNow())

	err = b.Execute(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	b := New(Config{FailureThreshold: 1, OpenTimeout: time.Millisecond, HalfOpenMax: 1})
	boom := errors.New("boom")

	err := b.Execute(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateOpen, b.StateNow())

	time.Sleep(2 * time.Millisecond)

	err = b.Execute(context.Background(), func(context.Context) error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, b.StateNow())
}

func TestCircuitBreakerHalfOpenReopensOnFailure(t *testing.T) {
	b := New(Config{FailureThreshold: 1, OpenTimeout: time.Millisecond, HalfOpenMax: 1})
	boom := errors.New("boom")

	_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	time.Sleep(2 * time.Millisecond)

	err := b.Execute(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateOpen, b.StateNow())
}

func TestNewAppliesDefaultsForZeroValues(t *testing.T) {
	b := New(Config{})
	assert.Equal(t, 5, b.cfg.FailureThreshold)
	assert.Equal(t, 30*time.Second, b.cfg.OpenTimeout)
	assert.Equal(t, 1, b.cfg.HalfOpenMax)
}
