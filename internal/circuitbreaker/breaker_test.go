package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTripsAfterThreshold(t *testing.T) {
	b := New(WithTripAfter(3))

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, Closed, b.CurrentState())
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, Open, b.CurrentState())
	assert.False(t, b.Allow())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(WithTripAfter(2))

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	assert.Equal(t, Closed, b.CurrentState(), "non-consecutive failures do not trip")
}

func TestProbeAfterCooldown(t *testing.T) {
	b := New(WithTripAfter(1), WithCooldown(10*time.Second))
	now := time.Now()
	b.now = func() time.Time { return now }

	b.RecordFailure()
	require.Equal(t, Open, b.CurrentState())
	require.False(t, b.Allow())

	now = now.Add(11 * time.Second)
	assert.True(t, b.Allow(), "single probe after cooldown")
	assert.Equal(t, HalfOpen, b.CurrentState())
	assert.False(t, b.Allow(), "only one probe at a time")
}

func TestProbeSuccessCloses(t *testing.T) {
	b := New(WithTripAfter(1), WithCooldown(time.Nanosecond))
	b.RecordFailure()
	time.Sleep(time.Millisecond)
	require.True(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, Closed, b.CurrentState())
	assert.True(t, b.Allow())
}

func TestProbeFailureReopens(t *testing.T) {
	b := New(WithTripAfter(1), WithCooldown(10*time.Second))
	now := time.Now()
	b.now = func() time.Time { return now }

	b.RecordFailure()
	now = now.Add(11 * time.Second)
	require.True(t, b.Allow())
	require.Equal(t, HalfOpen, b.CurrentState())

	b.RecordFailure()
	assert.Equal(t, Open, b.CurrentState())
	assert.False(t, b.Allow(), "cooldown restarts after failed probe")
}

func TestOnChangeCallback(t *testing.T) {
	var transitions []string
	b := New(WithTripAfter(1), WithCooldown(time.Nanosecond), WithOnChange(func(from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}))

	b.RecordFailure()
	time.Sleep(time.Millisecond)
	b.Allow()
	b.RecordSuccess()

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}
