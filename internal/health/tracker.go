// Package health tracks per-provider availability from observed call results.
// Providers accumulate consecutive errors, degrade, and enter a cooldown
// during which the selection policies skip them.
package health

import (
	"sync"
	"time"
)

// State represents the health state of a provider.
type State string

const (
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateDown     State = "down"
)

// Stats captures runtime health metrics for a single provider.
type Stats struct {
	ProviderID    string    `json:"provider_id"`
	State         State     `json:"state"`
	TotalRequests int64     `json:"total_requests"`
	TotalErrors   int64     `json:"total_errors"`
	ConsecErrors  int       `json:"consec_errors"`
	AvgLatencyMs  float64   `json:"avg_latency_ms"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorTime time.Time `json:"last_error_time,omitempty"`
	LastSuccessAt time.Time `json:"last_success_at,omitempty"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

// TrackerConfig configures the health tracker thresholds.
type TrackerConfig struct {
	ConsecErrorsForDegraded int
	ConsecErrorsForDown     int
	CooldownDuration        time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ConsecErrorsForDegraded: 2,
		ConsecErrorsForDown:     5,
		CooldownDuration:        30 * time.Second,
	}
}

// Tracker tracks runtime health of all providers.
type Tracker struct {
	cfg           TrackerConfig
	onStateChange func(providerID string, from, to State)

	mu    sync.RWMutex
	stats map[string]*Stats

	// nowFunc is swapped in tests.
	nowFunc func() time.Time
}

// TrackerOption configures optional Tracker behaviour.
type TrackerOption func(*Tracker)

// WithOnStateChange registers a callback invoked on health state transitions.
func WithOnStateChange(fn func(providerID string, from, to State)) TrackerOption {
	return func(t *Tracker) {
		t.onStateChange = fn
	}
}

// NewTracker creates a health tracker with the given config.
func NewTracker(cfg TrackerConfig, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		cfg:     cfg,
		stats:   make(map[string]*Stats),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordSuccess records a successful request to a provider.
func (t *Tracker) RecordSuccess(providerID string, latencyMs float64) {
	t.mu.Lock()
	s := t.getOrCreate(providerID)
	old := s.State

	s.TotalRequests++
	s.ConsecErrors = 0
	s.LastSuccessAt = t.nowFunc()
	s.State = StateHealthy
	s.CooldownUntil = time.Time{}

	// Exponentially-weighted running average.
	if s.TotalRequests == 1 {
		s.AvgLatencyMs = latencyMs
	} else {
		s.AvgLatencyMs = s.AvgLatencyMs*0.9 + latencyMs*0.1
	}
	t.mu.Unlock()

	t.notify(providerID, old, StateHealthy)
}

// RecordError records a failed request to a provider.
func (t *Tracker) RecordError(providerID string, errMsg string) {
	t.mu.Lock()
	s := t.getOrCreate(providerID)
	old := s.State

	s.TotalRequests++
	s.TotalErrors++
	s.ConsecErrors++
	s.LastError = errMsg
	s.LastErrorTime = t.nowFunc()

	switch {
	case s.ConsecErrors >= t.cfg.ConsecErrorsForDown:
		s.State = StateDown
		s.CooldownUntil = t.nowFunc().Add(t.cfg.CooldownDuration)
	case s.ConsecErrors >= t.cfg.ConsecErrorsForDegraded:
		s.State = StateDegraded
	}
	newState := s.State
	t.mu.Unlock()

	t.notify(providerID, old, newState)
}

// IsAvailable reports whether a provider may receive traffic. Down providers
// become available again once their cooldown expires.
func (t *Tracker) IsAvailable(providerID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.stats[providerID]
	if !ok {
		return true // unknown providers get the benefit of the doubt
	}
	if s.State == StateDown {
		return t.nowFunc().After(s.CooldownUntil)
	}
	return true
}

// GetAvgLatencyMs returns the running average latency for a provider.
func (t *Tracker) GetAvgLatencyMs(providerID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.stats[providerID]; ok {
		return s.AvgLatencyMs
	}
	return 0
}

// GetErrorRate returns the lifetime error rate for a provider.
func (t *Tracker) GetErrorRate(providerID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.stats[providerID]
	if !ok || s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalErrors) / float64(s.TotalRequests)
}

// Snapshot returns a copy of all provider stats.
func (t *Tracker) Snapshot() []Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Stats, 0, len(t.stats))
	for _, s := range t.stats {
		out = append(out, *s)
	}
	return out
}

func (t *Tracker) getOrCreate(providerID string) *Stats {
	s, ok := t.stats[providerID]
	if !ok {
		s = &Stats{ProviderID: providerID, State: StateHealthy}
		t.stats[providerID] = s
	}
	return s
}

func (t *Tracker) notify(providerID string, from, to State) {
	if from != to && t.onStateChange != nil {
		t.onStateChange(providerID, from, to)
	}
}
