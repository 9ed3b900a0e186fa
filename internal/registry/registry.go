// Package registry owns the live model pool: adapter registration, model
// discovery, cost-metered dispatch with retries, and the selection policies
// that assign models to debate roles.
package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"context"

	"github.com/quorumlabs/quorum/internal/fault"
	"github.com/quorumlabs/quorum/internal/health"
	"github.com/quorumlabs/quorum/internal/metrics"
	"github.com/quorumlabs/quorum/internal/providers"
	"github.com/quorumlabs/quorum/internal/retry"
	"github.com/quorumlabs/quorum/internal/stats"
)

// Registry is the process-wide model pool. Adapters register once at startup;
// dispatch and selection are safe for concurrent use.
type Registry struct {
	log     *slog.Logger
	health  *health.Tracker
	stats   *stats.Collector
	metrics *metrics.Registry
	retry   retry.Policy

	mu       sync.RWMutex
	adapters map[string]providers.Adapter
	models   map[string]providers.ModelInfo // keyed by ref
}

func New(log *slog.Logger, tracker *health.Tracker, collector *stats.Collector, m *metrics.Registry) *Registry {
	return &Registry{
		log:      log,
		health:   tracker,
		stats:    collector,
		metrics:  m,
		retry:    retry.Default(),
		adapters: make(map[string]providers.Adapter),
		models:   make(map[string]providers.ModelInfo),
	}
}

// RegisterAdapter discovers the adapter's models and adds them to the pool.
func (r *Registry) RegisterAdapter(ctx context.Context, a providers.Adapter) error {
	models, err := a.ListModels(ctx)
	if err != nil {
		return a.ClassifyError(err)
	}
	r.mu.Lock()
	r.adapters[a.ID()] = a
	for _, m := range models {
		r.models[m.Ref] = m
	}
	r.mu.Unlock()
	r.log.Info("provider registered", "provider", a.ID(), "models", len(models))
	return nil
}

// RegisterModel adds a single model to the pool, for adapters whose catalog
// is assembled by the caller.
func (r *Registry) RegisterModel(a providers.Adapter, m providers.ModelInfo) {
	r.mu.Lock()
	r.adapters[a.ID()] = a
	r.models[m.Ref] = m
	r.mu.Unlock()
}

// Model looks up a model by reference.
func (r *Registry) Model(ref string) (providers.ModelInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[ref]
	return m, ok
}

// Models returns every registered model, sorted by reference.
func (r *Registry) Models() []providers.ModelInfo {
	r.mu.RLock()
	out := make([]providers.ModelInfo, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out
}

// Available returns the models whose provider is currently accepting traffic,
// sorted by reference.
func (r *Registry) Available() []providers.ModelInfo {
	all := r.Models()
	out := all[:0]
	for _, m := range all {
		if r.health.IsAvailable(m.ProviderID) {
			out = append(out, m)
		}
	}
	return out
}

// Adapter returns the adapter for a provider id.
func (r *Registry) Adapter(providerID string) (providers.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[providerID]
	return a, ok
}

// Health runs each adapter's health probe and returns the result per provider.
func (r *Registry) Health(ctx context.Context) map[string]bool {
	r.mu.RLock()
	adapters := make(map[string]providers.Adapter, len(r.adapters))
	for id, a := range r.adapters {
		adapters[id] = a
	}
	r.mu.RUnlock()

	out := make(map[string]bool, len(adapters))
	for id, a := range adapters {
		out[id] = a.Health(ctx)
	}
	return out
}

// Cost computes the USD cost of a call from its token usage at the model's
// per-million rates.
func Cost(m providers.ModelInfo, u providers.Usage) float64 {
	return float64(u.InputTokens)/1e6*m.InputPerMTok + float64(u.OutputTokens)/1e6*m.OutputPerMTok
}

// estimateCost is the worst-case cost of a request, used for the pre-dispatch
// budget check. Input is approximated at four characters per token; output at
// the request's max tokens, falling back to the model's output ceiling.
func estimateCost(m providers.ModelInfo, req providers.Request) float64 {
	chars := 0
	for _, msg := range req.Messages {
		chars += len(msg.Content)
	}
	inTokens := chars / 4
	outTokens := req.MaxTokens
	if outTokens <= 0 {
		outTokens = m.MaxOutput
	}
	return float64(inTokens)/1e6*m.InputPerMTok + float64(outTokens)/1e6*m.OutputPerMTok
}

// Budget meters spend for one thread. The hard limit is enforced before
// dispatch so a call that would cross it never reaches the provider.
type Budget struct {
	WarnUSD      float64
	HardLimitUSD float64

	mu     sync.Mutex
	spent  float64
	warned bool
}

func NewBudget(warnUSD, hardLimitUSD float64) *Budget {
	return &Budget{WarnUSD: warnUSD, HardLimitUSD: hardLimitUSD}
}

// Spent returns the USD total charged so far.
func (b *Budget) Spent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spent
}

// Charge records actual spend after a call completes. It reports whether the
// warn threshold was crossed by this charge (at most once per budget).
func (b *Budget) Charge(costUSD float64) (warned bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spent += costUSD
	if b.WarnUSD > 0 && !b.warned && b.spent >= b.WarnUSD {
		b.warned = true
		return true
	}
	return false
}

// check rejects a call whose worst-case cost would push spend past the hard
// limit. A zero hard limit disables enforcement.
func (b *Budget) check(estimate float64) error {
	if b == nil || b.HardLimitUSD <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.spent+estimate > b.HardLimitUSD {
		return fault.New(fault.KindCostLimit,
			"spent $%.4f of $%.2f limit, next call may cost $%.4f", b.spent, b.HardLimitUSD, estimate)
	}
	return nil
}

// Call dispatches a request to a model with retries, health tracking, cost
// metering and instrumentation. The role labels metrics and stats only.
func (r *Registry) Call(ctx context.Context, ref, role string, req providers.Request, budget *Budget) (*providers.Response, error) {
	m, ok := r.Model(ref)
	if !ok {
		return nil, fault.New(fault.KindModelNotFound, "model %s is not registered", ref)
	}
	a, ok := r.Adapter(m.ProviderID)
	if !ok {
		return nil, fault.New(fault.KindModelNotFound, "no adapter for provider %s", m.ProviderID)
	}
	if err := budget.check(estimateCost(m, req)); err != nil {
		return nil, err
	}

	var resp *providers.Response
	start := time.Now()
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = a.Send(ctx, m.Model, req)
		if callErr != nil {
			callErr = a.ClassifyError(callErr)
			r.health.RecordError(m.ProviderID, callErr.Error())
			return callErr
		}
		r.health.RecordSuccess(m.ProviderID, resp.LatencyMs)
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		r.record(m, role, 0, float64(elapsed.Milliseconds()), providers.Usage{}, false)
		r.log.Warn("provider call failed",
			"model", ref, "role", role, "kind", string(fault.KindOf(err)), "error", err.Error())
		return nil, err
	}

	cost := Cost(m, resp.Usage)
	if budget != nil && budget.Charge(cost) {
		r.log.Warn("cost warn threshold crossed",
			"spent_usd", budget.Spent(), "warn_usd", budget.WarnUSD)
	}
	r.record(m, role, cost, resp.LatencyMs, resp.Usage, true)
	return resp, nil
}

// Stream dispatches a streaming request. Streamed calls are not retried;
// partial output cannot be rewound. Cost is charged by the caller once the
// final usage chunk arrives.
func (r *Registry) Stream(ctx context.Context, ref string, req providers.Request, budget *Budget) (<-chan providers.Chunk, providers.ModelInfo, error) {
	m, ok := r.Model(ref)
	if !ok {
		return nil, m, fault.New(fault.KindModelNotFound, "model %s is not registered", ref)
	}
	a, ok := r.Adapter(m.ProviderID)
	if !ok {
		return nil, m, fault.New(fault.KindModelNotFound, "no adapter for provider %s", m.ProviderID)
	}
	if err := budget.check(estimateCost(m, req)); err != nil {
		return nil, m, err
	}
	ch, err := a.Stream(ctx, m.Model, req)
	if err != nil {
		err = a.ClassifyError(err)
		r.health.RecordError(m.ProviderID, err.Error())
		return nil, m, err
	}
	return ch, m, nil
}

func (r *Registry) record(m providers.ModelInfo, role string, cost, latencyMs float64, u providers.Usage, success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	if r.metrics != nil {
		r.metrics.ProviderRequests.WithLabelValues(m.Ref, m.ProviderID, role, status).Inc()
		r.metrics.ProviderLatency.WithLabelValues(m.Ref, m.ProviderID).Observe(latencyMs)
		if cost > 0 {
			r.metrics.CostUSD.WithLabelValues(m.Ref, m.ProviderID).Add(cost)
		}
	}
	if r.stats != nil {
		r.stats.Record(stats.Snapshot{
			ModelRef:     m.Ref,
			ProviderID:   m.ProviderID,
			Role:         role,
			LatencyMs:    latencyMs,
			CostUSD:      cost,
			Success:      success,
			InputTokens:  u.InputTokens,
			OutputTokens: u.OutputTokens,
		})
	}
}
