package temporal

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"

	"github.com/quorumlabs/quorum/internal/circuitbreaker"
	"github.com/quorumlabs/quorum/internal/consensus"
)

// Dispatcher routes ask requests either through a durable workflow or
// directly through the in-process orchestrator. A circuit breaker trips to
// the direct path when the Temporal frontend misbehaves, so the service keeps
// answering while durability is degraded.
type Dispatcher struct {
	log      *slog.Logger
	mgr      *Manager
	breaker  *circuitbreaker.Breaker
	fallback *consensus.Orchestrator
	cfg      consensus.Config
}

func NewDispatcher(log *slog.Logger, mgr *Manager, breaker *circuitbreaker.Breaker, fallback *consensus.Orchestrator, cfg consensus.Config) *Dispatcher {
	return &Dispatcher{log: log, mgr: mgr, breaker: breaker, fallback: fallback, cfg: cfg}
}

// durable reports whether the request can run as a workflow. Voting, auto
// protocol resolution, decomposition and tool use stay on the direct path.
func (d *Dispatcher) durable(opts consensus.Options) bool {
	if d.mgr == nil {
		return false
	}
	if opts.Protocol != "" && opts.Protocol != consensus.ProtocolConsensus {
		return false
	}
	if opts.Protocol == "" && d.cfg.Protocol != consensus.ProtocolConsensus {
		return false
	}
	if opts.Decompose || d.cfg.Decompose || opts.Tools {
		return false
	}
	return true
}

// Ask answers one question, durably when possible.
func (d *Dispatcher) Ask(ctx context.Context, question string, opts consensus.Options) (*consensus.Result, error) {
	if !d.durable(opts) || !d.breaker.Allow() {
		return d.fallback.Ask(ctx, question, opts)
	}

	input := ThreadInput{
		Question:             question,
		Panel:                opts.Panel,
		ProposerStrategy:     d.cfg.ProposerStrategy,
		MinChallengers:       d.cfg.MinChallengers,
		MaxRounds:            d.cfg.MaxRounds,
		ConvergenceThreshold: d.cfg.ConvergenceThreshold,
		MaxTokens:            d.cfg.MaxTokens,
		CostHardLimitUSD:     d.cfg.CostHardLimitUSD,
		Framings:             d.cfg.ChallengeFramings,
	}
	if opts.Proposer != "" {
		input.ProposerStrategy = "fixed:" + opts.Proposer
	}
	if opts.MaxRounds > 0 {
		input.MaxRounds = opts.MaxRounds
	}
	if opts.ConvergenceThreshold > 0 {
		input.ConvergenceThreshold = opts.ConvergenceThreshold
	}
	if opts.CostHardLimitUSD > 0 {
		input.CostHardLimitUSD = opts.CostHardLimitUSD
	}

	we, err := d.mgr.Client().ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "thread-" + uuid.NewString(),
		TaskQueue: d.mgr.TaskQueue(),
	}, ConsensusWorkflow, input)
	if err != nil {
		d.breaker.RecordFailure()
		d.log.Warn("durable dispatch failed, running in-process", "error", err.Error())
		return d.fallback.Ask(ctx, question, opts)
	}
	d.breaker.RecordSuccess()

	var out ThreadOutput
	if err := we.Get(ctx, &out); err != nil {
		return nil, err
	}
	return &consensus.Result{
		ThreadID:   out.ThreadID,
		Decision:   out.Decision,
		Rigor:      out.Rigor,
		Confidence: out.Confidence,
		Dissent:    out.Dissent,
		CostUSD:    out.CostUSD,
		Protocol:   consensus.ProtocolConsensus,
	}, nil
}
