// Package consensus implements the debate orchestrator: the state machine
// driving PROPOSE, CHALLENGE, REVISE and COMMIT across rounds, query
// decomposition into a subtask DAG, convergence detection, sycophancy
// flagging and rigor/confidence scoring.
package consensus

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quorumlabs/quorum/internal/events"
	"github.com/quorumlabs/quorum/internal/fault"
	"github.com/quorumlabs/quorum/internal/metrics"
	"github.com/quorumlabs/quorum/internal/providers"
	"github.com/quorumlabs/quorum/internal/recall"
	"github.com/quorumlabs/quorum/internal/registry"
	"github.com/quorumlabs/quorum/internal/store"
)

// Protocols.
const (
	ProtocolConsensus = "consensus"
	ProtocolVoting    = "voting"
	ProtocolAuto      = "auto"
)

// Taxonomy is the classifier's tagging of a question.
type Taxonomy struct {
	Intent     string `json:"intent"`
	Category   string `json:"category"`
	Genus      string `json:"genus"`
	Complexity string `json:"complexity"`
}

// Classifier routes questions and tags them. Implementations persist their
// model call as a classifier Contribution on the given turn.
type Classifier interface {
	Protocol(ctx context.Context, turnID, question string, budget *registry.Budget) (string, error)
	Classify(ctx context.Context, turnID, question string, budget *registry.Budget) (Taxonomy, error)
}

// VoteOutcome is the voting protocol's result.
type VoteOutcome struct {
	Decision   string
	Rigor      float64
	Confidence float64
	Dissent    string
}

// VoteRunner runs the alternate voting protocol over the given voter panel.
type VoteRunner interface {
	Run(ctx context.Context, threadID, turnID, question, intent string, voters []providers.ModelInfo, budget *registry.Budget) (*VoteOutcome, error)
}

// Config holds the orchestrator defaults. Per-request Options override them.
type Config struct {
	MaxRounds            int
	Protocol             string
	Decompose            bool
	Panel                []string
	ProposerStrategy     string
	ChallengeFramings    []string
	MinChallengers       int
	ConvergenceThreshold float64
	SynthesisStrategy    string
	SycophancyMarkers    []string
	CostWarnUSD          float64
	CostHardLimitUSD     float64
	DecomposeMinSubtasks int
	DecomposeMaxSubtasks int
	PhaseTimeout         time.Duration
	MaxTokens            int
}

// DefaultConfig returns the standard orchestrator settings.
func DefaultConfig() Config {
	return Config{
		MaxRounds:            3,
		Protocol:             ProtocolConsensus,
		ProposerStrategy:     registry.StrategyTopCost,
		ChallengeFramings:    DefaultFramings,
		MinChallengers:       2,
		ConvergenceThreshold: DefaultConvergenceThreshold,
		SynthesisStrategy:    SynthesisMerge,
		DecomposeMinSubtasks: 2,
		DecomposeMaxSubtasks: 7,
		PhaseTimeout:         10 * time.Minute,
		MaxTokens:            4096,
	}
}

// Options are per-request overrides of the configured defaults. Zero values
// defer to the Config.
type Options struct {
	Protocol             string
	MaxRounds            int
	Decompose            bool
	Tools                bool
	Panel                []string
	Proposer             string
	Challengers          []string
	ConvergenceThreshold float64
	CostHardLimitUSD     float64
}

// Result is the committed outcome of one orchestrator run.
type Result struct {
	ThreadID        string         `json:"thread_id"`
	Decision        string         `json:"decision"`
	Rigor           float64        `json:"rigor"`
	Confidence      float64        `json:"confidence"`
	Dissent         string         `json:"dissent,omitempty"`
	CostUSD         float64        `json:"cost_usd"`
	Protocol        string         `json:"protocol"`
	Intent          string         `json:"intent,omitempty"`
	TruncatedPhases []string       `json:"truncated_phases,omitempty"`
	Rounds          []RoundArchive `json:"rounds,omitempty"`
}

// Orchestrator drives debates end to end against the registry and the store.
type Orchestrator struct {
	log        *slog.Logger
	reg        *registry.Registry
	store      store.Store
	bus        *events.Bus
	metrics    *metrics.Registry
	recall     *recall.Builder
	classifier Classifier
	voter      VoteRunner
	toolSend   sendFunc // used instead of registry.Call when tools are requested
	cfg        Config

	now func() time.Time
}

func New(log *slog.Logger, reg *registry.Registry, st store.Store, bus *events.Bus, m *metrics.Registry, cfg Config) *Orchestrator {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 3
	}
	if len(cfg.ChallengeFramings) == 0 {
		cfg.ChallengeFramings = DefaultFramings
	}
	if cfg.MinChallengers <= 0 {
		cfg.MinChallengers = 2
	}
	if cfg.ConvergenceThreshold <= 0 {
		cfg.ConvergenceThreshold = DefaultConvergenceThreshold
	}
	if cfg.PhaseTimeout <= 0 {
		cfg.PhaseTimeout = 10 * time.Minute
	}
	if cfg.DecomposeMinSubtasks <= 0 {
		cfg.DecomposeMinSubtasks = 2
	}
	if cfg.DecomposeMaxSubtasks <= 0 {
		cfg.DecomposeMaxSubtasks = 7
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	return &Orchestrator{
		log:     log,
		reg:     reg,
		store:   st,
		bus:     bus,
		metrics: m,
		recall:  recall.NewBuilder(st),
		cfg:     cfg,
		now:     time.Now,
	}
}

// WithClassifier wires the protocol/taxonomy classifier.
func (o *Orchestrator) WithClassifier(c Classifier) *Orchestrator { o.classifier = c; return o }

// WithVoter wires the voting protocol engine.
func (o *Orchestrator) WithVoter(v VoteRunner) *Orchestrator { o.voter = v; return o }

// WithToolSend wires the tool-augmented dispatch used when a request enables
// tools.
func (o *Orchestrator) WithToolSend(fn func(ctx context.Context, ref, role string, req providers.Request, budget *registry.Budget) (*providers.Response, error)) *Orchestrator {
	o.toolSend = fn
	return o
}

// Ask runs one debate. On failure the thread remains in the store with
// status failed and all partial contributions intact; the returned error
// carries the fault kind.
func (o *Orchestrator) Ask(ctx context.Context, question string, opts Options) (*Result, error) {
	if question == "" {
		return nil, fault.New(fault.KindInvalidState, "empty question")
	}

	maxRounds := o.cfg.MaxRounds
	if opts.MaxRounds > 0 {
		maxRounds = opts.MaxRounds
	}
	if maxRounds > 5 {
		maxRounds = 5
	}
	hardLimit := o.cfg.CostHardLimitUSD
	if opts.CostHardLimitUSD > 0 {
		hardLimit = opts.CostHardLimitUSD
	}
	budget := registry.NewBudget(o.cfg.CostWarnUSD, hardLimit)

	r := newRun(uuid.NewString(), question, maxRounds, budget)
	if err := o.store.CreateThread(ctx, store.ThreadRecord{ID: r.threadID, Question: question}); err != nil {
		return nil, err
	}
	o.publish(events.Event{Type: events.EventThreadStarted, ThreadID: r.threadID})

	// Turn 1 exists before any model call so the classifier and decomposer
	// contributions have a home.
	r.turnID = uuid.NewString()
	if err := o.store.CreateTurn(ctx, store.TurnRecord{ID: r.turnID, ThreadID: r.threadID, Round: 1}); err != nil {
		return nil, o.fail(ctx, r, "", err)
	}

	protocol := o.resolveProtocol(ctx, r, opts, budget)
	if err := o.store.SetThreadProtocol(ctx, r.threadID, protocol); err != nil {
		return nil, o.fail(ctx, r, protocol, err)
	}
	o.classify(ctx, r, budget)

	p := o.newPhases(r, opts)

	var res *Result
	var err error
	switch protocol {
	case ProtocolVoting:
		res, err = o.runVoting(ctx, r, p, budget)
	default:
		res, err = o.runConsensusThread(ctx, r, p, opts)
	}
	if err != nil {
		return nil, o.fail(ctx, r, protocol, err)
	}

	res.Protocol = protocol
	res.CostUSD = budget.Spent()
	res.Intent = r.intent
	if serr := o.store.SetThreadStatus(ctx, r.threadID, store.ThreadComplete); serr != nil {
		return nil, o.fail(ctx, r, protocol, serr)
	}
	o.publish(events.Event{Type: events.EventThreadComplete, ThreadID: r.threadID, Result: store.ThreadComplete, CostUSD: res.CostUSD})
	if o.metrics != nil {
		o.metrics.ThreadsTotal.WithLabelValues(protocol, store.ThreadComplete).Inc()
		o.metrics.RoundsPerThread.Observe(float64(len(res.Rounds)))
	}
	return res, nil
}

func (o *Orchestrator) publish(e events.Event) {
	if o.bus != nil {
		o.bus.Publish(e)
	}
}

// fail marks the thread failed and emits the terminal events. Partial
// contributions stay persisted for post-mortem inspection.
func (o *Orchestrator) fail(ctx context.Context, r *run, protocol string, err error) error {
	_ = r.transition(StateFailed)
	if serr := o.store.SetThreadStatus(ctx, r.threadID, store.ThreadFailed); serr != nil {
		o.log.Error("marking thread failed", "thread", r.threadID, "error", serr.Error())
	}
	kind := string(fault.KindOf(err))
	o.publish(events.Event{Type: events.EventError, ThreadID: r.threadID, ErrorKind: kind, ErrorMsg: err.Error()})
	o.publish(events.Event{Type: events.EventThreadComplete, ThreadID: r.threadID, Result: store.ThreadFailed})
	if o.metrics != nil {
		if protocol == "" {
			protocol = "unknown"
		}
		o.metrics.ThreadsTotal.WithLabelValues(protocol, store.ThreadFailed).Inc()
	}
	o.log.Warn("thread failed", "thread", r.threadID, "kind", kind, "error", err.Error())
	return err
}

func (o *Orchestrator) resolveProtocol(ctx context.Context, r *run, opts Options, budget *registry.Budget) string {
	protocol := opts.Protocol
	if protocol == "" {
		protocol = o.cfg.Protocol
	}
	if protocol == "" {
		protocol = ProtocolConsensus
	}
	if protocol != ProtocolAuto {
		return protocol
	}
	if o.classifier == nil {
		return ProtocolConsensus
	}
	p, err := o.classifier.Protocol(ctx, r.turnID, r.question, budget)
	if err != nil {
		o.log.Warn("protocol classification failed, using consensus", "thread", r.threadID, "error", err.Error())
		return ProtocolConsensus
	}
	return p
}

// classify tags the question. Failures are tolerated; the decision simply
// carries no taxonomy and confidence uses the default cap.
func (o *Orchestrator) classify(ctx context.Context, r *run, budget *registry.Budget) {
	if o.classifier == nil {
		return
	}
	tax, err := o.classifier.Classify(ctx, r.turnID, r.question, budget)
	if err != nil {
		o.log.Warn("taxonomy classification failed", "thread", r.threadID, "error", err.Error())
		return
	}
	r.intent = tax.Intent
	r.category = tax.Category
	r.genus = tax.Genus
	r.complexity = tax.Complexity
}

func (o *Orchestrator) newPhases(r *run, opts Options) *phases {
	panel := opts.Panel
	if len(panel) == 0 {
		panel = o.cfg.Panel
	}
	strategy := o.cfg.ProposerStrategy
	if opts.Proposer != "" {
		strategy = registry.StrategyFixed + ":" + opts.Proposer
	}
	send := o.registrySend
	if opts.Tools && o.toolSend != nil {
		send = o.toolSend
	}
	return &phases{
		log:            o.log,
		reg:            o.reg,
		sel:            registry.NewSelector(o.reg, panel, strategy),
		store:          o.store,
		bus:            o.bus,
		metrics:        o.metrics,
		detector:       NewDetector(o.cfg.SycophancyMarkers),
		send:           send,
		framings:       o.cfg.ChallengeFramings,
		minChallengers: o.cfg.MinChallengers,
		challengerRefs: opts.Challengers,
		maxTokens:      o.cfg.MaxTokens,
		now:            o.now,
	}
}

func (o *Orchestrator) registrySend(ctx context.Context, ref, role string, req providers.Request, budget *registry.Budget) (*providers.Response, error) {
	return o.reg.Call(ctx, ref, role, req, budget)
}

// runConsensusThread runs the consensus protocol on the top-level thread,
// optionally decomposing first.
func (o *Orchestrator) runConsensusThread(ctx context.Context, r *run, p *phases, opts Options) (*Result, error) {
	if recallBlock, err := o.recall.Build(ctx); err != nil {
		o.log.Warn("recall build failed", "thread", r.threadID, "error", err.Error())
	} else {
		r.recallBlock = recallBlock
	}

	if opts.Decompose || o.cfg.Decompose {
		if err := r.transition(StateDecompose); err != nil {
			return nil, err
		}
		res, handled, err := o.runDecomposed(ctx, r, p)
		if err != nil {
			return nil, err
		}
		if handled {
			return res, nil
		}
		// Fell through to plain consensus (single subtask or invalid DAG).
		if err := r.transition(StatePropose); err != nil {
			return nil, err
		}
	} else if err := r.transition(StatePropose); err != nil {
		return nil, err
	}

	threshold := o.cfg.ConvergenceThreshold
	if opts.ConvergenceThreshold > 0 {
		threshold = opts.ConvergenceThreshold
	}
	if err := o.runRounds(ctx, r, p, threshold); err != nil {
		return nil, err
	}

	last := r.history[len(r.history)-1]
	return &Result{
		ThreadID:        r.threadID,
		Decision:        last.Decision,
		Rigor:           last.Rigor,
		Confidence:      last.Confidence,
		Dissent:         last.Dissent,
		TruncatedPhases: r.truncatedPhases,
		Rounds:          r.history,
	}, nil
}

// runRounds drives PROPOSE through COMMIT until convergence or the round cap.
// The run must already be in StatePropose with turn 1 created.
func (o *Orchestrator) runRounds(ctx context.Context, r *run, p *phases, threshold float64) error {
	for {
		if r.turnID == "" {
			r.turnID = uuid.NewString()
			if err := o.store.CreateTurn(ctx, store.TurnRecord{ID: r.turnID, ThreadID: r.threadID, Round: r.round}); err != nil {
				return err
			}
		}

		if err := o.phase(ctx, func(ctx context.Context) error { return p.propose(ctx, r) }); err != nil {
			return err
		}
		if err := r.transition(StateChallenge); err != nil {
			return err
		}
		if err := o.phase(ctx, func(ctx context.Context) error { return p.challenge(ctx, r) }); err != nil {
			return err
		}
		if err := r.transition(StateRevise); err != nil {
			return err
		}
		if err := o.phase(ctx, func(ctx context.Context) error { return p.revise(ctx, r) }); err != nil {
			return err
		}
		if err := r.transition(StateCommit); err != nil {
			return err
		}
		if err := p.commit(r); err != nil {
			return err
		}

		if err := o.store.SaveDecision(ctx, store.DecisionRecord{
			TurnID:     r.turnID,
			Content:    r.decision,
			Rigor:      r.rigor,
			Confidence: r.confidence,
			Dissent:    r.dissent,
			Intent:     r.intent,
			Category:   r.category,
			Genus:      r.genus,
			Complexity: r.complexity,
		}); err != nil {
			return err
		}
		if err := o.store.SetTurnState(ctx, r.turnID, string(StateCommit)); err != nil {
			return err
		}
		o.summarize(ctx, r, p)

		r.converged = Converged(r.prevChallenges, r.challenges, threshold)
		if r.converged && o.metrics != nil {
			o.metrics.ConvergedTotal.Inc()
		}
		o.publish(events.Event{Type: events.EventRoundComplete, ThreadID: r.threadID, Round: r.round, CostUSD: r.budget.Spent()})

		if r.converged || r.round >= r.maxRounds {
			if err := r.transition(StateComplete); err != nil {
				return err
			}
			r.archiveRound()
			return nil
		}
		if err := r.transition(StatePropose); err != nil {
			return err
		}
		r.archiveRound()
	}
}

// phase runs one handler under the per-phase timeout.
func (o *Orchestrator) phase(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.PhaseTimeout)
	defer cancel()
	return fn(ctx)
}

// summarize regenerates the turn and thread summaries with the cheapest
// model. Summary failures never fail the thread.
func (o *Orchestrator) summarize(ctx context.Context, r *run, p *phases) {
	m, err := p.sel.Cheapest()
	if err != nil {
		return
	}
	req := providers.Request{Messages: summaryMessages(r.question, r.decision), MaxTokens: 512}
	resp, err := p.send(ctx, m.Ref, store.RoleSummarizer, req, r.budget)
	if err != nil {
		o.log.Warn("summary generation failed", "thread", r.threadID, "error", err.Error())
		return
	}
	if err := p.saveContribution(ctx, r, m.Ref, store.RoleSummarizer, resp, "", false); err != nil {
		o.log.Warn("summary persistence failed", "thread", r.threadID, "error", err.Error())
		return
	}
	_ = o.store.UpsertTurnSummary(ctx, store.SummaryRecord{OwnerID: r.turnID, Content: resp.Content, ModelRef: m.Ref})
	_ = o.store.UpsertThreadSummary(ctx, store.SummaryRecord{OwnerID: r.threadID, Content: resp.Content, ModelRef: m.Ref})
}

// runVoting delegates to the voting engine and persists its decision.
func (o *Orchestrator) runVoting(ctx context.Context, r *run, p *phases, budget *registry.Budget) (*Result, error) {
	if o.voter == nil {
		return nil, fault.New(fault.KindInvalidState, "voting protocol requested but no voting engine wired")
	}
	voters := p.sel.Voters()
	out, err := o.voter.Run(ctx, r.threadID, r.turnID, r.question, r.intent, voters, budget)
	if err != nil {
		return nil, err
	}
	if err := o.store.SaveDecision(ctx, store.DecisionRecord{
		TurnID:     r.turnID,
		Content:    out.Decision,
		Rigor:      out.Rigor,
		Confidence: out.Confidence,
		Dissent:    out.Dissent,
		Intent:     r.intent,
		Category:   r.category,
		Genus:      r.genus,
		Complexity: r.complexity,
	}); err != nil {
		return nil, err
	}
	if err := o.store.SetTurnState(ctx, r.turnID, string(StateCommit)); err != nil {
		return nil, err
	}
	return &Result{
		ThreadID:   r.threadID,
		Decision:   out.Decision,
		Rigor:      out.Rigor,
		Confidence: out.Confidence,
		Dissent:    out.Dissent,
	}, nil
}
