package consensus

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quorumlabs/quorum/internal/events"
	"github.com/quorumlabs/quorum/internal/fault"
	"github.com/quorumlabs/quorum/internal/metrics"
	"github.com/quorumlabs/quorum/internal/providers"
	"github.com/quorumlabs/quorum/internal/registry"
	"github.com/quorumlabs/quorum/internal/store"
)

// sendFunc dispatches one model call. The default is registry.Call; when
// tools are enabled the orchestrator swaps in the tool-augmented loop.
type sendFunc func(ctx context.Context, ref, role string, req providers.Request, budget *registry.Budget) (*providers.Response, error)

// phases holds the handlers for each debate stage. Handlers validate their
// inputs and set the fields the transition guards check; they never
// transition state themselves.
type phases struct {
	log      *slog.Logger
	reg      *registry.Registry
	sel      *registry.Selector
	store    store.Store
	bus      *events.Bus
	metrics  *metrics.Registry
	detector *Detector
	send     sendFunc

	framings       []string
	minChallengers int
	challengerRefs []string // explicit override of challenger selection
	maxTokens      int

	now func() time.Time
}

func (p *phases) publish(e events.Event) {
	if p.bus != nil {
		p.bus.Publish(e)
	}
}

// saveContribution persists one model utterance and returns its record.
func (p *phases) saveContribution(ctx context.Context, r *run, ref, role string, resp *providers.Response, framing string, sycophantic bool) error {
	rec := store.ContributionRecord{
		ID:           uuid.NewString(),
		TurnID:       r.turnID,
		ModelRef:     ref,
		Role:         role,
		Content:      resp.Content,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		LatencyMs:    resp.LatencyMs,
		Framing:      framing,
		Sycophantic:  sycophantic,
		Truncated:    resp.Truncated(),
	}
	if m, ok := p.reg.Model(ref); ok {
		rec.CostUSD = registry.Cost(m, resp.Usage)
	}
	return p.store.AddContribution(ctx, rec)
}

// propose drafts (round 1) or redrafts (later rounds) the answer.
func (p *phases) propose(ctx context.Context, r *run) error {
	if r.state != StatePropose {
		return fault.New(fault.KindInvalidState, "propose called in state %s", r.state)
	}
	if r.round == 1 || r.proposer.Ref == "" {
		m, err := p.sel.Proposer()
		if err != nil {
			return err
		}
		r.proposer = m
	}

	p.publish(events.Event{Type: events.EventPhaseStarted, ThreadID: r.threadID, Phase: string(StatePropose), ModelRef: r.proposer.Ref, Round: r.round})

	req := providers.Request{Messages: proposeMessages(p.now(), r.question, r.recallBlock, r.prevArchive(), r.prevChallenges), MaxTokens: p.maxTokens}
	resp, err := p.send(ctx, r.proposer.Ref, store.RoleProposer, req, r.budget)
	if err != nil {
		return err
	}
	if err := p.saveContribution(ctx, r, r.proposer.Ref, store.RoleProposer, resp, "", false); err != nil {
		return err
	}

	r.proposal = resp.Content
	r.proposalTruncated = resp.Truncated()
	if r.proposalTruncated {
		r.markTruncated(string(StatePropose))
	}
	p.publish(events.Event{Type: events.EventPhaseComplete, ThreadID: r.threadID, Phase: string(StatePropose), Truncated: r.proposalTruncated, Round: r.round})
	return nil
}

// challenge fans out to the challenger panel in parallel. Individual failures
// are tolerated; the phase fails only when every challenger fails.
func (p *phases) challenge(ctx context.Context, r *run) error {
	if r.state != StateChallenge {
		return fault.New(fault.KindInvalidState, "challenge called in state %s", r.state)
	}

	var panel []providers.ModelInfo
	if len(p.challengerRefs) > 0 {
		for _, ref := range p.challengerRefs {
			m, ok := p.reg.Model(ref)
			if !ok {
				return fault.New(fault.KindModelNotFound, "challenger %s is not registered", ref)
			}
			panel = append(panel, m)
		}
	} else {
		var err error
		panel, err = p.sel.Challengers(r.proposer, p.minChallengers)
		if err != nil {
			return err
		}
	}

	p.publish(events.Event{Type: events.EventPhaseStarted, ThreadID: r.threadID, Phase: string(StateChallenge), Round: r.round})

	type result struct {
		idx       int
		challenge Challenge
		resp      *providers.Response
		err       error
		ref       string
	}
	results := make([]result, len(panel))
	var wg sync.WaitGroup
	for i, m := range panel {
		wg.Add(1)
		go func(i int, m providers.ModelInfo) {
			defer wg.Done()
			framing := p.framings[i%len(p.framings)]
			req := providers.Request{Messages: challengeMessages(p.now(), r.question, r.proposal, framing), MaxTokens: p.maxTokens}
			resp, err := p.send(ctx, m.Ref, store.RoleChallenger, req, r.budget)
			if err != nil {
				results[i] = result{idx: i, err: err, ref: m.Ref}
				return
			}
			results[i] = result{
				idx: i,
				ref: m.Ref,
				challenge: Challenge{
					ModelRef:    m.Ref,
					Content:     resp.Content,
					Framing:     framing,
					Sycophantic: p.detector.Sycophantic(resp.Content),
					Truncated:   resp.Truncated(),
				},
				resp: resp,
			}
		}(i, m)
	}
	wg.Wait()

	var firstErr error
	for _, res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			p.log.Warn("challenger failed", "thread", r.threadID, "model", res.ref, "error", res.err.Error())
			p.publish(events.Event{Type: events.EventError, ThreadID: r.threadID, ModelRef: res.ref,
				ErrorKind: string(fault.KindOf(res.err)), ErrorMsg: res.err.Error(), Round: r.round})
			continue
		}
		// Fatal cost-limit failures end the thread even when other
		// challengers succeeded; the budget is already breached.
		if err := p.saveContribution(ctx, r, res.ref, store.RoleChallenger, res.resp, res.challenge.Framing, res.challenge.Sycophantic); err != nil {
			return err
		}
		if res.challenge.Sycophantic && p.metrics != nil {
			p.metrics.SycophancyTotal.WithLabelValues(res.ref).Inc()
		}
		if res.challenge.Truncated {
			r.markTruncated(string(StateChallenge))
		}
		r.challenges = append(r.challenges, res.challenge)
		p.publish(events.Event{Type: events.EventChallenge, ThreadID: r.threadID, ModelRef: res.ref,
			Framing: res.challenge.Framing, Sycophantic: res.challenge.Sycophantic,
			Truncated: res.challenge.Truncated, Round: r.round})
	}

	if len(r.challenges) == 0 {
		if firstErr != nil {
			return firstErr
		}
		return fault.New(fault.KindInsufficientModels, "no challengers available")
	}
	if firstErr != nil && fault.KindOf(firstErr) == fault.KindCostLimit {
		return firstErr
	}
	p.publish(events.Event{Type: events.EventPhaseComplete, ThreadID: r.threadID, Phase: string(StateChallenge), Round: r.round})
	return nil
}

// revise has the proposer rework its draft against the challenges.
func (p *phases) revise(ctx context.Context, r *run) error {
	if r.state != StateRevise {
		return fault.New(fault.KindInvalidState, "revise called in state %s", r.state)
	}

	p.publish(events.Event{Type: events.EventPhaseStarted, ThreadID: r.threadID, Phase: string(StateRevise), ModelRef: r.proposer.Ref, Round: r.round})

	req := providers.Request{Messages: reviseMessages(p.now(), r.question, r.proposal, r.challenges), MaxTokens: p.maxTokens}
	resp, err := p.send(ctx, r.proposer.Ref, store.RoleReviser, req, r.budget)
	if err != nil {
		return err
	}
	if err := p.saveContribution(ctx, r, r.proposer.Ref, store.RoleReviser, resp, "", false); err != nil {
		return err
	}

	r.revision = resp.Content
	r.revisionTruncated = resp.Truncated()
	if r.revisionTruncated {
		r.markTruncated(string(StateRevise))
	}
	p.publish(events.Event{Type: events.EventPhaseComplete, ThreadID: r.threadID, Phase: string(StateRevise), Truncated: r.revisionTruncated, Round: r.round})
	return nil
}

// commit scores the round. Pure extraction; no model call.
func (p *phases) commit(r *run) error {
	if r.state != StateCommit {
		return fault.New(fault.KindInvalidState, "commit called in state %s", r.state)
	}

	genuine := 0
	var dissent []string
	for _, c := range r.challenges {
		if c.Sycophantic {
			continue
		}
		genuine++
		dissent = append(dissent, "["+c.ModelRef+"]: "+c.Content)
	}

	r.decision = r.revision
	r.rigor = Rigor(genuine, len(r.challenges))
	r.confidence = Confidence(r.intent, r.rigor)
	r.dissent = strings.Join(dissent, "\n\n")

	p.publish(events.Event{Type: events.EventCommit, ThreadID: r.threadID,
		Rigor: r.rigor, Confidence: r.confidence, Dissent: r.dissent, Round: r.round})
	return nil
}

// decompose asks a cheap model to split the question into a subtask DAG.
func (p *phases) decompose(ctx context.Context, r *run, minSubtasks, maxSubtasks int) ([]Subtask, error) {
	if r.state != StateDecompose {
		return nil, fault.New(fault.KindInvalidState, "decompose called in state %s", r.state)
	}
	m, err := p.sel.Cheapest()
	if err != nil {
		return nil, err
	}

	p.publish(events.Event{Type: events.EventPhaseStarted, ThreadID: r.threadID, Phase: string(StateDecompose), ModelRef: m.Ref})

	req := providers.Request{Messages: decomposeMessages(r.question, minSubtasks, maxSubtasks), MaxTokens: p.maxTokens}
	resp, err := p.send(ctx, m.Ref, store.RoleDecomposer, req, r.budget)
	if err != nil {
		return nil, err
	}
	if err := p.saveContribution(ctx, r, m.Ref, store.RoleDecomposer, resp, "", false); err != nil {
		return nil, err
	}

	subs, err := parseSubtasks(resp.Content)
	if err != nil {
		return nil, err
	}
	if _, err := ValidateDAG(subs); err != nil {
		return nil, err
	}
	p.publish(events.Event{Type: events.EventPhaseComplete, ThreadID: r.threadID, Phase: string(StateDecompose)})
	return subs, nil
}
