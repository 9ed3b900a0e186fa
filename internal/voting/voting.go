// Package voting implements the alternate protocol: parallel independent
// answers from every panel model, aggregated by a judge into one decision.
package voting

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quorumlabs/quorum/internal/consensus"
	"github.com/quorumlabs/quorum/internal/events"
	"github.com/quorumlabs/quorum/internal/fault"
	"github.com/quorumlabs/quorum/internal/providers"
	"github.com/quorumlabs/quorum/internal/registry"
	"github.com/quorumlabs/quorum/internal/store"
)

// Aggregation strategies.
const (
	AggregationMajority = "majority"
	AggregationWeighted = "weighted"
)

// singleProviderPenalty is subtracted from rigor when fewer than two distinct
// providers contributed; a vote within one vendor's model family proves less.
const singleProviderPenalty = 0.2

// Engine runs the voting protocol. It implements the orchestrator's
// VoteRunner contract.
type Engine struct {
	log         *slog.Logger
	reg         *registry.Registry
	store       store.Store
	bus         *events.Bus
	aggregation string
	maxTokens   int

	now func() time.Time
}

func New(log *slog.Logger, reg *registry.Registry, st store.Store, bus *events.Bus, aggregation string, maxTokens int) *Engine {
	if aggregation == "" {
		aggregation = AggregationMajority
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Engine{log: log, reg: reg, store: st, bus: bus, aggregation: aggregation, maxTokens: maxTokens, now: time.Now}
}

type ballot struct {
	model   providers.ModelInfo
	content string
	usage   providers.Usage
}

// Run fans the question out to every voter, persists each answer as a Vote
// before judging, and has a judge aggregate the survivors. Per-voter failures
// are tolerated while at least two answers remain.
func (e *Engine) Run(ctx context.Context, threadID, turnID, question, intent string, voters []providers.ModelInfo, budget *registry.Budget) (*consensus.VoteOutcome, error) {
	if len(voters) == 0 {
		return nil, fault.New(fault.KindInsufficientModels, "no models available to vote")
	}

	e.publish(events.Event{Type: events.EventPhaseStarted, ThreadID: threadID, Phase: "voting"})

	sys := fmt.Sprintf("Today's date is %s. Answer the question directly and completely.", e.now().Format("2006-01-02"))
	results := make([]*ballot, len(voters))
	errs := make([]error, len(voters))
	var wg sync.WaitGroup
	for i, m := range voters {
		wg.Add(1)
		go func(i int, m providers.ModelInfo) {
			defer wg.Done()
			req := providers.Request{
				Messages: []providers.Message{
					{Role: providers.RoleSystem, Content: sys},
					{Role: providers.RoleUser, Content: question},
				},
				MaxTokens: e.maxTokens,
			}
			resp, err := e.reg.Call(ctx, m.Ref, "voter", req, budget)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = &ballot{model: m, content: resp.Content, usage: resp.Usage}
		}(i, m)
	}
	wg.Wait()

	var survivors []*ballot
	for i, b := range results {
		if b == nil {
			e.log.Warn("voter failed", "thread", threadID, "model", voters[i].Ref, "error", errs[i].Error())
			e.publish(events.Event{Type: events.EventError, ThreadID: threadID, ModelRef: voters[i].Ref,
				ErrorKind: string(fault.KindOf(errs[i])), ErrorMsg: errs[i].Error()})
			continue
		}
		survivors = append(survivors, b)
	}
	if len(survivors) < 2 {
		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}
		return nil, fault.New(fault.KindInsufficientModels, "voting needs at least 2 answers, got %d", len(survivors))
	}

	// Ballots land before judging so a failed judge call still leaves the
	// panel's answers on record.
	voteIDs := make(map[*ballot]string, len(survivors))
	for _, b := range survivors {
		id := uuid.NewString()
		if err := e.store.SaveVote(ctx, store.VoteRecord{
			ID:           id,
			ThreadID:     threadID,
			ModelRef:     b.model.Ref,
			Content:      b.content,
			InputTokens:  b.usage.InputTokens,
			OutputTokens: b.usage.OutputTokens,
			CostUSD:      registry.Cost(b.model, b.usage),
		}); err != nil {
			return nil, err
		}
		voteIDs[b] = id
	}

	decision, selected, err := e.judge(ctx, turnID, question, survivors, budget)
	if err != nil {
		return nil, err
	}
	if selected != nil {
		if err := e.store.MarkVoteSelected(ctx, voteIDs[selected]); err != nil {
			return nil, err
		}
	}

	rigor := 1.0
	if distinctProviders(survivors) < 2 {
		rigor -= singleProviderPenalty
	}
	if rigor < 0.5 {
		rigor = 0.5
	}
	confidence := consensus.Confidence(intent, rigor)

	e.publish(events.Event{Type: events.EventPhaseComplete, ThreadID: threadID, Phase: "voting"})
	e.publish(events.Event{Type: events.EventCommit, ThreadID: threadID, Rigor: rigor, Confidence: confidence})

	return &consensus.VoteOutcome{Decision: decision, Rigor: rigor, Confidence: confidence}, nil
}

// judge asks the cheapest surviving model to aggregate. Majority picks one
// answer; weighted synthesizes a blend favoring the pricier contributors.
func (e *Engine) judge(ctx context.Context, turnID, question string, survivors []*ballot, budget *registry.Budget) (string, *ballot, error) {
	judgeModel := survivors[0].model
	for _, b := range survivors[1:] {
		if b.model.InputPerMTok < judgeModel.InputPerMTok ||
			(b.model.InputPerMTok == judgeModel.InputPerMTok && b.model.Ref < judgeModel.Ref) {
			judgeModel = b.model
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\nCandidate answers:\n", question)
	for i, b := range survivors {
		fmt.Fprintf(&sb, "\nAnswer %d (from %s, output rate $%.2f/Mtok):\n%s\n", i+1, b.model.Ref, b.model.OutputPerMTok, b.content)
	}

	var sys string
	if e.aggregation == AggregationWeighted {
		sys = "You are the judge of a model panel. Synthesize the candidate answers into one final answer, " +
			"weighting answers from higher output-rate models more heavily where they conflict. Reply with the final answer only."
	} else {
		sys = "You are the judge of a model panel. Pick the single best candidate answer. " +
			"Reply with the winning answer's number on the first line, then the final answer text."
	}

	req := providers.Request{
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: sys},
			{Role: providers.RoleUser, Content: sb.String()},
		},
		MaxTokens: e.maxTokens,
	}
	resp, err := e.reg.Call(ctx, judgeModel.Ref, store.RoleJudge, req, budget)
	if err != nil {
		return "", nil, err
	}
	if err := e.store.AddContribution(ctx, store.ContributionRecord{
		ID:           uuid.NewString(),
		TurnID:       turnID,
		ModelRef:     judgeModel.Ref,
		Role:         store.RoleJudge,
		Content:      resp.Content,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CostUSD:      registry.Cost(judgeModel, resp.Usage),
		LatencyMs:    resp.LatencyMs,
	}); err != nil {
		return "", nil, err
	}

	if e.aggregation == AggregationWeighted {
		return resp.Content, nil, nil
	}

	decision, idx := parseMajorityVerdict(resp.Content, len(survivors))
	if idx >= 0 {
		return decision, survivors[idx], nil
	}
	return decision, nil, nil
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

// parseMajorityVerdict splits the judge's reply into the decision text and
// the selected index (0-based, -1 when unparseable).
func parseMajorityVerdict(content string, n int) (string, int) {
	trimmed := strings.TrimSpace(content)
	line, rest, found := strings.Cut(trimmed, "\n")
	if !found {
		return trimmed, -1
	}
	num, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "Answer")))
	if err != nil || num < 1 || num > n {
		return trimmed, -1
	}
	return strings.TrimSpace(rest), num - 1
}

func distinctProviders(survivors []*ballot) int {
	seen := make(map[string]bool)
	for _, b := range survivors {
		seen[b.model.ProviderID] = true
	}
	return len(seen)
}
