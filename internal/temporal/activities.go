package temporal

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/quorumlabs/quorum/internal/consensus"
	"github.com/quorumlabs/quorum/internal/events"
	"github.com/quorumlabs/quorum/internal/fault"
	"github.com/quorumlabs/quorum/internal/providers"
	"github.com/quorumlabs/quorum/internal/recall"
	"github.com/quorumlabs/quorum/internal/registry"
	"github.com/quorumlabs/quorum/internal/store"
)

// Activities holds the engine dependencies the durable workflow path calls
// into. All persistence and model IO happens here; the workflow itself stays
// deterministic.
type Activities struct {
	Log        *slog.Logger
	Registry   *registry.Registry
	Store      store.Store
	Bus        *events.Bus
	Detector   *consensus.Detector
	Recall     *recall.Builder
	Classifier consensus.Classifier
}

// BuildRecall assembles the prior-decision context block for the proposer.
func (a *Activities) BuildRecall(ctx context.Context) (string, error) {
	if a.Recall == nil {
		return "", nil
	}
	block, err := a.Recall.Build(ctx)
	if err != nil {
		a.Log.Warn("recall build failed", "error", err.Error())
		return "", nil
	}
	return block, nil
}

func (a *Activities) publish(e events.Event) {
	if a.Bus != nil {
		a.Bus.Publish(e)
	}
}

// appError converts an engine fault into a Temporal application error whose
// Type carries the fault kind, so the workflow can branch on it.
func appError(err error) error {
	return temporal.NewApplicationError(err.Error(), string(fault.KindOf(err)))
}

// StartThread creates the thread row and returns its id.
func (a *Activities) StartThread(ctx context.Context, input StartThreadInput) (string, error) {
	id := uuid.NewString()
	if err := a.Store.CreateThread(ctx, store.ThreadRecord{
		ID:       id,
		Question: input.Question,
		Status:   store.ThreadActive,
		Protocol: input.Protocol,
	}); err != nil {
		return "", appError(err)
	}
	a.publish(events.Event{Type: events.EventThreadStarted, ThreadID: id})
	return id, nil
}

// SelectPanel picks the proposer and challenger refs for the thread.
func (a *Activities) SelectPanel(ctx context.Context, input PanelInput) (PanelOutput, error) {
	sel := registry.NewSelector(a.Registry, input.Panel, input.ProposerStrategy)
	proposer, err := sel.Proposer()
	if err != nil {
		return PanelOutput{}, appError(err)
	}
	challengers, err := sel.Challengers(proposer, input.MinChallengers)
	if err != nil {
		return PanelOutput{}, appError(err)
	}
	out := PanelOutput{Proposer: proposer.Ref}
	for _, c := range challengers {
		out.Challengers = append(out.Challengers, c.Ref)
	}
	return out, nil
}

// CreateTurn creates one round's turn row and returns its id.
func (a *Activities) CreateTurn(ctx context.Context, input TurnInput) (string, error) {
	id := uuid.NewString()
	if err := a.Store.CreateTurn(ctx, store.TurnRecord{
		ID:       id,
		ThreadID: input.ThreadID,
		Round:    input.Round,
	}); err != nil {
		return "", appError(err)
	}
	return id, nil
}

// ModelCall dispatches one model call, persists the contribution and reports
// its cost. Challenger replies are screened for sycophancy here so the
// workflow never needs the marker list.
func (a *Activities) ModelCall(ctx context.Context, input CallInput) (CallOutput, error) {
	stop := heartbeatEvery(ctx, 15*time.Second, input.Role)
	defer stop()

	budget := registry.NewBudget(0, input.HardLimitUSD)
	budget.Charge(input.SpentUSD)
	before := budget.Spent()

	req := providers.Request{Messages: input.Messages, MaxTokens: input.MaxTokens}
	resp, err := a.Registry.Call(ctx, input.Ref, input.Role, req, budget)
	if err != nil {
		a.publish(events.Event{Type: events.EventError, ThreadID: input.ThreadID, ModelRef: input.Ref,
			ErrorKind: string(fault.KindOf(err)), ErrorMsg: err.Error(), Round: input.Round})
		return CallOutput{}, appError(err)
	}

	out := CallOutput{
		Content:   resp.Content,
		CostUSD:   budget.Spent() - before,
		Truncated: resp.Truncated(),
	}
	if input.Role == store.RoleChallenger && a.Detector != nil {
		out.Sycophantic = a.Detector.Sycophantic(resp.Content)
	}

	if err := a.Store.AddContribution(ctx, store.ContributionRecord{
		ID:           uuid.NewString(),
		TurnID:       input.TurnID,
		ModelRef:     input.Ref,
		Role:         input.Role,
		Content:      resp.Content,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CostUSD:      out.CostUSD,
		LatencyMs:    resp.LatencyMs,
		Framing:      input.Framing,
		Sycophantic:  out.Sycophantic,
		Truncated:    out.Truncated,
	}); err != nil {
		return CallOutput{}, appError(err)
	}
	return out, nil
}

// ClassifyIntent tags the question so confidence calibration can apply the
// right domain cap. Best-effort; a failed classification leaves the intent
// empty rather than failing the thread.
func (a *Activities) ClassifyIntent(ctx context.Context, input ClassifyInput) (ClassifyOutput, error) {
	if a.Classifier == nil {
		return ClassifyOutput{}, nil
	}
	budget := registry.NewBudget(0, input.HardLimitUSD)
	budget.Charge(input.SpentUSD)
	before := budget.Spent()

	tax, err := a.Classifier.Classify(ctx, input.TurnID, input.Question, budget)
	if err != nil {
		a.Log.Warn("intent classification failed", "thread", input.ThreadID, "error", err.Error())
		return ClassifyOutput{}, nil
	}
	return ClassifyOutput{Intent: tax.Intent, CostUSD: budget.Spent() - before}, nil
}

// CommitDecision persists the round's committed answer.
func (a *Activities) CommitDecision(ctx context.Context, input DecisionInput) error {
	if err := a.Store.SaveDecision(ctx, store.DecisionRecord{
		TurnID:     input.TurnID,
		Content:    input.Content,
		Rigor:      input.Rigor,
		Confidence: input.Confidence,
		Dissent:    input.Dissent,
		Intent:     input.Intent,
	}); err != nil {
		return appError(err)
	}
	if err := a.Store.SetTurnState(ctx, input.TurnID, "commit"); err != nil {
		return appError(err)
	}
	a.publish(events.Event{Type: events.EventCommit, ThreadID: input.ThreadID,
		Rigor: input.Rigor, Confidence: input.Confidence, Dissent: input.Dissent, Round: input.Round})
	return nil
}

// Summarize regenerates the turn and thread summaries with the cheapest
// model. Failures are swallowed; summaries are best-effort.
func (a *Activities) Summarize(ctx context.Context, input SummarizeInput) error {
	sel := registry.NewSelector(a.Registry, nil, "")
	m, err := sel.Cheapest()
	if err != nil {
		return nil
	}
	req := providers.Request{Messages: consensus.SummaryMessages(input.Question, input.Decision), MaxTokens: 512}
	resp, err := a.Registry.Call(ctx, m.Ref, store.RoleSummarizer, req, nil)
	if err != nil {
		a.Log.Warn("summary failed", "thread", input.ThreadID, "error", err.Error())
		return nil
	}
	_ = a.Store.AddContribution(ctx, store.ContributionRecord{
		ID:           uuid.NewString(),
		TurnID:       input.TurnID,
		ModelRef:     m.Ref,
		Role:         store.RoleSummarizer,
		Content:      resp.Content,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CostUSD:      registry.Cost(m, resp.Usage),
		LatencyMs:    resp.LatencyMs,
	})
	_ = a.Store.UpsertTurnSummary(ctx, store.SummaryRecord{OwnerID: input.TurnID, Content: resp.Content, ModelRef: m.Ref})
	_ = a.Store.UpsertThreadSummary(ctx, store.SummaryRecord{OwnerID: input.ThreadID, Content: resp.Content, ModelRef: m.Ref})
	return nil
}

// FinishThread closes the thread row and announces completion.
func (a *Activities) FinishThread(ctx context.Context, input FinishThreadInput) error {
	if err := a.Store.SetThreadStatus(ctx, input.ThreadID, input.Status); err != nil {
		return appError(err)
	}
	a.publish(events.Event{Type: events.EventThreadComplete, ThreadID: input.ThreadID, Result: input.Status})
	return nil
}

// heartbeatEvery keeps long model calls alive against the activity's
// heartbeat timeout.
func heartbeatEvery(ctx context.Context, d time.Duration, detail string) func() {
	stop := make(chan struct{})
	go func() {
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				activity.RecordHeartbeat(ctx, detail)
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}
