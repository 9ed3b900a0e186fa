package consensus

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/quorumlabs/quorum/internal/events"
	"github.com/quorumlabs/quorum/internal/fault"
	"github.com/quorumlabs/quorum/internal/providers"
	"github.com/quorumlabs/quorum/internal/store"
)

// runDecomposed splits the question into a subtask DAG and runs each subtask
// as its own consensus debate. It reports handled=false when the run should
// fall back to plain consensus: the model produced a single subtask, or the
// subtask list failed validation.
func (o *Orchestrator) runDecomposed(ctx context.Context, r *run, p *phases) (*Result, bool, error) {
	subs, err := p.decompose(ctx, r, o.cfg.DecomposeMinSubtasks, o.cfg.DecomposeMaxSubtasks)
	if err != nil {
		if fault.KindOf(err) == fault.KindDecomposeInvalid {
			o.log.Warn("decomposition invalid, falling back to plain consensus", "thread", r.threadID, "error", err.Error())
			o.publish(events.Event{Type: events.EventError, ThreadID: r.threadID,
				ErrorKind: string(fault.KindDecomposeInvalid), ErrorMsg: err.Error()})
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(subs) == 1 {
		o.log.Info("single subtask, skipping synthesis", "thread", r.threadID)
		return nil, false, nil
	}

	results, err := runDAG(ctx, subs, func(ctx context.Context, st Subtask, deps map[string]SubtaskResult) (SubtaskResult, error) {
		return o.runSubtask(ctx, r, p, st, deps)
	})
	if err != nil {
		return nil, false, err
	}

	ordered := make([]SubtaskResult, 0, len(results))
	for _, st := range subs {
		ordered = append(ordered, results[st.Label])
	}

	res, err := o.synthesize(ctx, r, p, ordered)
	if err != nil {
		return nil, false, err
	}

	// Subtask rows land only once synthesis has produced the parent decision;
	// a failed synthesis leaves no partial decomposition behind.
	for i, st := range subs {
		if err := o.store.SaveSubtask(ctx, store.SubtaskRecord{
			ID:          uuid.NewString(),
			ThreadID:    r.threadID,
			Label:       st.Label,
			Description: st.Description,
			DependsOn:   st.DependsOn,
			Result:      ordered[i].Result,
			CostUSD:     ordered[i].CostUSD,
		}); err != nil {
			return nil, false, err
		}
	}
	return res, true, nil
}

// runSubtask runs one full consensus cycle for a subtask in a child thread,
// feeding it the completed outputs of its dependencies.
func (o *Orchestrator) runSubtask(ctx context.Context, parent *run, p *phases, st Subtask, deps map[string]SubtaskResult) (SubtaskResult, error) {
	question := st.Description
	if len(deps) > 0 {
		labels := make([]string, 0, len(deps))
		for l := range deps {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		var sb strings.Builder
		sb.WriteString(question)
		sb.WriteString("\n\nCompleted prerequisite work:\n")
		for _, l := range labels {
			fmt.Fprintf(&sb, "\n[%s] %s:\n%s\n", l, deps[l].Description, deps[l].Result)
		}
		question = sb.String()
	}

	child := newRun(uuid.NewString(), question, 1, parent.budget)
	child.intent = parent.intent
	if err := o.store.CreateThread(ctx, store.ThreadRecord{ID: child.threadID, Question: question, Protocol: ProtocolConsensus}); err != nil {
		return SubtaskResult{}, err
	}
	if err := child.transition(StatePropose); err != nil {
		return SubtaskResult{}, err
	}
	if err := o.runRounds(ctx, child, p, o.cfg.ConvergenceThreshold); err != nil {
		_ = o.store.SetThreadStatus(ctx, child.threadID, store.ThreadFailed)
		return SubtaskResult{}, err
	}
	if err := o.store.SetThreadStatus(ctx, child.threadID, store.ThreadComplete); err != nil {
		return SubtaskResult{}, err
	}

	cost, err := o.store.ThreadCost(ctx, child.threadID)
	if err != nil {
		return SubtaskResult{}, err
	}
	last := child.history[len(child.history)-1]
	return SubtaskResult{
		Label:       st.Label,
		Description: st.Description,
		Result:      last.Decision,
		Rigor:       last.Rigor,
		Confidence:  last.Confidence,
		CostUSD:     cost,
	}, nil
}

// synthesize merges the subtask results into the parent decision. The
// synthesis call is recorded as its own Contribution; the parent inherits the
// most conservative subtask rigor.
func (o *Orchestrator) synthesize(ctx context.Context, r *run, p *phases, subtasks []SubtaskResult) (*Result, error) {
	m, err := p.sel.Cheapest()
	if err != nil {
		return nil, err
	}
	req := providers.Request{
		Messages:  synthesisMessages(o.now(), r.question, o.cfg.SynthesisStrategy, subtasks),
		MaxTokens: o.cfg.MaxTokens,
	}
	resp, err := p.send(ctx, m.Ref, store.RoleJudge, req, r.budget)
	if err != nil {
		return nil, err
	}
	if err := p.saveContribution(ctx, r, m.Ref, store.RoleJudge, resp, "", false); err != nil {
		return nil, err
	}

	rigor := 1.0
	for _, st := range subtasks {
		if st.Rigor < rigor {
			rigor = st.Rigor
		}
	}
	confidence := Confidence(r.intent, rigor)

	if err := o.store.SaveDecision(ctx, store.DecisionRecord{
		TurnID:     r.turnID,
		Content:    resp.Content,
		Rigor:      rigor,
		Confidence: confidence,
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

	o.publish(events.Event{Type: events.EventCommit, ThreadID: r.threadID, Rigor: rigor, Confidence: confidence, Round: 1})
	o.publish(events.Event{Type: events.EventRoundComplete, ThreadID: r.threadID, Round: 1, CostUSD: r.budget.Spent()})

	return &Result{
		ThreadID:   r.threadID,
		Decision:   resp.Content,
		Rigor:      rigor,
		Confidence: confidence,
	}, nil
}
