package temporal

import (
	"errors"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/quorumlabs/quorum/internal/consensus"
	"github.com/quorumlabs/quorum/internal/fault"
	"github.com/quorumlabs/quorum/internal/store"
)

const (
	phaseTimeout     = 10 * time.Minute
	heartbeatTimeout = 45 * time.Second
	maxRoundsCap     = 5
)

// ConsensusWorkflow drives one debate thread durably: propose, parallel
// challenges, revise and commit per round, with convergence-based early stop.
// Activities do all IO; the workflow only sequences and scores.
func ConsensusWorkflow(ctx workflow.Context, input ThreadInput) (ThreadOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: phaseTimeout,
		HeartbeatTimeout:    heartbeatTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1, // the registry already retries transient provider errors
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	maxRounds := input.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 3
	}
	if maxRounds > maxRoundsCap {
		maxRounds = maxRoundsCap
	}
	minChallengers := input.MinChallengers
	if minChallengers <= 0 {
		minChallengers = 2
	}
	threshold := input.ConvergenceThreshold
	if threshold <= 0 {
		threshold = consensus.DefaultConvergenceThreshold
	}
	maxTokens := input.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	framings := input.Framings
	if len(framings) == 0 {
		framings = consensus.DefaultFramings
	}

	var threadID string
	err := workflow.ExecuteActivity(ctx, (*Activities).StartThread, StartThreadInput{
		Question: input.Question,
		Protocol: consensus.ProtocolConsensus,
	}).Get(ctx, &threadID)
	if err != nil {
		return ThreadOutput{}, err
	}

	fail := func(cause error) (ThreadOutput, error) {
		_ = workflow.ExecuteActivity(ctx, (*Activities).FinishThread, FinishThreadInput{
			ThreadID: threadID,
			Status:   store.ThreadFailed,
		}).Get(ctx, nil)
		return ThreadOutput{ThreadID: threadID}, cause
	}

	var panel PanelOutput
	err = workflow.ExecuteActivity(ctx, (*Activities).SelectPanel, PanelInput{
		Panel:            input.Panel,
		ProposerStrategy: input.ProposerStrategy,
		MinChallengers:   minChallengers,
	}).Get(ctx, &panel)
	if err != nil {
		return fail(err)
	}

	var recallBlock string
	_ = workflow.ExecuteActivity(ctx, (*Activities).BuildRecall).Get(ctx, &recallBlock)

	var (
		prev           *consensus.RoundArchive
		prevChallenges []consensus.Challenge
		spent          float64
		out            ThreadOutput
	)
	intent := input.Intent

	for round := 1; round <= maxRounds; round++ {
		var turnID string
		err = workflow.ExecuteActivity(ctx, (*Activities).CreateTurn, TurnInput{
			ThreadID: threadID,
			Round:    round,
		}).Get(ctx, &turnID)
		if err != nil {
			return fail(err)
		}

		if round == 1 && intent == "" {
			var cls ClassifyOutput
			if err := workflow.ExecuteActivity(ctx, (*Activities).ClassifyIntent, ClassifyInput{
				ThreadID:     threadID,
				TurnID:       turnID,
				Question:     input.Question,
				SpentUSD:     spent,
				HardLimitUSD: input.CostHardLimitUSD,
			}).Get(ctx, &cls); err == nil {
				intent = cls.Intent
				spent += cls.CostUSD
			}
		}

		now := workflow.Now(ctx)

		var proposal CallOutput
		err = workflow.ExecuteActivity(ctx, (*Activities).ModelCall, CallInput{
			ThreadID:     threadID,
			TurnID:       turnID,
			Ref:          panel.Proposer,
			Role:         store.RoleProposer,
			Messages:     consensus.ProposeMessages(now, input.Question, recallBlock, prev, prevChallenges),
			MaxTokens:    maxTokens,
			Round:        round,
			SpentUSD:     spent,
			HardLimitUSD: input.CostHardLimitUSD,
		}).Get(ctx, &proposal)
		if err != nil {
			return fail(err)
		}
		spent += proposal.CostUSD

		// Fan the challenger panel out in parallel.
		futures := make([]workflow.Future, len(panel.Challengers))
		challengeFramings := make([]string, len(panel.Challengers))
		for i, ref := range panel.Challengers {
			framing := framings[i%len(framings)]
			challengeFramings[i] = framing
			futures[i] = workflow.ExecuteActivity(ctx, (*Activities).ModelCall, CallInput{
				ThreadID:     threadID,
				TurnID:       turnID,
				Ref:          ref,
				Role:         store.RoleChallenger,
				Messages:     consensus.ChallengeMessages(now, input.Question, proposal.Content, framing),
				MaxTokens:    maxTokens,
				Framing:      framing,
				Round:        round,
				SpentUSD:     spent,
				HardLimitUSD: input.CostHardLimitUSD,
			})
		}

		var challenges []consensus.Challenge
		var firstErr error
		for i, f := range futures {
			var c CallOutput
			if err := f.Get(ctx, &c); err != nil {
				if isCostLimit(err) {
					return fail(err)
				}
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			spent += c.CostUSD
			challenges = append(challenges, consensus.Challenge{
				ModelRef:    panel.Challengers[i],
				Content:     c.Content,
				Framing:     challengeFramings[i],
				Sycophantic: c.Sycophantic,
				Truncated:   c.Truncated,
			})
		}
		if len(challenges) == 0 {
			if firstErr == nil {
				firstErr = errors.New("no challengers available")
			}
			return fail(firstErr)
		}

		var revision CallOutput
		err = workflow.ExecuteActivity(ctx, (*Activities).ModelCall, CallInput{
			ThreadID:     threadID,
			TurnID:       turnID,
			Ref:          panel.Proposer,
			Role:         store.RoleReviser,
			Messages:     consensus.ReviseMessages(now, input.Question, proposal.Content, challenges),
			MaxTokens:    maxTokens,
			Round:        round,
			SpentUSD:     spent,
			HardLimitUSD: input.CostHardLimitUSD,
		}).Get(ctx, &revision)
		if err != nil {
			return fail(err)
		}
		spent += revision.CostUSD

		genuine := 0
		var dissent []string
		for _, c := range challenges {
			if c.Sycophantic {
				continue
			}
			genuine++
			dissent = append(dissent, "["+c.ModelRef+"]: "+c.Content)
		}
		rigor := consensus.Rigor(genuine, len(challenges))
		confidence := consensus.Confidence(intent, rigor)
		dissentText := strings.Join(dissent, "\n\n")

		err = workflow.ExecuteActivity(ctx, (*Activities).CommitDecision, DecisionInput{
			ThreadID:   threadID,
			TurnID:     turnID,
			Round:      round,
			Content:    revision.Content,
			Rigor:      rigor,
			Confidence: confidence,
			Dissent:    dissentText,
			Intent:     intent,
		}).Get(ctx, nil)
		if err != nil {
			return fail(err)
		}

		_ = workflow.ExecuteActivity(ctx, (*Activities).Summarize, SummarizeInput{
			ThreadID: threadID,
			TurnID:   turnID,
			Question: input.Question,
			Decision: revision.Content,
		}).Get(ctx, nil)

		out = ThreadOutput{
			ThreadID:   threadID,
			Decision:   revision.Content,
			Rigor:      rigor,
			Confidence: confidence,
			Dissent:    dissentText,
			CostUSD:    spent,
			Rounds:     round,
		}

		if consensus.Converged(prevChallenges, challenges, threshold) {
			break
		}
		prev = &consensus.RoundArchive{
			Round:    round,
			Decision: revision.Content,
			Rigor:    rigor,
			Dissent:  dissentText,
		}
		prevChallenges = challenges
	}

	err = workflow.ExecuteActivity(ctx, (*Activities).FinishThread, FinishThreadInput{
		ThreadID: threadID,
		Status:   store.ThreadComplete,
	}).Get(ctx, nil)
	if err != nil {
		return out, err
	}
	return out, nil
}

// isCostLimit reports whether an activity error carries the cost-limit fault
// kind across the serialization boundary.
func isCostLimit(err error) bool {
	var appErr *temporal.ApplicationError
	return errors.As(err, &appErr) && appErr.Type() == string(fault.KindCostLimit)
}
