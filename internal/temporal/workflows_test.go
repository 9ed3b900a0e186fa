package temporal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/quorumlabs/quorum/internal/fault"
	"github.com/quorumlabs/quorum/internal/store"
)

// actsRef is a nil *Activities pointer used to create bound method references
// for mock registration; the SDK only reflects on the method name.
var actsRef *Activities

func newEnv() *testsuite.TestWorkflowEnvironment {
	suite := &testsuite.WorkflowTestSuite{}
	return suite.NewTestWorkflowEnvironment()
}

func roleIs(role string) any {
	return mock.MatchedBy(func(in CallInput) bool { return in.Role == role })
}

func stubThreadSetup(env *testsuite.TestWorkflowEnvironment, challengers []string) {
	env.OnActivity(actsRef.StartThread, mock.Anything, mock.Anything).Return("th1", nil)
	env.OnActivity(actsRef.SelectPanel, mock.Anything, mock.Anything).Return(PanelOutput{
		Proposer:    "anthropic:opus",
		Challengers: challengers,
	}, nil)
	env.OnActivity(actsRef.BuildRecall, mock.Anything).Return("", nil)
	env.OnActivity(actsRef.CreateTurn, mock.Anything, mock.Anything).Return("t1", nil)
	env.OnActivity(actsRef.ClassifyIntent, mock.Anything, mock.Anything).Return(ClassifyOutput{}, nil)
	env.OnActivity(actsRef.Summarize, mock.Anything, mock.Anything).Return(nil)
}

func TestConsensusWorkflowSingleRound(t *testing.T) {
	env := newEnv()
	stubThreadSetup(env, []string{"openai:gpt", "vllm:local"})

	env.OnActivity(actsRef.ModelCall, mock.Anything, roleIs(store.RoleProposer)).
		Return(CallOutput{Content: "use a write-through cache", CostUSD: 0.02}, nil)
	env.OnActivity(actsRef.ModelCall, mock.Anything, roleIs(store.RoleChallenger)).
		Return(CallOutput{Content: "this ignores invalidation storms", CostUSD: 0.01}, nil).Times(2)
	env.OnActivity(actsRef.ModelCall, mock.Anything, roleIs(store.RoleReviser)).
		Return(CallOutput{Content: "use a write-through cache with jittered invalidation", CostUSD: 0.02}, nil)
	env.OnActivity(actsRef.CommitDecision, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(actsRef.FinishThread, mock.Anything, FinishThreadInput{ThreadID: "th1", Status: store.ThreadComplete}).Return(nil)

	env.ExecuteWorkflow(ConsensusWorkflow, ThreadInput{Question: "how should we cache?", MaxRounds: 1})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out ThreadOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "th1", out.ThreadID)
	require.Equal(t, "use a write-through cache with jittered invalidation", out.Decision)
	require.Equal(t, 1.0, out.Rigor)
	require.Equal(t, 0.85, out.Confidence)
	require.InDelta(t, 0.06, out.CostUSD, 1e-9)
	require.Equal(t, 1, out.Rounds)

	env.AssertExpectations(t)
}

func TestConsensusWorkflowSycophancyLowersRigor(t *testing.T) {
	env := newEnv()
	stubThreadSetup(env, []string{"openai:gpt", "vllm:local"})

	env.OnActivity(actsRef.ModelCall, mock.Anything, roleIs(store.RoleProposer)).
		Return(CallOutput{Content: "proposal"}, nil)
	env.OnActivity(actsRef.ModelCall, mock.Anything, roleIs(store.RoleChallenger)).
		Return(CallOutput{Content: "great answer, no major flaws", Sycophantic: true}, nil).Once()
	env.OnActivity(actsRef.ModelCall, mock.Anything, roleIs(store.RoleChallenger)).
		Return(CallOutput{Content: "the failover story is missing"}, nil).Once()
	env.OnActivity(actsRef.ModelCall, mock.Anything, roleIs(store.RoleReviser)).
		Return(CallOutput{Content: "revised"}, nil)
	env.OnActivity(actsRef.CommitDecision, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(actsRef.FinishThread, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(ConsensusWorkflow, ThreadInput{Question: "q", MaxRounds: 1})

	require.True(t, env.IsWorkflowCompleted())
	var out ThreadOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, 0.75, out.Rigor)
	require.NotContains(t, out.Dissent, "great answer")
	require.Contains(t, out.Dissent, "failover story")
}

func TestConsensusWorkflowConvergenceStopsEarly(t *testing.T) {
	env := newEnv()
	stubThreadSetup(env, []string{"openai:gpt"})

	env.OnActivity(actsRef.ModelCall, mock.Anything, roleIs(store.RoleProposer)).
		Return(CallOutput{Content: "proposal"}, nil)
	// Identical critique text every round: round two converges.
	env.OnActivity(actsRef.ModelCall, mock.Anything, roleIs(store.RoleChallenger)).
		Return(CallOutput{Content: "the same objection every time"}, nil)
	env.OnActivity(actsRef.ModelCall, mock.Anything, roleIs(store.RoleReviser)).
		Return(CallOutput{Content: "revised"}, nil)
	env.OnActivity(actsRef.CommitDecision, mock.Anything, mock.Anything).Return(nil).Times(2)
	env.OnActivity(actsRef.FinishThread, mock.Anything, FinishThreadInput{ThreadID: "th1", Status: store.ThreadComplete}).Return(nil)

	env.ExecuteWorkflow(ConsensusWorkflow, ThreadInput{Question: "q", MaxRounds: 3})

	require.True(t, env.IsWorkflowCompleted())
	var out ThreadOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, 2, out.Rounds)

	env.AssertExpectations(t)
}

func TestConsensusWorkflowToleratesChallengerFailure(t *testing.T) {
	env := newEnv()
	stubThreadSetup(env, []string{"openai:gpt", "vllm:local"})

	env.OnActivity(actsRef.ModelCall, mock.Anything, roleIs(store.RoleProposer)).
		Return(CallOutput{Content: "proposal"}, nil)
	env.OnActivity(actsRef.ModelCall, mock.Anything, roleIs(store.RoleChallenger)).
		Return(CallOutput{}, errors.New("provider down")).Once()
	env.OnActivity(actsRef.ModelCall, mock.Anything, roleIs(store.RoleChallenger)).
		Return(CallOutput{Content: "a real critique"}, nil).Once()
	env.OnActivity(actsRef.ModelCall, mock.Anything, roleIs(store.RoleReviser)).
		Return(CallOutput{Content: "revised"}, nil)
	env.OnActivity(actsRef.CommitDecision, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(actsRef.FinishThread, mock.Anything, FinishThreadInput{ThreadID: "th1", Status: store.ThreadComplete}).Return(nil)

	env.ExecuteWorkflow(ConsensusWorkflow, ThreadInput{Question: "q", MaxRounds: 1})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var out ThreadOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, 1.0, out.Rigor, "one genuine challenge of one that arrived")
}

func TestConsensusWorkflowAllChallengersFailFailsThread(t *testing.T) {
	env := newEnv()
	stubThreadSetup(env, []string{"openai:gpt"})

	env.OnActivity(actsRef.ModelCall, mock.Anything, roleIs(store.RoleProposer)).
		Return(CallOutput{Content: "proposal"}, nil)
	env.OnActivity(actsRef.ModelCall, mock.Anything, roleIs(store.RoleChallenger)).
		Return(CallOutput{}, errors.New("provider down"))
	env.OnActivity(actsRef.FinishThread, mock.Anything, FinishThreadInput{ThreadID: "th1", Status: store.ThreadFailed}).Return(nil)

	env.ExecuteWorkflow(ConsensusWorkflow, ThreadInput{Question: "q", MaxRounds: 1})

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
}

func TestConsensusWorkflowCostLimitFailsThread(t *testing.T) {
	env := newEnv()
	stubThreadSetup(env, []string{"openai:gpt", "vllm:local"})

	env.OnActivity(actsRef.ModelCall, mock.Anything, roleIs(store.RoleProposer)).
		Return(CallOutput{Content: "proposal", CostUSD: 0.3}, nil)
	limitErr := temporal.NewApplicationError("cost limit exceeded", string(fault.KindCostLimit))
	env.OnActivity(actsRef.ModelCall, mock.Anything, roleIs(store.RoleChallenger)).
		Return(CallOutput{}, limitErr).Once()
	env.OnActivity(actsRef.ModelCall, mock.Anything, roleIs(store.RoleChallenger)).
		Return(CallOutput{Content: "critique"}, nil).Maybe()
	env.OnActivity(actsRef.FinishThread, mock.Anything, FinishThreadInput{ThreadID: "th1", Status: store.ThreadFailed}).Return(nil)

	env.ExecuteWorkflow(ConsensusWorkflow, ThreadInput{Question: "q", MaxRounds: 1, CostHardLimitUSD: 0.35})

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError(), "budget breach ends the thread even with surviving challengers")
}

func TestConsensusWorkflowIntentCapsConfidence(t *testing.T) {
	env := newEnv()
	env.OnActivity(actsRef.StartThread, mock.Anything, mock.Anything).Return("th1", nil)
	env.OnActivity(actsRef.SelectPanel, mock.Anything, mock.Anything).Return(PanelOutput{
		Proposer:    "anthropic:opus",
		Challengers: []string{"openai:gpt"},
	}, nil)
	env.OnActivity(actsRef.BuildRecall, mock.Anything).Return("", nil)
	env.OnActivity(actsRef.CreateTurn, mock.Anything, mock.Anything).Return("t1", nil)
	env.OnActivity(actsRef.ClassifyIntent, mock.Anything, mock.Anything).
		Return(ClassifyOutput{Intent: "strategic", CostUSD: 0.001}, nil)
	env.OnActivity(actsRef.Summarize, mock.Anything, mock.Anything).Return(nil)

	env.OnActivity(actsRef.ModelCall, mock.Anything, roleIs(store.RoleProposer)).
		Return(CallOutput{Content: "proposal"}, nil)
	env.OnActivity(actsRef.ModelCall, mock.Anything, roleIs(store.RoleChallenger)).
		Return(CallOutput{Content: "a pointed objection"}, nil)
	env.OnActivity(actsRef.ModelCall, mock.Anything, roleIs(store.RoleReviser)).
		Return(CallOutput{Content: "revised"}, nil)
	env.OnActivity(actsRef.CommitDecision, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(actsRef.FinishThread, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(ConsensusWorkflow, ThreadInput{Question: "should we rewrite?", MaxRounds: 1})

	require.True(t, env.IsWorkflowCompleted())
	var out ThreadOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, 1.0, out.Rigor)
	require.Equal(t, 0.70, out.Confidence, "strategic questions carry the lowest cap")
}
