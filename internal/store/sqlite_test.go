package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "quorum.db")
	s, err := NewSQLite(dsn)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestThreadLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateThread(ctx, ThreadRecord{ID: "th1", Question: "should we shard?"}))

	got, err := s.GetThread(ctx, "th1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ThreadActive, got.Status)
	assert.Equal(t, "should we shard?", got.Question)

	require.NoError(t, s.SetThreadProtocol(ctx, "th1", "consensus"))
	require.NoError(t, s.SetThreadStatus(ctx, "th1", ThreadComplete))

	got, err = s.GetThread(ctx, "th1")
	require.NoError(t, err)
	assert.Equal(t, ThreadComplete, got.Status)
	assert.Equal(t, "consensus", got.Protocol)
}

func TestGetThreadMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetThread(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTurnRoundUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateThread(ctx, ThreadRecord{ID: "th1", Question: "q"}))
	require.NoError(t, s.CreateTurn(ctx, TurnRecord{ID: "t1", ThreadID: "th1", Round: 1}))

	err := s.CreateTurn(ctx, TurnRecord{ID: "t2", ThreadID: "th1", Round: 1})
	assert.Error(t, err, "duplicate round in a thread must be rejected")
}

func TestThreadHistoryHydration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateThread(ctx, ThreadRecord{ID: "th1", Question: "q"}))
	require.NoError(t, s.CreateTurn(ctx, TurnRecord{ID: "t1", ThreadID: "th1", Round: 1, State: "commit"}))

	require.NoError(t, s.AddContribution(ctx, ContributionRecord{
		ID: "c1", TurnID: "t1", ModelRef: "anthropic:claude-opus-4-1", Role: RoleProposer,
		Content: "proposal", InputTokens: 100, OutputTokens: 300, CostUSD: 0.024,
	}))
	require.NoError(t, s.AddContribution(ctx, ContributionRecord{
		ID: "c2", TurnID: "t1", ModelRef: "openai:gpt-5", Role: RoleChallenger,
		Content: "I disagree", Framing: "flaw", Sycophantic: false,
	}))
	require.NoError(t, s.SaveDecision(ctx, DecisionRecord{
		TurnID: "t1", Content: "final answer", Rigor: 1.0, Confidence: 0.9, Dissent: "minor quibble",
	}))
	require.NoError(t, s.UpsertTurnSummary(ctx, SummaryRecord{OwnerID: "t1", Content: "turn summary"}))
	require.NoError(t, s.UpsertThreadSummary(ctx, SummaryRecord{OwnerID: "th1", Content: "thread summary"}))
	require.NoError(t, s.SaveVote(ctx, VoteRecord{ID: "v1", ThreadID: "th1", ModelRef: "openai:gpt-5", Content: "answer a", Selected: true}))
	require.NoError(t, s.SaveSubtask(ctx, SubtaskRecord{
		ID: "s1", ThreadID: "th1", Label: "research", DependsOn: []string{"scope"},
	}))
	_, err := s.SaveOutcome(ctx, OutcomeRecord{ThreadID: "th1", Result: OutcomeSuccess, Notes: "shipped"})
	require.NoError(t, err)

	h, err := s.GetThreadWithHistory(ctx, "th1")
	require.NoError(t, err)
	require.NotNil(t, h)
	require.Len(t, h.Turns, 1)

	turn := h.Turns[0]
	assert.Len(t, turn.Contributions, 2)
	require.NotNil(t, turn.Decision)
	assert.Equal(t, "final answer", turn.Decision.Content)
	assert.InDelta(t, 0.9, turn.Decision.Confidence, 1e-9)
	require.NotNil(t, turn.Summary)
	assert.Equal(t, "turn summary", turn.Summary.Content)

	require.NotNil(t, h.Summary)
	assert.Equal(t, "thread summary", h.Summary.Content)
	require.Len(t, h.Votes, 1)
	assert.True(t, h.Votes[0].Selected)
	require.Len(t, h.Subtasks, 1)
	assert.Equal(t, []string{"scope"}, h.Subtasks[0].DependsOn)
	require.Len(t, h.Outcomes, 1)
	assert.Equal(t, OutcomeSuccess, h.Outcomes[0].Result)
}

func TestMarkVoteSelected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateThread(ctx, ThreadRecord{ID: "th1", Question: "q"}))
	require.NoError(t, s.SaveVote(ctx, VoteRecord{ID: "v1", ThreadID: "th1", ModelRef: "a:m1", Content: "x"}))
	require.NoError(t, s.SaveVote(ctx, VoteRecord{ID: "v2", ThreadID: "th1", ModelRef: "b:m2", Content: "y"}))
	require.NoError(t, s.MarkVoteSelected(ctx, "v2"))

	h, err := s.GetThreadWithHistory(ctx, "th1")
	require.NoError(t, err)
	require.Len(t, h.Votes, 2)
	for _, v := range h.Votes {
		assert.Equal(t, v.ID == "v2", v.Selected)
	}
}

func TestSummaryUpsertReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateThread(ctx, ThreadRecord{ID: "th1", Question: "q"}))
	require.NoError(t, s.UpsertThreadSummary(ctx, SummaryRecord{OwnerID: "th1", Content: "v1"}))
	require.NoError(t, s.UpsertThreadSummary(ctx, SummaryRecord{OwnerID: "th1", Content: "v2"}))

	h, err := s.GetThreadWithHistory(ctx, "th1")
	require.NoError(t, err)
	require.NotNil(t, h.Summary)
	assert.Equal(t, "v2", h.Summary.Content)
}

func TestThreadCostSumsContributionsAndVotes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateThread(ctx, ThreadRecord{ID: "th1", Question: "q"}))
	require.NoError(t, s.CreateTurn(ctx, TurnRecord{ID: "t1", ThreadID: "th1", Round: 1}))
	require.NoError(t, s.AddContribution(ctx, ContributionRecord{ID: "c1", TurnID: "t1", ModelRef: "m", Role: RoleProposer, CostUSD: 0.10}))
	require.NoError(t, s.AddContribution(ctx, ContributionRecord{ID: "c2", TurnID: "t1", ModelRef: "m", Role: RoleChallenger, CostUSD: 0.05}))
	require.NoError(t, s.SaveVote(ctx, VoteRecord{ID: "v1", ThreadID: "th1", ModelRef: "m", CostUSD: 0.02}))

	cost, err := s.ThreadCost(ctx, "th1")
	require.NoError(t, err)
	assert.InDelta(t, 0.17, cost, 1e-9)
}

func TestOutcomesSurviveThreadDeletion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateThread(ctx, ThreadRecord{ID: "th1", Question: "q"}))
	_, err := s.SaveOutcome(ctx, OutcomeRecord{ThreadID: "th1", Result: OutcomeFailure})
	require.NoError(t, err)

	_, err = s.DB().ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, "th1")
	require.NoError(t, err)

	outcomes, err := s.ListRecentOutcomes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Empty(t, outcomes[0].ThreadID, "outcome detaches from deleted thread")
	assert.Equal(t, OutcomeFailure, outcomes[0].Result)
}

func TestListRecentDecisionsOnlyCompleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateThread(ctx, ThreadRecord{ID: "done", Question: "q1", Status: ThreadComplete}))
	require.NoError(t, s.CreateTurn(ctx, TurnRecord{ID: "t1", ThreadID: "done", Round: 1}))
	require.NoError(t, s.SaveDecision(ctx, DecisionRecord{TurnID: "t1", Content: "answer", Rigor: 1, Confidence: 0.8}))

	require.NoError(t, s.CreateThread(ctx, ThreadRecord{ID: "open", Question: "q2"}))
	require.NoError(t, s.CreateTurn(ctx, TurnRecord{ID: "t2", ThreadID: "open", Round: 1}))
	require.NoError(t, s.SaveDecision(ctx, DecisionRecord{TurnID: "t2", Content: "draft", Rigor: 1, Confidence: 0.8}))

	got, err := s.ListRecentDecisions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "done", got[0].ThreadID)
	assert.Equal(t, "q1", got[0].Question)
}

func TestSearchMatchesQuestionAndDecision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateThread(ctx, ThreadRecord{ID: "a", Question: "migrate postgres to sqlite"}))
	require.NoError(t, s.CreateThread(ctx, ThreadRecord{ID: "b", Question: "pick a queue"}))
	require.NoError(t, s.CreateTurn(ctx, TurnRecord{ID: "t1", ThreadID: "b", Round: 1}))
	require.NoError(t, s.SaveDecision(ctx, DecisionRecord{TurnID: "t1", Content: "use postgres LISTEN/NOTIFY", Rigor: 1, Confidence: 0.8}))
	require.NoError(t, s.CreateThread(ctx, ThreadRecord{ID: "c", Question: "unrelated"}))

	got, err := s.Search(ctx, "postgres", 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, th := range got {
		ids = append(ids, th.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestVaultBlobRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	salt, data, err := s.LoadVaultBlob(ctx)
	require.NoError(t, err)
	assert.Nil(t, salt)
	assert.Nil(t, data)

	require.NoError(t, s.SaveVaultBlob(ctx, []byte("salty"), map[string]string{"anthropic": "ciphertext"}))
	require.NoError(t, s.SaveVaultBlob(ctx, []byte("salty2"), map[string]string{"anthropic": "ciphertext2"}))

	salt, data, err = s.LoadVaultBlob(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("salty2"), salt)
	assert.Equal(t, map[string]string{"anthropic": "ciphertext2"}, data)
}
