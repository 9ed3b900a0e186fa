package recall

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/quorum/internal/store"
)

func seedStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "recall.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addDecision(t *testing.T, s *store.SQLiteStore, threadID, question, answer, dissent string, conf float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateThread(ctx, store.ThreadRecord{ID: threadID, Question: question, Status: store.ThreadComplete}))
	require.NoError(t, s.CreateTurn(ctx, store.TurnRecord{ID: threadID + "-t1", ThreadID: threadID, Round: 1}))
	require.NoError(t, s.SaveDecision(ctx, store.DecisionRecord{
		TurnID: threadID + "-t1", Content: answer, Rigor: 1, Confidence: conf, Dissent: dissent,
	}))
}

func TestBuildEmptyStore(t *testing.T) {
	b := NewBuilder(seedStore(t))
	got, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBuildIncludesDecisionAndOutcome(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	addDecision(t, s, "th1", "use kafka?", "yes, for the event log", "redis streams would do", 0.82)
	_, err := s.SaveOutcome(ctx, store.OutcomeRecord{ThreadID: "th1", Result: store.OutcomeSuccess, Notes: "in prod"})
	require.NoError(t, err)

	got, err := NewBuilder(s).Build(ctx)
	require.NoError(t, err)
	assert.Contains(t, got, "Q: use kafka?")
	assert.Contains(t, got, "[confidence: 82%]")
	assert.Contains(t, got, "Dissent: redis streams would do")
	assert.Contains(t, got, "[OUTCOME: success - in prod]")
}

func TestBuildDropsWholeItemsOverBudget(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	long := strings.Repeat("x", 2000)
	addDecision(t, s, "th1", "big question", long, "", 0.9)
	addDecision(t, s, "th2", "small question", "short answer", "", 0.9)

	// Budget fits only the small decision. The large one is skipped whole,
	// never truncated.
	got, err := NewBuilder(s).WithTokenBudget(60).Build(ctx)
	require.NoError(t, err)
	assert.Contains(t, got, "small question")
	assert.NotContains(t, got, "xxxx")
}

func TestBuildZeroBudgetDisablesRecall(t *testing.T) {
	s := seedStore(t)
	addDecision(t, s, "th1", "q", "a", "", 0.9)

	got, err := NewBuilder(s).WithTokenBudget(0).Build(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBuildForThread(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateThread(ctx, store.ThreadRecord{ID: "th1", Question: "q"}))
	require.NoError(t, s.CreateTurn(ctx, store.TurnRecord{ID: "t1", ThreadID: "th1", Round: 1}))
	require.NoError(t, s.SaveDecision(ctx, store.DecisionRecord{TurnID: "t1", Content: "round one answer", Rigor: 1, Confidence: 0.75, Dissent: "one holdout"}))
	require.NoError(t, s.UpsertThreadSummary(ctx, store.SummaryRecord{OwnerID: "th1", Content: "debated storage engines"}))

	got, err := NewBuilder(s).BuildForThread(ctx, "th1")
	require.NoError(t, err)
	assert.Contains(t, got, "Thread so far: debated storage engines")
	assert.Contains(t, got, "Round 1 decision: round one answer [confidence: 75%]")
	assert.Contains(t, got, "Dissent: one holdout")
}
