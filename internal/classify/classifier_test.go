package classify

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/quorum/internal/consensus"
	"github.com/quorumlabs/quorum/internal/health"
	"github.com/quorumlabs/quorum/internal/metrics"
	"github.com/quorumlabs/quorum/internal/providers"
	"github.com/quorumlabs/quorum/internal/registry"
	"github.com/quorumlabs/quorum/internal/stats"
	"github.com/quorumlabs/quorum/internal/store"
)

type fixedAdapter struct {
	id      string
	models  []providers.ModelInfo
	content string
}

func (a *fixedAdapter) ID() string { return a.id }

func (a *fixedAdapter) ListModels(context.Context) ([]providers.ModelInfo, error) {
	return a.models, nil
}

func (a *fixedAdapter) Send(context.Context, string, providers.Request) (*providers.Response, error) {
	return &providers.Response{
		Content:      a.content,
		Usage:        providers.Usage{InputTokens: 10, OutputTokens: 5},
		FinishReason: providers.FinishStop,
	}, nil
}

func (a *fixedAdapter) Stream(context.Context, string, providers.Request) (<-chan providers.Chunk, error) {
	ch := make(chan providers.Chunk)
	close(ch)
	return ch, nil
}

func (a *fixedAdapter) Health(context.Context) bool { return true }

func (a *fixedAdapter) ClassifyError(err error) error { return err }

func harness(t *testing.T, content string) (*Classifier, *registry.Budget) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "classify.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	require.NoError(t, st.CreateThread(ctx, store.ThreadRecord{ID: "th", Question: "q"}))
	require.NoError(t, st.CreateTurn(ctx, store.TurnRecord{ID: "t1", ThreadID: "th", Round: 1}))

	reg := registry.New(slog.Default(), health.NewTracker(health.DefaultConfig()), stats.NewCollector(), metrics.New())
	a := &fixedAdapter{id: "p", content: content, models: []providers.ModelInfo{{
		Ref: "p:cheap", ProviderID: "p", Model: "cheap",
		ContextWindow: 8192, MaxOutput: 1024, InputPerMTok: 0.1, OutputPerMTok: 0.4,
	}}}
	require.NoError(t, reg.RegisterAdapter(ctx, a))

	c, err := New(slog.Default(), reg, st)
	require.NoError(t, err)
	return c, registry.NewBudget(0, 0)
}

func TestProtocolReasoning(t *testing.T) {
	c, budget := harness(t, `{"kind": "reasoning"}`)
	p, err := c.Protocol(context.Background(), "t1", "how should we shard the database?", budget)
	require.NoError(t, err)
	assert.Equal(t, consensus.ProtocolConsensus, p)
}

func TestProtocolJudgment(t *testing.T) {
	c, budget := harness(t, `{"kind": "judgment"}`)
	p, err := c.Protocol(context.Background(), "t1", "which logo looks better?", budget)
	require.NoError(t, err)
	assert.Equal(t, consensus.ProtocolVoting, p)
}

func TestProtocolRejectsInvalidOutput(t *testing.T) {
	c, budget := harness(t, `{"kind": "vibes"}`)
	_, err := c.Protocol(context.Background(), "t1", "q", budget)
	assert.Error(t, err, "enum violation fails validation")
}

func TestClassifyTaxonomy(t *testing.T) {
	c, budget := harness(t, `{"intent": "strategic", "category": "architecture", "genus": "tradeoff", "complexity": "complex"}`)
	tax, err := c.Classify(context.Background(), "t1", "monolith or microservices?", budget)
	require.NoError(t, err)
	assert.Equal(t, "strategic", tax.Intent)
	assert.Equal(t, "architecture", tax.Category)
	assert.Equal(t, "complex", tax.Complexity)
}

func TestClassifyToleratesCodeFence(t *testing.T) {
	c, budget := harness(t, "```json\n{\"intent\": \"factual\"}\n```")
	tax, err := c.Classify(context.Background(), "t1", "what year was Go released?", budget)
	require.NoError(t, err)
	assert.Equal(t, "factual", tax.Intent)
}

func TestClassifyRejectsGarbage(t *testing.T) {
	c, budget := harness(t, "sure! here's my analysis...")
	_, err := c.Classify(context.Background(), "t1", "q", budget)
	assert.Error(t, err)
}
