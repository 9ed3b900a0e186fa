package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/quorum/internal/providers"
)

func poolRegistry(t *testing.T) *Registry {
	t.Helper()
	anthropic := &mockAdapter{id: "anthropic", models: []providers.ModelInfo{
		model("anthropic", "claude-opus-4-1", 15, 75, true),
		model("anthropic", "claude-sonnet-4-5", 3, 15, true),
		model("anthropic", "claude-haiku-4-5", 1, 5, false),
	}}
	openai := &mockAdapter{id: "openai", models: []providers.ModelInfo{
		model("openai", "gpt-5", 1.25, 10, true),
		model("openai", "gpt-5-nano", 0.05, 0.4, false),
	}}
	return newTestRegistry(t, anthropic, openai)
}

func TestProposerTopCost(t *testing.T) {
	s := NewSelector(poolRegistry(t), nil, StrategyTopCost)
	m, err := s.Proposer()
	require.NoError(t, err)
	assert.Equal(t, "anthropic:claude-opus-4-1", m.Ref)
}

func TestProposerTopCostLexicalTiebreak(t *testing.T) {
	a := &mockAdapter{id: "p", models: []providers.ModelInfo{
		model("p", "beta", 1, 10, true),
		model("p", "alpha", 1, 10, true),
	}}
	s := NewSelector(newTestRegistry(t, a), nil, StrategyTopCost)
	m, err := s.Proposer()
	require.NoError(t, err)
	assert.Equal(t, "p:alpha", m.Ref)
}

func TestProposerRoundRobinRotates(t *testing.T) {
	s := NewSelector(poolRegistry(t), nil, StrategyRoundRobin)
	var seen []string
	for i := 0; i < 3; i++ {
		m, err := s.Proposer()
		require.NoError(t, err)
		seen = append(seen, m.Ref)
	}
	// Three eligible models, visited in ref order.
	assert.Equal(t, []string{
		"anthropic:claude-opus-4-1",
		"anthropic:claude-sonnet-4-5",
		"openai:gpt-5",
	}, seen)
}

func TestProposerFixed(t *testing.T) {
	s := NewSelector(poolRegistry(t), nil, "fixed:openai:gpt-5")
	m, err := s.Proposer()
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-5", m.Ref)
}

func TestProposerNoneEligible(t *testing.T) {
	a := &mockAdapter{id: "p", models: []providers.ModelInfo{
		model("p", "cheap", 0.1, 0.5, false),
	}}
	s := NewSelector(newTestRegistry(t, a), nil, StrategyTopCost)
	_, err := s.Proposer()
	assert.Error(t, err)
}

func TestPanelRestrictsPool(t *testing.T) {
	s := NewSelector(poolRegistry(t), []string{"openai:gpt-5"}, StrategyTopCost)
	m, err := s.Proposer()
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-5", m.Ref)
}

func TestChallengersCrossProviderFirst(t *testing.T) {
	s := NewSelector(poolRegistry(t), nil, StrategyTopCost)
	proposer, err := s.Proposer()
	require.NoError(t, err)

	// With a single other provider, its alternate fills the second slot
	// before any same-provider model.
	ch, err := s.Challengers(proposer, 2)
	require.NoError(t, err)
	require.Len(t, ch, 2)
	assert.Equal(t, "openai:gpt-5", ch[0].Ref)
	assert.Equal(t, "openai:gpt-5-nano", ch[1].Ref)
}

func TestChallengersOnePerProviderFirst(t *testing.T) {
	ant := &mockAdapter{id: "anthropic", models: []providers.ModelInfo{
		model("anthropic", "claude-opus-4-1", 15, 75, true),
	}}
	oai := &mockAdapter{id: "openai", models: []providers.ModelInfo{
		model("openai", "gpt-5", 1.25, 10, true),
		model("openai", "gpt-5-mini", 0.25, 2, true),
	}}
	goog := &mockAdapter{id: "google", models: []providers.ModelInfo{
		model("google", "gemini-2.5-pro", 1.25, 10, true),
	}}
	s := NewSelector(newTestRegistry(t, ant, oai, goog), nil, StrategyTopCost)
	proposer, err := s.Proposer()
	require.NoError(t, err)
	require.Equal(t, "anthropic:claude-opus-4-1", proposer.Ref)

	// Each remaining provider seats one model before any vendor seats two.
	ch, err := s.Challengers(proposer, 2)
	require.NoError(t, err)
	require.Len(t, ch, 2)
	assert.Equal(t, "google:gemini-2.5-pro", ch[0].Ref)
	assert.Equal(t, "openai:gpt-5", ch[1].Ref)

	// A wider panel then admits the vendor alternate.
	ch, err = s.Challengers(proposer, 3)
	require.NoError(t, err)
	require.Len(t, ch, 3)
	assert.Equal(t, "openai:gpt-5-mini", ch[2].Ref)
}

func TestChallengersFallBackToSameProvider(t *testing.T) {
	a := &mockAdapter{id: "anthropic", models: []providers.ModelInfo{
		model("anthropic", "claude-opus-4-1", 15, 75, true),
		model("anthropic", "claude-sonnet-4-5", 3, 15, true),
	}}
	s := NewSelector(newTestRegistry(t, a), nil, StrategyTopCost)
	proposer, err := s.Proposer()
	require.NoError(t, err)

	ch, err := s.Challengers(proposer, 2)
	require.NoError(t, err)
	require.Len(t, ch, 2)
	assert.Equal(t, "anthropic:claude-sonnet-4-5", ch[0].Ref)
	assert.Equal(t, proposer.Ref, ch[1].Ref, "self-ensemble fills when the pool runs out")
}

func TestChallengersSingleModelSelfEnsemble(t *testing.T) {
	a := &mockAdapter{id: "vllm", models: []providers.ModelInfo{
		model("vllm", "meta-llama/Llama-3.3-70B", 0, 0, true),
	}}
	s := NewSelector(newTestRegistry(t, a), nil, StrategyTopCost)
	proposer, err := s.Proposer()
	require.NoError(t, err)

	ch, err := s.Challengers(proposer, 2)
	require.NoError(t, err)
	require.Len(t, ch, 2)
	assert.Equal(t, proposer.Ref, ch[0].Ref)
	assert.Equal(t, proposer.Ref, ch[1].Ref)
}

func TestCheapestByInputRate(t *testing.T) {
	s := NewSelector(poolRegistry(t), nil, StrategyTopCost)
	m, err := s.Cheapest()
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-5-nano", m.Ref)
}

func TestVotersSorted(t *testing.T) {
	s := NewSelector(poolRegistry(t), nil, StrategyTopCost)
	voters := s.Voters()
	require.Len(t, voters, 5)
	for i := 1; i < len(voters); i++ {
		assert.Less(t, voters[i-1].Ref, voters[i].Ref)
	}
}
