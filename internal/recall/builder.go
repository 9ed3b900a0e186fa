// Package recall builds the memory block injected into debate prompts from
// past decisions and their observed outcomes.
package recall

import (
	"context"
	"fmt"
	"strings"

	"github.com/quorumlabs/quorum/internal/store"
)

// DefaultTokenBudget caps the recall block at roughly 2000 tokens.
const DefaultTokenBudget = 2000

// Builder assembles recall context from the store.
type Builder struct {
	store       store.Store
	tokenBudget int
	maxItems    int
}

func NewBuilder(s store.Store) *Builder {
	return &Builder{store: s, tokenBudget: DefaultTokenBudget, maxItems: 10}
}

// WithTokenBudget overrides the default budget. Zero or negative disables
// recall entirely.
func (b *Builder) WithTokenBudget(tokens int) *Builder {
	b.tokenBudget = tokens
	return b
}

// estimateTokens approximates token count at four characters per token.
func estimateTokens(s string) int {
	return len(s) / 4
}

// Build returns the recall block for a new thread: past decisions newest
// first, each annotated with its confidence and any recorded outcome.
// Items are dropped whole, never truncated, when the budget runs out.
func (b *Builder) Build(ctx context.Context) (string, error) {
	if b.tokenBudget <= 0 {
		return "", nil
	}

	decisions, err := b.store.ListRecentDecisions(ctx, b.maxItems)
	if err != nil {
		return "", err
	}
	if len(decisions) == 0 {
		return "", nil
	}
	outcomes, err := b.store.ListRecentOutcomes(ctx, b.maxItems*2)
	if err != nil {
		return "", err
	}
	outcomeByThread := make(map[string]store.OutcomeRecord)
	for _, o := range outcomes {
		// Newest first; keep only the most recent outcome per thread.
		if o.ThreadID == "" {
			continue
		}
		if _, seen := outcomeByThread[o.ThreadID]; !seen {
			outcomeByThread[o.ThreadID] = o
		}
	}

	var sb strings.Builder
	header := "Prior decisions from this system, newest first:\n"
	remaining := b.tokenBudget - estimateTokens(header)

	var items []string
	for _, d := range decisions {
		item := b.formatDecision(d, outcomeByThread)
		cost := estimateTokens(item)
		if cost > remaining {
			continue
		}
		remaining -= cost
		items = append(items, item)
	}
	if len(items) == 0 {
		return "", nil
	}

	sb.WriteString(header)
	for _, it := range items {
		sb.WriteString(it)
	}
	return sb.String(), nil
}

// BuildForThread returns the in-thread context for a later round: the thread
// summary first, then committed decisions of earlier turns.
func (b *Builder) BuildForThread(ctx context.Context, threadID string) (string, error) {
	if b.tokenBudget <= 0 {
		return "", nil
	}
	h, err := b.store.GetThreadWithHistory(ctx, threadID)
	if err != nil {
		return "", err
	}
	if h == nil {
		return "", nil
	}

	remaining := b.tokenBudget
	var sb strings.Builder

	if h.Summary != nil && h.Summary.Content != "" {
		block := "Thread so far: " + h.Summary.Content + "\n"
		if cost := estimateTokens(block); cost <= remaining {
			sb.WriteString(block)
			remaining -= cost
		}
	}
	for i := len(h.Turns) - 1; i >= 0; i-- {
		turn := h.Turns[i]
		if turn.Decision == nil {
			continue
		}
		block := fmt.Sprintf("Round %d decision: %s [confidence: %.0f%%]\n",
			turn.Turn.Round, turn.Decision.Content, turn.Decision.Confidence*100)
		if turn.Decision.Dissent != "" {
			block += "  Dissent: " + turn.Decision.Dissent + "\n"
		}
		if cost := estimateTokens(block); cost <= remaining {
			sb.WriteString(block)
			remaining -= cost
		}
	}
	return sb.String(), nil
}

func (b *Builder) formatDecision(d store.RecalledDecision, outcomes map[string]store.OutcomeRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "- Q: %s\n  A: %s [confidence: %.0f%%]\n", d.Question, d.Content, d.Confidence*100)
	if d.Dissent != "" {
		sb.WriteString("  Dissent: " + d.Dissent + "\n")
	}
	if o, ok := outcomes[d.ThreadID]; ok {
		sb.WriteString("  [OUTCOME: " + o.Result)
		if o.Notes != "" {
			sb.WriteString(" - " + o.Notes)
		}
		sb.WriteString("]\n")
	}
	return sb.String()
}
