package consensus

import (
	"fmt"
	"strings"
	"time"

	"github.com/quorumlabs/quorum/internal/providers"
)

// Challenge framings, rotated round-robin across challengers.
const (
	FramingFlaw           = "flaw"
	FramingAlternative    = "alternative"
	FramingRisk           = "risk"
	FramingDevilsAdvocate = "devils-advocate"
)

// DefaultFramings is the full rotation.
var DefaultFramings = []string{FramingFlaw, FramingAlternative, FramingRisk, FramingDevilsAdvocate}

var framingInstructions = map[string]string{
	FramingFlaw:           "Focus on concrete flaws: factual errors, logical gaps, missing considerations.",
	FramingAlternative:    "Argue for a substantively different approach than the one proposed.",
	FramingRisk:           "Focus on risks, failure modes and second-order consequences the proposal ignores.",
	FramingDevilsAdvocate: "Take the strongest opposing position you can defend, even if you suspect the proposal is broadly right.",
}

func systemPrompt(now time.Time) string {
	return fmt.Sprintf(
		"Today's date is %s. You are an expert advisor on a decision panel. "+
			"Be direct and specific; ground claims in reasoning the reader can check.",
		now.Format("2006-01-02"))
}

func proposeMessages(now time.Time, question, recallBlock string, prev *RoundArchive, prevChallenges []Challenge) []providers.Message {
	var user strings.Builder
	if recallBlock != "" {
		user.WriteString(recallBlock)
		user.WriteString("\n")
	}
	user.WriteString("Question: ")
	user.WriteString(question)
	if prev != nil {
		user.WriteString("\n\nYour previous answer after debate:\n")
		user.WriteString(prev.Decision)
		// Every previous challenge feeds the redraft, including ones flagged
		// sycophantic; the flag only keeps them out of rigor and dissent.
		if len(prevChallenges) > 0 {
			user.WriteString("\n\nObjections raised against it:\n")
			for _, c := range prevChallenges {
				fmt.Fprintf(&user, "\n[%s]:\n%s\n", c.ModelRef, c.Content)
			}
		} else if prev.Dissent != "" {
			user.WriteString("\n\nObjections raised against it:\n")
			user.WriteString(prev.Dissent)
		}
		user.WriteString("\n\nProduce an improved answer that resolves these objections where they are right and stands firm where they are wrong.")
	} else {
		user.WriteString("\n\nGive your best, complete answer.")
	}
	return []providers.Message{
		{Role: providers.RoleSystem, Content: systemPrompt(now)},
		{Role: providers.RoleUser, Content: user.String()},
	}
}

func challengeMessages(now time.Time, question, proposal, framing string) []providers.Message {
	system := systemPrompt(now) +
		" Your role in this round is adversarial review. You must disagree substantively."
	user := fmt.Sprintf(
		"Question: %s\n\nProposed answer:\n%s\n\n"+
			"Critique this proposal. Do not start with praise. Find at least one substantive "+
			"disagreement. If the proposal recommends X, argue for a credible alternative to X. %s",
		question, proposal, framingInstructions[framing])
	return []providers.Message{
		{Role: providers.RoleSystem, Content: system},
		{Role: providers.RoleUser, Content: user},
	}
}

func reviseMessages(now time.Time, question, proposal string, challenges []Challenge) []providers.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\nYour original answer:\n%s\n\nReviewer critiques:\n", question, proposal)
	for _, c := range challenges {
		fmt.Fprintf(&sb, "\n[%s]:\n%s\n", c.ModelRef, c.Content)
	}
	sb.WriteString("\nRewrite your answer. Address each critique directly: keep what was right, " +
		"adopt alternatives that are genuinely better, and push back with an explanation where a " +
		"critique is wrong. Write the final answer as a standalone piece; do not mention the review process.")
	return []providers.Message{
		{Role: providers.RoleSystem, Content: systemPrompt(now)},
		{Role: providers.RoleUser, Content: sb.String()},
	}
}

func decomposeMessages(question string, minSubtasks, maxSubtasks int) []providers.Message {
	system := "You decompose complex questions into independent subtasks. Reply with JSON only, no prose."
	user := fmt.Sprintf(
		"Decompose this question into %d to %d subtasks:\n\n%s\n\n"+
			`Reply with a JSON array of objects: [{"label": "A", "description": "...", "depends_on": []}]. `+
			"Labels must be short unique identifiers. depends_on lists labels of subtasks whose output "+
			"this subtask needs. The dependency graph must be acyclic. If the question does not benefit "+
			"from decomposition, return a single subtask.",
		minSubtasks, maxSubtasks, question)
	return []providers.Message{
		{Role: providers.RoleSystem, Content: system},
		{Role: providers.RoleUser, Content: user},
	}
}

// Synthesis strategies for merging subtask results.
const (
	SynthesisMerge      = "merge"
	SynthesisPrioritize = "prioritize"
)

func synthesisMessages(now time.Time, question, strategy string, subtasks []SubtaskResult) []providers.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Original question: %s\n\nThe question was split into subtasks, each answered by a separate debate:\n", question)
	for _, st := range subtasks {
		fmt.Fprintf(&sb, "\n[%s] %s (rigor %.2f, confidence %.2f):\n%s\n",
			st.Label, st.Description, st.Rigor, st.Confidence, st.Result)
	}
	if strategy == SynthesisPrioritize {
		sb.WriteString("\nSynthesize one final answer. Where subtask answers conflict, prefer the one with higher rigor and confidence.")
	} else {
		sb.WriteString("\nCombine the subtask answers into one coherent final answer to the original question.")
	}
	return []providers.Message{
		{Role: providers.RoleSystem, Content: systemPrompt(now)},
		{Role: providers.RoleUser, Content: sb.String()},
	}
}

func summaryMessages(question string, decision string) []providers.Message {
	return []providers.Message{
		{Role: providers.RoleSystem, Content: "Summarize in at most three sentences. No preamble."},
		{Role: providers.RoleUser, Content: fmt.Sprintf("Question: %s\n\nDecision: %s", question, decision)},
	}
}
