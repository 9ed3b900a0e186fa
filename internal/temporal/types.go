package temporal

import (
	"github.com/quorumlabs/quorum/internal/providers"
)

// ThreadInput starts one durable consensus thread.
type ThreadInput struct {
	Question             string   `json:"question"`
	Intent               string   `json:"intent,omitempty"`
	Panel                []string `json:"panel,omitempty"`
	ProposerStrategy     string   `json:"proposer_strategy,omitempty"`
	MinChallengers       int      `json:"min_challengers"`
	MaxRounds            int      `json:"max_rounds"`
	ConvergenceThreshold float64  `json:"convergence_threshold"`
	MaxTokens            int      `json:"max_tokens"`
	CostHardLimitUSD     float64  `json:"cost_hard_limit_usd"`
	Framings             []string `json:"framings,omitempty"`
}

// ThreadOutput is the committed result of a durable thread.
type ThreadOutput struct {
	ThreadID   string  `json:"thread_id"`
	Decision   string  `json:"decision"`
	Rigor      float64 `json:"rigor"`
	Confidence float64 `json:"confidence"`
	Dissent    string  `json:"dissent,omitempty"`
	CostUSD    float64 `json:"cost_usd"`
	Rounds     int     `json:"rounds"`
}

// StartThreadInput creates the thread row before any model work.
type StartThreadInput struct {
	Question string `json:"question"`
	Protocol string `json:"protocol"`
}

// PanelInput selects the debate panel once per thread.
type PanelInput struct {
	Panel            []string `json:"panel,omitempty"`
	ProposerStrategy string   `json:"proposer_strategy,omitempty"`
	MinChallengers   int      `json:"min_challengers"`
}

// PanelOutput carries the chosen model refs; the proposer stays fixed across
// rounds.
type PanelOutput struct {
	Proposer    string   `json:"proposer"`
	Challengers []string `json:"challengers"`
}

// TurnInput creates one round's turn row.
type TurnInput struct {
	ThreadID string `json:"thread_id"`
	Round    int    `json:"round"`
}

// CallInput is one model call inside a turn. SpentUSD carries the workflow's
// accumulated spend so the budget check holds across activity boundaries.
type CallInput struct {
	ThreadID     string              `json:"thread_id"`
	TurnID       string              `json:"turn_id"`
	Ref          string              `json:"ref"`
	Role         string              `json:"role"`
	Messages     []providers.Message `json:"messages"`
	MaxTokens    int                 `json:"max_tokens"`
	Framing      string              `json:"framing,omitempty"`
	Round        int                 `json:"round"`
	SpentUSD     float64             `json:"spent_usd"`
	HardLimitUSD float64             `json:"hard_limit_usd"`
}

// CallOutput is the model's reply plus its bookkeeping.
type CallOutput struct {
	Content     string  `json:"content"`
	CostUSD     float64 `json:"cost_usd"`
	Sycophantic bool    `json:"sycophantic,omitempty"`
	Truncated   bool    `json:"truncated,omitempty"`
}

// ClassifyInput tags the question's intent on the first turn.
type ClassifyInput struct {
	ThreadID     string  `json:"thread_id"`
	TurnID       string  `json:"turn_id"`
	Question     string  `json:"question"`
	SpentUSD     float64 `json:"spent_usd"`
	HardLimitUSD float64 `json:"hard_limit_usd"`
}

// ClassifyOutput carries the intent label, empty when classification was
// unavailable.
type ClassifyOutput struct {
	Intent  string  `json:"intent,omitempty"`
	CostUSD float64 `json:"cost_usd"`
}

// DecisionInput commits one round's outcome.
type DecisionInput struct {
	ThreadID   string  `json:"thread_id"`
	TurnID     string  `json:"turn_id"`
	Round      int     `json:"round"`
	Content    string  `json:"content"`
	Rigor      float64 `json:"rigor"`
	Confidence float64 `json:"confidence"`
	Dissent    string  `json:"dissent,omitempty"`
	Intent     string  `json:"intent,omitempty"`
}

// FinishThreadInput closes the thread row.
type FinishThreadInput struct {
	ThreadID string `json:"thread_id"`
	Status   string `json:"status"`
}

// SummarizeInput regenerates the turn and thread summaries after a commit.
type SummarizeInput struct {
	ThreadID string `json:"thread_id"`
	TurnID   string `json:"turn_id"`
	Question string `json:"question"`
	Decision string `json:"decision"`
}
