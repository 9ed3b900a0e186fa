// Package store is the durable substrate the orchestrator consumes and
// produces: threads, turns, contributions, decisions, outcomes, votes,
// subtasks and summaries, with the relational invariants between them.
package store

import (
	"context"
	"time"
)

// Thread status values.
const (
	ThreadActive   = "active"
	ThreadComplete = "complete"
	ThreadFailed   = "failed"
)

// Contribution roles.
const (
	RoleProposer   = "proposer"
	RoleChallenger = "challenger"
	RoleReviser    = "reviser"
	RoleDecomposer = "decomposer"
	RoleJudge      = "judge"
	RoleSummarizer = "summarizer"
	RoleClassifier = "classifier"
)

// Outcome results.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailure = "failure"
	OutcomeUnknown = "unknown"
)

// ThreadRecord is one debate session.
type ThreadRecord struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Status    string    `json:"status"`
	Protocol  string    `json:"protocol,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TurnRecord is one round within a thread. Round numbers are contiguous
// starting at 1 and unique within the thread.
type TurnRecord struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Round     int       `json:"round"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// ContributionRecord is one model utterance within a turn.
type ContributionRecord struct {
	ID           string    `json:"id"`
	TurnID       string    `json:"turn_id"`
	ModelRef     string    `json:"model_ref"`
	Role         string    `json:"role"`
	Content      string    `json:"content"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	LatencyMs    float64   `json:"latency_ms"`
	Framing      string    `json:"framing,omitempty"`
	Sycophantic  bool      `json:"sycophantic,omitempty"`
	Truncated    bool      `json:"truncated,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// DecisionRecord is the committed answer for a turn. At most one per turn.
type DecisionRecord struct {
	TurnID     string    `json:"turn_id"`
	Content    string    `json:"content"`
	Rigor      float64   `json:"rigor"`
	Confidence float64   `json:"confidence"`
	Dissent    string    `json:"dissent,omitempty"`
	Intent     string    `json:"intent,omitempty"`
	Category   string    `json:"category,omitempty"`
	Genus      string    `json:"genus,omitempty"`
	Complexity string    `json:"complexity,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// OutcomeRecord is user-supplied feedback on a decision, recorded after the
// fact. Outcomes are append-only and survive thread deletion.
type OutcomeRecord struct {
	ID        int64     `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Result    string    `json:"result"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// VoteRecord is one model's independent answer in the voting protocol.
type VoteRecord struct {
	ID           string    `json:"id"`
	ThreadID     string    `json:"thread_id"`
	ModelRef     string    `json:"model_ref"`
	Content      string    `json:"content"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	Selected     bool      `json:"selected"`
	CreatedAt    time.Time `json:"created_at"`
}

// SubtaskRecord is one node of a decomposition DAG, persisted only after
// synthesis completes.
type SubtaskRecord struct {
	ID          string    `json:"id"`
	ThreadID    string    `json:"thread_id"`
	Label       string    `json:"label"`
	Description string    `json:"description"`
	DependsOn   []string  `json:"depends_on,omitempty"`
	Result      string    `json:"result,omitempty"`
	CostUSD     float64   `json:"cost_usd"`
	CreatedAt   time.Time `json:"created_at"`
}

// SummaryRecord is a per-turn or per-thread summary. Regenerated, not
// appended: saving twice for the same owner produces one row.
type SummaryRecord struct {
	OwnerID   string    `json:"owner_id"` // turn id or thread id
	Content   string    `json:"content"`
	ModelRef  string    `json:"model_ref"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TurnHistory is a turn with its children, as returned by GetThreadWithHistory.
type TurnHistory struct {
	Turn          TurnRecord           `json:"turn"`
	Contributions []ContributionRecord `json:"contributions"`
	Decision      *DecisionRecord      `json:"decision,omitempty"`
	Summary       *SummaryRecord       `json:"summary,omitempty"`
}

// ThreadHistory is a fully-hydrated thread.
type ThreadHistory struct {
	Thread   ThreadRecord    `json:"thread"`
	Turns    []TurnHistory   `json:"turns"`
	Votes    []VoteRecord    `json:"votes,omitempty"`
	Subtasks []SubtaskRecord `json:"subtasks,omitempty"`
	Outcomes []OutcomeRecord `json:"outcomes,omitempty"`
	Summary  *SummaryRecord  `json:"summary,omitempty"`
}

// RecalledDecision pairs a past decision with its thread for context building.
type RecalledDecision struct {
	ThreadID   string    `json:"thread_id"`
	Question   string    `json:"question"`
	Content    string    `json:"content"`
	Confidence float64   `json:"confidence"`
	Dissent    string    `json:"dissent,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is the persistence handle the orchestrator runs against. One
// orchestrator run owns one store session; no two runs share one.
type Store interface {
	Migrate(ctx context.Context) error
	Close() error

	CreateThread(ctx context.Context, t ThreadRecord) error
	SetThreadStatus(ctx context.Context, id, status string) error
	SetThreadProtocol(ctx context.Context, id, protocol string) error
	GetThread(ctx context.Context, id string) (*ThreadRecord, error)

	CreateTurn(ctx context.Context, t TurnRecord) error
	SetTurnState(ctx context.Context, id, state string) error

	AddContribution(ctx context.Context, c ContributionRecord) error
	SaveDecision(ctx context.Context, d DecisionRecord) error
	SaveOutcome(ctx context.Context, o OutcomeRecord) (int64, error)
	SaveVote(ctx context.Context, v VoteRecord) error
	MarkVoteSelected(ctx context.Context, id string) error
	SaveSubtask(ctx context.Context, s SubtaskRecord) error

	UpsertTurnSummary(ctx context.Context, s SummaryRecord) error
	UpsertThreadSummary(ctx context.Context, s SummaryRecord) error

	SaveVaultBlob(ctx context.Context, salt []byte, data map[string]string) error
	LoadVaultBlob(ctx context.Context) ([]byte, map[string]string, error)

	GetThreadWithHistory(ctx context.Context, id string) (*ThreadHistory, error)
	ThreadCost(ctx context.Context, id string) (float64, error)
	ListRecentDecisions(ctx context.Context, limit int) ([]RecalledDecision, error)
	ListRecentOutcomes(ctx context.Context, limit int) ([]OutcomeRecord, error)
	Search(ctx context.Context, keyword string, limit int) ([]ThreadRecord, error)
}
