package consensus

import (
	"github.com/quorumlabs/quorum/internal/fault"
	"github.com/quorumlabs/quorum/internal/providers"
	"github.com/quorumlabs/quorum/internal/registry"
)

// State names the stages of one debate thread.
type State string

const (
	StateIdle      State = "idle"
	StateDecompose State = "decompose"
	StatePropose   State = "propose"
	StateChallenge State = "challenge"
	StateRevise    State = "revise"
	StateCommit    State = "commit"
	StateComplete  State = "complete"
	StateFailed    State = "failed"
)

// Challenge is one challenger's critique of the current proposal.
type Challenge struct {
	ModelRef    string
	Content     string
	Framing     string
	Sycophantic bool
	Truncated   bool
}

// RoundArchive is the frozen snapshot of a finished round.
type RoundArchive struct {
	Round             int     `json:"round"`
	Proposal          string  `json:"proposal"`
	ProposalTruncated bool    `json:"proposal_truncated,omitempty"`
	ChallengeCount    int     `json:"challenge_count"`
	GenuineCount      int     `json:"genuine_count"`
	Revision          string  `json:"revision"`
	Decision          string  `json:"decision"`
	Rigor             float64 `json:"rigor"`
	Confidence        float64 `json:"confidence"`
	Dissent           string  `json:"dissent,omitempty"`
}

// run is the mutable context of one orchestrator execution. Phase handlers
// fill its working fields; the transition guards check them.
type run struct {
	threadID string
	question string

	state     State
	round     int
	maxRounds int

	proposer providers.ModelInfo
	budget   *registry.Budget

	// Per-round working fields, cleared on archive.
	turnID            string
	proposal          string
	proposalTruncated bool
	challenges        []Challenge
	revision          string
	revisionTruncated bool

	// Commit output.
	decision   string
	rigor      float64
	confidence float64
	dissent    string

	// Classifier taxonomy, set once.
	intent     string
	category   string
	genus      string
	complexity string

	converged       bool
	recallBlock     string
	prevChallenges  []Challenge // previous round, for convergence comparison
	history         []RoundArchive
	truncatedPhases []string
}

func newRun(threadID, question string, maxRounds int, budget *registry.Budget) *run {
	return &run{
		threadID:  threadID,
		question:  question,
		state:     StateIdle,
		round:     1,
		maxRounds: maxRounds,
		budget:    budget,
	}
}

// transition moves the run to a new state, enforcing the guard for that edge.
// Invalid transitions are programming errors and fail fast.
func (r *run) transition(to State) error {
	if r.state == StateComplete || r.state == StateFailed {
		return fault.New(fault.KindInvalidState, "transition %s -> %s from terminal state", r.state, to)
	}
	if to == StateFailed {
		r.state = StateFailed
		return nil
	}

	ok := false
	switch {
	case r.state == StateIdle && to == StatePropose:
		ok = r.question != ""
	case r.state == StateIdle && to == StateDecompose:
		ok = r.question != ""
	case r.state == StateDecompose && to == StatePropose:
		ok = true // decompose fell through to plain consensus
	case r.state == StatePropose && to == StateChallenge:
		ok = r.proposal != ""
	case r.state == StateChallenge && to == StateRevise:
		ok = len(r.challenges) > 0
	case r.state == StateRevise && to == StateCommit:
		ok = r.revision != ""
	case r.state == StateCommit && to == StatePropose:
		ok = !r.converged && r.round < r.maxRounds
	case r.state == StateCommit && to == StateComplete:
		ok = r.converged || r.round >= r.maxRounds
	}
	if !ok {
		return fault.New(fault.KindInvalidState, "transition %s -> %s rejected", r.state, to)
	}
	r.state = to
	return nil
}

// archiveRound freezes the finished round into history, clears the working
// fields, and advances the round counter.
func (r *run) archiveRound() {
	genuine := 0
	for _, c := range r.challenges {
		if !c.Sycophantic {
			genuine++
		}
	}
	r.history = append(r.history, RoundArchive{
		Round:             r.round,
		Proposal:          r.proposal,
		ProposalTruncated: r.proposalTruncated,
		ChallengeCount:    len(r.challenges),
		GenuineCount:      genuine,
		Revision:          r.revision,
		Decision:          r.decision,
		Rigor:             r.rigor,
		Confidence:        r.confidence,
		Dissent:           r.dissent,
	})

	r.prevChallenges = r.challenges
	r.turnID = ""
	r.proposal = ""
	r.proposalTruncated = false
	r.challenges = nil
	r.revision = ""
	r.revisionTruncated = false
	r.decision = ""
	r.rigor = 0
	r.confidence = 0
	r.dissent = ""
	r.round++
}

// prevChallenges returns the previous round's challenge texts for convergence
// comparison and for the next proposal prompt.
func (r *run) prevArchive() *RoundArchive {
	if len(r.history) == 0 {
		return nil
	}
	return &r.history[len(r.history)-1]
}

func (r *run) markTruncated(phase string) {
	for _, p := range r.truncatedPhases {
		if p == phase {
			return
		}
	}
	r.truncatedPhases = append(r.truncatedPhases, phase)
}
