package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/quorum/internal/fault"
)

func TestTransitionHappyPath(t *testing.T) {
	r := newRun("th", "q", 3, nil)

	require.NoError(t, r.transition(StatePropose))
	r.proposal = "draft"
	require.NoError(t, r.transition(StateChallenge))
	r.challenges = []Challenge{{ModelRef: "m", Content: "objection"}}
	require.NoError(t, r.transition(StateRevise))
	r.revision = "revised"
	require.NoError(t, r.transition(StateCommit))

	// Not converged, rounds remain.
	require.NoError(t, r.transition(StatePropose))
	r.archiveRound()
	assert.Equal(t, 2, r.round)
	assert.Empty(t, r.proposal)
	assert.Len(t, r.history, 1)
	assert.Len(t, r.prevChallenges, 1)
}

func TestTransitionGuards(t *testing.T) {
	r := newRun("th", "", 3, nil)
	err := r.transition(StatePropose)
	require.Error(t, err, "empty question blocks the start")
	assert.Equal(t, fault.KindInvalidState, fault.KindOf(err))

	r = newRun("th", "q", 3, nil)
	require.NoError(t, r.transition(StatePropose))
	err = r.transition(StateChallenge)
	assert.Error(t, err, "no proposal set")

	r.proposal = "draft"
	require.NoError(t, r.transition(StateChallenge))
	err = r.transition(StateRevise)
	assert.Error(t, err, "no challenges returned")
}

func TestTransitionCommitToComplete(t *testing.T) {
	r := newRun("th", "q", 1, nil)
	require.NoError(t, r.transition(StatePropose))
	r.proposal = "p"
	require.NoError(t, r.transition(StateChallenge))
	r.challenges = []Challenge{{Content: "c"}}
	require.NoError(t, r.transition(StateRevise))
	r.revision = "rev"
	require.NoError(t, r.transition(StateCommit))

	// max_rounds reached: PROPOSE is no longer allowed, COMPLETE is.
	assert.Error(t, r.transition(StatePropose))
	require.NoError(t, r.transition(StateComplete))
	assert.Error(t, r.transition(StatePropose), "terminal state rejects everything")
}

func TestTransitionConvergedCompletes(t *testing.T) {
	r := newRun("th", "q", 3, nil)
	require.NoError(t, r.transition(StatePropose))
	r.proposal = "p"
	require.NoError(t, r.transition(StateChallenge))
	r.challenges = []Challenge{{Content: "c"}}
	require.NoError(t, r.transition(StateRevise))
	r.revision = "rev"
	require.NoError(t, r.transition(StateCommit))

	r.converged = true
	assert.Error(t, r.transition(StatePropose))
	require.NoError(t, r.transition(StateComplete))
}

func TestFailedReachableFromAnywhere(t *testing.T) {
	r := newRun("th", "q", 3, nil)
	require.NoError(t, r.transition(StatePropose))
	require.NoError(t, r.transition(StateFailed))
	assert.Equal(t, StateFailed, r.state)
}

func TestDecomposePath(t *testing.T) {
	r := newRun("th", "q", 3, nil)
	require.NoError(t, r.transition(StateDecompose))
	require.NoError(t, r.transition(StatePropose))
}
