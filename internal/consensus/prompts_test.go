package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProposeMessagesFirstRound(t *testing.T) {
	msgs := proposeMessages(time.Now(), "pick a database", "", nil, nil)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Content, "pick a database")
	assert.Contains(t, msgs[1].Content, "Give your best, complete answer.")
}

func TestProposeMessagesRedraftCarriesAllChallenges(t *testing.T) {
	prev := &RoundArchive{
		Round:    1,
		Decision: "use postgres",
		Dissent:  "[beta:lite]: Postgres needs an ops story you do not have.",
	}
	challenges := []Challenge{
		{ModelRef: "beta:lite", Content: "Postgres needs an ops story you do not have."},
		{ModelRef: "gamma:mini", Content: "Great answer, nothing to add.", Sycophantic: true},
	}

	msgs := proposeMessages(time.Now(), "pick a database", "", prev, challenges)
	require.Len(t, msgs, 2)
	user := msgs[1].Content
	assert.Contains(t, user, "use postgres")
	assert.Contains(t, user, "ops story")
	// Flagged challenges stay out of scoring but still reach the redraft.
	assert.Contains(t, user, "Great answer, nothing to add.")
}

func TestProposeMessagesRedraftFallsBackToDissent(t *testing.T) {
	prev := &RoundArchive{Round: 1, Decision: "use postgres", Dissent: "[beta:lite]: needs backups"}
	msgs := proposeMessages(time.Now(), "pick a database", "", prev, nil)
	assert.Contains(t, msgs[1].Content, "needs backups")
}
