package consensus

import (
	"time"

	"github.com/quorumlabs/quorum/internal/providers"
)

// Exported message builders for drivers that assemble debate rounds outside
// this package, such as the durable workflow runner. They produce the same
// prompts the in-process orchestrator uses.

func ProposeMessages(now time.Time, question, recallBlock string, prev *RoundArchive, prevChallenges []Challenge) []providers.Message {
	return proposeMessages(now, question, recallBlock, prev, prevChallenges)
}

func ChallengeMessages(now time.Time, question, proposal, framing string) []providers.Message {
	return challengeMessages(now, question, proposal, framing)
}

func ReviseMessages(now time.Time, question, proposal string, challenges []Challenge) []providers.Message {
	return reviseMessages(now, question, proposal, challenges)
}

func SummaryMessages(question, decision string) []providers.Message {
	return summaryMessages(question, decision)
}
