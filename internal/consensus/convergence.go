package consensus

import "strings"

// DefaultConvergenceThreshold is the average cross-round similarity at which
// the debate is considered to have stopped producing new objections.
const DefaultConvergenceThreshold = 0.7

// jaccard computes word-overlap similarity between two texts, case-insensitive
// over whitespace-split token sets.
func jaccard(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for w := range setA {
		if setB[w] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = true
	}
	return set
}

// Converged reports whether the current round's challenges substantially
// repeat the previous round's. For each current challenge the best match
// against the previous round is taken; the debate converges when the average
// of those maxima reaches the threshold. With no previous round (round 1)
// this is always false.
func Converged(prev, curr []Challenge, threshold float64) bool {
	if len(prev) == 0 || len(curr) == 0 {
		return false
	}
	var sum float64
	for _, c := range curr {
		best := 0.0
		for _, p := range prev {
			if j := jaccard(p.Content, c.Content); j > best {
				best = j
			}
		}
		sum += best
	}
	return sum/float64(len(curr)) >= threshold
}
