package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/quorumlabs/quorum/internal/fault"
	"github.com/quorumlabs/quorum/internal/providers"
)

// Proposer strategies.
const (
	StrategyTopCost    = "top-cost"
	StrategyRoundRobin = "round-robin"
	StrategyFixed      = "fixed" // "fixed:<ref>"
)

// Selector assigns models to debate roles from the registry's available pool,
// optionally restricted to a panel of model references.
type Selector struct {
	reg      *Registry
	panel    map[string]bool // nil means every model
	strategy string
	fixedRef string

	mu      sync.Mutex
	rrIndex int
}

// NewSelector builds a selector. strategy is one of the Strategy constants;
// "fixed:<ref>" pins the proposer. An empty panel admits every model.
func NewSelector(reg *Registry, panel []string, strategy string) *Selector {
	s := &Selector{reg: reg, strategy: strategy}
	if rest, ok := strings.CutPrefix(strategy, StrategyFixed+":"); ok {
		s.strategy = StrategyFixed
		s.fixedRef = rest
	}
	if len(panel) > 0 {
		s.panel = make(map[string]bool, len(panel))
		for _, ref := range panel {
			s.panel[ref] = true
		}
	}
	return s
}

// pool returns the available models admitted by the panel, sorted by ref.
func (s *Selector) pool() []providers.ModelInfo {
	models := s.reg.Available()
	if s.panel == nil {
		return models
	}
	out := models[:0]
	for _, m := range models {
		if s.panel[m.Ref] {
			out = append(out, m)
		}
	}
	return out
}

// Proposer picks the model that drafts the answer. The default strategy takes
// the most expensive eligible model by output rate, ties broken by reference
// so the choice is deterministic.
func (s *Selector) Proposer() (providers.ModelInfo, error) {
	eligible := eligibleOf(s.pool())
	if len(eligible) == 0 {
		return providers.ModelInfo{}, fault.New(fault.KindInsufficientModels, "no proposer-eligible model available")
	}

	switch s.strategy {
	case StrategyFixed:
		for _, m := range eligible {
			if m.Ref == s.fixedRef {
				return m, nil
			}
		}
		return providers.ModelInfo{}, fault.New(fault.KindInsufficientModels, "pinned proposer %s not available", s.fixedRef)

	case StrategyRoundRobin:
		sortByRef(eligible)
		s.mu.Lock()
		m := eligible[s.rrIndex%len(eligible)]
		s.rrIndex++
		s.mu.Unlock()
		return m, nil

	default: // top-cost
		sort.Slice(eligible, func(i, j int) bool {
			if eligible[i].OutputPerMTok != eligible[j].OutputPerMTok {
				return eligible[i].OutputPerMTok > eligible[j].OutputPerMTok
			}
			return eligible[i].Ref < eligible[j].Ref
		})
		return eligible[0], nil
	}
}

// Challengers picks min models to attack a proposal. The first pass takes at
// most one model per distinct other provider so no single vendor crowds the
// panel; remaining cross-provider models fill next, then same-provider
// alternates, and if the pool is still short the proposer argues against itself.
func (s *Selector) Challengers(proposer providers.ModelInfo, min int) ([]providers.ModelInfo, error) {
	pool := s.pool()
	if len(pool) == 0 {
		return nil, fault.New(fault.KindInsufficientModels, "no models available to challenge")
	}

	var cross, same []providers.ModelInfo
	for _, m := range pool {
		switch {
		case m.ProviderID != proposer.ProviderID:
			cross = append(cross, m)
		case m.Ref != proposer.Ref:
			same = append(same, m)
		}
	}
	sortByRef(cross)
	sortByRef(same)

	seen := make(map[string]bool, len(cross))
	var firsts, alternates []providers.ModelInfo
	for _, m := range cross {
		if seen[m.ProviderID] {
			alternates = append(alternates, m)
			continue
		}
		seen[m.ProviderID] = true
		firsts = append(firsts, m)
	}

	out := append(firsts, alternates...)
	out = append(out, same...)
	if len(out) > min {
		out = out[:min]
	}
	// Self-ensemble: the proposer challenges its own draft when nothing else can.
	for len(out) < min {
		out = append(out, proposer)
	}
	return out, nil
}

// Cheapest picks the lowest input-rate model for utility roles (judging,
// summarizing, classifying, decomposing). Ties break by reference.
func (s *Selector) Cheapest() (providers.ModelInfo, error) {
	pool := s.pool()
	if len(pool) == 0 {
		return providers.ModelInfo{}, fault.New(fault.KindInsufficientModels, "no models available")
	}
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].InputPerMTok != pool[j].InputPerMTok {
			return pool[i].InputPerMTok < pool[j].InputPerMTok
		}
		return pool[i].Ref < pool[j].Ref
	})
	return pool[0], nil
}

// Voters returns every available panel model, sorted by ref, for the voting
// protocol's independent fan-out.
func (s *Selector) Voters() []providers.ModelInfo {
	pool := s.pool()
	sortByRef(pool)
	return pool
}

func eligibleOf(models []providers.ModelInfo) []providers.ModelInfo {
	var out []providers.ModelInfo
	for _, m := range models {
		if m.ProposerEligible {
			out = append(out, m)
		}
	}
	return out
}

func sortByRef(models []providers.ModelInfo) {
	sort.Slice(models, func(i, j int) bool { return models[i].Ref < models[j].Ref })
}
