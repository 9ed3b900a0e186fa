package consensus

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/quorumlabs/quorum/internal/fault"
)

// Subtask is one node of a decomposition DAG, as parsed from the decomposer
// model's structured output.
type Subtask struct {
	Label       string   `json:"label"`
	Description string   `json:"description"`
	DependsOn   []string `json:"depends_on"`
}

// SubtaskResult is a completed subtask with the outcome of its debate.
type SubtaskResult struct {
	Label       string
	Description string
	Result      string
	Rigor       float64
	Confidence  float64
	CostUSD     float64
}

// parseSubtasks decodes the decomposer's JSON output, tolerating a markdown
// code fence around the array.
func parseSubtasks(raw string) ([]Subtask, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	var subs []Subtask
	if err := json.Unmarshal([]byte(s), &subs); err != nil {
		return nil, fault.New(fault.KindDecomposeInvalid, "subtask list is not valid JSON: %v", err)
	}
	return subs, nil
}

// ValidateDAG checks a subtask list: non-empty, unique labels, resolvable
// dependencies, acyclic. It returns a topological order covering every node,
// computed with Kahn's algorithm.
func ValidateDAG(subs []Subtask) ([]string, error) {
	if len(subs) == 0 {
		return nil, fault.New(fault.KindDecomposeInvalid, "empty subtask list")
	}

	byLabel := make(map[string]Subtask, len(subs))
	for _, st := range subs {
		if st.Label == "" {
			return nil, fault.New(fault.KindDecomposeInvalid, "subtask with empty label")
		}
		if _, dup := byLabel[st.Label]; dup {
			return nil, fault.New(fault.KindDecomposeInvalid, "duplicate subtask label %q", st.Label)
		}
		byLabel[st.Label] = st
	}

	inDegree := make(map[string]int, len(subs))
	dependents := make(map[string][]string)
	for _, st := range subs {
		inDegree[st.Label] += 0
		for _, dep := range st.DependsOn {
			if _, ok := byLabel[dep]; !ok {
				return nil, fault.New(fault.KindDecomposeInvalid, "subtask %q depends on unknown label %q", st.Label, dep)
			}
			if dep == st.Label {
				return nil, fault.New(fault.KindDecomposeInvalid, "subtask %q depends on itself", st.Label)
			}
			inDegree[st.Label]++
			dependents[dep] = append(dependents[dep], st.Label)
		}
	}

	var ready []string
	for label, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, label)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		label := ready[0]
		ready = ready[1:]
		order = append(order, label)
		for _, d := range dependents[label] {
			inDegree[d]--
			if inDegree[d] == 0 {
				ready = append(ready, d)
			}
		}
		sort.Strings(ready)
	}
	if len(order) != len(subs) {
		return nil, fault.New(fault.KindDecomposeInvalid, "subtask dependencies form a cycle")
	}
	return order, nil
}

// subtaskRunner executes one subtask given the completed outputs of its
// dependencies, keyed by label.
type subtaskRunner func(ctx context.Context, st Subtask, deps map[string]SubtaskResult) (SubtaskResult, error)

// runDAG executes a validated DAG: every subtask whose dependencies are done
// runs concurrently. A failed subtask fails the whole run; its dependents
// cannot execute meaningfully.
func runDAG(ctx context.Context, subs []Subtask, run subtaskRunner) (map[string]SubtaskResult, error) {
	if _, err := ValidateDAG(subs); err != nil {
		return nil, err
	}

	byLabel := make(map[string]Subtask, len(subs))
	inDegree := make(map[string]int, len(subs))
	dependents := make(map[string][]string)
	for _, st := range subs {
		byLabel[st.Label] = st
		inDegree[st.Label] = len(st.DependsOn)
		for _, dep := range st.DependsOn {
			dependents[dep] = append(dependents[dep], st.Label)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	results := make(map[string]SubtaskResult, len(subs))

	var start func(label string)
	start = func(label string) {
		g.Go(func() error {
			st := byLabel[label]

			mu.Lock()
			deps := make(map[string]SubtaskResult, len(st.DependsOn))
			for _, d := range st.DependsOn {
				deps[d] = results[d]
			}
			mu.Unlock()

			res, err := run(ctx, st, deps)
			if err != nil {
				return err
			}

			mu.Lock()
			results[label] = res
			var next []string
			for _, d := range dependents[label] {
				inDegree[d]--
				if inDegree[d] == 0 {
					next = append(next, d)
				}
			}
			mu.Unlock()

			for _, d := range next {
				start(d)
			}
			return nil
		})
	}

	for _, st := range subs {
		if inDegree[st.Label] == 0 {
			start(st.Label)
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
