package consensus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/quorum/internal/fault"
)

func TestParseSubtasks(t *testing.T) {
	raw := `[{"label":"A","description":"first","depends_on":[]},{"label":"B","description":"second","depends_on":["A"]}]`
	subs, err := parseSubtasks(raw)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "A", subs[0].Label)
	assert.Equal(t, []string{"A"}, subs[1].DependsOn)
}

func TestParseSubtasksCodeFence(t *testing.T) {
	raw := "```json\n[{\"label\":\"A\",\"description\":\"only\"}]\n```"
	subs, err := parseSubtasks(raw)
	require.NoError(t, err)
	require.Len(t, subs, 1)
}

func TestParseSubtasksInvalidJSON(t *testing.T) {
	_, err := parseSubtasks("not json at all")
	require.Error(t, err)
	assert.Equal(t, fault.KindDecomposeInvalid, fault.KindOf(err))
}

func TestValidateDAG(t *testing.T) {
	subs := []Subtask{
		{Label: "A"},
		{Label: "B", DependsOn: []string{"A"}},
		{Label: "C", DependsOn: []string{"A"}},
	}
	order, err := ValidateDAG(subs)
	require.NoError(t, err)
	require.Len(t, order, 3)
	assert.Equal(t, "A", order[0])
}

func TestValidateDAGRejections(t *testing.T) {
	tests := []struct {
		name string
		subs []Subtask
	}{
		{"empty", nil},
		{"duplicate label", []Subtask{{Label: "A"}, {Label: "A"}}},
		{"unknown dependency", []Subtask{{Label: "A", DependsOn: []string{"Z"}}}},
		{"self dependency", []Subtask{{Label: "A", DependsOn: []string{"A"}}}},
		{"cycle", []Subtask{
			{Label: "A", DependsOn: []string{"B"}},
			{Label: "B", DependsOn: []string{"A"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateDAG(tt.subs)
			require.Error(t, err)
			assert.Equal(t, fault.KindDecomposeInvalid, fault.KindOf(err))
		})
	}
}

func TestRunDAGOrdering(t *testing.T) {
	subs := []Subtask{
		{Label: "A", Description: "choose CI system"},
		{Label: "B", Description: "define build stages", DependsOn: []string{"A"}},
		{Label: "C", Description: "deployment strategy", DependsOn: []string{"A"}},
	}

	var mu sync.Mutex
	var started []string
	results, err := runDAG(context.Background(), subs, func(ctx context.Context, st Subtask, deps map[string]SubtaskResult) (SubtaskResult, error) {
		mu.Lock()
		started = append(started, st.Label)
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return SubtaskResult{Label: st.Label, Result: "done " + st.Label}, nil
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, started, 3)
	assert.Equal(t, "A", started[0], "A has no dependencies and must run first")
}

func TestRunDAGPassesDependencyResults(t *testing.T) {
	subs := []Subtask{
		{Label: "A"},
		{Label: "B", DependsOn: []string{"A"}},
	}
	results, err := runDAG(context.Background(), subs, func(ctx context.Context, st Subtask, deps map[string]SubtaskResult) (SubtaskResult, error) {
		if st.Label == "B" {
			require.Contains(t, deps, "A")
			assert.Equal(t, "out-A", deps["A"].Result)
		}
		return SubtaskResult{Label: st.Label, Result: "out-" + st.Label}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "out-B", results["B"].Result)
}

func TestRunDAGFailureStopsRun(t *testing.T) {
	subs := []Subtask{
		{Label: "A"},
		{Label: "B", DependsOn: []string{"A"}},
	}
	ran := make(map[string]bool)
	var mu sync.Mutex
	_, err := runDAG(context.Background(), subs, func(ctx context.Context, st Subtask, deps map[string]SubtaskResult) (SubtaskResult, error) {
		mu.Lock()
		ran[st.Label] = true
		mu.Unlock()
		if st.Label == "A" {
			return SubtaskResult{}, fault.New(fault.KindOverloaded, "provider down")
		}
		return SubtaskResult{Label: st.Label}, nil
	})
	require.Error(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, ran["B"], "dependents of a failed subtask never run")
}
