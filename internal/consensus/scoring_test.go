package consensus

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRigor(t *testing.T) {
	tests := []struct {
		name    string
		genuine int
		total   int
		want    float64
	}{
		{"no challenges", 0, 0, 0.5},
		{"all genuine", 2, 2, 1.0},
		{"half genuine", 1, 2, 0.75},
		{"all sycophantic", 0, 3, 0.5},
		{"one of three", 1, 3, 0.5 + 0.5/3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Rigor(tt.genuine, tt.total), 1e-9)
		})
	}
}

func TestConfidenceCappedByIntent(t *testing.T) {
	assert.InDelta(t, 0.70, Confidence(IntentStrategic, 1.0), 1e-9)
	assert.InDelta(t, 0.95, Confidence(IntentFactual, 1.0), 1e-9)
	assert.InDelta(t, 0.85, Confidence("", 1.0), 1e-9, "unknown intent uses the default cap")
	assert.InDelta(t, 0.60, Confidence(IntentFactual, 0.60), 1e-9, "confidence never exceeds rigor")
}

func TestDomainCaps(t *testing.T) {
	assert.Equal(t, 0.95, DomainCap(IntentFactual))
	assert.Equal(t, 0.90, DomainCap(IntentTechnical))
	assert.Equal(t, 0.85, DomainCap(IntentCreative))
	assert.Equal(t, 0.80, DomainCap(IntentJudgment))
	assert.Equal(t, 0.70, DomainCap(IntentStrategic))
	assert.Equal(t, 0.85, DomainCap("something-else"))
}

func TestSycophancyDetection(t *testing.T) {
	d := NewDetector(nil)

	assert.True(t, d.Sycophantic("Great answer! I largely agree with the thrust of it."))
	assert.True(t, d.Sycophantic("  \n\tGREAT ANSWER, though one nit..."), "case and leading whitespace ignored")
	assert.True(t, d.Sycophantic("Honestly, no significant flaws here."))
	assert.False(t, d.Sycophantic("The proposal ignores cache eviction entirely."))
	assert.False(t, d.Sycophantic(""))
}

func TestSycophancyOnlyLeadingWindow(t *testing.T) {
	d := NewDetector(nil)
	late := strings.Repeat("x ", 150) + "great answer overall"
	assert.False(t, d.Sycophantic(late), "praise past the window cannot flip the flag")

	early := "great answer " + strings.Repeat("x ", 200)
	assert.True(t, d.Sycophantic(early))
}

func TestSycophancyCustomMarkers(t *testing.T) {
	d := NewDetector([]string{"totally correct"})
	assert.True(t, d.Sycophantic("Totally correct as far as I can tell."))
	assert.False(t, d.Sycophantic("Great answer!"), "custom list replaces the defaults")
}

func TestJaccard(t *testing.T) {
	assert.InDelta(t, 1.0, jaccard("a b c", "c b a"), 1e-9)
	assert.InDelta(t, 0.0, jaccard("a b", "c d"), 1e-9)
	assert.InDelta(t, 1.0/3, jaccard("a b", "b c"), 1e-9)
	assert.InDelta(t, 1.0, jaccard("Hello World", "hello world"), 1e-9)
}

func TestConvergedNeverOnFirstRound(t *testing.T) {
	curr := []Challenge{{Content: "anything"}}
	assert.False(t, Converged(nil, curr, 0.1))
}

func TestConvergedCrossRound(t *testing.T) {
	prev := []Challenge{
		{Content: "X misses cache eviction"},
		{Content: "X ignores read-heavy workloads"},
	}
	curr := []Challenge{
		{Content: "X misses cache eviction discussion"},
		{Content: "X ignores read-heavy workloads"},
	}
	assert.True(t, Converged(prev, curr, 0.7))

	fresh := []Challenge{
		{Content: "completely new objection about latency"},
		{Content: "another novel angle entirely different"},
	}
	assert.False(t, Converged(prev, fresh, 0.7))
}
