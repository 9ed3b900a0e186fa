package consensus

// Question intents, as tagged by the classifier. Each intent carries a cap on
// epistemic confidence: a debate can be rigorous and still be about something
// inherently uncertain.
const (
	IntentFactual   = "factual"
	IntentTechnical = "technical"
	IntentCreative  = "creative"
	IntentJudgment  = "judgment"
	IntentStrategic = "strategic"
)

const defaultDomainCap = 0.85

var domainCaps = map[string]float64{
	IntentFactual:   0.95,
	IntentTechnical: 0.90,
	IntentCreative:  0.85,
	IntentJudgment:  0.80,
	IntentStrategic: 0.70,
}

// DomainCap returns the confidence ceiling for an intent. Unknown or empty
// intents use the default cap.
func DomainCap(intent string) float64 {
	if c, ok := domainCaps[intent]; ok {
		return c
	}
	return defaultDomainCap
}

// Rigor scores the quality of a debate from its challenges. A round with no
// challenges, or only sycophantic ones, bottoms out at 0.5.
func Rigor(genuine, total int) float64 {
	if total == 0 {
		return 0.5
	}
	r := 0.5 + 0.5*float64(genuine)/float64(total)
	if r < 0.5 {
		return 0.5
	}
	return r
}

// Confidence derives epistemic confidence from rigor and the question's
// intent. Confidence never exceeds rigor.
func Confidence(intent string, rigor float64) float64 {
	c := DomainCap(intent)
	if rigor < c {
		return rigor
	}
	return c
}
