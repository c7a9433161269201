// Package qualityvalidator computes a weighted composite score over an
// AgentRunState's observations and final answer that gates whether the
// ReAct controller can finalize a run.
package qualityvalidator

import (
	"strings"

	"github.com/haasonsaas/conduit/pkg/models"
)

// heuristicExpected is the fallback "expected steps/actions" count used
// when no Plan is supplied.
const heuristicExpected = 2

// Weights are the fixed composite weights of the quality score.
const (
	weightCompleteness = 0.30
	weightCoverage     = 0.30
	weightReliability  = 0.25
	weightFormat       = 0.15
)

// DefaultThreshold is the default completable threshold.
const DefaultThreshold = 0.75

// Plan optionally supplies the expected step/action counts a run is
// measured against; nil means the heuristic fallback applies to both.
type Plan struct {
	Steps          int
	ExpectedActions int
}

// Scores is Validate's result: the four component scores plus the
// weighted Overall, all in [0,1]. FormatValid is itself a [0,1] score,
// not a boolean, despite its name: it names the property being scored
// ("is the final answer well formatted"), not its type.
type Scores struct {
	Overall      float64            `json:"overall"`
	Completeness float64            `json:"completeness"`
	Coverage     float64            `json:"coverage"`
	Reliability  float64            `json:"reliability"`
	FormatValid  float64            `json:"format_valid"`
	Details      map[string]float64 `json:"details"`
}

// Validator holds no state; Validate is a pure function of its inputs.
type Validator struct {
	threshold float64
}

// New builds a Validator gating at threshold. A non-positive threshold
// falls back to DefaultThreshold.
func New(threshold float64) *Validator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Validator{threshold: threshold}
}

// Threshold returns the configured completable threshold.
func (v *Validator) Threshold() float64 {
	return v.threshold
}

// Validate computes the weighted quality score for state, optionally
// measured against plan's expected step/action counts. The query
// parameter is unused by the current scoring rules (every signal derives
// from state itself); it is kept so future scoring rules can weigh it
// without an interface change.
func (v *Validator) Validate(query string, state *models.AgentRunState, plan *Plan) Scores {
	_ = query

	expectedSteps := heuristicExpected
	expectedActions := heuristicExpected
	if plan != nil {
		if plan.Steps > 0 {
			expectedSteps = plan.Steps
		}
		if plan.ExpectedActions > 0 {
			expectedActions = plan.ExpectedActions
		}
	}

	successful := countSuccessful(state.Observations)

	completeness := ratioCapped(successful, expectedSteps)
	coverage := ratioCapped(len(state.Actions), expectedActions)
	reliability := 0.0
	if len(state.Observations) > 0 {
		reliability = float64(successful) / float64(len(state.Observations))
	}
	formatValid := scoreFormat(state.FinalAnswer)

	overall := weightCompleteness*completeness +
		weightCoverage*coverage +
		weightReliability*reliability +
		weightFormat*formatValid

	return Scores{
		Overall:      overall,
		Completeness: completeness,
		Coverage:     coverage,
		Reliability:  reliability,
		FormatValid:  formatValid,
		Details: map[string]float64{
			"completeness": completeness,
			"coverage":     coverage,
			"reliability":  reliability,
			"format":       formatValid,
		},
	}
}

// Completable reports whether scores.Overall clears the validator's
// threshold.
func (v *Validator) Completable(scores Scores) bool {
	return scores.Overall >= v.threshold
}

func countSuccessful(observations []models.Observation) int {
	n := 0
	for _, o := range observations {
		if o.Success {
			n++
		}
	}
	return n
}

func ratioCapped(numerator, denominator int) float64 {
	if denominator <= 0 {
		return 0
	}
	r := float64(numerator) / float64(denominator)
	if r > 1.0 {
		return 1.0
	}
	return r
}

// scoreFormat computes the final-answer format score: +0.4 if length > 20,
// +0.3 if it isn't just an error message (length > 100 OR no "error"
// substring), +0.3 if it contains a newline or a list marker. Returns 0
// when answer is empty.
func scoreFormat(answer string) float64 {
	if answer == "" {
		return 0
	}
	score := 0.0
	if len(answer) > 20 {
		score += 0.4
	}
	if len(answer) > 100 || !strings.Contains(strings.ToLower(answer), "error") {
		score += 0.3
	}
	if containsListMarker(answer) {
		score += 0.3
	}
	return score
}

func containsListMarker(answer string) bool {
	if strings.Contains(answer, "\n") {
		return true
	}
	for _, marker := range []string{"1.", "2.", "- ", "* "} {
		if strings.Contains(answer, marker) {
			return true
		}
	}
	return false
}
