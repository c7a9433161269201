package qualityvalidator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/conduit/pkg/models"
)

func TestValidate_HeuristicFallback(t *testing.T) {
	v := New(0)
	state := &models.AgentRunState{
		Actions:      []models.Action{{Step: 1}, {Step: 2}},
		Observations: []models.Observation{{Step: 1, Success: true}, {Step: 2, Success: true}},
		FinalAnswer:  "Here is a detailed summary of what I found:\n1. First result\n2. Second result",
	}

	scores := v.Validate("what's the weather", state, nil)
	assert.Equal(t, 1.0, scores.Completeness)
	assert.Equal(t, 1.0, scores.Coverage)
	assert.Equal(t, 1.0, scores.Reliability)
	assert.InDelta(t, 1.0, scores.FormatValid, 0.001)
	assert.InDelta(t, 1.0, scores.Overall, 0.001)
	assert.True(t, v.Completable(scores))
}

func TestValidate_WithPlan(t *testing.T) {
	v := New(DefaultThreshold)
	state := &models.AgentRunState{
		Actions:      []models.Action{{Step: 1}},
		Observations: []models.Observation{{Step: 1, Success: true}},
		FinalAnswer:  "short",
	}
	scores := v.Validate("q", state, &Plan{Steps: 4, ExpectedActions: 4})
	assert.InDelta(t, 0.25, scores.Completeness, 0.001)
	assert.InDelta(t, 0.25, scores.Coverage, 0.001)
	assert.Equal(t, 1.0, scores.Reliability)
	assert.InDelta(t, 0.3, scores.FormatValid, 0.001) // "short": length<=20, no "error" substring, no list marker
	assert.False(t, v.Completable(scores))
}

func TestValidate_EmptyFinalAnswer(t *testing.T) {
	v := New(DefaultThreshold)
	state := &models.AgentRunState{}
	scores := v.Validate("q", state, nil)
	assert.Equal(t, 0.0, scores.Completeness)
	assert.Equal(t, 0.0, scores.Coverage)
	assert.Equal(t, 0.0, scores.Reliability)
	assert.Equal(t, 0.0, scores.FormatValid)
	assert.Equal(t, 0.0, scores.Overall)
}

func TestValidate_ErrorOnlyAnswerScoresLowerFormat(t *testing.T) {
	v := New(DefaultThreshold)
	short := &models.AgentRunState{FinalAnswer: "an error occurred while processing this query today"}
	scores := v.Validate("q", short, nil)
	// length > 20 (+0.4), contains "error" and length <= 100 (no +0.3), no list marker (no +0.3)
	assert.InDelta(t, 0.4, scores.FormatValid, 0.001)
}

func TestValidate_Deterministic(t *testing.T) {
	v := New(DefaultThreshold)
	state := &models.AgentRunState{
		Actions:      []models.Action{{Step: 1}, {Step: 2}},
		Observations: []models.Observation{{Step: 1, Success: true}, {Step: 2, Success: false}},
		FinalAnswer:  "A reasonably long final answer describing the outcome in full detail for the user to read.",
	}
	plan := &Plan{Steps: 3, ExpectedActions: 3}
	first := v.Validate("query", state, plan)
	second := v.Validate("query", state, plan)
	require.Equal(t, first, second)
}
