package models

import "time"

// RunStatus is the state-machine position of an AgentRunState.
type RunStatus string

const (
	RunStatusThinking   RunStatus = "thinking"
	RunStatusActing     RunStatus = "acting"
	RunStatusObserving  RunStatus = "observing"
	RunStatusReflecting RunStatus = "reflecting"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusIncomplete RunStatus = "incomplete"
	RunStatusFailed     RunStatus = "failed"
)

// SelectionMethod tags which Hybrid Selector tier produced a set of
// candidate functions.
type SelectionMethod string

const (
	SelectionRuleBased    SelectionMethod = "rule_based"
	SelectionRAGSemantic  SelectionMethod = "rag_semantic"
	SelectionLLMReasoning SelectionMethod = "llm_reasoning"
)

// SynthesisStrategy tags which Parameter Synthesizer layer produced a
// function call's arguments.
type SynthesisStrategy string

const (
	SynthesisTemplate      SynthesisStrategy = "template"
	SynthesisExtraction    SynthesisStrategy = "extraction"
	SynthesisContextReuse  SynthesisStrategy = "context_reuse"
	SynthesisLLMGeneration SynthesisStrategy = "llm_generation"
)

// Thought is one THINK step's output, appended in order.
type Thought struct {
	Step    int       `json:"step"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Action is one ACT step: a chosen function and its synthesized parameters.
type Action struct {
	Step       int               `json:"step"`
	FunctionID string            `json:"function_id"`
	Parameters map[string]any    `json:"parameters"`
	Strategy   SynthesisStrategy `json:"strategy"`
	At         time.Time         `json:"at"`
}

// Observation is the result of executing the Action at the same step.
type Observation struct {
	Step            int            `json:"step"`
	Success         bool           `json:"success"`
	Data            any            `json:"data,omitempty"`
	Error           string         `json:"error,omitempty"`
	ErrorType       string         `json:"error_type,omitempty"`
	Attempts        int            `json:"attempts"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	Cached          bool           `json:"cached"`
	StatusCode      int            `json:"status_code,omitempty"`
	At              time.Time      `json:"at"`
}

// Reflection is one REFLECT step's parsed and objective-scored output.
type Reflection struct {
	Step                 int       `json:"step"`
	ParsedQuality        float64   `json:"parsed_quality"`
	ObjectiveQuality     float64   `json:"objective_quality"`
	ShouldContinue       bool      `json:"should_continue"`
	RequiresClarification bool     `json:"requires_clarification"`
	Reasoning            string    `json:"reasoning"`
	At                   time.Time `json:"at"`
}

// AgentRunState is the ephemeral, per-query record of one controller run.
// C8 owns it exclusively for its lifetime: created at the start of run,
// discarded after the response is serialized.
type AgentRunState struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`

	MaxSteps    int `json:"max_steps"`
	CurrentStep int `json:"current_step"`

	Thoughts     []Thought     `json:"thoughts"`
	Actions      []Action      `json:"actions"`
	Observations []Observation `json:"observations"`
	Reflections  []Reflection  `json:"reflections"`

	RetrievedFunctions  []string        `json:"retrieved_functions"` // function_ids
	SelectionMethod     SelectionMethod `json:"selection_method,omitempty"`
	SelectionConfidence float64         `json:"selection_confidence"`

	QualityScore   float64        `json:"quality_score"`
	QualityDetails map[string]any `json:"quality_details,omitempty"`

	Status                RunStatus `json:"status"`
	RequiresClarification bool      `json:"requires_clarification,omitempty"`
	FinalAnswer           string    `json:"final_answer,omitempty"`
	Error                 string    `json:"error,omitempty"`

	TotalExecutionTimeMs int64 `json:"total_execution_time_ms"`
	APICallsMade         int   `json:"api_calls_made"`
}

// LastNThoughts returns the most recent n thoughts, oldest first, for
// inclusion in THINK prompts.
func (s *AgentRunState) LastNThoughts(n int) []Thought {
	if n <= 0 || len(s.Thoughts) == 0 {
		return nil
	}
	if len(s.Thoughts) <= n {
		return s.Thoughts
	}
	return s.Thoughts[len(s.Thoughts)-n:]
}

// SuccessfulObservations returns the subset of observations where Success
// is true, preserving order.
func (s *AgentRunState) SuccessfulObservations() []Observation {
	out := make([]Observation, 0, len(s.Observations))
	for _, o := range s.Observations {
		if o.Success {
			out = append(out, o)
		}
	}
	return out
}
