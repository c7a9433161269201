package reactloop

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/conduit/pkg/models"
)

// actionPhrases are the case-insensitive substrings used to decide
// whether a THINK step's output indicates the model wants to call a
// function.
var actionPhrases = []string{
	"need to call",
	"should call",
	"will call",
	"execute",
	"invoke",
	"use function",
	"call the function",
}

func hasActionIntent(thought string) bool {
	lower := strings.ToLower(thought)
	for _, phrase := range actionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func buildThinkPrompt(state *models.AgentRunState, candidates []*models.FunctionSchema) string {
	var sb strings.Builder
	sb.WriteString("You are reasoning step-by-step about how to answer a user's query.\n\n")
	fmt.Fprintf(&sb, "Query: %s\n\n", state.Query)

	if len(candidates) > 0 {
		sb.WriteString("Available functions:\n")
		for i, fn := range candidates {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&sb, "- %s: %s\n", fn.Name, fn.Description)
		}
		sb.WriteString("\n")
	}

	if recent := state.LastNThoughts(3); len(recent) > 0 {
		sb.WriteString("Your recent thoughts:\n")
		for _, t := range recent {
			fmt.Fprintf(&sb, "- %s\n", t.Content)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Think about what to do next. If you need to call one of the " +
		"available functions, say so explicitly (e.g. \"I need to call " +
		"Function: <name>\"). Otherwise explain why you can answer directly.")
	return sb.String()
}

func buildActPrompt(state *models.AgentRunState, candidates []*models.FunctionSchema) string {
	var sb strings.Builder
	sb.WriteString("Choose exactly one function to call for this query.\n\n")
	fmt.Fprintf(&sb, "Query: %s\n\n", state.Query)
	if len(state.Thoughts) > 0 {
		fmt.Fprintf(&sb, "Your latest thought: %s\n\n", state.Thoughts[len(state.Thoughts)-1].Content)
	}
	sb.WriteString("Candidate functions:\n")
	for _, fn := range candidates {
		fmt.Fprintf(&sb, "- %s: %s\n", fn.Name, fn.Description)
	}
	sb.WriteString("\nRespond with exactly one line: Function: <name>")
	return sb.String()
}

func buildReflectPrompt(state *models.AgentRunState) string {
	var sb strings.Builder
	sb.WriteString("Assess progress toward answering the query.\n\n")
	fmt.Fprintf(&sb, "Query: %s\n\n", state.Query)
	fmt.Fprintf(&sb, "Steps taken so far: %d of %d\n\n", state.CurrentStep, state.MaxSteps)

	if len(state.Observations) > 0 {
		sb.WriteString("Observations:\n")
		for _, o := range state.Observations {
			status := "failed"
			if o.Success {
				status = "succeeded"
			}
			fmt.Fprintf(&sb, "- step %d: %s\n", o.Step, status)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Respond in exactly this format:\n" +
		"Quality: <0.0-1.0>\n" +
		"Continue: <yes|no>\n" +
		"Clarification: <yes|no, only yes if the query itself is too ambiguous to answer>\n" +
		"Reasoning: <one sentence>")
	return sb.String()
}

func buildFinalPrompt(state *models.AgentRunState) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\n", state.Query)
	sb.WriteString("Using only the successful observations below, write the final answer for the user.\n\n")
	successes := state.SuccessfulObservations()
	if len(successes) == 0 {
		sb.WriteString("(no successful function calls were made; answer from general knowledge if possible, " +
			"or explain that the information could not be retrieved)\n")
	}
	for _, o := range successes {
		fmt.Fprintf(&sb, "- step %d result: %v\n", o.Step, o.Data)
	}
	sb.WriteString("\nWrite a clear, complete answer.")
	return sb.String()
}

const (
	thinkFallback   = "I was unable to form a thought in time; proceeding to reflect on available observations."
	reflectFallback = "Quality: 0.3\nContinue: no\nClarification: no\nReasoning: reflection timed out."
	finalFallback   = "I was unable to generate a complete response in time. Please try again or rephrase your question."
	clarifyingAnswer = "I need a bit more detail to answer that well — could you clarify what you're looking for?"
)
