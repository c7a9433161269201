package reactloop

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/conduit/internal/callexecutor"
	"github.com/haasonsaas/conduit/internal/contextbuilder"
	"github.com/haasonsaas/conduit/internal/llmprovider"
	"github.com/haasonsaas/conduit/internal/observability"
	"github.com/haasonsaas/conduit/internal/paramsynth"
	"github.com/haasonsaas/conduit/internal/qualityvalidator"
	"github.com/haasonsaas/conduit/internal/selector"
	"github.com/haasonsaas/conduit/pkg/models"
)

// Controller owns no persistent state of its own: every run's
// AgentRunState is created fresh and handed back to the caller once the
// run finalizes.
type Controller struct {
	contextBuilder *contextbuilder.Builder
	selector       *selector.Selector
	synthesizer    *paramsynth.Synthesizer
	executor       *callexecutor.Executor
	validator      *qualityvalidator.Validator
	llm            llmprovider.Provider

	cfg     Config
	logger  *observability.Logger
	tracer  *observability.Tracer
	metrics *observability.Metrics
}

// New builds a Controller. logger, tracer, and metrics may be nil.
func New(
	cb *contextbuilder.Builder,
	sel *selector.Selector,
	synth *paramsynth.Synthesizer,
	exec *callexecutor.Executor,
	validator *qualityvalidator.Validator,
	llm llmprovider.Provider,
	cfg Config,
	logger *observability.Logger,
	tracer *observability.Tracer,
	metrics *observability.Metrics,
) *Controller {
	return &Controller{
		contextBuilder: cb,
		selector:       sel,
		synthesizer:    synth,
		executor:       exec,
		validator:      validator,
		llm:            llm,
		cfg:            cfg.withDefaults(),
		logger:         logger,
		tracer:         tracer,
		metrics:        metrics,
	}
}

// Run drives one query through the full think/act/observe/reflect loop and
// returns the finalized AgentRunState. stream may be nil.
func (c *Controller) Run(ctx context.Context, userID, query, conversationID string, stream StreamFunc) (*models.AgentRunState, error) {
	start := time.Now()
	es := newEventStream(stream, c.cfg.EventBufferSize)
	defer es.close()

	if c.tracer != nil {
		var span trace.Span
		ctx, span = c.tracer.Start(ctx, "reactloop.run")
		defer span.End()
	}

	es.emit(models.NewRunEvent(models.RunEventStart, 0).WithMessage(query))

	built, err := c.contextBuilder.Build(ctx, userID, conversationID, query)
	if err != nil {
		return c.fail(es, userID, conversationID, query, start, fmt.Errorf("build context: %w", err))
	}

	state := &models.AgentRunState{
		UserID:         userID,
		ConversationID: conversationID,
		Query:          query,
		MaxSteps:       c.cfg.MaxSteps,
		Status:         models.RunStatusThinking,
	}

	selResult, err := c.selector.Select(ctx, query, historyTexts(built.History), 0)
	if err != nil {
		return c.fail(es, userID, conversationID, query, start, fmt.Errorf("select functions: %w", err))
	}

	if len(selResult.Functions) == 0 {
		return c.directAnswer(ctx, es, state, built, start)
	}

	state.RetrievedFunctions = functionIDs(selResult.Functions)
	state.SelectionMethod = models.SelectionMethod(selResult.Method)
	state.SelectionConfidence = selResult.Confidence
	candidates := selResult.Functions

	for state.CurrentStep < state.MaxSteps {
		state.CurrentStep++
		state.Status = models.RunStatusThinking

		thought := c.think(ctx, state, candidates, es)
		state.Thoughts = append(state.Thoughts, models.Thought{
			Step: state.CurrentStep, Content: thought, At: time.Now(),
		})
		es.emit(models.NewRunEvent(models.RunEventThought, state.CurrentStep).WithMessage(thought))

		if hasActionIntent(thought) {
			state.Status = models.RunStatusActing
			c.act(ctx, state, candidates, built, es)
		}

		state.Status = models.RunStatusReflecting
		reflection := c.reflect(ctx, state, es)
		state.Reflections = append(state.Reflections, reflection)
		if reflection.RequiresClarification {
			state.RequiresClarification = true
		}
		if !reflection.ShouldContinue {
			break
		}
	}

	return c.finalize(ctx, es, state, built, start)
}

func (c *Controller) think(ctx context.Context, state *models.AgentRunState, candidates []*models.FunctionSchema, es *eventStream) string {
	prompt := buildThinkPrompt(state, candidates)
	text, err := c.generate(ctx, prompt, c.cfg.ThinkTimeout)
	if err != nil {
		c.logWarn(ctx, "reactloop: THINK timed out or failed", "step", state.CurrentStep, "error", err)
		return thinkFallback
	}
	return text
}

func (c *Controller) act(ctx context.Context, state *models.AgentRunState, candidates []*models.FunctionSchema, built *models.BuiltContext, es *eventStream) {
	prompt := buildActPrompt(state, candidates)
	text, err := c.generate(ctx, prompt, c.cfg.ActTimeout)
	if err != nil {
		c.logWarn(ctx, "reactloop: ACT timed out or failed", "step", state.CurrentStep, "error", err)
		return
	}

	fn := resolveFunction(extractFunctionName(text), candidates)
	if fn == nil {
		c.logWarn(ctx, "reactloop: ACT did not resolve to a known function", "step", state.CurrentStep)
		return
	}

	callerContext := map[string]any{"user_id": state.UserID}
	synth := c.synthesizer.Synthesize(ctx, fn, state.Query, callerContext, previousResultMaps(state.Observations))
	if !synth.OK {
		c.logWarn(ctx, "reactloop: parameter synthesis failed", "step", state.CurrentStep, "function_id", fn.FunctionID, "error", synth.Err)
		return
	}

	action := models.Action{
		Step:       state.CurrentStep,
		FunctionID: fn.FunctionID,
		Parameters: synth.Parameters,
		Strategy:   synth.Strategy,
		At:         time.Now(),
	}
	state.Actions = append(state.Actions, action)
	es.emit(models.NewRunEvent(models.RunEventAction, state.CurrentStep).
		WithMeta("function_id", fn.FunctionID).
		WithMeta("strategy", synth.Strategy))

	state.Status = models.RunStatusObserving
	state.APICallsMade++
	result := c.executor.Execute(ctx, fn.FunctionID, synth.Parameters, true)

	obs := models.Observation{
		Step:            state.CurrentStep,
		Success:         result.Success,
		Data:            result.Data,
		Error:           result.Error,
		ErrorType:       string(result.ErrorType),
		Attempts:        result.Attempts,
		ExecutionTimeMs: int64(result.ExecutionTimeMs),
		Cached:          result.Cached,
		StatusCode:      result.StatusCode,
		At:              time.Now(),
	}
	state.Observations = append(state.Observations, obs)
	es.emit(models.NewRunEvent(models.RunEventObservation, state.CurrentStep).
		WithMeta("success", obs.Success).
		WithMeta("function_id", fn.FunctionID))

	if c.metrics != nil {
		status := "failed"
		if obs.Success {
			status = "success"
		}
		c.metrics.RecordFunctionExecution(fn.Name, status, float64(obs.ExecutionTimeMs)/1000, obs.Attempts)
		if !obs.Success {
			c.metrics.RecordError("reactloop", obs.ErrorType)
		}
	}
}

func (c *Controller) reflect(ctx context.Context, state *models.AgentRunState, es *eventStream) models.Reflection {
	prompt := buildReflectPrompt(state)
	text, err := c.generate(ctx, prompt, c.cfg.ReflectTimeout)
	if err != nil {
		c.logWarn(ctx, "reactloop: REFLECT timed out or failed", "step", state.CurrentStep, "error", err)
		text = reflectFallback
	}
	parsed := parseReflectionText(text)

	objective := c.validator.Validate(state.Query, state, nil)
	shouldContinue := !c.validator.Completable(objective) && state.CurrentStep < state.MaxSteps

	return models.Reflection{
		Step:                  state.CurrentStep,
		ParsedQuality:         parsed.Quality,
		ObjectiveQuality:      objective.Overall,
		ShouldContinue:        shouldContinue,
		RequiresClarification: parsed.NeedsClarification,
		Reasoning:             parsed.Reasoning,
		At:                    time.Now(),
	}
}

func (c *Controller) finalize(ctx context.Context, es *eventStream, state *models.AgentRunState, built *models.BuiltContext, start time.Time) (*models.AgentRunState, error) {
	var finalAnswer string
	if state.RequiresClarification {
		finalAnswer = clarifyingAnswer
	} else {
		var err error
		finalAnswer, err = c.generate(ctx, buildFinalPrompt(state), c.cfg.FinalTimeout)
		if err != nil {
			c.logWarn(ctx, "reactloop: FINAL timed out or failed", "error", err)
			finalAnswer = finalFallback
		}
	}
	state.FinalAnswer = finalAnswer

	scores := c.validator.Validate(state.Query, state, nil)
	state.QualityScore = scores.Overall
	state.QualityDetails = map[string]any{
		"completeness": scores.Completeness,
		"coverage":     scores.Coverage,
		"reliability":  scores.Reliability,
		"format_valid": scores.FormatValid,
	}
	if state.RequiresClarification || c.validator.Completable(scores) {
		state.Status = models.RunStatusCompleted
	} else {
		state.Status = models.RunStatusIncomplete
	}

	state.TotalExecutionTimeMs = time.Since(start).Milliseconds()
	es.emit(models.NewRunEvent(models.RunEventFinalAnswer, state.CurrentStep).WithMessage(finalAnswer))
	es.emit(models.NewRunEvent(models.RunEventComplete, state.CurrentStep).WithMeta("status", state.Status).WithMeta("quality_score", state.QualityScore))

	if c.metrics != nil {
		c.metrics.RecordRunAttempt(string(state.Status))
	}

	if built.ConversationID != "" {
		if err := c.contextBuilder.SaveInteraction(ctx, state.UserID, built.ConversationID, state.Query, finalAnswer, map[string]any{
			"run_status":    string(state.Status),
			"quality_score": state.QualityScore,
		}); err != nil {
			c.logWarn(ctx, "reactloop: failed to persist interaction", "error", err)
		}
	}

	return state, nil
}

// directAnswer handles the empty-selection shortcut: no candidate
// functions means the controller skips straight to an unconditional LLM
// answer with a zero quality score.
func (c *Controller) directAnswer(ctx context.Context, es *eventStream, state *models.AgentRunState, built *models.BuiltContext, start time.Time) (*models.AgentRunState, error) {
	answer, err := c.generate(ctx, buildFinalPrompt(state), c.cfg.FinalTimeout)
	if err != nil {
		answer = finalFallback
	}
	state.FinalAnswer = answer
	state.QualityScore = 0
	state.Status = models.RunStatusCompleted
	state.TotalExecutionTimeMs = time.Since(start).Milliseconds()

	es.emit(models.NewRunEvent(models.RunEventFinalAnswer, 0).WithMessage(answer))
	es.emit(models.NewRunEvent(models.RunEventComplete, 0).WithMeta("status", state.Status).WithMeta("quality_score", 0.0))

	if c.metrics != nil {
		c.metrics.RecordRunAttempt(string(state.Status))
	}

	if built.ConversationID != "" {
		if err := c.contextBuilder.SaveInteraction(ctx, state.UserID, built.ConversationID, state.Query, answer, map[string]any{
			"run_status":    string(state.Status),
			"quality_score": 0.0,
		}); err != nil {
			c.logWarn(ctx, "reactloop: failed to persist interaction", "error", err)
		}
	}
	return state, nil
}

func (c *Controller) fail(es *eventStream, userID, conversationID, query string, start time.Time, err error) (*models.AgentRunState, error) {
	state := &models.AgentRunState{
		UserID:               userID,
		ConversationID:       conversationID,
		Query:                query,
		Status:               models.RunStatusFailed,
		Error:                err.Error(),
		TotalExecutionTimeMs: time.Since(start).Milliseconds(),
	}
	es.emit(models.NewRunEvent(models.RunEventError, state.CurrentStep).WithMessage(err.Error()))
	if c.metrics != nil {
		c.metrics.RecordRunAttempt("failed")
	}
	return state, err
}

// generate wraps a single LLM call with a wall-clock timeout; the caller
// substitutes a fixed fallback text on a timeout or error.
func (c *Controller) generate(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	callStart := time.Now()

	var span trace.Span
	if c.tracer != nil {
		callCtx, span = c.tracer.TraceLLMRequest(callCtx, c.llm.Name(), "")
		defer span.End()
	}

	text, err := c.llm.Generate(callCtx, prompt, c.cfg.LLMMaxTokens)
	if c.tracer != nil && err != nil {
		c.tracer.RecordError(span, err)
	}
	if c.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordLLMRequest(c.llm.Name(), "", status, time.Since(callStart).Seconds(), 0, 0)
	}
	return text, err
}

func (c *Controller) logWarn(ctx context.Context, msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(ctx, msg, args...)
	}
}

func historyTexts(history []models.ConversationMessage) []string {
	out := make([]string, 0, len(history))
	for _, m := range history {
		out = append(out, m.Content)
	}
	return out
}

func functionIDs(functions []*models.FunctionSchema) []string {
	out := make([]string, 0, len(functions))
	for _, fn := range functions {
		out = append(out, fn.FunctionID)
	}
	return out
}

func previousResultMaps(observations []models.Observation) []map[string]any {
	out := make([]map[string]any, 0, len(observations))
	for _, o := range observations {
		if !o.Success {
			continue
		}
		if m, ok := o.Data.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
