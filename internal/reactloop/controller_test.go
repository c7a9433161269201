package reactloop

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/conduit/internal/callexecutor"
	"github.com/haasonsaas/conduit/internal/contextbuilder"
	"github.com/haasonsaas/conduit/internal/paramsynth"
	"github.com/haasonsaas/conduit/internal/qualityvalidator"
	"github.com/haasonsaas/conduit/internal/ragretriever"
	"github.com/haasonsaas/conduit/internal/registry"
	"github.com/haasonsaas/conduit/internal/selector"
	"github.com/haasonsaas/conduit/internal/vectorindex"
	"github.com/haasonsaas/conduit/pkg/models"
)

// fakeEmbedder returns a fixed-direction vector for every text so every
// indexed record is maximally similar; only presence/absence of results
// matters to these tests, not ranking fidelity.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (fakeEmbedder) Dimension() int    { return 3 }
func (fakeEmbedder) Name() string      { return "fake" }
func (fakeEmbedder) MaxBatchSize() int { return 32 }

// scriptedLLM returns canned completions keyed by a substring of the
// prompt, so each THINK/ACT/REFLECT/FINAL phase gets a deterministic
// response regardless of call order.
type scriptedLLM struct {
	think, act, reflect, final string
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	switch {
	case strings.Contains(prompt, "Respond with exactly one line: Function:"):
		return s.act, nil
	case strings.Contains(prompt, "Respond in exactly this format"):
		return s.reflect, nil
	case strings.Contains(prompt, "write the final answer"):
		return s.final, nil
	default:
		return s.think, nil
	}
}

func (s *scriptedLLM) Name() string { return "scripted" }

func newWeatherFunction() *models.FunctionSchema {
	return &models.FunctionSchema{
		FunctionID:     "fn-weather",
		Name:           "get_weather",
		Description:    "Look up the current weather for a location",
		Category:       "weather",
		Endpoint:       "https://example.com/weather",
		HTTPMethod:     "GET",
		TimeoutSeconds: 5,
		Parameters: models.ParameterSchema{
			Properties: map[string]models.ParameterProperty{
				"location": {Type: "text"},
			},
			Required: []string{"location"},
		},
	}
}

type testHarness struct {
	reg  *registry.Service
	rag  *ragretriever.Retriever
	sel  *selector.Selector
	exec *callexecutor.Executor
	val  *qualityvalidator.Validator
	cb   *contextbuilder.Builder
}

func newHarness(t *testing.T, fn *models.FunctionSchema) *testHarness {
	t.Helper()
	reg := registry.NewService(registry.NewMemoryStore(registry.NoopEventLogger{}), 0)
	require.NoError(t, reg.Create(context.Background(), fn))

	idx := vectorindex.NewMemoryIndex()
	rag := ragretriever.New(reg, fakeEmbedder{}, idx)
	require.NoError(t, rag.Index(context.Background(), fn))

	sel := selector.New(reg, rag, nil, selector.DefaultConfig())

	httpDoer := &fakeHTTPDoer{}
	exec := callexecutor.New(reg, httpDoer, callexecutor.DefaultConfig(), nil, nil, nil)

	val := qualityvalidator.New(qualityvalidator.DefaultThreshold)
	cb := contextbuilder.New(contextbuilder.NewMemoryProfileStore(), contextbuilder.NewMemoryConversationStore(), contextbuilder.Config{})

	return &testHarness{reg: reg, rag: rag, sel: sel, exec: exec, val: val, cb: cb}
}

type fakeHTTPDoer struct{}

func (f *fakeHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	body := `{"temperature_f": 72, "condition": "sunny"}`
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}, nil
}

func TestController_HappyPath_CompletesWithFunctionCall(t *testing.T) {
	fn := newWeatherFunction()
	h := newHarness(t, fn)

	synth := paramsynth.New(&scriptedLLM{})
	llm := &scriptedLLM{
		think:   "I need to call Function: get_weather to answer this.",
		act:     "Function: get_weather",
		reflect: "Quality: 0.9\nContinue: no\nClarification: no\nReasoning: good enough",
		final:   "It is sunny in Boston today.",
	}

	ctrl := New(h.cb, h.sel, synth, h.exec, h.val, llm, Config{MaxSteps: 3}, nil, nil, nil)

	var events []*models.RunEvent
	state, err := ctrl.Run(context.Background(), "user-1", "what's the weather in Boston?", "conv-1", func(ev *models.RunEvent) {
		events = append(events, ev)
	})
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.Equal(t, models.RunStatusCompleted, state.Status)
	assert.Equal(t, "It is sunny in Boston today.", state.FinalAnswer)
	assert.Len(t, state.Thoughts, 1)
	assert.Len(t, state.Reflections, 1)

	time.Sleep(10 * time.Millisecond) // let the event-stream goroutine drain
	var types []models.RunEventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, models.RunEventStart)
	assert.Contains(t, types, models.RunEventThought)
	assert.Contains(t, types, models.RunEventFinalAnswer)
	assert.Contains(t, types, models.RunEventComplete)
}

func TestController_NoCandidates_DirectAnswer(t *testing.T) {
	reg := registry.NewService(registry.NewMemoryStore(registry.NoopEventLogger{}), 0)
	idx := vectorindex.NewMemoryIndex()
	rag := ragretriever.New(reg, fakeEmbedder{}, idx)
	sel := selector.New(reg, rag, &scriptedLLM{}, selector.DefaultConfig())
	exec := callexecutor.New(reg, &fakeHTTPDoer{}, callexecutor.DefaultConfig(), nil, nil, nil)
	val := qualityvalidator.New(qualityvalidator.DefaultThreshold)
	cb := contextbuilder.New(contextbuilder.NewMemoryProfileStore(), contextbuilder.NewMemoryConversationStore(), contextbuilder.Config{})
	synth := paramsynth.New(&scriptedLLM{})

	llm := &scriptedLLM{final: "I don't have a function for that, but generally..."}
	ctrl := New(cb, sel, synth, exec, val, llm, Config{MaxSteps: 3}, nil, nil, nil)

	state, err := ctrl.Run(context.Background(), "user-1", "tell me a joke", "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, state.Status)
	assert.Equal(t, 0.0, state.QualityScore)
	assert.Equal(t, "I don't have a function for that, but generally...", state.FinalAnswer)
}

func TestController_MaxStepsReached_Incomplete(t *testing.T) {
	fn := newWeatherFunction()
	h := newHarness(t, fn)
	synth := paramsynth.New(&scriptedLLM{})

	llm := &scriptedLLM{
		think:   "Still thinking, no clear action yet.",
		reflect: "Quality: 0.1\nContinue: yes\nClarification: no\nReasoning: not enough info",
		final:   "Best guess answer.",
	}
	ctrl := New(h.cb, h.sel, synth, h.exec, h.val, llm, Config{MaxSteps: 2}, nil, nil, nil)

	state, err := ctrl.Run(context.Background(), "user-1", "what's the weather in Boston?", "", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, state.CurrentStep)
	assert.Equal(t, models.RunStatusIncomplete, state.Status)
}
