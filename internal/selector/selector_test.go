package selector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/conduit/internal/ragretriever"
	"github.com/haasonsaas/conduit/internal/registry"
	"github.com/haasonsaas/conduit/internal/vectorindex"
	"github.com/haasonsaas/conduit/pkg/models"
)

// fakeEmbedder returns a one-hot-ish vector keyed by whether the text
// contains a given keyword, so cosine similarity in the in-memory index
// behaves predictably in tests without a real embedding model.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return keywordVector(text), nil
}

func (f fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = keywordVector(t)
	}
	return out, nil
}

func (fakeEmbedder) Name() string      { return "fake" }
func (fakeEmbedder) Dimension() int    { return 3 }
func (fakeEmbedder) MaxBatchSize() int { return 100 }

func keywordVector(text string) []float32 {
	v := []float32{0, 0, 0}
	containsAny := func(words ...string) bool {
		for _, w := range words {
			if contains(text, w) {
				return true
			}
		}
		return false
	}
	if containsAny("weather", "temperature", "forecast", "Hanoi") {
		v[0] = 1
	}
	if containsAny("stock", "exchange", "currency") {
		v[1] = 1
	}
	if containsAny("meeting", "schedule", "calendar") {
		v[2] = 1
	}
	if v[0] == 0 && v[1] == 0 && v[2] == 0 {
		v[0] = 0.1
	}
	return v
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if equalFold(s[i:i+len(substr)], substr) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// fakeLLM returns a canned response regardless of prompt.
type fakeLLM struct {
	response string
	err      error
}

func (f fakeLLM) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return f.response, f.err
}
func (f fakeLLM) Name() string { return "fake" }

func newTestSelector(t *testing.T, llm fakeLLM) (*Selector, *registry.Service, *ragretriever.Retriever) {
	t.Helper()
	store := registry.NewMemoryStore(registry.NoopEventLogger{})
	reg := registry.NewService(store, 0)
	idx := vectorindex.NewMemoryIndex()
	retr := ragretriever.New(reg, fakeEmbedder{}, idx)
	sel := New(reg, retr, llm, DefaultConfig())
	return sel, reg, retr
}

func mustCreate(t *testing.T, reg *registry.Service, retr *ragretriever.Retriever, fn *models.FunctionSchema) {
	t.Helper()
	require.NoError(t, reg.Create(context.Background(), fn))
	require.NoError(t, retr.Index(context.Background(), fn))
}

func TestSelector_RuleTier_HighConfidenceMatch(t *testing.T) {
	sel, reg, retr := newTestSelector(t, fakeLLM{})

	mustCreate(t, reg, retr, &models.FunctionSchema{
		FunctionID:  "get_weather",
		Name:        "get_weather",
		Description: "Gets current weather for a location",
		Category:    "weather",
		Parameters: models.ParameterSchema{
			Properties: map[string]models.ParameterProperty{"location": {Type: "text"}},
			Required:   []string{"location"},
		},
	})

	res, err := sel.Select(context.Background(), "What's the weather and temperature forecast in Hanoi?", nil, 5)
	require.NoError(t, err)
	assert.Equal(t, MethodRuleBased, res.Method)
	assert.GreaterOrEqual(t, res.Confidence, 0.85)
	require.Len(t, res.Functions, 1)
	assert.Equal(t, "get_weather", res.Functions[0].FunctionID)

	stats := sel.Stats()
	assert.Equal(t, 1, stats.RuleHits)
}

func TestSelector_RAGTier_FallsBackWhenRuleScoreLow(t *testing.T) {
	sel, reg, retr := newTestSelector(t, fakeLLM{})

	mustCreate(t, reg, retr, &models.FunctionSchema{
		FunctionID:  "get_stock_price",
		Name:        "get_stock_price",
		Description: "Gets a stock quote",
		Category:    "finance",
	})

	// one weak keyword hit ("rain" isn't present) keeps the rule tier
	// below threshold, so this must fall through to the RAG tier.
	res, err := sel.Select(context.Background(), "What's the current exchange currency rate for gold?", nil, 5)
	require.NoError(t, err)
	assert.Equal(t, MethodRAG, res.Method)
	assert.Equal(t, 1, sel.Stats().RAGHits)
}

func TestSelector_LLMTier_UsedWhenIndexEmpty(t *testing.T) {
	sel, reg, _ := newTestSelector(t, fakeLLM{response: `I'd suggest: ["send_email"]`})
	require.NoError(t, reg.Create(context.Background(), &models.FunctionSchema{
		FunctionID:  "send_email",
		Name:        "send_email",
		Description: "Sends an email",
		Category:    "email",
	}))

	res, err := sel.Select(context.Background(), "please do the thing with the widget", nil, 5)
	require.NoError(t, err)
	assert.Equal(t, MethodLLM, res.Method)
	assert.Equal(t, 0.7, res.Confidence)
	require.Len(t, res.Functions, 1)
	assert.Equal(t, "send_email", res.Functions[0].FunctionID)
}

func TestSelector_AllTiersMiss(t *testing.T) {
	sel, _, _ := newTestSelector(t, fakeLLM{response: "no idea"})
	res, err := sel.Select(context.Background(), "hello", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, res.Functions)
	assert.Equal(t, 0.0, res.Confidence)
	assert.Equal(t, 1, sel.Stats().Misses)
}

func TestExtractJSONStringArray(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, extractJSONStringArray(`sure, here: ["a", "b"] thanks`))
	assert.Nil(t, extractJSONStringArray("no array here"))
}
