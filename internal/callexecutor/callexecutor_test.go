package callexecutor

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/conduit/internal/registry"
	"github.com/haasonsaas/conduit/pkg/models"
)

func newTestFunction(id string) *models.FunctionSchema {
	return &models.FunctionSchema{
		FunctionID:     id,
		Name:           "get_weather",
		Category:       "weather",
		Endpoint:       "https://example.com/weather",
		HTTPMethod:     "GET",
		TimeoutSeconds: 5,
		Parameters: models.ParameterSchema{
			Properties: map[string]models.ParameterProperty{"location": {Type: "text"}},
			Required:   []string{"location"},
		},
	}
}

// scriptedDoer returns canned responses in order, one per call, and
// optionally errors instead (nil response) to simulate a transport
// failure or timeout.
type scriptedDoer struct {
	mu        sync.Mutex
	responses []func() (*http.Response, error)
	calls     int
}

func (d *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.calls
	d.calls++
	if i >= len(d.responses) {
		i = len(d.responses) - 1
	}
	return d.responses[i]()
}

func jsonResponse(status int, body string) func() (*http.Response, error) {
	return func() (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(bytes.NewBufferString(body)),
			Header:     make(http.Header),
		}, nil
	}
}

func newTestRegistry(t *testing.T, fn *models.FunctionSchema) *registry.Service {
	t.Helper()
	reg := registry.NewService(registry.NewMemoryStore(registry.NoopEventLogger{}), 0)
	require.NoError(t, reg.Create(context.Background(), fn))
	return reg
}

// TestExecute_RetryThenSuccess covers the retry-then-success path: the
// first two attempts time out and the third succeeds, with exactly one
// RecordUsage(success=true) call and attempts=3 on the returned Result.
func TestExecute_RetryThenSuccess(t *testing.T) {
	fn := newTestFunction("fn-1")
	reg := newTestRegistry(t, fn)

	doer := &scriptedDoer{responses: []func() (*http.Response, error){
		func() (*http.Response, error) { return nil, &netErr{} },
		func() (*http.Response, error) { return nil, &netErr{} },
		jsonResponse(http.StatusOK, `{"temperature_f": 72}`),
	}}

	exec := New(reg, doer, DefaultConfig(), nil, nil, nil)
	result := exec.Execute(context.Background(), "fn-1", map[string]any{"location": "Hanoi"}, false)

	require.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, doer.calls)

	updated, err := reg.Get(context.Background(), "fn-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.CallCount)
	assert.Equal(t, 100.0, updated.SuccessRate)
}

type netErr struct{}

func (*netErr) Error() string   { return "connection reset" }
func (*netErr) Timeout() bool   { return false }
func (*netErr) Temporary() bool { return true }

// TestExecute_NonRetryable4xx covers the non-retryable-client-error path: a
// 403 on the first attempt is terminal, no retry happens, and the error is
// classified as Permission.
func TestExecute_NonRetryable4xx(t *testing.T) {
	fn := newTestFunction("fn-1")
	reg := newTestRegistry(t, fn)

	doer := &scriptedDoer{responses: []func() (*http.Response, error){
		jsonResponse(http.StatusForbidden, `{"error": "forbidden"}`),
		jsonResponse(http.StatusOK, `{"temperature_f": 72}`), // would prove a retry happened if reached
	}}

	exec := New(reg, doer, DefaultConfig(), nil, nil, nil)
	result := exec.Execute(context.Background(), "fn-1", map[string]any{"location": "Hanoi"}, false)

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, ErrorPermission, result.ErrorType)
	assert.Equal(t, 1, doer.calls)

	updated, err := reg.Get(context.Background(), "fn-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.CallCount)
	assert.Equal(t, 0.0, updated.SuccessRate)
}

// TestExecute_CacheHit verifies a second call within the TTL returns the
// cached result without dispatching another HTTP request.
func TestExecute_CacheHit(t *testing.T) {
	fn := newTestFunction("fn-1")
	fn.CacheTTLSeconds = 60
	reg := newTestRegistry(t, fn)

	doer := &scriptedDoer{responses: []func() (*http.Response, error){
		jsonResponse(http.StatusOK, `{"temperature_f": 72}`),
	}}

	exec := New(reg, doer, DefaultConfig(), nil, nil, nil)
	first := exec.Execute(context.Background(), "fn-1", map[string]any{"location": "Hanoi"}, true)
	require.True(t, first.Success)
	require.False(t, first.Cached)

	second := exec.Execute(context.Background(), "fn-1", map[string]any{"location": "Hanoi"}, true)
	require.True(t, second.Success)
	assert.True(t, second.Cached)
	assert.Equal(t, 0.0, second.ExecutionTimeMs)
	assert.Equal(t, 1, doer.calls)
}

// TestExecute_NotFound surfaces a missing function_id as a terminal
// NotFound error without touching the HTTP layer.
func TestExecute_NotFound(t *testing.T) {
	reg := registry.NewService(registry.NewMemoryStore(registry.NoopEventLogger{}), 0)
	doer := &scriptedDoer{responses: []func() (*http.Response, error){
		jsonResponse(http.StatusOK, `{}`),
	}}

	exec := New(reg, doer, DefaultConfig(), nil, nil, nil)
	result := exec.Execute(context.Background(), "missing", nil, false)

	assert.False(t, result.Success)
	assert.Equal(t, ErrorNotFound, result.ErrorType)
	assert.Equal(t, 0, doer.calls)
}

// TestExecute_AuthHeader verifies Authorization is set only when the
// function requires auth and a credential is configured.
func TestExecute_AuthHeader(t *testing.T) {
	fn := newTestFunction("fn-1")
	fn.AuthRequired = true
	reg := newTestRegistry(t, fn)

	var sawAuth string
	doer := &recordingDoer{fn: func(req *http.Request) (*http.Response, error) {
		sawAuth = req.Header.Get("Authorization")
		return jsonResponse(http.StatusOK, `{}`)()
	}}

	exec := New(reg, doer, DefaultConfig(), func(functionID string) (string, bool) {
		return "Bearer secret", true
	}, nil, nil)
	result := exec.Execute(context.Background(), "fn-1", map[string]any{"location": "Hanoi"}, false)

	require.True(t, result.Success)
	assert.Equal(t, "Bearer secret", sawAuth)
}

type recordingDoer struct {
	fn func(req *http.Request) (*http.Response, error)
}

func (d *recordingDoer) Do(req *http.Request) (*http.Response, error) { return d.fn(req) }

// TestExecuteSequential_TemplateResolution verifies a later call can
// reference an earlier call's result via "{{call_id.path}}" and that an
// unresolved reference surfaces as a terminal ValidationError.
func TestExecuteSequential_TemplateResolution(t *testing.T) {
	locationFn := newTestFunction("fn-location")
	weatherFn := newTestFunction("fn-weather")
	reg := registry.NewService(registry.NewMemoryStore(registry.NoopEventLogger{}), 0)
	require.NoError(t, reg.Create(context.Background(), locationFn))
	require.NoError(t, reg.Create(context.Background(), weatherFn))

	doer := &scriptedDoer{responses: []func() (*http.Response, error){
		jsonResponse(http.StatusOK, `{"city": "Hanoi"}`),
		jsonResponse(http.StatusOK, `{"temperature_f": 90}`),
	}}
	exec := New(reg, doer, DefaultConfig(), nil, nil, nil)

	results := exec.ExecuteSequential(context.Background(), []Call{
		{ID: "geo", FunctionID: "fn-location", Parameters: map[string]any{"location": "ip"}},
		{ID: "weather", FunctionID: "fn-weather", Parameters: map[string]any{"location": "{{geo.city}}"}},
	})

	require.Len(t, results, 2)
	assert.True(t, results[0].Result.Success)
	assert.True(t, results[1].Result.Success)
}

func TestExecuteSequential_UnresolvedTemplate(t *testing.T) {
	weatherFn := newTestFunction("fn-weather")
	reg := newTestRegistry(t, weatherFn)
	doer := &scriptedDoer{responses: []func() (*http.Response, error){
		jsonResponse(http.StatusOK, `{}`),
	}}
	exec := New(reg, doer, DefaultConfig(), nil, nil, nil)

	results := exec.ExecuteSequential(context.Background(), []Call{
		{ID: "weather", FunctionID: "fn-weather", Parameters: map[string]any{"location": "{{unknown.city}}"}},
	})

	require.Len(t, results, 1)
	assert.False(t, results[0].Result.Success)
	assert.Equal(t, ErrorValidation, results[0].Result.ErrorType)
	assert.Equal(t, 0, doer.calls)
}

// TestExecuteParallel_RunsAllCalls verifies every call in a parallel batch
// is dispatched regardless of ordering.
func TestExecuteParallel_RunsAllCalls(t *testing.T) {
	fn1 := newTestFunction("fn-1")
	fn2 := newTestFunction("fn-2")
	reg := registry.NewService(registry.NewMemoryStore(registry.NoopEventLogger{}), 0)
	require.NoError(t, reg.Create(context.Background(), fn1))
	require.NoError(t, reg.Create(context.Background(), fn2))

	doer := &concurrentDoer{}
	exec := New(reg, doer, DefaultConfig(), nil, nil, nil)

	results := exec.ExecuteParallel(context.Background(), []Call{
		{ID: "a", FunctionID: "fn-1", Parameters: map[string]any{"location": "Hanoi"}},
		{ID: "b", FunctionID: "fn-2", Parameters: map[string]any{"location": "Saigon"}},
	})

	require.Len(t, results, 2)
	ids := map[string]bool{}
	for _, r := range results {
		ids[r.CallID] = true
		assert.True(t, r.Result.Success)
	}
	assert.True(t, ids["a"])
	assert.True(t, ids["b"])
}

type concurrentDoer struct{}

func (*concurrentDoer) Do(req *http.Request) (*http.Response, error) {
	return jsonResponse(http.StatusOK, `{}`)()
}
