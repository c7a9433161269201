// Package callexecutor dispatches a chosen function as an HTTP call,
// classifies failures into a fixed error taxonomy, retries transient ones
// with exponential backoff, and maintains a short-lived result cache keyed
// on function id and canonicalized parameters.
package callexecutor

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // used as a cache key, not for security
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/conduit/internal/observability"
	"github.com/haasonsaas/conduit/internal/retry"
	"github.com/haasonsaas/conduit/pkg/models"
)

// ErrorType classifies a terminal failure into a fixed taxonomy.
type ErrorType string

const (
	ErrorNotFound       ErrorType = "NotFound"
	ErrorTimeout        ErrorType = "Timeout"
	ErrorNetwork        ErrorType = "Network"
	ErrorHTTPStatus     ErrorType = "HTTPStatus"
	ErrorAuthentication ErrorType = "Authentication"
	ErrorPermission     ErrorType = "Permission"
	ErrorValidation     ErrorType = "ValidationError"
	ErrorUnrecoverable  ErrorType = "Unrecoverable"
)

// Result is what Execute returns for one function call.
type Result struct {
	Success         bool
	Data            any
	Error           string
	ErrorType       ErrorType
	Attempts        int
	ExecutionTimeMs float64
	Cached          bool
	StatusCode      int
	Timestamp       time.Time
}

// Registry is the narrow capability the executor needs from the function
// registry: resolve a schema and record the outcome of a call.
type Registry interface {
	Get(ctx context.Context, functionID string) (*models.FunctionSchema, error)
	RecordUsage(ctx context.Context, functionID string, responseTimeMs float64, success bool) error
}

// HTTPDoer is the subset of *http.Client the executor needs; satisfied by
// *http.Client directly, and by fakes in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CredentialProvider resolves an Authorization header value for a
// function that requires auth. Returning ok=false means no credential is
// configured for that function.
type CredentialProvider func(functionID string) (credential string, ok bool)

// Config holds the executor's per-function default timeout and retry budget.
type Config struct {
	DefaultTimeout time.Duration
	MaxAttempts    int
	AppName        string
	AppVersion     string
}

// DefaultConfig returns the executor's baseline timeout and retry settings.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 30 * time.Second,
		MaxAttempts:    3,
		AppName:        "conduit-agent",
		AppVersion:     "1.0.0",
	}
}

// Executor dispatches a chosen function call with retry and caching.
type Executor struct {
	registry   Registry
	http       HTTPDoer
	cfg        Config
	credential CredentialProvider
	logger     *observability.Logger
	metrics    *observability.Metrics

	cache *resultCache
}

// New builds an Executor. httpClient, logger, and metrics may be nil (a
// default http.Client, no logging, and no metrics, respectively);
// credential may be nil (no functions get an Authorization header).
func New(reg Registry, httpClient HTTPDoer, cfg Config, credential CredentialProvider, logger *observability.Logger, metrics *observability.Metrics) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Executor{
		registry:   reg,
		http:       httpClient,
		cfg:        cfg,
		credential: credential,
		logger:     logger,
		metrics:    metrics,
		cache:      newResultCache(),
	}
}

// Execute dispatches one function call, retrying transient failures with
// exponential backoff, and records the outcome via Registry.RecordUsage
// exactly once.
func (e *Executor) Execute(ctx context.Context, functionID string, parameters map[string]any, useCache bool) Result {
	start := time.Now()
	now := func() time.Time { return start }

	fn, err := e.registry.Get(ctx, functionID)
	if err != nil {
		return Result{Success: false, Error: err.Error(), ErrorType: classifyRegistryErr(err), Timestamp: now()}
	}
	if fn.Deprecated && e.logger != nil {
		e.logger.Warn(ctx, "callexecutor: calling deprecated function", "function_id", functionID)
	}

	cacheKey := buildCacheKey(functionID, parameters)
	if useCache && fn.CacheTTLSeconds > 0 {
		if cached, ok := e.cache.get(cacheKey); ok {
			return Result{Success: true, Data: cached, Cached: true, ExecutionTimeMs: 0, Timestamp: now()}
		}
	}

	result := e.dispatchWithRetry(ctx, fn, parameters)
	result.Timestamp = now()
	result.ExecutionTimeMs = float64(time.Since(start).Microseconds()) / 1000.0

	if result.Success && useCache && fn.CacheTTLSeconds > 0 {
		e.cache.set(cacheKey, result.Data, time.Duration(fn.CacheTTLSeconds)*time.Second)
	}

	if err := e.registry.RecordUsage(ctx, functionID, result.ExecutionTimeMs, result.Success); err != nil && e.logger != nil {
		e.logger.Error(ctx, "callexecutor: record usage failed", "function_id", functionID, "error", err)
	}

	if e.metrics != nil {
		status := "success"
		if !result.Success {
			status = "error"
			e.metrics.RecordError("callexecutor", string(result.ErrorType))
		}
		e.metrics.RecordFunctionExecution(functionID, status, result.ExecutionTimeMs/1000, result.Attempts)
	}

	return result
}

func classifyRegistryErr(err error) ErrorType {
	if strings.Contains(err.Error(), "not found") {
		return ErrorNotFound
	}
	return ErrorUnrecoverable
}

// dispatchWithRetry retries only Timeout/Network failures, up to
// cfg.MaxAttempts total, with exponential backoff capped at 1s/2s/....
// HTTP >= 400 is wrapped as a retry.PermanentError so the retry helper
// stops immediately.
func (e *Executor) dispatchWithRetry(ctx context.Context, fn *models.FunctionSchema, parameters map[string]any) Result {
	var last Result
	attempts := 0

	backoffCfg := retry.Exponential(e.cfg.MaxAttempts, time.Second, 8*time.Second)
	backoffCfg.Jitter = false

	retry.Do(ctx, backoffCfg, func() error {
		attempts++
		r, terminalErr := e.dispatchOnce(ctx, fn, parameters)
		last = r
		if terminalErr != nil {
			return retry.Permanent(terminalErr)
		}
		if !r.Success {
			return r.asError()
		}
		return nil
	})

	last.Attempts = attempts
	return last
}

// asError lets a failed (non-exceptional) Result participate in the retry
// helper's retryable/permanent distinction via its ErrorType.
func (r Result) asError() error {
	err := errors.New(r.Error)
	if r.ErrorType == ErrorTimeout || r.ErrorType == ErrorNetwork {
		return err
	}
	return retry.Permanent(err)
}

// dispatchOnce performs one HTTP attempt. The returned error is non-nil
// only for truly exceptional construction failures (bad URL, etc.); HTTP
// and transport failures are represented in the returned Result so the
// retry wrapper can inspect ErrorType.
func (e *Executor) dispatchOnce(ctx context.Context, fn *models.FunctionSchema, parameters map[string]any) (Result, error) {
	timeout := e.cfg.DefaultTimeout
	if fn.TimeoutSeconds > 0 {
		timeout = time.Duration(fn.TimeoutSeconds) * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := e.buildRequest(callCtx, fn, parameters)
	if err != nil {
		return Result{}, fmt.Errorf("callexecutor: build request: %w", err)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return Result{Success: false, Error: err.Error(), ErrorType: ErrorTimeout}, nil
		}
		return Result{Success: false, Error: err.Error(), ErrorType: ErrorNetwork}, nil
	}
	defer resp.Body.Close()

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)

	if resp.StatusCode >= 400 {
		errType := ErrorHTTPStatus
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			errType = ErrorAuthentication
		case http.StatusForbidden:
			errType = ErrorPermission
		}
		return Result{
			Success:    false,
			Error:      fmt.Sprintf("http status %d", resp.StatusCode),
			ErrorType:  errType,
			StatusCode: resp.StatusCode,
			Data:       body,
		}, nil
	}

	return Result{Success: true, Data: body, StatusCode: resp.StatusCode}, nil
}

func (e *Executor) buildRequest(ctx context.Context, fn *models.FunctionSchema, parameters map[string]any) (*http.Request, error) {
	method := strings.ToUpper(fn.HTTPMethod)
	endpoint := fn.Endpoint

	var req *http.Request
	var err error
	switch method {
	case http.MethodGet, http.MethodDelete:
		u, parseErr := url.Parse(endpoint)
		if parseErr != nil {
			return nil, parseErr
		}
		q := u.Query()
		for k, v := range parameters {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		u.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	default:
		body, marshalErr := json.Marshal(parameters)
		if marshalErr != nil {
			return nil, marshalErr
		}
		req, err = http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	}
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", fmt.Sprintf("%s/%s", e.cfg.AppName, e.cfg.AppVersion))
	if fn.AuthRequired && e.credential != nil {
		if cred, ok := e.credential(fn.FunctionID); ok {
			req.Header.Set("Authorization", cred)
		}
	}
	return req, nil
}

// buildCacheKey hashes function_id plus the parameters' canonical JSON
// encoding (encoding/json already emits map keys in sorted order) into an
// md5 hex digest.
func buildCacheKey(functionID string, parameters map[string]any) string {
	canon, _ := json.Marshal(parameters)
	sum := md5.Sum(append([]byte(functionID+"|"), canon...)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// resultCache is a TTL-bounded cache of successful call results, mirroring
// internal/registry's read-through cache shape.
type resultCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	data      any
	expiresAt time.Time
}

func newResultCache() *resultCache {
	return &resultCache{entries: make(map[string]cacheEntry)}
}

func (c *resultCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.data, true
}

func (c *resultCache) set(key string, data any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{data: data, expiresAt: time.Now().Add(ttl)}
}
