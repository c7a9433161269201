package callexecutor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Call is one function invocation as part of a batch.
type Call struct {
	ID         string
	FunctionID string
	Parameters map[string]any
	UseCache   bool
}

// BatchResult pairs a Call's id with its Result.
type BatchResult struct {
	CallID string
	Result Result
}

// ExecuteParallel runs every call independently and concurrently; there is
// no ordering guarantee between them.
func (e *Executor) ExecuteParallel(ctx context.Context, calls []Call) []BatchResult {
	out := make([]BatchResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call Call) {
			defer wg.Done()
			out[i] = BatchResult{CallID: call.ID, Result: e.Execute(ctx, call.FunctionID, call.Parameters, call.UseCache)}
		}(i, call)
	}
	wg.Wait()
	return out
}

var templateRefPattern = regexp.MustCompile(`^\{\{\s*([^.{}]+)\.([^{}]+)\s*\}\}$`)

// ExecuteSequential runs calls in order, resolving any string-valued
// parameter of the form "{{<call_id>.<dot.path>}}" against a prior call's
// returned data before dispatch. An unresolved reference is a terminal
// ValidationError for that call.
func (e *Executor) ExecuteSequential(ctx context.Context, calls []Call) []BatchResult {
	out := make([]BatchResult, 0, len(calls))
	resultsByID := make(map[string]any, len(calls))

	for _, call := range calls {
		resolved, err := resolveTemplates(call.Parameters, resultsByID)
		if err != nil {
			out = append(out, BatchResult{CallID: call.ID, Result: Result{
				Success:   false,
				Error:     err.Error(),
				ErrorType: ErrorValidation,
			}})
			continue
		}
		res := e.Execute(ctx, call.FunctionID, resolved, call.UseCache)
		resultsByID[call.ID] = res.Data
		out = append(out, BatchResult{CallID: call.ID, Result: res})
	}
	return out
}

// resolveTemplates returns a copy of params with every "{{call_id.path}}"
// string value substituted from priorResults.
func resolveTemplates(params map[string]any, priorResults map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		str, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		m := templateRefPattern.FindStringSubmatch(str)
		if m == nil {
			out[k] = v
			continue
		}
		callID, path := m[1], m[2]
		data, ok := priorResults[callID]
		if !ok {
			return nil, fmt.Errorf("callexecutor: unresolved template reference %q: unknown call_id %q", str, callID)
		}
		resolved, ok := walkPath(data, strings.Split(path, "."))
		if !ok {
			return nil, fmt.Errorf("callexecutor: unresolved template reference %q", str)
		}
		out[k] = resolved
	}
	return out, nil
}

func walkPath(data any, path []string) (any, bool) {
	cur := data
	for _, segment := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
