package models

import "time"

// CallAttemptStage describes one attempt's lifecycle stage within
// internal/callexecutor's retry loop for a single function invocation.
type CallAttemptStage string

const (
	CallAttemptStarted   CallAttemptStage = "started"
	CallAttemptSucceeded CallAttemptStage = "succeeded"
	CallAttemptFailed    CallAttemptStage = "failed"
	CallAttemptRetrying  CallAttemptStage = "retrying"
	CallAttemptCached    CallAttemptStage = "cached"
)

// CallAttemptEvent records one attempt of a Retry Executor call for
// observability; it is distinct from the controller-level RunEvent stream.
type CallAttemptEvent struct {
	FunctionID string           `json:"function_id"`
	Stage      CallAttemptStage `json:"stage"`
	Attempt    int              `json:"attempt"`
	ErrorType  string           `json:"error_type,omitempty"`
	Error      string           `json:"error,omitempty"`
	DurationMs int64            `json:"duration_ms,omitempty"`
	At         time.Time        `json:"at"`
}
