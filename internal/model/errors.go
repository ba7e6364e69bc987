package model

import "fmt"

// ValidationError marks malformed input the client can correct.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
	}
	return "invalid input: " + e.Msg
}

// NotFoundError marks a missing workspace or content item.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ConfigError means the workspace lacks search configuration. Fatal for
// the request, never retried.
type ConfigError struct {
	WorkspaceID string
	Msg         string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("workspace %s: %s", e.WorkspaceID, e.Msg)
}

// UpstreamError wraps a failed embedding-provider or vector-index call.
// Retried with bounded backoff, then dead-lettered.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// RateLimitedError is propagated as-is; the caller backs off.
type RateLimitedError struct {
	Service    string
	RetryAfter string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s rate limited", e.Service)
}
