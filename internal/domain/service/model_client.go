package service

import (
	"context"
	"fmt"

	"github.com/llm-council/llm-council/gateway/internal/domain/entity"
)

// ChatMessage is an ordered (role, content) pair sent to a backend model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FailureKind classifies why a backend call produced no reply.
type FailureKind string

const (
	FailureTimeout    FailureKind = "timeout"
	FailureTransport  FailureKind = "transport"
	FailureHTTPStatus FailureKind = "http_status"
	FailureMalformed  FailureKind = "malformed_response"
)

// BackendFailure is the typed error returned by a ModelClient. Non-2xx
// statuses and malformed bodies are reported through it, never as panics or
// untyped errors; the fan-out layer absorbs them member by member.
type BackendFailure struct {
	Kind   FailureKind
	Model  string
	Status int // set for FailureHTTPStatus
	Err    error
}

func (f *BackendFailure) Error() string {
	switch f.Kind {
	case FailureHTTPStatus:
		return fmt.Sprintf("model %s: backend returned HTTP %d", f.Model, f.Status)
	default:
		return fmt.Sprintf("model %s: %s: %v", f.Model, f.Kind, f.Err)
	}
}

func (f *BackendFailure) Unwrap() error {
	return f.Err
}

// ModelClient is the single capability through which the engine reaches a
// backend. One implementation is selected at startup from the backend mode;
// everything downstream depends only on this contract.
type ModelClient interface {
	// Query sends messages to one model and returns its reply. The reply
	// content may be empty; callers decide whether that counts as usable.
	// Errors are always *BackendFailure.
	Query(ctx context.Context, model string, messages []ChatMessage) (*entity.ModelReply, error)

	// Preload issues a minimal prompt so the backend loads the model
	// weights. Best-effort: callers log failures and move on.
	Preload(ctx context.Context, model string) error

	// Validate reports per-model availability against the backend's
	// membership list. On backend errors every id maps to true (optimistic).
	Validate(ctx context.Context, models []string) map[string]bool
}
