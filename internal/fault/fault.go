// Package fault defines the error taxonomy shared across the sprint
// engine. Every failure that crosses a package boundary is wrapped in an
// *Error carrying a stable code, a retryable flag, and the session/phase
// context needed to diagnose it without a stack trace.
package fault

import (
	"errors"
	"fmt"

	"sprintpilot/internal/types"
)

// Code is a stable, machine-readable error code.
type Code string

const (
	// Not-found: surfaced immediately, non-retryable.
	CodeSessionNotFound Code = "session_not_found"
	CodeMessageNotFound Code = "message_not_found"

	// Validation failures: non-retryable without new input.
	CodeUnknownPhase    Code = "unknown_phase"
	CodePhaseNotReady   Code = "phase_not_ready"
	CodeInvalidRollback Code = "invalid_rollback"

	// External-service failures: retryable.
	CodeEmbeddingFailed   Code = "embedding_failed"
	CodeSearchFailed      Code = "search_failed"
	CodeGenerationFailed  Code = "generation_failed"
	CodePersistenceFailed Code = "persistence_failed"

	// Composite pipeline failures.
	CodeTransitionLogFailed      Code = "transition_log_failed"
	CodeFrameworkSelectionFailed Code = "framework_selection_failed"

	// Timeout: always retryable.
	CodeTimeout Code = "timeout"
)

// retryable maps each code to whether the caller may retry without
// changing anything. Validation and not-found codes never are.
var retryable = map[Code]bool{
	CodeEmbeddingFailed:          true,
	CodeSearchFailed:             true,
	CodeGenerationFailed:         true,
	CodePersistenceFailed:        true,
	CodeTransitionLogFailed:      true,
	CodeFrameworkSelectionFailed: true,
	CodeTimeout:                  true,
}

// Error is the single wrapped error type surfaced by the orchestration
// entry point. The original cause is preserved for errors.Is/As.
type Error struct {
	Code       Code
	Op         string // operation that failed, e.g. "selector.search"
	SessionID  string
	Phase      types.Phase
	Suggestion string // recovery hint as data, not UI text
	Cause      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Op)
	if e.SessionID != "" {
		msg += fmt.Sprintf(" (session=%s", e.SessionID)
		if e.Phase.Valid() {
			msg += fmt.Sprintf(" phase=%s", e.Phase)
		}
		msg += ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the caller may retry the failed operation.
func (e *Error) Retryable() bool { return retryable[e.Code] }

// New creates a fault with the given code and operation.
func New(code Code, op string, cause error) *Error {
	return &Error{Code: code, Op: op, Cause: cause}
}

// WithSession attaches session context to the fault.
func (e *Error) WithSession(sessionID string, phase types.Phase) *Error {
	e.SessionID = sessionID
	e.Phase = phase
	return e
}

// WithSuggestion attaches a recovery suggestion.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// CodeOf extracts the fault code from an error chain.
// Returns empty string if err carries no *Error.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsRetryable reports whether any fault in the chain is retryable.
// Plain errors with no fault wrapper are treated as non-retryable.
func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return false
}
