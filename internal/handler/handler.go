// Package handler implements the per-phase conversation logic: each
// phase has a handler that turns the active message history into
// structured artifacts and a reply for the user.
package handler

import (
	"context"

	"sprintpilot/internal/types"
)

// PhaseContext is everything a handler may look at for one message.
// Handlers never touch the store; the orchestrator loads state before
// and persists artifacts after.
type PhaseContext struct {
	Ctx        context.Context
	Session    *types.Session
	Message    *types.Message                         // the just-appended user message
	History    []*types.Message                       // active path, oldest first
	Artifacts  map[types.ArtifactType]*types.Artifact // current artifacts by type
	Selections []*types.FrameworkSelection            // ranked, may be empty
	Items      map[string]*types.KnowledgeItem        // selected items by id
}

// Result is what a handler produced for one message.
type Result struct {
	// Artifacts to persist as new current versions, in order.
	Artifacts []types.ArtifactContent

	// Reply is the deterministic assistant response used when no LLM
	// client is configured or generation fails.
	Reply string

	// SystemPrompt and UserPrompt drive LLM reply generation when a
	// client is available. Empty UserPrompt means skip generation and
	// use Reply as-is.
	SystemPrompt string
	UserPrompt   string
}

// Handler processes messages for exactly one phase.
type Handler interface {
	Phase() types.Phase
	ProcessMessage(pc *PhaseContext) (*Result, error)

	// GetNextPhase returns the forward target, or nil for the terminal
	// phase.
	GetNextPhase() *types.Phase
}

// Registry maps phases to their handlers.
type Registry struct {
	handlers map[types.Phase]Handler
}

// SelectionRunner runs the framework selection pipeline for a session.
// Implemented by the selector service; declared here so handlers do not
// import it.
type SelectionRunner interface {
	SelectFrameworks(ctx context.Context, session *types.Session) ([]*types.FrameworkSelection, error)
}

// NewRegistry wires the six phase handlers. The extractor turns raw
// conversation into artifacts; the runner powers the selection phase.
func NewRegistry(extractor Extractor, runner SelectionRunner) *Registry {
	r := &Registry{handlers: make(map[types.Phase]Handler)}
	for _, h := range []Handler{
		&IntakeHandler{extractor: extractor},
		&DiagnosticHandler{extractor: extractor},
		&ClassificationHandler{extractor: extractor},
		&SelectionHandler{runner: runner},
		&ApplicationHandler{extractor: extractor},
		&MemoHandler{extractor: extractor},
	} {
		r.handlers[h.Phase()] = h
	}
	return r
}

// ForPhase returns the handler for a phase, or nil if none exists.
func (r *Registry) ForPhase(p types.Phase) Handler {
	return r.handlers[p]
}

// userMessagesInPhase filters the active history down to the user turns
// of the given phase, oldest first.
func userMessagesInPhase(history []*types.Message, phase types.Phase) []*types.Message {
	var out []*types.Message
	for _, m := range history {
		if m.Role == types.RoleUser && m.Phase == phase {
			out = append(out, m)
		}
	}
	return out
}

func nextPhaseOf(p types.Phase) *types.Phase {
	if p >= types.PhaseCommitmentMemo {
		return nil
	}
	next := p + 1
	return &next
}
