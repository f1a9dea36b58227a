package phase

import (
	"fmt"
	"time"

	"sprintpilot/internal/fault"
	"sprintpilot/internal/logging"
	"sprintpilot/internal/types"
)

// Store is the slice of the persistent store the phase manager needs.
type Store interface {
	CountActiveUserMessages(sessionID string, phase types.Phase) (int, error)
	CurrentArtifactsByPhase(sessionID string, phase types.Phase) ([]*types.Artifact, error)
	ListSelections(sessionID string) ([]*types.FrameworkSelection, error)
	AppendTransition(t *types.PhaseTransition) error
	LatestTransition(sessionID string) (*types.PhaseTransition, error)
	UpdateSessionPhase(sessionID string, phase types.Phase, states map[types.Phase]types.PhaseState) error
}

// Manager validates phase readiness and records transitions.
type Manager struct {
	store Store
}

// NewManager creates a phase manager backed by the given store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// ValidatePhaseReadiness computes the readiness verdict for the
// session's current phase. The same session state always yields the
// same verdict; nothing here mutates anything.
func (m *Manager) ValidatePhaseReadiness(session *types.Session) (types.ValidationResult, error) {
	timer := logging.StartTimer(logging.CategoryPhase, "ValidatePhaseReadiness")
	defer timer.Stop()

	def, err := GetPhaseDefinition(session.CurrentPhase)
	if err != nil {
		return types.ValidationResult{}, err
	}

	msgCount, err := m.store.CountActiveUserMessages(session.ID, session.CurrentPhase)
	if err != nil {
		return types.ValidationResult{}, fault.New(fault.CodePersistenceFailed, "phase.countMessages", err).
			WithSession(session.ID, session.CurrentPhase)
	}

	artifacts, err := m.store.CurrentArtifactsByPhase(session.ID, session.CurrentPhase)
	if err != nil {
		return types.ValidationResult{}, fault.New(fault.CodePersistenceFailed, "phase.loadArtifacts", err).
			WithSession(session.ID, session.CurrentPhase)
	}

	merged := mergeArtifacts(artifacts)
	if session.CurrentPhase == types.PhaseFrameworkSelection {
		selections, err := m.store.ListSelections(session.ID)
		if err != nil {
			return types.ValidationResult{}, fault.New(fault.CodePersistenceFailed, "phase.loadSelections", err).
				WithSession(session.ID, session.CurrentPhase)
		}
		merged.selectionCount = len(selections)
	}

	result := types.ValidationResult{}
	present := 0
	for _, element := range def.RequiredElements {
		ok := merged.hasElement(element)
		check := types.ElementCheck{Name: element, Required: true, Present: ok}
		if ok {
			check.Score = 1
			present++
		} else {
			result.MissingElements = append(result.MissingElements, element)
		}
		result.Elements = append(result.Elements, check)
	}

	if len(def.RequiredElements) > 0 {
		result.Score = float64(present) / float64(len(def.RequiredElements))
	} else {
		result.Score = 1
	}
	result.IsValid = len(result.MissingElements) == 0 && msgCount >= def.MinMessages

	if msgCount < def.MinMessages {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("phase needs at least %d user messages, has %d", def.MinMessages, msgCount))
	}
	if msgCount > def.MaxMessages {
		// Non-fatal: the conversation is dragging, not broken.
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("phase exceeded %d user messages (%d); consider moving on", def.MaxMessages, msgCount))
	}

	logging.PhaseDebug("Readiness for session %s phase %s: valid=%v score=%.2f missing=%v",
		session.ID, session.CurrentPhase, result.IsValid, result.Score, result.MissingElements)
	return result, nil
}

// TransitionToPhase logs the transition and then applies it to the
// session. Append-then-update: if the process dies between the two
// steps, ReconcileSession re-applies the logged transition on next load.
func (m *Manager) TransitionToPhase(session *types.Session, to types.Phase, validation types.ValidationResult, reason, triggeredBy string) error {
	timer := logging.StartTimer(logging.CategoryPhase, "TransitionToPhase")
	defer timer.Stop()

	if _, err := GetPhaseDefinition(to); err != nil {
		return err
	}

	record := &types.PhaseTransition{
		SessionID:   session.ID,
		FromPhase:   session.CurrentPhase,
		ToPhase:     to,
		Validation:  validation,
		Reason:      reason,
		TriggeredBy: triggeredBy,
	}
	if err := m.store.AppendTransition(record); err != nil {
		return fault.New(fault.CodeTransitionLogFailed, "phase.appendTransition", err).
			WithSession(session.ID, session.CurrentPhase).
			WithSuggestion("retry the message; the session phase was not changed")
	}

	return m.applyTransition(session, to)
}

// RollbackToPhase moves the session to a strictly earlier phase.
func (m *Manager) RollbackToPhase(session *types.Session, to types.Phase, reason, triggeredBy string) error {
	if !to.Valid() {
		return fault.New(fault.CodeUnknownPhase, "phase.rollback", nil).
			WithSession(session.ID, session.CurrentPhase)
	}
	if !to.Before(session.CurrentPhase) {
		return fault.New(fault.CodeInvalidRollback, "phase.rollback",
			fmt.Errorf("target %s is not earlier than current %s", to, session.CurrentPhase)).
			WithSession(session.ID, session.CurrentPhase)
	}

	logging.Phase("Rolling back session %s from %s to %s: %s", session.ID, session.CurrentPhase, to, reason)
	return m.TransitionToPhase(session, to, types.ValidationResult{IsValid: true, Score: 1}, reason, triggeredBy)
}

// ReconcileSession detects a logged-but-not-applied transition (crash
// between log append and session update) and re-applies it. Returns
// true when a repair happened.
func (m *Manager) ReconcileSession(session *types.Session) (bool, error) {
	last, err := m.store.LatestTransition(session.ID)
	if err != nil {
		return false, fault.New(fault.CodePersistenceFailed, "phase.reconcile", err).
			WithSession(session.ID, session.CurrentPhase)
	}
	if last == nil || last.ToPhase == session.CurrentPhase {
		return false, nil
	}

	logging.Get(logging.CategoryPhase).Warn(
		"Session %s phase %s does not match last logged transition to %s; re-applying",
		session.ID, session.CurrentPhase, last.ToPhase)

	if err := m.applyTransition(session, last.ToPhase); err != nil {
		return false, err
	}
	return true, nil
}

// applyTransition updates the in-memory session and persists the phase
// change: outgoing phase completed, incoming phase started.
func (m *Manager) applyTransition(session *types.Session, to types.Phase) error {
	now := time.Now().UTC()

	if session.PhaseStates == nil {
		session.PhaseStates = make(map[types.Phase]types.PhaseState)
	}
	outgoing := session.PhaseStates[session.CurrentPhase]
	outgoing.Completed = true
	outgoing.CompletedAt = &now
	session.PhaseStates[session.CurrentPhase] = outgoing

	incoming := session.PhaseStates[to]
	if !incoming.Started {
		incoming.Started = true
		incoming.StartedAt = &now
	}
	session.PhaseStates[to] = incoming

	from := session.CurrentPhase
	session.CurrentPhase = to

	if err := m.store.UpdateSessionPhase(session.ID, to, session.PhaseStates); err != nil {
		return fault.New(fault.CodePersistenceFailed, "phase.updateSession", err).
			WithSession(session.ID, from).
			WithSuggestion("reload the session; the transition log already holds the new phase")
	}

	logging.Phase("Session %s transitioned %s -> %s", session.ID, from, to)
	return nil
}
