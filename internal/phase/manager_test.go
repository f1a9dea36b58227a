package phase

import (
	"errors"
	"testing"

	"sprintpilot/internal/fault"
	"sprintpilot/internal/types"
)

// fakeStore implements Store in memory for manager tests.
type fakeStore struct {
	userMessages map[types.Phase]int
	artifacts    map[types.Phase][]*types.Artifact
	selections   []*types.FrameworkSelection
	transitions  []*types.PhaseTransition

	failAppend bool
	failUpdate bool

	updatedPhase types.Phase
	updateCalls  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		userMessages: make(map[types.Phase]int),
		artifacts:    make(map[types.Phase][]*types.Artifact),
	}
}

func (f *fakeStore) CountActiveUserMessages(sessionID string, phase types.Phase) (int, error) {
	return f.userMessages[phase], nil
}

func (f *fakeStore) CurrentArtifactsByPhase(sessionID string, phase types.Phase) ([]*types.Artifact, error) {
	return f.artifacts[phase], nil
}

func (f *fakeStore) ListSelections(sessionID string) ([]*types.FrameworkSelection, error) {
	return f.selections, nil
}

func (f *fakeStore) AppendTransition(t *types.PhaseTransition) error {
	if f.failAppend {
		return errors.New("disk full")
	}
	f.transitions = append(f.transitions, t)
	return nil
}

func (f *fakeStore) LatestTransition(sessionID string) (*types.PhaseTransition, error) {
	if len(f.transitions) == 0 {
		return nil, nil
	}
	return f.transitions[len(f.transitions)-1], nil
}

func (f *fakeStore) UpdateSessionPhase(sessionID string, phase types.Phase, states map[types.Phase]types.PhaseState) error {
	if f.failUpdate {
		return errors.New("db locked")
	}
	f.updatedPhase = phase
	f.updateCalls++
	return nil
}

func testSession(phase types.Phase) *types.Session {
	return &types.Session{
		ID:           "sess-1",
		Status:       types.SessionActive,
		CurrentPhase: phase,
		PhaseStates: map[types.Phase]types.PhaseState{
			phase: {Started: true},
		},
	}
}

func TestValidateReadinessMissingElements(t *testing.T) {
	store := newFakeStore()
	store.userMessages[types.PhaseProblemIntake] = 3
	store.artifacts[types.PhaseProblemIntake] = []*types.Artifact{
		{Content: types.ProblemBrief{Statement: "Should we pivot?"}},
	}

	m := NewManager(store)
	result, err := m.ValidatePhaseReadiness(testSession(types.PhaseProblemIntake))
	if err != nil {
		t.Fatalf("ValidatePhaseReadiness failed: %v", err)
	}
	if result.IsValid {
		t.Error("expected invalid: context and urgency are missing")
	}
	if len(result.MissingElements) != 2 {
		t.Errorf("expected 2 missing elements, got %v", result.MissingElements)
	}
	want := 1.0 / 3.0
	if result.Score < want-0.001 || result.Score > want+0.001 {
		t.Errorf("expected score ~%.2f, got %.2f", want, result.Score)
	}
}

func TestValidateReadinessComplete(t *testing.T) {
	store := newFakeStore()
	store.userMessages[types.PhaseProblemIntake] = 2
	store.artifacts[types.PhaseProblemIntake] = []*types.Artifact{
		{Content: types.ProblemBrief{
			Statement: "Should we pivot to enterprise?",
			Context:   "SMB churn is climbing and enterprise leads keep asking",
			Urgency:   types.UrgencyImmediate,
		}},
	}

	m := NewManager(store)
	result, err := m.ValidatePhaseReadiness(testSession(types.PhaseProblemIntake))
	if err != nil {
		t.Fatalf("ValidatePhaseReadiness failed: %v", err)
	}
	if !result.IsValid {
		t.Errorf("expected valid, missing=%v warnings=%v", result.MissingElements, result.Warnings)
	}
	if result.Score != 1 {
		t.Errorf("expected score 1, got %.2f", result.Score)
	}
}

func TestValidateReadinessMinMessagesBlocks(t *testing.T) {
	store := newFakeStore()
	store.userMessages[types.PhaseProblemIntake] = 1
	store.artifacts[types.PhaseProblemIntake] = []*types.Artifact{
		{Content: types.ProblemBrief{Statement: "s", Context: "c", Urgency: types.UrgencySoon}},
	}

	m := NewManager(store)
	result, err := m.ValidatePhaseReadiness(testSession(types.PhaseProblemIntake))
	if err != nil {
		t.Fatalf("ValidatePhaseReadiness failed: %v", err)
	}
	if result.IsValid {
		t.Error("one user message should not satisfy the intake minimum")
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a minimum-messages warning")
	}
}

func TestValidateReadinessMaxMessagesWarnsOnly(t *testing.T) {
	store := newFakeStore()
	store.userMessages[types.PhaseProblemIntake] = 12
	store.artifacts[types.PhaseProblemIntake] = []*types.Artifact{
		{Content: types.ProblemBrief{Statement: "s", Context: "c", Urgency: types.UrgencySoon}},
	}

	m := NewManager(store)
	result, err := m.ValidatePhaseReadiness(testSession(types.PhaseProblemIntake))
	if err != nil {
		t.Fatalf("ValidatePhaseReadiness failed: %v", err)
	}
	if !result.IsValid {
		t.Error("exceeding the soft cap must not block the transition")
	}
	if len(result.Warnings) == 0 {
		t.Error("expected an over-cap warning")
	}
}

func TestValidateReadinessSelectionPhaseCountsSelections(t *testing.T) {
	store := newFakeStore()
	store.userMessages[types.PhaseFrameworkSelection] = 1

	m := NewManager(store)
	session := testSession(types.PhaseFrameworkSelection)

	result, err := m.ValidatePhaseReadiness(session)
	if err != nil {
		t.Fatalf("ValidatePhaseReadiness failed: %v", err)
	}
	if result.IsValid {
		t.Error("no selections yet; phase must not be ready")
	}

	store.selections = []*types.FrameworkSelection{
		{KnowledgeItemID: "ki-1", Rank: 1},
		{KnowledgeItemID: "ki-2", Rank: 2},
	}
	result, err = m.ValidatePhaseReadiness(session)
	if err != nil {
		t.Fatalf("ValidatePhaseReadiness failed: %v", err)
	}
	if !result.IsValid {
		t.Errorf("selections present; expected ready, missing=%v", result.MissingElements)
	}
}

func TestTransitionAppendsThenUpdates(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store)
	session := testSession(types.PhaseProblemIntake)

	err := m.TransitionToPhase(session, types.PhaseDiagnosticInterview,
		types.ValidationResult{IsValid: true, Score: 1}, "all elements present", "msg-9")
	if err != nil {
		t.Fatalf("TransitionToPhase failed: %v", err)
	}

	if len(store.transitions) != 1 {
		t.Fatalf("expected 1 logged transition, got %d", len(store.transitions))
	}
	logged := store.transitions[0]
	if logged.FromPhase != types.PhaseProblemIntake || logged.ToPhase != types.PhaseDiagnosticInterview {
		t.Errorf("logged wrong edge: %s -> %s", logged.FromPhase, logged.ToPhase)
	}
	if session.CurrentPhase != types.PhaseDiagnosticInterview {
		t.Errorf("session phase not updated: %s", session.CurrentPhase)
	}
	if store.updatedPhase != types.PhaseDiagnosticInterview {
		t.Errorf("store phase not updated: %s", store.updatedPhase)
	}
	if !session.PhaseStates[types.PhaseProblemIntake].Completed {
		t.Error("outgoing phase should be marked completed")
	}
	if !session.PhaseStates[types.PhaseDiagnosticInterview].Started {
		t.Error("incoming phase should be marked started")
	}
}

func TestTransitionLogFailureLeavesSessionUntouched(t *testing.T) {
	store := newFakeStore()
	store.failAppend = true
	m := NewManager(store)
	session := testSession(types.PhaseProblemIntake)

	err := m.TransitionToPhase(session, types.PhaseDiagnosticInterview,
		types.ValidationResult{IsValid: true}, "ready", "msg-1")
	if err == nil {
		t.Fatal("expected error when transition log append fails")
	}
	if fault.CodeOf(err) != fault.CodeTransitionLogFailed {
		t.Errorf("expected %s, got %s", fault.CodeTransitionLogFailed, fault.CodeOf(err))
	}
	if session.CurrentPhase != types.PhaseProblemIntake {
		t.Errorf("session phase changed despite log failure: %s", session.CurrentPhase)
	}
	if store.updateCalls != 0 {
		t.Error("session update must not run when the log append fails")
	}
}

func TestRollbackRequiresEarlierPhase(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store)

	session := testSession(types.PhaseFrameworkApplication)
	if err := m.RollbackToPhase(session, types.PhaseDiagnosticInterview, "revisit constraints", "msg-3"); err != nil {
		t.Fatalf("rollback to earlier phase failed: %v", err)
	}
	if session.CurrentPhase != types.PhaseDiagnosticInterview {
		t.Errorf("expected diagnostic_interview, got %s", session.CurrentPhase)
	}
	if len(store.transitions) != 1 || !store.transitions[0].IsRollback() {
		t.Error("rollback should be logged as a rollback transition")
	}

	err := m.RollbackToPhase(session, types.PhaseCommitmentMemo, "skip ahead", "msg-4")
	if fault.CodeOf(err) != fault.CodeInvalidRollback {
		t.Errorf("forward rollback must fail with %s, got %v", fault.CodeInvalidRollback, err)
	}
	err = m.RollbackToPhase(session, session.CurrentPhase, "same phase", "msg-5")
	if fault.CodeOf(err) != fault.CodeInvalidRollback {
		t.Errorf("same-phase rollback must fail with %s, got %v", fault.CodeInvalidRollback, err)
	}
}

func TestReconcileReappliesLoggedTransition(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store)

	// Simulate a crash after the log append but before the session update.
	session := testSession(types.PhaseProblemIntake)
	store.transitions = append(store.transitions, &types.PhaseTransition{
		SessionID: session.ID,
		FromPhase: types.PhaseProblemIntake,
		ToPhase:   types.PhaseDiagnosticInterview,
	})

	repaired, err := m.ReconcileSession(session)
	if err != nil {
		t.Fatalf("ReconcileSession failed: %v", err)
	}
	if !repaired {
		t.Fatal("expected a repair")
	}
	if session.CurrentPhase != types.PhaseDiagnosticInterview {
		t.Errorf("expected diagnostic_interview after repair, got %s", session.CurrentPhase)
	}

	repaired, err = m.ReconcileSession(session)
	if err != nil {
		t.Fatalf("second ReconcileSession failed: %v", err)
	}
	if repaired {
		t.Error("a consistent session must not be repaired")
	}
}

func TestReconcileNoTransitions(t *testing.T) {
	m := NewManager(newFakeStore())
	session := testSession(types.PhaseProblemIntake)

	repaired, err := m.ReconcileSession(session)
	if err != nil {
		t.Fatalf("ReconcileSession failed: %v", err)
	}
	if repaired {
		t.Error("fresh session has nothing to repair")
	}
}

func TestPhaseDefinitionsCoverAllPhases(t *testing.T) {
	for _, p := range types.AllPhases {
		def, err := GetPhaseDefinition(p)
		if err != nil {
			t.Fatalf("missing definition for %s: %v", p, err)
		}
		if len(def.RequiredElements) == 0 {
			t.Errorf("%s has no required elements", p)
		}
		if def.MinMessages < 1 {
			t.Errorf("%s has MinMessages %d", p, def.MinMessages)
		}
	}

	if _, err := GetPhaseDefinition(types.Phase(99)); fault.CodeOf(err) != fault.CodeUnknownPhase {
		t.Errorf("unknown phase should yield %s, got %v", fault.CodeUnknownPhase, err)
	}

	memo, _ := GetPhaseDefinition(types.PhaseCommitmentMemo)
	if !memo.Terminal() {
		t.Error("commitment memo phase must be terminal")
	}
	if !CanTransition(types.PhaseProblemIntake, types.PhaseDiagnosticInterview) {
		t.Error("intake -> diagnostic should be a legal forward edge")
	}
	if CanTransition(types.PhaseProblemIntake, types.PhaseCommitmentMemo) {
		t.Error("intake -> memo must not be a forward edge")
	}
}
