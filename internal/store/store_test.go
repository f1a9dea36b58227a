package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"sprintpilot/internal/types"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	st, err := NewLocalStore(filepath.Join(t.TempDir(), "test.db"), Options{Dimensions: 3})
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSessionLifecycle(t *testing.T) {
	st := newTestStore(t)

	sess, err := st.CreateSession("user-1", types.SessionConfig{Persona: "founder"})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if sess.CurrentPhase != types.PhaseProblemIntake {
		t.Errorf("new sessions start at intake, got %s", sess.CurrentPhase)
	}

	loaded, err := st.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if loaded.Config.Persona != "founder" {
		t.Errorf("config did not round-trip: %+v", loaded.Config)
	}
	if !loaded.PhaseStates[types.PhaseProblemIntake].Started {
		t.Error("intake phase state should be started")
	}

	states := loaded.PhaseStates
	states[types.PhaseDiagnosticInterview] = types.PhaseState{Started: true}
	if err := st.UpdateSessionPhase(sess.ID, types.PhaseDiagnosticInterview, states); err != nil {
		t.Fatalf("UpdateSessionPhase failed: %v", err)
	}
	if err := st.UpdateSessionStatus(sess.ID, types.SessionAbandoned); err != nil {
		t.Fatalf("UpdateSessionStatus failed: %v", err)
	}

	loaded, _ = st.GetSession(sess.ID)
	if loaded.CurrentPhase != types.PhaseDiagnosticInterview || loaded.Status != types.SessionAbandoned {
		t.Errorf("updates did not persist: phase=%s status=%s", loaded.CurrentPhase, loaded.Status)
	}

	listed, err := st.ListSessions("user-1")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != sess.ID {
		t.Errorf("expected one session for user-1, got %d", len(listed))
	}

	if _, err := st.GetSession("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMessageBranching(t *testing.T) {
	st := newTestStore(t)
	sess, _ := st.CreateSession("user-1", types.SessionConfig{})

	m1, err := st.AppendMessage(sess.ID, "", types.RoleUser, "first", types.PhaseProblemIntake)
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	r1, _ := st.AppendMessage(sess.ID, m1.ID, types.RoleAssistant, "reply one", types.PhaseProblemIntake)
	m2, _ := st.AppendMessage(sess.ID, r1.ID, types.RoleUser, "second", types.PhaseProblemIntake)
	r2, _ := st.AppendMessage(sess.ID, m2.ID, types.RoleAssistant, "reply two", types.PhaseProblemIntake)

	tail, err := st.LastActiveMessage(sess.ID)
	if err != nil {
		t.Fatalf("LastActiveMessage failed: %v", err)
	}
	if tail.ID != r2.ID {
		t.Errorf("tail should be the latest reply, got %s", tail.Content)
	}

	n, err := st.CountActiveUserMessages(sess.ID, types.PhaseProblemIntake)
	if err != nil {
		t.Fatalf("CountActiveUserMessages failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 active user messages, got %d", n)
	}

	// Branch from m1: everything after it goes inactive.
	if err := st.SetActivePath(sess.ID, m1.ID); err != nil {
		t.Fatalf("SetActivePath failed: %v", err)
	}

	active, _ := st.ActiveMessages(sess.ID)
	if len(active) != 1 || active[0].ID != m1.ID {
		t.Fatalf("only the branch point should be active, got %d messages", len(active))
	}
	if n, _ := st.CountActiveUserMessages(sess.ID, types.PhaseProblemIntake); n != 1 {
		t.Errorf("expected 1 active user message after branch, got %d", n)
	}

	// Grow a new branch under m1, then branch back to m2 on the
	// abandoned path. The new branch must go fully inactive.
	b1, _ := st.AppendMessage(sess.ID, m1.ID, types.RoleUser, "third", types.PhaseProblemIntake)
	if _, err := st.AppendMessage(sess.ID, b1.ID, types.RoleAssistant, "reply three", types.PhaseProblemIntake); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if err := st.SetActivePath(sess.ID, m2.ID); err != nil {
		t.Fatalf("SetActivePath back to abandoned path failed: %v", err)
	}

	active, _ = st.ActiveMessages(sess.ID)
	wantActive := map[string]bool{m1.ID: true, r1.ID: true, m2.ID: true}
	if len(active) != len(wantActive) {
		t.Fatalf("expected %d active messages, got %d", len(wantActive), len(active))
	}
	for _, msg := range active {
		if !wantActive[msg.ID] {
			t.Errorf("message %q should not be active", msg.Content)
		}
	}
	if r2Loaded, _ := st.GetMessage(r2.ID); r2Loaded.ActiveBranch {
		t.Error("the abandoned reply below the branch point should stay inactive")
	}

	if err := st.SetActivePath(sess.ID, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for an unknown branch point, got %v", err)
	}
}

func TestArtifactVersioning(t *testing.T) {
	st := newTestStore(t)
	sess, _ := st.CreateSession("user-1", types.SessionConfig{})

	v1, err := st.SaveArtifact(sess.ID, types.ProblemBrief{Statement: "first take"}, types.PhaseProblemIntake)
	if err != nil {
		t.Fatalf("SaveArtifact failed: %v", err)
	}
	if v1.Version != 1 || !v1.IsCurrent {
		t.Errorf("first save should be current v1, got v%d current=%v", v1.Version, v1.IsCurrent)
	}

	v2, err := st.SaveArtifact(sess.ID, types.ProblemBrief{Statement: "refined take"}, types.PhaseProblemIntake)
	if err != nil {
		t.Fatalf("second SaveArtifact failed: %v", err)
	}
	if v2.Version != 2 {
		t.Errorf("expected version 2, got %d", v2.Version)
	}

	// A different artifact type versions independently.
	if _, err := st.SaveArtifact(sess.ID, types.DiagnosticNotes{KeyFindings: []string{"x"}}, types.PhaseDiagnosticInterview); err != nil {
		t.Fatalf("SaveArtifact notes failed: %v", err)
	}

	current, err := st.CurrentArtifact(sess.ID, types.ArtifactProblemBrief)
	if err != nil {
		t.Fatalf("CurrentArtifact failed: %v", err)
	}
	brief, ok := current.Content.(types.ProblemBrief)
	if !ok || brief.Statement != "refined take" {
		t.Errorf("current brief should be the refined take, got %+v", current.Content)
	}

	all, _ := st.CurrentArtifacts(sess.ID)
	if len(all) != 2 {
		t.Errorf("expected one current artifact per type, got %d", len(all))
	}

	byPhase, _ := st.CurrentArtifactsByPhase(sess.ID, types.PhaseProblemIntake)
	if len(byPhase) != 1 || byPhase[0].ArtifactType() != types.ArtifactProblemBrief {
		t.Errorf("expected only the brief for intake, got %d artifacts", len(byPhase))
	}
}

func TestSelectionsReplaceAndApply(t *testing.T) {
	st := newTestStore(t)
	sess, _ := st.CreateSession("user-1", types.SessionConfig{})

	seedItem(t, st, "one_way_doors", false)
	seedItem(t, st, "second_order_thinking", true)

	first := []*types.FrameworkSelection{
		{SessionID: sess.ID, KnowledgeItemID: "one_way_doors", OverallScore: 0.8, Rank: 1, SelectionReason: "strong match"},
	}
	if err := st.ReplaceSelections(sess.ID, first); err != nil {
		t.Fatalf("ReplaceSelections failed: %v", err)
	}

	replacement := []*types.FrameworkSelection{
		{SessionID: sess.ID, KnowledgeItemID: "second_order_thinking", OverallScore: 0.9, Rank: 1, SelectionReason: "foundational"},
		{SessionID: sess.ID, KnowledgeItemID: "one_way_doors", OverallScore: 0.7, Rank: 2, SelectionReason: "relevant"},
	}
	if err := st.ReplaceSelections(sess.ID, replacement); err != nil {
		t.Fatalf("second ReplaceSelections failed: %v", err)
	}

	listed, err := st.ListSelections(sess.ID)
	if err != nil {
		t.Fatalf("ListSelections failed: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("replace must supersede, expected 2 selections, got %d", len(listed))
	}
	if listed[0].Rank != 1 || listed[0].KnowledgeItemID != "second_order_thinking" {
		t.Errorf("selections should come back rank-ordered, got %+v", listed[0])
	}

	if err := st.MarkSelectionApplied(sess.ID, "one_way_doors"); err != nil {
		t.Fatalf("MarkSelectionApplied failed: %v", err)
	}
	listed, _ = st.ListSelections(sess.ID)
	for _, sel := range listed {
		want := sel.KnowledgeItemID == "one_way_doors"
		if sel.WasApplied != want {
			t.Errorf("applied flag wrong for %s: %v", sel.KnowledgeItemID, sel.WasApplied)
		}
	}
}

func TestTransitionLog(t *testing.T) {
	st := newTestStore(t)
	sess, _ := st.CreateSession("user-1", types.SessionConfig{})

	if latest, err := st.LatestTransition(sess.ID); err != nil || latest != nil {
		t.Fatalf("fresh session should have no transitions, got %v / %v", latest, err)
	}

	if err := st.AppendTransition(&types.PhaseTransition{
		SessionID: sess.ID,
		FromPhase: types.PhaseProblemIntake,
		ToPhase:   types.PhaseDiagnosticInterview,
		Reason:    "requirements satisfied",
	}); err != nil {
		t.Fatalf("AppendTransition failed: %v", err)
	}
	if err := st.AppendTransition(&types.PhaseTransition{
		SessionID: sess.ID,
		FromPhase: types.PhaseDiagnosticInterview,
		ToPhase:   types.PhaseProblemIntake,
		Reason:    "user rollback",
	}); err != nil {
		t.Fatalf("second AppendTransition failed: %v", err)
	}

	latest, err := st.LatestTransition(sess.ID)
	if err != nil {
		t.Fatalf("LatestTransition failed: %v", err)
	}
	if latest.ToPhase != types.PhaseProblemIntake || !latest.IsRollback() {
		t.Errorf("latest should be the rollback, got %+v", latest)
	}

	all, err := st.ListTransitions(sess.ID)
	if err != nil {
		t.Fatalf("ListTransitions failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 transitions, got %d", len(all))
	}
}

func TestKnowledgeUpsertKeepsID(t *testing.T) {
	st := newTestStore(t)

	item := &types.KnowledgeItem{
		Name:       "one_way_doors",
		Definition: "Separate reversible choices from one-way doors.",
	}
	if err := st.UpsertKnowledgeItem(item, []float32{1, 0, 0}); err != nil {
		t.Fatalf("UpsertKnowledgeItem failed: %v", err)
	}
	firstID := item.ID
	if firstID == "" {
		t.Fatal("upsert should assign an id")
	}

	// Re-ingest under the same name keeps the id so selections stay valid.
	again := &types.KnowledgeItem{
		Name:       "one_way_doors",
		Definition: "Updated definition.",
	}
	if err := st.UpsertKnowledgeItem(again, []float32{0, 1, 0}); err != nil {
		t.Fatalf("re-upsert failed: %v", err)
	}
	if again.ID != firstID {
		t.Errorf("re-ingest changed the id: %s -> %s", firstID, again.ID)
	}

	loaded, err := st.GetKnowledgeItem(firstID)
	if err != nil {
		t.Fatalf("GetKnowledgeItem failed: %v", err)
	}
	if diff := cmp.Diff(again, loaded); diff != "" {
		t.Errorf("stored item differs (-want +got):\n%s", diff)
	}

	if n, _ := st.CountKnowledgeItems(); n != 1 {
		t.Errorf("expected 1 item, got %d", n)
	}
}

func TestSearchSimilarRanksByCosine(t *testing.T) {
	st := newTestStore(t)

	seedItemVec(t, st, "aligned", []float32{1, 0, 0})
	seedItemVec(t, st, "nearby", []float32{0.9, 0.1, 0})
	seedItemVec(t, st, "orthogonal", []float32{0, 0, 1})

	hits, err := st.SearchSimilar([]float32{1, 0, 0}, 0.5, 10)
	if err != nil {
		t.Fatalf("SearchSimilar failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("threshold should drop the orthogonal item, got %d hits", len(hits))
	}
	if hits[0].Similarity < hits[1].Similarity {
		t.Error("hits must be ordered most similar first")
	}

	if _, err := st.SearchSimilar(nil, 0.5, 10); err == nil {
		t.Error("empty query vector should fail")
	}
}

func seedItem(t *testing.T, st *LocalStore, name string, super bool) {
	t.Helper()
	item := &types.KnowledgeItem{
		ID:           name,
		Name:         name,
		Definition:   "definition of " + name,
		IsSuperModel: super,
	}
	if err := st.UpsertKnowledgeItem(item, []float32{0.5, 0.5, 0}); err != nil {
		t.Fatalf("seed %s failed: %v", name, err)
	}
}

func seedItemVec(t *testing.T, st *LocalStore, name string, vec []float32) {
	t.Helper()
	item := &types.KnowledgeItem{
		ID:         name,
		Name:       name,
		Definition: "definition of " + name,
	}
	if err := st.UpsertKnowledgeItem(item, vec); err != nil {
		t.Fatalf("seed %s failed: %v", name, err)
	}
}
