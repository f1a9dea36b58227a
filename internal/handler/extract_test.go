package handler

import (
	"context"
	"testing"

	"sprintpilot/internal/types"
)

func intakeContext(contents ...string) *PhaseContext {
	pc := &PhaseContext{
		Ctx:       context.Background(),
		Session:   &types.Session{ID: "sess-1", CurrentPhase: types.PhaseProblemIntake},
		Artifacts: make(map[types.ArtifactType]*types.Artifact),
	}
	for _, c := range contents {
		pc.History = append(pc.History, &types.Message{
			Role:    types.RoleUser,
			Content: c,
			Phase:   types.PhaseProblemIntake,
		})
	}
	if n := len(pc.History); n > 0 {
		pc.Message = pc.History[n-1]
	}
	return pc
}

func TestRuleExtractorUrgencyAndStakeholders(t *testing.T) {
	e := &RuleExtractor{}
	pc := intakeContext(
		"Should we take the acquisition offer?",
		"This is urgent. The board wants an answer in 48 hours.",
	)

	brief, err := e.ProblemBrief(pc)
	if err != nil {
		t.Fatalf("ProblemBrief failed: %v", err)
	}
	if brief.Urgency != types.UrgencyImmediate {
		t.Errorf("expected urgency %q, got %q", types.UrgencyImmediate, brief.Urgency)
	}
	found := false
	for _, s := range brief.Stakeholders {
		if s == "board" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected stakeholders to contain %q, got %v", "board", brief.Stakeholders)
	}
	if brief.Statement != "Should we take the acquisition offer?" {
		t.Errorf("unexpected statement: %q", brief.Statement)
	}
	if brief.Context == "" {
		t.Error("second message should populate context")
	}
}

func TestRuleExtractorUrgencyLevels(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"We need to decide asap, the deadline is close", types.UrgencyImmediate},
		{"We should figure this out next month", types.UrgencySoon},
		{"No rush, just exploring options", types.UrgencyExploratory},
		{"We keep going back and forth on this", ""},
	}
	e := &RuleExtractor{}
	for _, tc := range cases {
		pc := intakeContext("Should we rewrite the backend?", tc.text)
		brief, err := e.ProblemBrief(pc)
		if err != nil {
			t.Fatalf("ProblemBrief failed: %v", err)
		}
		if brief.Urgency != tc.want {
			t.Errorf("%q: expected urgency %q, got %q", tc.text, tc.want, brief.Urgency)
		}
	}
}

func TestRuleExtractorDiagnosticNotes(t *testing.T) {
	e := &RuleExtractor{}
	pc := &PhaseContext{
		Ctx:       context.Background(),
		Session:   &types.Session{ID: "sess-1", CurrentPhase: types.PhaseDiagnosticInterview},
		Artifacts: make(map[types.ArtifactType]*types.Artifact),
		History: []*types.Message{
			{Role: types.RoleUser, Phase: types.PhaseDiagnosticInterview,
				Content: "The co-founder and the investors both have opinions."},
			{Role: types.RoleUser, Phase: types.PhaseDiagnosticInterview,
				Content: "We only have six months of runway left."},
			{Role: types.RoleUser, Phase: types.PhaseDiagnosticInterview,
				Content: "Success looks like doubling enterprise revenue within a year."},
			{Role: types.RoleUser, Phase: types.PhaseDiagnosticInterview,
				Content: "I realized the churn is really a product quality problem."},
		},
	}
	pc.Message = pc.History[len(pc.History)-1]

	notes, err := e.DiagnosticNotes(pc)
	if err != nil {
		t.Fatalf("DiagnosticNotes failed: %v", err)
	}
	if len(notes.Stakeholders) == 0 {
		t.Error("expected stakeholders extracted")
	}
	if len(notes.Constraints) == 0 {
		t.Error("expected the runway constraint extracted")
	}
	if len(notes.SuccessCriteria) == 0 {
		t.Error("expected success criteria extracted")
	}
	if len(notes.KeyFindings) == 0 {
		t.Error("expected the churn finding extracted")
	}
}

func TestRuleExtractorCharacteristics(t *testing.T) {
	e := &RuleExtractor{}
	pc := intakeContext(
		"Should we sell the company?",
		"This is irreversible and existential, and we're running out of time.",
	)

	c, err := e.Characteristics(pc)
	if err != nil {
		t.Fatalf("Characteristics failed: %v", err)
	}
	if c.Reversibility != "irreversible" {
		t.Errorf("expected irreversible, got %q", c.Reversibility)
	}
	if c.Consequence != "high" {
		t.Errorf("expected high consequence, got %q", c.Consequence)
	}
	if c.TimePressure != "high" {
		t.Errorf("expected high time pressure, got %q", c.TimePressure)
	}
}

func TestRuleExtractorCharacteristicsDefaults(t *testing.T) {
	e := &RuleExtractor{}
	pc := intakeContext("Should we change our pricing page layout?")

	c, err := e.Characteristics(pc)
	if err != nil {
		t.Fatalf("Characteristics failed: %v", err)
	}
	want := types.DecisionCharacteristics{
		Reversibility: "partially_reversible",
		Consequence:   "medium",
		Information:   "partial",
		TimePressure:  "medium",
	}
	if c != want {
		t.Errorf("expected defaults %+v, got %+v", want, c)
	}
}

func TestRuleExtractorMemoDerivesFromApplication(t *testing.T) {
	e := &RuleExtractor{}
	pc := &PhaseContext{
		Ctx:     context.Background(),
		Session: &types.Session{ID: "sess-1", CurrentPhase: types.PhaseCommitmentMemo},
		Artifacts: map[types.ArtifactType]*types.Artifact{
			types.ArtifactApplicationNotes: {Content: types.ApplicationNotes{
				Insights:  []string{"Enterprise deals close slower but churn less"},
				Decisions: []string{"We decided to pivot to enterprise"},
				NextSteps: []string{"First step is a pilot with two design partners"},
			}},
			types.ArtifactDiagnosticNotes: {Content: types.DiagnosticNotes{
				SuccessCriteria: []string{"Success looks like two signed pilots in a quarter"},
			}},
		},
		History: []*types.Message{
			{Role: types.RoleUser, Phase: types.PhaseCommitmentMemo, Content: "Looks right to me."},
		},
	}
	pc.Message = pc.History[0]

	memo, err := e.CommitmentMemo(pc)
	if err != nil {
		t.Fatalf("CommitmentMemo failed: %v", err)
	}
	if memo.Decision == "" {
		t.Error("decision should derive from application notes")
	}
	if memo.Rationale == "" {
		t.Error("rationale should derive from insights")
	}
	if memo.FirstDomino == "" {
		t.Error("first domino should derive from next steps")
	}
	if memo.MicroBet == "" {
		t.Error("micro-bet should pick the pilot step")
	}
	if len(memo.SuccessMetrics) == 0 {
		t.Error("success metrics should carry over from diagnostics")
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"{\"a\":1}":                      "{\"a\":1}",
		"```json\n{\"a\":1}\n```":        "{\"a\":1}",
		"```\n{\"a\":1}\n```":            "{\"a\":1}",
		"  {\"a\":1}  ":                  "{\"a\":1}",
	}
	for in, want := range cases {
		if got := stripCodeFence(in); got != want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}
