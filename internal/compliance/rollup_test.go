package compliance

import "testing"

func art(kind ArtifactKind, status string) Artifact {
	return Artifact{Kind: kind, Status: status}
}

func TestSatisfyingPredicate(t *testing.T) {
	cases := []struct {
		kind   ArtifactKind
		status string
		want   bool
	}{
		{KindPolicy, PolicyDraft, false},
		{KindPolicy, PolicyNeedsReview, false},
		{KindPolicy, PolicyPublished, true},
		{KindPolicy, PolicyArchived, false},
		{KindEvidence, EvidenceDraft, false},
		{KindEvidence, EvidencePublished, true},
		{KindEvidence, EvidenceNotRelevant, true},
		{KindTask, TaskTodo, false},
		{KindTask, TaskInProgress, false},
		{KindTask, TaskDone, true},
	}
	for _, tc := range cases {
		if got := Satisfying(tc.kind, tc.status); got != tc.want {
			t.Errorf("Satisfying(%s, %s) = %v, want %v", tc.kind, tc.status, got, tc.want)
		}
	}
}

func TestControlStatusProgression(t *testing.T) {
	arts := []Artifact{
		art(KindPolicy, PolicyDraft),
		art(KindEvidence, EvidenceDraft),
		art(KindTask, TaskTodo),
	}
	if got := ControlStatusOf(arts); got != ControlNotStarted {
		t.Fatalf("0/3 satisfying: got %s", got)
	}

	arts[0].Status = PolicyPublished
	if got := ControlStatusOf(arts); got != ControlInProgress {
		t.Fatalf("1/3 satisfying: got %s", got)
	}

	arts[1].Status = EvidenceNotRelevant
	if got := ControlStatusOf(arts); got != ControlInProgress {
		t.Fatalf("2/3 satisfying: got %s", got)
	}

	arts[2].Status = TaskDone
	if got := ControlStatusOf(arts); got != ControlCompleted {
		t.Fatalf("3/3 satisfying: got %s", got)
	}
}

func TestControlWithNoArtifactsNeverCompleted(t *testing.T) {
	if got := ControlStatusOf(nil); got != ControlNotStarted {
		t.Fatalf("zero artifacts: got %s, want %s", got, ControlNotStarted)
	}
}

func TestRequirementStatusDerivation(t *testing.T) {
	cases := []struct {
		name     string
		na       bool
		controls []ControlStatus
		want     RequirementStatus
	}{
		{"all completed", false, []ControlStatus{ControlCompleted, ControlCompleted}, RequirementCompliant},
		{"none completed one not started", false, []ControlStatus{ControlNotStarted, ControlInProgress}, RequirementNonCompliant},
		{"all not started", false, []ControlStatus{ControlNotStarted}, RequirementNonCompliant},
		{"partial", false, []ControlStatus{ControlCompleted, ControlNotStarted}, RequirementPartiallyCompliant},
		{"in progress only", false, []ControlStatus{ControlInProgress}, RequirementPartiallyCompliant},
		{"no controls", false, nil, RequirementNonCompliant},
		{"override wins", true, []ControlStatus{ControlCompleted}, RequirementNotApplicable},
		{"override with nothing mapped", true, nil, RequirementNotApplicable},
	}
	for _, tc := range cases {
		if got := RequirementStatusOf(tc.na, tc.controls); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestFrameworkCompliancePercent(t *testing.T) {
	got := FrameworkCompliancePercent([]RequirementStatus{
		RequirementCompliant,
		RequirementNonCompliant,
		RequirementNotApplicable,
		RequirementCompliant,
	})
	// 2 compliant of 3 applicable.
	if got < 66.6 || got > 66.7 {
		t.Fatalf("expected ~66.67, got %v", got)
	}

	if got := FrameworkCompliancePercent(nil); got != 100 {
		t.Fatalf("empty framework: got %v, want 100", got)
	}
	allNA := []RequirementStatus{RequirementNotApplicable, RequirementNotApplicable}
	if got := FrameworkCompliancePercent(allNA); got != 100 {
		t.Fatalf("all not applicable: got %v, want 100", got)
	}
}
