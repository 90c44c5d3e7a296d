package compliance

// Status rollup: the single authoritative derivation of control,
// requirement, and framework status from leaf artifact states. Every
// store implementation and every caller computes status through these
// functions; nothing else re-derives it.

// Satisfying reports whether an artifact in the given state counts toward
// its controls:
//   - policy: published
//   - evidence: published, or explicitly marked not relevant
//   - task: done
func Satisfying(kind ArtifactKind, status string) bool {
	switch kind {
	case KindPolicy:
		return status == PolicyPublished
	case KindEvidence:
		return status == EvidencePublished || status == EvidenceNotRelevant
	case KindTask:
		return status == TaskDone
	}
	return false
}

// ControlStatusOf derives a control's status from its mapped artifacts.
// A control with no mapped artifacts is not started; it is never
// vacuously completed.
func ControlStatusOf(artifacts []Artifact) ControlStatus {
	if len(artifacts) == 0 {
		return ControlNotStarted
	}
	satisfied := 0
	for _, a := range artifacts {
		if Satisfying(a.Kind, a.Status) {
			satisfied++
		}
	}
	switch satisfied {
	case 0:
		return ControlNotStarted
	case len(artifacts):
		return ControlCompleted
	default:
		return ControlInProgress
	}
}

// RequirementStatusOf derives a requirement's status from its mapped
// controls. The not-applicable override is terminal and wins over any
// control-derived result. A requirement with no mapped controls is
// non-compliant; nothing demonstrates compliance for it.
func RequirementStatusOf(notApplicable bool, controls []ControlStatus) RequirementStatus {
	if notApplicable {
		return RequirementNotApplicable
	}
	if len(controls) == 0 {
		return RequirementNonCompliant
	}
	completed, notStarted := 0, 0
	for _, c := range controls {
		switch c {
		case ControlCompleted:
			completed++
		case ControlNotStarted:
			notStarted++
		}
	}
	switch {
	case completed == len(controls):
		return RequirementCompliant
	case completed == 0 && notStarted > 0:
		return RequirementNonCompliant
	default:
		return RequirementPartiallyCompliant
	}
}

// FrameworkCompliancePercent computes the share of compliant requirements,
// excluding not-applicable ones from the denominator. A framework whose
// every requirement is not applicable has nothing left to satisfy and
// reports 100.
func FrameworkCompliancePercent(requirements []RequirementStatus) float64 {
	applicable, compliant := 0, 0
	for _, r := range requirements {
		if r == RequirementNotApplicable {
			continue
		}
		applicable++
		if r == RequirementCompliant {
			compliant++
		}
	}
	if applicable == 0 {
		return 100
	}
	return 100 * float64(compliant) / float64(applicable)
}
