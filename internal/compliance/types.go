// Package compliance implements the organization-scoped compliance graph:
// framework/requirement/control instances cloned from the template catalog,
// the artifacts that satisfy controls, and the status rollup derived from
// them.
package compliance

import (
	"errors"
	"time"
)

// ArtifactKind discriminates the three artifact families.
type ArtifactKind string

const (
	KindPolicy   ArtifactKind = "policy"
	KindEvidence ArtifactKind = "evidence"
	KindTask     ArtifactKind = "task"
)

// Artifact statuses, scoped per kind.
const (
	PolicyDraft       = "draft"
	PolicyNeedsReview = "needs_review"
	PolicyPublished   = "published"
	PolicyArchived    = "archived"

	EvidenceDraft       = "draft"
	EvidencePublished   = "published"
	EvidenceNotRelevant = "not_relevant"

	TaskTodo       = "todo"
	TaskInProgress = "in_progress"
	TaskDone       = "done"
)

// ControlStatus is derived from the satisfaction of a control's artifacts.
type ControlStatus string

const (
	ControlNotStarted ControlStatus = "not_started"
	ControlInProgress ControlStatus = "in_progress"
	ControlCompleted  ControlStatus = "completed"
)

// RequirementStatus is derived from the controls mapped to a requirement.
type RequirementStatus string

const (
	RequirementNonCompliant       RequirementStatus = "non_compliant"
	RequirementPartiallyCompliant RequirementStatus = "partially_compliant"
	RequirementCompliant          RequirementStatus = "compliant"
	RequirementNotApplicable      RequirementStatus = "not_applicable"
)

// FrameworkInstance is an organization's copy of a framework template.
// At most one exists per (organization, framework template).
type FrameworkInstance struct {
	ID                  string    `json:"id"`
	OrganizationID      string    `json:"organization_id"`
	FrameworkTemplateID string    `json:"framework_template_id"`
	CreatedAt           time.Time `json:"created_at"`
}

// RequirementInstance is one requirement of a framework instance. Marking it
// not applicable overrides the control-derived status.
type RequirementInstance struct {
	ID                    string    `json:"id"`
	FrameworkInstanceID   string    `json:"framework_instance_id"`
	RequirementTemplateID string    `json:"requirement_template_id"`
	NotApplicable         bool      `json:"not_applicable"`
	CreatedAt             time.Time `json:"created_at"`
}

// ControlInstance is shared across every requirement instance (and
// framework instance) of an organization that references its template.
// At most one exists per (organization, control template).
type ControlInstance struct {
	ID                string    `json:"id"`
	OrganizationID    string    `json:"organization_id"`
	ControlTemplateID string    `json:"control_template_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// Artifact is a policy, evidence record, or task. SourceTemplateID is empty
// for ad hoc artifacts created outside any template.
type Artifact struct {
	ID               string       `json:"id"`
	OrganizationID   string       `json:"organization_id"`
	Kind             ArtifactKind `json:"kind"`
	Name             string       `json:"name"`
	Content          string       `json:"content,omitempty"`
	SourceTemplateID string       `json:"source_template_id,omitempty"`
	Status           string       `json:"status"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Adoption is the result of instantiating a framework for an organization.
type Adoption struct {
	Framework      FrameworkInstance     `json:"framework"`
	Requirements   []RequirementInstance `json:"requirements"`
	Controls       []ControlInstance     `json:"controls"`
	ReusedControls []string              `json:"reused_controls,omitempty"`
	Artifacts      []Artifact            `json:"artifacts"`
}

// ControlImpact is one control whose status may have changed.
type ControlImpact struct {
	ControlInstanceID string        `json:"control_instance_id"`
	Status            ControlStatus `json:"status"`
}

// RequirementImpact is one requirement whose status may have changed.
type RequirementImpact struct {
	RequirementInstanceID string            `json:"requirement_instance_id"`
	Status                RequirementStatus `json:"status"`
}

// FrameworkImpact is one framework instance with its recomputed compliance.
type FrameworkImpact struct {
	FrameworkInstanceID string  `json:"framework_instance_id"`
	CompliancePercent   float64 `json:"compliance_percent"`
}

// Impact is the transitive closure of entities affected by one artifact
// status change. A shared control fans out into every framework that
// references it.
type Impact struct {
	ArtifactID   string              `json:"artifact_id"`
	Controls     []ControlImpact     `json:"controls"`
	Requirements []RequirementImpact `json:"requirements"`
	Frameworks   []FrameworkImpact   `json:"frameworks"`
}

// OrgStats counts entities per class. Used both as a missing-entity report
// (scan) and as a created-entity report (repair).
type OrgStats struct {
	OrganizationID       string `json:"organization_id"`
	FrameworkInstances   int    `json:"framework_instances"`
	RequirementInstances int    `json:"requirement_instances"`
	ControlInstances     int    `json:"control_instances"`
	Artifacts            int    `json:"artifacts"`
	RequirementMaps      int    `json:"requirement_maps"`
	ArtifactMaps         int    `json:"artifact_maps"`
}

// Total sums all entity classes except the framework count.
func (s OrgStats) Total() int {
	return s.RequirementInstances + s.ControlInstances + s.Artifacts + s.RequirementMaps + s.ArtifactMaps
}

var (
	ErrAlreadyAdopted    = errors.New("framework already adopted")
	ErrTemplateNotFound  = errors.New("template not found")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("resource conflict")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidStatus     = errors.New("invalid status for artifact kind")
	ErrTransactionFailed = errors.New("transaction failed")
)

// ValidStatus reports whether status is a legal value for the given kind.
func ValidStatus(kind ArtifactKind, status string) bool {
	switch kind {
	case KindPolicy:
		return status == PolicyDraft || status == PolicyNeedsReview ||
			status == PolicyPublished || status == PolicyArchived
	case KindEvidence:
		return status == EvidenceDraft || status == EvidencePublished ||
			status == EvidenceNotRelevant
	case KindTask:
		return status == TaskTodo || status == TaskInProgress || status == TaskDone
	}
	return false
}

// InitialStatus returns the draft-equivalent status artifacts start in.
func InitialStatus(kind ArtifactKind) string {
	switch kind {
	case KindTask:
		return TaskTodo
	default:
		return PolicyDraft
	}
}
