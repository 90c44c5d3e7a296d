package compliance

import (
	"fmt"

	"veridia.org/internal/catalog"
)

// AdoptionPlan is the fully resolved template subtree for one framework:
// everything an adoption (or a repair) needs, computed before the first
// write so stores can emit the whole clone in a single transaction.
type AdoptionPlan struct {
	Framework    catalog.FrameworkTemplate
	Requirements []catalog.RequirementTemplate
	Controls     []PlannedControl
}

// PlannedControl pairs a control template with the requirement templates it
// addresses inside this framework and the artifacts it materializes.
type PlannedControl struct {
	Template               catalog.ControlTemplate
	RequirementTemplateIDs []string
	Artifacts              []PlannedArtifact
}

// PlannedArtifact is one artifact to materialize from a template.
type PlannedArtifact struct {
	Kind       ArtifactKind
	TemplateID string
	Name       string
	Content    string
}

// PlanAdoption resolves the full subtree of a framework template: its
// requirements, every control template addressing them, and each control's
// artifact templates. It fails with ErrTemplateNotFound if the framework is
// unknown; unknown artifact references are already rejected by catalog
// validation but are surfaced defensively with the same error.
func PlanAdoption(cat *catalog.Catalog, frameworkTemplateID string) (AdoptionPlan, error) {
	fw, err := cat.Framework(frameworkTemplateID)
	if err != nil {
		return AdoptionPlan{}, fmt.Errorf("%w: framework %q", ErrTemplateNotFound, frameworkTemplateID)
	}

	plan := AdoptionPlan{
		Framework:    fw,
		Requirements: fw.Requirements,
	}

	for _, ct := range cat.ControlsForFramework(fw.ID) {
		pc := PlannedControl{Template: ct}
		for _, ref := range ct.Requirements {
			if ref.FrameworkID == fw.ID {
				pc.RequirementTemplateIDs = append(pc.RequirementTemplateIDs, ref.RequirementID)
			}
		}
		for _, ar := range ct.Artifacts {
			if ar.PolicyID != "" {
				p, err := cat.Policy(ar.PolicyID)
				if err != nil {
					return AdoptionPlan{}, fmt.Errorf("%w: policy %q", ErrTemplateNotFound, ar.PolicyID)
				}
				pc.Artifacts = append(pc.Artifacts, PlannedArtifact{
					Kind: KindPolicy, TemplateID: p.ID, Name: p.Name, Content: p.Content,
				})
			}
			if ar.EvidenceID != "" {
				e, err := cat.Evidence(ar.EvidenceID)
				if err != nil {
					return AdoptionPlan{}, fmt.Errorf("%w: evidence %q", ErrTemplateNotFound, ar.EvidenceID)
				}
				pc.Artifacts = append(pc.Artifacts, PlannedArtifact{
					Kind: KindEvidence, TemplateID: e.ID, Name: e.Name, Content: e.Description,
				})
			}
			if ar.TaskID != "" {
				tk, err := cat.Task(ar.TaskID)
				if err != nil {
					return AdoptionPlan{}, fmt.Errorf("%w: task %q", ErrTemplateNotFound, ar.TaskID)
				}
				pc.Artifacts = append(pc.Artifacts, PlannedArtifact{
					Kind: KindTask, TemplateID: tk.ID, Name: tk.Title, Content: tk.Description,
				})
			}
		}
		plan.Controls = append(plan.Controls, pc)
	}
	return plan, nil
}
