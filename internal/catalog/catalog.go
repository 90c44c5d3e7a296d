// Package catalog holds the immutable template catalog: framework,
// requirement, control, and artifact templates authored out of band.
// Catalogs are read-only at runtime; organizations receive their own
// instances of these templates at adoption time.
package catalog

import (
	"errors"
	"fmt"
	"sort"
)

var ErrNotFound = errors.New("template not found")

// FrameworkTemplate describes a regulatory framework (SOC 2, ISO 27001, ...).
type FrameworkTemplate struct {
	ID           string                `yaml:"id" json:"id"`
	Name         string                `yaml:"name" json:"name"`
	Version      string                `yaml:"version" json:"version"`
	Description  string                `yaml:"description,omitempty" json:"description,omitempty"`
	Requirements []RequirementTemplate `yaml:"requirements" json:"requirements"`
}

// RequirementTemplate belongs to exactly one framework template.
type RequirementTemplate struct {
	ID          string `yaml:"id" json:"id"`
	Code        string `yaml:"code" json:"code"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// RequirementRef points at a requirement inside a specific framework
// template. Controls use it to declare which requirements they address,
// possibly across several frameworks.
type RequirementRef struct {
	FrameworkID   string `yaml:"framework" json:"framework"`
	RequirementID string `yaml:"requirement" json:"requirement"`
}

// ArtifactRef names the artifact templates a control materializes for an
// organization. Any subset of the three kinds may be set.
type ArtifactRef struct {
	PolicyID   string `yaml:"policy,omitempty" json:"policy,omitempty"`
	EvidenceID string `yaml:"evidence,omitempty" json:"evidence,omitempty"`
	TaskID     string `yaml:"task,omitempty" json:"task,omitempty"`
}

// ControlTemplate may map to requirements in multiple framework templates
// (control reuse across frameworks) and to zero or more artifact templates.
type ControlTemplate struct {
	ID           string           `yaml:"id" json:"id"`
	Name         string           `yaml:"name" json:"name"`
	Description  string           `yaml:"description,omitempty" json:"description,omitempty"`
	Requirements []RequirementRef `yaml:"requirements" json:"requirements"`
	Artifacts    []ArtifactRef    `yaml:"artifacts,omitempty" json:"artifacts,omitempty"`
}

// PolicyTemplate carries the initial document content for a policy artifact.
type PolicyTemplate struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	Content string `yaml:"content,omitempty" json:"content,omitempty"`
}

// EvidenceTemplate describes what evidence an organization must collect.
type EvidenceTemplate struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// TaskTemplate describes a remediation or setup task.
type TaskTemplate struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Catalog is an indexed, validated set of templates.
type Catalog struct {
	frameworks map[string]FrameworkTemplate
	controls   map[string]ControlTemplate
	policies   map[string]PolicyTemplate
	evidence   map[string]EvidenceTemplate
	tasks      map[string]TaskTemplate

	// control template ids addressing each framework, sorted.
	controlsByFramework map[string][]string
}

// New builds and validates a catalog from its parts.
func New(frameworks []FrameworkTemplate, controls []ControlTemplate,
	policies []PolicyTemplate, evidence []EvidenceTemplate, tasks []TaskTemplate) (*Catalog, error) {

	c := &Catalog{
		frameworks:          make(map[string]FrameworkTemplate, len(frameworks)),
		controls:            make(map[string]ControlTemplate, len(controls)),
		policies:            make(map[string]PolicyTemplate, len(policies)),
		evidence:            make(map[string]EvidenceTemplate, len(evidence)),
		tasks:               make(map[string]TaskTemplate, len(tasks)),
		controlsByFramework: make(map[string][]string),
	}
	for _, f := range frameworks {
		if f.ID == "" {
			return nil, errors.New("framework template without id")
		}
		if _, dup := c.frameworks[f.ID]; dup {
			return nil, fmt.Errorf("duplicate framework template %q", f.ID)
		}
		c.frameworks[f.ID] = f
	}
	for _, ct := range controls {
		if ct.ID == "" {
			return nil, errors.New("control template without id")
		}
		if _, dup := c.controls[ct.ID]; dup {
			return nil, fmt.Errorf("duplicate control template %q", ct.ID)
		}
		c.controls[ct.ID] = ct
	}
	for _, p := range policies {
		c.policies[p.ID] = p
	}
	for _, e := range evidence {
		c.evidence[e.ID] = e
	}
	for _, tk := range tasks {
		c.tasks[tk.ID] = tk
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	for id, ct := range c.controls {
		seen := map[string]bool{}
		for _, ref := range ct.Requirements {
			if !seen[ref.FrameworkID] {
				seen[ref.FrameworkID] = true
				c.controlsByFramework[ref.FrameworkID] = append(c.controlsByFramework[ref.FrameworkID], id)
			}
		}
	}
	for _, list := range c.controlsByFramework {
		sort.Strings(list)
	}
	return c, nil
}

// validate enforces template referential integrity: every control reference
// must point at a known framework, requirement, and artifact template.
func (c *Catalog) validate() error {
	for _, ct := range c.controls {
		for _, ref := range ct.Requirements {
			fw, ok := c.frameworks[ref.FrameworkID]
			if !ok {
				return fmt.Errorf("control %q references unknown framework %q", ct.ID, ref.FrameworkID)
			}
			if !hasRequirement(fw, ref.RequirementID) {
				return fmt.Errorf("control %q references unknown requirement %q in framework %q",
					ct.ID, ref.RequirementID, ref.FrameworkID)
			}
		}
		for _, ar := range ct.Artifacts {
			if ar.PolicyID == "" && ar.EvidenceID == "" && ar.TaskID == "" {
				return fmt.Errorf("control %q has an empty artifact reference", ct.ID)
			}
			if ar.PolicyID != "" {
				if _, ok := c.policies[ar.PolicyID]; !ok {
					return fmt.Errorf("control %q references unknown policy template %q", ct.ID, ar.PolicyID)
				}
			}
			if ar.EvidenceID != "" {
				if _, ok := c.evidence[ar.EvidenceID]; !ok {
					return fmt.Errorf("control %q references unknown evidence template %q", ct.ID, ar.EvidenceID)
				}
			}
			if ar.TaskID != "" {
				if _, ok := c.tasks[ar.TaskID]; !ok {
					return fmt.Errorf("control %q references unknown task template %q", ct.ID, ar.TaskID)
				}
			}
		}
	}
	return nil
}

func hasRequirement(fw FrameworkTemplate, requirementID string) bool {
	for _, r := range fw.Requirements {
		if r.ID == requirementID {
			return true
		}
	}
	return false
}

// Framework looks up a framework template.
func (c *Catalog) Framework(id string) (FrameworkTemplate, error) {
	fw, ok := c.frameworks[id]
	if !ok {
		return FrameworkTemplate{}, fmt.Errorf("%w: framework %q", ErrNotFound, id)
	}
	return fw, nil
}

// Frameworks lists all framework templates sorted by id.
func (c *Catalog) Frameworks() []FrameworkTemplate {
	out := make([]FrameworkTemplate, 0, len(c.frameworks))
	for _, fw := range c.frameworks {
		out = append(out, fw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Control looks up a control template.
func (c *Catalog) Control(id string) (ControlTemplate, error) {
	ct, ok := c.controls[id]
	if !ok {
		return ControlTemplate{}, fmt.Errorf("%w: control %q", ErrNotFound, id)
	}
	return ct, nil
}

// ControlsForFramework returns the control templates addressing any
// requirement of the given framework, sorted by template id.
func (c *Catalog) ControlsForFramework(frameworkID string) []ControlTemplate {
	ids := c.controlsByFramework[frameworkID]
	out := make([]ControlTemplate, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.controls[id])
	}
	return out
}

// Policy looks up a policy template.
func (c *Catalog) Policy(id string) (PolicyTemplate, error) {
	p, ok := c.policies[id]
	if !ok {
		return PolicyTemplate{}, fmt.Errorf("%w: policy %q", ErrNotFound, id)
	}
	return p, nil
}

// Evidence looks up an evidence template.
func (c *Catalog) Evidence(id string) (EvidenceTemplate, error) {
	e, ok := c.evidence[id]
	if !ok {
		return EvidenceTemplate{}, fmt.Errorf("%w: evidence %q", ErrNotFound, id)
	}
	return e, nil
}

// Task looks up a task template.
func (c *Catalog) Task(id string) (TaskTemplate, error) {
	t, ok := c.tasks[id]
	if !ok {
		return TaskTemplate{}, fmt.Errorf("%w: task %q", ErrNotFound, id)
	}
	return t, nil
}
