package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testFrameworks() []FrameworkTemplate {
	return []FrameworkTemplate{
		{
			ID: "soc2", Name: "SOC 2", Version: "2017",
			Requirements: []RequirementTemplate{
				{ID: "cc1", Code: "CC1.1", Name: "Control Environment"},
				{ID: "cc6", Code: "CC6.1", Name: "Logical Access"},
			},
		},
		{
			ID: "iso27001", Name: "ISO 27001", Version: "2022",
			Requirements: []RequirementTemplate{
				{ID: "a5", Code: "A.5", Name: "Access Control Policy"},
			},
		},
	}
}

func TestNewValidatesReferences(t *testing.T) {
	controls := []ControlTemplate{{
		ID: "access-control", Name: "Access Control",
		Requirements: []RequirementRef{
			{FrameworkID: "soc2", RequirementID: "cc6"},
			{FrameworkID: "iso27001", RequirementID: "a5"},
		},
		Artifacts: []ArtifactRef{{PolicyID: "acceptable-use"}},
	}}
	policies := []PolicyTemplate{{ID: "acceptable-use", Name: "Acceptable Use", Content: "..."}}

	cat, err := New(testFrameworks(), controls, policies, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	shared := cat.ControlsForFramework("soc2")
	if len(shared) != 1 || shared[0].ID != "access-control" {
		t.Fatalf("unexpected soc2 controls: %v", shared)
	}
	if got := cat.ControlsForFramework("iso27001"); len(got) != 1 {
		t.Fatalf("expected shared control visible from iso27001, got %v", got)
	}
}

func TestNewRejectsUnknownRequirement(t *testing.T) {
	controls := []ControlTemplate{{
		ID: "bad", Name: "Bad",
		Requirements: []RequirementRef{{FrameworkID: "soc2", RequirementID: "nope"}},
	}}
	if _, err := New(testFrameworks(), controls, nil, nil, nil); err == nil {
		t.Fatal("expected validation error for unknown requirement")
	}
}

func TestNewRejectsUnknownArtifactTemplate(t *testing.T) {
	controls := []ControlTemplate{{
		ID: "bad", Name: "Bad",
		Requirements: []RequirementRef{{FrameworkID: "soc2", RequirementID: "cc1"}},
		Artifacts:    []ArtifactRef{{EvidenceID: "missing"}},
	}}
	if _, err := New(testFrameworks(), controls, nil, nil, nil); err == nil {
		t.Fatal("expected validation error for unknown evidence template")
	}
}

func TestFrameworkNotFound(t *testing.T) {
	cat, err := New(testFrameworks(), nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := cat.Framework("hipaa"); err == nil {
		t.Fatal("expected ErrNotFound")
	}
}

func TestLoadMergesDocuments(t *testing.T) {
	dir := t.TempDir()

	frameworks := `
frameworks:
  - id: soc2
    name: SOC 2
    version: "2017"
    requirements:
      - id: cc6
        code: CC6.1
        name: Logical Access
`
	controls := `
controls:
  - id: access-control
    name: Access Control
    requirements:
      - framework: soc2
        requirement: cc6
    artifacts:
      - policy: acceptable-use
policies:
  - id: acceptable-use
    name: Acceptable Use
    content: Everyone behaves.
`
	if err := os.WriteFile(filepath.Join(dir, "01_frameworks.yaml"), []byte(frameworks), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "02_controls.yaml"), []byte(controls), 0o644); err != nil {
		t.Fatal(err)
	}

	cat, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ct, err := cat.Control("access-control")
	if err != nil {
		t.Fatalf("Control: %v", err)
	}
	if len(ct.Artifacts) != 1 || ct.Artifacts[0].PolicyID != "acceptable-use" {
		t.Fatalf("unexpected control artifacts: %+v", ct.Artifacts)
	}
	p, err := cat.Policy("acceptable-use")
	if err != nil {
		t.Fatalf("Policy: %v", err)
	}
	if !strings.Contains(p.Content, "behaves") {
		t.Fatalf("policy content lost: %q", p.Content)
	}
}

func TestLoadEmptyDir(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for empty catalog dir")
	}
}
