package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// document is the on-disk shape of a catalog file. A file may carry any
// subset of the sections; all files in a directory are merged before
// validation.
type document struct {
	Frameworks []FrameworkTemplate `yaml:"frameworks"`
	Controls   []ControlTemplate   `yaml:"controls"`
	Policies   []PolicyTemplate    `yaml:"policies"`
	Evidence   []EvidenceTemplate  `yaml:"evidence"`
	Tasks      []TaskTemplate      `yaml:"tasks"`
}

// Load reads every .yaml/.yml file in dir, merges the documents and
// returns a validated catalog.
func Load(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read catalog dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no catalog files in %s", dir)
	}
	sort.Strings(names)

	var merged document
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		var doc document
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		merged.Frameworks = append(merged.Frameworks, doc.Frameworks...)
		merged.Controls = append(merged.Controls, doc.Controls...)
		merged.Policies = append(merged.Policies, doc.Policies...)
		merged.Evidence = append(merged.Evidence, doc.Evidence...)
		merged.Tasks = append(merged.Tasks, doc.Tasks...)
	}

	return New(merged.Frameworks, merged.Controls, merged.Policies, merged.Evidence, merged.Tasks)
}
