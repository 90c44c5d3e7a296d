package compliance

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"veridia.org/internal/catalog"
	"veridia.org/internal/ids"
)

// Service defines the compliance graph operations.
type Service interface {
	// Instantiation.
	AdoptFramework(ctx context.Context, organizationID, frameworkTemplateID string) (Adoption, error)
	RemoveFramework(ctx context.Context, organizationID, frameworkTemplateID string) error
	ListFrameworkInstances(ctx context.Context, organizationID string) ([]FrameworkInstance, error)
	ListRequirementInstances(ctx context.Context, frameworkInstanceID string) ([]RequirementInstance, error)
	GetFrameworkInstance(ctx context.Context, frameworkInstanceID string) (FrameworkInstance, error)
	GetRequirement(ctx context.Context, requirementInstanceID string) (RequirementInstance, error)

	// Mapping layer.
	GetControl(ctx context.Context, controlInstanceID string) (ControlInstance, error)
	ControlsForRequirement(ctx context.Context, requirementInstanceID string) ([]ControlInstance, error)
	RequirementsForControl(ctx context.Context, controlInstanceID string) ([]RequirementInstance, error)
	ArtifactsForControl(ctx context.Context, controlInstanceID string) ([]Artifact, error)
	LinkArtifact(ctx context.Context, controlInstanceID, artifactID string) error
	UnlinkArtifact(ctx context.Context, controlInstanceID, artifactID string) error

	// Artifacts.
	CreateArtifact(ctx context.Context, organizationID string, kind ArtifactKind, name, content string) (Artifact, error)
	GetArtifact(ctx context.Context, artifactID string) (Artifact, error)
	UpdateArtifactStatus(ctx context.Context, artifactID, status string) (Impact, error)

	// Status rollup.
	SetRequirementApplicability(ctx context.Context, requirementInstanceID string, notApplicable bool) error
	ControlStatus(ctx context.Context, controlInstanceID string) (ControlStatus, error)
	RequirementStatus(ctx context.Context, requirementInstanceID string) (RequirementStatus, error)
	FrameworkCompliance(ctx context.Context, frameworkInstanceID string) (float64, error)
	RecomputeStatus(ctx context.Context, artifactID string) (Impact, error)

	// Reconciliation.
	Organizations(ctx context.Context) ([]string, error)
	OrgStats(ctx context.Context, organizationID string) (OrgStats, error)
	RepairOrg(ctx context.Context, organizationID string) (OrgStats, error)
}

type orgTemplateKey struct {
	org string
	tpl string
}

// InMemory implements Service with in-process concurrency safety. It is the
// reference implementation; the Postgres store must agree with it on every
// derivation because both delegate to the rollup functions.
type InMemory struct {
	mu  sync.RWMutex
	cat *catalog.Catalog
	now func() time.Time

	frameworks map[string]*FrameworkInstance
	fwByOrgTpl map[orgTemplateKey]string

	requirements    map[string]*RequirementInstance
	reqsByFramework map[string][]string

	controls     map[string]*ControlInstance
	ctrlByOrgTpl map[orgTemplateKey]string

	artifacts map[string]*Artifact

	controlsByReq map[string]map[string]struct{}
	reqsByControl map[string]map[string]struct{}
	artsByControl map[string]map[string]struct{}
	controlsByArt map[string]map[string]struct{}
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an empty graph over the given catalog.
func NewInMemory(cat *catalog.Catalog) *InMemory {
	return &InMemory{
		cat:             cat,
		now:             time.Now,
		frameworks:      make(map[string]*FrameworkInstance),
		fwByOrgTpl:      make(map[orgTemplateKey]string),
		requirements:    make(map[string]*RequirementInstance),
		reqsByFramework: make(map[string][]string),
		controls:        make(map[string]*ControlInstance),
		ctrlByOrgTpl:    make(map[orgTemplateKey]string),
		artifacts:       make(map[string]*Artifact),
		controlsByReq:   make(map[string]map[string]struct{}),
		reqsByControl:   make(map[string]map[string]struct{}),
		artsByControl:   make(map[string]map[string]struct{}),
		controlsByArt:   make(map[string]map[string]struct{}),
	}
}

func (s *InMemory) AdoptFramework(ctx context.Context, organizationID, frameworkTemplateID string) (Adoption, error) {
	if strings.TrimSpace(organizationID) == "" || strings.TrimSpace(frameworkTemplateID) == "" {
		return Adoption{}, ErrInvalidInput
	}
	plan, err := PlanAdoption(s.cat, frameworkTemplateID)
	if err != nil {
		return Adoption{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.fwByOrgTpl[orgTemplateKey{organizationID, frameworkTemplateID}]; exists {
		return Adoption{}, ErrAlreadyAdopted
	}

	// Stage the full clone before touching shared state so a failed plan
	// can never leave a partial adoption behind.
	nowTS := s.now().UTC()
	fw := &FrameworkInstance{
		ID:                  ids.New(),
		OrganizationID:      organizationID,
		FrameworkTemplateID: frameworkTemplateID,
		CreatedAt:           nowTS,
	}

	adoption := Adoption{Framework: *fw}
	reqByTpl := make(map[string]*RequirementInstance, len(plan.Requirements))
	var newReqs []*RequirementInstance
	for _, rt := range plan.Requirements {
		ri := &RequirementInstance{
			ID:                    ids.New(),
			FrameworkInstanceID:   fw.ID,
			RequirementTemplateID: rt.ID,
			CreatedAt:             nowTS,
		}
		newReqs = append(newReqs, ri)
		reqByTpl[rt.ID] = ri
		adoption.Requirements = append(adoption.Requirements, *ri)
	}

	type stagedControl struct {
		control   *ControlInstance
		artifacts []*Artifact
		reqIDs    []string
	}
	var staged []stagedControl
	for _, pc := range plan.Controls {
		sc := stagedControl{}
		if existingID, ok := s.ctrlByOrgTpl[orgTemplateKey{organizationID, pc.Template.ID}]; ok {
			// Shared control: reuse it, never duplicate its artifacts.
			sc.control = s.controls[existingID]
			adoption.ReusedControls = append(adoption.ReusedControls, existingID)
		} else {
			sc.control = &ControlInstance{
				ID:                ids.New(),
				OrganizationID:    organizationID,
				ControlTemplateID: pc.Template.ID,
				CreatedAt:         nowTS,
			}
			for _, pa := range pc.Artifacts {
				sc.artifacts = append(sc.artifacts, &Artifact{
					ID:               ids.New(),
					OrganizationID:   organizationID,
					Kind:             pa.Kind,
					Name:             pa.Name,
					Content:          pa.Content,
					SourceTemplateID: pa.TemplateID,
					Status:           InitialStatus(pa.Kind),
					CreatedAt:        nowTS,
					UpdatedAt:        nowTS,
				})
			}
			adoption.Controls = append(adoption.Controls, *sc.control)
			for _, a := range sc.artifacts {
				adoption.Artifacts = append(adoption.Artifacts, *a)
			}
		}
		for _, reqTpl := range pc.RequirementTemplateIDs {
			if ri, ok := reqByTpl[reqTpl]; ok {
				sc.reqIDs = append(sc.reqIDs, ri.ID)
			}
		}
		staged = append(staged, sc)
	}

	// Commit the staged records.
	s.frameworks[fw.ID] = fw
	s.fwByOrgTpl[orgTemplateKey{organizationID, frameworkTemplateID}] = fw.ID
	for _, ri := range newReqs {
		s.requirements[ri.ID] = ri
		s.reqsByFramework[fw.ID] = append(s.reqsByFramework[fw.ID], ri.ID)
	}
	for _, sc := range staged {
		ctrlID := sc.control.ID
		if _, known := s.controls[ctrlID]; !known {
			s.controls[ctrlID] = sc.control
			s.ctrlByOrgTpl[orgTemplateKey{organizationID, sc.control.ControlTemplateID}] = ctrlID
			for _, a := range sc.artifacts {
				s.artifacts[a.ID] = a
				s.link(s.artsByControl, ctrlID, a.ID)
				s.link(s.controlsByArt, a.ID, ctrlID)
			}
		}
		for _, reqID := range sc.reqIDs {
			s.link(s.controlsByReq, reqID, ctrlID)
			s.link(s.reqsByControl, ctrlID, reqID)
		}
	}
	return adoption, nil
}

func (s *InMemory) link(m map[string]map[string]struct{}, key, val string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[val] = struct{}{}
}

func (s *InMemory) RemoveFramework(ctx context.Context, organizationID, frameworkTemplateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := orgTemplateKey{organizationID, frameworkTemplateID}
	fwID, ok := s.fwByOrgTpl[key]
	if !ok {
		return ErrNotFound
	}

	for _, reqID := range s.reqsByFramework[fwID] {
		for ctrlID := range s.controlsByReq[reqID] {
			delete(s.reqsByControl[ctrlID], reqID)
			if len(s.reqsByControl[ctrlID]) == 0 {
				// Orphaned control: no surviving framework references it.
				// Its artifacts stay as unmapped organization data.
				ctrl := s.controls[ctrlID]
				for artID := range s.artsByControl[ctrlID] {
					delete(s.controlsByArt[artID], ctrlID)
				}
				delete(s.artsByControl, ctrlID)
				delete(s.reqsByControl, ctrlID)
				delete(s.ctrlByOrgTpl, orgTemplateKey{ctrl.OrganizationID, ctrl.ControlTemplateID})
				delete(s.controls, ctrlID)
			}
		}
		delete(s.controlsByReq, reqID)
		delete(s.requirements, reqID)
	}
	delete(s.reqsByFramework, fwID)
	delete(s.frameworks, fwID)
	delete(s.fwByOrgTpl, key)
	return nil
}

func (s *InMemory) ListFrameworkInstances(ctx context.Context, organizationID string) ([]FrameworkInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []FrameworkInstance
	for _, fw := range s.frameworks {
		if fw.OrganizationID == organizationID {
			out = append(out, *fw)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) ListRequirementInstances(ctx context.Context, frameworkInstanceID string) ([]RequirementInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.frameworks[frameworkInstanceID]; !ok {
		return nil, ErrNotFound
	}
	var out []RequirementInstance
	for _, reqID := range s.reqsByFramework[frameworkInstanceID] {
		out = append(out, *s.requirements[reqID])
	}
	return out, nil
}

func (s *InMemory) GetFrameworkInstance(ctx context.Context, frameworkInstanceID string) (FrameworkInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fw, ok := s.frameworks[frameworkInstanceID]
	if !ok {
		return FrameworkInstance{}, ErrNotFound
	}
	return *fw, nil
}

func (s *InMemory) GetRequirement(ctx context.Context, requirementInstanceID string) (RequirementInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ri, ok := s.requirements[requirementInstanceID]
	if !ok {
		return RequirementInstance{}, ErrNotFound
	}
	return *ri, nil
}

func (s *InMemory) GetControl(ctx context.Context, controlInstanceID string) (ControlInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.controls[controlInstanceID]
	if !ok {
		return ControlInstance{}, ErrNotFound
	}
	return *c, nil
}

func (s *InMemory) ControlsForRequirement(ctx context.Context, requirementInstanceID string) ([]ControlInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.requirements[requirementInstanceID]; !ok {
		return nil, ErrNotFound
	}
	var out []ControlInstance
	for ctrlID := range s.controlsByReq[requirementInstanceID] {
		out = append(out, *s.controls[ctrlID])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) RequirementsForControl(ctx context.Context, controlInstanceID string) ([]RequirementInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.controls[controlInstanceID]; !ok {
		return nil, ErrNotFound
	}
	var out []RequirementInstance
	for reqID := range s.reqsByControl[controlInstanceID] {
		out = append(out, *s.requirements[reqID])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) ArtifactsForControl(ctx context.Context, controlInstanceID string) ([]Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.controls[controlInstanceID]; !ok {
		return nil, ErrNotFound
	}
	return s.artifactsForControlLocked(controlInstanceID), nil
}

func (s *InMemory) artifactsForControlLocked(controlInstanceID string) []Artifact {
	var out []Artifact
	for artID := range s.artsByControl[controlInstanceID] {
		out = append(out, *s.artifacts[artID])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *InMemory) LinkArtifact(ctx context.Context, controlInstanceID, artifactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctrl, ok := s.controls[controlInstanceID]
	if !ok {
		return ErrNotFound
	}
	art, ok := s.artifacts[artifactID]
	if !ok {
		return ErrNotFound
	}
	if ctrl.OrganizationID != art.OrganizationID {
		return ErrInvalidInput
	}
	if _, dup := s.artsByControl[controlInstanceID][artifactID]; dup {
		return ErrConflict
	}
	s.link(s.artsByControl, controlInstanceID, artifactID)
	s.link(s.controlsByArt, artifactID, controlInstanceID)
	return nil
}

func (s *InMemory) UnlinkArtifact(ctx context.Context, controlInstanceID, artifactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.artsByControl[controlInstanceID][artifactID]; !ok {
		return ErrNotFound
	}
	delete(s.artsByControl[controlInstanceID], artifactID)
	delete(s.controlsByArt[artifactID], controlInstanceID)
	return nil
}

func (s *InMemory) CreateArtifact(ctx context.Context, organizationID string, kind ArtifactKind, name, content string) (Artifact, error) {
	if strings.TrimSpace(organizationID) == "" || strings.TrimSpace(name) == "" {
		return Artifact{}, ErrInvalidInput
	}
	if kind != KindPolicy && kind != KindEvidence && kind != KindTask {
		return Artifact{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	nowTS := s.now().UTC()
	a := &Artifact{
		ID:             ids.New(),
		OrganizationID: organizationID,
		Kind:           kind,
		Name:           name,
		Content:        content,
		Status:         InitialStatus(kind),
		CreatedAt:      nowTS,
		UpdatedAt:      nowTS,
	}
	s.artifacts[a.ID] = a
	return *a, nil
}

func (s *InMemory) GetArtifact(ctx context.Context, artifactID string) (Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[artifactID]
	if !ok {
		return Artifact{}, ErrNotFound
	}
	return *a, nil
}

func (s *InMemory) UpdateArtifactStatus(ctx context.Context, artifactID, status string) (Impact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[artifactID]
	if !ok {
		return Impact{}, ErrNotFound
	}
	if !ValidStatus(a.Kind, status) {
		return Impact{}, ErrInvalidStatus
	}
	a.Status = status
	a.UpdatedAt = s.now().UTC()
	return s.impactLocked(artifactID), nil
}

func (s *InMemory) SetRequirementApplicability(ctx context.Context, requirementInstanceID string, notApplicable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ri, ok := s.requirements[requirementInstanceID]
	if !ok {
		return ErrNotFound
	}
	ri.NotApplicable = notApplicable
	return nil
}

func (s *InMemory) ControlStatus(ctx context.Context, controlInstanceID string) (ControlStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.controls[controlInstanceID]; !ok {
		return "", ErrNotFound
	}
	return s.controlStatusLocked(controlInstanceID), nil
}

func (s *InMemory) controlStatusLocked(controlInstanceID string) ControlStatus {
	return ControlStatusOf(s.artifactsForControlLocked(controlInstanceID))
}

func (s *InMemory) RequirementStatus(ctx context.Context, requirementInstanceID string) (RequirementStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ri, ok := s.requirements[requirementInstanceID]
	if !ok {
		return "", ErrNotFound
	}
	return s.requirementStatusLocked(ri), nil
}

func (s *InMemory) requirementStatusLocked(ri *RequirementInstance) RequirementStatus {
	var controls []ControlStatus
	for ctrlID := range s.controlsByReq[ri.ID] {
		controls = append(controls, s.controlStatusLocked(ctrlID))
	}
	return RequirementStatusOf(ri.NotApplicable, controls)
}

func (s *InMemory) FrameworkCompliance(ctx context.Context, frameworkInstanceID string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.frameworks[frameworkInstanceID]; !ok {
		return 0, ErrNotFound
	}
	return s.frameworkComplianceLocked(frameworkInstanceID), nil
}

func (s *InMemory) frameworkComplianceLocked(frameworkInstanceID string) float64 {
	var statuses []RequirementStatus
	for _, reqID := range s.reqsByFramework[frameworkInstanceID] {
		statuses = append(statuses, s.requirementStatusLocked(s.requirements[reqID]))
	}
	return FrameworkCompliancePercent(statuses)
}

func (s *InMemory) RecomputeStatus(ctx context.Context, artifactID string) (Impact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.artifacts[artifactID]; !ok {
		return Impact{}, ErrNotFound
	}
	return s.impactLocked(artifactID), nil
}

// impactLocked walks from the artifact outward: its controls, every
// requirement mapped to them (across frameworks), and every framework
// those requirements belong to.
func (s *InMemory) impactLocked(artifactID string) Impact {
	impact := Impact{ArtifactID: artifactID}

	reqSeen := make(map[string]struct{})
	fwSeen := make(map[string]struct{})
	for ctrlID := range s.controlsByArt[artifactID] {
		impact.Controls = append(impact.Controls, ControlImpact{
			ControlInstanceID: ctrlID,
			Status:            s.controlStatusLocked(ctrlID),
		})
		for reqID := range s.reqsByControl[ctrlID] {
			if _, dup := reqSeen[reqID]; dup {
				continue
			}
			reqSeen[reqID] = struct{}{}
			ri := s.requirements[reqID]
			impact.Requirements = append(impact.Requirements, RequirementImpact{
				RequirementInstanceID: reqID,
				Status:                s.requirementStatusLocked(ri),
			})
			fwSeen[ri.FrameworkInstanceID] = struct{}{}
		}
	}
	for fwID := range fwSeen {
		impact.Frameworks = append(impact.Frameworks, FrameworkImpact{
			FrameworkInstanceID: fwID,
			CompliancePercent:   s.frameworkComplianceLocked(fwID),
		})
	}

	sort.Slice(impact.Controls, func(i, j int) bool {
		return impact.Controls[i].ControlInstanceID < impact.Controls[j].ControlInstanceID
	})
	sort.Slice(impact.Requirements, func(i, j int) bool {
		return impact.Requirements[i].RequirementInstanceID < impact.Requirements[j].RequirementInstanceID
	})
	sort.Slice(impact.Frameworks, func(i, j int) bool {
		return impact.Frameworks[i].FrameworkInstanceID < impact.Frameworks[j].FrameworkInstanceID
	})
	return impact
}

func (s *InMemory) Organizations(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, fw := range s.frameworks {
		seen[fw.OrganizationID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for org := range seen {
		out = append(out, org)
	}
	sort.Strings(out)
	return out, nil
}

func (s *InMemory) OrgStats(ctx context.Context, organizationID string) (OrgStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reconcileLocked(organizationID, false)
}

func (s *InMemory) RepairOrg(ctx context.Context, organizationID string) (OrgStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconcileLocked(organizationID, true)
}

// reconcileLocked compares the organization's graph against the catalog and
// either counts (repair=false) or creates (repair=true) the missing pieces.
// Existing entities are never modified or duplicated, which makes a repair
// idempotent: a second run reports zero missing entities.
func (s *InMemory) reconcileLocked(organizationID string, repair bool) (OrgStats, error) {
	stats := OrgStats{OrganizationID: organizationID}

	var fws []*FrameworkInstance
	for _, fw := range s.frameworks {
		if fw.OrganizationID == organizationID {
			fws = append(fws, fw)
		}
	}
	sort.Slice(fws, func(i, j int) bool { return fws[i].ID < fws[j].ID })
	stats.FrameworkInstances = len(fws)

	nowTS := s.now().UTC()
	for _, fw := range fws {
		plan, err := PlanAdoption(s.cat, fw.FrameworkTemplateID)
		if err != nil {
			return stats, err
		}

		reqByTpl := make(map[string]string)
		for _, reqID := range s.reqsByFramework[fw.ID] {
			reqByTpl[s.requirements[reqID].RequirementTemplateID] = reqID
		}
		for _, rt := range plan.Requirements {
			if _, ok := reqByTpl[rt.ID]; ok {
				continue
			}
			stats.RequirementInstances++
			if repair {
				ri := &RequirementInstance{
					ID:                    ids.New(),
					FrameworkInstanceID:   fw.ID,
					RequirementTemplateID: rt.ID,
					CreatedAt:             nowTS,
				}
				s.requirements[ri.ID] = ri
				s.reqsByFramework[fw.ID] = append(s.reqsByFramework[fw.ID], ri.ID)
				reqByTpl[rt.ID] = ri.ID
			}
		}

		for _, pc := range plan.Controls {
			ctrlKey := orgTemplateKey{organizationID, pc.Template.ID}
			ctrlID, exists := s.ctrlByOrgTpl[ctrlKey]
			if !exists {
				stats.ControlInstances++
				stats.Artifacts += len(pc.Artifacts)
				stats.ArtifactMaps += len(pc.Artifacts)
				if repair {
					ctrl := &ControlInstance{
						ID:                ids.New(),
						OrganizationID:    organizationID,
						ControlTemplateID: pc.Template.ID,
						CreatedAt:         nowTS,
					}
					s.controls[ctrl.ID] = ctrl
					s.ctrlByOrgTpl[ctrlKey] = ctrl.ID
					ctrlID = ctrl.ID
					for _, pa := range pc.Artifacts {
						a := s.newPlannedArtifact(organizationID, pa, nowTS)
						s.artifacts[a.ID] = a
						s.link(s.artsByControl, ctrlID, a.ID)
						s.link(s.controlsByArt, a.ID, ctrlID)
					}
				}
			} else {
				// Control exists; verify each planned artifact is present.
				linked := make(map[string]bool)
				for artID := range s.artsByControl[ctrlID] {
					a := s.artifacts[artID]
					if a.SourceTemplateID != "" {
						linked[string(a.Kind)+"/"+a.SourceTemplateID] = true
					}
				}
				for _, pa := range pc.Artifacts {
					if linked[string(pa.Kind)+"/"+pa.TemplateID] {
						continue
					}
					stats.Artifacts++
					stats.ArtifactMaps++
					if repair {
						a := s.newPlannedArtifact(organizationID, pa, nowTS)
						s.artifacts[a.ID] = a
						s.link(s.artsByControl, ctrlID, a.ID)
						s.link(s.controlsByArt, a.ID, ctrlID)
					}
				}
			}

			for _, reqTpl := range pc.RequirementTemplateIDs {
				reqID, ok := reqByTpl[reqTpl]
				if !ok {
					// Requirement instance itself is missing and we are only
					// counting; its map is missing too.
					stats.RequirementMaps++
					continue
				}
				if ctrlID == "" {
					stats.RequirementMaps++
					continue
				}
				if _, mapped := s.controlsByReq[reqID][ctrlID]; mapped {
					continue
				}
				stats.RequirementMaps++
				if repair {
					s.link(s.controlsByReq, reqID, ctrlID)
					s.link(s.reqsByControl, ctrlID, reqID)
				}
			}
		}
	}
	return stats, nil
}

func (s *InMemory) newPlannedArtifact(organizationID string, pa PlannedArtifact, ts time.Time) *Artifact {
	return &Artifact{
		ID:               ids.New(),
		OrganizationID:   organizationID,
		Kind:             pa.Kind,
		Name:             pa.Name,
		Content:          pa.Content,
		SourceTemplateID: pa.TemplateID,
		Status:           InitialStatus(pa.Kind),
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}
}
