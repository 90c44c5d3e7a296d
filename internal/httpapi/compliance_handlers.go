package httpapi

import (
	"net/http"
	"strings"

	"veridia.org/internal/audit"
	"veridia.org/internal/compliance"
	"veridia.org/internal/obs"
	"veridia.org/internal/stream"
)

type adoptRequest struct {
	FrameworkTemplateID string `json:"framework_template_id"`
}

type applicabilityRequest struct {
	NotApplicable bool `json:"not_applicable"`
}

type createArtifactRequest struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type adoptionSummary struct {
	Framework         compliance.FrameworkInstance `json:"framework"`
	CompliancePercent float64                      `json:"compliance_percent"`
}

// GET /v1/frameworks: the template catalog, independent of any organization.
func (a *API) handleFrameworkTemplates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": a.cat.Frameworks()})
}

func (a *API) handleAdoptionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.adoptFramework(w, r)
	case http.MethodGet:
		a.listAdoptions(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (a *API) adoptFramework(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing organization")
		return
	}

	var req adoptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.FrameworkTemplateID) == "" {
		writeError(w, http.StatusBadRequest, "framework_template_id is required")
		return
	}

	adoption, err := a.svc.AdoptFramework(r.Context(), org, req.FrameworkTemplateID)
	if err != nil {
		obs.AdoptionsTotal.WithLabelValues("error").Inc()
		writeServiceError(w, err)
		return
	}
	obs.AdoptionsTotal.WithLabelValues("ok").Inc()

	_ = audit.LogEvent(r.Context(), "framework.adopted", map[string]any{
		"framework_template_id": req.FrameworkTemplateID,
		"framework_instance_id": adoption.Framework.ID,
		"requirements":          len(adoption.Requirements),
		"controls_created":      len(adoption.Controls),
		"controls_reused":       len(adoption.ReusedControls),
	})

	w.Header().Set("Location", "/v1/adoptions/"+adoption.Framework.FrameworkTemplateID)
	writeJSON(w, http.StatusCreated, adoption)
}

func (a *API) listAdoptions(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing organization")
		return
	}

	fws, err := a.svc.ListFrameworkInstances(r.Context(), org)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := make([]adoptionSummary, 0, len(fws))
	for _, fw := range fws {
		pct, err := a.svc.FrameworkCompliance(r.Context(), fw.ID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		items = append(items, adoptionSummary{Framework: fw, CompliancePercent: pct})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// /v1/adoptions/{frameworkTemplateID}[/requirements]
func (a *API) handleAdoptionResource(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing organization")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/adoptions/")
	if path == "" {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}

	if rest, okSub := strings.CutSuffix(path, "/requirements"); okSub {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		a.listRequirements(w, r, org, rest)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodDelete:
		a.removeFramework(w, r, org, path)
	default:
		methodNotAllowed(w, http.MethodDelete)
	}
}

func (a *API) listRequirements(w http.ResponseWriter, r *http.Request, org, frameworkTemplateID string) {
	fw, ok := a.findAdoption(w, r, org, frameworkTemplateID)
	if !ok {
		return
	}

	reqs, err := a.svc.ListRequirementInstances(r.Context(), fw.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	type requirementView struct {
		compliance.RequirementInstance
		Status compliance.RequirementStatus `json:"status"`
	}
	items := make([]requirementView, 0, len(reqs))
	for _, req := range reqs {
		st, err := a.svc.RequirementStatus(r.Context(), req.ID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		items = append(items, requirementView{RequirementInstance: req, Status: st})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) removeFramework(w http.ResponseWriter, r *http.Request, org, frameworkTemplateID string) {
	if err := a.svc.RemoveFramework(r.Context(), org, frameworkTemplateID); err != nil {
		writeServiceError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "framework.removed", map[string]any{
		"framework_template_id": frameworkTemplateID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) findAdoption(w http.ResponseWriter, r *http.Request, org, frameworkTemplateID string) (compliance.FrameworkInstance, bool) {
	fws, err := a.svc.ListFrameworkInstances(r.Context(), org)
	if err != nil {
		writeServiceError(w, err)
		return compliance.FrameworkInstance{}, false
	}
	for _, fw := range fws {
		if fw.FrameworkTemplateID == frameworkTemplateID {
			return fw, true
		}
	}
	writeError(w, http.StatusNotFound, "framework not adopted")
	return compliance.FrameworkInstance{}, false
}

// /v1/requirements/{id}/controls, /v1/requirements/{id}/applicability
func (a *API) handleRequirementResource(w http.ResponseWriter, r *http.Request) {
	org, okOrg := orgFrom(r.Context())
	if !okOrg {
		writeError(w, http.StatusUnauthorized, "missing organization")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/requirements/")

	if id, ok := strings.CutSuffix(path, "/controls"); ok && id != "" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		if _, okReq := a.requirementInOrg(w, r, org, id); !okReq {
			return
		}
		type controlView struct {
			compliance.ControlInstance
			Status compliance.ControlStatus `json:"status"`
		}
		ctrls, err := a.svc.ControlsForRequirement(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		items := make([]controlView, 0, len(ctrls))
		for _, c := range ctrls {
			st, err := a.svc.ControlStatus(r.Context(), c.ID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			items = append(items, controlView{ControlInstance: c, Status: st})
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}

	if id, ok := strings.CutSuffix(path, "/applicability"); ok && id != "" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		if _, okReq := a.requirementInOrg(w, r, org, id); !okReq {
			return
		}
		var req applicabilityRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.svc.SetRequirementApplicability(r.Context(), id, req.NotApplicable); err != nil {
			writeServiceError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "requirement.applicability_changed", map[string]any{
			"requirement_instance_id": id,
			"not_applicable":          req.NotApplicable,
		})
		st, err := a.svc.RequirementStatus(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"requirement_instance_id": id,
			"status":                  st,
		})
		return
	}

	if id := path; id != "" && !strings.Contains(id, "/") {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		if _, okReq := a.requirementInOrg(w, r, org, id); !okReq {
			return
		}
		st, err := a.svc.RequirementStatus(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"requirement_instance_id": id,
			"status":                  st,
		})
		return
	}

	writeError(w, http.StatusNotFound, "resource not found")
}

// /v1/controls/{id}, /v1/controls/{id}/artifacts[/{artifactID}],
// /v1/controls/{id}/requirements, /v1/controls/{id}/status
func (a *API) handleControlResource(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing organization")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/controls/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	id := parts[0]
	if _, okCtrl := a.controlInOrg(w, r, org, id); !okCtrl {
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "requirements":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		reqs, err := a.svc.RequirementsForControl(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": reqs})

	case len(parts) == 2 && parts[1] == "status":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		st, err := a.svc.ControlStatus(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"control_instance_id": id,
			"status":              st,
		})

	case len(parts) == 2 && parts[1] == "artifacts":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		arts, err := a.svc.ArtifactsForControl(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": arts})

	case len(parts) == 3 && parts[1] == "artifacts" && parts[2] != "":
		a.linkOrUnlink(w, r, org, id, parts[2])

	default:
		writeError(w, http.StatusNotFound, "resource not found")
	}
}

func (a *API) linkOrUnlink(w http.ResponseWriter, r *http.Request, org, controlID, artifactID string) {
	// The caller may only touch artifacts inside its own organization.
	art, err := a.svc.GetArtifact(r.Context(), artifactID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if art.OrganizationID != org {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodPost:
		if err := a.svc.LinkArtifact(r.Context(), controlID, artifactID); err != nil {
			writeServiceError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "control.artifact_linked", map[string]any{
			"control_instance_id": controlID,
			"artifact_id":         artifactID,
		})
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if err := a.svc.UnlinkArtifact(r.Context(), controlID, artifactID); err != nil {
			writeServiceError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "control.artifact_unlinked", map[string]any{
			"control_instance_id": controlID,
			"artifact_id":         artifactID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) handleArtifactsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	org, ok := orgFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing organization")
		return
	}

	var req createArtifactRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind := compliance.ArtifactKind(strings.ToLower(strings.TrimSpace(req.Kind)))
	if kind != compliance.KindPolicy && kind != compliance.KindEvidence && kind != compliance.KindTask {
		writeError(w, http.StatusBadRequest, "kind must be policy, evidence, or task")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	art, err := a.svc.CreateArtifact(r.Context(), org, kind, req.Name, req.Content)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "artifact.created", map[string]any{
		"artifact_id": art.ID,
		"kind":        string(kind),
	})

	w.Header().Set("Location", "/v1/artifacts/"+art.ID)
	writeJSON(w, http.StatusCreated, art)
}

// /v1/artifacts/{id}, /v1/artifacts/{id}/status, /v1/artifacts/{id}/recompute
func (a *API) handleArtifactResource(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing organization")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/artifacts/")

	if id, okSub := strings.CutSuffix(path, "/status"); okSub && id != "" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		a.updateArtifactStatus(w, r, org, id)
		return
	}

	if id, okSub := strings.CutSuffix(path, "/recompute"); okSub && id != "" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		if _, okArt := a.artifactInOrg(w, r, org, id); !okArt {
			return
		}
		impact, err := a.svc.RecomputeStatus(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		obs.RollupRecomputesTotal.Inc()
		writeJSON(w, http.StatusOK, impact)
		return
	}

	if path == "" || strings.Contains(path, "/") {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}

	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	art, okArt := a.artifactInOrg(w, r, org, path)
	if !okArt {
		return
	}
	writeJSON(w, http.StatusOK, art)
}

func (a *API) updateArtifactStatus(w http.ResponseWriter, r *http.Request, org, id string) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	if _, ok := a.artifactInOrg(w, r, org, id); !ok {
		return
	}

	impact, err := a.svc.UpdateArtifactStatus(r.Context(), id, req.Status)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	obs.RollupRecomputesTotal.Inc()

	_ = audit.LogEvent(r.Context(), "artifact.status_changed", map[string]any{
		"artifact_id": id,
		"status":      req.Status,
		"controls":    len(impact.Controls),
		"frameworks":  len(impact.Frameworks),
	})

	if a.events != nil {
		a.events.Publish(stream.StatusEvent{
			OrganizationID: org,
			Impact:         impact,
		})
	}

	writeJSON(w, http.StatusOK, impact)
}

// controlInOrg resolves a control and hides it from other organizations.
func (a *API) controlInOrg(w http.ResponseWriter, r *http.Request, org, id string) (compliance.ControlInstance, bool) {
	ctrl, err := a.svc.GetControl(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return compliance.ControlInstance{}, false
	}
	if ctrl.OrganizationID != org {
		writeError(w, http.StatusNotFound, "not found")
		return compliance.ControlInstance{}, false
	}
	return ctrl, true
}

// requirementInOrg resolves a requirement through its framework instance
// and hides it from other organizations.
func (a *API) requirementInOrg(w http.ResponseWriter, r *http.Request, org, id string) (compliance.RequirementInstance, bool) {
	ri, err := a.svc.GetRequirement(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return compliance.RequirementInstance{}, false
	}
	fw, err := a.svc.GetFrameworkInstance(r.Context(), ri.FrameworkInstanceID)
	if err != nil {
		writeServiceError(w, err)
		return compliance.RequirementInstance{}, false
	}
	if fw.OrganizationID != org {
		writeError(w, http.StatusNotFound, "not found")
		return compliance.RequirementInstance{}, false
	}
	return ri, true
}

func (a *API) artifactInOrg(w http.ResponseWriter, r *http.Request, org, id string) (compliance.Artifact, bool) {
	art, err := a.svc.GetArtifact(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return compliance.Artifact{}, false
	}
	if art.OrganizationID != org {
		writeError(w, http.StatusNotFound, "not found")
		return compliance.Artifact{}, false
	}
	return art, true
}

func (a *API) handleOrgStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	org, ok := orgFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing organization")
		return
	}
	stats, err := a.svc.OrgStats(r.Context(), org)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleOrgRepair(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	org, ok := orgFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing organization")
		return
	}
	stats, err := a.svc.RepairOrg(r.Context(), org)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "org.repaired", map[string]any{
		"entities_created": stats.Total(),
	})
	writeJSON(w, http.StatusOK, stats)
}
