package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"veridia.org/internal/catalog"
	"veridia.org/internal/compliance"
	"veridia.org/internal/stream"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(
		[]catalog.FrameworkTemplate{
			{
				ID: "soc2", Name: "SOC 2", Version: "2017",
				Requirements: []catalog.RequirementTemplate{
					{ID: "r1", Code: "CC1.1", Name: "Control Environment"},
				},
			},
		},
		[]catalog.ControlTemplate{
			{
				ID: "access-control", Name: "Access Management",
				Requirements: []catalog.RequirementRef{
					{FrameworkID: "soc2", RequirementID: "r1"},
				},
				Artifacts: []catalog.ArtifactRef{{PolicyID: "access-policy"}},
			},
		},
		[]catalog.PolicyTemplate{{ID: "access-policy", Name: "Access Policy", Content: "Grant least privilege."}},
		nil,
		nil,
	)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return cat
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	cat := testCatalog(t)
	api := New(Config{
		Version:    "test",
		Service:    compliance.NewInMemory(cat),
		Catalog:    cat,
		Events:     stream.New(),
		RateBurst:  100,
		RatePerSec: 100,
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, org string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if org != "" {
		req.Header.Set("X-Org-Id", org)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthzIsPublic(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodGet, "/healthz", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestMissingOrgRejected(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodGet, "/v1/adoptions", nil, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAdoptionLifecycle(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodPost, "/v1/adoptions", adoptRequest{FrameworkTemplateID: "soc2"}, "org-1")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("adopt: expected 201, got %d", resp.StatusCode)
	}
	var adoption compliance.Adoption
	decodeBody(t, resp, &adoption)
	if len(adoption.Requirements) != 1 || len(adoption.Controls) != 1 || len(adoption.Artifacts) != 1 {
		t.Fatalf("unexpected adoption shape: %+v", adoption)
	}

	// Second adoption of the same framework conflicts.
	resp = c.do(http.MethodPost, "/v1/adoptions", adoptRequest{FrameworkTemplateID: "soc2"}, "org-1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("re-adopt: expected 409, got %d", resp.StatusCode)
	}

	// Fresh orgs are isolated.
	resp = c.do(http.MethodGet, "/v1/adoptions", nil, "org-2")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	var list struct {
		Items []adoptionSummary `json:"items"`
	}
	decodeBody(t, resp, &list)
	if len(list.Items) != 0 {
		t.Fatalf("org-2 should see no adoptions, got %d", len(list.Items))
	}

	resp = c.do(http.MethodGet, "/v1/adoptions", nil, "org-1")
	decodeBody(t, resp, &list)
	if len(list.Items) != 1 {
		t.Fatalf("org-1 should see 1 adoption, got %d", len(list.Items))
	}
	if list.Items[0].CompliancePercent != 0 {
		t.Fatalf("fresh adoption should be 0%% compliant, got %v", list.Items[0].CompliancePercent)
	}

	resp = c.do(http.MethodDelete, "/v1/adoptions/soc2", nil, "org-1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove: expected 204, got %d", resp.StatusCode)
	}
	resp = c.do(http.MethodDelete, "/v1/adoptions/soc2", nil, "org-1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("remove again: expected 404, got %d", resp.StatusCode)
	}
}

func TestUnknownTemplateIs404(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodPost, "/v1/adoptions", adoptRequest{FrameworkTemplateID: "hipaa"}, "org-1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestStatusChangeReturnsImpact(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodPost, "/v1/adoptions", adoptRequest{FrameworkTemplateID: "soc2"}, "org-1")
	var adoption compliance.Adoption
	decodeBody(t, resp, &adoption)
	artifactID := adoption.Artifacts[0].ID

	resp = c.do(http.MethodPost, "/v1/artifacts/"+artifactID+"/status", statusRequest{Status: "published"}, "org-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status change: expected 200, got %d", resp.StatusCode)
	}
	var impact compliance.Impact
	decodeBody(t, resp, &impact)
	if len(impact.Controls) != 1 || impact.Controls[0].Status != compliance.ControlCompleted {
		t.Fatalf("expected completed control, got %+v", impact.Controls)
	}
	if len(impact.Frameworks) != 1 || impact.Frameworks[0].CompliancePercent != 100 {
		t.Fatalf("expected 100%% framework, got %+v", impact.Frameworks)
	}

	// Invalid status for the artifact kind is a 400.
	resp = c.do(http.MethodPost, "/v1/artifacts/"+artifactID+"/status", statusRequest{Status: "done"}, "org-1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad status: expected 400, got %d", resp.StatusCode)
	}
}

func TestArtifactHiddenAcrossOrgs(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodPost, "/v1/adoptions", adoptRequest{FrameworkTemplateID: "soc2"}, "org-1")
	var adoption compliance.Adoption
	decodeBody(t, resp, &adoption)
	artifactID := adoption.Artifacts[0].ID

	resp = c.do(http.MethodGet, "/v1/artifacts/"+artifactID, nil, "org-2")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign artifact, got %d", resp.StatusCode)
	}

	resp = c.do(http.MethodGet, "/v1/artifacts/"+artifactID, nil, "org-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for own artifact, got %d", resp.StatusCode)
	}
	var art compliance.Artifact
	decodeBody(t, resp, &art)
	if art.ID != artifactID {
		t.Fatalf("wrong artifact returned: %q", art.ID)
	}
}

func TestRequirementAndControlHiddenAcrossOrgs(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodPost, "/v1/adoptions", adoptRequest{FrameworkTemplateID: "soc2"}, "org-a")
	var adoption compliance.Adoption
	decodeBody(t, resp, &adoption)
	reqID := adoption.Requirements[0].ID
	ctrlID := adoption.Controls[0].ID

	foreign := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/v1/requirements/" + reqID},
		{http.MethodGet, "/v1/requirements/" + reqID + "/controls"},
		{http.MethodGet, "/v1/controls/" + ctrlID + "/status"},
		{http.MethodGet, "/v1/controls/" + ctrlID + "/requirements"},
		{http.MethodGet, "/v1/controls/" + ctrlID + "/artifacts"},
	}
	for _, tc := range foreign {
		resp := c.do(tc.method, tc.path, nil, "org-b")
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s %s as foreign org: expected 404, got %d", tc.method, tc.path, resp.StatusCode)
		}
	}

	// A foreign org must not toggle applicability either.
	resp = c.do(http.MethodPost, "/v1/requirements/"+reqID+"/applicability", applicabilityRequest{NotApplicable: true}, "org-b")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign applicability: expected 404, got %d", resp.StatusCode)
	}

	// The owner still sees everything.
	resp = c.do(http.MethodGet, "/v1/requirements/"+reqID, nil, "org-a")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("own requirement: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = c.do(http.MethodGet, "/v1/controls/"+ctrlID+"/artifacts", nil, "org-a")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("own control artifacts: expected 200, got %d", resp.StatusCode)
	}
	var arts struct {
		Items []compliance.Artifact `json:"items"`
	}
	decodeBody(t, resp, &arts)
	if len(arts.Items) != 1 || arts.Items[0].OrganizationID != "org-a" {
		t.Fatalf("unexpected artifacts for owner: %+v", arts.Items)
	}
}

func TestCreateAndLinkArtifact(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodPost, "/v1/adoptions", adoptRequest{FrameworkTemplateID: "soc2"}, "org-1")
	var adoption compliance.Adoption
	decodeBody(t, resp, &adoption)
	controlID := adoption.Controls[0].ID

	resp = c.do(http.MethodPost, "/v1/artifacts", createArtifactRequest{Kind: "evidence", Name: "Access Review Export"}, "org-1")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create artifact: expected 201, got %d", resp.StatusCode)
	}
	var art compliance.Artifact
	decodeBody(t, resp, &art)
	if art.Status != compliance.EvidenceDraft {
		t.Fatalf("new evidence should be draft, got %q", art.Status)
	}

	resp = c.do(http.MethodPost, "/v1/controls/"+controlID+"/artifacts/"+art.ID, nil, "org-1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("link: expected 204, got %d", resp.StatusCode)
	}

	// Linking twice conflicts.
	resp = c.do(http.MethodPost, "/v1/controls/"+controlID+"/artifacts/"+art.ID, nil, "org-1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("relink: expected 409, got %d", resp.StatusCode)
	}

	resp = c.do(http.MethodGet, "/v1/controls/"+controlID+"/artifacts", nil, "org-1")
	var arts struct {
		Items []compliance.Artifact `json:"items"`
	}
	decodeBody(t, resp, &arts)
	if len(arts.Items) != 2 {
		t.Fatalf("expected 2 linked artifacts, got %d", len(arts.Items))
	}

	resp = c.do(http.MethodDelete, "/v1/controls/"+controlID+"/artifacts/"+art.ID, nil, "org-1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unlink: expected 204, got %d", resp.StatusCode)
	}
}

func TestApplicabilityOverride(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodPost, "/v1/adoptions", adoptRequest{FrameworkTemplateID: "soc2"}, "org-1")
	var adoption compliance.Adoption
	decodeBody(t, resp, &adoption)
	reqID := adoption.Requirements[0].ID

	resp = c.do(http.MethodPost, "/v1/requirements/"+reqID+"/applicability", applicabilityRequest{NotApplicable: true}, "org-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("applicability: expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Status compliance.RequirementStatus `json:"status"`
	}
	decodeBody(t, resp, &body)
	if body.Status != compliance.RequirementNotApplicable {
		t.Fatalf("expected not_applicable, got %q", body.Status)
	}

	// NA requirements are excluded, so the framework reads fully compliant.
	resp = c.do(http.MethodGet, "/v1/adoptions", nil, "org-1")
	var list struct {
		Items []adoptionSummary `json:"items"`
	}
	decodeBody(t, resp, &list)
	if list.Items[0].CompliancePercent != 100 {
		t.Fatalf("all-NA framework should be 100%%, got %v", list.Items[0].CompliancePercent)
	}
}

func TestOrgRepairEndpoint(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodPost, "/v1/adoptions", adoptRequest{FrameworkTemplateID: "soc2"}, "org-1")
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/org/stats", nil, "org-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", resp.StatusCode)
	}
	var stats compliance.OrgStats
	decodeBody(t, resp, &stats)
	if stats.Total() != 0 {
		t.Fatalf("healthy org should report nothing missing, got %+v", stats)
	}

	resp = c.do(http.MethodPost, "/v1/org/repair", nil, "org-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("repair: expected 200, got %d", resp.StatusCode)
	}
	decodeBody(t, resp, &stats)
	if stats.Total() != 0 {
		t.Fatalf("repair on healthy org should create nothing, got %+v", stats)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodDelete, "/v1/frameworks", nil, "org-1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}
