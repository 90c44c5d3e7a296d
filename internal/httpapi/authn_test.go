package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"veridia.org/internal/auth"
	"veridia.org/internal/compliance"
)

func TestBearerTokenRequired(t *testing.T) {
	verifier, err := auth.NewVerifier("test-secret")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	cat := testCatalog(t)
	api := New(Config{
		Version:    "test",
		Service:    compliance.NewInMemory(cat),
		Catalog:    cat,
		Verifier:   verifier,
		RateBurst:  100,
		RatePerSec: 100,
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	// No token at all.
	resp, err := http.Get(srv.URL + "/v1/adoptions")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", resp.StatusCode)
	}

	// X-Org-Id is not a substitute once a verifier is configured.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/adoptions", nil)
	req.Header.Set("X-Org-Id", "org-1")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("header only: expected 401, got %d", resp.StatusCode)
	}

	// Garbage token is rejected.
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/v1/adoptions", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", resp.StatusCode)
	}

	// A valid token carries the organization into the request.
	token, err := verifier.IssueToken(auth.Identity{Subject: "u-1", OrganizationID: "org-1"}, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/v1/adoptions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid token: expected 200, got %d", resp.StatusCode)
	}

	// Health stays public.
	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", resp.StatusCode)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc", "abc", false},
		{"bearer abc", "abc", false},
		{"Bearer   abc  ", "abc", false},
		{"", "", true},
		{"Bearer ", "", true},
		{"Basic abc", "", true},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("header %q: expected error", tc.header)
			}
			continue
		}
		if err != nil {
			t.Fatalf("header %q: %v", tc.header, err)
		}
		if got != tc.want {
			t.Fatalf("header %q: got %q, want %q", tc.header, got, tc.want)
		}
	}
}
