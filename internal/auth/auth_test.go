package auth

import (
	"testing"
	"time"
)

func TestVerifyRoundTrip(t *testing.T) {
	v, err := NewVerifier("test-secret", WithIssuer("veridia-test"))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	token, err := v.IssueToken(Identity{Subject: "user-42", OrganizationID: "org-1", Roles: []string{"admin"}}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.Subject != "user-42" || id.OrganizationID != "org-1" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer, _ := NewVerifier("secret-a")
	verifier, _ := NewVerifier("secret-b")

	token, err := issuer.IssueToken(Identity{Subject: "u", OrganizationID: "org-1"}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := verifier.Verify(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRequiresOrganization(t *testing.T) {
	v, _ := NewVerifier("test-secret")
	token, err := v.IssueToken(Identity{Subject: "u"}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := v.Verify(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for missing org, got %v", err)
	}
}
