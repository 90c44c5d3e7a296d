package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSecret     = errors.New("token secret not configured")
)

// Identity is the resolved caller: which organization the request acts on
// and who performed it. The compliance core trusts this value; resolving it
// is the job of this package and of whatever issued the token.
type Identity struct {
	Subject        string
	OrganizationID string
	Roles          []string
}

// Verifier validates HS256 bearer tokens issued by the platform's session
// service and extracts the organization identity from their claims.
type Verifier struct {
	secret []byte
	issuer string
}

// Option configures Verifier behavior.
type Option func(*Verifier)

// WithIssuer requires tokens to carry the given issuer claim.
func WithIssuer(issuer string) Option {
	return func(v *Verifier) {
		v.issuer = strings.TrimSpace(issuer)
	}
}

// NewVerifier constructs a Verifier for the given shared secret.
func NewVerifier(secret string, opts ...Option) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrNoSecret
	}
	v := &Verifier{secret: []byte(secret)}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

type tokenClaims struct {
	OrganizationID string   `json:"org_id"`
	Roles          []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Verify parses and validates a bearer token and returns the identity it carries.
func (v *Verifier) Verify(token string) (Identity, error) {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return Identity{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.OrganizationID) == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{
		Subject:        claims.Subject,
		OrganizationID: claims.OrganizationID,
		Roles:          claims.Roles,
	}, nil
}

// IssueToken signs a token for the given identity. Used by tests and local
// tooling; production tokens come from the session service.
func (v *Verifier) IssueToken(id Identity, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := tokenClaims{
		OrganizationID: id.OrganizationID,
		Roles:          id.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
