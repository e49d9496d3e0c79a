// Package identity extracts tenant/user identity and billing tier from
// inbound requests. Resolution is side-effect-free and never fails the
// request: malformed signals degrade to "unresolved".
package identity

import (
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TenantHeader = "X-Tenant-ID"
	UserHeader   = "X-User-ID"
	TenantQuery  = "tenant_id"
	UserQuery    = "user_id"
)

// Identity is the resolved request attribution. Empty fields mean unresolved.
type Identity struct {
	TenantID string
	UserID   string
	Tier     string
}

// Claims are the token claims this layer reads. It never issues tokens.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	Tier     string `json:"tier,omitempty"`
}

// Resolver resolves identity from an ordered list of signal sources:
// token claims, explicit headers, query parameters, then the request
// subdomain (tenant only). First match wins per field.
type Resolver struct {
	// JWTSecret verifies HS256 bearer tokens when set. When empty, claims
	// are read without signature verification (an upstream proxy is assumed
	// to have authenticated the token already).
	JWTSecret []byte
	// ReservedSubdomains never resolve to a tenant (e.g. "www", "api").
	ReservedSubdomains []string
}

func NewResolver(secret string) *Resolver {
	return &Resolver{
		JWTSecret:          []byte(secret),
		ReservedSubdomains: []string{"www", "api"},
	}
}

// Resolve extracts identity from r. It never returns an error: a bad
// credential simply leaves the corresponding fields unresolved.
func (rv *Resolver) Resolve(r *http.Request) Identity {
	var id Identity

	if claims := rv.tokenClaims(r); claims != nil {
		id.TenantID = strings.TrimSpace(claims.TenantID)
		id.UserID = strings.TrimSpace(claims.UserID)
		id.Tier = strings.TrimSpace(claims.Tier)
	}

	if id.TenantID == "" {
		id.TenantID = strings.TrimSpace(r.Header.Get(TenantHeader))
	}
	if id.UserID == "" {
		id.UserID = strings.TrimSpace(r.Header.Get(UserHeader))
	}

	if id.TenantID == "" {
		id.TenantID = strings.TrimSpace(r.URL.Query().Get(TenantQuery))
	}
	if id.UserID == "" {
		id.UserID = strings.TrimSpace(r.URL.Query().Get(UserQuery))
	}

	if id.TenantID == "" {
		id.TenantID = rv.subdomain(r.Host)
	}

	return id
}

// tokenClaims parses the bearer token, returning nil on any failure.
func (rv *Resolver) tokenClaims(r *http.Request) *Claims {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return nil
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil
	}
	raw := strings.TrimSpace(parts[1])
	if raw == "" {
		return nil
	}

	claims := &Claims{}
	if len(rv.JWTSecret) > 0 {
		tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return rv.JWTSecret, nil
		})
		if err != nil || !tok.Valid {
			return nil
		}
		return claims
	}

	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil
	}
	return claims
}

// subdomain derives a tenant slug from the host, skipping bare domains,
// IP literals and reserved prefixes.
func (rv *Resolver) subdomain(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" || net.ParseIP(host) != nil {
		return ""
	}
	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return ""
	}
	slug := strings.ToLower(labels[0])
	if slug == "" {
		return ""
	}
	for _, res := range rv.ReservedSubdomains {
		if slug == res {
			return ""
		}
	}
	return slug
}
