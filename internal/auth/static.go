package auth

import (
	"context"
	"crypto/subtle"
	"log/slog"

	"github.com/clipdock/clipdock/internal/config"
	"github.com/clipdock/clipdock/internal/observability"
)

// StaticVerifier authorizes against the fixed token table from
// configuration. With an empty table it runs in dev mode: any request is
// accepted and the tenant comes from the tenant header.
type StaticVerifier struct {
	claims []config.TokenClaims
	logger *slog.Logger
}

// NewStaticVerifier creates a verifier over the configured token claims.
func NewStaticVerifier(claims []config.TokenClaims) *StaticVerifier {
	return &StaticVerifier{
		claims: claims,
		logger: observability.WithComponent(slog.Default(), "auth"),
	}
}

// WithLogger sets the logger for the verifier.
func (v *StaticVerifier) WithLogger(logger *slog.Logger) *StaticVerifier {
	if logger != nil {
		v.logger = observability.WithComponent(logger, "auth")
	}
	return v
}

// DevMode reports whether the verifier accepts header-derived tenants.
func (v *StaticVerifier) DevMode() bool {
	return len(v.claims) == 0
}

// Verify resolves token to its configured principal. Comparison is
// constant-time across the whole table so timing reveals nothing about
// which tokens exist.
func (v *StaticVerifier) Verify(_ context.Context, token, tenantHint string) (*Principal, error) {
	if v.DevMode() {
		if tenantHint == "" {
			return nil, ErrMissingTenant
		}
		return &Principal{ID: DevOwnerID, TenantID: tenantHint}, nil
	}

	if token == "" {
		return nil, ErrInvalidToken
	}
	var match *config.TokenClaims
	for i := range v.claims {
		if subtle.ConstantTimeCompare([]byte(token), []byte(v.claims[i].Token)) == 1 && match == nil {
			match = &v.claims[i]
		}
	}
	if match == nil {
		v.logger.Warn("rejected unknown token")
		return nil, ErrInvalidToken
	}
	return &Principal{ID: match.OwnerID, TenantID: match.TenantID}, nil
}
