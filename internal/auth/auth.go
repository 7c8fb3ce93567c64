// Package auth resolves request credentials to tenant-scoped principals.
// Token verification is a boundary contract: the rest of the service only
// ever sees a Principal.
package auth

import (
	"context"
	"errors"
)

var (
	// ErrInvalidToken reports an unknown or missing bearer token.
	ErrInvalidToken = errors.New("invalid or missing token")
	// ErrMissingTenant reports a dev-mode request without a tenant header.
	ErrMissingTenant = errors.New("missing tenant")
)

// DevOwnerID is the owner recorded for dev-mode requests, where no token
// identifies the caller.
const DevOwnerID = "dev"

// Principal is the authenticated caller. Every request acts as exactly
// one principal within exactly one tenant.
type Principal struct {
	// ID is the owner reference recorded on videos the principal uploads.
	ID string `json:"id"`
	// TenantID scopes every read and write the principal performs.
	TenantID string `json:"tenantId"`
}

// Verifier resolves a bearer token to a principal. tenantHint carries the
// tenant header value for permissive implementations and is ignored when
// real tokens are in play.
type Verifier interface {
	Verify(ctx context.Context, token, tenantHint string) (*Principal, error)
}
