package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipdock/clipdock/internal/config"
)

func TestStaticVerifierKnownToken(t *testing.T) {
	verifier := NewStaticVerifier([]config.TokenClaims{
		{Token: "token-a", TenantID: "tenant-a", OwnerID: "alice"},
		{Token: "token-b", TenantID: "tenant-b", OwnerID: "bob"},
	})
	assert.False(t, verifier.DevMode())

	p, err := verifier.Verify(context.Background(), "token-b", "")
	require.NoError(t, err)
	assert.Equal(t, "bob", p.ID)
	assert.Equal(t, "tenant-b", p.TenantID)
}

func TestStaticVerifierRejectsUnknownToken(t *testing.T) {
	verifier := NewStaticVerifier([]config.TokenClaims{
		{Token: "token-a", TenantID: "tenant-a", OwnerID: "alice"},
	})

	_, err := verifier.Verify(context.Background(), "wrong", "")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = verifier.Verify(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// The tenant header must not override configured tokens.
	_, err = verifier.Verify(context.Background(), "wrong", "tenant-a")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestStaticVerifierDevMode(t *testing.T) {
	verifier := NewStaticVerifier(nil)
	assert.True(t, verifier.DevMode())

	p, err := verifier.Verify(context.Background(), "", "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, DevOwnerID, p.ID)
	assert.Equal(t, "tenant-a", p.TenantID)

	_, err = verifier.Verify(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrMissingTenant)
}

func TestPrincipalContext(t *testing.T) {
	ctx := context.Background()

	_, ok := PrincipalFromContext(ctx)
	assert.False(t, ok)

	p := &Principal{ID: "alice", TenantID: "tenant-a"}
	ctx = ContextWithPrincipal(ctx, p)

	got, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, p, got)
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{"bearer header", "Bearer secret", "", "secret"},
		{"bearer header with padding", "Bearer   secret  ", "", "secret"},
		{"query parameter", "", "ws-secret", "ws-secret"},
		{"header wins over query", "Bearer secret", "other", "secret"},
		{"wrong scheme ignored", "Basic secret", "", ""},
		{"empty request", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/videos"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			r := httptest.NewRequest("GET", target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, ExtractToken(r))
		})
	}
}
