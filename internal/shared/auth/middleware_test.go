package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensur/platform/internal/shared/config"
	"github.com/opensur/platform/internal/shared/types"
)

func TestPrincipalKind(t *testing.T) {
	tests := []struct {
		name string
		p    Principal
		want Kind
	}{
		{"member", Principal{}, KindMember},
		{"staff", Principal{IsStaff: true}, KindStaff},
		{"superuser", Principal{IsSuperuser: true}, KindSuperuser},
		{"superuser wins over staff", Principal{IsStaff: true, IsSuperuser: true}, KindSuperuser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.Kind())
		})
	}
}

func TestMiddleware(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: "test-secret", Issuer: "opensur"}
	want := Principal{
		ID:          types.NewID(),
		Username:    "ana",
		AuthorityID: types.NewID(),
		Role:        RoleOfficer,
		IsStaff:     true,
	}

	var got *Principal
	h := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetPrincipal(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("valid token", func(t *testing.T) {
		token, err := SignToken(cfg, want, time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, got)
		assert.Equal(t, want, *got)
	})

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := SignToken(config.AuthConfig{JWTSecret: "other", Issuer: "opensur"}, want, time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := SignToken(cfg, want, -time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
