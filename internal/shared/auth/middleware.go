package auth

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opensur/platform/internal/shared/config"
	"github.com/opensur/platform/internal/shared/types"
)

// Claims extends JWT claims with the authority user's scope
type Claims struct {
	jwt.RegisteredClaims
	Username    string `json:"username"`
	AuthorityID string `json:"authority_id"`
	Role        string `json:"role,omitempty"`
	IsStaff     bool   `json:"is_staff"`
	IsSuperuser bool   `json:"is_superuser"`
}

// Principal builds the acting principal from validated claims.
func (c *Claims) Principal() (*Principal, error) {
	id, err := types.ParseID(c.Subject)
	if err != nil {
		return nil, err
	}
	authorityID, err := types.ParseID(c.AuthorityID)
	if err != nil {
		return nil, err
	}
	return &Principal{
		ID:          id,
		Username:    c.Username,
		AuthorityID: authorityID,
		Role:        c.Role,
		IsStaff:     c.IsStaff,
		IsSuperuser: c.IsSuperuser,
	}, nil
}

// Middleware creates JWT authentication middleware
func Middleware(cfg config.AuthConfig) func(http.Handler) http.Handler {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				writeError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			token, err := parser.ParseWithClaims(parts[1], &Claims{}, func(token *jwt.Token) (interface{}, error) {
				return []byte(cfg.JWTSecret), nil
			})
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			claims, ok := token.Claims.(*Claims)
			if !ok || !token.Valid {
				writeError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}

			principal, err := claims.Principal()
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token subject")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// SignToken issues an HS256 token for p. Token issuance belongs to the
// identity service; this exists for local tooling and tests.
func SignToken(cfg config.AuthConfig, p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID.String(),
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username:    p.Username,
		AuthorityID: p.AuthorityID.String(),
		Role:        p.Role,
		IsStaff:     p.IsStaff,
		IsSuperuser: p.IsSuperuser,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}

// RequirePrincipal rejects requests that reached the handler without one.
func RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetPrincipal(r.Context()) == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
