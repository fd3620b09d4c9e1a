package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/depthflow/internal/api/response"
	"github.com/kiranshivaraju/depthflow/internal/store"
	"github.com/kiranshivaraju/depthflow/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// KeyPrefixLen is how many leading characters of a raw key are stored in clear for lookup.
const KeyPrefixLen = 8

// Auth provides API key authentication and scope checks. When disabled every request passes
// through unauthenticated.
type Auth struct {
	store   store.Store
	enabled bool
}

func NewAuth(s store.Store, enabled bool) *Auth {
	return &Auth{store: s, enabled: enabled}
}

// Authenticate validates the Bearer token against stored key hashes and records the key on the
// request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	if !a.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}
		if len(rawKey) < KeyPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key format", nil)
			return
		}

		prefix := rawKey[:KeyPrefixLen]
		keys, err := a.store.GetAPIKeyByPrefix(r.Context(), prefix)
		if err != nil {
			slog.Error("api key lookup failed", "error", err)
			response.InternalError(w)
			return
		}

		for _, key := range keys {
			if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) != nil {
				continue
			}
			r = r.WithContext(SetAPIKey(r.Context(), key.ID, prefix, key.Scopes))

			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := a.store.UpdateAPIKeyLastUsed(ctx, key.ID); err != nil {
					slog.Warn("failed to update api key last use", "key_prefix", prefix, "error", err)
				}
			}()

			next.ServeHTTP(w, r)
			return
		}

		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid API key", nil)
	})
}

// RequireScope rejects authenticated requests whose key lacks scope. It is a no-op when auth
// is disabled.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !a.enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if models.HasScope(getScopes(r), scope) {
				next.ServeHTTP(w, r)
				return
			}
			response.Error(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions", nil)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
