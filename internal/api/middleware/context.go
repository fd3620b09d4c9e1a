package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const (
	apiKeyIDKey     contextKey = "api_key_id"
	keyPrefixKey    contextKey = "key_prefix"
	apiKeyScopesKey contextKey = "api_key_scopes"
)

// SetAPIKey records the authenticated key on ctx.
func SetAPIKey(ctx context.Context, id uuid.UUID, prefix string, scopes []string) context.Context {
	ctx = context.WithValue(ctx, apiKeyIDKey, id)
	ctx = context.WithValue(ctx, keyPrefixKey, prefix)
	return context.WithValue(ctx, apiKeyScopesKey, scopes)
}

// GetAPIKeyID returns the id of the key that authenticated r, if any.
func GetAPIKeyID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(apiKeyIDKey).(uuid.UUID)
	return id, ok
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

func getScopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(apiKeyScopesKey).([]string)
	return scopes
}
