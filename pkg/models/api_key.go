package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	ScopeRead  = "read"
	ScopeAdmin = "admin"
)

var knownScopes = []string{ScopeRead, ScopeAdmin}

// APIKey authenticates a client. The raw key is shown once when minted; only its bcrypt hash
// and a short clear-text prefix used for lookup are kept.
type APIKey struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	Scopes     []string   `json:"scopes"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	DeletedAt  *time.Time `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func ValidScope(s string) bool {
	return slices.Contains(knownScopes, s)
}

// HasScope reports whether granted satisfies want. Admin keys may do anything.
func HasScope(granted []string, want string) bool {
	return slices.Contains(granted, want) || slices.Contains(granted, ScopeAdmin)
}
