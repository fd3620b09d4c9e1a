package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasScope(t *testing.T) {
	assert.True(t, HasScope([]string{ScopeRead}, ScopeRead))
	assert.False(t, HasScope([]string{ScopeRead}, ScopeAdmin))
	assert.True(t, HasScope([]string{ScopeAdmin}, ScopeRead))
	assert.False(t, HasScope(nil, ScopeRead))
}

func TestValidScope(t *testing.T) {
	assert.True(t, ValidScope("read"))
	assert.True(t, ValidScope("admin"))
	assert.False(t, ValidScope("write"))
	assert.False(t, ValidScope(""))
}
