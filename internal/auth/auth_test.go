package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateKnownUsers(t *testing.T) {
	r := NewRegistry()

	admin, ok := r.Authenticate("admin", "anything")
	require.True(t, ok)
	assert.True(t, admin.Capabilities.CanSearchInternet)
	assert.True(t, admin.Capabilities.CanAccessRestricted)
	assert.True(t, admin.Capabilities.CanUploadDocuments)

	local, ok := r.Authenticate("local_user", "")
	require.True(t, ok)
	assert.True(t, local.Capabilities.CanSearchLocal)
	assert.False(t, local.Capabilities.CanSearchInternet)
	assert.False(t, local.Capabilities.CanAccessRestricted)

	hybrid, ok := r.Authenticate("hybrid_user", "")
	require.True(t, ok)
	assert.True(t, hybrid.Capabilities.CanSearchInternet)
	assert.False(t, hybrid.Capabilities.CanAccessRestricted)

	_, ok = r.Authenticate("nobody", "")
	assert.False(t, ok)
}

func TestUserByToken(t *testing.T) {
	r := NewRegistry()

	user, ok := r.UserByToken("hybrid_user")
	require.True(t, ok)
	assert.Equal(t, "user_3", user.ID)

	_, ok = r.UserByToken("")
	assert.False(t, ok)
}
