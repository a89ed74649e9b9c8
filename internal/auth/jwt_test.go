package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	token, err := GenerateToken("test-secret", "user-1", "alice", RoleSuperAdmin, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ValidateToken("test-secret", token)
	require.NoError(t, err)

	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, RoleSuperAdmin, claims.Role)
	assert.True(t, claims.IsSuperAdmin())
	assert.NotEmpty(t, claims.ID)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	token, err := GenerateToken("secret1", "user-1", "alice", RoleSubAdmin, time.Hour)
	require.NoError(t, err)

	_, err = ValidateToken("secret2", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_Malformed(t *testing.T) {
	_, err := ValidateToken("secret", "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_Expired(t *testing.T) {
	token, err := GenerateToken("secret", "user-1", "alice", RoleSubAdmin, time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)

	_, err = ValidateToken("secret", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGenerateToken_DefaultTTL(t *testing.T) {
	token, err := GenerateToken("secret", "user-1", "alice", RoleSubAdmin, 0)
	require.NoError(t, err)

	claims, err := ValidateToken("secret", token)
	require.NoError(t, err)

	diff := time.Until(claims.ExpiresAt.Time) - DefaultTokenTTL
	assert.InDelta(t, 0, diff.Seconds(), 5)
	assert.False(t, claims.IsSuperAdmin())
}
