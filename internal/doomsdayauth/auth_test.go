package doomsdayauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNopProviderNeverRequiresAuth(t *testing.T) {
	p := NopProvider{}
	require.False(t, p.RequiresAuth())
	require.True(t, p.ValidateToken("anything"))
}

func TestUserPassAuthenticateAndValidate(t *testing.T) {
	p, err := NewUserPassProvider(map[string]string{"admin": "hunter2"}, time.Hour, true)
	require.NoError(t, err)
	require.True(t, p.RequiresAuth())

	token, expiresAt, err := p.Authenticate("admin", "hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.True(t, expiresAt.After(time.Now()))

	require.True(t, p.ValidateToken(token))
}

func TestUserPassAuthenticateWrongPasswordFails(t *testing.T) {
	p, err := NewUserPassProvider(map[string]string{"admin": "hunter2"}, time.Hour, true)
	require.NoError(t, err)

	_, _, err = p.Authenticate("admin", "wrong")
	require.Error(t, err)
}

func TestUserPassAuthenticateUnknownUserFails(t *testing.T) {
	p, err := NewUserPassProvider(map[string]string{"admin": "hunter2"}, time.Hour, true)
	require.NoError(t, err)

	_, _, err = p.Authenticate("nobody", "hunter2")
	require.Error(t, err)
}

func TestRevokeTokenInvalidatesImmediately(t *testing.T) {
	p, err := NewUserPassProvider(map[string]string{"admin": "hunter2"}, time.Hour, true)
	require.NoError(t, err)

	token, _, err := p.Authenticate("admin", "hunter2")
	require.NoError(t, err)
	require.True(t, p.ValidateToken(token))

	p.RevokeToken(token)
	require.False(t, p.ValidateToken(token))
}

func TestValidateTokenExpiresWithoutRefresh(t *testing.T) {
	p, err := NewUserPassProvider(map[string]string{"admin": "hunter2"}, time.Millisecond, false)
	require.NoError(t, err)

	token, _, err := p.Authenticate("admin", "hunter2")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.False(t, p.ValidateToken(token))
}

func TestNewUserPassProviderRequiresUsers(t *testing.T) {
	_, err := NewUserPassProvider(nil, time.Hour, true)
	require.Error(t, err)
}
