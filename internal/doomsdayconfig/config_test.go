package doomsdayconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
backends:
  - type: vault
    name: my-vault
    refresh_interval: 60
    properties:
      url: https://vault.example.com
      token: root
server:
  port: 8111
  auth:
    type: none
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Backends, 1)
	require.Equal(t, "my-vault", cfg.Backends[0].Name)
	require.Equal(t, 8111, cfg.Server.Port)
}

func TestValidateRejectsEmptyBackends(t *testing.T) {
	cfg := Config{Server: Server{Auth: AuthSpec{Type: "none"}}}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsEmptyName(t *testing.T) {
	cfg := Config{
		Backends: []Backend{{Type: "vault"}},
		Server:   Server{Auth: AuthSpec{Type: "none"}},
	}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownBackendType(t *testing.T) {
	cfg := Config{
		Backends: []Backend{{Type: "nope", Name: "x"}},
		Server:   Server{Auth: AuthSpec{Type: "none"}},
	}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownAuthType(t *testing.T) {
	cfg := Config{
		Backends: []Backend{{Type: "vault", Name: "x"}},
		Server:   Server{Auth: AuthSpec{Type: "nope"}},
	}
	require.Error(t, cfg.Validate())
}

func TestDefaultHasNoBackendsAndNoneAuth(t *testing.T) {
	cfg := Default()
	require.Empty(t, cfg.Backends)
	require.Equal(t, "none", cfg.Server.Auth.Type)
}
