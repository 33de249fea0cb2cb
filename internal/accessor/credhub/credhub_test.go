package credhub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, certPEM string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-token",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/api/v1/credentials", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") != "" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"type":  "certificate",
				"value": map[string]string{"certificate": certPEM},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"credentials": []map[string]string{
				{"name": "/some/cert", "type": "certificate"},
				{"name": "/some/password", "type": "password"},
			},
		})
	})

	return httptest.NewServer(mux)
}

func TestListFiltersToCertificates(t *testing.T) {
	srv := newTestServer(t, "")
	defer srv.Close()

	a, err := New(Config{Name: "ch", Address: srv.URL, ClientID: "id", ClientSecret: "secret"})
	require.NoError(t, err)

	paths, err := a.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"/some/cert"}, paths)
}

func TestGetMissingFieldsReturnsNilError(t *testing.T) {
	srv := newTestServer(t, "")
	defer srv.Close()

	a, err := New(Config{Name: "ch", Address: srv.URL, ClientID: "id", ClientSecret: "secret"})
	require.NoError(t, err)

	rec, err := a.Get(context.Background(), "/some/cert")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{Name: "ch", Address: "https://example.com"})
	require.Error(t, err)
}
