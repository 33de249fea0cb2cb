package vault

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func makeCertPEM(t *testing.T) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: "vault.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func newTestServer(t *testing.T, certPEM string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/secret/metadata/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "LIST" && r.URL.Query().Get("list") != "true" {
			http.NotFound(w, r)
			return
		}
		switch r.URL.Path {
		case "/v1/secret/metadata/":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{"keys": []string{"app/", "standalone.pem"}},
			})
		case "/v1/secret/metadata/app":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{"keys": []string{"leaf.pem"}},
			})
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/v1/secret/data/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/secret/data/app/leaf.pem", "/v1/secret/data/standalone.pem":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"data": map[string]interface{}{"certificate": certPEM},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	return httptest.NewServer(mux)
}

func TestListWalksNestedMountRecursively(t *testing.T) {
	srv := newTestServer(t, makeCertPEM(t))
	defer srv.Close()

	a, err := New(Config{Name: "vault", Address: srv.URL, Token: "root"})
	require.NoError(t, err)

	paths, err := a.List(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"standalone.pem", "app/leaf.pem"}, paths)
}

func TestGetParsesCertificateField(t *testing.T) {
	srv := newTestServer(t, makeCertPEM(t))
	defer srv.Close()

	a, err := New(Config{Name: "vault", Address: srv.URL, Token: "root"})
	require.NoError(t, err)

	rec, err := a.Get(context.Background(), "standalone.pem")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "CN=vault.example.com", rec.Subject)
}

func TestGetMissingPathReturnsNil(t *testing.T) {
	srv := newTestServer(t, makeCertPEM(t))
	defer srv.Close()

	a, err := New(Config{Name: "vault", Address: srv.URL, Token: "root"})
	require.NoError(t, err)

	rec, err := a.Get(context.Background(), "does/not/exist")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestNewRequiresTokenAndAddress(t *testing.T) {
	_, err := New(Config{Name: "vault", Address: "http://127.0.0.1:1"})
	require.Error(t, err)

	_, err = New(Config{Name: "vault", Token: "root"})
	require.Error(t, err)
}
