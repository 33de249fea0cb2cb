package certparse

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func makeCert(t *testing.T, notAfter time.Time) (pemText string, der []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	notBefore := notAfter.Add(-24 * time.Hour)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: "example.com"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		DNSNames:     []string{"example.com", "www.example.com", "example.com"},
		IsCA:         false,
	}

	der, err = x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	block := &pem.Block{Type: "CERTIFICATE", Bytes: der}
	return string(pem.EncodeToMemory(block)), der
}

func TestParsePEMFields(t *testing.T) {
	notAfter := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	pemText, der := makeCert(t, notAfter)

	rec, err := ParsePEM(pemText)
	require.NoError(t, err)

	require.Equal(t, "CN=example.com", rec.Subject)
	require.True(t, rec.NotAfter.Equal(notAfter))
	require.Equal(t, []string{"example.com", "www.example.com"}, rec.SANs)
	require.False(t, rec.IsCA)

	sum := sha1.Sum(der) //nolint:gosec
	require.Equal(t, hex.EncodeToString(sum[:]), rec.FingerprintSHA1)
}

func TestParseDERMatchesPEM(t *testing.T) {
	notAfter := time.Date(2031, 6, 15, 12, 0, 0, 0, time.UTC)
	pemText, der := makeCert(t, notAfter)

	fromPEM, err := ParsePEM(pemText)
	require.NoError(t, err)

	fromDER, err := ParseDER(der)
	require.NoError(t, err)

	require.Equal(t, fromPEM.FingerprintSHA1, fromDER.FingerprintSHA1)
	require.Equal(t, fromPEM.FingerprintSHA256, fromDER.FingerprintSHA256)
	require.Equal(t, fromPEM.Subject, fromDER.Subject)
}

func TestParsePEMNoBlockIsError(t *testing.T) {
	_, err := ParsePEM("not a pem")
	require.Error(t, err)
}

func TestParsePEMGarbageBlockIsError(t *testing.T) {
	block := &pem.Block{Type: "CERTIFICATE", Bytes: []byte("not der")}
	_, err := ParsePEM(string(pem.EncodeToMemory(block)))
	require.Error(t, err)
}
