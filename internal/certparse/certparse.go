// Package certparse turns PEM or DER certificate bytes into a
// doomsdaytypes.CertificateRecord. Every accessor implementation
// funnels its raw fetch result through ParsePEM or ParseDER before the
// Core ever sees it.
package certparse

import (
	"crypto/sha1" //nolint:gosec // fingerprint identity, not a security boundary
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	"github.com/doomsday-project/doomsday/internal/doomsdayerr"
	"github.com/doomsday-project/doomsday/internal/doomsdaytypes"
)

// ParsePEM decodes the first CERTIFICATE block in pemText and builds a
// CertificateRecord from it.
func ParsePEM(pemText string) (doomsdaytypes.CertificateRecord, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return doomsdaytypes.CertificateRecord{}, doomsdayerr.New(doomsdayerr.X509, "no PEM block found")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return doomsdaytypes.CertificateRecord{}, doomsdayerr.Wrap(doomsdayerr.X509, fmt.Errorf("parse certificate: %w", err))
	}

	return fromX509(cert, pemText)
}

// ParseDER builds a CertificateRecord from raw DER bytes, synthesizing
// the PEM encoding since the source (e.g. a live TLS handshake) never
// had one.
func ParseDER(der []byte) (doomsdaytypes.CertificateRecord, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return doomsdaytypes.CertificateRecord{}, doomsdayerr.Wrap(doomsdayerr.X509, fmt.Errorf("parse certificate: %w", err))
	}

	synthesized := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	return fromX509(cert, synthesized)
}

func fromX509(cert *x509.Certificate, pemText string) (doomsdaytypes.CertificateRecord, error) {
	sha1Sum := sha1.Sum(cert.Raw) //nolint:gosec
	sha256Sum := sha256.Sum256(cert.Raw)

	return doomsdaytypes.CertificateRecord{
		Subject:           cert.Subject.String(),
		Issuer:            cert.Issuer.String(),
		NotBefore:         cert.NotBefore.UTC(),
		NotAfter:          cert.NotAfter.UTC(),
		Serial:            cert.SerialNumber.Text(16),
		SANs:              dedupDNSNames(cert.DNSNames),
		IsCA:              cert.IsCA,
		FingerprintSHA1:   hex.EncodeToString(sha1Sum[:]),
		FingerprintSHA256: hex.EncodeToString(sha256Sum[:]),
		PEM:               pemText,
	}, nil
}

// dedupDNSNames preserves input order while dropping repeats.
func dedupDNSNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
