// Package opsmgr implements accessor.Accessor against a Pivotal/VMware
// Ops Manager, authenticating with an OAuth2 password grant against
// its UAA and accepting self-signed TLS, as Ops Manager deployments
// commonly present.
package opsmgr

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/doomsday-project/doomsday/internal/accessor"
	"github.com/doomsday-project/doomsday/internal/certparse"
	"github.com/doomsday-project/doomsday/internal/doomsdayerr"
	"github.com/doomsday-project/doomsday/internal/doomsdaytypes"
)

const defaultTokenTTL = 5 * time.Minute

// Config is the subset of backend properties an Ops Manager accessor
// needs.
type Config struct {
	Name     string
	Address  string
	Username string
	Password string
}

// Accessor lists deployments' certificate properties and fetches
// individual ones by a "<deploymentName>/<propertyReference>" path.
type Accessor struct {
	name       string
	address    string
	username   string
	password   string
	httpClient *http.Client
	oauthConf  *oauth2.Config
	tokens     *accessor.TokenSource
}

// New builds an Ops Manager accessor from cfg.
func New(cfg Config) (*Accessor, error) {
	if cfg.Address == "" {
		return nil, doomsdayerr.New(doomsdayerr.Config, "opsmgr accessor: address is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, doomsdayerr.New(doomsdayerr.Config, "opsmgr accessor: username and password are required")
	}

	address := strings.TrimSuffix(cfg.Address, "/")
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // Ops Manager commonly presents self-signed TLS
	}

	a := &Accessor{
		name:       cfg.Name,
		address:    address,
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: &http.Client{Transport: transport},
		oauthConf: &oauth2.Config{
			Endpoint: oauth2.Endpoint{TokenURL: address + "/uaa/oauth/token"},
		},
	}
	a.tokens = accessor.NewTokenSource(a.passwordGrant)
	return a, nil
}

func (a *Accessor) Name() string { return a.name }

type deploymentsResponse struct {
	Deployments []deployment `json:"deployments"`
}

type deployment struct {
	Name           string `json:"name"`
	DeploymentGUID string `json:"deployment_guid"`
}

type certificatesResponse struct {
	Certificates []opsmgrCertificate `json:"certificates"`
}

type opsmgrCertificate struct {
	PropertyReference string `json:"property_reference"`
	Certificate       struct {
		CertPEM string `json:"cert_pem"`
	} `json:"certificate"`
}

// passwordGrant performs the password grant against UAA; it is the
// fetch function behind a.tokens, so concurrent List/Get calls share
// one cached token instead of re-authenticating every call.
func (a *Accessor) passwordGrant(ctx context.Context) (string, time.Duration, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)

	tok, err := a.oauthConf.PasswordCredentialsToken(ctx, a.username, a.password)
	if err != nil {
		return "", 0, doomsdayerr.Wrap(doomsdayerr.Auth, fmt.Errorf("opsmgr authenticate: %w", err))
	}

	ttl := defaultTokenTTL
	if !tok.Expiry.IsZero() {
		if remaining := time.Until(tok.Expiry); remaining > 0 {
			ttl = remaining
		}
	}

	return "Bearer " + tok.AccessToken, ttl, nil
}

func (a *Accessor) authenticate(ctx context.Context) (string, error) {
	return a.tokens.Token(ctx)
}

func (a *Accessor) getDeployments(ctx context.Context, authHeader string) ([]deployment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.address+"/api/v0/deployments", nil)
	if err != nil {
		return nil, doomsdayerr.Wrap(doomsdayerr.Internal, err)
	}
	req.Header.Set("Authorization", authHeader)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, doomsdayerr.Wrap(doomsdayerr.Transport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		a.tokens.Invalidate()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, doomsdayerr.New(doomsdayerr.Backend, fmt.Sprintf("opsmgr list deployments failed: status %d", resp.StatusCode))
	}

	var body deploymentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, doomsdayerr.Wrap(doomsdayerr.Serialization, err)
	}
	return body.Deployments, nil
}

func (a *Accessor) getDeploymentCertificates(ctx context.Context, authHeader, guid string) ([]opsmgrCertificate, error) {
	endpoint := fmt.Sprintf("%s/api/v0/deployments/%s/certificates", a.address, guid)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, doomsdayerr.Wrap(doomsdayerr.Internal, err)
	}
	req.Header.Set("Authorization", authHeader)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, doomsdayerr.Wrap(doomsdayerr.Transport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	var body certificatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, doomsdayerr.Wrap(doomsdayerr.Serialization, err)
	}
	return body.Certificates, nil
}

// List enumerates deployments then each deployment's certificates,
// emitting paths shaped "<deploymentName>/<propertyReference>".
func (a *Accessor) List(ctx context.Context) ([]string, error) {
	authHeader, err := a.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	deployments, err := a.getDeployments(ctx, authHeader)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, d := range deployments {
		certs, err := a.getDeploymentCertificates(ctx, authHeader, d.DeploymentGUID)
		if err != nil {
			return nil, err
		}
		for _, c := range certs {
			paths = append(paths, d.Name+"/"+c.PropertyReference)
		}
	}
	return paths, nil
}

// Get parses the two-segment path, locates the matching deployment
// and property, and returns its cert_pem.
func (a *Accessor) Get(ctx context.Context, path string) (*doomsdaytypes.CertificateRecord, error) {
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 {
		return nil, nil
	}
	deploymentName, propertyReference := parts[0], parts[1]

	authHeader, err := a.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	deployments, err := a.getDeployments(ctx, authHeader)
	if err != nil {
		return nil, err
	}

	var guid string
	found := false
	for _, d := range deployments {
		if d.Name == deploymentName {
			guid = d.DeploymentGUID
			found = true
			break
		}
	}
	if !found {
		return nil, nil
	}

	certs, err := a.getDeploymentCertificates(ctx, authHeader, guid)
	if err != nil {
		return nil, err
	}

	for _, c := range certs {
		if c.PropertyReference == propertyReference {
			if c.Certificate.CertPEM == "" {
				return nil, nil
			}
			rec, err := certparse.ParsePEM(c.Certificate.CertPEM)
			if err != nil {
				return nil, err
			}
			return &rec, nil
		}
	}
	return nil, nil
}
