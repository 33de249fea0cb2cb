// Package credhub implements accessor.Accessor against a CredHub
// server, authenticating with an OAuth2 client-credentials grant.
package credhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/doomsday-project/doomsday/internal/certparse"
	"github.com/doomsday-project/doomsday/internal/doomsdayerr"
	"github.com/doomsday-project/doomsday/internal/doomsdaytypes"
)

// Config is the subset of backend properties a CredHub accessor needs.
type Config struct {
	Name         string
	Address      string
	ClientID     string
	ClientSecret string
}

// Accessor lists and fetches certificate-typed credentials from
// CredHub's v1 API.
type Accessor struct {
	name       string
	address    string
	httpClient *http.Client
}

// New builds a CredHub accessor from cfg. The returned httpClient
// wraps an oauth2.clientcredentials TokenSource, which caches and
// refreshes the bearer token itself; no additional single-flight
// wrapper is needed on top of it.
func New(cfg Config) (*Accessor, error) {
	if cfg.Address == "" {
		return nil, doomsdayerr.New(doomsdayerr.Config, "credhub accessor: address is required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, doomsdayerr.New(doomsdayerr.Config, "credhub accessor: client_id and client_secret are required")
	}

	oauthConf := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     strings.TrimSuffix(cfg.Address, "/") + "/oauth/token",
	}

	return &Accessor{
		name:       cfg.Name,
		address:    strings.TrimSuffix(cfg.Address, "/"),
		httpClient: oauthConf.Client(context.Background()),
	}, nil
}

func (a *Accessor) Name() string { return a.name }

type credentialsResponse struct {
	Credentials []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"credentials"`
}

type credentialValueResponse struct {
	Type  string `json:"type"`
	Value struct {
		Certificate string `json:"certificate"`
	} `json:"value"`
}

// List enumerates /api/v1/credentials and keeps only certificate-typed
// entries.
func (a *Accessor) List(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.address+"/api/v1/credentials", nil)
	if err != nil {
		return nil, doomsdayerr.Wrap(doomsdayerr.Internal, err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, classifyOAuthErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, doomsdayerr.New(doomsdayerr.Backend, fmt.Sprintf("credhub list failed: status %d", resp.StatusCode))
	}

	var body credentialsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, doomsdayerr.Wrap(doomsdayerr.Serialization, err)
	}

	var paths []string
	for _, c := range body.Credentials {
		if c.Type == "certificate" {
			paths = append(paths, c.Name)
		}
	}
	return paths, nil
}

// Get requests the named credential and parses its "certificate"
// value field.
func (a *Accessor) Get(ctx context.Context, path string) (*doomsdaytypes.CertificateRecord, error) {
	u := a.address + "/api/v1/credentials?name=" + url.QueryEscape(path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, doomsdayerr.Wrap(doomsdayerr.Internal, err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, classifyOAuthErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, doomsdayerr.New(doomsdayerr.Backend, fmt.Sprintf("credhub get failed: status %d", resp.StatusCode))
	}

	var body credentialValueResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, doomsdayerr.Wrap(doomsdayerr.Serialization, err)
	}

	if body.Type != "certificate" || body.Value.Certificate == "" {
		return nil, nil
	}

	rec, err := certparse.ParsePEM(body.Value.Certificate)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func classifyOAuthErr(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if ok := asRetrieveError(err, &retrieveErr); ok {
		return doomsdayerr.Wrap(doomsdayerr.Auth, err)
	}
	return doomsdayerr.Wrap(doomsdayerr.Transport, err)
}

func asRetrieveError(err error, target **oauth2.RetrieveError) bool {
	for err != nil {
		if re, ok := err.(*oauth2.RetrieveError); ok {
			*target = re
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
