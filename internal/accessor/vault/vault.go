// Package vault implements accessor.Accessor against a Vault KV-v2
// secrets engine.
package vault

import (
	"context"
	"fmt"
	"strings"

	hashivault "github.com/hashicorp/vault/api"

	"github.com/doomsday-project/doomsday/internal/certparse"
	"github.com/doomsday-project/doomsday/internal/doomsdayerr"
	"github.com/doomsday-project/doomsday/internal/doomsdaytypes"
)

// Config is the subset of backend properties a Vault accessor needs.
type Config struct {
	Name       string
	Address    string
	Token      string
	MountPath  string // defaults to "secret"
	SecretPath string // defaults to "/"
}

// Accessor walks a Vault KV-v2 mount and fetches PEM certificates from
// it. Authentication is a static token, so there is no token refresh
// to serialize.
type Accessor struct {
	name       string
	client     *hashivault.Client
	mountPath  string
	secretPath string
}

// New builds a Vault accessor from cfg.
func New(cfg Config) (*Accessor, error) {
	if cfg.Address == "" {
		return nil, doomsdayerr.New(doomsdayerr.Config, "vault accessor: address is required")
	}
	if cfg.Token == "" {
		return nil, doomsdayerr.New(doomsdayerr.Config, "vault accessor: token is required")
	}

	mount := cfg.MountPath
	if mount == "" {
		mount = "secret"
	}
	secretPath := cfg.SecretPath
	if secretPath == "" {
		secretPath = "/"
	}

	client, err := hashivault.NewClient(hashivault.DefaultConfig())
	if err != nil {
		return nil, doomsdayerr.Wrap(doomsdayerr.Config, err)
	}
	if err := client.SetAddress(cfg.Address); err != nil {
		return nil, doomsdayerr.Wrap(doomsdayerr.Config, err)
	}
	client.SetToken(cfg.Token)

	return &Accessor{
		name:       cfg.Name,
		client:     client,
		mountPath:  strings.Trim(mount, "/"),
		secretPath: strings.Trim(secretPath, "/"),
	}, nil
}

func (a *Accessor) Name() string { return a.name }

// List walks the KV-v2 metadata tree under mountPath/metadata/secretPath
// recursively, treating keys ending in "/" as subdirectories.
func (a *Accessor) List(ctx context.Context) ([]string, error) {
	var all []string
	pending := []string{a.secretPath}

	for len(pending) > 0 {
		current := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		listPath := fmt.Sprintf("%s/metadata/%s", a.mountPath, current)
		secret, err := a.client.Logical().ListWithContext(ctx, listPath)
		if err != nil {
			return nil, doomsdayerr.Wrap(doomsdayerr.Transport, fmt.Errorf("vault list %s: %w", listPath, err))
		}
		if secret == nil || secret.Data == nil {
			continue
		}

		rawKeys, ok := secret.Data["keys"].([]interface{})
		if !ok {
			continue
		}

		for _, rk := range rawKeys {
			key, ok := rk.(string)
			if !ok {
				continue
			}

			full := key
			if current != "" && current != "/" {
				full = strings.TrimSuffix(current, "/") + "/" + key
			}

			if strings.HasSuffix(key, "/") {
				pending = append(pending, strings.TrimSuffix(full, "/"))
				continue
			}
			all = append(all, full)
		}
	}

	return all, nil
}

// Get fetches mountPath/data/path and looks for the first populated
// field among "certificate", "cert", "crt". Absent fields or a 404
// yield (nil, nil); transport or 5xx errors propagate.
func (a *Accessor) Get(ctx context.Context, path string) (*doomsdaytypes.CertificateRecord, error) {
	dataPath := fmt.Sprintf("%s/data/%s", a.mountPath, strings.TrimPrefix(path, "/"))

	secret, err := a.client.Logical().ReadWithContext(ctx, dataPath)
	if err != nil {
		return nil, doomsdayerr.Wrap(doomsdayerr.Transport, fmt.Errorf("vault read %s: %w", dataPath, err))
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	inner, _ := secret.Data["data"].(map[string]interface{})
	if inner == nil {
		inner = secret.Data
	}

	pemText := firstString(inner, "certificate", "cert", "crt")
	if pemText == "" {
		return nil, nil
	}

	rec, err := certparse.ParsePEM(pemText)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func firstString(data map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := data[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
