// Package tlsprobe implements accessor.Accessor by completing a live
// TLS handshake against configured host:port targets and capturing
// the peer's leaf certificate. It carries no credentials.
package tlsprobe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/doomsday-project/doomsday/internal/certparse"
	"github.com/doomsday-project/doomsday/internal/doomsdayerr"
	"github.com/doomsday-project/doomsday/internal/doomsdaytypes"
)

// Target is one TLS endpoint to probe.
type Target struct {
	Host       string
	Port       int
	ServerName string // defaults to Host when empty
}

// Config is the subset of backend properties a TLS-probe accessor
// needs.
type Config struct {
	Name    string
	Targets []Target
}

// Accessor probes a fixed list of targets; List and Get never touch
// the network except to dial.
type Accessor struct {
	name    string
	targets map[string]Target
	order   []string
}

// New builds a TLS-probe accessor from cfg.
func New(cfg Config) (*Accessor, error) {
	if len(cfg.Targets) == 0 {
		return nil, doomsdayerr.New(doomsdayerr.Config, "tlsprobe accessor: at least one target is required")
	}

	targets := make(map[string]Target, len(cfg.Targets))
	order := make([]string, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		if t.Host == "" {
			return nil, doomsdayerr.New(doomsdayerr.Config, "tlsprobe accessor: target host is required")
		}
		port := t.Port
		if port == 0 {
			port = 443
		}
		path := fmt.Sprintf("%s:%d", t.Host, port)
		t.Port = port
		targets[path] = t
		order = append(order, path)
	}

	return &Accessor{name: cfg.Name, targets: targets, order: order}, nil
}

func (a *Accessor) Name() string { return a.name }

// List returns every configured "host:port" path, in configuration
// order.
func (a *Accessor) List(ctx context.Context) ([]string, error) {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out, nil
}

// Get opens a TLS connection with the system trust store, completes
// the handshake, and returns the peer's leaf certificate.
func (a *Accessor) Get(ctx context.Context, path string) (*doomsdaytypes.CertificateRecord, error) {
	target, ok := a.targets[path]
	if !ok {
		return nil, nil
	}

	serverName := target.ServerName
	if serverName == "" {
		serverName = target.Host
	}

	dialer := &net.Dialer{}
	conn, err := tls.DialWithDialer(dialer, "tcp", path, &tls.Config{ServerName: serverName})
	if err != nil {
		return nil, doomsdayerr.Wrap(doomsdayerr.Transport, fmt.Errorf("tlsprobe dial %s: %w", path, err))
	}
	defer conn.Close()

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, doomsdayerr.New(doomsdayerr.X509, fmt.Sprintf("tlsprobe %s: no peer certificates", path))
	}

	rec, err := certparse.ParseDER(state.PeerCertificates[0].Raw)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
