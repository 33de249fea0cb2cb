// Package doomsdayconfig loads and validates the YAML configuration
// file that describes backends, the HTTP server, and (optionally) the
// notification pipeline.
package doomsdayconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/doomsday-project/doomsday/internal/doomsdayerr"
)

// Config is the top-level shape of the YAML configuration file.
type Config struct {
	Backends      []Backend      `yaml:"backends"`
	Server        Server         `yaml:"server"`
	Notifications *Notifications `yaml:"notifications,omitempty"`
}

// Backend describes one configured accessor instance.
type Backend struct {
	Type            string                 `yaml:"type"`
	Name            string                 `yaml:"name"`
	RefreshInterval int                    `yaml:"refresh_interval,omitempty"` // minutes
	Properties      map[string]interface{} `yaml:"properties"`
}

// Server describes the HTTP listener.
type Server struct {
	Port int      `yaml:"port"`
	TLS  *TLS     `yaml:"tls,omitempty"`
	Auth AuthSpec `yaml:"auth"`
}

// TLS holds the server's certificate and key paths.
type TLS struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

// AuthSpec describes the configured auth provider.
type AuthSpec struct {
	Type       string                 `yaml:"type"`
	Properties map[string]interface{} `yaml:"properties"`
}

// Notifications describes the optional expiry-notification pipeline.
type Notifications struct {
	DoomsdayURL string         `yaml:"doomsday_url"`
	Backend     NotifyBackend  `yaml:"backend"`
	Schedule    NotifySchedule `yaml:"schedule"`
}

// NotifyBackend describes where notifications are delivered.
type NotifyBackend struct {
	Type       string                 `yaml:"type"`
	Properties map[string]interface{} `yaml:"properties"`
}

// NotifySchedule describes when notifications run.
type NotifySchedule struct {
	Type       string                 `yaml:"type"`
	Properties map[string]interface{} `yaml:"properties"`
}

var validBackendTypes = map[string]bool{
	"vault": true, "credhub": true, "opsmgr": true, "tlsclient": true,
}

var validAuthTypes = map[string]bool{
	"none": true, "userpass": true,
}

// Default returns the zero-backend configuration the daemon starts
// with before a config file is loaded.
func Default() Config {
	return Config{
		Server: Server{
			Port: 8111,
			Auth: AuthSpec{Type: "none"},
		},
	}
}

// Load reads and parses a YAML config file, then validates it.
func Load(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, doomsdayerr.Wrap(doomsdayerr.IO, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, doomsdayerr.Wrap(doomsdayerr.Serialization, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the structural invariants the external interface
// promises: at least one backend, every backend named, every type and
// auth type recognized.
func (c Config) Validate() error {
	if len(c.Backends) == 0 {
		return doomsdayerr.New(doomsdayerr.Config, "at least one backend must be configured")
	}

	for _, b := range c.Backends {
		if b.Name == "" {
			return doomsdayerr.New(doomsdayerr.Config, "backend name cannot be empty")
		}
		if !validBackendTypes[b.Type] {
			return doomsdayerr.New(doomsdayerr.Config, fmt.Sprintf("unknown backend type %q", b.Type))
		}
	}

	authType := c.Server.Auth.Type
	if authType == "" {
		authType = "none"
	}
	if !validAuthTypes[authType] {
		return doomsdayerr.New(doomsdayerr.Config, fmt.Sprintf("unknown auth type %q", authType))
	}

	return nil
}
