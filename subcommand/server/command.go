package server

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mitchellh/cli"
	"golang.org/x/sync/errgroup"

	"github.com/hashicorp/go-hclog"

	"github.com/doomsday-project/doomsday/internal/certcache"
	"github.com/doomsday-project/doomsday/internal/doomsdayauth"
	"github.com/doomsday-project/doomsday/internal/doomsdayconfig"
	"github.com/doomsday-project/doomsday/internal/doomsdaycore"
	"github.com/doomsday-project/doomsday/internal/doomsdaynotify"
	"github.com/doomsday-project/doomsday/internal/doomsdayserver"
	"github.com/doomsday-project/doomsday/internal/doomsdaytypes"
	"github.com/doomsday-project/doomsday/internal/metrics"
	"github.com/doomsday-project/doomsday/internal/scheduler"
	"github.com/doomsday-project/doomsday/version"
)

const defaultNotifyInterval = 15 * time.Minute

type Command struct {
	UI     cli.Ui
	logger hclog.Logger

	flagConfigFile  string
	flagListenAddr  string
	flagMetricsPort int
	flagMaxWorkers  int
	flagLogJSON     bool
	flagLogLevel    string

	flagSet *flag.FlagSet
	once    sync.Once
}

func (c *Command) init() {
	c.flagSet = flag.NewFlagSet("", flag.ContinueOnError)
	c.flagSet.StringVar(&c.flagConfigFile, "config-file", "", "Path to the doomsday YAML configuration file.")
	c.flagSet.StringVar(&c.flagListenAddr, "listen", "0.0.0.0:8111", "Address the HTTP API listens on.")
	c.flagSet.IntVar(&c.flagMetricsPort, "metrics-port", 0, "Metrics port, if not set, metrics are not enabled.")
	c.flagSet.IntVar(&c.flagMaxWorkers, "max-workers", 0, "Maximum number of concurrent refresh workers (0 uses the built-in default).")
	c.flagSet.BoolVar(&c.flagLogJSON, "log-json", false, "Emit logs as JSON.")
	c.flagSet.StringVar(&c.flagLogLevel, "log-level", "info", "Log level (trace, debug, info, warn, error).")
}

func (c *Command) Run(args []string) int {
	c.once.Do(c.init)
	if err := c.flagSet.Parse(args); err != nil {
		return 1
	}

	c.logger = hclog.New(&hclog.LoggerOptions{
		Name:       "doomsdayd",
		Level:      hclog.LevelFromString(c.flagLogLevel),
		JSONFormat: c.flagLogJSON,
	})

	cfg := doomsdayconfig.Default()
	if c.flagConfigFile != "" {
		loaded, err := doomsdayconfig.Load(c.flagConfigFile)
		if err != nil {
			c.logger.Error("error loading configuration", "error", err)
			return 1
		}
		cfg = loaded
	}

	ctx := context.Background()
	ctx, cancel := context.WithCancel(ctx)
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(interrupt)
		cancel()
	}()
	go func() {
		select {
		case <-interrupt:
			c.logger.Debug("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	cache := certcache.New()

	// The scheduler's executor closes over core, which is constructed
	// below once the scheduler itself exists; the indirection breaks
	// what would otherwise be a construction cycle.
	var core *doomsdaycore.Core
	sched := scheduler.New(c.logger.Named("scheduler"), c.flagMaxWorkers, func(ctx context.Context, task doomsdaytypes.Task) error {
		return core.Executor()(ctx, task)
	})
	core = doomsdaycore.New(c.logger.Named("core"), cache, sched)

	specs, err := specsFromConfig(cfg)
	if err != nil {
		c.logger.Error("invalid backend configuration", "error", err)
		return 1
	}

	if err := core.UpdateConfig(ctx, specs); err != nil {
		c.logger.Error("error configuring backends", "error", err)
		return 1
	}

	authProvider, err := authFromConfig(cfg)
	if err != nil {
		c.logger.Error("invalid auth configuration", "error", err)
		return 1
	}

	doomsdayserver.Version = version.GetHumanVersion()
	httpServer := doomsdayserver.New(c.logger.Named("server"), core, authProvider, c.flagListenAddr)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		c.logger.Debug("running http server")
		return httpServer.Run(groupCtx)
	})

	if cfg.Notifications != nil {
		notifier, err := notifierFromConfig(cfg)
		if err != nil {
			c.logger.Error("invalid notification configuration", "error", err)
			return 1
		}
		group.Go(func() error {
			return runNotifyLoop(groupCtx, c.logger.Named("notify"), core, notifier)
		})
	}

	if c.flagMetricsPort != 0 {
		group.Go(func() error {
			c.logger.Debug("running metrics server")
			return metrics.RunServer(groupCtx, c.logger.Named("metrics"), fmt.Sprintf("127.0.0.1:%d", c.flagMetricsPort))
		})
	}

	if err := group.Wait(); err != nil {
		c.logger.Error("unexpected error", "error", err)
		return 1
	}

	c.logger.Info("shutting down")
	sched.Shutdown()
	return 0
}

func runNotifyLoop(ctx context.Context, logger hclog.Logger, core *doomsdaycore.Core, notifier *doomsdaynotify.Notifier) error {
	ticker := time.NewTicker(defaultNotifyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			items := core.Cache().List()
			if err := notifier.Check(ctx, items, time.Now()); err != nil {
				logger.Error("notification delivery failed", "error", err)
			}
		}
	}
}

func specsFromConfig(cfg doomsdayconfig.Config) ([]doomsdaycore.BackendSpec, error) {
	specs := make([]doomsdaycore.BackendSpec, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		spec := doomsdaycore.BackendSpec{
			Type:            b.Type,
			Name:            b.Name,
			RefreshInterval: time.Duration(b.RefreshInterval) * time.Minute,
		}

		switch b.Type {
		case "vault":
			spec.VaultAddress, _ = b.Properties["url"].(string)
			spec.VaultToken, _ = b.Properties["token"].(string)
			spec.VaultMountPath, _ = b.Properties["mount_path"].(string)
			spec.VaultSecretPath, _ = b.Properties["path"].(string)
		case "credhub":
			spec.CredHubAddress, _ = b.Properties["url"].(string)
			spec.CredHubClientID, _ = b.Properties["client_id"].(string)
			spec.CredHubClientSecret, _ = b.Properties["client_secret"].(string)
		case "opsmgr":
			spec.OpsManagerAddress, _ = b.Properties["url"].(string)
			spec.OpsManagerUsername, _ = b.Properties["username"].(string)
			spec.OpsManagerPassword, _ = b.Properties["password"].(string)
		case "tlsclient":
			rawTargets, _ := b.Properties["targets"].([]interface{})
			for _, rt := range rawTargets {
				m, ok := rt.(map[string]interface{})
				if !ok {
					continue
				}
				host, _ := m["host"].(string)
				serverName, _ := m["server_name"].(string)
				port := 443
				if p, ok := m["port"].(int); ok {
					port = p
				}
				spec.TLSProbeTargets = append(spec.TLSProbeTargets, doomsdaycore.TLSProbeTarget{
					Host:       host,
					Port:       port,
					ServerName: serverName,
				})
			}
		}

		specs = append(specs, spec)
	}
	return specs, nil
}

func authFromConfig(cfg doomsdayconfig.Config) (doomsdayauth.Provider, error) {
	if cfg.Server.Auth.Type != "userpass" {
		return doomsdayauth.NopProvider{}, nil
	}

	rawUsers, _ := cfg.Server.Auth.Properties["users"].(map[string]interface{})
	users := make(map[string]string, len(rawUsers))
	for username, password := range rawUsers {
		if s, ok := password.(string); ok {
			users[username] = s
		}
	}

	return doomsdayauth.NewUserPassProvider(users, time.Hour, true)
}

func notifierFromConfig(cfg doomsdayconfig.Config) (*doomsdaynotify.Notifier, error) {
	webhookURL, _ := cfg.Notifications.Backend.Properties["webhook_url"].(string)
	return doomsdaynotify.New(doomsdaynotify.Config{
		WebhookURL:  webhookURL,
		DoomsdayURL: cfg.Notifications.DoomsdayURL,
	})
}

func (c *Command) Synopsis() string {
	return "Starts the doomsday server"
}

func (c *Command) Help() string {
	return ""
}
