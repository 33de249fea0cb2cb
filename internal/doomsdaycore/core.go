// Package doomsdaycore hosts the Core engine: the one long-lived
// object per process that owns the accessor map, the certificate
// cache, and the task scheduler, and orchestrates populate/refresh
// passes across them.
package doomsdaycore

import (
	"context"
	"fmt"
	"sync"
	"time"

	gometrics "github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/doomsday-project/doomsday/internal/accessor"
	"github.com/doomsday-project/doomsday/internal/accessor/credhub"
	"github.com/doomsday-project/doomsday/internal/accessor/opsmgr"
	"github.com/doomsday-project/doomsday/internal/accessor/tlsprobe"
	"github.com/doomsday-project/doomsday/internal/accessor/vault"
	"github.com/doomsday-project/doomsday/internal/certcache"
	"github.com/doomsday-project/doomsday/internal/doomsdayerr"
	"github.com/doomsday-project/doomsday/internal/doomsdaytypes"
	gwmetrics "github.com/doomsday-project/doomsday/internal/metrics"
	"github.com/doomsday-project/doomsday/internal/scheduler"
)

const (
	populateChunkSize = 100
	refreshChunkSize  = 50
)

// TLSProbeTarget mirrors accessor/tlsprobe.Target without importing it
// into configuration packages that should not know accessor shapes.
type TLSProbeTarget struct {
	Host       string
	Port       int
	ServerName string
}

// BackendSpec is the Core's internal description of one configured
// backend, already validated and type-narrowed from raw config.
type BackendSpec struct {
	Type            string
	Name            string
	RefreshInterval time.Duration

	VaultAddress    string
	VaultToken      string
	VaultMountPath  string
	VaultSecretPath string

	CredHubAddress      string
	CredHubClientID     string
	CredHubClientSecret string

	OpsManagerAddress  string
	OpsManagerUsername string
	OpsManagerPassword string

	TLSProbeTargets []TLSProbeTarget
}

// Core is the process's single orchestrator.
type Core struct {
	logger    hclog.Logger
	cache     *certcache.Cache
	scheduler *scheduler.Scheduler

	mu        sync.RWMutex
	accessors map[string]accessor.Accessor
	specs     map[string]BackendSpec

	timerMu     sync.Mutex
	timerCancel context.CancelFunc
}

// New builds an empty Core. Call UpdateConfig to populate its
// accessor map before calling PopulateCache.
func New(logger hclog.Logger, cache *certcache.Cache, sched *scheduler.Scheduler) *Core {
	return &Core{
		logger:    logger.Named("core"),
		cache:     cache,
		scheduler: sched,
		accessors: make(map[string]accessor.Accessor),
		specs:     make(map[string]BackendSpec),
	}
}

// Cache exposes the underlying cache to read-only callers (HTTP
// handlers).
func (c *Core) Cache() *certcache.Cache { return c.cache }

// Scheduler exposes the underlying scheduler to read-only callers.
func (c *Core) Scheduler() *scheduler.Scheduler { return c.scheduler }

func buildAccessor(spec BackendSpec) (accessor.Accessor, error) {
	switch spec.Type {
	case "vault":
		return vault.New(vault.Config{
			Name:       spec.Name,
			Address:    spec.VaultAddress,
			Token:      spec.VaultToken,
			MountPath:  spec.VaultMountPath,
			SecretPath: spec.VaultSecretPath,
		})
	case "credhub":
		return credhub.New(credhub.Config{
			Name:         spec.Name,
			Address:      spec.CredHubAddress,
			ClientID:     spec.CredHubClientID,
			ClientSecret: spec.CredHubClientSecret,
		})
	case "opsmgr":
		return opsmgr.New(opsmgr.Config{
			Name:     spec.Name,
			Address:  spec.OpsManagerAddress,
			Username: spec.OpsManagerUsername,
			Password: spec.OpsManagerPassword,
		})
	case "tlsclient":
		targets := make([]tlsprobe.Target, 0, len(spec.TLSProbeTargets))
		for _, t := range spec.TLSProbeTargets {
			targets = append(targets, tlsprobe.Target{Host: t.Host, Port: t.Port, ServerName: t.ServerName})
		}
		return tlsprobe.New(tlsprobe.Config{Name: spec.Name, Targets: targets})
	default:
		return nil, doomsdayerr.New(doomsdayerr.Config, fmt.Sprintf("unknown backend type %q", spec.Type))
	}
}

// UpdateConfig validates specs, builds a full replacement accessor
// map, swaps it in under the write lock, and re-schedules refresh
// tasks and periodic timers.
//
// Old periodic timers are cancelled before the new set starts: unlike
// the coarser behavior this system was distilled from, this
// implementation ties each timer generation to a cancellable context
// stored alongside the accessor map so a reconfigure does not leak the
// previous generation's goroutines.
func (c *Core) UpdateConfig(ctx context.Context, specs []BackendSpec) error {
	if len(specs) == 0 {
		return doomsdayerr.New(doomsdayerr.Config, "at least one backend is required")
	}

	seen := make(map[string]struct{}, len(specs))
	newAccessors := make(map[string]accessor.Accessor, len(specs))
	newSpecs := make(map[string]BackendSpec, len(specs))

	for _, spec := range specs {
		if spec.Name == "" {
			return doomsdayerr.New(doomsdayerr.Config, "backend name is required")
		}
		if _, dup := seen[spec.Name]; dup {
			return doomsdayerr.New(doomsdayerr.Config, fmt.Sprintf("duplicate backend name %q", spec.Name))
		}
		seen[spec.Name] = struct{}{}

		acc, err := buildAccessor(spec)
		if err != nil {
			return err
		}
		newAccessors[spec.Name] = acc
		newSpecs[spec.Name] = spec
	}

	c.mu.Lock()
	c.accessors = newAccessors
	c.specs = newSpecs
	c.mu.Unlock()

	if _, err := c.ScheduleRefreshTasks(ctx); err != nil {
		return err
	}
	c.SchedulePeriodicTasks(ctx)

	return nil
}

func (c *Core) snapshotAccessors() map[string]accessor.Accessor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := make(map[string]accessor.Accessor, len(c.accessors))
	for name, acc := range c.accessors {
		snapshot[name] = acc
	}
	return snapshot
}

type pathTuple struct {
	backend string
	path    string
}

// PopulateCache runs the global refresh: enumerate every configured
// accessor in parallel, fetch certificates in bounded chunks, dedup by
// fingerprint, and additively merge the result into the cache.
func (c *Core) PopulateCache(ctx context.Context) (doomsdaytypes.PopulateStats, error) {
	start := time.Now()
	accessors := c.snapshotAccessors()

	var mu sync.Mutex
	var tuples []pathTuple

	var listGroup multierror.Group
	for name, acc := range accessors {
		name, acc := name, acc
		listGroup.Go(func() error {
			paths, err := acc.List(ctx)
			if err != nil {
				c.logger.Error("list failed, skipping accessor", "backend", name, "error", err)
				return nil
			}
			mu.Lock()
			for _, p := range paths {
				tuples = append(tuples, pathTuple{backend: name, path: p})
			}
			mu.Unlock()
			return nil
		})
	}
	_ = listGroup.Wait()

	working := make(map[string]doomsdaytypes.CacheEntry)
	var workingMu sync.Mutex

	for offset := 0; offset < len(tuples); offset += populateChunkSize {
		end := offset + populateChunkSize
		if end > len(tuples) {
			end = len(tuples)
		}
		chunk := tuples[offset:end]

		var chunkGroup multierror.Group
		for _, t := range chunk {
			t := t
			acc := accessors[t.backend]
			chunkGroup.Go(func() error {
				rec, err := acc.Get(ctx, t.path)
				gwmetrics.Registry.IncrCounterWithLabels(gwmetrics.AccessorFetches, 1, []gometrics.Label{{Name: "backend", Value: t.backend}})
				if err != nil {
					gwmetrics.Registry.IncrCounterWithLabels(gwmetrics.AccessorFetchErrors, 1, []gometrics.Label{{Name: "backend", Value: t.backend}})
					c.logger.Error("get failed", "backend", t.backend, "path", t.path, "error", err)
					return nil
				}
				if rec == nil {
					return nil
				}

				workingMu.Lock()
				mergePathRef(working, *rec, doomsdaytypes.PathRef{Backend: t.backend, Path: t.path})
				workingMu.Unlock()
				return nil
			})
		}
		_ = chunkGroup.Wait()
	}

	diff := doomsdaytypes.CacheDiff{Added: working}
	if !diff.IsEmpty() {
		c.cache.ApplyDiff(diff)
		c.reportCacheMetrics()
	}

	return doomsdaytypes.PopulateStats{
		NumCerts:   len(working),
		NumPaths:   len(tuples),
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

func mergePathRef(working map[string]doomsdaytypes.CacheEntry, rec doomsdaytypes.CertificateRecord, ref doomsdaytypes.PathRef) {
	existing, ok := working[rec.FingerprintSHA1]
	if !ok {
		working[rec.FingerprintSHA1] = doomsdaytypes.CacheEntry{
			Subject:         rec.Subject,
			NotAfter:        rec.NotAfter,
			FingerprintSHA1: rec.FingerprintSHA1,
			Paths:           []doomsdaytypes.PathRef{ref},
		}
		return
	}

	for _, p := range existing.Paths {
		if p == ref {
			return
		}
	}
	existing.Paths = append(existing.Paths, ref)
	working[rec.FingerprintSHA1] = existing
}

// RefreshBackend runs a scoped refresh against one backend. Unlike
// PopulateCache, it removes cache entries that this backend no longer
// serves.
func (c *Core) RefreshBackend(ctx context.Context, name string) (doomsdaytypes.PopulateStats, error) {
	start := time.Now()

	c.mu.RLock()
	acc, ok := c.accessors[name]
	c.mu.RUnlock()
	if !ok {
		return doomsdaytypes.PopulateStats{}, doomsdayerr.New(doomsdayerr.NotFound, fmt.Sprintf("backend %q is not configured", name))
	}

	paths, err := acc.List(ctx)
	if err != nil {
		return doomsdaytypes.PopulateStats{}, doomsdayerr.Wrap(doomsdayerr.Backend, err)
	}

	working := make(map[string]doomsdaytypes.CacheEntry)
	var workingMu sync.Mutex

	for offset := 0; offset < len(paths); offset += refreshChunkSize {
		end := offset + refreshChunkSize
		if end > len(paths) {
			end = len(paths)
		}
		chunk := paths[offset:end]

		var chunkGroup multierror.Group
		for _, p := range chunk {
			p := p
			chunkGroup.Go(func() error {
				rec, err := acc.Get(ctx, p)
				gwmetrics.Registry.IncrCounterWithLabels(gwmetrics.AccessorFetches, 1, []gometrics.Label{{Name: "backend", Value: name}})
				if err != nil {
					gwmetrics.Registry.IncrCounterWithLabels(gwmetrics.AccessorFetchErrors, 1, []gometrics.Label{{Name: "backend", Value: name}})
					c.logger.Error("get failed", "backend", name, "path", p, "error", err)
					return nil
				}
				if rec == nil {
					return nil
				}

				workingMu.Lock()
				mergePathRef(working, *rec, doomsdaytypes.PathRef{Backend: name, Path: p})
				workingMu.Unlock()
				return nil
			})
		}
		_ = chunkGroup.Wait()
	}

	// Coarse stale-removal: an entry is dropped entirely once its
	// fingerprint no longer appears in this backend's listing, even if
	// another backend still serves the same certificate. See DESIGN.md
	// for the path-level alternative.
	var removed []string
	for fp := range c.cache.EntriesForBackend(name) {
		if _, stillPresent := working[fp]; !stillPresent {
			removed = append(removed, fp)
		}
	}

	diff := doomsdaytypes.CacheDiff{Added: working, Removed: removed}
	if !diff.IsEmpty() {
		c.cache.ApplyDiff(diff)
		c.reportCacheMetrics()
	}

	return doomsdaytypes.PopulateStats{
		NumCerts:   len(working),
		NumPaths:   len(paths),
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

// reportCacheMetrics publishes cache and scheduler gauges after an
// ApplyDiff so the /metrics endpoint reflects the latest pass.
func (c *Core) reportCacheMetrics() {
	stats := c.cache.Stats(time.Now())
	gwmetrics.Registry.SetGauge(gwmetrics.CacheSize, float32(stats.Total))
	gwmetrics.Registry.SetGauge(gwmetrics.CacheExpiringSoon, float32(stats.ExpiringSoon))
	gwmetrics.Registry.SetGauge(gwmetrics.CacheExpired, float32(stats.Expired))

	info := c.scheduler.Info()
	gwmetrics.Registry.SetGauge(gwmetrics.SchedulerPending, float32(info.Pending))
	gwmetrics.Registry.SetGauge(gwmetrics.SchedulerRunning, float32(info.Running))
}

// ScheduleRefreshTasks enqueues one RefreshBackend task per configured
// backend.
func (c *Core) ScheduleRefreshTasks(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	names := make([]string, 0, len(c.accessors))
	for name := range c.accessors {
		names = append(names, name)
	}
	c.mu.RUnlock()

	ids := make([]string, 0, len(names))
	for _, name := range names {
		id, err := c.scheduler.Schedule(ctx, doomsdaytypes.Task{Kind: doomsdaytypes.TaskRefreshBackend, Backend: name})
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SchedulePeriodicTasks starts one durable timer per backend carrying
// a nonzero RefreshInterval, each enqueuing a RefreshBackend task on
// every tick. The previous generation of timers, if any, is cancelled
// first.
func (c *Core) SchedulePeriodicTasks(ctx context.Context) {
	c.timerMu.Lock()
	if c.timerCancel != nil {
		c.timerCancel()
	}
	timerCtx, cancel := context.WithCancel(ctx)
	c.timerCancel = cancel
	c.timerMu.Unlock()

	c.mu.RLock()
	specs := make([]BackendSpec, 0, len(c.specs))
	for _, spec := range c.specs {
		specs = append(specs, spec)
	}
	c.mu.RUnlock()

	for _, spec := range specs {
		if spec.RefreshInterval <= 0 {
			continue
		}
		spec := spec
		go c.runPeriodicTimer(timerCtx, spec.Name, spec.RefreshInterval)
	}
}

func (c *Core) runPeriodicTimer(ctx context.Context, backend string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.scheduler.Schedule(ctx, doomsdaytypes.Task{Kind: doomsdaytypes.TaskRefreshBackend, Backend: backend}); err != nil {
				c.logger.Error("failed to schedule periodic refresh", "backend", backend, "error", err)
			}
		}
	}
}

// Executor adapts Core's refresh operations to scheduler.Executor.
func (c *Core) Executor() scheduler.Executor {
	return func(ctx context.Context, task doomsdaytypes.Task) error {
		switch task.Kind {
		case doomsdaytypes.TaskRefreshBackend:
			_, err := c.RefreshBackend(ctx, task.Backend)
			return err
		case doomsdaytypes.TaskRenewAuthToken:
			return nil
		default:
			return doomsdayerr.New(doomsdayerr.Internal, fmt.Sprintf("unknown task kind %q", task.Kind))
		}
	}
}
