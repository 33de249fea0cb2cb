package doomsdaycore

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/doomsday-project/doomsday/internal/accessor"
	"github.com/doomsday-project/doomsday/internal/certcache"
	"github.com/doomsday-project/doomsday/internal/doomsdayerr"
	"github.com/doomsday-project/doomsday/internal/doomsdaytypes"
	"github.com/doomsday-project/doomsday/internal/scheduler"
)

// fakeAccessor is an in-memory accessor.Accessor used to exercise the
// Core without any network-facing backend.
type fakeAccessor struct {
	name  string
	paths map[string]doomsdaytypes.CertificateRecord
}

func (f *fakeAccessor) Name() string { return f.name }

func (f *fakeAccessor) List(ctx context.Context) ([]string, error) {
	paths := make([]string, 0, len(f.paths))
	for p := range f.paths {
		paths = append(paths, p)
	}
	return paths, nil
}

func (f *fakeAccessor) Get(ctx context.Context, path string) (*doomsdaytypes.CertificateRecord, error) {
	rec, ok := f.paths[path]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func newTestCore(t *testing.T) *Core {
	t.Helper()
	cache := certcache.New()
	sched := scheduler.New(hclog.NewNullLogger(), 2, func(ctx context.Context, task doomsdaytypes.Task) error { return nil })
	return New(hclog.NewNullLogger(), cache, sched)
}

func (c *Core) setAccessorForTest(acc accessor.Accessor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessors[acc.Name()] = acc
}

func TestPopulateCacheDedupesAcrossPaths(t *testing.T) {
	core := newTestCore(t)

	rec := doomsdaytypes.CertificateRecord{
		Subject:         "CN=dup",
		NotAfter:        time.Now().Add(24 * time.Hour),
		FingerprintSHA1: "F1",
	}
	core.setAccessorForTest(&fakeAccessor{
		name: "acc",
		paths: map[string]doomsdaytypes.CertificateRecord{
			"/a": rec,
			"/b": rec,
		},
	})

	stats, err := core.PopulateCache(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.NumCerts)
	require.Equal(t, 2, stats.NumPaths)

	entry, ok := core.Cache().Get("F1")
	require.True(t, ok)
	require.Len(t, entry.Paths, 2)
}

func TestRefreshBackendRemovesStaleEntries(t *testing.T) {
	core := newTestCore(t)

	c1 := doomsdaytypes.CertificateRecord{Subject: "CN=c1", NotAfter: time.Now().Add(time.Hour), FingerprintSHA1: "C1"}
	acc := &fakeAccessor{name: "B", paths: map[string]doomsdaytypes.CertificateRecord{"/x": c1}}
	core.setAccessorForTest(acc)

	_, err := core.PopulateCache(context.Background())
	require.NoError(t, err)

	_, ok := core.Cache().Get("C1")
	require.True(t, ok)

	c2 := doomsdaytypes.CertificateRecord{Subject: "CN=c2", NotAfter: time.Now().Add(2 * time.Hour), FingerprintSHA1: "C2"}
	acc.paths = map[string]doomsdaytypes.CertificateRecord{"/y": c2}

	_, err = core.RefreshBackend(context.Background(), "B")
	require.NoError(t, err)

	_, ok = core.Cache().Get("C1")
	require.False(t, ok)

	_, ok = core.Cache().Get("C2")
	require.True(t, ok)
}

func TestRefreshBackendUnknownNameIsNotFound(t *testing.T) {
	core := newTestCore(t)

	_, err := core.RefreshBackend(context.Background(), "missing")
	require.Error(t, err)
	require.True(t, doomsdayerr.IsNotFound(err))
}

func TestUpdateConfigRejectsEmptyBackends(t *testing.T) {
	core := newTestCore(t)

	err := core.UpdateConfig(context.Background(), nil)
	require.Error(t, err)
}

func TestUpdateConfigRejectsDuplicateNames(t *testing.T) {
	core := newTestCore(t)

	err := core.UpdateConfig(context.Background(), []BackendSpec{
		{Type: "tlsclient", Name: "dup", TLSProbeTargets: []TLSProbeTarget{{Host: "a.example.com"}}},
		{Type: "tlsclient", Name: "dup", TLSProbeTargets: []TLSProbeTarget{{Host: "b.example.com"}}},
	})
	require.Error(t, err)
}

func TestUpdateConfigBuildsAccessorsAndSchedulesRefresh(t *testing.T) {
	core := newTestCore(t)

	err := core.UpdateConfig(context.Background(), []BackendSpec{
		{Type: "tlsclient", Name: "probe", TLSProbeTargets: []TLSProbeTarget{{Host: "example.com"}}},
	})
	require.NoError(t, err)

	info := core.Scheduler().Info()
	require.Eventually(t, func() bool {
		return len(core.Scheduler().ListTasks()) == 1
	}, time.Second, 5*time.Millisecond)
	_ = info
}
