// Package doomsdaytypes holds the data shapes shared across the
// discovery-and-cache engine: certificates, provenance, cache entries,
// diffs, and scheduler tasks.
package doomsdaytypes

import "time"

// CertificateRecord is the normalized, immutable form of a discovered
// X.509 certificate. Identity is FingerprintSHA1.
type CertificateRecord struct {
	Subject           string
	Issuer            string
	NotBefore         time.Time
	NotAfter          time.Time
	Serial            string
	SANs              []string
	IsCA              bool
	FingerprintSHA1   string
	FingerprintSHA256 string
	PEM               string
}

// PathRef identifies where a certificate was found: a backend name
// paired with an opaque, backend-specific path.
type PathRef struct {
	Backend string
	Path    string
}

// CacheEntry is one distinct certificate currently known to the cache,
// keyed externally by FingerprintSHA1.
type CacheEntry struct {
	Subject         string
	NotAfter        time.Time
	FingerprintSHA1 string
	Paths           []PathRef
}

// CacheItem is the externally-visible subset of a CacheEntry returned
// by listing operations.
type CacheItem struct {
	Subject  string      `json:"subject"`
	NotAfter time.Time   `json:"notAfter"`
	Paths    []PathRef   `json:"paths"`
}

// CacheDiff describes an atomically-applied change to the cache.
type CacheDiff struct {
	Added   map[string]CacheEntry
	Removed []string
}

// NewCacheDiff returns an empty diff ready for accumulation.
func NewCacheDiff() CacheDiff {
	return CacheDiff{Added: make(map[string]CacheEntry)}
}

// IsEmpty reports whether the diff has nothing to add or remove.
func (d CacheDiff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// CacheStats summarizes the cache relative to a point in time.
type CacheStats struct {
	Total         int `json:"total"`
	OK            int `json:"ok"`
	ExpiringSoon  int `json:"expiringSoon"`
	Expired       int `json:"expired"`
}

// TaskKind distinguishes the two jobs the scheduler can run.
type TaskKind string

const (
	TaskRefreshBackend  TaskKind = "refresh-backend"
	TaskRenewAuthToken  TaskKind = "renew-auth-token"
)

// Task is a tagged unit of scheduled work.
type Task struct {
	Kind    TaskKind
	Backend string
}

// TaskStatus is the lifecycle state of a scheduled TaskInfo.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// TaskInfo is the observable record of a scheduled Task.
type TaskInfo struct {
	ID          string
	Task        Task
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Status      TaskStatus
	Error       string
}

// SchedulerInfo is a point-in-time snapshot of scheduler load.
type SchedulerInfo struct {
	Workers int `json:"workers"`
	Pending int `json:"pending"`
	Running int `json:"running"`
}

// PopulateStats summarizes the outcome of a populate or refresh pass.
type PopulateStats struct {
	NumCerts   int   `json:"numCerts"`
	NumPaths   int   `json:"numPaths"`
	DurationMS int64 `json:"durationMs"`
}
