// Package accessor defines the uniform contract the Core dispatches
// over to enumerate and fetch certificates from a configured backend,
// plus a single-flight token refresh helper. Of the four concrete
// implementations (vault, credhub, opsmgr, tlsprobe), only opsmgr uses
// that helper.
package accessor

import (
	"context"

	"github.com/doomsday-project/doomsday/internal/doomsdaytypes"
)

// Accessor is the capability every backend implementation exposes.
// Implementations must be safe for concurrent use: many goroutines may
// call List and Get on the same Accessor at once.
type Accessor interface {
	// List enumerates every opaque path currently known to the backend.
	List(ctx context.Context) ([]string, error)

	// Get fetches the certificate at path. A nil record with a nil
	// error means the path exists but holds no certificate.
	Get(ctx context.Context, path string) (*doomsdaytypes.CertificateRecord, error)

	// Name is the configured backend name, matching the key the Core
	// uses in its accessor map.
	Name() string
}
