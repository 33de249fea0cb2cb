// Package version holds the build-time version metadata reported by
// the version subcommand and the /v1/info endpoint.
package version

import (
	"fmt"
	"strings"
)

var (
	// GitCommit and GitDescribe are set via -ldflags at build time.
	GitCommit   string
	GitDescribe string

	Version           = "0.1.0-dev"
	VersionPrerelease = "dev"
)

// GetHumanVersion composes the human-readable version string from the
// variables above, favoring GitDescribe when present and appending the
// git commit when known.
func GetHumanVersion() string {
	version := Version
	if GitDescribe != "" {
		version = GitDescribe
	}

	release := VersionPrerelease
	if release != "" && !strings.HasSuffix(version, "-"+release) {
		version += fmt.Sprintf("-%s", release)
	}

	if GitCommit != "" {
		version = fmt.Sprintf("%s (%s)", version, GitCommit)
	}

	return version
}
