// Package version records the build identity stamped in via -ldflags.
package version

import "fmt"

// Overridden by release builds:
//
//	go build -ldflags "-X github.com/waymark-labs/waymark/internal/version.Commit=$(git rev-parse --short HEAD)"
var (
	Version = "v0.1.0"
	Commit  = "unknown"
	BuiltAt = "unknown"
)

// Info returns the short version string.
func Info() string {
	return Version
}

// FullInfo returns the version with build provenance, for the CLI and logs.
func FullInfo() string {
	return fmt.Sprintf("waymark %s (commit %s, built %s)", Version, Commit, BuiltAt)
}
