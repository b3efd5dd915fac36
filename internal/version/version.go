// Package version holds build information set by the linker
package version

import (
	"fmt"
	"runtime"
)

// Set with -ldflags "-X github.com/Norgate-AV/gobuild/internal/version.Version=..."
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// GetVersion returns the version string
func GetVersion() string {
	return Version
}

// GetFullVersion returns the version with commit, build time and platform
func GetFullVersion() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s/%s)", Version, Commit, BuildTime, runtime.GOOS, runtime.GOARCH)
}
