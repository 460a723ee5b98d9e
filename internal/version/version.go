// Package version carries build metadata injected with -ldflags, e.g.
// go build -ldflags "-X github.com/pysugar/search-insights/internal/version.Version=v0.2.0"
package version

import "fmt"

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// String formats the build metadata for `insights version` and the status page.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime)
}
