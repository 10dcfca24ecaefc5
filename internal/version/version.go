// Package version carries build metadata injected with -ldflags -X.
package version

import "fmt"

// Set at link time, e.g.
//
//	-X github.com/banshee-data/pose.estimator/internal/version.Version=v0.3.0
var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String formats the build metadata for a command's -version output.
func String(command string) string {
	return fmt.Sprintf("%s %s (%s, built %s)", command, Version, GitSHA, BuildTime)
}
