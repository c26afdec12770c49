// Package version carries build information stamped via ldflags.
package version

var (
	// Version is the release version, "dev" for unstamped builds.
	Version = "dev"

	// GitCommit is the git commit hash the binary was built from.
	GitCommit = "unknown"

	// BuildDate is the UTC build timestamp.
	BuildDate = "unknown"
)
