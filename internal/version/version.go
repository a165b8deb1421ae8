package version

import "fmt"

// Set via ldflags at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// String returns the version line printed by "scoutman version".
func String() string {
	return fmt.Sprintf("scoutman %s (commit: %s, built: %s)", Version, GitCommit, BuildDate)
}

// UserAgent is sent on every outbound provider request.
func UserAgent() string {
	return "scoutman/" + Version
}
