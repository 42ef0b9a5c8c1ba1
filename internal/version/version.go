// Package version holds build information stamped in with -ldflags -X.
package version

import "fmt"

// Overridden at build time, e.g.
// -X github.com/bissquit/incident-orchestrator/internal/version.Version=1.2.0
var (
	Version   = "0.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info is what GET /version and the version command report.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Get returns the stamped build information.
func Get() Info {
	return Info{Version: Version, Commit: GitCommit, BuildDate: BuildDate}
}

func (i Info) String() string {
	return fmt.Sprintf("orchestrator %s (commit %s, built %s)", i.Version, i.Commit, i.BuildDate)
}

// LogAttrs returns the fields logged once at startup.
func (i Info) LogAttrs() []any {
	return []any{"version", i.Version, "commit", i.Commit, "build_date", i.BuildDate}
}
