// Package version carries build metadata injected at link time:
//
//	go build -ldflags "-X git.home.luguber.info/inful/streamrec/internal/version.Version=v0.3.0"
package version

// Version is the release version.
var Version = "dev"

// BuildInfo contains additional build metadata.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String renders the version with commit and build time when known.
func String() string {
	s := Version
	if GitCommit != "unknown" {
		s += " (" + GitCommit
		if BuildTime != "unknown" {
			s += ", " + BuildTime
		}
		s += ")"
	}
	return s
}
