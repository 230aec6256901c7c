package config

import "fmt"

// Linker-injected build metadata, set with for example:
//
//	go build -ldflags "-X dryday/internal/config.version=1.2.3 \
//	    -X dryday/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X dryday/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo constructs a BuildInfo from the linker-injected variables.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// String renders the build info as "version (commit, built time)".
func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (%s, built %s)", b.Version, b.Commit, b.BuildTime)
}
