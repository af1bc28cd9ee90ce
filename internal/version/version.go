package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Name is the service name reported by /version and the CLI
const Name = "sf-sync-server"

var (
	// Version is the semantic version of the application
	Version = "dev"
	// GitCommit is the git commit hash
	GitCommit = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// BuildInfo describes the running binary
type BuildInfo struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	GitCommit  string `json:"gitCommit"`
	BuildTime  string `json:"buildTime"`
	GoVersion  string `json:"goVersion"`
	APIVersion string `json:"salesforceApiVersion,omitempty"`
}

// Get returns the build info. When the binary was built without -ldflags,
// the commit and time are read from the embedded VCS stamp.
func Get() BuildInfo {
	info := BuildInfo{
		Name:      Name,
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && info.GitCommit == "unknown":
				info.GitCommit = s.Value
			case s.Key == "vcs.time" && info.BuildTime == "unknown":
				info.BuildTime = s.Value
			}
		}
	}
	return info
}

// String returns a formatted version string
func String() string {
	info := Get()
	return fmt.Sprintf("%s %s (commit %s, built %s, %s)", info.Name, info.Version, info.GitCommit, info.BuildTime, info.GoVersion)
}
