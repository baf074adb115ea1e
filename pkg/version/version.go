// Package version exposes build identification stamped in via ldflags.
package version

import "runtime"

// Overridden at build time:
//
//	go build -ldflags "-X github.com/docsieve/docsieve/pkg/version.Version=v1.2.3 ..."
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
}

// Info returns the build identification for status endpoints.
func Info() BuildInfo {
	return BuildInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		GoVersion: GoVersion,
	}
}
