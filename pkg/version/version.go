// Package version reports build information for fusearch.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Name is the program name used in version output.
const Name = "fusearch"

// Version is set via ldflags at build time:
//
//	-X github.com/larroy/fusearch/pkg/version.Version=$(VERSION)
var Version = "dev"

// Build information set via ldflags at build time.
var (
	// Commit is the git commit hash.
	Commit = "unknown"

	// Date is the build date in RFC3339 format.
	Date = "unknown"

	// GoVersion is the Go version used to build the binary.
	GoVersion = runtime.Version()
)

// BuildInfo is structured version information for JSON output.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// String returns a formatted version string with all build info.
func String() string {
	info := GetInfo()
	return fmt.Sprintf("%s %s (commit: %s, built: %s, go: %s, %s/%s)",
		Name, info.Version, info.Commit, info.Date, info.GoVersion, info.OS, info.Arch)
}

// Short returns just the version string.
func Short() string {
	return Version
}

// GetInfo returns structured version information. A binary installed with
// `go install` has no ldflags; its commit then comes from the embedded VCS
// settings when available.
func GetInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
	if info.Commit == "unknown" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				switch s.Key {
				case "vcs.revision":
					if len(s.Value) > 12 {
						info.Commit = s.Value[:12]
					} else if s.Value != "" {
						info.Commit = s.Value
					}
				case "vcs.time":
					if info.Date == "unknown" && s.Value != "" {
						info.Date = s.Value
					}
				}
			}
		}
	}
	return info
}
