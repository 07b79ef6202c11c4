// Package version reports build metadata for the CLI, the health endpoint and
// outbound User-Agent headers.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Populated with -ldflags "-X github.com/soyeahso/voicebridge/internal/version.Version=1.0.0 ...".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// Info returns a one-line description of the running binary.
func Info() string {
	return fmt.Sprintf("voicebridge %s (commit: %s, built: %s, %s, %s/%s)",
		Version, short(Revision()), Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Revision returns the ldflags commit, or the VCS revision recorded by the Go
// toolchain for `go install` builds. Modified trees get a "-dirty" suffix.
func Revision() string {
	if Commit != "unknown" {
		return Commit
	}
	bi, ok := readBuildInfo()
	if !ok {
		return Commit
	}

	rev, dirty := "", false
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return Commit
	}
	if dirty {
		return short(rev) + "-dirty"
	}
	return rev
}

// UserAgent is sent on outbound provider requests.
func UserAgent() string {
	return "voicebridge/" + Version
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
