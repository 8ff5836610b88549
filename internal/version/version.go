// Package version carries the build identity of the hivemind binary. The
// values are set with -ldflags "-X" at release time.
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// Revision returns GitSHA, falling back to the VCS revision the Go toolchain
// stamped into the binary when GitSHA was not set at link time.
func Revision() string {
	if GitSHA != "unknown" && GitSHA != "" {
		return GitSHA
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return s.Value
			}
		}
	}
	return "unknown"
}

// String is the one-line identity printed by -version and logged at startup.
func String() string {
	return fmt.Sprintf("hivemind %s (%s, built %s)", Version, Revision(), BuildTime)
}
