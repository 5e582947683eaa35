package poky

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version and GitCommit may be overridden with -ldflags "-X".
var (
	Version   = "v0.3.0"
	GitCommit = ""
)

// GetVersion describes the running build, e.g.
// "poky v0.3.0 (commit 1a2b3c4, go1.24.0)".
func GetVersion() string {
	info := GetVersionInfo()
	return fmt.Sprintf("poky %s (commit %s, %s)", info["version"], info["commit"], info["go_version"])
}

// GetVersionInfo returns the same metadata as GetVersion keyed for
// structured logging. The commit falls back to the VCS revision stamped by
// the toolchain.
func GetVersionInfo() map[string]string {
	commit := GitCommit
	if commit == "" {
		commit = vcsRevision()
	}
	return map[string]string{
		"version":    Version,
		"commit":     commit,
		"go_version": runtime.Version(),
	}
}

// UserAgent is sent with every catalog request.
func UserAgent() string {
	return "poky/" + Version
}

func vcsRevision() string {
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 7 {
				return s.Value[:7]
			}
		}
	}
	return "unknown"
}
