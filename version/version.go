// Package version reports the respool build.
//
// Version, GitCommit and BuildTime are set with ldflags:
//
//	go build -ldflags "-X github.com/go-i2p/respool/version.Version=1.0.0"
//
// When GitCommit is not set, the VCS revision recorded by the Go toolchain
// is used instead.
package version

import "runtime/debug"

// Version is the release, or "dev" for development builds.
var Version = "dev"

// GitCommit is the short commit hash.
var GitCommit = ""

// BuildTime is an RFC 3339 build timestamp.
var BuildTime = ""

// commit returns GitCommit, falling back to the embedded vcs.revision.
func commit() string {
	if GitCommit != "" {
		return GitCommit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value[:min(len(s.Value), 7)]
		}
	}
	return ""
}

// Full returns the version with commit and build time when known.
func Full() string {
	v := Version
	if c := commit(); c != "" {
		v += "-" + c
	}
	if BuildTime != "" {
		v += " (" + BuildTime + ")"
	}
	return v
}

// LogAttrs returns the build as key/value pairs for slog.
func LogAttrs() []any {
	return []any{"version", Version, "commit", commit(), "built", BuildTime}
}
