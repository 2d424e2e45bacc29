// Package version reports which my-spaces build is running.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
)

// Overridden at link time, e.g.
// -ldflags "-X github.com/bdobrica/myspaces/common/version.Version=v1.2.0".
var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Build describes the running binary.
type Build struct {
	Version   string
	Commit    string
	Time      string
	Modified  bool
	GoVersion string
}

var readBuildInfo = debug.ReadBuildInfo

// Current returns the link-time values, filling any that were left unset
// from the module and VCS metadata the Go toolchain embeds.
func Current() Build {
	b := Build{Version: Version, Commit: GitCommit, Time: BuildTime, GoVersion: runtime.Version()}
	info, ok := readBuildInfo()
	if !ok {
		return b
	}
	if b.Version == "v0.0.0-dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "unknown" && s.Value != "" {
				b.Commit = s.Value
				if len(b.Commit) > 12 {
					b.Commit = b.Commit[:12]
				}
			}
		case "vcs.time":
			if b.Time == "unknown" && s.Value != "" {
				b.Time = s.Value
			}
		case "vcs.modified":
			b.Modified = s.Value == "true"
		}
	}
	return b
}

// String renders b on one line, as printed by "my-spaces version".
func (b Build) String() string {
	var sb strings.Builder
	sb.WriteString(b.Version)
	sb.WriteString(" (")
	sb.WriteString(b.Commit)
	if b.Modified {
		sb.WriteString("-dirty")
	}
	sb.WriteString(") built at ")
	sb.WriteString(b.Time)
	sb.WriteString(" with ")
	sb.WriteString(b.GoVersion)
	return sb.String()
}

// Info is shorthand for Current().String().
func Info() string {
	return Current().String()
}
