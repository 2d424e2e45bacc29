package version

import (
	"runtime"
	"runtime/debug"
	"testing"
)

func withBuildInfo(t *testing.T, info *debug.BuildInfo) {
	t.Helper()
	orig := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) { return info, info != nil }
	t.Cleanup(func() { readBuildInfo = orig })
}

func withLinkValues(t *testing.T, v, commit, at string) {
	t.Helper()
	ov, oc, ot := Version, GitCommit, BuildTime
	Version, GitCommit, BuildTime = v, commit, at
	t.Cleanup(func() { Version, GitCommit, BuildTime = ov, oc, ot })
}

func TestCurrent_FallsBackToBuildInfo(t *testing.T) {
	withLinkValues(t, "v0.0.0-dev", "unknown", "unknown")
	withBuildInfo(t, &debug.BuildInfo{
		Main: debug.Module{Version: "v1.4.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-10-01T12:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	})

	b := Current()
	if b.Version != "v1.4.0" || b.Commit != "0123456789ab" || b.Time != "2026-10-01T12:00:00Z" || !b.Modified {
		t.Fatalf("unexpected build: %+v", b)
	}
	want := "v1.4.0 (0123456789ab-dirty) built at 2026-10-01T12:00:00Z with " + runtime.Version()
	if got := b.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestCurrent_LinkValuesWin(t *testing.T) {
	withLinkValues(t, "v2.0.0", "abc123", "2026-09-30")
	withBuildInfo(t, &debug.BuildInfo{
		Main:     debug.Module{Version: "v1.4.0"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "ffffffff"}},
	})

	b := Current()
	if b.Version != "v2.0.0" || b.Commit != "abc123" || b.Time != "2026-09-30" {
		t.Errorf("link-time values overridden: %+v", b)
	}
}

func TestCurrent_NoBuildInfo(t *testing.T) {
	withLinkValues(t, "v0.0.0-dev", "unknown", "unknown")
	withBuildInfo(t, nil)

	if got, want := Info(), "v0.0.0-dev (unknown) built at unknown with "+runtime.Version(); got != want {
		t.Errorf("Info() = %q, want %q", got, want)
	}
}

func TestCurrent_DevelModuleVersionIgnored(t *testing.T) {
	withLinkValues(t, "v0.0.0-dev", "unknown", "unknown")
	withBuildInfo(t, &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})

	if b := Current(); b.Version != "v0.0.0-dev" {
		t.Errorf("Version = %q, want v0.0.0-dev", b.Version)
	}
}
