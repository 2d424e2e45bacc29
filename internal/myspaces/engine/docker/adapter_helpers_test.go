package docker

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"

	"github.com/bdobrica/myspaces/internal/myspaces/engine"
	"github.com/bdobrica/myspaces/internal/myspaces/errdefs"
)

// --- parseContainerState ---------------------------------------------------

func TestParseContainerState(t *testing.T) {
	cases := []struct {
		input string
		want  engine.ContainerState
	}{
		{"running", engine.StateRunning},
		{"RUNNING", engine.StateRunning}, // case-insensitive
		{"exited", engine.StateExited},
		{"stopped", engine.StateExited},
		{"created", engine.StateCreated},
		{"paused", engine.StatePaused},
		{"restarting", engine.StateRestarting},
		{"removing", engine.StateRemoving},
		{"dead", engine.StateDead},
		{"", engine.StateUnknown},
		{"weird", engine.StateUnknown},
	}

	for _, tc := range cases {
		got := parseContainerState(tc.input)
		if got != tc.want {
			t.Errorf("parseContainerState(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

// --- containerSummary ------------------------------------------------------

func TestContainerSummary_ResolvesImageTagsByID(t *testing.T) {
	idx := imageTagIndex([]image.Summary{
		{ID: "sha256:aaa", RepoTags: []string{"my-spaces:gpt-demo"}},
		{ID: "sha256:bbb", RepoTags: []string{"zuppif/my-spaces:other", "zuppif/my-spaces:latest"}},
	})

	got := containerSummary(types.Container{
		ID:      "c1",
		Names:   []string{"/eager_turing"},
		ImageID: "sha256:bbb",
		State:   "exited",
	}, idx)

	if got.Name != "eager_turing" {
		t.Errorf("Name: got %q", got.Name)
	}
	if got.State != engine.StateExited {
		t.Errorf("State: got %q", got.State)
	}
	if len(got.ImageTags) != 2 || got.ImageTags[0] != "zuppif/my-spaces:other" {
		t.Errorf("ImageTags: got %v", got.ImageTags)
	}
}

func TestContainerSummary_UntaggedImage(t *testing.T) {
	got := containerSummary(types.Container{ID: "c1", ImageID: "sha256:gone"}, map[string][]string{})
	if len(got.ImageTags) != 0 {
		t.Errorf("expected no tags, got %v", got.ImageTags)
	}
	if got.Name != "" {
		t.Errorf("expected empty name, got %q", got.Name)
	}
}

// --- runtime configuration -------------------------------------------------

func TestHostConfigFor_FixedRuntimeConfiguration(t *testing.T) {
	hc := hostConfigFor(engine.RunSpec{
		Image:       "my-spaces:gpt-demo",
		IPCMode:     engine.ModeHost,
		NetworkMode: engine.ModeHost,
		GPUAll:      true,
	})

	if hc.IpcMode != container.IpcMode("host") {
		t.Errorf("IpcMode: got %q", hc.IpcMode)
	}
	if hc.NetworkMode != container.NetworkMode("host") {
		t.Errorf("NetworkMode: got %q", hc.NetworkMode)
	}
	if len(hc.DeviceRequests) != 1 {
		t.Fatalf("DeviceRequests: got %d, want 1", len(hc.DeviceRequests))
	}
	req := hc.DeviceRequests[0]
	if req.Count != -1 {
		t.Errorf("Count: got %d, want -1 (all)", req.Count)
	}
	if len(req.Capabilities) != 1 || len(req.Capabilities[0]) != 1 || req.Capabilities[0][0] != "gpu" {
		t.Errorf("Capabilities: got %v", req.Capabilities)
	}
}

func TestHostConfigFor_NoGPU(t *testing.T) {
	hc := hostConfigFor(engine.RunSpec{Image: "x"})
	if len(hc.DeviceRequests) != 0 {
		t.Errorf("expected no device requests, got %v", hc.DeviceRequests)
	}
}

func TestContainerConfigFor(t *testing.T) {
	cfg := containerConfigFor(engine.RunSpec{
		Image:      "my-spaces:gpt-demo",
		Env:        map[string]string{"HUGGING_FACE_HUB_TOKEN": "hf_x", "A": "1"},
		StopSignal: engine.SignalSIGINT,
	})
	if cfg.Image != "my-spaces:gpt-demo" {
		t.Errorf("Image: got %q", cfg.Image)
	}
	if cfg.StopSignal != "SIGINT" {
		t.Errorf("StopSignal: got %q", cfg.StopSignal)
	}
	want := []string{"A=1", "HUGGING_FACE_HUB_TOKEN=hf_x"}
	if strings.Join(cfg.Env, ",") != strings.Join(want, ",") {
		t.Errorf("Env: got %v, want %v", cfg.Env, want)
	}
}

// --- decodeProgress --------------------------------------------------------

func TestDecodeProgress_StreamsLinesAndImageID(t *testing.T) {
	input := `{"stream":"Step 1/2 : FROM python:3.11\n"}
{"stream":" ---> abc\nStep 2/2 : RUN true\n"}
{"status":"Downloading","id":"layer1"}
{"aux":{"ID":"sha256:deadbeef"}}
`
	var out bytes.Buffer
	id, err := decodeProgress(strings.NewReader(input), &out)
	if err != nil {
		t.Fatalf("decodeProgress: %v", err)
	}
	if id != "sha256:deadbeef" {
		t.Errorf("image ID: got %q", id)
	}
	want := "Step 1/2 : FROM python:3.11\n ---> abc\nStep 2/2 : RUN true\nlayer1: Downloading\n"
	if out.String() != want {
		t.Errorf("output:\n got %q\nwant %q", out.String(), want)
	}
}

func TestDecodeProgress_ReturnsEngineError(t *testing.T) {
	input := `{"stream":"Step 1/1 : RUN false\n"}
{"errorDetail":{"code":1,"message":"The command '/bin/sh -c false' returned a non-zero code: 1"},"error":"The command '/bin/sh -c false' returned a non-zero code: 1"}
`
	_, err := decodeProgress(strings.NewReader(input), io.Discard)
	if err == nil {
		t.Fatal("expected error from errorDetail")
	}
	if !strings.Contains(err.Error(), "non-zero code: 1") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDecodeProgress_MalformedStream(t *testing.T) {
	if _, err := decodeProgress(strings.NewReader(`{"stream":`), nil); err == nil {
		t.Fatal("expected decode error")
	}
}

// --- dockerfileInContext ---------------------------------------------------

func TestDockerfileInContext(t *testing.T) {
	dir := filepath.Join("root", "dockerfiles")
	got, err := dockerfileInContext(dir, filepath.Join(dir, "Dockerfile.gpt-demo"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Dockerfile.gpt-demo" {
		t.Errorf("got %q", got)
	}

	if _, err := dockerfileInContext(dir, filepath.Join("root", "Dockerfile.x")); err == nil {
		t.Error("expected error for descriptor outside the context")
	}
}

// --- classify --------------------------------------------------------------

func TestClassifyAs_WrapsNonConnectionErrors(t *testing.T) {
	err := classifyAs(errdefs.ErrBuild, errdefs.PhaseBuild, errors.New("boom"))
	if !errors.Is(err, errdefs.ErrBuild) {
		t.Errorf("expected ErrBuild, got %v", err)
	}
	if errors.Is(err, errdefs.ErrEngineUnavailable) {
		t.Error("unexpected ErrEngineUnavailable")
	}
}

func TestClassify_PassesThroughOtherErrors(t *testing.T) {
	base := errors.New("conflict")
	if got := classify(errdefs.PhaseStart, base); got != base {
		t.Errorf("expected passthrough, got %v", got)
	}
	if classify(errdefs.PhaseStart, nil) != nil {
		t.Error("expected nil for nil error")
	}
}
