package engine

import (
	"slices"
	"time"
)

// ImageSummary describes one locally stored image.
type ImageSummary struct {
	ID     string
	Tags   []string
	Labels map[string]string
}

// HasTag reports whether ref (image:tag) is one of the image's tags.
func (i ImageSummary) HasTag(ref string) bool {
	return slices.Contains(i.Tags, ref)
}

// ContainerState mirrors docker container states.
type ContainerState string

const (
	StateRunning    ContainerState = "running"
	StateExited     ContainerState = "exited"
	StateCreated    ContainerState = "created"
	StatePaused     ContainerState = "paused"
	StateRestarting ContainerState = "restarting"
	StateRemoving   ContainerState = "removing"
	StateDead       ContainerState = "dead"
	StateUnknown    ContainerState = "unknown"
)

// ContainerSummary describes one container as listed by the engine.
type ContainerSummary struct {
	ID    string
	Name  string
	State ContainerState
	// ImageTags are the current tags of the image the container was created
	// from. Empty when that image has lost all its tags.
	ImageTags []string
	Labels    map[string]string
	Created   time.Time
}

// Handle returns the handle for this container.
func (c ContainerSummary) Handle() ContainerHandle {
	return ContainerHandle{ID: c.ID, Name: c.Name, State: c.State}
}

// ContainerHandle identifies a container. It is a snapshot: callers re-list
// containers instead of holding a handle across engine mutations.
type ContainerHandle struct {
	ID    string
	Name  string
	State ContainerState
}

// Running reports whether the container was running when the handle was taken.
func (h ContainerHandle) Running() bool {
	return h.State == StateRunning
}

// BuildSpec describes an image build.
type BuildSpec struct {
	// ContextDir is the build context sent to the engine.
	ContextDir string
	// Dockerfile is the descriptor path. It must live inside ContextDir.
	Dockerfile string
	// Ref is the image:tag to apply to the result.
	Ref string
	// Labels are attached to the built image.
	Labels map[string]string
}

// RunSpec describes how a space container is created. The lifecycle manager
// always fills it with the same runtime configuration.
type RunSpec struct {
	Image       string
	Env         map[string]string
	Labels      map[string]string
	IPCMode     string
	NetworkMode string
	// GPUAll requests every GPU the engine can expose.
	GPUAll     bool
	StopSignal string
}

// Fixed runtime configuration values.
const (
	ModeHost      = "host"
	SignalSIGINT  = "SIGINT"
	GPUCapability = "gpu"
)
