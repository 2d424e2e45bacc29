// Package engine defines the Engine interface my-spaces drives: the container
// engine's image and container control plane.
package engine

import (
	"context"
	"io"
)

// Engine abstracts the container engine backend (Docker Engine in practice).
//
// Implementations map connection failures to errdefs.ErrEngineUnavailable and
// failed builds or pulls to errdefs.ErrBuild.
type Engine interface {
	// ListImages returns the locally known images. When references are given,
	// only images matching at least one reference (e.g. "my-spaces") are
	// returned, in engine order.
	ListImages(ctx context.Context, references ...string) ([]ImageSummary, error)

	// ListContainers returns containers in engine order. When all is true,
	// stopped containers are included.
	ListContainers(ctx context.Context, all bool) ([]ContainerSummary, error)

	// BuildImage builds spec.Ref from spec.Dockerfile inside spec.ContextDir.
	// Build output is written line by line to progress. Returns the image ID.
	BuildImage(ctx context.Context, spec BuildSpec, progress io.Writer) (string, error)

	// PullImage pulls ref from its registry.
	PullImage(ctx context.Context, ref string, progress io.Writer) error

	// RunContainer creates and starts a detached container.
	RunContainer(ctx context.Context, spec RunSpec) (ContainerHandle, error)

	// StartContainer starts a previously created or stopped container in place.
	StartContainer(ctx context.Context, id string) error

	// StopContainer stops a container, delivering its configured stop signal.
	StopContainer(ctx context.Context, id string) error

	// RemoveContainer removes a container, killing it first if it runs.
	RemoveContainer(ctx context.Context, id string) error

	// StreamLogs follows the container's combined stdout and stderr. The
	// stream ends when the container exits or ctx is cancelled. It cannot be
	// restarted; closing it releases the connection.
	StreamLogs(ctx context.Context, id string) (io.ReadCloser, error)

	// Close releases the engine connection.
	Close() error
}
