// Package docker provides the Docker Engine implementation of engine.Engine.
package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/bdobrica/myspaces/internal/myspaces/engine"
	"github.com/bdobrica/myspaces/internal/myspaces/errdefs"
)

const (
	// defaultStopTimeout is how long to wait for graceful container stop before SIGKILL.
	defaultStopTimeout = 10 * time.Second

	pingTimeout = 5 * time.Second
)

// Adapter implements engine.Engine using the Docker Engine API.
type Adapter struct {
	client      *dockerclient.Client
	stopTimeout time.Duration
}

// Option configures an Adapter.
type Option func(*adapterOptions)

type adapterOptions struct {
	host        string
	stopTimeout time.Duration
}

// WithHost connects to a specific daemon address instead of DOCKER_HOST.
func WithHost(host string) Option {
	return func(o *adapterOptions) {
		o.host = host
	}
}

// WithStopTimeout sets the grace period between the stop signal and SIGKILL.
func WithStopTimeout(d time.Duration) Option {
	return func(o *adapterOptions) {
		if d > 0 {
			o.stopTimeout = d
		}
	}
}

// New connects to the Docker daemon and verifies it answers.
// Uses the DOCKER_HOST env var or the default socket path.
func New(ctx context.Context, opts ...Option) (*Adapter, error) {
	o := adapterOptions{stopTimeout: defaultStopTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	clientOpts := []dockerclient.Opt{
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	}
	if o.host != "" {
		clientOpts = append(clientOpts, dockerclient.WithHost(o.host))
	}

	cli, err := dockerclient.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, errdefs.New(errdefs.ErrEngineUnavailable, errdefs.PhaseSetup, fmt.Errorf("docker client: %w", err))
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, errdefs.New(errdefs.ErrEngineUnavailable, errdefs.PhaseSetup, fmt.Errorf("ping docker daemon: %w", err))
	}

	return &Adapter{client: cli, stopTimeout: o.stopTimeout}, nil
}

// Close closes the Docker client.
func (a *Adapter) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// ListImages returns local images, optionally filtered by reference.
func (a *Adapter) ListImages(ctx context.Context, references ...string) ([]engine.ImageSummary, error) {
	args := filters.NewArgs()
	for _, ref := range references {
		args.Add("reference", ref)
	}
	images, err := a.client.ImageList(ctx, image.ListOptions{Filters: args})
	if err != nil {
		return nil, classify(errdefs.PhaseList, fmt.Errorf("list images: %w", err))
	}

	out := make([]engine.ImageSummary, 0, len(images))
	for _, img := range images {
		out = append(out, engine.ImageSummary{
			ID:     img.ID,
			Tags:   img.RepoTags,
			Labels: img.Labels,
		})
	}
	return out, nil
}

// ListContainers returns containers together with the current tags of the
// image each one was created from.
func (a *Adapter) ListContainers(ctx context.Context, all bool) ([]engine.ContainerSummary, error) {
	containers, err := a.client.ContainerList(ctx, container.ListOptions{All: all})
	if err != nil {
		return nil, classify(errdefs.PhaseList, fmt.Errorf("list containers: %w", err))
	}
	if len(containers) == 0 {
		return nil, nil
	}

	images, err := a.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, classify(errdefs.PhaseList, fmt.Errorf("list images: %w", err))
	}
	tags := imageTagIndex(images)

	out := make([]engine.ContainerSummary, 0, len(containers))
	for _, c := range containers {
		out = append(out, containerSummary(c, tags))
	}
	return out, nil
}

// BuildImage sends spec.ContextDir as the build context and builds spec.Ref.
func (a *Adapter) BuildImage(ctx context.Context, spec engine.BuildSpec, progress io.Writer) (string, error) {
	dockerfile, err := dockerfileInContext(spec.ContextDir, spec.Dockerfile)
	if err != nil {
		return "", errdefs.New(errdefs.ErrBuild, errdefs.PhaseBuild, err)
	}

	buildCtx, err := archive.TarWithOptions(spec.ContextDir, &archive.TarOptions{})
	if err != nil {
		return "", errdefs.New(errdefs.ErrBuild, errdefs.PhaseBuild, fmt.Errorf("archive build context: %w", err))
	}
	defer buildCtx.Close()

	resp, err := a.client.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{spec.Ref},
		Dockerfile:  dockerfile,
		Labels:      spec.Labels,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return "", classifyAs(errdefs.ErrBuild, errdefs.PhaseBuild, fmt.Errorf("build %s: %w", spec.Ref, err))
	}
	defer resp.Body.Close()

	imageID, err := decodeProgress(resp.Body, progress)
	if err != nil {
		return "", classifyAs(errdefs.ErrBuild, errdefs.PhaseBuild, fmt.Errorf("build %s: %w", spec.Ref, err))
	}
	return imageID, nil
}

// PullImage pulls ref and waits for the pull to finish.
func (a *Adapter) PullImage(ctx context.Context, ref string, progress io.Writer) error {
	rc, err := a.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return classifyAs(errdefs.ErrBuild, errdefs.PhasePull, fmt.Errorf("pull %s: %w", ref, err))
	}
	defer rc.Close()

	if _, err := decodeProgress(rc, progress); err != nil {
		return classifyAs(errdefs.ErrBuild, errdefs.PhasePull, fmt.Errorf("pull %s: %w", ref, err))
	}
	return nil
}

// RunContainer creates and starts a detached container from spec.
func (a *Adapter) RunContainer(ctx context.Context, spec engine.RunSpec) (engine.ContainerHandle, error) {
	if spec.Image == "" {
		return engine.ContainerHandle{}, fmt.Errorf("spec.Image is required")
	}

	resp, err := a.client.ContainerCreate(ctx, containerConfigFor(spec), hostConfigFor(spec), nil, nil, "")
	if err != nil {
		return engine.ContainerHandle{}, classify(errdefs.PhaseStart, fmt.Errorf("create container: %w", err))
	}

	if err := a.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Best-effort cleanup
		_ = a.client.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})
		return engine.ContainerHandle{}, classify(errdefs.PhaseStart, fmt.Errorf("start container: %w", err))
	}

	inspect, err := a.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return engine.ContainerHandle{}, classify(errdefs.PhaseStart, fmt.Errorf("inspect container: %w", err))
	}

	state := engine.StateUnknown
	if inspect.State != nil {
		state = parseContainerState(inspect.State.Status)
	}
	return engine.ContainerHandle{
		ID:    resp.ID,
		Name:  strings.TrimPrefix(inspect.Name, "/"),
		State: state,
	}, nil
}

// StartContainer starts an existing container without recreating it.
func (a *Adapter) StartContainer(ctx context.Context, id string) error {
	if err := a.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return classify(errdefs.PhaseStart, fmt.Errorf("start container %s: %w", shortID(id), err))
	}
	return nil
}

// StopContainer stops the container with its configured stop signal.
func (a *Adapter) StopContainer(ctx context.Context, id string) error {
	timeout := int(a.stopTimeout.Seconds())
	if err := a.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return classify(errdefs.PhaseStop, fmt.Errorf("stop container %s: %w", shortID(id), err))
	}
	return nil
}

// RemoveContainer force-removes the container. Volumes are kept.
func (a *Adapter) RemoveContainer(ctx context.Context, id string) error {
	if err := a.client.ContainerRemove(ctx, id, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: false,
	}); err != nil {
		if !dockerclient.IsErrNotFound(err) {
			return classify(errdefs.PhaseStart, fmt.Errorf("remove container %s: %w", shortID(id), err))
		}
	}
	return nil
}

// StreamLogs follows the container's output. Multiplexed streams (containers
// without a TTY) are demultiplexed into a single plain stream.
func (a *Adapter) StreamLogs(ctx context.Context, id string) (io.ReadCloser, error) {
	inspect, err := a.client.ContainerInspect(ctx, id)
	if err != nil {
		return nil, classify(errdefs.PhaseLogs, fmt.Errorf("inspect container %s: %w", shortID(id), err))
	}

	rc, err := a.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, classify(errdefs.PhaseLogs, fmt.Errorf("logs %s: %w", shortID(id), err))
	}

	if inspect.Config != nil && inspect.Config.Tty {
		return rc, nil
	}
	return demux(rc), nil
}

// --- helpers ---

// demux copies a multiplexed log stream into a pipe. Closing the returned
// reader closes the underlying connection, which ends the copy.
func demux(rc io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, rc)
		pw.CloseWithError(err)
	}()
	return &demuxReader{PipeReader: pr, src: rc}
}

type demuxReader struct {
	*io.PipeReader
	src io.Closer
}

func (d *demuxReader) Close() error {
	err := d.src.Close()
	d.PipeReader.Close()
	return err
}

// decodeProgress reads a stream of engine JSON messages, writes the
// human-readable part of each one to w, and returns the first error the
// engine reported. The image ID is returned when the engine announces one.
func decodeProgress(r io.Reader, w io.Writer) (string, error) {
	if w == nil {
		w = io.Discard
	}
	dec := json.NewDecoder(r)
	var imageID string
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return imageID, nil
			}
			return imageID, fmt.Errorf("decode engine output: %w", err)
		}
		if msg.Error != nil {
			return imageID, msg.Error
		}
		if msg.ErrorMessage != "" {
			return imageID, errors.New(msg.ErrorMessage)
		}
		if msg.Aux != nil {
			var aux struct {
				ID string `json:"ID"`
			}
			if json.Unmarshal(*msg.Aux, &aux) == nil && aux.ID != "" {
				imageID = aux.ID
			}
		}
		switch {
		case msg.Stream != "":
			for _, line := range strings.Split(strings.TrimRight(msg.Stream, "\n"), "\n") {
				fmt.Fprintln(w, line)
			}
		case msg.Status != "" && msg.ID != "":
			fmt.Fprintf(w, "%s: %s\n", msg.ID, msg.Status)
		case msg.Status != "":
			fmt.Fprintln(w, msg.Status)
		}
	}
}

// dockerfileInContext returns the descriptor path relative to the context
// directory, which is what the build API expects.
func dockerfileInContext(contextDir, dockerfile string) (string, error) {
	rel, err := filepath.Rel(contextDir, dockerfile)
	if err != nil {
		return "", fmt.Errorf("descriptor %s: %w", dockerfile, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("descriptor %s is outside build context %s", dockerfile, contextDir)
	}
	return filepath.ToSlash(rel), nil
}

func containerConfigFor(spec engine.RunSpec) *container.Config {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return &container.Config{
		Image:      spec.Image,
		Env:        env,
		Labels:     spec.Labels,
		StopSignal: spec.StopSignal,
	}
}

func hostConfigFor(spec engine.RunSpec) *container.HostConfig {
	hostCfg := &container.HostConfig{
		IpcMode:     container.IpcMode(spec.IPCMode),
		NetworkMode: container.NetworkMode(spec.NetworkMode),
	}
	if spec.GPUAll {
		hostCfg.Resources.DeviceRequests = []container.DeviceRequest{{
			Count:        -1,
			Capabilities: [][]string{{engine.GPUCapability}},
		}}
	}
	return hostCfg
}

func imageTagIndex(images []image.Summary) map[string][]string {
	idx := make(map[string][]string, len(images))
	for _, img := range images {
		idx[img.ID] = img.RepoTags
	}
	return idx
}

func containerSummary(c types.Container, tags map[string][]string) engine.ContainerSummary {
	name := ""
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}
	return engine.ContainerSummary{
		ID:        c.ID,
		Name:      name,
		State:     parseContainerState(c.State),
		ImageTags: tags[c.ImageID],
		Labels:    c.Labels,
		Created:   time.Unix(c.Created, 0),
	}
}

func parseContainerState(s string) engine.ContainerState {
	switch strings.ToLower(s) {
	case "running":
		return engine.StateRunning
	case "exited", "stopped":
		return engine.StateExited
	case "created":
		return engine.StateCreated
	case "paused":
		return engine.StatePaused
	case "restarting":
		return engine.StateRestarting
	case "removing":
		return engine.StateRemoving
	case "dead":
		return engine.StateDead
	default:
		return engine.StateUnknown
	}
}

// classify marks daemon connection failures as ErrEngineUnavailable and
// leaves every other error untouched.
func classify(phase string, err error) error {
	if err == nil {
		return nil
	}
	if dockerclient.IsErrConnectionFailed(err) {
		return errdefs.New(errdefs.ErrEngineUnavailable, phase, err)
	}
	return err
}

// classifyAs is classify with a fallback kind for errors that are not
// connection failures.
func classifyAs(kind error, phase string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if dockerclient.IsErrConnectionFailed(err) {
		return errdefs.New(errdefs.ErrEngineUnavailable, phase, err)
	}
	return errdefs.New(kind, phase, err)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
