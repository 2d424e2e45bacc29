// Package enginetest provides an in-memory engine.Engine for tests.
//
// The fake keeps images and containers in slices, in insertion order, and
// resolves a container's image tags at list time the way the Docker daemon
// does: by image ID. Every mutating call is recorded so tests can assert on
// what the code under test asked the engine to do.
package enginetest

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/bdobrica/myspaces/internal/myspaces/engine"
	"github.com/bdobrica/myspaces/internal/myspaces/errdefs"
)

// Call names recorded by the fake.
const (
	CallListImages      = "ListImages"
	CallListContainers  = "ListContainers"
	CallBuildImage      = "BuildImage"
	CallPullImage       = "PullImage"
	CallRunContainer    = "RunContainer"
	CallStartContainer  = "StartContainer"
	CallStopContainer   = "StopContainer"
	CallRemoveContainer = "RemoveContainer"
	CallStreamLogs      = "StreamLogs"
)

// Call is one recorded engine call.
type Call struct {
	Method string
	Arg    string
}

type fakeImage struct {
	id     string
	tags   []string
	labels map[string]string
}

type fakeContainer struct {
	id      string
	name    string
	imageID string
	state   engine.ContainerState
	labels  map[string]string
	env     map[string]string
}

// Fake is an in-memory engine. The exported fields configure failures and
// log output; set them before handing the fake to the code under test.
type Fake struct {
	// BuildErr, if set, makes BuildImage fail with an ErrBuild wrapping it.
	BuildErr error
	// PullErr, if set, makes PullImage fail with an ErrBuild wrapping it.
	PullErr error
	// Unavailable makes every call fail with ErrEngineUnavailable.
	Unavailable bool
	// LogLines are returned by StreamLogs, one per line.
	LogLines []string
	// FollowLogs keeps the log stream open after LogLines until it is
	// closed or its context is cancelled, like a running container.
	FollowLogs bool
	// BuildOutput is written to the progress writer on a successful build.
	BuildOutput []string
	// OnBuild, if set, runs inside BuildImage after the descriptor is read.
	OnBuild func()

	mu          sync.Mutex
	images      []*fakeImage
	containers  []*fakeContainer
	calls       []Call
	descriptors map[string]string
	runs        []engine.RunSpec
	builds      []engine.BuildSpec
	nextID      int
	closed      bool
}

// New returns an empty fake engine.
func New() *Fake {
	return &Fake{descriptors: make(map[string]string)}
}

var _ engine.Engine = (*Fake)(nil)

// AddImage registers an image tagged ref and returns its ID.
func (f *Fake) AddImage(ref string, labels map[string]string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tagImageLocked(ref, labels)
}

// AddContainer registers a container created from the image tagged ref and
// returns its ID. The image is added if it does not exist.
func (f *Fake) AddContainer(ref string, state engine.ContainerState) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	img := f.imageByTagLocked(ref)
	if img == nil {
		f.tagImageLocked(ref, nil)
		img = f.imageByTagLocked(ref)
	}
	c := &fakeContainer{id: f.newIDLocked("container"), imageID: img.id, state: state}
	c.name = "space-" + c.id
	f.containers = append(f.containers, c)
	return c.id
}

// Calls returns a copy of every recorded call.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// Count returns how many times method was called.
func (f *Fake) Count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Mutations returns the recorded calls that change engine state.
func (f *Fake) Mutations() []Call {
	var out []Call
	for _, c := range f.Calls() {
		switch c.Method {
		case CallListImages, CallListContainers, CallStreamLogs:
			continue
		}
		out = append(out, c)
	}
	return out
}

// Runs returns the specs passed to RunContainer.
func (f *Fake) Runs() []engine.RunSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.runs)
}

// Builds returns the specs passed to BuildImage.
func (f *Fake) Builds() []engine.BuildSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.builds)
}

// Descriptor returns the descriptor content BuildImage read for ref.
func (f *Fake) Descriptor(ref string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.descriptors[ref]
}

// ContainerState returns the state of container id and whether it exists.
func (f *Fake) ContainerState(id string) (engine.ContainerState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.containerLocked(id)
	if c == nil {
		return "", false
	}
	return c.state, true
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// ListImages implements engine.Engine. A reference matches an image when it
// equals one of its tags or the repository part of one.
func (f *Fake) ListImages(_ context.Context, references ...string) ([]engine.ImageSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(CallListImages, strings.Join(references, ","))
	if f.Unavailable {
		return nil, unavailable(errdefs.PhaseList)
	}

	var out []engine.ImageSummary
	for _, img := range f.images {
		if len(img.tags) == 0 && len(references) > 0 {
			continue
		}
		if len(references) > 0 && !matchesAny(img.tags, references) {
			continue
		}
		out = append(out, engine.ImageSummary{ID: img.id, Tags: slices.Clone(img.tags), Labels: img.labels})
	}
	return out, nil
}

// ListContainers implements engine.Engine.
func (f *Fake) ListContainers(_ context.Context, all bool) ([]engine.ContainerSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(CallListContainers, fmt.Sprint(all))
	if f.Unavailable {
		return nil, unavailable(errdefs.PhaseList)
	}

	var out []engine.ContainerSummary
	for _, c := range f.containers {
		if !all && c.state != engine.StateRunning {
			continue
		}
		var tags []string
		if img := f.imageLocked(c.imageID); img != nil {
			tags = slices.Clone(img.tags)
		}
		out = append(out, engine.ContainerSummary{
			ID:        c.id,
			Name:      c.name,
			State:     c.state,
			ImageTags: tags,
			Labels:    c.labels,
		})
	}
	return out, nil
}

// BuildImage implements engine.Engine. It reads the descriptor from disk so
// tests can check what was built.
func (f *Fake) BuildImage(_ context.Context, spec engine.BuildSpec, progress io.Writer) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(CallBuildImage, spec.Ref)
	if f.Unavailable {
		return "", unavailable(errdefs.PhaseBuild)
	}
	f.builds = append(f.builds, spec)

	content, err := os.ReadFile(spec.Dockerfile)
	if err != nil {
		return "", errdefs.New(errdefs.ErrBuild, errdefs.PhaseBuild, err)
	}
	f.descriptors[spec.Ref] = string(content)
	if f.OnBuild != nil {
		f.OnBuild()
	}

	if f.BuildErr != nil {
		return "", errdefs.New(errdefs.ErrBuild, errdefs.PhaseBuild, f.BuildErr)
	}
	if progress != nil {
		for _, line := range f.BuildOutput {
			fmt.Fprintln(progress, line)
		}
	}
	return f.tagImageLocked(spec.Ref, spec.Labels), nil
}

// PullImage implements engine.Engine.
func (f *Fake) PullImage(_ context.Context, ref string, _ io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(CallPullImage, ref)
	if f.Unavailable {
		return unavailable(errdefs.PhasePull)
	}
	if f.PullErr != nil {
		return errdefs.New(errdefs.ErrBuild, errdefs.PhasePull, f.PullErr)
	}
	f.tagImageLocked(ref, nil)
	return nil
}

// RunContainer implements engine.Engine.
func (f *Fake) RunContainer(_ context.Context, spec engine.RunSpec) (engine.ContainerHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(CallRunContainer, spec.Image)
	if f.Unavailable {
		return engine.ContainerHandle{}, unavailable(errdefs.PhaseStart)
	}
	f.runs = append(f.runs, spec)

	img := f.imageByTagLocked(spec.Image)
	if img == nil {
		return engine.ContainerHandle{}, fmt.Errorf("no such image: %s", spec.Image)
	}
	c := &fakeContainer{
		id:      f.newIDLocked("container"),
		imageID: img.id,
		state:   engine.StateRunning,
		labels:  spec.Labels,
		env:     spec.Env,
	}
	c.name = "space-" + c.id
	f.containers = append(f.containers, c)
	return engine.ContainerHandle{ID: c.id, Name: c.name, State: c.state}, nil
}

// StartContainer implements engine.Engine.
func (f *Fake) StartContainer(_ context.Context, id string) error {
	return f.setState(CallStartContainer, id, engine.StateRunning)
}

// StopContainer implements engine.Engine.
func (f *Fake) StopContainer(_ context.Context, id string) error {
	return f.setState(CallStopContainer, id, engine.StateExited)
}

// RemoveContainer implements engine.Engine.
func (f *Fake) RemoveContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(CallRemoveContainer, id)
	if f.Unavailable {
		return unavailable(errdefs.PhaseStart)
	}
	f.containers = slices.DeleteFunc(f.containers, func(c *fakeContainer) bool { return c.id == id })
	return nil
}

// StreamLogs implements engine.Engine.
func (f *Fake) StreamLogs(ctx context.Context, id string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(CallStreamLogs, id)
	if f.Unavailable {
		return nil, unavailable(errdefs.PhaseLogs)
	}
	if f.containerLocked(id) == nil {
		return nil, fmt.Errorf("no such container: %s", id)
	}

	var buf strings.Builder
	for _, line := range f.LogLines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return newLogStream(ctx, buf.String(), f.FollowLogs), nil
}

// Close implements engine.Engine.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *Fake) setState(method, id string, state engine.ContainerState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(method, id)
	if f.Unavailable {
		return unavailable(errdefs.PhaseStart)
	}
	c := f.containerLocked(id)
	if c == nil {
		return fmt.Errorf("no such container: %s", id)
	}
	c.state = state
	return nil
}

func (f *Fake) record(method, arg string) {
	f.calls = append(f.calls, Call{Method: method, Arg: arg})
}

func (f *Fake) newIDLocked(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

// tagImageLocked creates a new image tagged ref, moving the tag off any
// image that carried it before, like a rebuild does.
func (f *Fake) tagImageLocked(ref string, labels map[string]string) string {
	for _, img := range f.images {
		img.tags = slices.DeleteFunc(img.tags, func(t string) bool { return t == ref })
	}
	img := &fakeImage{id: "sha256:" + f.newIDLocked("image"), tags: []string{ref}, labels: labels}
	f.images = append(f.images, img)
	return img.id
}

func (f *Fake) imageByTagLocked(ref string) *fakeImage {
	for _, img := range f.images {
		if slices.Contains(img.tags, ref) {
			return img
		}
	}
	return nil
}

func (f *Fake) imageLocked(id string) *fakeImage {
	for _, img := range f.images {
		if img.id == id {
			return img
		}
	}
	return nil
}

func (f *Fake) containerLocked(id string) *fakeContainer {
	for _, c := range f.containers {
		if c.id == id {
			return c
		}
	}
	return nil
}

func matchesAny(tags, references []string) bool {
	for _, tag := range tags {
		repo := tag
		if i := strings.LastIndex(tag, ":"); i > strings.LastIndex(tag, "/") {
			repo = tag[:i]
		}
		for _, ref := range references {
			if ref == tag || ref == repo {
				return true
			}
		}
	}
	return false
}

func unavailable(phase string) error {
	return errdefs.New(errdefs.ErrEngineUnavailable, phase, fmt.Errorf("cannot connect to the engine"))
}

// logStream serves fixed content, then either ends or blocks until closed or
// cancelled.
type logStream struct {
	ctx    context.Context
	r      *strings.Reader
	follow bool
	done   chan struct{}
	once   sync.Once
}

func newLogStream(ctx context.Context, content string, follow bool) *logStream {
	return &logStream{ctx: ctx, r: strings.NewReader(content), follow: follow, done: make(chan struct{})}
}

func (s *logStream) Read(p []byte) (int, error) {
	if s.r.Len() > 0 {
		return s.r.Read(p)
	}
	if !s.follow {
		return 0, io.EOF
	}
	select {
	case <-s.done:
		return 0, io.ErrClosedPipe
	case <-s.ctx.Done():
		return 0, s.ctx.Err()
	}
}

func (s *logStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
