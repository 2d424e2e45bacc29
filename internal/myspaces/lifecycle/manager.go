// Package lifecycle drives a space from source identifier to running
// container: build or pull the image when the engine does not have it, then
// create, resume or recreate the container, then follow its logs until the
// container exits or the caller cancels.
//
// Nothing about a space is cached between calls. Every decision re-reads the
// engine's image and container lists, so the derived state
// (UNBUILT, BUILT_STOPPED, BUILT_RUNNING) is always current.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/bdobrica/myspaces/common/environment"
	"github.com/bdobrica/myspaces/common/redact"
	"github.com/bdobrica/myspaces/common/trace"
	"github.com/bdobrica/myspaces/internal/myspaces/artifacts"
	"github.com/bdobrica/myspaces/internal/myspaces/engine"
	"github.com/bdobrica/myspaces/internal/myspaces/errdefs"
	"github.com/bdobrica/myspaces/internal/myspaces/space"
	"github.com/bdobrica/myspaces/internal/myspaces/store"
	"github.com/bdobrica/myspaces/internal/myspaces/templates"
)

// Labels my-spaces attaches to the images it builds and the containers it
// creates.
const (
	LabelManaged    = "io.my-spaces.managed"
	LabelSource     = "io.my-spaces.source"
	LabelDescriptor = "io.my-spaces.descriptor-sha256"
)

// DefaultTokenEnv is the variable the hub token is read from and forwarded as.
const DefaultTokenEnv = "HUGGING_FACE_HUB_TOKEN"

// stopMargin is added to the engine's stop timeout to bound a stop request.
const stopMargin = 5 * time.Second

// Recorder receives run history events. *store.Store satisfies it.
type Recorder interface {
	RecordEvent(ctx context.Context, e store.Event) error
}

// Config configures a Manager. Zero values select the defaults.
type Config struct {
	Resolver space.Resolver
	// Template is the descriptor template text. Defaults to the embedded one.
	Template string
	// Output receives container log lines. Defaults to os.Stdout.
	Output io.Writer
	// Env is where the hub token is read from. Defaults to the process
	// environment.
	Env environment.Source
	// TokenEnv names the token variable. Defaults to DefaultTokenEnv.
	TokenEnv string
	// BuildTimeout bounds a build or pull. Zero means no limit.
	BuildTimeout time.Duration
	// StopTimeout is the grace period the engine gives a container before
	// killing it. Used to bound the stop issued on cancellation.
	StopTimeout time.Duration
	// Recorder, if set, receives run history. Failures are logged only.
	Recorder Recorder
	Logger   *slog.Logger
}

// RunOptions modify a single Run.
type RunOptions struct {
	// ForceRun removes an existing container and creates a fresh one.
	ForceRun bool
}

// Space is the outcome of a Run. Container is a snapshot taken when the
// container was started; it is not kept up to date.
type Space struct {
	Identity  space.Identity
	Container *engine.ContainerHandle
}

// Manager runs spaces on an engine.
type Manager struct {
	engine    engine.Engine
	artifacts *artifacts.Store
	cfg       Config
	logger    *slog.Logger
}

// New creates a Manager.
func New(eng engine.Engine, root *artifacts.Store, cfg Config) *Manager {
	if cfg.Resolver.Namespace == "" || cfg.Resolver.Publisher == "" {
		cfg.Resolver = space.NewResolver(cfg.Resolver.Namespace, cfg.Resolver.Publisher)
	}
	if cfg.Template == "" {
		cfg.Template = templates.DefaultTemplate()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.TokenEnv == "" {
		cfg.TokenEnv = DefaultTokenEnv
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{engine: eng, artifacts: root, cfg: cfg, logger: logger}
}

// Resolve returns the identity of identifier.
func (m *Manager) Resolve(identifier string) (space.Identity, error) {
	return m.cfg.Resolver.Resolve(identifier)
}

// Run makes the space for identifier run and follows its logs.
//
// It returns when the container's log stream ends, on the first fatal error,
// or when ctx is cancelled. Cancellation is not an error: the container is
// stopped once and Run returns nil.
func (m *Manager) Run(ctx context.Context, identifier string, opts RunOptions) (*Space, error) {
	ctx, runID := trace.Ensure(ctx)
	log := m.logger.With("run_id", runID, "identifier", identifier)

	id, err := m.cfg.Resolver.Resolve(identifier)
	if err != nil {
		m.record(ctx, store.Event{Action: "run", Identifier: identifier, Result: store.ResultFailed, Error: err.Error()})
		return nil, err
	}
	log = log.With("ref", id.Ref())

	token, _ := m.cfg.Env.String(m.cfg.TokenEnv)
	r := &run{
		Manager:    m,
		log:        log,
		identifier: identifier,
		id:         id,
		token:      token,
		redactor:   redact.NewRedactor(token),
	}

	sp, err := r.execute(ctx, opts)
	if ctx.Err() != nil {
		stopErr := r.interrupted(ctx)
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return sp, stopErr
		}
		// A fatal error that raced the cancellation is still reported.
	}
	if err != nil {
		err = errdefs.Annotate(err, identifier)
		log.Error("run failed", "error", r.redactor.String(err.Error()))
		m.record(ctx, store.Event{Action: "run", Identifier: identifier, Ref: id.Ref(), Result: store.ResultFailed, Error: r.redactor.String(err.Error())})
		return sp, err
	}
	log.Info("space exited")
	return sp, nil
}

// Stop stops the container of id, if there is one and it is running. The
// engine delivers the container's stop signal and kills it after its stop
// timeout.
func (m *Manager) Stop(ctx context.Context, id space.Identity) error {
	h, err := space.FindExistingContainer(ctx, m.engine, id)
	if err != nil {
		return withPhase(err, errdefs.PhaseStop)
	}
	if h == nil {
		m.logger.Info("no container to stop", "ref", id.Ref())
		return nil
	}
	if !h.Running() {
		m.logger.Info("container already stopped", "ref", id.Ref(), "container", h.Name, "state", h.State)
		return nil
	}

	m.logger.Info("stopping container", "ref", id.Ref(), "container", h.Name)
	if err := m.engine.StopContainer(ctx, h.ID); err != nil {
		return withPhase(err, errdefs.PhaseStop)
	}
	m.record(ctx, store.Event{Action: "stop", Identifier: id.Ref(), Ref: id.Ref(), ContainerID: h.ID})
	return nil
}

// run carries the state of a single Run call.
type run struct {
	*Manager
	log        *slog.Logger
	identifier string
	id         space.Identity
	token      string
	redactor   *redact.Redactor
}

func (r *run) execute(ctx context.Context, opts RunOptions) (*Space, error) {
	existing, err := space.FindExistingContainer(ctx, r.engine, r.id)
	if err != nil {
		return nil, withPhase(err, errdefs.PhaseResolve)
	}

	// The token is only needed when a container is created; resuming reuses
	// the environment the container was created with.
	if (existing == nil || opts.ForceRun) && r.token == "" {
		return nil, errdefs.New(errdefs.ErrMissingCredential, errdefs.PhaseStart,
			fmt.Errorf("environment variable %s is not set", r.cfg.TokenEnv))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.ensureImage(ctx); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := r.start(ctx, existing, opts.ForceRun)
	if err != nil {
		return nil, err
	}
	sp := &Space{Identity: r.id, Container: &h}

	if err := r.follow(ctx, h); err != nil {
		return sp, err
	}
	return sp, nil
}

func (r *run) start(ctx context.Context, existing *engine.ContainerHandle, force bool) (engine.ContainerHandle, error) {
	if existing != nil && force {
		r.log.Info("removing existing container", "container", existing.Name)
		if err := r.engine.RemoveContainer(ctx, existing.ID); err != nil {
			return engine.ContainerHandle{}, withPhase(err, errdefs.PhaseStart)
		}
		r.record(ctx, store.Event{Action: "remove", Identifier: r.identifier, Ref: r.id.Ref(), ContainerID: existing.ID})
		existing = nil
	}

	if existing != nil {
		r.log.Info("resuming container", "container", existing.Name, "state", existing.State)
		if err := r.engine.StartContainer(ctx, existing.ID); err != nil {
			return engine.ContainerHandle{}, withPhase(err, errdefs.PhaseStart)
		}
		r.record(ctx, store.Event{Action: "resume", Identifier: r.identifier, Ref: r.id.Ref(), ContainerID: existing.ID})
		h := *existing
		h.State = engine.StateRunning
		return h, nil
	}

	r.log.Info("creating container")
	h, err := r.engine.RunContainer(ctx, engine.RunSpec{
		Image:       r.id.Ref(),
		Env:         map[string]string{r.cfg.TokenEnv: r.token},
		Labels:      map[string]string{LabelManaged: "true", LabelSource: r.identifier},
		IPCMode:     engine.ModeHost,
		NetworkMode: engine.ModeHost,
		GPUAll:      true,
		StopSignal:  engine.SignalSIGINT,
	})
	if err != nil {
		return engine.ContainerHandle{}, withPhase(err, errdefs.PhaseStart)
	}
	r.log.Info("container started", "container", h.Name)
	r.record(ctx, store.Event{Action: "create", Identifier: r.identifier, Ref: r.id.Ref(), ContainerID: h.ID})
	return h, nil
}

// interrupted stops the space after ctx was cancelled. The stop gets its own
// context since ctx is already done.
func (r *run) interrupted(ctx context.Context) error {
	r.log.Info("interrupted, stopping space")
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.stopBound())
	defer cancel()
	if err := r.Stop(stopCtx, r.id); err != nil {
		err = errdefs.Annotate(err, r.identifier)
		r.log.Error("stop after interrupt failed", "error", err)
		return err
	}
	return nil
}

func (m *Manager) stopBound() time.Duration {
	if m.cfg.StopTimeout > 0 {
		return m.cfg.StopTimeout + stopMargin
	}
	return 10*time.Second + stopMargin
}

// record writes a history event. The ledger is informational; failures are
// logged and otherwise ignored.
func (m *Manager) record(ctx context.Context, e store.Event) {
	if m.cfg.Recorder == nil {
		return
	}
	if e.RunID == "" {
		e.RunID = trace.FromContext(ctx)
	}
	if err := m.cfg.Recorder.RecordEvent(context.WithoutCancel(ctx), e); err != nil {
		m.logger.Warn("failed to record history event", "action", e.Action, "error", err)
	}
}

// withPhase gives an engine error phase context. Errors that already carry a
// kind keep it; anything else is returned wrapped with the phase name.
func withPhase(err error, phase string) error {
	var e *errdefs.Error
	if errors.As(err, &e) {
		if e.Phase == "" {
			e.Phase = phase
		}
		return err
	}
	return fmt.Errorf("%s: %w", phase, err)
}
