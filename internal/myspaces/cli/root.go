// Package cli implements the my-spaces command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bdobrica/myspaces/common/environment"
	"github.com/bdobrica/myspaces/internal/myspaces/artifacts"
	"github.com/bdobrica/myspaces/internal/myspaces/config"
	"github.com/bdobrica/myspaces/internal/myspaces/engine"
	"github.com/bdobrica/myspaces/internal/myspaces/engine/docker"
	"github.com/bdobrica/myspaces/internal/myspaces/errdefs"
	"github.com/bdobrica/myspaces/internal/myspaces/lifecycle"
	"github.com/bdobrica/myspaces/internal/myspaces/observability"
	"github.com/bdobrica/myspaces/internal/myspaces/space"
	"github.com/bdobrica/myspaces/internal/myspaces/store"
	"github.com/bdobrica/myspaces/internal/myspaces/templates"
)

// EngineFactory connects to a container engine.
type EngineFactory func(ctx context.Context, cfg *config.Config) (engine.Engine, error)

// DockerEngine connects to the Docker daemon described by the environment
// (DOCKER_HOST and friends), or cfg.DockerHost when set.
func DockerEngine(ctx context.Context, cfg *config.Config) (engine.Engine, error) {
	opts := []docker.Option{docker.WithStopTimeout(cfg.StopTimeout)}
	if cfg.DockerHost != "" {
		opts = append(opts, docker.WithHost(cfg.DockerHost))
	}
	return docker.New(ctx, opts...)
}

// Option customizes the command tree.
type Option func(*app)

// WithEngineFactory replaces the Docker engine.
func WithEngineFactory(f EngineFactory) Option {
	return func(a *app) { a.newEngine = f }
}

// WithEnv replaces the process environment.
func WithEnv(env environment.Source) Option {
	return func(a *app) { a.env = env }
}

// WithOutput redirects stdout and stderr.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(a *app) {
		a.stdout = stdout
		a.stderr = stderr
	}
}

type globalFlags struct {
	root      string
	logLevel  string
	logFormat string
	template  string
}

// app is the state shared by all commands of one invocation.
type app struct {
	flags     globalFlags
	env       environment.Source
	stdout    io.Writer
	stderr    io.Writer
	newEngine EngineFactory

	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCommand builds the my-spaces command tree.
func NewRootCommand(opts ...Option) *cobra.Command {
	a := &app{
		env:       environment.OS(),
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		newEngine: DockerEngine,
	}
	for _, opt := range opts {
		opt(a)
	}

	root := &cobra.Command{
		Use:   "my-spaces",
		Short: "Run Hugging Face style spaces locally in Docker",
		Long: `my-spaces builds a container image for a space repository (or pulls a
published one), starts it with GPU access and follows its logs.

Images are cached by tag: a space is only built when its image is missing.
Interrupting a run stops the container; running it again resumes it.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.setup(cmd) },
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.root, "root", "", "state directory (default $MY_SPACES_ROOT or ~/.my-spaces)")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&a.flags.logFormat, "log-format", "", "log format: text or json")
	pf.StringVar(&a.flags.template, "template", "", "descriptor template file (default: built-in)")

	root.AddCommand(
		a.listCommand(),
		a.runCommand(),
		a.statusCommand(),
		a.stopCommand(),
		a.historyCommand(),
		a.versionCommand(),
	)
	return root
}

// setup loads configuration and logging before any command runs.
func (a *app) setup(cmd *cobra.Command) error {
	root := config.ResolveRoot(a.flags.root, a.env)
	cfg, err := config.Load(root, a.env)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = a.flags.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = a.flags.logFormat
	}
	if flags.Changed("template") {
		cfg.TemplatePath = a.flags.template
	}
	a.cfg = cfg

	token, _ := a.env.String(cfg.TokenEnv)
	a.logger = observability.Setup(observability.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Writer:  a.stderr,
		Secrets: []string{token},
	})
	a.logger.Debug("configuration loaded", "root", cfg.Root, "namespace", cfg.Namespace, "publisher", cfg.Publisher)
	return nil
}

// withManager connects to the engine, builds a Manager and runs fn with it.
// The engine connection and the history ledger are closed afterwards.
func (a *app) withManager(ctx context.Context, fn func(*lifecycle.Manager) error) error {
	tmpl, err := templates.Load(a.cfg.TemplatePath)
	if err != nil {
		return err
	}

	eng, err := a.newEngine(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	mcfg := lifecycle.Config{
		Resolver:     space.NewResolver(a.cfg.Namespace, a.cfg.Publisher),
		Template:     tmpl,
		Output:       a.stdout,
		Env:          a.env,
		TokenEnv:     a.cfg.TokenEnv,
		BuildTimeout: a.cfg.BuildTimeout,
		StopTimeout:  a.cfg.StopTimeout,
		Logger:       a.logger,
	}
	if a.cfg.History {
		if ledger := a.openHistory(); ledger != nil {
			defer ledger.Close()
			mcfg.Recorder = ledger
		}
	}

	return fn(lifecycle.New(eng, artifacts.New(a.cfg.Root), mcfg))
}

// openHistory opens the ledger, creating the root if needed. The ledger is
// optional; failures are logged and the run continues without it.
func (a *app) openHistory() *store.Store {
	if _, err := artifacts.New(a.cfg.Root).EnsureRoot(); err != nil {
		a.logger.Warn("history disabled", "error", err)
		return nil
	}
	s, err := store.New(a.cfg.HistoryPath())
	if err != nil {
		a.logger.Warn("history disabled", "error", err)
		return nil
	}
	return s
}

// Execute runs the command line with args and returns the process exit code.
// SIGINT and SIGTERM cancel the running command.
func Execute(args []string, opts ...Option) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand(opts...)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		if errors.Is(err, errdefs.ErrMissingCredential) {
			fmt.Fprintln(cmd.ErrOrStderr(), "Set the hub token in the environment before creating a space.")
		}
	}
	return errdefs.ExitCode(err)
}
