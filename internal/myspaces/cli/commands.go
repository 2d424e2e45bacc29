package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bdobrica/myspaces/common/trace"
	"github.com/bdobrica/myspaces/common/version"
	"github.com/bdobrica/myspaces/internal/myspaces/lifecycle"
	"github.com/bdobrica/myspaces/internal/myspaces/observability"
	"github.com/bdobrica/myspaces/internal/myspaces/store"
)

func (a *app) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List spaces that have an image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withManager(cmd.Context(), func(m *lifecycle.Manager) error {
				tags, err := m.List(cmd.Context())
				if err != nil {
					return err
				}
				for _, tag := range tags {
					fmt.Fprintln(cmd.OutOrStdout(), tag)
				}
				return nil
			})
		},
	}
}

func (a *app) runCommand() *cobra.Command {
	var opts lifecycle.RunOptions
	cmd := &cobra.Command{
		Use:   "run <identifier>",
		Short: "Build if needed, start and follow a space",
		Long: `Run a space from a repository URL or a published image reference.

The image is built from the descriptor template the first time; later runs
reuse it. An existing container is resumed unless --force-run is given, in
which case it is removed and created again. Press Ctrl-C to stop the space.`,
		Example: `  my-spaces run https://huggingface.co/spaces/org/gpt-demo
  my-spaces run zuppif/my-spaces:gpt-demo
  my-spaces run --force-run https://huggingface.co/spaces/org/gpt-demo`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, _ := trace.Ensure(cmd.Context())
			observability.WithTrace(ctx).Debug("run requested", "identifier", args[0], "force_run", opts.ForceRun)
			return a.withManager(ctx, func(m *lifecycle.Manager) error {
				_, err := m.Run(ctx, args[0], opts)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&opts.ForceRun, "force-run", false, "remove the existing container and create a new one")
	return cmd
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <identifier>",
		Short: "Show whether a space is built and running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(m *lifecycle.Manager) error {
				st, err := m.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "IMAGE\t%s\n", st.Identity.Ref())
				fmt.Fprintf(w, "STATE\t%s\n", st.State)
				if st.Container != nil {
					fmt.Fprintf(w, "CONTAINER\t%s (%s)\n", st.Container.Name, st.Container.State)
				}
				return w.Flush()
			})
		},
	}
}

func (a *app) stopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <identifier>",
		Short: "Stop the container of a space",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(m *lifecycle.Manager) error {
				id, err := m.Resolve(args[0])
				if err != nil {
					return err
				}
				return m.Stop(cmd.Context(), id)
			})
		},
	}
}

func (a *app) historyCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent run history",
		Long:  `Show the run history ledger. Recording is enabled with "history: true" in config.yaml or MY_SPACES_HISTORY=true.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.cfg.History {
				fmt.Fprintln(cmd.ErrOrStderr(), "history is disabled")
				return nil
			}
			s, err := store.New(a.cfg.HistoryPath())
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer s.Close()

			events, err := s.RecentEvents(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tACTION\tREF\tRESULT\tIDENTIFIER")
			for _, e := range events {
				ref := e.Ref
				if ref == "" {
					ref = "-"
				}
				result := e.Result
				if e.Error != "" {
					result += ": " + e.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Action, ref, result, e.Identifier)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of events to show")
	return cmd
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "my-spaces %s\n", version.Info())
			return nil
		},
	}
}
