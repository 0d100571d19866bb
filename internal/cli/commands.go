package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yubzen/runneragent/internal/agent"
	"github.com/yubzen/runneragent/internal/config"
	"github.com/yubzen/runneragent/internal/control"
	"github.com/yubzen/runneragent/internal/log"
	"github.com/yubzen/runneragent/internal/observer"
	"github.com/yubzen/runneragent/internal/replay"
	"github.com/yubzen/runneragent/internal/state"
	"github.com/yubzen/runneragent/internal/tui"
	"github.com/yubzen/runneragent/internal/wire"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.LoadFile(o.configPath)
}

// NewRootCmd builds the runneragent command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "runneragent",
		Short:         "Remote debugger and event stream for test runs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := opts.logLevel
			if level == "" {
				cfg, err := opts.load()
				if err != nil {
					return err
				}
				level = cfg.Log.Level
			}
			log.Configure(log.Config{Level: level, Output: cmd.ErrOrStderr()})
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", config.GetConfigPath(), "Config file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (overrides config)")

	rootCmd.AddCommand(
		newReplayCmd(opts),
		newObserveCmd(opts),
		newControlCmd(),
		newStateCmd(opts),
		newHistoryCmd(),
		newConfigCmd(opts),
	)
	return rootCmd
}

func newReplayCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <script> [host] [port]",
		Short: "Run a scripted test execution with the agent attached",
		Long: "Run a YAML test script through the agent. A single trailing value is the\n" +
			"observer port; two are the observer host and port.",
		Args: cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := cfg.ApplyObserverArgs(args[1:]); err != nil {
				return err
			}
			script, err := replay.Load(args[0])
			if err != nil {
				return err
			}
			return runReplay(cmd.Context(), cmd.OutOrStdout(), cfg, script)
		},
	}
}

func runReplay(ctx context.Context, out io.Writer, cfg *config.Config, script *replay.Script) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runner := replay.NewRunner(script, nil)
	a, err := agent.NewFromConfig(ctx, cfg, runner)
	if err != nil {
		return err
	}
	defer a.Close()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	stopRun := context.AfterFunc(sigCtx, func() { _ = runner.Stop() })
	defer stopRun()

	fmt.Fprintf(out, "control endpoint %s\n", a.ControlAddr())
	res, err := runner.Run(ctx, a)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d passed, %d failed", res.Passed, res.Failed)
	if res.Stopped {
		fmt.Fprint(out, " (stopped)")
	}
	fmt.Fprintln(out)
	return a.Close()
}

func newObserveCmd(opts *rootOptions) *cobra.Command {
	var listenAddr string
	var recordPath string
	var plain bool
	observeCmd := &cobra.Command{
		Use:   "observe",
		Short: "Wait for an agent and show its run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listenAddr == "" {
				cfg, err := opts.load()
				if err != nil {
					return err
				}
				listenAddr = cfg.ObserverAddr()
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runObserve(ctx, cmd.OutOrStdout(), listenAddr, recordPath, plain)
		},
	}
	observeCmd.Flags().StringVar(&listenAddr, "listen", "", "Address to listen on (default from config)")
	observeCmd.Flags().StringVar(&recordPath, "record", "", "SQLite database to journal events into")
	observeCmd.Flags().BoolVar(&plain, "plain", false, "Print events instead of starting the UI")
	return observeCmd
}

func runObserve(ctx context.Context, out io.Writer, listenAddr, recordPath string, plain bool) error {
	srv, err := observer.Listen(listenAddr, nil)
	if err != nil {
		return err
	}
	defer srv.Close()
	fmt.Fprintf(out, "waiting for agent on %s\n", srv.Addr())

	sess, err := srv.Accept(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	defer sess.Close()

	var rec *observer.Recorder
	if recordPath != "" {
		db, err := state.Connect(recordPath)
		if err != nil {
			return err
		}
		defer db.Close()
		rec, err = observer.NewRecorder(ctx, db, sess.RemoteAddr())
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	uiEvents := make(chan wire.Event, 64)

	g.Go(func() error {
		defer close(uiEvents)
		var f observer.Formatter
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-sess.Events():
				if !ok {
					return sess.Err()
				}
				if rec != nil {
					if err := rec.Record(gctx, ev); err != nil {
						return err
					}
				}
				if plain {
					fmt.Fprintln(out, f.Format(ev).String())
					continue
				}
				select {
				case uiEvents <- ev:
				case <-gctx.Done():
					return nil
				}
			}
		}
	})

	if !plain {
		g.Go(func() error {
			err := tui.Run(gctx, uiEvents, sess)
			// Quitting the UI ends the session.
			cancel()
			_ = sess.Close()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

func newControlCmd() *cobra.Command {
	var addr string
	controlCmd := &cobra.Command{
		Use:   "control [command]",
		Short: "Send a debugger command to a running agent",
		Long: "Send one of: " + commandList() + ".\n" +
			"Without a command the agent applies the command stored in its shared state.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				return errors.New("--addr is required")
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if len(args) == 0 {
				return control.Poke(ctx, addr)
			}
			c, ok := wire.ParseCommand(args[0])
			if !ok {
				return fmt.Errorf("unknown command %q, expected one of: %s", args[0], commandList())
			}
			if err := control.Send(ctx, addr, c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s\n", c, addr)
			return nil
		},
	}
	controlCmd.Flags().StringVar(&addr, "addr", "", "Agent control endpoint (host:port)")
	return controlCmd
}

func commandList() string {
	cmds := wire.Commands()
	names := make([]string, 0, len(cmds))
	for _, c := range cmds {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}

type propertyLister interface {
	Properties(ctx context.Context) (map[string]string, error)
}

func newStateCmd(opts *rootOptions) *cobra.Command {
	var backend string
	var path string
	open := func() (state.Store, error) {
		cfg, err := opts.load()
		if err != nil {
			return nil, err
		}
		if backend == "" {
			backend = cfg.State.Backend
		}
		if path == "" {
			path = cfg.State.Path
		}
		return state.Open(backend, path)
	}

	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Read or change the shared agent state",
	}
	stateCmd.PersistentFlags().StringVar(&backend, "backend", "", "State backend (memory, sqlite, properties)")
	stateCmd.PersistentFlags().StringVar(&path, "path", "", "State file")

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print one value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			v, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store one value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Set(cmd.Context(), args[0], args[1])
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print every stored value (sqlite backend)",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			lister, ok := store.(propertyLister)
			if !ok {
				return fmt.Errorf("backend %q cannot list values", backend)
			}
			props, err := lister.Properties(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 2, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tVALUE")
			for _, k := range sortedKeys(props) {
				fmt.Fprintf(w, "%s\t%s\n", k, props[k])
			}
			return w.Flush()
		},
	}

	stateCmd.AddCommand(getCmd, setCmd, listCmd)
	return stateCmd
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <db> [run-id]",
		Short: "List recorded runs, or the events of one run",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := state.Connect(args[0])
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 2, 2, ' ', 0)
			if len(args) == 1 {
				runs, err := db.ListRuns(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "RUN\tSTARTED\tAGENT\tPID")
				for _, r := range runs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.AgentAddr, r.PID)
				}
				return w.Flush()
			}

			entries, err := db.ListEvents(ctx, args[1])
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return fmt.Errorf("no events recorded for run %s", args[1])
			}
			fmt.Fprintln(w, "SEQ\tEVENT\tARGS")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%s\t%s\n", e.Seq, e.Name, e.Args)
			}
			return w.Flush()
		},
	}
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return config.RunConfigForm(cfg, opts.configPath)
		},
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(opts.configPath); err == nil {
				return fmt.Errorf("%s already exists", opts.configPath)
			}
			if err := config.Default().SaveFile(opts.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", opts.configPath)
			return nil
		},
	}

	configCmd.AddCommand(initCmd)
	return configCmd
}

func sortedKeys(m map[string]string) []string {
	var keys []string
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
