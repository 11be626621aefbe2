package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/automation/internal/config"
	"github.com/roach88/automation/internal/engine"
	"github.com/roach88/automation/internal/metrics"
	"github.com/roach88/automation/internal/model"
	"github.com/roach88/automation/internal/store"
	"github.com/roach88/automation/internal/trigger"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database    string
	MetricsAddr string

	// ExitOnEOF stops the engine once the event input ends and in-flight
	// work is done, instead of waiting for a signal.
	ExitOnEOF bool

	// IDGenerator overrides the trigger session id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator engine.IDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [schedules-path]",
		Short: "Start the engine and feed it events from stdin",
		Long: `Start the automation engine over a SQLite database.

Schedules found at schedules-path (a YAML/JSON file or a directory) are
upserted on start. Events are read from stdin as JSON lines, for example:

  {"kind":"foreground"}
  {"kind":"screen_view","screen":"cart"}
  {"kind":"custom_event","data":{"name":"purchase"},"value":12.5}

Every executed schedule is written to stdout as a JSON line.

Example:
  automation run --db ./automation.db ./schedules < events.jsonl
  automation run --config ./automation.yaml --metrics-addr :9090`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runEngine(opts, path, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")
	cmd.Flags().BoolVar(&opts.ExitOnEOF, "exit-on-eof", false, "stop once stdin is exhausted and in-flight work is done")

	return cmd
}

func runEngine(opts *RunOptions, schedulesPath string, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.MetricsAddr != "" {
		cfg.MetricsAddr = opts.MetricsAddr
	}

	var schedules []model.Schedule
	if schedulesPath != "" {
		slog.Info("loading schedules", "path", schedulesPath)
		loaded, loadErrors := LoadSchedules(schedulesPath, LoadModeFailFast)
		if len(loadErrors) > 0 {
			return WrapExitError(ExitCommandError, "failed to load schedules", loadErrors[0])
		}
		schedules = loaded.Schedules
		slog.Info("schedules loaded", "files", len(loaded.Files), "schedules", len(schedules))
	}

	slog.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	recorder := metrics.NewRecorder()
	if cfg.MetricsAddr != "" {
		if err := metrics.NewServer(cfg.MetricsAddr, recorder).Start(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to start metrics server", err)
		}
	}

	engineOpts := []engine.Option{
		engine.WithConfig(cfg.Engine),
		engine.WithRecorder(recorder),
	}
	if opts.IDGenerator != nil {
		engineOpts = append(engineOpts, engine.WithIDGenerator(opts.IDGenerator))
	}
	eng := engine.New(st, st, consolePreparer{}, newConsoleExecutor(cmd.OutOrStdout()), engineOpts...)

	if err := eng.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to start engine", err)
	}
	defer func() {
		if stopErr := eng.Stop(); stopErr != nil {
			slog.Error("error stopping engine", "error", stopErr)
		}
	}()

	if len(schedules) > 0 {
		if err := eng.UpsertSchedules(ctx, schedules); err != nil {
			return ClassifyExitError(ErrCodeGeneric, "failed to upsert schedules", err)
		}
	}

	slog.Info("engine started, reading events from stdin", "db", cfg.Database)

	feed := make(chan trigger.Event)
	readErr := make(chan error, 1)
	go func() {
		readErr <- readEvents(ctx, cmd.InOrStdin(), feed)
	}()

	err = eng.ConsumeEvents(ctx, feed)
	if err != nil && !isShutdown(err) {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	if err == nil {
		if rerr := <-readErr; rerr != nil {
			return WrapExitError(ExitCommandError, "failed to read events", rerr)
		}
		if opts.ExitOnEOF {
			if err := eng.WaitIdle(ctx); err != nil && !isShutdown(err) {
				return WrapExitError(ExitFailure, "engine error", err)
			}
		} else {
			slog.Info("event input closed, running until signalled")
			<-ctx.Done()
		}
	}

	slog.Info("engine stopped gracefully")
	return nil
}

// readEvents decodes JSON-line events from r onto feed and closes it at
// EOF. Blank lines are skipped.
func readEvents(ctx context.Context, r io.Reader, feed chan<- trigger.Event) error {
	defer close(feed)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var ev trigger.Event
		if err := json.Unmarshal(text, &ev); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if ev.Kind == "" {
			return fmt.Errorf("line %d: event kind is required", line)
		}
		select {
		case feed <- ev:
		case <-ctx.Done():
			return nil
		}
	}
	return scanner.Err()
}

func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
