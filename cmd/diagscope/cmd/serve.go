package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/diagscope/diagscope/internal/config"
	"github.com/diagscope/diagscope/pkg/diagscope"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the diagnostic server",
	Long: `Start the diagnostic server and block until SIGINT or SIGTERM.

Examples:
  # Loopback on an ephemeral port
  diagscope serve

  # Fixed port, reachable from the network
  DIAGSCOPE_SERVER_ADDR=0.0.0.0:8080 diagscope serve

  # Development mode: debug logs, current directory exposed, stdout spans
  diagscope serve --dev

  # Take over from a diagscope server that is already running
  diagscope serve --force`,
	RunE: runServe,
}

var (
	devMode    bool
	forceStart bool
)

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, current directory exposed)")
	serveCmd.Flags().BoolVar(&forceStart, "force", false, "Stop the diagscope server holding the PID file and take its place")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load without validation so CLI flags can override first
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// PID file so "diagscope stop" can find us; its lock keeps a second
	// serve from claiming it.
	pidPath := pidFilePath()
	release, err := acquirePIDFile(pidPath)
	if errors.Is(err, errAlreadyServing) && forceStart {
		logger.Info("replacing running server", "pid_file", pidPath)
		release, err = replaceRunningServer(pidPath, cfg.ShutdownTimeoutDuration(), cmd.ErrOrStderr())
	}
	switch {
	case errors.Is(err, errAlreadyServing):
		return err
	case err != nil:
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	default:
		defer release()
	}

	if err := serve(ctx, cfg, logger, cmd.ErrOrStderr()); err != nil {
		return err
	}

	logger.Info("diagscope stopped")
	return nil
}

// serve starts the scope, prints the banner and blocks until ctx is done.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, banner io.Writer) error {
	scope, err := diagscope.New(scopeOptions(cfg, logger)...)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	ready := make(chan diagscope.Event, 1)
	_, startErr := scope.Start(ctx, false, diagscope.ListenerFunc(func(ev diagscope.Event) {
		ready <- ev
	}))

	select {
	case ev := <-ready:
		printBanner(banner, ev, cfg)
	case <-ctx.Done():
	}

	if startErr == nil {
		<-ctx.Done()
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeoutDuration())
	defer cancel()
	closeErr := scope.Close(shutdownCtx)

	if startErr != nil {
		return fmt.Errorf("failed to start server: %w", startErr)
	}
	return closeErr
}

// scopeOptions maps the configuration onto the embedding API.
func scopeOptions(cfg *config.Config, logger *slog.Logger) []diagscope.Option {
	opts := []diagscope.Option{
		diagscope.WithLogger(logger),
		diagscope.WithVersion(Version),
		diagscope.WithAddr(cfg.Server.Addr),
		diagscope.WithShutdownTimeout(cfg.ShutdownTimeoutDuration()),
		diagscope.WithReadHeaderTimeout(cfg.ReadHeaderTimeoutDuration()),
		diagscope.WithCompression(cfg.Server.Compression),
		diagscope.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		diagscope.WithQueueSize(cfg.Notify.QueueSize),
		diagscope.WithConfigDump(cfg),
	}
	if strings.EqualFold(cfg.Server.TrailingSlash, "strip") {
		opts = append(opts, diagscope.WithStripTrailingSlash())
	}
	if cfg.Tracing.Enabled {
		// stdout carries spans; logs and the banner go to stderr
		opts = append(opts, diagscope.WithTraceExporter(cfg.Tracing.Exporter, os.Stdout))
	}
	if cfg.Files.Root != "" {
		opts = append(opts, diagscope.WithFiles(cfg.Files.Root, cfg.Files.AllowDelete))
	}
	if cfg.Databases.Dir != "" {
		opts = append(opts, diagscope.WithDatabases(cfg.Databases.Dir))
	}
	for _, r := range cfg.Routes {
		opts = append(opts, diagscope.WithStaticRoutes(diagscope.StaticRoute{
			Name:     r.Name,
			Match:    r.Match,
			Priority: r.Priority,
			Status:   r.Status,
			MIMEType: r.MIMEType,
			Body:     r.Body,
		}))
	}
	return opts
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner prints the ready message and the enabled features.
func printBanner(w io.Writer, ev diagscope.Event, cfg *config.Config) {
	const (
		reset = "\033[0m"
		bold  = "\033[1m"
		cyan  = "\033[36m"
		red   = "\033[31m"
		dim   = "\033[2m"
	)

	if ev.Err != nil {
		fmt.Fprintf(w, "\n  %s%s%s\n\n", red, ev.Message(), reset)
		return
	}

	enabled := func(on bool, detail string) string {
		if !on {
			return dim + "disabled" + reset
		}
		return detail
	}

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  %s%s diagscope %s%s\n", bold, cyan, Version, reset)
	fmt.Fprintf(w, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(w, "  %s\n", ev.Message())
	fmt.Fprintf(w, "  %-14s %s\n", "Files:", enabled(cfg.Files.Root != "", cfg.Files.Root))
	fmt.Fprintf(w, "  %-14s %s\n", "Databases:", enabled(cfg.Databases.Dir != "", cfg.Databases.Dir))
	fmt.Fprintf(w, "  %-14s %d configured\n", "Routes:", len(cfg.Routes))
	fmt.Fprintf(w, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(w, "\n")
}
