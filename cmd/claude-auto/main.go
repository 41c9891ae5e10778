// Command claude-auto runs the claude CLI non-interactively, answering its
// confirmation prompts on stdin.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"claude-auto/internal/config"
	"claude-auto/internal/console"
	"claude-auto/internal/logger"
	"claude-auto/internal/patterns"
	"claude-auto/internal/realtime"
	"claude-auto/internal/session"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 2 * time.Second

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the root command and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	code := 1
	rootCmd := &cobra.Command{
		Use:   "claude-auto <args...>",
		Short: "Run claude with every confirmation prompt answered automatically",
		Long: "claude-auto starts claude with " + session.FlagSkipPermissions + " and " +
			session.FlagNonInteractive + ", forwards all arguments verbatim, and answers prompts on stdin.",
		Version: Version,
		// Everything belongs to the child, including --help.
		DisableFlagParsing: true,
		SilenceErrors:      true,
		SilenceUsage:       true,
		RunE: func(c *cobra.Command, args []string) error {
			var err error
			code, err = run(args, stdout, stderr)
			return err
		},
	}
	// cobra falls back to os.Args[1:] for a nil slice.
	if args == nil {
		args = []string{}
	}
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if code == 0 {
			code = 1
		}
	}
	return code
}

func run(args []string, stdout, stderr io.Writer) (int, error) {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: claude-auto <args...>")
		return 1, session.ErrNoArgs
	}

	opts, err := config.LoadOptions()
	if err != nil {
		return 1, err
	}

	log, err := logger.New(logger.Config{Level: opts.LogLevel, Format: opts.LogFormat})
	if err != nil {
		return 1, fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	settings := config.LoadSettings(opts.SettingsPaths()...)
	table := patterns.NewTable(settings, log)
	counts := table.CountBySource()
	log.Info("pattern table built",
		zap.Int("entries", table.Len()),
		zap.Int("docker", counts[patterns.SourceConfigDocker]),
		zap.Int("n8n", counts[patterns.SourceConfigN8N]))

	spec, err := session.NewSpec(opts.Binary, args, session.AutomationEnv())
	if err != nil {
		return 1, err
	}

	con := console.New(stdout, stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var supOpts []session.Option
	if opts.Listen != "" {
		srv := realtime.New(log, cancel)
		shutdown, err := serveObserver(opts.Listen, srv, log)
		if err != nil {
			return 1, err
		}
		defer shutdown()
		supOpts = append(supOpts, session.WithObserver(srv))
		con.Notice("observer listening on http://%s", opts.Listen)
	}

	sup := session.New(table, con, log, session.Config{
		PollInterval:   opts.PollInterval,
		Debounce:       opts.Debounce,
		DrainGrace:     opts.DrainGrace,
		TerminateGrace: opts.TerminateGrace,
	}, supOpts...)

	code, err := sup.Run(ctx, spec)
	if err != nil {
		log.WithError(err).Error("session failed")
		return code, nil // already reported on the console
	}
	if ctx.Err() != nil {
		con.Notice("interrupted")
	}
	return code, nil
}

// serveObserver starts the observer HTTP server and returns a function
// that stops it.
func serveObserver(addr string, srv *realtime.Server, log *logger.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("observer server error", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Close()
		_ = httpServer.Shutdown(ctx)
	}, nil
}
