// Command autosave watches a source tree and tells the editor to save
// after files change.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"claude-auto/internal/config"
	"claude-auto/internal/console"
	"claude-auto/internal/logger"
	"claude-auto/internal/watcher"
)

// Version is set at build time via ldflags
var Version = "dev"

type options struct {
	Yolo        bool
	SaveCommand string
	Settings    string
	LockDir     string
	LogLevel    string
	LogFormat   string
}

func main() {
	if err := buildRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "autosave [path]",
		Short:         "Save editor buffers automatically when files change",
		Args:          cobra.MaximumNArgs(1),
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(c *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, root, opts, console.New(stdout, stderr))
		},
	}

	rootCmd.Flags().BoolVar(&opts.Yolo, "yolo", false, "Save on every change, ignoring save_delay")
	rootCmd.Flags().StringVar(&opts.SaveCommand, "save-command", "", "Command that saves the focused editor buffer (default \"code --command workbench.action.files.save\")")
	rootCmd.Flags().StringVar(&opts.Settings, "settings", "", "Settings file (default ~/.claude/settings.json)")
	rootCmd.Flags().StringVar(&opts.LockDir, "lock-dir", "", "Directory for the single-instance lock (default system temp dir)")
	rootCmd.Flags().StringVar(&opts.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.Flags().StringVar(&opts.LogFormat, "log-format", "text", "Log format: text or json")

	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	return rootCmd
}

func runDaemon(ctx context.Context, root string, opts *options, con *console.Console) error {
	if !logger.ValidLevel(opts.LogLevel) {
		return fmt.Errorf("invalid log level %q", opts.LogLevel)
	}
	log, err := logger.New(logger.Config{Level: opts.LogLevel, Format: opts.LogFormat})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", root, err)
	}

	lock, err := watcher.AcquireLock(opts.LockDir, abs)
	if err != nil {
		if errors.Is(err, watcher.ErrAlreadyRunning) {
			con.Errorf("another autosave daemon is already watching %s", abs)
		}
		return err
	}
	defer func() { _ = lock.Unlock() }()

	paths := config.DefaultSettingsPaths()
	if opts.Settings != "" {
		paths = []string{opts.Settings}
	}
	settings := config.LoadSettings(paths...)

	wopts := watcher.OptionsFromSettings(abs, settings, opts.Yolo)
	wopts.Log = log
	if opts.SaveCommand != "" {
		cmd, err := watcher.ParseCommand(opts.SaveCommand)
		if err != nil {
			return err
		}
		wopts.Saver = watcher.CommandSaver{Command: cmd}
	}

	w, err := watcher.New(wopts)
	if err != nil {
		return err
	}

	con.Notice("autosave watching %s (Ctrl+C to stop)", abs)
	if opts.Yolo {
		con.Notice("yolo mode: every change is saved immediately after it settles")
	}
	if !wopts.AutoSave {
		con.Notice("auto_save is off in settings; changes are only logged")
	}

	if err := w.Run(ctx); err != nil {
		log.Error("watcher stopped", zap.Error(err))
		return err
	}
	con.Notice("autosave stopped")
	return nil
}
