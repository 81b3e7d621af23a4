package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"vigil/config"
	"vigil/daemon"
	"vigil/internal/logging"
)

func main() {
	if err := logging.Configure("info"); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "vigild",
		Short:         "Vigil camera supervision daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(runCmd(), workerCmd())
	return cmd
}

func runCmd() *cobra.Command {
	var dir string
	var debug bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Supervise cameras and workers over a working directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			lock, err := daemon.Acquire(dir)
			if err != nil {
				return err
			}
			defer lock.Release()

			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			level := cfg.LogLevel
			if debug {
				level = "debug"
			}
			if level != "" {
				if err := logging.Configure(level); err != nil {
					return err
				}
			}

			// The outer restart loop: a session asking for a restart has
			// already marked the working directory for recovery.
			for {
				restart, err := daemon.Run(ctx, dir)
				if err != nil {
					return err
				}
				if !restart || ctx.Err() != nil {
					return nil
				}
				slog.Info("restarting orchestrator session", "dir", dir)
			}
		},
	}

	cmd.Flags().StringVar(&dir, "dir", defaultWorkDir(), "Working directory")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}

func defaultWorkDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.vigil"
	}
	return "/var/lib/vigil"
}
