package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"vigil/cmd/vigil/ui"
	"vigil/internal/directory"
	"vigil/internal/logging"
)

func main() {
	if err := logging.Configure(logging.LevelWarn); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorMsg("%v", err))
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var dir string
	var plain bool

	root := &cobra.Command{
		Use:           "vigil",
		Short:         "Control a running vigild daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ui.Configure(plain)
		},
	}
	root.PersistentFlags().StringVar(&dir, "dir", defaultWorkDir(), "Working directory of the daemon")
	root.PersistentFlags().BoolVar(&plain, "plain", false, "Disable colored output")

	root.AddCommand(
		statusCmd(&dir),
		camerasCmd(&dir),
		cameraCmd(&dir),
		rulesCmd(&dir),
		ruleCmd(&dir),
		setCmd(&dir),
		quitCmd(&dir),
	)
	return root
}

func defaultWorkDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.vigil"
	}
	return "/var/lib/vigil"
}

// call runs one directory operation with a bounded context.
func call(dir, op string, params, out any) error {
	client := directory.NewClient(filepath.Join(dir, directory.SocketName))
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return client.Call(ctx, op, params, out)
}

func statusCmd(dir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var st directory.StatusReply
			if err := call(*dir, directory.OpStatus, nil, &st); err != nil {
				return err
			}

			fmt.Println(ui.KeyValues("  ",
				ui.KV("Phase", st.Phase),
				ui.KV("PID", fmt.Sprint(st.PID)),
				ui.KV("Uptime", st.Uptime),
				ui.KV("Cameras", fmt.Sprint(st.Cameras)),
			))
			if len(st.Workers) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(st.Workers))
			for _, w := range st.Workers {
				rows = append(rows, []string{
					w.Kind, w.Name, fmt.Sprint(w.PID), fmt.Sprint(w.Restarts), w.LastSeen,
				})
			}
			fmt.Println(ui.Table([]string{"KIND", "NAME", "PID", "RESTARTS", "LAST SEEN"}, rows))
			return nil
		},
	}
}

func setCmd(dir *string) *cobra.Command {
	var p directory.SettingsParams

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change daemon settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if p == (directory.SettingsParams{}) {
				return fmt.Errorf("nothing to change: pass at least one flag")
			}
			if err := call(*dir, directory.OpSettings, p, nil); err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("settings updated"))
			return nil
		},
	}

	cmd.Flags().Int64Var(&p.MaxStorageBytes, "max-storage-bytes", 0, "Recorded video storage budget")
	cmd.Flags().IntVar(&p.CacheHours, "cache-hours", 0, "Hours unsaved clips stay before reclamation")
	cmd.Flags().IntVar(&p.WebPort, "web-port", 0, "Remote access port")
	cmd.Flags().StringVar(&p.WebUser, "web-user", "", "Remote access user")
	cmd.Flags().StringVar(&p.WebPassword, "web-password", "", "Remote access password")
	return cmd
}

func quitCmd(dir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "quit",
		Short: "Shut the daemon down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := call(*dir, directory.OpQuit, nil, nil); err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("shutdown requested"))
			return nil
		},
	}
}
