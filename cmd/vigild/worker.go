package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"vigil"
	"vigil/internal/clock"
	"vigil/internal/ipc"
	"vigil/internal/logging"
	"vigil/internal/msg"
	"vigil/internal/reclaim"
	"vigil/internal/respond"
	"vigil/internal/worker"
)

// workerCmd hosts the hidden subcommands the daemon spawns as worker
// processes. Users never run these directly.
func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run a supervised worker process",
		Hidden: true,
	}
	cmd.AddCommand(
		cameraWorkerCmd(),
		reclaimerWorkerCmd(),
		responderWorkerCmd(),
		webWorkerCmd(),
	)
	return cmd
}

// workerLogging points the worker's logs at its own file under the
// working directory, so output survives a SIGKILL from the liveness
// monitor.
func workerLogging(dir, name string) error {
	_, err := logging.ConfigureWithFile(logging.LevelInfo, dir, "vigild-"+name+".log")
	return err
}

// cameraWorkerCmd is the capture process scaffold. The capture pipeline
// itself is an external collaborator; this process keeps the liveness
// and teardown protocol honest and logs the commands it would forward.
func cameraWorkerCmd() *cobra.Command {
	var dir, camera string
	var channel int64

	cmd := &cobra.Command{
		Use:   "camera",
		Short: "Capture worker for one camera",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := workerLogging(dir, "camera-"+camera); err != nil {
				return err
			}
			log := slog.Default().With("camera", camera, "channel", channel)
			log.Info("camera worker starting")

			return worker.Run(cmd.Context(), worker.Options{
				Kind:   vigil.WorkerCamera,
				Camera: camera,
				Log:    log,
				Handle: func(m msg.Message, events *ipc.EventWriter) {
					switch m.(type) {
					case *msg.FlushVideo, *msg.LiveViewOn, *msg.LiveViewOff,
						*msg.LiveViewParams, *msg.AddSavedTimes:
						log.Debug("capture command", "kind", m.MessageKind().String())
					default:
						log.Warn("unexpected command", "kind", m.MessageKind().String())
					}
				},
			})
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Working directory")
	cmd.Flags().StringVar(&camera, "camera", "", "Camera name")
	cmd.Flags().Int64Var(&channel, "channel", 0, "Observation channel id")
	_ = cmd.MarkFlagRequired("dir")
	_ = cmd.MarkFlagRequired("camera")
	return cmd
}

func reclaimerWorkerCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "reclaimer",
		Short: "Disk reclaimer worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := workerLogging(dir, "reclaimer"); err != nil {
				return err
			}
			log := slog.Default()
			rec := reclaim.New(dir, clock.Real{})
			wasShort := false

			return worker.Run(cmd.Context(), worker.Options{
				Kind: vigil.WorkerReclaimer,
				Log:  log,
				Handle: func(m msg.Message, events *ipc.EventWriter) {
					switch c := m.(type) {
					case *msg.SetMaxStorage:
						rec.SetMaxBytes(c.Bytes)
					case *msg.SetCacheDuration:
						rec.SetCacheHours(c.Hours)
					default:
						log.Warn("unexpected command", "kind", m.MessageKind().String())
					}
				},
				Tick: func(events *ipc.EventWriter) {
					freed, short, err := rec.Sweep()
					if err != nil {
						log.Error("sweep failed", "error", err)
						return
					}
					if freed > 0 {
						log.Info("reclaimed video", "bytes", freed)
					}
					// Report once per episode, not every tick.
					if short && !wasShort {
						_ = events.Send(&msg.InsufficientSpace{})
					}
					wasShort = short
				},
			})
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Working directory")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

func responderWorkerCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "responder",
		Short: "Response runner worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := workerLogging(dir, "responder"); err != nil {
				return err
			}
			log := slog.Default()
			runner := respond.New(dir, log)

			return worker.Run(cmd.Context(), worker.Options{
				Kind: vigil.WorkerResponder,
				Log:  log,
				Handle: func(m msg.Message, events *ipc.EventWriter) {
					matches, ok := m.(*msg.RuleMatches)
					if !ok {
						log.Warn("unexpected command", "kind", m.MessageKind().String())
						return
					}
					if err := runner.Deliver(matches); err != nil {
						log.Error("response delivery failed",
							"rule", matches.Rule, "error", err)
					}
				},
			})
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Working directory")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

// webWorkerCmd is the remote-access scaffold; the HTTP stack behind it
// is an external collaborator.
func webWorkerCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "web",
		Short: "Remote access worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := workerLogging(dir, "web"); err != nil {
				return err
			}
			log := slog.Default()

			return worker.Run(cmd.Context(), worker.Options{
				Kind: vigil.WorkerWeb,
				Log:  log,
				Handle: func(m msg.Message, events *ipc.EventWriter) {
					switch c := m.(type) {
					case *msg.WebSetPort:
						log.Info("web port configured", "port", c.Port)
					case *msg.WebSetAuth:
						log.Info("web credentials updated")
					default:
						log.Warn("unexpected command", "kind", m.MessageKind().String())
					}
				},
			})
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Working directory")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}
