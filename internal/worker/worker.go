// Package worker is the shared scaffold of supervised worker processes:
// the command loop on stdin, the event pipe on fd 3, and the periodic
// ping that keeps the liveness monitor satisfied. Kind-specific behavior
// plugs in through Options.
package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"vigil"
	"vigil/internal/ipc"
	"vigil/internal/msg"
)

// eventsFd is the pipe the orchestrator wires up at spawn.
const eventsFd = 3

// Options configures one worker process.
type Options struct {
	Kind   vigil.WorkerKind
	Camera string // camera workers only

	// Handle receives every command that is not a quit. Runs on the
	// command reader goroutine.
	Handle func(m msg.Message, events *ipc.EventWriter)

	// Tick, when set, runs on every ping interval after the ping is
	// sent. Workers with periodic duties hang them here.
	Tick func(events *ipc.EventWriter)

	Log *slog.Logger
}

// Run drives a worker until the orchestrator says quit, the command
// pipe closes, or ctx is canceled. The reply of a QuitWithReply is
// delivered on the event pipe just before returning.
func Run(ctx context.Context, opts Options) error {
	return run(ctx, opts, os.Stdin, ipc.NewEventWriter(os.NewFile(eventsFd, "events")))
}

func run(ctx context.Context, opts Options, commands io.Reader, events *ipc.EventWriter) error {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	// Two slots: a quit command plus the pipe-closed signal behind it.
	// The reader must never block on this channel; the main loop can
	// return on ctx without draining it.
	quit := make(chan *msg.Envelope, 2)
	go func() {
		err := ipc.ReadCommands(commands, opts.Log, func(m msg.Message) bool {
			switch q := m.(type) {
			case *msg.Quit:
				quit <- nil
				return false
			case *msg.QuitWithReply:
				env := q.Reply
				quit <- &env
				return false
			default:
				if opts.Handle != nil {
					opts.Handle(m, events)
				}
				return true
			}
		})
		if err != nil {
			opts.Log.Warn("command pipe broke", "error", err)
		}
		// Pipe closed: the orchestrator is gone, wind down as if told.
		quit <- nil
	}()

	if err := events.Send(ping(opts)); err != nil {
		return fmt.Errorf("initial ping: %w", err)
	}

	ticker := time.NewTicker(opts.Kind.Timeout() / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case reply := <-quit:
			if reply != nil {
				m, err := msg.Decode(*reply)
				if err != nil {
					opts.Log.Warn("undeliverable quit reply", "error", err)
					return nil
				}
				if err := events.Send(m); err != nil {
					opts.Log.Warn("quit reply send failed", "error", err)
				}
			}
			return nil
		case <-ticker.C:
			if err := events.Send(ping(opts)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			if opts.Tick != nil {
				opts.Tick(events)
			}
		}
	}
}

func ping(opts Options) msg.Message {
	switch opts.Kind {
	case vigil.WorkerCamera, vigil.WorkerTest:
		return &msg.CameraPing{Camera: opts.Camera}
	case vigil.WorkerReclaimer:
		return &msg.ReclaimerPing{}
	case vigil.WorkerResponder:
		return &msg.ResponderPing{}
	default:
		return &msg.WebPing{}
	}
}
