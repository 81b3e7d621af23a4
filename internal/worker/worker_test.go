package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"testing"
	"time"

	"vigil"
	"vigil/internal/ipc"
	"vigil/internal/msg"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// harness wires a worker's pipes and collects what it emits.
type harness struct {
	commands *ipc.Port
	events   <-chan msg.Message
	done     chan error
}

func startWorker(t *testing.T, opts Options) *harness {
	t.Helper()
	cmdR, cmdW := io.Pipe()
	evR, evW := io.Pipe()
	opts.Log = discard()

	events := make(chan msg.Message, 16)
	go func() {
		sc := bufio.NewScanner(evR)
		for sc.Scan() {
			var env msg.Envelope
			if err := json.Unmarshal(sc.Bytes(), &env); err != nil {
				continue
			}
			if m, err := msg.Decode(env); err == nil {
				events <- m
			}
		}
		close(events)
	}()

	done := make(chan error, 1)
	go func() {
		done <- run(context.Background(), opts, cmdR, ipc.NewEventWriter(evW))
		_ = evW.Close()
	}()
	t.Cleanup(func() { _ = cmdW.Close() })

	return &harness{commands: ipc.NewPort(cmdW), events: events, done: done}
}

func (h *harness) waitExit(t *testing.T) {
	t.Helper()
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("worker exited with %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit")
	}
}

func (h *harness) nextEvent(t *testing.T) msg.Message {
	t.Helper()
	select {
	case m, ok := <-h.events:
		if !ok {
			t.Fatal("event pipe closed")
		}
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
		return nil
	}
}

func TestWorkerPingsImmediatelyAndQuits(t *testing.T) {
	h := startWorker(t, Options{Kind: vigil.WorkerCamera, Camera: "porch"})

	ping, ok := h.nextEvent(t).(*msg.CameraPing)
	if !ok || ping.Camera != "porch" {
		t.Fatalf("first event = %+v", ping)
	}

	if err := h.commands.Send(&msg.Quit{}); err != nil {
		t.Fatal(err)
	}
	h.waitExit(t)
}

func TestWorkerDeliversQuitReply(t *testing.T) {
	h := startWorker(t, Options{Kind: vigil.WorkerCamera, Camera: "porch"})
	h.nextEvent(t) // initial ping

	reply, err := msg.Encode(&msg.TerminateReady{Camera: "porch"})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.commands.Send(&msg.QuitWithReply{Reply: reply}); err != nil {
		t.Fatal(err)
	}

	ready, ok := h.nextEvent(t).(*msg.TerminateReady)
	if !ok || ready.Camera != "porch" {
		t.Fatalf("reply = %+v", ready)
	}
	h.waitExit(t)
}

func TestWorkerRoutesCommandsToHandler(t *testing.T) {
	var mu sync.Mutex
	var got []msg.Kind

	h := startWorker(t, Options{
		Kind:   vigil.WorkerReclaimer,
		Handle: func(m msg.Message, events *ipc.EventWriter) {
			mu.Lock()
			got = append(got, m.MessageKind())
			mu.Unlock()
		},
	})
	h.nextEvent(t)

	if err := h.commands.Send(&msg.SetMaxStorage{Bytes: 1 << 30}); err != nil {
		t.Fatal(err)
	}
	if err := h.commands.Send(&msg.Quit{}); err != nil {
		t.Fatal(err)
	}
	h.waitExit(t)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != msg.KindSetMaxStorage {
		t.Errorf("handler saw %v", got)
	}
}

func TestCommandReaderExitsAfterContextCancel(t *testing.T) {
	base := runtime.NumGoroutine()
	cmdR, cmdW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- run(ctx, Options{Kind: vigil.WorkerWeb, Log: discard()},
			cmdR, ipc.NewEventWriter(io.Discard))
	}()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run = %v", err)
	}

	// The main loop is gone without draining the quit channel; a quit
	// arriving now must not park the reader forever.
	if err := ipc.NewPort(cmdW).Send(&msg.Quit{}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > base {
		if time.Now().After(deadline) {
			t.Fatal("command reader still running")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWorkerExitsWhenCommandPipeCloses(t *testing.T) {
	h := startWorker(t, Options{Kind: vigil.WorkerWeb})
	h.nextEvent(t)

	if err := h.commands.Close(); err != nil {
		t.Fatal(err)
	}
	h.waitExit(t)
}
