// Package proc spawns and reaps worker processes. Workers run in their
// own process group so a kill takes out any descendants a hung worker
// may have spawned.
package proc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Handle is a live worker process.
type Handle struct {
	cmd *exec.Cmd

	mu     sync.Mutex
	waited bool
	state  *os.ProcessState
}

// Pipes are the worker's ends of the duplex channel wired up at spawn:
// Commands is the worker's stdin, Events is an extra pipe the worker
// inherits as fd 3.
type Pipes struct {
	Commands io.WriteCloser
	Events   io.ReadCloser
}

// Start launches the named binary with args in its own process group.
// The returned Pipes carry the orchestrator ends of the worker channel.
func Start(binary string, args []string, extraEnv []string) (*Handle, Pipes, error) {
	cmd := exec.Command(binary, args...)
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, Pipes{}, fmt.Errorf("command pipe: %w", err)
	}

	eventR, eventW, err := os.Pipe()
	if err != nil {
		return nil, Pipes{}, fmt.Errorf("event pipe: %w", err)
	}
	cmd.ExtraFiles = []*os.File{eventW}

	if err := cmd.Start(); err != nil {
		_ = eventR.Close()
		_ = eventW.Close()
		return nil, Pipes{}, fmt.Errorf("start %s: %w", binary, err)
	}
	// The child holds its own copy of the write end.
	_ = eventW.Close()

	h := &Handle{cmd: cmd}
	go h.reap()
	return h, Pipes{Commands: stdin, Events: eventR}, nil
}

func (h *Handle) reap() {
	_ = h.cmd.Wait()
	h.mu.Lock()
	h.waited = true
	h.state = h.cmd.ProcessState
	h.mu.Unlock()
}

// PID returns the worker's process id.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// Alive reports whether the worker process has not yet exited.
func (h *Handle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.waited
}

// Kill force-terminates the worker and every process in its group. It is
// safe to call on an already-dead worker.
func (h *Handle) Kill() error {
	pid := h.cmd.Process.Pid
	err := unix.Kill(-pid, unix.SIGKILL)
	if err != nil && !errors.Is(err, unix.ESRCH) {
		// Group gone or never formed; fall back to the process itself.
		if killErr := h.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			return fmt.Errorf("kill worker %d: %w", pid, killErr)
		}
	}
	return nil
}

// Signal delivers sig to the worker process only.
func (h *Handle) Signal(sig os.Signal) error {
	return h.cmd.Process.Signal(sig)
}
