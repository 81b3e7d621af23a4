package daemon

import (
	"fmt"
	"os"
	"strconv"

	"vigil"
	"vigil/internal/ipc"
	"vigil/internal/orchestrator"
	"vigil/internal/proc"
)

// execLauncher starts workers by re-running this binary's hidden worker
// subcommands.
type execLauncher struct {
	binary string
	dir    string
}

func newExecLauncher(dir string) (*execLauncher, error) {
	bin, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate own binary: %w", err)
	}
	return &execLauncher{binary: bin, dir: dir}, nil
}

func (l *execLauncher) Launch(kind vigil.WorkerKind, name string, channel int64) (orchestrator.Worker, error) {
	args := []string{"worker", kind.String(), "--dir", l.dir}
	if name != "" {
		args = append(args, "--camera", name)
	}
	if kind == vigil.WorkerCamera {
		args = append(args, "--channel", strconv.FormatInt(channel, 10))
	}

	h, pipes, err := proc.Start(l.binary, args, nil)
	if err != nil {
		return orchestrator.Worker{}, err
	}
	return orchestrator.Worker{
		Proc:   h,
		Cmd:    ipc.NewPort(pipes.Commands),
		Events: pipes.Events,
	}, nil
}
