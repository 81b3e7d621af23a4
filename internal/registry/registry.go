// Package registry tracks supervised worker processes and decides when
// one has stalled and must be replaced.
package registry

import (
	"time"

	"vigil"
	"vigil/internal/check"
	"vigil/internal/clock"
	"vigil/internal/msg"
	"vigil/internal/queue"
)

// Process is the subset of a worker process handle the registry needs.
type Process interface {
	Alive() bool
	Kill() error
	PID() int
}

// Sender is a worker's command channel. Workers with no inbound pipe
// register a nil Sender.
type Sender interface {
	Send(m msg.Message) error
	Close() error
}

// Worker is one supervised process.
type Worker struct {
	Kind     vigil.WorkerKind
	Name     string // camera name for camera workers, empty otherwise
	Proc     Process
	Cmd      Sender
	LastSeen time.Time
	Timeout  time.Duration
	Restarts int
}

type key struct {
	kind vigil.WorkerKind
	name string
}

// Registry holds all supervised workers. It is owned by the orchestration
// loop and not safe for concurrent use.
type Registry struct {
	clock   clock.Clock
	workers map[key]*Worker
}

// New creates an empty registry.
func New(clk clock.Clock) *Registry {
	check.Assert(clk != nil, "registry.New: clock must not be nil")
	return &Registry{clock: clk, workers: make(map[key]*Worker)}
}

// Register adds a worker, replacing any previous registration for the
// same identity. The restart count carries over from the replaced entry.
func (r *Registry) Register(kind vigil.WorkerKind, name string, p Process, cmd Sender) *Worker {
	k := key{kind, name}
	restarts := 0
	if prev, ok := r.workers[k]; ok {
		restarts = prev.Restarts
	}
	w := &Worker{
		Kind:     kind,
		Name:     name,
		Proc:     p,
		Cmd:      cmd,
		LastSeen: r.clock.Now(),
		Timeout:  kind.Timeout(),
		Restarts: restarts,
	}
	r.workers[k] = w
	return w
}

// Get looks up a worker by identity.
func (r *Registry) Get(kind vigil.WorkerKind, name string) (*Worker, bool) {
	w, ok := r.workers[key{kind, name}]
	return w, ok
}

// Remove forgets a worker without touching its process.
func (r *Registry) Remove(kind vigil.WorkerKind, name string) {
	delete(r.workers, key{kind, name})
}

// Touch records a liveness signal from a worker. Unknown workers are
// ignored; a stale ping can arrive after a worker was replaced.
func (r *Registry) Touch(kind vigil.WorkerKind, name string) {
	if w, ok := r.workers[key{kind, name}]; ok {
		w.LastSeen = r.clock.Now()
	}
}

// TouchAll advances every worker's last-seen time to now. Called after
// the loop detects it was asleep or stalled, so workers are not blamed
// for the orchestrator's own gap.
func (r *Registry) TouchAll() {
	now := r.clock.Now()
	for _, w := range r.workers {
		w.LastSeen = now
	}
}

// All returns every registered worker in unspecified order.
func (r *Registry) All() []*Worker {
	out := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w)
	}
	return out
}

// PendingScanner walks unprocessed queue messages in arrival order.
type PendingScanner interface {
	Pending(fn func(queue.Item) bool)
}

// CheckLiveness returns the workers that must be terminated and
// restarted. A worker is dead only if its last signal is older than its
// timeout AND no unprocessed liveness signal for it is sitting in the
// queue buffer; a buffered signal advances LastSeen and spares the
// worker this round.
func (r *Registry) CheckLiveness(pending PendingScanner) []*Worker {
	now := r.clock.Now()
	var dead []*Worker
	for _, w := range r.workers {
		if !w.Proc.Alive() {
			dead = append(dead, w)
			continue
		}
		if now.Sub(w.LastSeen) <= w.Timeout {
			continue
		}
		if at, ok := findBufferedPing(pending, w); ok && now.Sub(at) <= w.Timeout {
			// Spared: the ping just hasn't been dispatched yet. Advance
			// LastSeen so the buffer isn't rescanned every message.
			w.LastSeen = at
			continue
		}
		dead = append(dead, w)
	}
	return dead
}

// findBufferedPing returns the deposit time of the newest unprocessed
// liveness signal for w, if any.
func findBufferedPing(pending PendingScanner, w *Worker) (time.Time, bool) {
	var at time.Time
	found := false
	pending.Pending(func(item queue.Item) bool {
		if pingMatches(item.Msg, w) {
			at = item.Deposited
			found = true
		}
		return true
	})
	return at, found
}

func pingMatches(m msg.Message, w *Worker) bool {
	switch p := m.(type) {
	case *msg.CameraPing:
		return w.Kind == vigil.WorkerCamera && p.Camera == w.Name
	case *msg.ReclaimerPing:
		return w.Kind == vigil.WorkerReclaimer
	case *msg.ResponderPing:
		return w.Kind == vigil.WorkerResponder
	case *msg.WebPing:
		return w.Kind == vigil.WorkerWeb
	default:
		return false
	}
}
