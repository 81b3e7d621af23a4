// Package ntp watches the local clock against an NTP pool. The
// orchestrator's liveness cadence consults it: when the local clock has
// drifted or jumped, worker silence is the clock's fault, not the
// workers'.
package ntp

import (
	"context"
	"sync"
	"time"

	"vigil/internal/check"
	"vigil/internal/clock"

	"github.com/beevik/ntp"
)

const (
	defaultPool      = "pool.ntp.org"
	defaultInterval  = 60 * time.Second
	defaultThreshold = 500 * time.Millisecond
)

type Phase uint8

const (
	Unchecked Phase = iota + 1
	Healthy
	Skewed
	Unreachable
)

func (p Phase) String() string {
	switch p {
	case Unchecked:
		return "unchecked"
	case Healthy:
		return "healthy"
	case Skewed:
		return "skewed"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

func (p Phase) Transition(to Phase) Phase {
	ok := false
	switch p {
	case Unchecked:
		ok = to == Healthy || to == Skewed || to == Unreachable
	case Healthy:
		ok = to == Skewed || to == Unreachable
	case Skewed:
		ok = to == Healthy || to == Unreachable
	case Unreachable:
		ok = to == Healthy || to == Skewed || to == Unreachable
	}
	check.Assertf(ok, "ntp transition: %s -> %s", p, to)
	if !ok {
		return p
	}
	return to
}

type Status struct {
	Offset    time.Duration
	Phase     Phase
	Error     string
	CheckedAt time.Time
}

// Skewed reports whether the last check found the local clock off by
// more than the threshold. Unreachable pools don't count as skew.
func (s Status) Skewed() bool { return s.Phase == Skewed }

type Checker struct {
	mu        sync.RWMutex
	status    Status
	pool      string
	interval  time.Duration
	threshold time.Duration
	clock     clock.Clock

	CheckFunc func() Status
}

func NewChecker(clk clock.Clock) *Checker {
	check.Assert(clk != nil, "ntp.NewChecker: clock must not be nil")
	return &Checker{
		pool:      defaultPool,
		interval:  defaultInterval,
		threshold: defaultThreshold,
		status: Status{
			Phase: Unchecked,
		},
		clock: clk,
	}
}

func (n *Checker) Run(ctx context.Context) {
	n.check()

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.check()
		}
	}
}

func (n *Checker) check() {
	if n.CheckFunc != nil {
		n.mu.Lock()
		n.status = n.CheckFunc()
		n.mu.Unlock()
		return
	}

	resp, err := ntp.Query(n.pool)

	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clock.Now()
	if err != nil {
		n.status = Status{Error: err.Error(), Phase: Unreachable, CheckedAt: now}
		return
	}

	phase := Skewed
	if resp.ClockOffset.Abs() < n.threshold {
		phase = Healthy
	}
	n.status = Status{Offset: resp.ClockOffset, Phase: phase, CheckedAt: now}
}

func (n *Checker) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}
