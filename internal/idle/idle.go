// Package idle batches per-camera analysis work and runs it in the
// loop's idle slices, debounced so a busy stream doesn't re-trigger
// analysis on every frame.
package idle

import (
	"time"

	"vigil/internal/check"
	"vigil/internal/clock"
)

const (
	// MinAdvance is how far a camera's processed time must move past its
	// last analyzed point before it is worth analyzing again.
	MinAdvance = time.Second

	// MaxStaleness bounds how long pending work can sit while streams
	// advance in sub-second dribbles.
	MaxStaleness = 5 * time.Second
)

type camState struct {
	pendingMs  int64 // newest processed time not yet analyzed
	analyzedMs int64
}

// Processor tracks which cameras have unanalyzed stream progress. It
// is owned by the orchestration loop and not safe for concurrent use.
type Processor struct {
	clock   clock.Clock
	run     func(camera string, upToMs int64) error
	cameras map[string]*camState
	lastRun time.Time
}

// New creates a processor that calls run for at most one camera per
// idle slice.
func New(clk clock.Clock, run func(camera string, upToMs int64) error) *Processor {
	check.Assert(run != nil, "idle.New: run must not be nil")
	return &Processor{
		clock:   clk,
		run:     run,
		cameras: make(map[string]*camState),
		lastRun: clk.Now(),
	}
}

// Note records that a camera's stream has been processed up to
// processedMs. Regressions are ignored; capture workers can replay
// progress after a reconnect.
func (p *Processor) Note(camera string, processedMs int64) {
	s, ok := p.cameras[camera]
	if !ok {
		s = &camState{}
		p.cameras[camera] = s
	}
	if processedMs > s.pendingMs {
		s.pendingMs = processedMs
	}
}

// Forget drops all state for a camera.
func (p *Processor) Forget(camera string) {
	delete(p.cameras, camera)
}

// HasPending reports whether any camera has unanalyzed progress.
func (p *Processor) HasPending() bool {
	for _, s := range p.cameras {
		if s.pendingMs > s.analyzedMs {
			return true
		}
	}
	return false
}

// RunSlice analyzes at most one camera: the one whose pending progress
// is oldest, provided it advanced at least MinAdvance since its last
// analysis, no analysis ran anywhere in MaxStaleness, or force is set.
// It returns the camera analyzed, or ok=false when nothing was eligible.
func (p *Processor) RunSlice(force bool) (string, bool, error) {
	now := p.clock.Now()
	stale := now.Sub(p.lastRun) >= MaxStaleness

	var pick string
	var pickMs int64
	for camera, s := range p.cameras {
		if s.pendingMs <= s.analyzedMs {
			continue
		}
		eligible := force || stale ||
			time.Duration(s.pendingMs-s.analyzedMs)*time.Millisecond >= MinAdvance
		if !eligible {
			continue
		}
		if pick == "" || s.pendingMs < pickMs {
			pick = camera
			pickMs = s.pendingMs
		}
	}
	if pick == "" {
		return "", false, nil
	}

	s := p.cameras[pick]
	upTo := s.pendingMs
	if err := p.run(pick, upTo); err != nil {
		return pick, true, err
	}
	s.analyzedMs = upTo
	p.lastRun = now
	return pick, true, nil
}
