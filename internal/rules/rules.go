// Package rules holds the per-camera rule bindings: compiled queries,
// schedule state, and response fan-out.
package rules

import (
	"fmt"
	"log/slog"
	"time"

	"vigil"
	"vigil/internal/check"
	"vigil/internal/clock"
)

// CleanupGrace is how long rule state survives after its camera is
// removed, so analysis already in flight can finish against it.
const CleanupGrace = 2 * time.Minute

// binding is the live state of one rule: definition, compiled query,
// and cached schedule decision.
type binding struct {
	def        vigil.RuleDef
	query      Query
	scheduled  bool
	nextChange time.Time
}

// Set owns all rule bindings. It is owned by the orchestration loop and
// not safe for concurrent use.
type Set struct {
	clock  clock.Clock
	engine Engine
	sink   ResponseSink
	log    *slog.Logger

	byCamera map[string][]*binding
	coord    map[string][2]int    // camera -> last known processing size
	cleanup  map[string]time.Time // camera -> removal deadline
}

// New creates an empty rule set.
func New(clk clock.Clock, engine Engine, sink ResponseSink, log *slog.Logger) *Set {
	check.Assert(engine != nil, "rules.New: engine must not be nil")
	check.Assert(sink != nil, "rules.New: sink must not be nil")
	return &Set{
		clock:    clk,
		engine:   engine,
		sink:     sink,
		log:      log,
		byCamera: make(map[string][]*binding),
		coord:    make(map[string][2]int),
		cleanup:  make(map[string]time.Time),
	}
}

// Add compiles and installs a rule, replacing any rule of the same name
// on the same camera. Installing a rule cancels a pending cleanup for
// its camera.
func (s *Set) Add(def vigil.RuleDef) error {
	q, err := s.engine.Compile(def)
	if err != nil {
		return fmt.Errorf("compile rule %q: %w", def.Name, err)
	}
	// A rule added while its camera is already streaming must see the
	// current processing size, not wait for the next reconnect.
	if wh, ok := s.coord[def.Camera]; ok {
		q.SetCoordSpace(wh[0], wh[1])
	}
	b := &binding{def: def, query: q}
	b.scheduled, b.nextChange = def.Schedule.Info(s.clock.Now())

	delete(s.cleanup, def.Camera)
	list := s.byCamera[def.Camera]
	for i, old := range list {
		if old.def.Name == def.Name {
			list[i] = b
			return nil
		}
	}
	s.byCamera[def.Camera] = append(list, b)
	return nil
}

// Remove drops a rule by name.
func (s *Set) Remove(camera, name string) {
	list := s.byCamera[camera]
	for i, b := range list {
		if b.def.Name == name {
			s.byCamera[camera] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// SetEnabled toggles a rule. Disabling resets the query; the rule's
// incremental state must not leak across the gap when it comes back.
func (s *Set) SetEnabled(camera, name string, enabled bool) bool {
	for _, b := range s.byCamera[camera] {
		if b.def.Name != name {
			continue
		}
		if b.def.Enabled && !enabled {
			b.query.Reset()
		}
		b.def.Enabled = enabled
		return true
	}
	return false
}

// Rules returns the definitions bound to a camera.
func (s *Set) Rules(camera string) []vigil.RuleDef {
	list := s.byCamera[camera]
	out := make([]vigil.RuleDef, 0, len(list))
	for _, b := range list {
		out = append(out, b.def)
	}
	return out
}

// SetCoordSpace pushes a camera's processing size to every bound query
// and remembers it for rules added later. Called when a capture worker
// (re)connects; pixel-space rules must be re-mapped to the new frame
// size.
func (s *Set) SetCoordSpace(camera string, w, h int) {
	s.coord[camera] = [2]int{w, h}
	for _, b := range s.byCamera[camera] {
		b.query.SetCoordSpace(w, h)
	}
}

// SyncSchedules re-evaluates schedule state for bindings whose cached
// next-change time has passed. A rule leaving its schedule window resets
// its query exactly once.
func (s *Set) SyncSchedules() {
	now := s.clock.Now()
	for camera, list := range s.byCamera {
		for _, b := range list {
			if now.Before(b.nextChange) {
				continue
			}
			was := b.scheduled
			b.scheduled, b.nextChange = b.def.Schedule.Info(now)
			if was && !b.scheduled {
				b.query.Reset()
				s.log.Info("rule left schedule window",
					"camera", camera, "rule", b.def.Name)
			}
		}
	}
}

// Analyze runs one analysis pass for a camera: scheduled, enabled rules
// search the range; every enabled rule's responses hear about the pass
// either way so they can track progress. The first search or delivery
// error aborts the pass.
func (s *Set) Analyze(camera string, startMs, endMs int64) error {
	for _, b := range s.byCamera[camera] {
		if !b.def.Enabled {
			continue
		}
		var matches []Match
		if b.scheduled {
			var err error
			matches, err = b.query.Search(startMs, endMs)
			if err != nil {
				return fmt.Errorf("rule %q search: %w", b.def.Name, err)
			}
		}
		if err := s.sink.Deliver(b.def, endMs, matches); err != nil {
			return fmt.Errorf("rule %q deliver: %w", b.def.Name, err)
		}
	}
	return nil
}

// ScheduleCleanup marks a camera for cleanup after the grace period.
// Cameras with no bound rules are tracked too; deferred data removal
// rides on the same deadline.
func (s *Set) ScheduleCleanup(camera string) {
	s.cleanup[camera] = s.clock.Now().Add(CleanupGrace)
}

// CancelCleanup keeps a camera's state when it comes back during the
// grace period.
func (s *Set) CancelCleanup(camera string) {
	delete(s.cleanup, camera)
}

// RunCleanup removes rule state for cameras whose grace period has
// passed and returns those camera names.
func (s *Set) RunCleanup() []string {
	now := s.clock.Now()
	var removed []string
	for camera, deadline := range s.cleanup {
		if now.Before(deadline) {
			continue
		}
		delete(s.cleanup, camera)
		delete(s.byCamera, camera)
		delete(s.coord, camera)
		removed = append(removed, camera)
	}
	return removed
}
