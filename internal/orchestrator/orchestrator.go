// Package orchestrator runs the single-threaded supervision loop: it
// owns the message queue, the worker registry, the channel router, the
// idle processor, and the rule set, and drives them from one goroutine.
package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"go.opentelemetry.io/otel/trace"

	"vigil"
	"vigil/config"
	"vigil/internal/check"
	"vigil/internal/clock"
	"vigil/internal/health/ntp"
	"vigil/internal/idle"
	"vigil/internal/msg"
	"vigil/internal/queue"
	"vigil/internal/registry"
	"vigil/internal/router"
	"vigil/internal/rules"
	"vigil/internal/store"
	"vigil/internal/telemetry"
)

const (
	// PeriodicInterval is the cadence of liveness checks, schedule sync,
	// dead-channel purge, deferred cleanup, and frame flushing.
	PeriodicInterval = 10 * time.Second

	// pollTimeout bounds one quiet loop iteration.
	pollTimeout = 2 * time.Second

	// idleRecheck is the poll bound while idle work exists but is still
	// debounced. Short enough to catch the debounce windows, long enough
	// not to spin.
	idleRecheck = 500 * time.Millisecond

	// asleepThreshold: a loop gap longer than this means the host slept
	// or the clock jumped, and worker silence proves nothing.
	asleepThreshold = vigil.CameraTimeout / 2

	// renameForceAfter bounds how long a rename waits for the old
	// worker's acknowledgment before it is forced.
	renameForceAfter = 30 * time.Second

	// cleanupWait bounds how long Cleanup waits for workers to exit on
	// their own before killing them.
	cleanupWait = 15 * time.Second
)

// Worker bundles what the loop needs of a freshly launched process.
type Worker struct {
	Proc   registry.Process
	Cmd    registry.Sender
	Events io.ReadCloser
}

// Launcher starts worker processes. channel is only meaningful for
// camera workers.
type Launcher interface {
	Launch(kind vigil.WorkerKind, name string, channel int64) (Worker, error)
}

// Options configures an Orchestrator.
type Options struct {
	WorkDir  string
	Cameras  []vigil.CameraConfig
	Rules    []vigil.RuleDef
	Launcher Launcher
	Store    *store.Store
	Engine   rules.Engine

	MaxStorageBytes int64
	CacheHours      int
	WebPort         int

	// Persist, when set, receives the effective configuration after every
	// mutation so a restart starts from the same state.
	Persist func(cfg *config.Config) error

	Clock  clock.Clock
	Log    *slog.Logger
	Tracer trace.Tracer
	NTP    *ntp.Checker
}

// session is the loop's view of one configured camera.
type session struct {
	cfg            vigil.CameraConfig
	status         vigil.CameraStatus
	reason         string
	channel        int64
	lastAnalyzedMs int64
	canTerminate   bool
	pendingLive    []msg.Message
}

type renameState struct {
	newName  string
	deadline time.Time
}

type Orchestrator struct {
	opts   Options
	clock  clock.Clock
	log    *slog.Logger
	tracer trace.Tracer

	queue  *queue.Queue
	reg    *registry.Registry
	router *router.Router
	idle   *idle.Processor
	rules  *rules.Set
	store  *store.Store

	phase    Phase
	started  time.Time
	lastLoop time.Time
	lastTick time.Time

	sessions       map[string]*session
	pendingRenames map[string]renameState
	removedData    map[string]bool

	handlers map[msg.Kind]func(msg.Message)
	desk     *Frontdesk

	restartOnExit bool
}

// New wires an orchestrator. Run does the rest.
func New(opts Options) *Orchestrator {
	check.Assert(opts.Launcher != nil, "orchestrator.New: launcher must not be nil")
	check.Assert(opts.Store != nil, "orchestrator.New: store must not be nil")
	check.Assert(opts.Engine != nil, "orchestrator.New: engine must not be nil")
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.Noop()
	}

	o := &Orchestrator{
		opts:           opts,
		clock:          opts.Clock,
		log:            opts.Log,
		tracer:         opts.Tracer,
		store:          opts.Store,
		phase:          Starting,
		sessions:       make(map[string]*session),
		pendingRenames: make(map[string]renameState),
		removedData:    make(map[string]bool),
	}
	o.queue = queue.New(o.clock)
	o.reg = registry.New(o.clock)
	o.router = router.New(o.clock)
	o.idle = idle.New(o.clock, o.analyzeCamera)
	o.rules = rules.New(o.clock, opts.Engine, &responderSink{o: o}, o.log)
	o.desk = newFrontdesk(o.queue.Inbound(), o.clock)
	o.handlers = o.buildHandlers()
	return o
}

// Frontdesk returns the thread-safe face other goroutines talk to.
func (o *Orchestrator) Frontdesk() *Frontdesk { return o.desk }

// Run drives the loop until quit, fatal store corruption, or ctx
// cancellation. The returned restart flag tells the outer supervisor
// whether to start a fresh orchestrator.
func (o *Orchestrator) Run(ctx context.Context) (restart bool, err error) {
	o.started = o.clock.Now()
	o.lastLoop = o.started
	o.lastTick = o.started

	o.startResident()
	for _, cfg := range o.opts.Cameras {
		s := &session{cfg: cfg, status: vigil.CameraOff}
		o.sessions[cfg.Name] = s
		if cfg.Enabled {
			o.startCamera(cfg.Name)
		}
	}
	for _, def := range o.opts.Rules {
		if err := o.rules.Add(def); err != nil {
			o.log.Error("dropping rule that does not compile", "rule", def.Name, "error", err)
		}
	}
	o.phase = o.phase.Transition(Running)
	o.publishSnapshot()
	o.log.Info("orchestrator running", "cameras", len(o.sessions), "pid", os.Getpid())

	ranIdle := false
	for o.phase == Running {
		select {
		case <-ctx.Done():
			o.beginShutdown(false)
			continue
		default:
		}

		maxWait := pollTimeout
		if ranIdle {
			maxWait = 0
		} else if o.hasIdleWork() {
			maxWait = idleRecheck
		}

		item, _, ok := o.queue.Poll(maxWait)

		now := o.clock.Now()
		if gap := now.Sub(o.lastLoop); gap > asleepThreshold {
			o.log.Warn("main loop gap, sparing workers", "gap", gap)
			o.reg.TouchAll()
		}
		o.lastLoop = now

		if ok {
			o.dispatch(ctx, item.Msg)
		}
		if o.phase != Running {
			break
		}
		if now.Sub(o.lastTick) >= PeriodicInterval {
			o.periodic()
		}
		ranIdle = o.runIdleSlice(false)
	}

	o.cleanup()
	o.phase = o.phase.Transition(Terminated)
	o.publishSnapshot()
	return o.restartOnExit, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, m msg.Message) {
	h, ok := o.handlers[m.MessageKind()]
	if !ok {
		o.log.Warn("dropping message with no handler", "kind", m.MessageKind())
		return
	}
	_, span := telemetry.Dispatch(ctx, o.tracer, m.MessageKind().String())
	h(m)
	telemetry.EndSpan(span, nil)
}

// hasIdleWork reports whether an idle slice could possibly do something.
func (o *Orchestrator) hasIdleWork() bool {
	return o.store.PendingFrames() > 0 || o.idle.HasPending()
}

// runIdleSlice flushes buffered observations, then services at most one
// camera's analysis. Reports whether it did anything.
func (o *Orchestrator) runIdleSlice(force bool) bool {
	did := false
	if o.store.PendingFrames() > 0 {
		if err := o.store.Flush(); err != nil {
			o.storeFailed(err)
			return false
		}
		did = true
	}
	camera, ran, err := o.idle.RunSlice(force)
	if err != nil {
		o.storeFailed(err)
		return did
	}
	if ran {
		o.log.Debug("analyzed camera", "camera", camera)
	}
	return did || ran
}

// drainIdle force-runs idle slices until no buffered observations or
// pending analysis remain. Runs before shutdown, renames, and camera
// data deletion; nothing pending may be abandoned or orphaned by those.
func (o *Orchestrator) drainIdle() {
	for o.runIdleSlice(true) {
	}
}

// analyzeCamera is the idle processor's run callback.
func (o *Orchestrator) analyzeCamera(camera string, upToMs int64) error {
	s, ok := o.sessions[camera]
	if !ok {
		return nil
	}
	if err := o.rules.Analyze(camera, s.lastAnalyzedMs, upToMs); err != nil {
		return err
	}
	s.lastAnalyzedMs = upToMs
	return nil
}

// periodic runs the 10-second cadence work.
func (o *Orchestrator) periodic() {
	now := o.clock.Now()
	o.lastTick = now

	skewed := o.opts.NTP != nil && o.opts.NTP.Status().Skewed()
	if skewed {
		o.log.Warn("local clock skewed, sparing workers",
			"offset", o.opts.NTP.Status().Offset)
		o.reg.TouchAll()
	} else {
		for _, w := range o.reg.CheckLiveness(o.queue) {
			o.log.Error("worker unresponsive, restarting",
				"kind", w.Kind, "name", w.Name, "pid", w.Proc.PID(),
				"restarts", w.Restarts)
			o.restartWorker(w)
		}
	}

	o.rules.SyncSchedules()

	for _, id := range o.router.PurgeExpired() {
		o.log.Debug("purged retired channel", "channel", id)
	}

	for old, st := range o.pendingRenames {
		if now.Before(st.deadline) {
			continue
		}
		o.log.Warn("forcing camera rename, worker never acknowledged",
			"old", old, "new", st.newName)
		if w, ok := o.reg.Get(vigil.WorkerCamera, old); ok {
			_ = w.Proc.Kill()
		}
		o.completeRename(old)
	}

	for _, camera := range o.rules.RunCleanup() {
		if o.removedData[camera] {
			delete(o.removedData, camera)
			o.drainIdle()
			if err := o.store.DeleteCamera(camera); err != nil {
				o.storeFailed(err)
				return
			}
			o.log.Info("removed camera data", "camera", camera)
		}
	}

	if o.store.PendingFrames() > 0 {
		if err := o.store.Flush(); err != nil {
			o.storeFailed(err)
			return
		}
	}

	o.publishSnapshot()
}

// storeFailed routes a storage error: corruption marks the working
// directory and shuts the loop down with a restart request; anything
// else is logged and survived.
func (o *Orchestrator) storeFailed(err error) {
	if !store.IsCorrupt(err) {
		o.log.Error("store operation failed", "error", err)
		return
	}
	o.log.Error("store corrupt, requesting recovery restart", "error", err)
	if merr := store.MarkCorrupt(o.opts.WorkDir); merr != nil {
		o.log.Error("writing corruption marker failed", "error", merr)
	}
	o.beginShutdown(true)
}

// persist hands the effective configuration to the Persist hook after a
// mutation. Failures are logged; the running state is already updated.
func (o *Orchestrator) persist() {
	if o.opts.Persist == nil {
		return
	}
	cfg := &config.Config{
		MaxStorageBytes: o.opts.MaxStorageBytes,
		CacheHours:      o.opts.CacheHours,
		WebPort:         o.opts.WebPort,
	}
	names := make([]string, 0, len(o.sessions))
	for name := range o.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cfg.Cameras = append(cfg.Cameras, o.sessions[name].cfg)
		cfg.Rules = append(cfg.Rules, o.rules.Rules(name)...)
	}
	if err := o.opts.Persist(cfg); err != nil {
		o.log.Error("persisting configuration failed", "error", err)
	}
}

// beginShutdown moves the loop to Cleanup.
func (o *Orchestrator) beginShutdown(restart bool) {
	if o.phase != Running && o.phase != Starting {
		return
	}
	o.restartOnExit = restart
	o.phase = o.phase.Transition(Cleanup)
}

// cleanup drains pending idle work, asks every worker to quit, waits a
// bounded time, kills the rest, and flushes what the store still
// buffers.
func (o *Orchestrator) cleanup() {
	o.log.Info("orchestrator cleanup")
	o.drainIdle()
	for _, w := range o.reg.All() {
		if w.Cmd != nil {
			if err := w.Cmd.Send(&msg.Quit{}); err != nil {
				o.log.Debug("quit send failed", "kind", w.Kind, "name", w.Name, "error", err)
			}
		}
	}

	anyAlive := func() bool {
		for _, w := range o.reg.All() {
			if w.Proc.Alive() {
				return true
			}
		}
		return false
	}
	for i := 0; i < int(cleanupWait/(100*time.Millisecond)) && anyAlive(); i++ {
		time.Sleep(100 * time.Millisecond)
	}
	for _, w := range o.reg.All() {
		if w.Proc.Alive() {
			o.log.Warn("killing worker that ignored quit", "kind", w.Kind, "name", w.Name)
			_ = w.Proc.Kill()
		}
		if w.Cmd != nil {
			_ = w.Cmd.Close()
		}
		o.reg.Remove(w.Kind, w.Name)
	}

	if o.store.PendingFrames() > 0 {
		if err := o.store.Flush(); err != nil {
			o.log.Error("final frame flush failed", "error", err)
		}
	}
}
