package orchestrator

import (
	"vigil"
	"vigil/internal/ipc"
	"vigil/internal/msg"
	"vigil/internal/registry"
	"vigil/internal/rules"
)

// startResident launches the singleton workers: disk reclaimer,
// response runner, web server.
func (o *Orchestrator) startResident() {
	o.launch(vigil.WorkerReclaimer, "", 0)
	o.launch(vigil.WorkerResponder, "", 0)
	o.launch(vigil.WorkerWeb, "", 0)

	if rec, ok := o.reg.Get(vigil.WorkerReclaimer, ""); ok && rec.Cmd != nil {
		if o.opts.MaxStorageBytes > 0 {
			_ = rec.Cmd.Send(&msg.SetMaxStorage{Bytes: o.opts.MaxStorageBytes})
		}
		if o.opts.CacheHours > 0 {
			_ = rec.Cmd.Send(&msg.SetCacheDuration{Hours: o.opts.CacheHours})
		}
	}
	if web, ok := o.reg.Get(vigil.WorkerWeb, ""); ok && web.Cmd != nil && o.opts.WebPort > 0 {
		_ = web.Cmd.Send(&msg.WebSetPort{Port: o.opts.WebPort})
	}
}

// launch starts one worker and wires its event pipe into the queue.
func (o *Orchestrator) launch(kind vigil.WorkerKind, name string, channel int64) *registry.Worker {
	w, err := o.opts.Launcher.Launch(kind, name, channel)
	if err != nil {
		o.log.Error("launching worker failed", "kind", kind, "name", name, "error", err)
		return nil
	}
	reg := o.reg.Register(kind, name, w.Proc, w.Cmd)
	if w.Events != nil {
		log := o.log.With("kind", kind, "name", name)
		go ipc.ReadEvents(w.Events, o.queue.Inbound(), o.clock, log, func(err error) {
			if err != nil {
				log.Debug("worker event pipe broke", "error", err)
			}
		})
	}
	o.log.Info("worker started", "kind", kind, "name", name, "pid", w.Proc.PID())
	return reg
}

// startCamera opens a fresh channel and launches the capture worker.
func (o *Orchestrator) startCamera(name string) {
	s, ok := o.sessions[name]
	if !ok {
		return
	}
	ch := o.router.Open(name)
	s.channel = ch.ID
	s.status = vigil.CameraConnecting
	s.reason = ""
	s.canTerminate = false
	o.launch(vigil.WorkerCamera, name, ch.ID)
}

// stopCamera asks the capture worker to quit and retires its channel.
func (o *Orchestrator) stopCamera(name string) {
	s, ok := o.sessions[name]
	if !ok {
		return
	}
	if w, ok := o.reg.Get(vigil.WorkerCamera, name); ok {
		if w.Cmd != nil {
			if err := w.Cmd.Send(&msg.Quit{}); err != nil {
				_ = w.Proc.Kill()
			}
			_ = w.Cmd.Close()
		} else {
			_ = w.Proc.Kill()
		}
		o.reg.Remove(vigil.WorkerCamera, name)
	}
	if s.channel != 0 {
		o.router.Close(s.channel)
		s.channel = 0
	}
	s.status = vigil.CameraOff
	s.pendingLive = nil
}

// restartWorker replaces a dead worker with a fresh process.
// Unconditional: a stalled capture pipeline gets a new chance every
// time, never a backoff.
func (o *Orchestrator) restartWorker(w *registry.Worker) {
	_ = w.Proc.Kill()
	if w.Cmd != nil {
		_ = w.Cmd.Close()
	}
	restarts := w.Restarts + 1
	o.reg.Remove(w.Kind, w.Name)

	var replacement *registry.Worker
	if w.Kind == vigil.WorkerCamera {
		s, ok := o.sessions[w.Name]
		if !ok || !s.cfg.Enabled {
			return
		}
		o.startCamera(w.Name)
		replacement, ok = o.reg.Get(vigil.WorkerCamera, w.Name)
		if !ok {
			return
		}
	} else {
		replacement = o.launch(w.Kind, w.Name, 0)
		if replacement == nil {
			return
		}
	}
	replacement.Restarts = restarts
}

// sendToWorker forwards a command to a worker if it is running.
func (o *Orchestrator) sendToWorker(kind vigil.WorkerKind, name string, m msg.Message) bool {
	w, ok := o.reg.Get(kind, name)
	if !ok || w.Cmd == nil {
		return false
	}
	if err := w.Cmd.Send(m); err != nil {
		o.log.Warn("worker command send failed",
			"kind", kind, "name", name, "message", m.MessageKind(), "error", err)
		return false
	}
	return true
}

// responderSink delivers analysis passes to the response runner.
type responderSink struct {
	o *Orchestrator
}

func (rs *responderSink) Deliver(def vigil.RuleDef, upToMs int64, matches []rules.Match) error {
	out := &msg.RuleMatches{
		Rule:      def.Name,
		Camera:    def.Camera,
		UpToMs:    upToMs,
		Responses: def.Responses,
	}
	for _, m := range matches {
		out.Matches = append(out.Matches, msg.MatchRecord{
			Object:  m.Object,
			StartMs: m.StartMs,
			StopMs:  m.StopMs,
		})
	}
	if !rs.o.sendToWorker(vigil.WorkerResponder, "", out) {
		rs.o.log.Debug("response runner not available, dropping pass",
			"rule", def.Name, "matches", len(matches))
	}
	return nil
}
