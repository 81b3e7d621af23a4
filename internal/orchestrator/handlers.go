package orchestrator

import (
	"vigil"
	"vigil/internal/msg"
	"vigil/internal/store"
)

// buildHandlers is the complete dispatch table. A kind missing here is
// dropped with a warning, never silently.
func (o *Orchestrator) buildHandlers() map[msg.Kind]func(msg.Message) {
	return map[msg.Kind]func(msg.Message){
		msg.KindQuit: func(msg.Message) { o.beginShutdown(false) },

		msg.KindCameraAdded:    func(m msg.Message) { o.handleCameraAdded(m.(*msg.CameraAdded)) },
		msg.KindCameraEdited:   func(m msg.Message) { o.handleCameraEdited(m.(*msg.CameraEdited)) },
		msg.KindCameraRemoved:  func(m msg.Message) { o.handleCameraRemoved(m.(*msg.CameraRemoved)) },
		msg.KindCameraEnabled:  func(m msg.Message) { o.handleCameraEnabled(m.(*msg.CameraEnabled)) },
		msg.KindCameraDisabled: func(m msg.Message) { o.handleCameraDisabled(m.(*msg.CameraDisabled)) },
		msg.KindRenameCamera:   func(m msg.Message) { o.handleRenameCamera(m.(*msg.RenameCamera)) },
		msg.KindFlushVideo:     func(m msg.Message) { o.handleFlushVideo(m.(*msg.FlushVideo)) },
		msg.KindLiveViewOn:     func(m msg.Message) { o.handleLiveView(m.(*msg.LiveViewOn).Camera, m) },
		msg.KindLiveViewOff:    func(m msg.Message) { o.handleLiveView(m.(*msg.LiveViewOff).Camera, m) },
		msg.KindLiveViewParams: func(m msg.Message) { o.handleLiveView(m.(*msg.LiveViewParams).Camera, m) },

		msg.KindStreamOpened:    func(m msg.Message) { o.handleStreamOpened(m.(*msg.StreamOpened)) },
		msg.KindStreamFailed:    func(m msg.Message) { o.handleStreamFailed(m.(*msg.StreamFailed)) },
		msg.KindStreamTimeout:   func(m msg.Message) { o.handleStreamTimeout(m.(*msg.StreamTimeout)) },
		msg.KindCameraPing:      func(m msg.Message) { o.reg.Touch(vigil.WorkerCamera, m.(*msg.CameraPing).Camera) },
		msg.KindStreamProcessed: func(m msg.Message) { o.handleStreamProcessed(m.(*msg.StreamProcessed)) },
		msg.KindAddSavedTimes:   func(m msg.Message) { o.handleAddSavedTimes(m.(*msg.AddSavedTimes)) },
		msg.KindCanTerminate:    func(m msg.Message) { o.handleCanTerminate(m.(*msg.CanTerminate)) },
		msg.KindTerminateReady:  func(m msg.Message) { o.handleTerminateReady(m.(*msg.TerminateReady)) },
		msg.KindChannelFinished: func(m msg.Message) { o.router.Close(m.(*msg.ChannelFinished).Channel) },

		msg.KindAddObject: func(m msg.Message) { o.handleAddObject(m.(*msg.AddObject)) },
		msg.KindAddFrame:  func(m msg.Message) { o.handleAddFrame(m.(*msg.AddFrame)) },

		msg.KindSetMaxStorage:     func(m msg.Message) { o.handleSetMaxStorage(m.(*msg.SetMaxStorage)) },
		msg.KindSetCacheDuration:  func(m msg.Message) { o.handleSetCacheDuration(m.(*msg.SetCacheDuration)) },
		msg.KindInsufficientSpace: func(msg.Message) { o.log.Warn("disk reclaimer reports insufficient space") },
		msg.KindReclaimerPing:     func(msg.Message) { o.reg.Touch(vigil.WorkerReclaimer, "") },

		msg.KindRuleAdded:           func(m msg.Message) { o.handleRuleAdded(m.(*msg.RuleAdded)) },
		msg.KindRuleScheduleUpdated: func(m msg.Message) { o.handleRuleScheduleUpdated(m.(*msg.RuleScheduleUpdated)) },
		msg.KindRuleDeleted:         func(m msg.Message) { o.handleRuleDeleted(m.(*msg.RuleDeleted)) },
		msg.KindRuleEnabled:         func(m msg.Message) { o.handleRuleEnabled(m.(*msg.RuleEnabled)) },

		msg.KindResponderPing: func(msg.Message) { o.reg.Touch(vigil.WorkerResponder, "") },

		msg.KindWebPing:    func(msg.Message) { o.reg.Touch(vigil.WorkerWeb, "") },
		msg.KindWebSetPort: func(m msg.Message) { o.handleWebSetPort(m.(*msg.WebSetPort)) },
		msg.KindWebSetAuth: func(m msg.Message) { o.sendToWorker(vigil.WorkerWeb, "", m) },

		msg.KindStoreCorrupt: func(msg.Message) { o.handleStoreCorrupt() },
	}
}

// Camera management.

func (o *Orchestrator) handleCameraAdded(m *msg.CameraAdded) {
	if _, exists := o.sessions[m.Camera]; exists {
		o.log.Warn("ignoring add for existing camera", "camera", m.Camera)
		return
	}
	cfg := vigil.CameraConfig{Name: m.Camera, URI: m.URI, Enabled: true, Monitored: true}
	o.sessions[m.Camera] = &session{cfg: cfg, status: vigil.CameraOff}
	delete(o.removedData, m.Camera)
	o.rules.CancelCleanup(m.Camera)
	o.startCamera(m.Camera)
	o.persist()
	o.publishSnapshot()
}

func (o *Orchestrator) handleCameraEdited(m *msg.CameraEdited) {
	s, ok := o.sessions[m.OrigName]
	if !ok {
		o.log.Warn("ignoring edit for unknown camera", "camera", m.OrigName)
		return
	}
	s.cfg.URI = m.URI
	if m.Camera != "" && m.Camera != m.OrigName {
		o.startRename(m.OrigName, m.Camera)
		return
	}
	// URI change needs a fresh capture process.
	if s.cfg.Enabled {
		o.stopCamera(m.OrigName)
		o.startCamera(m.OrigName)
	}
	o.persist()
	o.publishSnapshot()
}

func (o *Orchestrator) handleCameraRemoved(m *msg.CameraRemoved) {
	if _, ok := o.sessions[m.Camera]; !ok {
		return
	}
	o.stopCamera(m.Camera)
	delete(o.sessions, m.Camera)
	o.idle.Forget(m.Camera)
	o.rules.ScheduleCleanup(m.Camera)
	if m.RemoveData {
		o.removedData[m.Camera] = true
	}
	o.persist()
	o.publishSnapshot()
}

func (o *Orchestrator) handleCameraEnabled(m *msg.CameraEnabled) {
	s, ok := o.sessions[m.Camera]
	if !ok || s.cfg.Enabled {
		return
	}
	s.cfg.Enabled = true
	o.startCamera(m.Camera)
	o.persist()
	o.publishSnapshot()
}

func (o *Orchestrator) handleCameraDisabled(m *msg.CameraDisabled) {
	s, ok := o.sessions[m.Camera]
	if !ok || !s.cfg.Enabled {
		return
	}
	s.cfg.Enabled = false
	o.stopCamera(m.Camera)
	o.persist()
	o.publishSnapshot()
}

func (o *Orchestrator) handleFlushVideo(m *msg.FlushVideo) {
	o.sendToWorker(vigil.WorkerCamera, m.Camera, m)
}

// handleLiveView forwards live-view commands to a connected camera and
// caches them while the camera is still connecting, replaying on
// StreamOpened.
func (o *Orchestrator) handleLiveView(camera string, m msg.Message) {
	s, ok := o.sessions[camera]
	if !ok {
		return
	}
	if s.status == vigil.CameraOn && o.sendToWorker(vigil.WorkerCamera, camera, m) {
		return
	}
	s.pendingLive = append(s.pendingLive, m)
}

// Capture events.

func (o *Orchestrator) handleStreamOpened(m *msg.StreamOpened) {
	s, ok := o.sessions[m.Camera]
	if !ok {
		return
	}
	s.status = vigil.CameraOn
	s.reason = ""
	o.rules.SetCoordSpace(m.Camera, m.Width, m.Height)
	for _, lv := range s.pendingLive {
		o.sendToWorker(vigil.WorkerCamera, m.Camera, lv)
	}
	s.pendingLive = nil
	o.log.Info("camera stream open", "camera", m.Camera, "size", [2]int{m.Width, m.Height})
	o.publishSnapshot()
}

func (o *Orchestrator) handleStreamFailed(m *msg.StreamFailed) {
	s, ok := o.sessions[m.Camera]
	if !ok {
		return
	}
	s.status = vigil.CameraFailed
	s.reason = m.Reason
	o.log.Warn("camera stream failed", "camera", m.Camera, "reason", m.Reason)
	o.publishSnapshot()
}

func (o *Orchestrator) handleStreamTimeout(m *msg.StreamTimeout) {
	if s, ok := o.sessions[m.Camera]; ok {
		s.status = vigil.CameraConnecting
	}
}

func (o *Orchestrator) handleStreamProcessed(m *msg.StreamProcessed) {
	o.reg.Touch(vigil.WorkerCamera, m.Camera)
	if s, ok := o.sessions[m.Camera]; ok && s.cfg.Monitored {
		o.idle.Note(m.Camera, m.ProcessedMs)
	}
}

// handleAddSavedTimes forwards saved ranges to the camera worker while
// it accepts them; once the worker announced CanTerminate, the
// orchestrator applies them itself. A busy store answers with a retry
// delay and the message is re-enqueued.
func (o *Orchestrator) handleAddSavedTimes(m *msg.AddSavedTimes) {
	s, ok := o.sessions[m.Camera]
	if !ok {
		return
	}
	if !s.canTerminate && o.sendToWorker(vigil.WorkerCamera, m.Camera, m) {
		return
	}
	retry, err := o.store.MarkTimesSaved(m.Camera, m.Ranges)
	if err != nil {
		o.storeFailed(err)
		return
	}
	if retry > 0 {
		o.log.Debug("store busy, re-enqueueing saved times",
			"camera", m.Camera, "retry", retry)
		o.queue.EnqueueAt(o.clock.Now().Add(retry), m)
	}
}

func (o *Orchestrator) handleCanTerminate(m *msg.CanTerminate) {
	if s, ok := o.sessions[m.Camera]; ok {
		s.canTerminate = true
	}
}

func (o *Orchestrator) handleTerminateReady(m *msg.TerminateReady) {
	if _, pending := o.pendingRenames[m.Camera]; pending {
		if w, ok := o.reg.Get(vigil.WorkerCamera, m.Camera); ok {
			_ = w.Proc.Kill()
			o.reg.Remove(vigil.WorkerCamera, m.Camera)
		}
		o.completeRename(m.Camera)
		return
	}
	if w, ok := o.reg.Get(vigil.WorkerCamera, m.Camera); ok {
		_ = w.Proc.Kill()
		o.reg.Remove(vigil.WorkerCamera, m.Camera)
	}
	if s, ok := o.sessions[m.Camera]; ok {
		s.status = vigil.CameraOff
	}
}

// Observations.

func (o *Orchestrator) handleAddObject(m *msg.AddObject) {
	if _, ok := o.router.Lookup(m.Channel); !ok {
		o.log.Debug("dropping object from unknown channel", "channel", m.Channel)
		return
	}
	durable, err := o.store.AddObject(m.Camera, m.ObjectType, m.TimeMs)
	if err != nil {
		o.storeFailed(err)
		return
	}
	o.router.Record(m.Channel, m.Provisional, durable)
}

func (o *Orchestrator) handleAddFrame(m *msg.AddFrame) {
	if _, ok := o.router.Lookup(m.Channel); !ok {
		o.log.Debug("dropping frame from unknown channel", "channel", m.Channel)
		return
	}
	id, resolved := o.router.Resolve(m.Channel, m.Ref)
	if !resolved {
		o.log.Debug("frame references unreconciled object",
			"channel", m.Channel, "provisional", m.Ref.Provisional)
	}
	o.store.NoteFrame(store.Frame{
		Object:     id,
		FrameMs:    m.FrameMs,
		Box:        m.Box,
		ObjectType: m.ObjectType,
		Action:     m.Action,
	})
}

// Worker configuration pass-through.

func (o *Orchestrator) handleSetMaxStorage(m *msg.SetMaxStorage) {
	o.opts.MaxStorageBytes = m.Bytes
	o.sendToWorker(vigil.WorkerReclaimer, "", m)
	o.persist()
}

func (o *Orchestrator) handleSetCacheDuration(m *msg.SetCacheDuration) {
	o.opts.CacheHours = m.Hours
	o.sendToWorker(vigil.WorkerReclaimer, "", m)
	o.persist()
}

func (o *Orchestrator) handleWebSetPort(m *msg.WebSetPort) {
	o.opts.WebPort = m.Port
	o.sendToWorker(vigil.WorkerWeb, "", m)
	o.persist()
}

// Rules.

func (o *Orchestrator) handleRuleAdded(m *msg.RuleAdded) {
	if err := o.rules.Add(m.Rule); err != nil {
		o.log.Error("rule rejected", "rule", m.Rule.Name, "error", err)
		return
	}
	o.persist()
	o.publishSnapshot()
}

func (o *Orchestrator) handleRuleDeleted(m *msg.RuleDeleted) {
	o.rules.Remove(m.Camera, m.Name)
	o.persist()
	o.publishSnapshot()
}

func (o *Orchestrator) handleRuleScheduleUpdated(m *msg.RuleScheduleUpdated) {
	for _, def := range o.rules.Rules(m.Camera) {
		if def.Name != m.Name {
			continue
		}
		def.Schedule = m.Schedule
		if err := o.rules.Add(def); err != nil {
			o.log.Error("rule schedule update rejected", "rule", m.Name, "error", err)
			return
		}
		o.persist()
		return
	}
	o.log.Warn("schedule update for unknown rule", "rule", m.Name, "camera", m.Camera)
}

func (o *Orchestrator) handleRuleEnabled(m *msg.RuleEnabled) {
	if !o.rules.SetEnabled(m.Camera, m.Name, m.Enabled) {
		o.log.Warn("enable toggle for unknown rule", "rule", m.Name, "camera", m.Camera)
		return
	}
	o.persist()
}

func (o *Orchestrator) handleStoreCorrupt() {
	o.log.Error("worker reported corrupt store")
	if err := store.MarkCorrupt(o.opts.WorkDir); err != nil {
		o.log.Error("writing corruption marker failed", "error", err)
	}
	o.beginShutdown(true)
}
