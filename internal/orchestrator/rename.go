package orchestrator

import (
	"vigil"
	"vigil/internal/msg"
)

func (o *Orchestrator) handleRenameCamera(m *msg.RenameCamera) {
	o.startRename(m.OldName, m.NewName)
}

// startRename begins a camera rename. The running worker is asked to
// quit and deliver TerminateReady back once its recordings are safe
// under the old name; completeRename then moves everything over. A
// worker that never acks is forced by the periodic cadence.
func (o *Orchestrator) startRename(oldName, newName string) {
	s, ok := o.sessions[oldName]
	if !ok {
		return
	}
	if _, taken := o.sessions[newName]; taken {
		o.log.Warn("rename target already exists", "old", oldName, "new", newName)
		return
	}

	w, running := o.reg.Get(vigil.WorkerCamera, oldName)
	if !running || w.Cmd == nil {
		o.pendingRenames[oldName] = renameState{newName: newName, deadline: o.clock.Now()}
		o.completeRename(oldName)
		return
	}

	reply, err := msg.Encode(&msg.TerminateReady{Camera: oldName})
	if err != nil {
		o.log.Error("encoding rename ack failed", "error", err)
		return
	}
	if err := w.Cmd.Send(&msg.QuitWithReply{Reply: reply}); err != nil {
		o.log.Warn("rename quit send failed, forcing", "camera", oldName, "error", err)
		_ = w.Proc.Kill()
		o.reg.Remove(vigil.WorkerCamera, oldName)
		o.pendingRenames[oldName] = renameState{newName: newName, deadline: o.clock.Now()}
		o.completeRename(oldName)
		return
	}
	o.pendingRenames[oldName] = renameState{
		newName:  newName,
		deadline: o.clock.Now().Add(renameForceAfter),
	}
	s.status = vigil.CameraConnecting
	o.log.Info("camera rename started", "old", oldName, "new", newName)
}

// completeRename moves session, store rows, and rule bindings to the
// new name and starts a fresh worker.
func (o *Orchestrator) completeRename(oldName string) {
	st, ok := o.pendingRenames[oldName]
	if !ok {
		return
	}
	delete(o.pendingRenames, oldName)
	s, ok := o.sessions[oldName]
	if !ok {
		return
	}

	// Analysis pending under the old name must finish before the session
	// and store rows move.
	o.drainIdle()

	if s.channel != 0 {
		o.router.Close(s.channel)
		s.channel = 0
	}
	o.reg.Remove(vigil.WorkerCamera, oldName)
	o.idle.Forget(oldName)

	if err := o.store.RenameCamera(oldName, st.newName); err != nil {
		o.storeFailed(err)
		return
	}

	delete(o.sessions, oldName)
	s.cfg.Name = st.newName
	s.canTerminate = false
	s.pendingLive = nil
	o.sessions[st.newName] = s

	for _, def := range o.rules.Rules(oldName) {
		o.rules.Remove(oldName, def.Name)
		def.Camera = st.newName
		if err := o.rules.Add(def); err != nil {
			o.log.Error("re-binding rule after rename failed",
				"rule", def.Name, "error", err)
		}
	}

	if s.cfg.Enabled {
		o.startCamera(st.newName)
	} else {
		s.status = vigil.CameraOff
	}
	o.log.Info("camera rename complete", "old", oldName, "new", st.newName)
	o.persist()
	o.publishSnapshot()
}
