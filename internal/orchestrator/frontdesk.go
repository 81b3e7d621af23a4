package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"vigil"
	"vigil/internal/clock"
	"vigil/internal/directory"
	"vigil/internal/msg"
	"vigil/internal/queue"
)

// Snapshot is the externally visible state of the orchestrator,
// republished by the loop whenever it changes.
type Snapshot struct {
	Phase   string
	Started time.Time
	Cameras []vigil.CameraRecord
	Workers []vigil.WorkerRecord
	Rules   []vigil.RuleDef
}

// Frontdesk is the thread-safe face of the orchestrator: directory
// requests arrive on HTTP goroutines, mutations are turned into queue
// messages for the loop, reads are answered from the last published
// snapshot.
type Frontdesk struct {
	inbound chan<- queue.Item
	clock   clock.Clock

	mu   sync.RWMutex
	snap Snapshot
}

func newFrontdesk(inbound chan<- queue.Item, clk clock.Clock) *Frontdesk {
	return &Frontdesk{inbound: inbound, clock: clk}
}

func (fd *Frontdesk) update(snap Snapshot) {
	fd.mu.Lock()
	fd.snap = snap
	fd.mu.Unlock()
}

// Snapshot returns the last published state.
func (fd *Frontdesk) Snapshot() Snapshot {
	fd.mu.RLock()
	defer fd.mu.RUnlock()
	return fd.snap
}

func (fd *Frontdesk) enqueue(m msg.Message) {
	fd.inbound <- queue.Item{Msg: m, Deposited: fd.clock.Now()}
}

type cameraParams struct {
	Camera     string `json:"camera"`
	OrigName   string `json:"orig_name,omitempty"`
	URI        string `json:"uri,omitempty"`
	RemoveData bool   `json:"remove_data,omitempty"`
}

type ruleParams struct {
	Name     string          `json:"name"`
	Camera   string          `json:"camera"`
	Enabled  bool            `json:"enabled,omitempty"`
	Rule     *vigil.RuleDef  `json:"rule,omitempty"`
	Schedule *vigil.Schedule `json:"schedule,omitempty"`
}

// Handle implements directory.Backend.
func (fd *Frontdesk) Handle(op string, params json.RawMessage) (any, error) {
	switch op {
	case directory.OpStatus:
		return fd.status(), nil
	case directory.OpCameras:
		return fd.Snapshot().Cameras, nil
	case directory.OpRuleList:
		return fd.Snapshot().Rules, nil
	case directory.OpQuit:
		fd.enqueue(&msg.Quit{})
		return nil, nil
	case directory.OpSettings:
		return fd.handleSettings(params)
	}

	switch op {
	case directory.OpCameraAdd, directory.OpCameraEdit, directory.OpCameraRemove,
		directory.OpCameraEnable, directory.OpCameraDisable:
		var p cameraParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("parse %s params: %w", op, err)
		}
		if p.Camera == "" {
			return nil, fmt.Errorf("%s: camera is required", op)
		}
		switch op {
		case directory.OpCameraAdd:
			fd.enqueue(&msg.CameraAdded{Camera: p.Camera, URI: p.URI})
		case directory.OpCameraEdit:
			orig := p.OrigName
			if orig == "" {
				orig = p.Camera
			}
			fd.enqueue(&msg.CameraEdited{OrigName: orig, Camera: p.Camera, URI: p.URI})
		case directory.OpCameraRemove:
			fd.enqueue(&msg.CameraRemoved{Camera: p.Camera, RemoveData: p.RemoveData})
		case directory.OpCameraEnable:
			fd.enqueue(&msg.CameraEnabled{Camera: p.Camera})
		case directory.OpCameraDisable:
			fd.enqueue(&msg.CameraDisabled{Camera: p.Camera})
		}
		return nil, nil

	case directory.OpRuleAdd, directory.OpRuleRemove, directory.OpRuleEnable,
		directory.OpRuleSchedule:
		var p ruleParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("parse %s params: %w", op, err)
		}
		switch op {
		case directory.OpRuleAdd:
			if p.Rule == nil {
				return nil, fmt.Errorf("rule.add: rule is required")
			}
			fd.enqueue(&msg.RuleAdded{Rule: *p.Rule})
		case directory.OpRuleRemove:
			fd.enqueue(&msg.RuleDeleted{Name: p.Name, Camera: p.Camera})
		case directory.OpRuleEnable:
			fd.enqueue(&msg.RuleEnabled{Name: p.Name, Camera: p.Camera, Enabled: p.Enabled})
		case directory.OpRuleSchedule:
			if p.Schedule == nil {
				return nil, fmt.Errorf("rule.schedule: schedule is required")
			}
			fd.enqueue(&msg.RuleScheduleUpdated{Name: p.Name, Camera: p.Camera, Schedule: *p.Schedule})
		}
		return nil, nil
	}

	return nil, fmt.Errorf("unknown operation %q", op)
}

// handleSettings fans one settings call out into the per-concern
// messages the workers understand. Zero fields change nothing.
func (fd *Frontdesk) handleSettings(params json.RawMessage) (any, error) {
	var p directory.SettingsParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("parse settings params: %w", err)
	}
	if p.MaxStorageBytes > 0 {
		fd.enqueue(&msg.SetMaxStorage{Bytes: p.MaxStorageBytes})
	}
	if p.CacheHours > 0 {
		fd.enqueue(&msg.SetCacheDuration{Hours: p.CacheHours})
	}
	if p.WebPort > 0 {
		fd.enqueue(&msg.WebSetPort{Port: p.WebPort})
	}
	if p.WebUser != "" {
		sum := sha256.Sum256([]byte(p.WebPassword))
		fd.enqueue(&msg.WebSetAuth{User: p.WebUser, PasswordHash: hex.EncodeToString(sum[:])})
	}
	return nil, nil
}

func (fd *Frontdesk) status() directory.StatusReply {
	snap := fd.Snapshot()
	uptime := time.Duration(0)
	if !snap.Started.IsZero() {
		uptime = fd.clock.Now().Sub(snap.Started)
	}
	workers := make([]directory.WorkerStatus, 0, len(snap.Workers))
	for _, w := range snap.Workers {
		workers = append(workers, directory.WorkerStatus{
			Kind:     w.Kind.String(),
			Name:     w.Name,
			PID:      w.PID,
			Restarts: w.Restarts,
			LastSeen: w.LastSeen.Format(time.RFC3339),
		})
	}
	return directory.StatusReply{
		Phase:   snap.Phase,
		PID:     os.Getpid(),
		Uptime:  uptime.Round(time.Second).String(),
		Cameras: len(snap.Cameras),
		Workers: workers,
	}
}

// publishSnapshot pushes the loop's current state to the frontdesk.
// Called from the loop goroutine only.
func (o *Orchestrator) publishSnapshot() {
	snap := Snapshot{
		Phase:   o.phase.String(),
		Started: o.started,
	}
	for name, s := range o.sessions {
		rec := vigil.CameraRecord{
			Name:      name,
			Status:    s.status,
			Reason:    s.reason,
			ChannelID: s.channel,
			Enabled:   s.cfg.Enabled,
		}
		if w, ok := o.reg.Get(vigil.WorkerCamera, name); ok {
			rec.LastSeen = w.LastSeen
		}
		snap.Cameras = append(snap.Cameras, rec)
		snap.Rules = append(snap.Rules, o.rules.Rules(name)...)
	}
	sort.Slice(snap.Cameras, func(i, j int) bool {
		return snap.Cameras[i].Name < snap.Cameras[j].Name
	})

	for _, w := range o.reg.All() {
		snap.Workers = append(snap.Workers, vigil.WorkerRecord{
			Kind:     w.Kind,
			Name:     w.Name,
			PID:      w.Proc.PID(),
			Restarts: w.Restarts,
			LastSeen: w.LastSeen,
		})
	}
	sort.Slice(snap.Workers, func(i, j int) bool {
		if snap.Workers[i].Kind != snap.Workers[j].Kind {
			return snap.Workers[i].Kind < snap.Workers[j].Kind
		}
		return snap.Workers[i].Name < snap.Workers[j].Name
	})

	o.desk.update(snap)
}
