package vigil

import "time"

// WorkerKind identifies the role of a supervised worker process.
type WorkerKind uint8

const (
	WorkerCamera WorkerKind = iota + 1
	WorkerReclaimer
	WorkerResponder
	WorkerWeb
	WorkerTest
)

func (k WorkerKind) String() string {
	switch k {
	case WorkerCamera:
		return "camera"
	case WorkerReclaimer:
		return "reclaimer"
	case WorkerResponder:
		return "responder"
	case WorkerWeb:
		return "web"
	case WorkerTest:
		return "test"
	default:
		return "unknown"
	}
}

// Liveness timeouts per worker kind. Camera workers can stall on blocking
// stream reads; the responder sleeps between deliveries and needs a
// longer threshold.
const (
	CameraTimeout    = 240 * time.Second
	ResponderTimeout = 300 * time.Second
	ReclaimerTimeout = 240 * time.Second
	WebTimeout       = 240 * time.Second
)

// Timeout returns the liveness timeout policy for a worker kind.
func (k WorkerKind) Timeout() time.Duration {
	switch k {
	case WorkerCamera, WorkerTest:
		return CameraTimeout
	case WorkerResponder:
		return ResponderTimeout
	case WorkerReclaimer:
		return ReclaimerTimeout
	case WorkerWeb:
		return WebTimeout
	default:
		return CameraTimeout
	}
}

// WorkerRecord is the runtime status of a worker as published to the
// directory service.
type WorkerRecord struct {
	Kind     WorkerKind `json:"kind"`
	Name     string     `json:"name,omitempty"`
	PID      int        `json:"pid"`
	LastSeen time.Time  `json:"last_seen"`
	Restarts int        `json:"restarts"`
}
