// Package vigil holds the domain types shared between the orchestrator,
// its worker processes, and the CLI.
package vigil

import "time"

// CameraStatus is the externally visible state of a camera session.
type CameraStatus uint8

const (
	CameraOff CameraStatus = iota
	CameraConnecting
	CameraOn
	CameraFailed
)

func (s CameraStatus) String() string {
	switch s {
	case CameraOff:
		return "off"
	case CameraConnecting:
		return "connecting"
	case CameraOn:
		return "on"
	case CameraFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CameraConfig is the persisted configuration for one camera.
type CameraConfig struct {
	Name    string `yaml:"name"`
	URI     string `yaml:"uri"`
	Enabled bool   `yaml:"enabled"`
	// Monitored cameras run analysis rules; unmonitored ones only record.
	Monitored bool `yaml:"monitored"`
}

// CameraRecord is the runtime status of a camera session as published to
// the directory service.
type CameraRecord struct {
	Name      string       `json:"name"`
	Status    CameraStatus `json:"status"`
	Reason    string       `json:"reason,omitempty"`
	ChannelID int64        `json:"channel_id"`
	Enabled   bool         `json:"enabled"`
	LastSeen  time.Time    `json:"last_seen"`
}

// SavedRange is a closed interval of recorded video confirmed on disk,
// in milliseconds since the epoch.
type SavedRange struct {
	FirstMs int64 `json:"first_ms"`
	LastMs  int64 `json:"last_ms"`
}
