// Package directory exposes the orchestrator to local clients: a
// request/response HTTP+JSON service on a unix socket inside the
// working directory. Every request carries a client-generated token;
// the server remembers answered tokens for a while so a retried call is
// answered from cache instead of executed twice.
package directory

import "encoding/json"

// SocketName is the socket file name inside the working directory.
const SocketName = "directory.sock"

// Request is the wire envelope for one operation call.
type Request struct {
	Token  string          `json:"token"`
	Op     string          `json:"op"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the wire envelope for an operation result.
type Response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Operation names understood by the orchestrator backend.
const (
	OpStatus        = "status"
	OpCameras       = "cameras"
	OpCameraAdd     = "camera.add"
	OpCameraEdit    = "camera.edit"
	OpCameraRemove  = "camera.remove"
	OpCameraEnable  = "camera.enable"
	OpCameraDisable = "camera.disable"
	OpRuleAdd       = "rule.add"
	OpRuleRemove    = "rule.remove"
	OpRuleEnable    = "rule.enable"
	OpRuleSchedule  = "rule.schedule"
	OpRuleList      = "rule.list"
	OpSettings      = "settings"
	OpQuit          = "quit"
)

// SettingsParams carries OpSettings. Zero fields are left unchanged.
type SettingsParams struct {
	MaxStorageBytes int64  `json:"max_storage_bytes,omitempty"`
	CacheHours      int    `json:"cache_hours,omitempty"`
	WebPort         int    `json:"web_port,omitempty"`
	WebUser         string `json:"web_user,omitempty"`
	WebPassword     string `json:"web_password,omitempty"`
}

// StatusReply answers OpStatus.
type StatusReply struct {
	Phase   string         `json:"phase"`
	PID     int            `json:"pid"`
	Uptime  string         `json:"uptime"`
	Cameras int            `json:"cameras"`
	Workers []WorkerStatus `json:"workers"`
}

// WorkerStatus is one supervised process as reported to clients.
type WorkerStatus struct {
	Kind     string `json:"kind"`
	Name     string `json:"name,omitempty"`
	PID      int    `json:"pid"`
	Restarts int    `json:"restarts"`
	LastSeen string `json:"last_seen"`
}
