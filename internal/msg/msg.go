// Package msg defines the typed messages exchanged between the
// orchestrator and its worker processes.
//
// On the wire a message is an Envelope: a small integer kind tag plus a
// kind-specific JSON payload. In process it is one of the typed structs
// below; the orchestrator dispatches on the tag through a static handler
// map, so adding a kind without a handler is caught at startup rather
// than silently dropped at runtime.
package msg

import (
	"vigil"
)

// Kind tags a message on the wire. Values are grouped by subsystem and
// must never be reused.
type Kind uint16

const (
	KindUnknown Kind = 0

	// Control messages, understood by every worker.
	KindQuit          Kind = 100
	KindQuitWithReply Kind = 101

	// Camera management, inbound from the directory service.
	KindCameraAdded    Kind = 200
	KindCameraEdited   Kind = 201
	KindCameraRemoved  Kind = 202
	KindCameraEnabled  Kind = 203
	KindCameraDisabled Kind = 204
	KindRenameCamera   Kind = 205
	KindFlushVideo     Kind = 206
	KindLiveViewOn     Kind = 207
	KindLiveViewOff    Kind = 208
	KindLiveViewParams Kind = 209

	// Camera capture events, inbound from camera workers.
	KindStreamOpened    Kind = 300
	KindStreamFailed    Kind = 301
	KindStreamTimeout   Kind = 302
	KindCameraPing      Kind = 303
	KindStreamProcessed Kind = 304
	KindAddSavedTimes   Kind = 305
	KindCanTerminate    Kind = 306
	KindTerminateReady  Kind = 307
	KindChannelFinished Kind = 308

	// Observation events, inbound from camera workers.
	KindAddObject Kind = 400
	KindAddFrame  Kind = 401

	// Disk reclaimer control and events.
	KindSetMaxStorage     Kind = 500
	KindSetCacheDuration  Kind = 501
	KindInsufficientSpace Kind = 502
	KindReclaimerPing     Kind = 503

	// Rule management, inbound from the directory service.
	KindRuleAdded           Kind = 600
	KindRuleScheduleUpdated Kind = 601
	KindRuleDeleted         Kind = 602
	KindRuleEnabled         Kind = 603

	// Response runner control and events.
	KindResponderPing Kind = 700
	KindRuleMatches   Kind = 701

	// Web server control and events.
	KindWebPing    Kind = 800
	KindWebSetPort Kind = 801
	KindWebSetAuth Kind = 802

	// Fatal store condition raised by any storage access.
	KindStoreCorrupt Kind = 900
)

func (k Kind) String() string {
	switch k {
	case KindQuit:
		return "quit"
	case KindQuitWithReply:
		return "quit_with_reply"
	case KindCameraAdded:
		return "camera_added"
	case KindCameraEdited:
		return "camera_edited"
	case KindCameraRemoved:
		return "camera_removed"
	case KindCameraEnabled:
		return "camera_enabled"
	case KindCameraDisabled:
		return "camera_disabled"
	case KindRenameCamera:
		return "rename_camera"
	case KindFlushVideo:
		return "flush_video"
	case KindLiveViewOn:
		return "live_view_on"
	case KindLiveViewOff:
		return "live_view_off"
	case KindLiveViewParams:
		return "live_view_params"
	case KindStreamOpened:
		return "stream_opened"
	case KindStreamFailed:
		return "stream_failed"
	case KindStreamTimeout:
		return "stream_timeout"
	case KindCameraPing:
		return "camera_ping"
	case KindStreamProcessed:
		return "stream_processed"
	case KindAddSavedTimes:
		return "add_saved_times"
	case KindCanTerminate:
		return "can_terminate"
	case KindTerminateReady:
		return "terminate_ready"
	case KindChannelFinished:
		return "channel_finished"
	case KindAddObject:
		return "add_object"
	case KindAddFrame:
		return "add_frame"
	case KindSetMaxStorage:
		return "set_max_storage"
	case KindSetCacheDuration:
		return "set_cache_duration"
	case KindInsufficientSpace:
		return "insufficient_space"
	case KindReclaimerPing:
		return "reclaimer_ping"
	case KindRuleAdded:
		return "rule_added"
	case KindRuleScheduleUpdated:
		return "rule_schedule_updated"
	case KindRuleDeleted:
		return "rule_deleted"
	case KindRuleEnabled:
		return "rule_enabled"
	case KindResponderPing:
		return "responder_ping"
	case KindRuleMatches:
		return "rule_matches"
	case KindWebPing:
		return "web_ping"
	case KindWebSetPort:
		return "web_set_port"
	case KindWebSetAuth:
		return "web_set_auth"
	case KindStoreCorrupt:
		return "store_corrupt"
	default:
		return "unknown"
	}
}

// Message is the sealed union of all orchestrator messages.
type Message interface {
	MessageKind() Kind
}

// ObjectRef names an object either by its durable store id or, before the
// worker has learned the durable id, by a (channel, provisional) pair.
type ObjectRef struct {
	Durable     int64 `json:"durable,omitempty"`
	Channel     int64 `json:"channel,omitempty"`
	Provisional int64 `json:"provisional,omitempty"`
}

// IsProvisional reports whether the ref is a placeholder pair still
// awaiting reconciliation.
func (r ObjectRef) IsProvisional() bool { return r.Durable == 0 && r.Provisional != 0 }

// DurableRef names an object by its durable id.
func DurableRef(id int64) ObjectRef { return ObjectRef{Durable: id} }

// ProvisionalRef names an object by its worker-local placeholder.
func ProvisionalRef(channel, provisional int64) ObjectRef {
	return ObjectRef{Channel: channel, Provisional: provisional}
}

// Control.

type Quit struct{}

// QuitWithReply instructs a worker to deliver Reply back to the
// orchestrator before exiting. Used when teardown must be acknowledged,
// e.g. a camera rename.
type QuitWithReply struct {
	Reply Envelope `json:"reply"`
}

// Camera management.

type CameraAdded struct {
	Camera string `json:"camera"`
	URI    string `json:"uri"`
}

type CameraEdited struct {
	OrigName string `json:"orig_name"`
	Camera   string `json:"camera"`
	URI      string `json:"uri"`
	ChangeMs int64  `json:"change_ms"`
}

type CameraRemoved struct {
	Camera     string `json:"camera"`
	RemoveData bool   `json:"remove_data"`
}

type CameraEnabled struct {
	Camera string `json:"camera"`
}

type CameraDisabled struct {
	Camera string `json:"camera"`
}

type RenameCamera struct {
	OldName  string `json:"old_name"`
	NewName  string `json:"new_name"`
	ChangeMs int64  `json:"change_ms"`
}

type FlushVideo struct {
	Camera   string `json:"camera"`
	NeededMs int64  `json:"needed_ms,omitempty"`
}

type LiveViewOn struct {
	Camera string `json:"camera"`
}

type LiveViewOff struct {
	Camera string `json:"camera"`
}

type LiveViewParams struct {
	Camera string `json:"camera"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	FPS    int    `json:"fps"`
	Volume int    `json:"volume"`
}

// Camera capture events.

type StreamOpened struct {
	Camera string `json:"camera"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type StreamFailed struct {
	Camera string `json:"camera"`
	Reason string `json:"reason,omitempty"`
}

type StreamTimeout struct {
	Camera string `json:"camera"`
}

type CameraPing struct {
	Camera string `json:"camera"`
}

// StreamProcessed reports how far the capture pipeline has processed, in
// milliseconds since the epoch.
type StreamProcessed struct {
	Camera      string `json:"camera"`
	ProcessedMs int64  `json:"processed_ms"`
}

type AddSavedTimes struct {
	Camera string             `json:"camera"`
	Ranges []vigil.SavedRange `json:"ranges"`
}

// CanTerminate announces that a camera worker will accept no further
// saved-time forwards; the orchestrator applies them itself from then on.
type CanTerminate struct {
	Camera string `json:"camera"`
}

// TerminateReady announces that a camera worker has drained and is
// waiting to be reaped.
type TerminateReady struct {
	Camera string `json:"camera"`
}

// ChannelFinished announces that a worker is done writing to its channel.
type ChannelFinished struct {
	Channel int64 `json:"channel"`
}

// Observation events.

type AddObject struct {
	Channel     int64  `json:"channel"`
	Provisional int64  `json:"provisional"`
	Camera      string `json:"camera"`
	TimeMs      int64  `json:"time_ms"`
	ObjectType  string `json:"object_type"`
}

type AddFrame struct {
	Channel    int64     `json:"channel"`
	Ref        ObjectRef `json:"ref"`
	FrameMs    int64     `json:"frame_ms"`
	Box        [4]int    `json:"box"`
	ObjectType string    `json:"object_type"`
	Action     string    `json:"action,omitempty"`
}

// Disk reclaimer.

type SetMaxStorage struct {
	Bytes int64 `json:"bytes"`
}

type SetCacheDuration struct {
	Hours int `json:"hours"`
}

type InsufficientSpace struct{}

type ReclaimerPing struct{}

// Rules.

type RuleAdded struct {
	Rule vigil.RuleDef `json:"rule"`
}

type RuleScheduleUpdated struct {
	Name     string         `json:"name"`
	Camera   string         `json:"camera"`
	Schedule vigil.Schedule `json:"schedule"`
}

type RuleDeleted struct {
	Name   string `json:"name"`
	Camera string `json:"camera"`
}

type RuleEnabled struct {
	Name    string `json:"name"`
	Camera  string `json:"camera"`
	Enabled bool   `json:"enabled"`
}

// Response runner.

type ResponderPing struct{}

// RuleMatches carries one analysis pass to the response runner. Matches
// may be empty; the pass still tells responses how far the camera's
// timeline has been examined.
type RuleMatches struct {
	Rule      string                 `json:"rule"`
	Camera    string                 `json:"camera"`
	UpToMs    int64                  `json:"up_to_ms"`
	Responses []vigil.ResponseConfig `json:"responses,omitempty"`
	Matches   []MatchRecord          `json:"matches,omitempty"`
}

// MatchRecord is one rule hit inside an analysis pass.
type MatchRecord struct {
	Object  int64 `json:"object"`
	StartMs int64 `json:"start_ms"`
	StopMs  int64 `json:"stop_ms"`
}

// Web server.

type WebPing struct{}

type WebSetPort struct {
	Port int `json:"port"`
}

type WebSetAuth struct {
	User         string `json:"user"`
	PasswordHash string `json:"password_hash"`
}

// Store.

type StoreCorrupt struct{}

func (Quit) MessageKind() Kind                { return KindQuit }
func (QuitWithReply) MessageKind() Kind       { return KindQuitWithReply }
func (CameraAdded) MessageKind() Kind         { return KindCameraAdded }
func (CameraEdited) MessageKind() Kind        { return KindCameraEdited }
func (CameraRemoved) MessageKind() Kind       { return KindCameraRemoved }
func (CameraEnabled) MessageKind() Kind       { return KindCameraEnabled }
func (CameraDisabled) MessageKind() Kind      { return KindCameraDisabled }
func (RenameCamera) MessageKind() Kind        { return KindRenameCamera }
func (FlushVideo) MessageKind() Kind          { return KindFlushVideo }
func (LiveViewOn) MessageKind() Kind          { return KindLiveViewOn }
func (LiveViewOff) MessageKind() Kind         { return KindLiveViewOff }
func (LiveViewParams) MessageKind() Kind      { return KindLiveViewParams }
func (StreamOpened) MessageKind() Kind        { return KindStreamOpened }
func (StreamFailed) MessageKind() Kind        { return KindStreamFailed }
func (StreamTimeout) MessageKind() Kind       { return KindStreamTimeout }
func (CameraPing) MessageKind() Kind          { return KindCameraPing }
func (StreamProcessed) MessageKind() Kind     { return KindStreamProcessed }
func (AddSavedTimes) MessageKind() Kind       { return KindAddSavedTimes }
func (CanTerminate) MessageKind() Kind        { return KindCanTerminate }
func (TerminateReady) MessageKind() Kind      { return KindTerminateReady }
func (ChannelFinished) MessageKind() Kind     { return KindChannelFinished }
func (AddObject) MessageKind() Kind           { return KindAddObject }
func (AddFrame) MessageKind() Kind            { return KindAddFrame }
func (SetMaxStorage) MessageKind() Kind       { return KindSetMaxStorage }
func (SetCacheDuration) MessageKind() Kind    { return KindSetCacheDuration }
func (InsufficientSpace) MessageKind() Kind   { return KindInsufficientSpace }
func (ReclaimerPing) MessageKind() Kind       { return KindReclaimerPing }
func (RuleAdded) MessageKind() Kind           { return KindRuleAdded }
func (RuleScheduleUpdated) MessageKind() Kind { return KindRuleScheduleUpdated }
func (RuleDeleted) MessageKind() Kind         { return KindRuleDeleted }
func (RuleEnabled) MessageKind() Kind         { return KindRuleEnabled }
func (ResponderPing) MessageKind() Kind       { return KindResponderPing }
func (RuleMatches) MessageKind() Kind         { return KindRuleMatches }
func (WebPing) MessageKind() Kind             { return KindWebPing }
func (WebSetPort) MessageKind() Kind          { return KindWebSetPort }
func (WebSetAuth) MessageKind() Kind          { return KindWebSetAuth }
func (StoreCorrupt) MessageKind() Kind        { return KindStoreCorrupt }
