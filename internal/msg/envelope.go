package msg

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire form of a message: the kind tag plus the
// kind-specific payload. Envelopes are exchanged as JSON lines on worker
// pipes.
type Envelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ErrUnknownKind is returned by Decode for a tag this build does not
// know. Callers log and drop such messages; they are never fatal.
type ErrUnknownKind struct {
	Kind Kind
}

func (e ErrUnknownKind) Error() string {
	return fmt.Sprintf("unknown message kind %d", e.Kind)
}

// decoders maps each kind to a constructor for its payload struct.
// Exhaustive over the Kind constants above; Decode fails closed on
// anything missing.
var decoders = map[Kind]func() Message{
	KindQuit:                func() Message { return &Quit{} },
	KindQuitWithReply:       func() Message { return &QuitWithReply{} },
	KindCameraAdded:         func() Message { return &CameraAdded{} },
	KindCameraEdited:        func() Message { return &CameraEdited{} },
	KindCameraRemoved:       func() Message { return &CameraRemoved{} },
	KindCameraEnabled:       func() Message { return &CameraEnabled{} },
	KindCameraDisabled:      func() Message { return &CameraDisabled{} },
	KindRenameCamera:        func() Message { return &RenameCamera{} },
	KindFlushVideo:          func() Message { return &FlushVideo{} },
	KindLiveViewOn:          func() Message { return &LiveViewOn{} },
	KindLiveViewOff:         func() Message { return &LiveViewOff{} },
	KindLiveViewParams:      func() Message { return &LiveViewParams{} },
	KindStreamOpened:        func() Message { return &StreamOpened{} },
	KindStreamFailed:        func() Message { return &StreamFailed{} },
	KindStreamTimeout:       func() Message { return &StreamTimeout{} },
	KindCameraPing:          func() Message { return &CameraPing{} },
	KindStreamProcessed:     func() Message { return &StreamProcessed{} },
	KindAddSavedTimes:       func() Message { return &AddSavedTimes{} },
	KindCanTerminate:        func() Message { return &CanTerminate{} },
	KindTerminateReady:      func() Message { return &TerminateReady{} },
	KindChannelFinished:     func() Message { return &ChannelFinished{} },
	KindAddObject:           func() Message { return &AddObject{} },
	KindAddFrame:            func() Message { return &AddFrame{} },
	KindSetMaxStorage:       func() Message { return &SetMaxStorage{} },
	KindSetCacheDuration:    func() Message { return &SetCacheDuration{} },
	KindInsufficientSpace:   func() Message { return &InsufficientSpace{} },
	KindReclaimerPing:       func() Message { return &ReclaimerPing{} },
	KindRuleAdded:           func() Message { return &RuleAdded{} },
	KindRuleScheduleUpdated: func() Message { return &RuleScheduleUpdated{} },
	KindRuleDeleted:         func() Message { return &RuleDeleted{} },
	KindRuleEnabled:         func() Message { return &RuleEnabled{} },
	KindResponderPing:       func() Message { return &ResponderPing{} },
	KindRuleMatches:         func() Message { return &RuleMatches{} },
	KindWebPing:             func() Message { return &WebPing{} },
	KindWebSetPort:          func() Message { return &WebSetPort{} },
	KindWebSetAuth:          func() Message { return &WebSetAuth{} },
	KindStoreCorrupt:        func() Message { return &StoreCorrupt{} },
}

// Encode wraps a message into its wire envelope.
func Encode(m Message) (Envelope, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %T: %w", m, err)
	}
	return Envelope{Kind: m.MessageKind(), Data: data}, nil
}

// Decode unwraps an envelope into its typed message. Unknown kinds
// return ErrUnknownKind.
func Decode(env Envelope) (Message, error) {
	mk, ok := decoders[env.Kind]
	if !ok {
		return nil, ErrUnknownKind{Kind: env.Kind}
	}
	m := mk()
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, m); err != nil {
			return nil, fmt.Errorf("unmarshal kind %d: %w", env.Kind, err)
		}
	}
	return m, nil
}
