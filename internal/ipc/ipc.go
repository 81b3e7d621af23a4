// Package ipc carries envelope-framed messages between the orchestrator
// and its worker processes: one JSON object per line, commands down the
// worker's stdin, events back up a dedicated pipe.
package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"vigil/internal/clock"
	"vigil/internal/msg"
	"vigil/internal/queue"
)

// maxLine bounds a single envelope line. Frame observations are small;
// anything bigger is a framing bug.
const maxLine = 1 << 20

// Port is the write side of a worker's command pipe.
type Port struct {
	mu  sync.Mutex
	w   io.WriteCloser
	enc *json.Encoder
}

// NewPort wraps a command pipe.
func NewPort(w io.WriteCloser) *Port {
	return &Port{w: w, enc: json.NewEncoder(w)}
}

// Send writes one message as an envelope line. Safe for concurrent use.
func (p *Port) Send(m msg.Message) error {
	env, err := msg.Encode(m)
	if err != nil {
		return fmt.Errorf("encode %v: %w", m.MessageKind(), err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(env); err != nil {
		return fmt.Errorf("send %v: %w", m.MessageKind(), err)
	}
	return nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.w.Close()
}

// ReadEvents pumps one worker's event pipe into the shared inbound
// channel, stamping each message at receipt. It blocks until the pipe
// closes, so run it in its own goroutine; onClose fires exactly once
// when the stream ends, with the read error if the pipe broke mid-line.
// Undecodable lines and unknown kinds are logged and dropped.
func ReadEvents(r io.Reader, inbound chan<- queue.Item, clk clock.Clock, log *slog.Logger, onClose func(err error)) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLine)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var env msg.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			log.Warn("dropping unparseable event line", "error", err)
			continue
		}
		m, err := msg.Decode(env)
		if err != nil {
			var unknown msg.ErrUnknownKind
			if errors.As(err, &unknown) {
				log.Warn("dropping event of unknown kind", "kind", unknown.Kind)
			} else {
				log.Warn("dropping undecodable event", "kind", env.Kind, "error", err)
			}
			continue
		}
		inbound <- queue.Item{Msg: m, Deposited: clk.Now()}
	}
	onClose(sc.Err())
}

// Worker-side helpers.

// EventWriter frames worker events for the orchestrator. Same codec as
// Port, over the worker's event pipe.
type EventWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewEventWriter(w io.Writer) *EventWriter {
	return &EventWriter{enc: json.NewEncoder(w)}
}

func (ew *EventWriter) Send(m msg.Message) error {
	env, err := msg.Encode(m)
	if err != nil {
		return fmt.Errorf("encode %v: %w", m.MessageKind(), err)
	}
	ew.mu.Lock()
	defer ew.mu.Unlock()
	if err := ew.enc.Encode(env); err != nil {
		return fmt.Errorf("send %v: %w", m.MessageKind(), err)
	}
	return nil
}

// ReadCommands decodes the orchestrator's command stream line by line,
// calling fn for each message until the pipe closes or fn returns false.
func ReadCommands(r io.Reader, log *slog.Logger, fn func(msg.Message) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLine)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var env msg.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			log.Warn("dropping unparseable command line", "error", err)
			continue
		}
		m, err := msg.Decode(env)
		if err != nil {
			log.Warn("dropping undecodable command", "kind", env.Kind, "error", err)
			continue
		}
		if !fn(m) {
			return nil
		}
	}
	return sc.Err()
}
