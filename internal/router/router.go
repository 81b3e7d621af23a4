// Package router maps capture channels to cameras and reconciles the
// provisional object ids capture workers invent with the durable ids the
// store assigns.
package router

import (
	"time"

	"vigil/internal/check"
	"vigil/internal/clock"
)

// RetireGrace is how long a closed channel keeps answering id lookups.
// Late frame messages for a torn-down stream can still carry provisional
// ids that need resolving before the channel is forgotten.
const RetireGrace = 5 * time.Minute

// Channel is one capture stream session. A camera gets a fresh channel
// every time its stream is (re)opened, so messages from a dead session
// can never be confused with the live one.
type Channel struct {
	ID     int64
	Camera string

	bindings  []binding
	retiredAt time.Time // zero while active
}

// Active reports whether the channel still belongs to a live stream.
func (c *Channel) Active() bool { return c.retiredAt.IsZero() }

// Router is owned by the orchestration loop and not safe for concurrent
// use.
type Router struct {
	clock    clock.Clock
	next     int64
	channels map[int64]*Channel
	byCamera map[string]int64 // active channels only
}

// New creates an empty router.
func New(clk clock.Clock) *Router {
	check.Assert(clk != nil, "router.New: clock must not be nil")
	return &Router{
		clock:    clk,
		channels: make(map[int64]*Channel),
		byCamera: make(map[string]int64),
	}
}

// Open allocates a channel for a camera's new stream session. Any
// previous channel for the camera is retired first.
func (r *Router) Open(camera string) *Channel {
	if prev, ok := r.byCamera[camera]; ok {
		r.Close(prev)
	}
	r.next++
	c := &Channel{ID: r.next, Camera: camera}
	r.channels[c.ID] = c
	r.byCamera[camera] = c.ID
	return c
}

// Close retires a channel. It stops routing to the camera immediately
// but keeps resolving ids until the grace period expires.
func (r *Router) Close(id int64) {
	c, ok := r.channels[id]
	if !ok || !c.Active() {
		return
	}
	c.retiredAt = r.clock.Now()
	if r.byCamera[c.Camera] == id {
		delete(r.byCamera, c.Camera)
	}
}

// Route returns the camera behind an active channel. Retired and unknown
// channels do not route.
func (r *Router) Route(id int64) (string, bool) {
	c, ok := r.channels[id]
	if !ok || !c.Active() {
		return "", false
	}
	return c.Camera, true
}

// Lookup returns the channel whether active or retiring.
func (r *Router) Lookup(id int64) (*Channel, bool) {
	c, ok := r.channels[id]
	return c, ok
}

// ActiveChannel returns the camera's current channel id.
func (r *Router) ActiveChannel(camera string) (int64, bool) {
	id, ok := r.byCamera[camera]
	return id, ok
}

// PurgeExpired forgets retiring channels whose grace period has passed
// and returns their ids.
func (r *Router) PurgeExpired() []int64 {
	now := r.clock.Now()
	var purged []int64
	for id, c := range r.channels {
		if c.Active() {
			continue
		}
		if now.Sub(c.retiredAt) >= RetireGrace {
			delete(r.channels, id)
			purged = append(purged, id)
		}
	}
	return purged
}
