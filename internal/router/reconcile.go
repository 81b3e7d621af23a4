package router

import "vigil/internal/msg"

// binding pairs a capture worker's provisional object id with the
// durable id the store assigned. Bindings are kept in assignment order;
// a durable reference from the worker proves it has learned the real id,
// so every binding up to and including that one is obsolete.
type binding struct {
	provisional int64
	durable     int64
}

func (c *Channel) record(provisional, durable int64) {
	c.bindings = append(c.bindings, binding{provisional, durable})
}

func (c *Channel) resolve(ref msg.ObjectRef) (int64, bool) {
	if !ref.IsProvisional() {
		for i, b := range c.bindings {
			if b.durable == ref.Durable {
				c.bindings = append(c.bindings[:0], c.bindings[i+1:]...)
				break
			}
		}
		return ref.Durable, true
	}
	for _, b := range c.bindings {
		if b.provisional == ref.Provisional {
			return b.durable, true
		}
	}
	return ref.Provisional, false
}

// Record remembers that the store assigned durable to the provisional id
// a capture worker used on this channel. Unknown channels are ignored;
// the store reply can land after a channel was purged.
func (r *Router) Record(channel, provisional, durable int64) {
	if c, ok := r.channels[channel]; ok {
		c.record(provisional, durable)
	}
}

// Resolve maps an object reference to its durable id. The second result
// is false when the reference is provisional and no binding exists yet,
// in which case the provisional id is returned unchanged. Retiring
// channels still resolve; unknown channels do not.
func (r *Router) Resolve(channel int64, ref msg.ObjectRef) (int64, bool) {
	c, ok := r.channels[channel]
	if !ok {
		return 0, false
	}
	return c.resolve(ref)
}
