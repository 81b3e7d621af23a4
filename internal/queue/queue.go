// Package queue implements the orchestrator's scheduled message queue: a
// merge of the shared inbound channel fed by all workers and a time-ordered
// delay queue for messages that must not be processed before a given
// instant.
package queue

import (
	"container/heap"
	"time"

	"vigil/internal/clock"
	"vigil/internal/msg"
)

// inboundBuffer bounds the shared channel. Workers block rather than drop
// when the orchestrator falls this far behind.
const inboundBuffer = 1024

// Item is one message plus the wall-clock time it entered the queue.
// Deposited is the receipt timestamp for messages from workers and the
// due time for delayed messages.
type Item struct {
	Msg       msg.Message
	Deposited time.Time
}

// Queue merges three sources in strict priority: the local buffer of
// already-received messages (arrival order), due delayed entries (earliest
// due first), and a bounded blocking wait on the shared inbound channel.
//
// Queue is owned by the orchestration loop and is not safe for concurrent
// use except for the Inbound channel, which any number of producers may
// send on.
type Queue struct {
	in      chan Item
	local   []Item
	delayed delayHeap
	seq     uint64
	clock   clock.Clock
}

// New creates a Queue using the given clock for receipt timestamps and
// due-time checks.
func New(clk clock.Clock) *Queue {
	return &Queue{
		in:    make(chan Item, inboundBuffer),
		clock: clk,
	}
}

// Inbound is the shared channel workers deposit events on. The fan-in
// readers stamp Deposited at receipt.
func (q *Queue) Inbound() chan<- Item {
	return q.in
}

// EnqueueNow appends a message to the local buffer for processing after
// everything already received.
func (q *Queue) EnqueueNow(m msg.Message) {
	q.local = append(q.local, Item{Msg: m, Deposited: q.clock.Now()})
}

// EnqueueAt schedules a message to be delivered no earlier than due.
// Messages with equal due times are delivered in insertion order.
func (q *Queue) EnqueueAt(due time.Time, m msg.Message) {
	q.seq++
	heap.Push(&q.delayed, delayedItem{due: due, seq: q.seq, m: m})
}

// Poll returns the next message, waiting up to maxWait for one to arrive.
// The second return is how long the message sat in the queue before being
// handed out; ok is false on timeout.
//
// Delayed messages are never handed out before their due time, but a due
// message whose time passed while the loop was blocked is handed out
// immediately on the next poll.
func (q *Queue) Poll(maxWait time.Duration) (item Item, waited time.Duration, ok bool) {
	q.drainInbound()

	now := q.clock.Now()
	for q.delayed.Len() > 0 {
		head := q.delayed[0]
		if head.due.After(now) {
			// Not due yet; never sleep past it.
			if remain := head.due.Sub(now); remain < maxWait {
				maxWait = remain
			}
			break
		}
		heap.Pop(&q.delayed)
		q.local = append(q.local, Item{Msg: head.m, Deposited: head.due})
	}

	if len(q.local) > 0 {
		item = q.local[0]
		q.local = q.local[1:]
		return item, q.clock.Now().Sub(item.Deposited), true
	}

	if maxWait <= 0 {
		select {
		case item = <-q.in:
			return item, q.clock.Now().Sub(item.Deposited), true
		default:
			return Item{}, 0, false
		}
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	select {
	case item = <-q.in:
		return item, q.clock.Now().Sub(item.Deposited), true
	case <-timer.C:
		return Item{}, 0, false
	}
}

// drainInbound moves everything currently sitting on the shared channel
// into the local buffer, preserving arrival order and receipt timestamps.
func (q *Queue) drainInbound() {
	for {
		select {
		case item := <-q.in:
			q.local = append(q.local, item)
		default:
			return
		}
	}
}

// Pending calls fn for every unprocessed message in the local buffer, in
// arrival order, until fn returns false. The liveness monitor uses this
// to find buffered pings before declaring a worker dead.
func (q *Queue) Pending(fn func(Item) bool) {
	q.drainInbound()
	for _, item := range q.local {
		if !fn(item) {
			return
		}
	}
}

// Len reports the local buffer size, for queue statistics.
func (q *Queue) Len() int {
	return len(q.local)
}

// DelayedLen reports how many messages are waiting on a due time.
func (q *Queue) DelayedLen() int {
	return q.delayed.Len()
}

type delayedItem struct {
	due time.Time
	seq uint64
	m   msg.Message
}

type delayHeap []delayedItem

func (h delayHeap) Len() int { return len(h) }

func (h delayHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h delayHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *delayHeap) Push(x any) { *h = append(*h, x.(delayedItem)) }

func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
