package client

import (
	"fmt"
	"time"

	"github.com/mbocsi/teamhub/proto"
)

// OverflowPolicy decides what a full outbound queue does with a new message.
type OverflowPolicy string

const (
	// DropOldest evicts the oldest queued message to make room.
	DropOldest OverflowPolicy = "drop_oldest"
	// Reject refuses the new message with ErrQueueFull.
	Reject OverflowPolicy = "reject"
)

func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(s) {
	case DropOldest, Reject:
		return OverflowPolicy(s), nil
	case "":
		return DropOldest, nil
	}
	return "", fmt.Errorf("unknown overflow policy %q", s)
}

type outboundMessage struct {
	msg        proto.Message
	enqueuedAt time.Time
	seq        uint64
}

// outboundQueue is a bounded FIFO ring. It is only touched with the client
// mutex held.
type outboundQueue struct {
	items    []outboundMessage
	head     int // next read position
	size     int
	capacity int
	policy   OverflowPolicy
	nextSeq  uint64
}

func newOutboundQueue(capacity int, policy OverflowPolicy) *outboundQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &outboundQueue{
		items:    make([]outboundMessage, capacity),
		capacity: capacity,
		policy:   policy,
	}
}

// push appends msg. With DropOldest it returns the evicted message, if any.
func (q *outboundQueue) push(msg proto.Message) (*outboundMessage, error) {
	var evicted *outboundMessage
	if q.size == q.capacity {
		if q.policy == Reject {
			return nil, ErrQueueFull
		}
		oldest := q.items[q.head]
		evicted = &oldest
		q.items[q.head] = outboundMessage{}
		q.head = (q.head + 1) % q.capacity
		q.size--
	}
	tail := (q.head + q.size) % q.capacity
	q.nextSeq++
	q.items[tail] = outboundMessage{msg: msg, enqueuedAt: time.Now(), seq: q.nextSeq}
	q.size++
	return evicted, nil
}

// peek returns the oldest message without removing it.
func (q *outboundQueue) peek() (outboundMessage, bool) {
	if q.size == 0 {
		return outboundMessage{}, false
	}
	return q.items[q.head], true
}

func (q *outboundQueue) pop() (outboundMessage, bool) {
	if q.size == 0 {
		return outboundMessage{}, false
	}
	item := q.items[q.head]
	q.items[q.head] = outboundMessage{} // Clear for GC
	q.head = (q.head + 1) % q.capacity
	q.size--
	return item, true
}

// popSeq removes the oldest message if it is still the one numbered seq.
// It reports false when that message was evicted or cleared meanwhile.
func (q *outboundQueue) popSeq(seq uint64) bool {
	head, ok := q.peek()
	if !ok || head.seq != seq {
		return false
	}
	q.pop()
	return true
}

// clear drops every queued message and returns how many were dropped.
func (q *outboundQueue) clear() int {
	n := q.size
	for i := range q.items {
		q.items[i] = outboundMessage{}
	}
	q.head = 0
	q.size = 0
	return n
}

func (q *outboundQueue) len() int { return q.size }
