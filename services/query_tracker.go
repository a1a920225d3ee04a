package services

import (
	"context"
	"fmt"
	"time"

	"github.com/mbocsi/teamhub/broker"
	"github.com/mbocsi/teamhub/proto"
)

// QueryTracker pairs a request frame with the next event of the reply kind.
// The hub protocol has no correlation ids, so any reply of the right kind
// accepted by match completes the request.
type QueryTracker struct {
	conn    Connection
	timeout time.Duration
}

func NewQueryTracker(conn Connection, defaultTimeout time.Duration) *QueryTracker {
	return &QueryTracker{
		conn:    conn,
		timeout: defaultTimeout,
	}
}

// Request sends msg and waits for a replyKind event. While the client is
// offline the request sits in the outbound queue and the wait continues
// until ctx or the default timeout expires.
func (qt *QueryTracker) Request(ctx context.Context, msg proto.Message, replyKind string, match func(broker.Event) bool) (broker.Event, error) {
	replies := make(chan broker.Event, 1)
	sub := qt.conn.Subscribe(replyKind, func(ev broker.Event) error {
		if match != nil && !match(ev) {
			return nil
		}
		select {
		case replies <- ev:
		default:
		}
		return nil
	})
	defer qt.conn.Unsubscribe(sub)

	if _, err := qt.conn.Send(msg); err != nil {
		return broker.Event{}, sendError(err)
	}

	if _, ok := ctx.Deadline(); !ok && qt.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}

	select {
	case ev := <-replies:
		return ev, nil
	case <-ctx.Done():
		return broker.Event{}, ServiceError{
			Code:    ErrCodeTimeout,
			Message: fmt.Sprintf("No %s reply to %s", replyKind, msg.Type),
			Cause:   ctx.Err(),
		}
	}
}
