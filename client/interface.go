package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/mbocsi/teamhub/proto"
)

// WebSocket close codes used by the client. CloseAbnormal is never written
// to the wire; closing with it just drops the socket.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseAbnormal  = 1006
)

// Transport dials physical connections. Every successful Dial returns a new
// Conn; a Conn is never reused after it is closed.
type Transport interface {
	Dial(ctx context.Context, addr string) (Conn, error)
	Name() string
}

// Conn is one physical connection. Send and Close may be called from
// several goroutines; Read has a single caller.
type Conn interface {
	Send(msg proto.Message) error
	Read() ([]byte, error) // raw frame, one at a time
	Close(code int, reason string) error
}

// CloseError is returned by Conn.Read when the peer closed the connection
// with a close code.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed with code %d: %s", e.Code, e.Text)
}

// closeCode extracts the peer close code from a read error. Anything other
// than a CloseError counts as an abnormal closure.
func closeCode(err error) int {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CloseAbnormal
}
