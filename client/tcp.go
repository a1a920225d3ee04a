package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/mbocsi/teamhub/proto"
)

// TCPTransport speaks newline-delimited JSON frames over a plain TCP socket.
// It has no close codes: every peer closure reads as abnormal. Lines longer
// than MaxFrameSize are dropped and the connection stays up.
type TCPTransport struct {
	WriteTimeout time.Duration
	MaxFrameSize int
}

func NewTCPTransport() *TCPTransport {
	return &TCPTransport{
		WriteTimeout: 10 * time.Second,
		MaxFrameSize: 1 << 20,
	}
}

func (t *TCPTransport) Name() string { return "tcp" }

func (t *TCPTransport) Dial(ctx context.Context, addr string) (Conn, error) {
	addr = strings.TrimPrefix(addr, "tcp://")

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TCP server: %w", err)
	}

	return &tcpConn{
		conn:         conn,
		reader:       bufio.NewReaderSize(conn, 64*1024),
		maxFrameSize: t.MaxFrameSize,
		writeTimeout: t.WriteTimeout,
	}, nil
}

type tcpConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	maxFrameSize int
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func (c *tcpConn) Send(msg proto.Message) error {
	data, err := proto.Encode(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err = c.conn.Write(data)
	return err
}

func (c *tcpConn) Read() ([]byte, error) {
	for {
		line, tooLong, err := c.readLine()
		if tooLong {
			slog.Warn("Oversized TCP frame dropped", "limit", c.maxFrameSize)
		} else if len(bytes.TrimSpace(line)) > 0 {
			return line, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// readLine reads up to the next newline. A line over maxFrameSize is
// consumed without being kept and reported as tooLong.
func (c *tcpConn) readLine() (line []byte, tooLong bool, err error) {
	for {
		chunk, err := c.reader.ReadSlice('\n')
		if !tooLong {
			line = append(line, chunk...)
			n := len(line)
			if n > 0 && line[n-1] == '\n' {
				n--
			}
			if c.maxFrameSize > 0 && n > c.maxFrameSize {
				tooLong, line = true, nil
			}
		}
		switch {
		case err == nil:
			return bytes.TrimRight(line, "\r\n"), tooLong, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0:
			// Last line without a newline; EOF comes with the next read.
			return line, tooLong, nil
		default:
			return nil, tooLong, err
		}
	}
}

func (c *tcpConn) Close(_ int, _ string) error {
	return c.conn.Close()
}
