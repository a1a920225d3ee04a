package client

import "errors"

var (
	ErrQueueFull      = errors.New("outbound queue is full")
	ErrNotConnected   = errors.New("transport is not connected")
	ErrInvalidConfig  = errors.New("invalid client configuration")
	ErrConnectTimeout = errors.New("connection establishment timed out")
)
