package services

import (
	"errors"
	"time"

	"github.com/mbocsi/teamhub/broker"
	"github.com/mbocsi/teamhub/client"
)

// TaskFilter narrows ListTasks. Empty fields match everything.
type TaskFilter struct {
	Status  string `json:"status,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
}

// SendReceipt reports what happened to an outbound message.
type SendReceipt struct {
	MessageID string `json:"message_id"`
	Delivery  string `json:"delivery"` // "sent" or "queued"
}

// MonitorSummary counts monitor events by level since the feed started.
type MonitorSummary struct {
	Total   int            `json:"total"`
	ByLevel map[string]int `json:"by_level"`
	Last    *time.Time     `json:"last,omitempty"`
}

// ConnectionHealth is the last lifecycle notification seen by the feeds.
type ConnectionHealth struct {
	Connected  bool              `json:"connected"`
	LastKind   string            `json:"last_kind,omitempty"`
	LastChange time.Time         `json:"last_change,omitempty"`
	Detail     *broker.Lifecycle `json:"detail,omitempty"`
	Exhausted  bool              `json:"exhausted"`
	Epoch      uint64            `json:"epoch"`
}

// ServiceError represents structured service layer errors
type ServiceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"cause,omitempty"`
}

func (e ServiceError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e ServiceError) Unwrap() error { return e.Cause }

// Common error codes
const (
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeUnavailable  = "UNAVAILABLE"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

func notFound(what, id string) error {
	return ServiceError{Code: ErrCodeNotFound, Message: what + " not found: " + id}
}

func invalidInput(msg string, cause error) error {
	return ServiceError{Code: ErrCodeInvalidInput, Message: msg, Cause: cause}
}

// sendError maps client send failures onto service errors.
func sendError(err error) error {
	if errors.Is(err, client.ErrQueueFull) {
		return ServiceError{Code: ErrCodeUnavailable, Message: "Hub unreachable and outbound queue is full", Cause: err}
	}
	return ServiceError{Code: ErrCodeInternal, Message: "Failed to send message", Cause: err}
}
