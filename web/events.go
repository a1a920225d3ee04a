package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mbocsi/teamhub/broker"
)

// sseBuffer is how many events a slow browser may fall behind before
// events are dropped for it.
const sseBuffer = 64

// sseConnection is one browser attached to /api/events.
type sseConnection struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	events  chan broker.Event
}

// push never blocks: subscribers run on the client's read loop.
func (c *sseConnection) push(ev broker.Event) error {
	select {
	case c.events <- ev:
	default:
		slog.Warn("SSE client falling behind, dropping event", "kind", ev.Kind)
	}
	return nil
}

func (c *sseConnection) write(ev broker.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.writer, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// HandleEvents streams Server-Sent Events for every dispatched event, or
// only those of ?kind= when given.
func (a *API) HandleEvents(wr http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = broker.KindAny
	}

	flusher, ok := wr.(http.Flusher)
	if !ok {
		slog.Error("Streaming unsupported", "kind", kind)
		http.Error(wr, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	wr.Header().Set("Content-Type", "text/event-stream")
	wr.Header().Set("Cache-Control", "no-cache")
	wr.Header().Set("Connection", "keep-alive")
	wr.WriteHeader(http.StatusOK)

	conn := &sseConnection{
		writer:  wr,
		flusher: flusher,
		events:  make(chan broker.Event, sseBuffer),
	}
	sub := a.services.Connection.Subscribe(kind, conn.push)
	defer a.services.Connection.Unsubscribe(sub)

	slog.Debug("SSE client attached", "kind", kind, "remote", r.RemoteAddr)

	// Let the browser render the current state before live events arrive.
	status := a.services.Connection.Status()
	hello := broker.Event{Kind: "status", Epoch: status.Epoch, ReceivedAt: time.Now().UTC()}
	hello.Payload, _ = json.Marshal(status)
	if err := conn.write(hello); err != nil {
		return
	}

	keepAlive := a.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			slog.Debug("SSE client detached", "kind", kind, "remote", r.RemoteAddr)
			return
		case ev := <-conn.events:
			if err := conn.write(ev); err != nil {
				slog.Debug("SSE write failed", "error", err)
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(wr, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
