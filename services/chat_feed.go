package services

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mbocsi/teamhub/broker"
	"github.com/mbocsi/teamhub/proto"
)

const DefaultChatHistory = 200

// ChatFeed keeps a bounded, id-deduplicated history per room. On every
// connected event it asks the hub for the history of each room it knows
// and merges the reply into what it already has.
type ChatFeed struct {
	conn    Connection
	queries *QueryTracker
	limit   int

	mu    sync.RWMutex
	rooms map[string]*roomHistory

	subs []*broker.Subscription
}

type roomHistory struct {
	messages []proto.ChatMessage // oldest first
	seen     map[string]struct{}
}

func NewChatFeed(conn Connection, queries *QueryTracker, limit int, rooms ...string) *ChatFeed {
	if limit <= 0 {
		limit = DefaultChatHistory
	}
	f := &ChatFeed{
		conn:    conn,
		queries: queries,
		limit:   limit,
		rooms:   make(map[string]*roomHistory),
	}
	for _, r := range rooms {
		f.room(r)
	}
	f.subs = []*broker.Subscription{
		conn.Subscribe(broker.KindConnected, f.onConnected),
		conn.Subscribe(proto.TypeChatMessage, f.onMessage),
		conn.Subscribe(proto.TypeChatHistory, f.onHistory),
	}
	return f
}

func (f *ChatFeed) Close() {
	for _, sub := range f.subs {
		f.conn.Unsubscribe(sub)
	}
	f.subs = nil
}

// room returns the history for name, creating it. Callers hold mu or are
// still constructing the feed.
func (f *ChatFeed) room(name string) *roomHistory {
	h, ok := f.rooms[name]
	if !ok {
		h = &roomHistory{seen: make(map[string]struct{})}
		f.rooms[name] = h
	}
	return h
}

func (f *ChatFeed) onConnected(ev broker.Event) error {
	for _, room := range f.Rooms() {
		msg, err := proto.NewMessage(proto.TypeChatHistoryRequest, proto.ChatHistoryRequestPayload{Room: room, Limit: f.limit})
		if err != nil {
			return err
		}
		if _, err := f.conn.Send(msg); err != nil {
			return sendError(err)
		}
		slog.Debug("Requested chat history", "room", room, "epoch", ev.Epoch)
	}
	return nil
}

func (f *ChatFeed) onMessage(ev broker.Event) error {
	var m proto.ChatMessage
	if err := ev.Decode(&m); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = ev.ID
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.merge(f.room(m.Room), m)
	return nil
}

func (f *ChatFeed) onHistory(ev broker.Event) error {
	var h proto.ChatHistoryPayload
	if err := ev.Decode(&h); err != nil {
		return err
	}
	if strings.TrimSpace(h.Room) == "" {
		return invalidInput("chat history without room", nil)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	room := f.room(h.Room)
	added := 0
	for _, m := range h.Messages {
		if m.ID == "" || m.Validate() != nil {
			continue
		}
		if f.merge(room, m) {
			added++
		}
	}
	slog.Info("Chat history merged", "room", h.Room, "received", len(h.Messages), "added", added)
	return nil
}

// merge inserts m in SentAt order unless its id was already seen, then trims
// the room to the history limit. Callers hold mu.
func (f *ChatFeed) merge(room *roomHistory, m proto.ChatMessage) bool {
	if _, dup := room.seen[m.ID]; dup {
		return false
	}
	room.seen[m.ID] = struct{}{}

	idx := len(room.messages)
	for idx > 0 && room.messages[idx-1].SentAt.After(m.SentAt) {
		idx--
	}
	room.messages = slices.Insert(room.messages, idx, m)

	if over := len(room.messages) - f.limit; over > 0 {
		for _, old := range room.messages[:over] {
			delete(room.seen, old.ID)
		}
		room.messages = slices.Clone(room.messages[over:])
	}
	return true
}

// History returns up to limit of the newest messages in room, oldest first.
func (f *ChatFeed) History(room string, limit int) ([]proto.ChatMessage, error) {
	if strings.TrimSpace(room) == "" {
		return nil, invalidInput("Room cannot be empty", nil)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	h, ok := f.rooms[room]
	if !ok {
		return []proto.ChatMessage{}, nil
	}
	msgs := h.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return slices.Clone(msgs), nil
}

// Post sends a chat message and records it locally right away. The hub's
// echo is recognized by id and not stored twice.
func (f *ChatFeed) Post(room, author, text string) (*SendReceipt, error) {
	m := proto.ChatMessage{
		ID:     uuid.NewString(),
		Room:   room,
		Author: author,
		Text:   text,
		SentAt: time.Now().UTC(),
	}
	if err := m.Validate(); err != nil {
		return nil, invalidInput("Invalid chat message", err)
	}

	receipt, err := send(f.conn, proto.TypeChatMessage, m)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.merge(f.room(room), m)
	f.mu.Unlock()
	return receipt, nil
}

func (f *ChatFeed) Rooms() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	rooms := make([]string, 0, len(f.rooms))
	for r := range f.rooms {
		rooms = append(rooms, r)
	}
	slices.Sort(rooms)
	return rooms
}

// LoadHistory joins room and waits for its history from the hub.
func (f *ChatFeed) LoadHistory(ctx context.Context, room string) error {
	if strings.TrimSpace(room) == "" {
		return invalidInput("Room cannot be empty", nil)
	}
	f.mu.Lock()
	f.room(room)
	f.mu.Unlock()

	msg, err := proto.NewMessage(proto.TypeChatHistoryRequest, proto.ChatHistoryRequestPayload{Room: room, Limit: f.limit})
	if err != nil {
		return err
	}
	_, err = f.queries.Request(ctx, msg, proto.TypeChatHistory, func(ev broker.Event) bool {
		var h proto.ChatHistoryPayload
		return ev.Decode(&h) == nil && h.Room == room
	})
	return err
}
