package broker

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mbocsi/teamhub/proto"
	"github.com/prometheus/client_golang/prometheus"
)

// Handler receives one dispatched event. A returned error or a panic is
// logged and isolated from every other subscriber.
type Handler func(Event) error

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id      string
	kind    string
	handler Handler
	d       *Dispatcher
}

func (s *Subscription) ID() string   { return s.id }
func (s *Subscription) Kind() string { return s.kind }

// Unsubscribe removes the subscription from its dispatcher. Calling it more
// than once is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.d == nil {
		return
	}
	s.d.Unsubscribe(s)
}

// Dispatcher normalizes inbound frames into Events and fans them out to
// subscribers in registration order.
//
// The subscriber lists are copy-on-write: Dispatch iterates over the slice it
// loaded, so handlers may subscribe or unsubscribe (themselves included)
// while being invoked.
type Dispatcher struct {
	mu    sync.RWMutex
	subs  map[string][]*Subscription // kind -> subscriptions in registration order
	known map[string]struct{}
	count int

	metrics *metrics
}

type Option func(*Dispatcher) error

// WithKnownKinds adds frame types that are dispatched under their own kind
// instead of KindUnknown.
func WithKnownKinds(kinds ...string) Option {
	return func(d *Dispatcher) error {
		for _, k := range kinds {
			d.known[k] = struct{}{}
		}
		return nil
	}
}

// WithMetrics exports dispatch counters to reg. A nil registerer is ignored.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(d *Dispatcher) error {
		if reg == nil {
			return nil
		}
		m, err := newMetrics(reg)
		if err != nil {
			return fmt.Errorf("failed to register dispatcher metrics: %w", err)
		}
		d.metrics = m
		return nil
	}
}

// NewDispatcher returns a dispatcher that knows every proto.KnownTypes kind.
func NewDispatcher(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		subs:  make(map[string][]*Subscription),
		known: make(map[string]struct{}),
	}
	for _, k := range proto.KnownTypes {
		d.known[k] = struct{}{}
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Dispatcher) Subscribe(kind string, handler Handler) *Subscription {
	sub := &Subscription{
		id:      uuid.NewString(),
		kind:    kind,
		handler: handler,
		d:       d,
	}
	slog.Debug("Subscribing", "kind", kind, "subscription", sub.id)

	d.mu.Lock()
	defer d.mu.Unlock()

	current := d.subs[kind]
	next := make([]*Subscription, len(current), len(current)+1)
	copy(next, current)
	d.subs[kind] = append(next, sub)
	d.count++
	d.metrics.setSubscriptions(d.count)
	return sub
}

func (d *Dispatcher) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	current := d.subs[sub.kind]
	idx := slices.Index(current, sub)
	if idx < 0 {
		return
	}
	slog.Debug("Unsubscribing", "kind", sub.kind, "subscription", sub.id)

	next := make([]*Subscription, 0, len(current)-1)
	next = append(next, current[:idx]...)
	next = append(next, current[idx+1:]...)
	if len(next) == 0 {
		delete(d.subs, sub.kind)
	} else {
		d.subs[sub.kind] = next
	}
	d.count--
	d.metrics.setSubscriptions(d.count)
}

// Subscribers returns the number of subscriptions registered for kind.
func (d *Dispatcher) Subscribers(kind string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[kind])
}

// Normalize converts a decoded wire message into an Event for epoch.
func (d *Dispatcher) Normalize(msg proto.Message, epoch uint64) Event {
	ev := Event{
		Kind:       msg.Type,
		ID:         msg.ID,
		Payload:    msg.Payload,
		Epoch:      epoch,
		ReceivedAt: time.Now(),
	}
	d.mu.RLock()
	_, ok := d.known[msg.Type]
	d.mu.RUnlock()
	if !ok {
		ev.Kind = KindUnknown
		ev.OriginalKind = msg.Type
	}
	return ev
}

// Dispatch decodes a raw frame and delivers it. Malformed frames are returned
// as errors and never reach subscribers.
func (d *Dispatcher) Dispatch(raw []byte, epoch uint64) error {
	msg, err := proto.Decode(raw)
	if err != nil {
		return err
	}
	d.DispatchMessage(msg, epoch)
	return nil
}

func (d *Dispatcher) DispatchMessage(msg proto.Message, epoch uint64) {
	d.Publish(d.Normalize(msg, epoch))
}

// Publish delivers ev to the subscribers of ev.Kind and then to KindAny
// subscribers. It returns the number of handlers that completed without
// error.
func (d *Dispatcher) Publish(ev Event) int {
	d.mu.RLock()
	targets := d.subs[ev.Kind]
	wildcard := d.subs[KindAny]
	d.mu.RUnlock()

	d.metrics.recordDispatch(ev.Kind)

	delivered := 0
	for _, sub := range targets {
		if d.invoke(sub, ev) {
			delivered++
		}
	}
	if ev.Kind != KindAny {
		for _, sub := range wildcard {
			if d.invoke(sub, ev) {
				delivered++
			}
		}
	}
	slog.Debug("Event dispatched",
		"kind", ev.Kind,
		"original_kind", ev.OriginalKind,
		"epoch", ev.Epoch,
		"subscribers", len(targets)+len(wildcard),
		"delivered", delivered,
		"size", len(ev.Payload),
	)
	return delivered
}

func (d *Dispatcher) invoke(sub *Subscription, ev Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Subscriber panicked", "kind", ev.Kind, "subscription", sub.id, "panic", r)
			d.metrics.recordFailure(ev.Kind, "panic")
			ok = false
		}
	}()
	if err := sub.handler(ev); err != nil {
		slog.Warn("An error occured in subscriber", "kind", ev.Kind, "subscription", sub.id, "error", err.Error())
		d.metrics.recordFailure(ev.Kind, "error")
		return false
	}
	return true
}
