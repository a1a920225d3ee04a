package broker

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	dispatched      *prometheus.CounterVec
	handlerFailures *prometheus.CounterVec
	subscriptions   prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamhub",
			Subsystem: "dispatcher",
			Name:      "events_dispatched_total",
			Help:      "Events delivered to at least the dispatch loop, by kind",
		}, []string{"kind"}),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamhub",
			Subsystem: "dispatcher",
			Name:      "handler_failures_total",
			Help:      "Subscriber handlers that returned an error or panicked, by kind",
		}, []string{"kind", "reason"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "teamhub",
			Subsystem: "dispatcher",
			Name:      "subscriptions",
			Help:      "Currently registered subscriptions",
		}),
	}
	var err error
	if m.dispatched, err = register(reg, m.dispatched); err != nil {
		return nil, err
	}
	if m.handlerFailures, err = register(reg, m.handlerFailures); err != nil {
		return nil, err
	}
	if m.subscriptions, err = register(reg, m.subscriptions); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, reusing the collector already registered under the
// same descriptor so several dispatchers can share one registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *metrics) recordDispatch(kind string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(kind).Inc()
}

func (m *metrics) recordFailure(kind, reason string) {
	if m == nil {
		return
	}
	m.handlerFailures.WithLabelValues(kind, reason).Inc()
}

func (m *metrics) setSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}
