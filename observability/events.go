package observability

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"xsauce/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking structured engine events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "xsauce",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of engine events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// Record increments the event counter for the supplied event type.
func (m *eventMetrics) Record(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.emitted.WithLabelValues(eventType).Inc()
}

// attributed is implemented by events carrying a string attribute payload.
type attributed interface {
	Attributes() map[string]string
}

// InstrumentedEmitter logs every engine event and feeds the event counters.
type InstrumentedEmitter struct {
	log *slog.Logger
}

// NewInstrumentedEmitter wires an emitter to the supplied logger. A nil
// logger falls back to the process default.
func NewInstrumentedEmitter(log *slog.Logger) *InstrumentedEmitter {
	if log == nil {
		log = slog.Default()
	}
	return &InstrumentedEmitter{log: log}
}

// Emit implements the events.Emitter interface.
func (e *InstrumentedEmitter) Emit(evt events.Event) {
	if e == nil || evt == nil {
		return
	}
	Events().Record(evt.EventType())
	args := []any{slog.String("event", evt.EventType())}
	if payload, ok := evt.(attributed); ok {
		for key, value := range payload.Attributes() {
			args = append(args, slog.String(key, value))
		}
	}
	e.log.Info("engine event", args...)
}
