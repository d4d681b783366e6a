package monitor

import (
	"net/http"
	"strconv"

	"github.com/glimte/mmate-relay/contracts"
	"github.com/glimte/mmate-relay/internal/reliability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes relay counters on its own prometheus registry. It
// observes relay outcomes and lifecycle states.
type Metrics struct {
	registry *prometheus.Registry
	states   []string

	Published     prometheus.Counter
	Returned      prometheus.Counter
	Failed        *prometheus.CounterVec
	Bytes         prometheus.Counter
	State         *prometheus.GaugeVec
	StateChanges  prometheus.Counter
	CircuitOpen   *prometheus.GaugeVec
	ReturnedCodes *prometheus.CounterVec
}

// NewMetrics registers the relay metrics. states lists every lifecycle
// state so the state gauge always exposes all of them.
func NewMetrics(states ...string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		states:   states,

		Published: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_published_total",
			Help: "Total number of messages confirmed by the destination broker",
		}),
		Returned: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_returned_total",
			Help: "Total number of messages returned as unroutable by the destination broker",
		}),
		Failed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_failed_total",
			Help: "Total number of per-message failures by relay stage",
		}, []string{"stage"}),
		Bytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_message_bytes_total",
			Help: "Total body bytes of published messages",
		}),
		State: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_state",
			Help: "Current lifecycle state of the relay, 1 for the active state",
		}, []string{"state"}),
		StateChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_state_changes_total",
			Help: "Total number of lifecycle state transitions",
		}),
		CircuitOpen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_archive_circuit_open",
			Help: "Whether the circuit breaker of an archive backend is open",
		}, []string{"backend"}),
		ReturnedCodes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_returned_by_code_total",
			Help: "Returned messages by broker reply code",
		}, []string{"code"}),
	}

	for _, stage := range []contracts.Stage{contracts.StageArchive, contracts.StagePublish, contracts.StageAck} {
		m.Failed.WithLabelValues(string(stage))
	}
	for _, state := range states {
		m.State.WithLabelValues(state).Set(0)
	}

	return m
}

// Registry returns the prometheus registry the metrics live in
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// OnPublished counts a confirmed message
func (m *Metrics) OnPublished(event contracts.PublishedEvent) {
	m.Published.Inc()
	m.Bytes.Add(float64(len(event.Envelope.Body)))
}

// OnReturned counts a returned message
func (m *Metrics) OnReturned(event contracts.ReturnedEvent) {
	m.Returned.Inc()
	m.ReturnedCodes.WithLabelValues(strconv.Itoa(int(event.Return.ReplyCode))).Inc()
}

// OnFailed counts a per-message failure
func (m *Metrics) OnFailed(event contracts.FailedEvent) {
	m.Failed.WithLabelValues(string(event.Stage)).Inc()
}

// SetState marks state as the active lifecycle state
func (m *Metrics) SetState(state string) {
	for _, s := range m.states {
		if s != state {
			m.State.WithLabelValues(s).Set(0)
		}
	}
	m.State.WithLabelValues(state).Set(1)
	m.StateChanges.Inc()
}

// ObserveBreaker tracks archive circuit breaker transitions
func (m *Metrics) ObserveBreaker(name string, from, to reliability.State) {
	open := 0.0
	if to == reliability.StateOpen {
		open = 1
	}
	m.CircuitOpen.WithLabelValues(name).Set(open)
}
