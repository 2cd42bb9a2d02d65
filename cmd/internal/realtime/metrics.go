package realtime

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "relay"

// Metrics holds the relay's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg prometheus.Registerer

	events      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	storeOps    *prometheus.CounterVec
	storeTime   *prometheus.HistogramVec
	rejected    *prometheus.CounterVec
}

// NewMetrics creates the relay collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		reg: reg,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "inbound_events_total",
			Help:      "Inbound envelopes handled, by type and outcome.",
		}, []string{"type", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "presence_transitions_total",
			Help:      "User presence transitions.",
		}, []string{"status"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deliveries_total",
			Help:      "Per-session envelope deliveries, by target kind and result.",
		}, []string{"target", "result"}),
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "store_ops_total",
			Help:      "External store calls, by operation and result.",
		}, []string{"op", "result"}),
		storeTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "store_op_duration_seconds",
			Help:      "External store call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"op"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ws_rejected_total",
			Help:      "WebSocket connections rejected or closed by policy.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.events, m.transitions, m.deliveries, m.storeOps, m.storeTime, m.rejected)
	return m
}

// WatchState exports live registry and room sizes as gauges.
func (m *Metrics) WatchState(registry *Registry, rooms *Rooms) {
	if m == nil {
		return
	}
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "users_online",
			Help:      "Distinct users with at least one live session.",
		}, func() float64 { return float64(registry.OnlineCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_active",
			Help:      "Identified sessions.",
		}, func() float64 { return float64(registry.SessionCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "rooms_active",
			Help:      "Rooms with at least one subscribed session.",
		}, func() float64 { return float64(rooms.RoomCount()) }),
	)
}

func (m *Metrics) event(typ string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = ErrorCode(err)
	}
	m.events.WithLabelValues(typ, result).Inc()
}

func (m *Metrics) transition(status PresenceStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) delivered(target TargetKind, res DispatchResult) {
	if m == nil {
		return
	}
	if res.Delivered > 0 {
		m.deliveries.WithLabelValues(target.String(), "delivered").Add(float64(res.Delivered))
	}
	if res.Dropped > 0 {
		m.deliveries.WithLabelValues(target.String(), "dropped").Add(float64(res.Dropped))
	}
	if res.Skipped > 0 {
		m.deliveries.WithLabelValues(target.String(), "skipped").Add(float64(res.Skipped))
	}
}

func (m *Metrics) storeOp(op, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.storeOps.WithLabelValues(op, result).Inc()
	if took > 0 {
		m.storeTime.WithLabelValues(op).Observe(took.Seconds())
	}
}

// Rejected counts a connection refused or closed by gateway policy.
func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}
