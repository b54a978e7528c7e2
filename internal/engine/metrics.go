package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kode4food/wireflow/pkg/api"
)

// Metrics holds the Prometheus collectors of the flow engine. A nil
// *Metrics records nothing
type Metrics struct {
	deploys        *prometheus.CounterVec
	deployDuration *prometheus.HistogramVec
	messages       *prometheus.CounterVec
	nodeErrors     *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	closeTimeouts  prometheus.Counter
	inFlight       prometheus.Gauge
	activeFlows    prometheus.Gauge
	activeNodes    prometheus.Gauge
}

const (
	metricsNamespace = "wireflow"

	resultSuccess = "success"
	resultFailure = "failure"

	dropHopLimit   = "hop_limit"
	dropRemoved    = "node_removed"
	dropNoConsumer = "no_receiver"
)

// NewMetrics creates the engine collectors and registers them
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		deploys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "deploy",
			Name:      "total",
			Help:      "Total number of deploy transactions",
		}, []string{"mode", "result"}),

		deployDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "deploy",
				Name:      "duration_seconds",
				Help:      "Deploy transaction duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15},
			}, []string{"mode"},
		),

		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "node",
			Name:      "messages_total",
			Help:      "Messages delivered to nodes",
		}, []string{"flow_id"}),

		nodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "node",
			Name:      "errors_total",
			Help:      "Node processing failures",
		}, []string{"flow_id", "type"}),

		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "node",
			Name:      "dropped_total",
			Help:      "Messages dropped before reaching a node",
		}, []string{"reason"}),

		closeTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "node",
			Name:      "close_timeouts_total",
			Help:      "Node instances abandoned after a close timeout",
		}),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "in_flight_messages",
			Help:      "Messages queued or being processed",
		}),

		activeFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "active_flows",
			Help:      "Current number of running flows",
		}),

		activeNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "active_nodes",
			Help:      "Current number of running node instances",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.deploys, m.deployDuration, m.messages, m.nodeErrors, m.dropped,
		m.closeTimeouts, m.inFlight, m.activeFlows, m.activeNodes,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordDeploy(
	mode api.DeployMode, err error, elapsed time.Duration,
) {
	if m == nil {
		return
	}
	result := resultSuccess
	if err != nil {
		result = resultFailure
	}
	m.deploys.WithLabelValues(string(mode), result).Inc()
	m.deployDuration.WithLabelValues(string(mode)).
		Observe(elapsed.Seconds())
}

func (m *Metrics) recordDelivery(flow api.FlowID) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(string(flow)).Inc()
}

func (m *Metrics) recordNodeError(flow api.FlowID, typ string) {
	if m == nil {
		return
	}
	m.nodeErrors.WithLabelValues(string(flow), typ).Inc()
}

func (m *Metrics) recordDrop(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordCloseTimeout() {
	if m == nil {
		return
	}
	m.closeTimeouts.Inc()
}

func (m *Metrics) setInFlight(n int64) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(n))
}

func (m *Metrics) setActive(flows, nodes int) {
	if m == nil {
		return
	}
	m.activeFlows.Set(float64(flows))
	m.activeNodes.Set(float64(nodes))
}
