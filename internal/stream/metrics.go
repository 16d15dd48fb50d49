package stream

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors shared by every worker of one process.
// A nil *Metrics disables collection.
type Metrics struct {
	messagesReceived prometheus.Counter
	bytesReceived    prometheus.Counter
	readErrors       *prometheus.CounterVec
	framesDropped    prometheus.Counter
	connections      *prometheus.CounterVec
	activeWorkers    prometheus.Gauge
}

// NewMetrics creates the worker collectors and registers them with reg.
// A nil registerer returns nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "namefeed",
			Subsystem: "stream",
			Name:      "messages_received_total",
			Help:      "Total decoded messages delivered to observers",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "namefeed",
			Subsystem: "stream",
			Name:      "bytes_received_total",
			Help:      "Total bytes read from device connections",
		}),
		readErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "namefeed",
			Subsystem: "stream",
			Name:      "read_errors_total",
			Help:      "Read errors by class (transient or fatal)",
		}, []string{"class"}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "namefeed",
			Subsystem: "stream",
			Name:      "frames_dropped_total",
			Help:      "Frames discarded for exceeding the size limit or failing to decode",
		}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "namefeed",
			Subsystem: "stream",
			Name:      "connections_total",
			Help:      "Connection attempts by result",
		}, []string{"result"}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "namefeed",
			Subsystem: "stream",
			Name:      "active_workers",
			Help:      "Workers currently running a read loop",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.messagesReceived, m.bytesReceived, m.readErrors,
		m.framesDropped, m.connections, m.activeWorkers,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) connected(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.connections.WithLabelValues("ok").Inc()
	} else {
		m.connections.WithLabelValues("failed").Inc()
	}
}

func (m *Metrics) received(bytes int) {
	if m == nil {
		return
	}
	m.bytesReceived.Add(float64(bytes))
}

func (m *Metrics) delivered() {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
}

func (m *Metrics) readError(class string) {
	if m == nil {
		return
	}
	m.readErrors.WithLabelValues(class).Inc()
}

func (m *Metrics) dropped() {
	if m == nil {
		return
	}
	m.framesDropped.Inc()
}

func (m *Metrics) workerStarted() {
	if m == nil {
		return
	}
	m.activeWorkers.Inc()
}

func (m *Metrics) workerStopped() {
	if m == nil {
		return
	}
	m.activeWorkers.Dec()
}
