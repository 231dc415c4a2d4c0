// =============================================================================
// 文件: internal/metrics/gauges.go
// 描述: 传输层埋点指标（Counter/Histogram/CounterVec），与引擎自身的可靠性
//       指标（internal/engine.Collector）互补，覆盖 UDP 套接字这一层。
// =============================================================================
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EndpointGauges 传输层指标集合
type EndpointGauges struct {
	DatagramsSent     prometheus.Counter
	DatagramsReceived prometheus.Counter

	BytesSent     prometheus.Counter
	BytesReceived prometheus.Counter

	SendLatency prometheus.Histogram

	Retransmits prometheus.Counter

	Errors *prometheus.CounterVec
}

// NewEndpointGauges 创建指标集合并注册到 registry
func NewEndpointGauges(registry *prometheus.Registry) *EndpointGauges {
	m := &EndpointGauges{
		DatagramsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fastpass",
			Subsystem: "transport",
			Name:      "datagrams_sent_total",
			Help:      "Total UDP datagrams written to the peer",
		}),

		DatagramsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fastpass",
			Subsystem: "transport",
			Name:      "datagrams_received_total",
			Help:      "Total UDP datagrams read from the peer",
		}),

		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fastpass",
			Subsystem: "transport",
			Name:      "bytes_sent_total",
			Help:      "Total bytes written to the peer",
		}),

		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fastpass",
			Subsystem: "transport",
			Name:      "bytes_received_total",
			Help:      "Total bytes read from the peer",
		}),

		SendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fastpass",
			Subsystem: "transport",
			Name:      "commit_to_ack_seconds",
			Help:      "Time between a descriptor's commit and its positive ack",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),

		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fastpass",
			Subsystem: "transport",
			Name:      "retransmits_total",
			Help:      "Total allocation requests resent by the caller after a negative ack",
		}),

		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fastpass",
			Subsystem: "transport",
			Name:      "errors_total",
			Help:      "Total transport-level errors by kind",
		}, []string{"kind"}),
	}

	registry.MustRegister(
		m.DatagramsSent,
		m.DatagramsReceived,
		m.BytesSent,
		m.BytesReceived,
		m.SendLatency,
		m.Retransmits,
		m.Errors,
	)

	return m
}

// RecordSend records one outbound datagram of n bytes.
func (m *EndpointGauges) RecordSend(n int) {
	m.DatagramsSent.Inc()
	m.BytesSent.Add(float64(n))
}

// RecordReceive records one inbound datagram of n bytes.
func (m *EndpointGauges) RecordReceive(n int) {
	m.DatagramsReceived.Inc()
	m.BytesReceived.Add(float64(n))
}

// RecordAckLatency observes the delay between commit and ack for one descriptor.
func (m *EndpointGauges) RecordAckLatency(seconds float64) {
	m.SendLatency.Observe(seconds)
}

// RecordRetransmit records one caller-initiated resend after a negative ack.
func (m *EndpointGauges) RecordRetransmit() {
	m.Retransmits.Inc()
}

// RecordError records one transport-level error of the given kind
// ("dial", "write", "read", ...).
func (m *EndpointGauges) RecordError(kind string) {
	m.Errors.WithLabelValues(kind).Inc()
}
