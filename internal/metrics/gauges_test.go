package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRecordSendAndReceive(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := NewEndpointGauges(reg)

	g.RecordSend(100)
	g.RecordSend(50)
	g.RecordReceive(20)

	if got := counterValue(t, g.DatagramsSent); got != 2 {
		t.Errorf("DatagramsSent = %v, want 2", got)
	}
	if got := counterValue(t, g.BytesSent); got != 150 {
		t.Errorf("BytesSent = %v, want 150", got)
	}
	if got := counterValue(t, g.DatagramsReceived); got != 1 {
		t.Errorf("DatagramsReceived = %v, want 1", got)
	}
	if got := counterValue(t, g.BytesReceived); got != 20 {
		t.Errorf("BytesReceived = %v, want 20", got)
	}
}

func TestRecordRetransmitAndError(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := NewEndpointGauges(reg)

	g.RecordRetransmit()
	g.RecordRetransmit()
	g.RecordError("write")

	if got := counterValue(t, g.Retransmits); got != 2 {
		t.Errorf("Retransmits = %v, want 2", got)
	}

	m := &dto.Metric{}
	if err := g.Errors.WithLabelValues("write").Write(m); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("Errors[write] = %v, want 1", got)
	}
}

func TestRecordAckLatencyDoesNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := NewEndpointGauges(reg)
	g.RecordAckLatency(0.005)
}
