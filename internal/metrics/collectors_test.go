package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeDedupStats struct {
	capacity uint
	approx   uint32
}

func (f fakeDedupStats) Capacity() uint         { return f.capacity }
func (f fakeDedupStats) ApproxElements() uint32 { return f.approx }

func TestDedupCollectorExposesStats(t *testing.T) {
	c := NewDedupCollector(fakeDedupStats{capacity: 20000, approx: 42})

	reg := prometheus.NewRegistry()
	reg.MustRegister(c)

	if n := testutil.CollectAndCount(c); n != 2 {
		t.Fatalf("CollectAndCount() = %d, want 2", n)
	}
}
