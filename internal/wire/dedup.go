package wire

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	dedupExpectedItems  = 20000
	dedupFalsePositive  = 0.001
	dedupRotateInterval = 30 * time.Second
)

// DedupFilter is an observability-only detector for duplicate UDP
// deliveries (retransmissions at the network layer below this
// protocol, not to be confused with the protocol's own retransmission
// discipline). It keys on (seq_low16, checksum) since that pair is
// already present in every header and cheap to hash. False positives
// only inflate a counter; they never affect protocol state.
type DedupFilter struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	size   int
}

// NewDedupFilter returns a filter sized for size distinct headers at a
// dedupFalsePositive rate. It does not clear itself as headers
// accumulate; only RotateLoop clears it, on a fixed interval.
func NewDedupFilter(size int) *DedupFilter {
	if size <= 0 {
		size = dedupExpectedItems
	}
	return &DedupFilter{
		filter: bloom.NewWithEstimates(uint(size), dedupFalsePositive),
		size:   size,
	}
}

// Seen reports whether (seqLow16, checksum) was already observed, and
// marks it observed for next time.
func (d *DedupFilter) Seen(seqLow16, checksum uint16) bool {
	var key [4]byte
	binary.BigEndian.PutUint16(key[0:2], seqLow16)
	binary.BigEndian.PutUint16(key[2:4], checksum)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.filter.Test(key[:]) {
		return true
	}
	d.filter.Add(key[:])
	return false
}

// Capacity returns the configured item capacity the filter was sized for.
func (d *DedupFilter) Capacity() uint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint(d.size)
}

// ApproxElements returns the bloom filter's own estimate of how many
// distinct elements it currently holds, per bits-and-blooms/bloom's
// ApproximatedSize.
func (d *DedupFilter) ApproxElements() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.filter.ApproximatedSize()
}

// RotateLoop clears the filter on dedupRotateInterval until ctx-less
// stop is signaled by closing done. Run it in its own goroutine.
func (d *DedupFilter) RotateLoop(done <-chan struct{}) {
	ticker := time.NewTicker(dedupRotateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.mu.Lock()
			d.filter = bloom.NewWithEstimates(uint(d.size), dedupFalsePositive)
			d.mu.Unlock()
		case <-done:
			return
		}
	}
}
