// Package outwnd implements the fixed-capacity outstanding window: the
// ring of not-yet-acknowledged packet descriptors that the engine uses to
// decide what's in flight, what fell off the back of the window, and what
// the earliest unacked sequence number is.
//
// The window holds W slots addressed by a sequence number modulo W, with a
// mirrored 2W-bit presence bitmap so that "find the nearest set bit at or
// before position X" never has to unwrap a circular index by hand.
package outwnd

import "github.com/bits-and-blooms/bitset"

// PktDesc describes one packet the engine has committed to delivering.
// Payload carries whatever the upper layer attached when it asked the
// engine to send (A-REQ entries); the window never interprets it.
type PktDesc struct {
	Seqno          uint64
	SentTimestamp  int64 // UnixNano
	SendReset      bool
	ResetTimestamp uint64
	Payload        interface{}
}

// Window is the outstanding window. It is not safe for concurrent use; the
// engine serializes every call behind its own lock.
type Window struct {
	size uint32
	mask uint32

	bins    []*PktDesc
	binMask *bitset.BitSet // length 2*size, mirrored at offset +size

	nextSeqno  uint64
	numUnacked int
}

// New returns a Window with capacity size, which must be a power of two.
func New(size uint32) *Window {
	return &Window{
		size:    size,
		mask:    size - 1,
		bins:    make([]*PktDesc, size),
		binMask: bitset.New(uint(2 * size)),
	}
}

func (w *Window) Size() uint32      { return w.size }
func (w *Window) NextSeqno() uint64 { return w.nextSeqno }
func (w *Window) NumUnacked() int   { return w.numUnacked }
func (w *Window) Empty() bool       { return w.numUnacked == 0 }

// SetNextSeqno reassigns the window's cursor without touching any bins.
// Used once at reset time, after Reset has already cleared the window.
func (w *Window) SetNextSeqno(seqno uint64) { w.nextSeqno = seqno }

func (w *Window) pos(seqno uint64) uint32 {
	return (-uint32(seqno)) & w.mask
}

// IsUnacked reports whether seqno is currently occupying a bin. seqno must
// be within the window.
func (w *Window) IsUnacked(seqno uint64) bool {
	return w.binMask.Test(uint(w.pos(seqno)))
}

// Add inserts pd at NextSeqno and advances the cursor. The caller must
// ensure the slot about to be reused (NextSeqno - size) is already clear,
// e.g. via a prior fall-off check.
func (w *Window) Add(pd *PktDesc) {
	idx := w.pos(w.nextSeqno)
	w.binMask.Set(uint(idx))
	w.binMask.Set(uint(idx) + uint(w.size))
	w.bins[idx] = pd
	pd.Seqno = w.nextSeqno
	w.numUnacked++
	w.nextSeqno++
}

// Pop removes and returns the descriptor at seqno, marking it acked.
// seqno must currently be unacked.
func (w *Window) Pop(seqno uint64) *PktDesc {
	idx := w.pos(seqno)
	pd := w.bins[idx]
	w.binMask.Clear(uint(idx))
	w.binMask.Clear(uint(idx) + uint(w.size))
	w.bins[idx] = nil
	w.numUnacked--
	return pd
}

// Timestamp returns the send timestamp of the descriptor at seqno.
// seqno must be within the window and unacked.
func (w *Window) Timestamp(seqno uint64) int64 {
	return w.bins[w.pos(seqno)].SentTimestamp
}

// AtOrBefore returns (seqno - firstSeqno), where firstSeqno is the
// sequence number of the first unacked packet at or before seqno, or -1 if
// no such packet exists within the window. seqno must be strictly before
// NextSeqno.
func (w *Window) AtOrBefore(seqno uint64) int32 {
	if w.nextSeqno-seqno > uint64(w.size) {
		return -1
	}

	headIndex := w.pos(w.nextSeqno - 1)
	seqnoIndex := headIndex + w.pos(seqno-(w.nextSeqno-1))
	limit := headIndex + w.size

	found, ok := w.binMask.NextSet(uint(seqnoIndex))
	if !ok || found >= uint(limit) {
		return -1
	}
	return int32(found - uint(seqnoIndex))
}

// EarliestUnackedHint returns the sequence number of the earliest unacked
// packet, given that it is not before hint. Assumes such a packet exists
// and that hint is within the window.
func (w *Window) EarliestUnackedHint(hint uint64) uint64 {
	hintPos := w.pos(hint)
	searchUpper := uint(hintPos) + uint(w.size)

	found, ok := w.binMask.PreviousSet(searchUpper)
	if !ok {
		found = searchUpper + 1
	}
	return hint + uint64(searchUpper-found)
}

// EarliestUnacked returns the sequence number of the earliest unacked
// packet. Assumes such a packet exists.
func (w *Window) EarliestUnacked() uint64 {
	return w.EarliestUnackedHint(w.nextSeqno - uint64(w.size))
}

// Reset pops every outstanding packet, in descending seqno order, and
// returns them so the caller can negatively-ack each one. It leaves
// NextSeqno untouched; callers that are handling a protocol reset are
// expected to call SetNextSeqno afterward.
func (w *Window) Reset() []*PktDesc {
	var freed []*PktDesc
	if w.numUnacked == 0 || w.nextSeqno == 0 {
		return freed
	}

	tslot := w.nextSeqno - 1
	for {
		gap := w.AtOrBefore(tslot)
		if gap < 0 {
			break
		}
		tslot -= uint64(gap)
		freed = append(freed, w.Pop(tslot))
	}
	return freed
}
