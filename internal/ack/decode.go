// Package ack implements the compressed ACK decoder: recovering the full
// sequence number from a 16-bit wire-truncated ack_seq, then walking the
// alternating positive/negative nibble run-lengths in ack_runlen to pop
// every newly-acknowledged packet out of the outstanding window.
package ack

import "github.com/fastpass/endpoint/internal/outwnd"

// Decode applies one compressed ACK payload to w, popping every packet it
// newly acknowledges. It reports tooEarly if the recovered ack_seq falls
// entirely before the window (a redundant ack the window has already
// forgotten about); in that case the window is left untouched.
func Decode(w *outwnd.Window, ackSeq uint16, ackRunlen uint32) (acked []*outwnd.PktDesc, tooEarly bool) {
	nextSeqno := w.NextSeqno()
	windowLen := uint64(w.Size())

	// Recover the full sequence number: it is the one value in
	// [nextSeqno - 2^16, nextSeqno) whose low 16 bits equal ackSeq.
	curSeqno := nextSeqno - (1 << 16)
	delta := uint16(uint64(ackSeq) - curSeqno)
	curSeqno += uint64(delta)

	if nextSeqno-curSeqno > windowLen {
		return nil, true
	}

	if w.IsUnacked(curSeqno) {
		acked = append(acked, w.Pop(curSeqno))
	}
	endSeqno := curSeqno - 1

	// The top nibble is the payload's type code, not a run length; shift
	// it off so the next nibble, the length of the positive run continuing
	// below curSeqno, is on top.
	ackRunlen <<= 4

runs:
	for {
		curSeqno = endSeqno
		endSeqno -= uint64(ackRunlen >> 28)
		ackRunlen <<= 4

		for {
			gap := w.AtOrBefore(curSeqno)
			if gap < 0 {
				break runs
			}
			curSeqno -= uint64(gap)
			if curSeqno <= endSeqno {
				break
			}
			acked = append(acked, w.Pop(curSeqno))
		}

		if ackRunlen == 0 {
			break
		}
		endSeqno -= uint64(ackRunlen >> 28)
		ackRunlen <<= 4
	}

	return acked, false
}
