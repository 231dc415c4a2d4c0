// Package retransmit implements the single-deadline retransmission timer
// discipline: at most one outstanding deadline, tracking the earliest
// unacked packet in the outstanding window, advanced through successive
// negative acks in ascending sequence-number order when it fires.
package retransmit

import (
	"time"

	"github.com/fastpass/endpoint/internal/outwnd"
)

// Pending computes the deadline for the earliest unacked packet in w, if
// any. Mirrors the "find the next timeout" half of
// cancel_and_reset_retrans_timer; the caller is responsible for actually
// (re)arming a timer with the result.
func Pending(w *outwnd.Window, sendTimeout time.Duration) (deadline time.Time, seqno uint64, ok bool) {
	if w.Empty() {
		return time.Time{}, 0, false
	}
	seqno = w.EarliestUnacked()
	deadline = time.Unix(0, w.Timestamp(seqno)).Add(sendTimeout)
	return deadline, seqno, true
}

// Fire runs the retransmission tasklet: starting the search from hint, it
// negatively-acks every packet whose deadline has already passed, in
// ascending sequence-number order, and reports the next deadline to arm
// (if the window isn't empty afterward).
func Fire(w *outwnd.Window, sendTimeout time.Duration, hint uint64, now time.Time, negAck func(seqno uint64)) (deadline time.Time, seqno uint64, ok bool) {
	seqno = hint
	for !w.Empty() {
		seqno = w.EarliestUnackedHint(seqno)
		ts := time.Unix(0, w.Timestamp(seqno)).Add(sendTimeout)
		if ts.After(now) {
			return ts, seqno, true
		}
		negAck(seqno)
	}
	return time.Time{}, 0, false
}
