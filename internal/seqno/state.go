// Package seqno holds the sequence-number space and the reset/resync
// protocol: the epoch-derived next_seqno counter, and the state machine
// that decides whether an inbound RESET payload should be accepted,
// ignored as redundant, or rejected as out-of-window or outdated.
package seqno

// State is not safe for concurrent use; the engine serializes access
// behind its own lock.
//
// State intentionally does not track next_seqno itself: the outstanding
// window already owns that counter (it must, to place packets in its
// ring), so State only computes the new value a reset derives and lets
// the caller apply it via outwnd.Window.SetNextSeqno. Tracking it twice
// would just invite the two copies to drift.
type State struct {
	LastResetTime uint64
	InSync        bool

	// ResetWindow is the half-open tolerance (in nanoseconds) a candidate
	// reset timestamp must fall within around "now" to be accepted.
	ResetWindow uint64
}

// NewState returns a State with no reset applied yet: LastResetTime is
// 0 and InSync is false. engine.New uses it as is, so sequence numbers
// start at 0 until the first accepted reset; DoReset derives a sequence
// number from a reset time.
func NewState(resetWindow uint64) *State {
	return &State{ResetWindow: resetWindow}
}

// DoReset derives the next_seqno value a reset at resetTime produces via
// the Jenkins hash, and records resetTime as the last accepted reset.
// Callers are responsible for draining the outstanding window and
// applying the returned value to it.
func (s *State) DoReset(resetTime uint64) uint64 {
	h := H(uint32(resetTime), uint32(resetTime>>32))
	s.LastResetTime = resetTime
	return resetTime + uint64(h) + (uint64(h) << 32)
}

// ResetOutcome classifies the result of handling an inbound RESET payload.
type ResetOutcome int

const (
	ResetAccepted ResetOutcome = iota
	ResetNowInSync
	ResetRedundant
	ResetOutOfWindow
	ResetOutdated
)

func tstampInWindow(tstamp, winMiddle, winSize uint64) bool {
	return tstamp >= winMiddle-(winSize/2) && tstamp < winMiddle+((winSize+1)/2)
}

// partialBits is the width, in bits, of the truncated reset timestamp
// carried on the wire.
const partialBits = 56

// HandleReset reconstructs the full reset timestamp from its 56-bit
// wire-truncated form relative to now, then runs the five-step
// acceptance state machine: identical-to-last (sync or redundant),
// out-of-window, outdated-but-in-window, or accepted. nextSeqno is only
// meaningful when the outcome is ResetAccepted; the caller must apply
// it to the outstanding window after draining it.
func (s *State) HandleReset(partialTstamp, now uint64) (outcome ResetOutcome, nextSeqno uint64) {
	fullTstamp := now - (uint64(1) << 55)
	fullTstamp += (partialTstamp - fullTstamp) & ((uint64(1) << partialBits) - 1)

	if fullTstamp == s.LastResetTime {
		if !s.InSync {
			s.InSync = true
			return ResetNowInSync, 0
		}
		return ResetRedundant, 0
	}

	if !tstampInWindow(fullTstamp, now, s.ResetWindow) {
		return ResetOutOfWindow, 0
	}

	if tstampInWindow(s.LastResetTime, now, s.ResetWindow) && fullTstamp < s.LastResetTime {
		return ResetOutdated, 0
	}

	nextSeqno = s.DoReset(fullTstamp)
	s.InSync = true
	return ResetAccepted, nextSeqno
}
