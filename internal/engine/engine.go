// Package engine wires the outstanding window, sequence/reset state,
// ACK decoder, retransmission discipline, and frame codec together
// behind a single serializing lock, and exposes the upper-layer
// callback and transport contracts the rest of the protocol depends
// on.
package engine

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fastpass/endpoint/internal/ack"
	"github.com/fastpass/endpoint/internal/outwnd"
	"github.com/fastpass/endpoint/internal/retransmit"
	"github.com/fastpass/endpoint/internal/seqno"
	"github.com/fastpass/endpoint/internal/wire"
)

// Config holds the engine's immutable-after-construction parameters.
type Config struct {
	SendTimeout    time.Duration
	ResetWindow    time.Duration
	WindowLen      uint32
	DedupCacheSize int
}

// DefaultConfig returns the parameters the original kernel module
// shipped with: a 256-slot window and a millisecond-scale send
// timeout.
func DefaultConfig() Config {
	return Config{
		SendTimeout:    10 * time.Millisecond,
		ResetWindow:    2 * time.Second,
		WindowLen:      256,
		DedupCacheSize: 20000,
	}
}

// Callbacks is the upper-layer scheduler's dependency surface. All
// four methods are invoked with the engine lock held; implementations
// must not call back into the engine.
type Callbacks interface {
	HandleAck(pd *outwnd.PktDesc)
	HandleNegAck(pd *outwnd.PktDesc)
	HandleReset()
	HandleAlloc(baseTslot uint32, dst []uint16, tslots []byte)
}

// Transport is the engine's outbound dependency: "send this bytestring
// as a datagram to the configured peer." Inbound datagrams reach the
// engine through Deliver instead of a matching Transport method,
// mirroring the asymmetry in the upper-layer contract.
type Transport interface {
	SendDatagram(b []byte) error
}

// Stats are the engine's observable counters, read by Collector.
// Fields are updated with sync/atomic and must only be read that way.
type Stats struct {
	redundantResets    uint64
	resetsOutOfWindow  uint64
	resetsOutdated     uint64
	tooEarlyAcks       uint64
	fallOffs           uint64
	xmitErrors         uint64
	allocErrors        uint64
	packetsTooShort    uint64
	unknownPayloads    uint64
	incompletePayloads uint64
	positiveAcks       uint64
	negativeAcks       uint64
	duplicateDatagrams uint64
}

// StatsSnapshot is a point-in-time copy of Stats, safe to read without
// further synchronization.
type StatsSnapshot struct {
	RedundantResets    uint64
	ResetsOutOfWindow  uint64
	ResetsOutdated     uint64
	TooEarlyAcks       uint64
	FallOffs           uint64
	XmitErrors         uint64
	AllocErrors        uint64
	PacketsTooShort    uint64
	UnknownPayloads    uint64
	IncompletePayloads uint64
	PositiveAcks       uint64
	NegativeAcks       uint64
	DuplicateDatagrams uint64
	NumUnacked         int
	InSync             bool
}

// Engine is a single object bound to exactly one peer. It is not safe
// for concurrent use from outside its own methods; every method
// acquires the engine lock itself.
type Engine struct {
	cfg Config

	mu  sync.Mutex
	ow  *outwnd.Window
	srs *seqno.State

	disc         *retransmit.Discipline
	timerSeqHint uint64

	transport Transport
	callbacks atomic.Pointer[Callbacks]

	dedup *wire.DedupFilter
	stats Stats

	closed bool
}

// New returns a running Engine: its deferred-work goroutine is already
// started. Callers must call Close when done.
func New(cfg Config, transport Transport, callbacks Callbacks) *Engine {
	e := &Engine{
		cfg:       cfg,
		ow:        outwnd.New(cfg.WindowLen),
		srs:       seqno.NewState(uint64(cfg.ResetWindow)),
		disc:      retransmit.NewDiscipline(),
		transport: transport,
		dedup:     wire.NewDedupFilter(cfg.DedupCacheSize),
	}
	e.callbacks.Store(&callbacks)
	e.disc.Run(e.onTimerFire)
	return e
}

func (e *Engine) activeCallbacks() Callbacks {
	p := e.callbacks.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Deliver hands one received datagram to the engine. It is the
// transport's only entry point into the engine.
func (e *Engine) Deliver(buf []byte) {
	if len(buf) < 5 {
		atomic.AddUint64(&e.stats.packetsTooShort, 1)
		return
	}

	seqLow16 := wire.SeqLow16(buf)
	checksum := uint16(buf[2])<<8 | uint16(buf[3])
	if e.dedup.Seen(seqLow16, checksum) {
		atomic.AddUint64(&e.stats.duplicateDatagrams, 1)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	d := &wire.Dispatcher{
		HandleReset: e.handleWireReset,
		HandleAlloc: e.handleWireAlloc,
		HandleAck:   e.handleWireAck,
	}
	switch err := d.Dispatch(buf); err {
	case nil:
	case wire.ErrPacketTooShort:
		atomic.AddUint64(&e.stats.packetsTooShort, 1)
	case wire.ErrUnknownPayload:
		atomic.AddUint64(&e.stats.unknownPayloads, 1)
	default:
		atomic.AddUint64(&e.stats.incompletePayloads, 1)
	}
}

// handleWireReset runs the five-step reset-acceptance state machine
// and, on acceptance, drains the outstanding window and re-anchors it.
// Called with the engine lock held.
func (e *Engine) handleWireReset(p wire.ResetPayload) {
	now := uint64(time.Now().UnixNano())
	outcome, nextSeqno := e.srs.HandleReset(p.ResetTimestamp, now)

	switch outcome {
	case seqno.ResetRedundant:
		atomic.AddUint64(&e.stats.redundantResets, 1)
	case seqno.ResetOutOfWindow:
		atomic.AddUint64(&e.stats.resetsOutOfWindow, 1)
	case seqno.ResetOutdated:
		atomic.AddUint64(&e.stats.resetsOutdated, 1)
	case seqno.ResetNowInSync:
		// Already anchored on this epoch; only the in_sync transition
		// happened, nothing to drain or re-derive.
	case seqno.ResetAccepted:
		for _, pd := range e.ow.Reset() {
			e.negAckLocked(pd)
		}
		e.ow.SetNextSeqno(nextSeqno)
		e.disc.Cancel()
		if cb := e.activeCallbacks(); cb != nil {
			cb.HandleReset()
		}
	}
}

func (e *Engine) handleWireAlloc(p wire.AllocPayload) {
	if cb := e.activeCallbacks(); cb != nil {
		cb.HandleAlloc(p.BaseTslot, p.Dst, p.Tslots)
	}
}

func (e *Engine) handleWireAck(p wire.AckPayload) {
	acked, tooEarly := ack.Decode(e.ow, p.AckSeq, p.AckRunlen)
	if tooEarly {
		atomic.AddUint64(&e.stats.tooEarlyAcks, 1)
		return
	}
	if len(acked) == 0 {
		return
	}

	atomic.AddUint64(&e.stats.positiveAcks, uint64(len(acked)))
	if cb := e.activeCallbacks(); cb != nil {
		for _, pd := range acked {
			cb.HandleAck(pd)
		}
	}
	e.rearmLocked()
}

// negAckLocked runs the negative-ack callback for pd. Called with the
// engine lock held.
func (e *Engine) negAckLocked(pd *outwnd.PktDesc) {
	atomic.AddUint64(&e.stats.negativeAcks, 1)
	if cb := e.activeCallbacks(); cb != nil {
		cb.HandleNegAck(pd)
	}
}

// rearmLocked applies the §4.4 arming rule: if the window is empty,
// disarm; otherwise arm at the earliest unacked descriptor's deadline.
// Called with the engine lock held.
func (e *Engine) rearmLocked() {
	deadline, seq, ok := retransmit.Pending(e.ow, e.cfg.SendTimeout)
	if !ok {
		e.disc.Cancel()
		return
	}
	e.timerSeqHint = seq
	e.disc.Arm(deadline)
}

// onTimerFire is the deferred-work callback the retransmission
// discipline invokes once the hardware timer fires. It acquires the
// engine lock itself, per the irq-context/deferred-work split.
func (e *Engine) onTimerFire() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	// The timer that queued this call has already fired, so Stop on it
	// reports false and Arm would skip re-arming; drop it first.
	e.disc.Cancel()

	deadline, seq, ok := retransmit.Fire(e.ow, e.cfg.SendTimeout, e.timerSeqHint, time.Now(), func(s uint64) {
		e.negAckLocked(e.ow.Pop(s))
	})
	if !ok {
		return
	}
	e.timerSeqHint = seq
	e.disc.Arm(deadline)
}

// prepareToSendLocked evicts the descriptor about to fall off the back
// of the window, if any, treating it as lost. Called with the engine
// lock held, immediately before allocating a new sequence number.
func (e *Engine) prepareToSendLocked() {
	windowEdge := e.ow.NextSeqno() - uint64(e.ow.Size())
	if !e.ow.IsUnacked(windowEdge) {
		return
	}
	atomic.AddUint64(&e.stats.fallOffs, 1)
	e.negAckLocked(e.ow.Pop(windowEdge))
	e.rearmLocked()
}

// ErrClosed is returned by Send once the engine has been torn down.
var ErrClosed = errors.New("engine: closed")

// ErrTooManyEntries is returned by Send when entries would not fit in
// an A-REQ payload's fixed-width count field. The caller's descriptor
// never reaches the outstanding window: nothing is allocated, no
// sequence number is assigned, and the allocErrors statistic is
// incremented, mirroring the kernel module's descriptor-allocation
// failure path (spec's "Descriptor-allocation failure" row) for the
// one way this user-space engine can actually fail to build a
// descriptor.
var ErrTooManyEntries = errors.New("engine: too many entries for one A-REQ payload")

// Send commits to delivering one packet carrying entries, assigning it
// the next sequence number, and hands the encoded frame to the
// transport. The descriptor is added to the outstanding window before
// the transport is ever invoked; a transport failure does not roll
// that back, since the packet is expected to time out normally, the
// same as if it had been lost in flight.
func (e *Engine) Send(entries []wire.AReqEntry) error {
	if len(entries) > wire.MaxAReqEntries {
		atomic.AddUint64(&e.stats.allocErrors, 1)
		return ErrTooManyEntries
	}

	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}

	e.prepareToSendLocked()

	now := time.Now()
	pd := &outwnd.PktDesc{
		SentTimestamp:  now.UnixNano(),
		SendReset:      !e.srs.InSync,
		ResetTimestamp: e.srs.LastResetTime,
		Payload:        entries,
	}
	e.ow.Add(pd)

	if e.ow.NumUnacked() == 1 {
		e.timerSeqHint = pd.Seqno
		e.disc.Arm(now.Add(e.cfg.SendTimeout))
	}

	buf := wire.EncodeOutbound(pd.Seqno, wire.AReqPayload{
		SendReset:      pd.SendReset,
		ResetTimestamp: pd.ResetTimestamp,
		Requests:       entries,
	})
	seed := seqno.H(uint32(pd.Seqno), uint32(pd.Seqno>>32))
	wire.Checksum(buf, seed)

	e.mu.Unlock()

	if err := e.transport.SendDatagram(buf); err != nil {
		atomic.AddUint64(&e.stats.xmitErrors, 1)
		return err
	}
	return nil
}

// Close tears the engine down: detaches the upper-layer handle so
// every in-flight callback becomes a no-op, cancels the retransmission
// timer and waits for its deferred-work goroutine to quiesce, then
// releases every descriptor still held by the outstanding window.
func (e *Engine) Close() {
	var nilCallbacks Callbacks
	e.callbacks.Store(&nilCallbacks)

	e.disc.Close()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.ow.Reset()
}

// DedupStats exposes the engine's inbound duplicate-datagram filter so
// callers can register it with a metrics collector without reaching
// into the engine's other internals.
func (e *Engine) DedupStats() *wire.DedupFilter {
	return e.dedup
}

// NumUnacked reports the outstanding window's current occupancy.
func (e *Engine) NumUnacked() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ow.NumUnacked()
}

// InSync reports whether the peer is known to share the current epoch.
func (e *Engine) InSync() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.srs.InSync
}

// SnapshotStats returns a point-in-time copy of the engine's counters.
func (e *Engine) SnapshotStats() StatsSnapshot {
	s := StatsSnapshot{
		RedundantResets:    atomic.LoadUint64(&e.stats.redundantResets),
		ResetsOutOfWindow:  atomic.LoadUint64(&e.stats.resetsOutOfWindow),
		ResetsOutdated:     atomic.LoadUint64(&e.stats.resetsOutdated),
		TooEarlyAcks:       atomic.LoadUint64(&e.stats.tooEarlyAcks),
		FallOffs:           atomic.LoadUint64(&e.stats.fallOffs),
		XmitErrors:         atomic.LoadUint64(&e.stats.xmitErrors),
		AllocErrors:        atomic.LoadUint64(&e.stats.allocErrors),
		PacketsTooShort:    atomic.LoadUint64(&e.stats.packetsTooShort),
		UnknownPayloads:    atomic.LoadUint64(&e.stats.unknownPayloads),
		IncompletePayloads: atomic.LoadUint64(&e.stats.incompletePayloads),
		PositiveAcks:       atomic.LoadUint64(&e.stats.positiveAcks),
		NegativeAcks:       atomic.LoadUint64(&e.stats.negativeAcks),
		DuplicateDatagrams: atomic.LoadUint64(&e.stats.duplicateDatagrams),
	}
	e.mu.Lock()
	s.NumUnacked = e.ow.NumUnacked()
	s.InSync = e.srs.InSync
	e.mu.Unlock()
	return s
}
