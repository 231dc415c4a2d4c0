package wire

import (
	"encoding/binary"
	"testing"
)

func TestEncodeOutboundRoundTripsAReqOnly(t *testing.T) {
	p := AReqPayload{
		Requests: []AReqEntry{{DstKey: 0x1234, Tslots: 5}, {DstKey: 0xABCD, Tslots: 9}},
	}
	buf := EncodeOutbound(0xBEEF, p)
	Checksum(buf, 0x11223344)

	if SeqLow16(buf) != 0xBEEF {
		t.Fatalf("SeqLow16 = %#x, want 0xBEEF", SeqLow16(buf))
	}
	if !VerifyChecksum(buf, 0x11223344) {
		t.Fatalf("checksum did not verify")
	}

	data := buf[4:]
	word := binary.BigEndian.Uint16(data[0:2])
	if word>>12 != PayloadAReq {
		t.Fatalf("payload type = %d, want %d", word>>12, PayloadAReq)
	}
	if int(word&0x3F) != len(p.Requests) {
		t.Fatalf("n_areq = %d, want %d", word&0x3F, len(p.Requests))
	}
	data = data[2:]
	if binary.BigEndian.Uint16(data[0:2]) != 0x1234 || binary.BigEndian.Uint16(data[2:4]) != 5 {
		t.Fatalf("first a-req entry decoded wrong: %x", data[:4])
	}
}

func TestEncodeOutboundWithReset(t *testing.T) {
	p := AReqPayload{
		SendReset:      true,
		ResetTimestamp: 0x00AABBCCDDEEFF,
		Requests:       []AReqEntry{{DstKey: 1, Tslots: 1}},
	}
	buf := EncodeOutbound(42, p)
	Checksum(buf, 0)

	data := buf[4:]
	hi := binary.BigEndian.Uint32(data[0:4])
	if hi>>28 != PayloadReset {
		t.Fatalf("reset payload type = %d, want %d", hi>>28, PayloadReset)
	}
	lo := binary.BigEndian.Uint32(data[4:8])
	got := uint64(hi&0x0FFFFFFF)<<32 | uint64(lo)
	if got != p.ResetTimestamp {
		t.Fatalf("reset timestamp round-trip = %#x, want %#x", got, p.ResetTimestamp)
	}
}

func TestDispatchReset(t *testing.T) {
	buf := make([]byte, 4+8)
	binary.BigEndian.PutUint32(buf[4:8], uint32(PayloadReset)<<28|0x001234)
	binary.BigEndian.PutUint32(buf[8:12], 0x56789ABC)

	var got ResetPayload
	d := &Dispatcher{HandleReset: func(p ResetPayload) { got = p }}
	if err := d.Dispatch(buf); err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	want := uint64(0x001234)<<32 | 0x56789ABC
	if got.ResetTimestamp != want {
		t.Fatalf("ResetTimestamp = %#x, want %#x", got.ResetTimestamp, want)
	}
}

func TestDispatchAlloc(t *testing.T) {
	// 1 destination, 2 tslot bytes.
	word := uint16(PayloadAlloc)<<12 | uint16(1)<<8 | uint16(1)
	buf := make([]byte, 4+2+2+2+2)
	binary.BigEndian.PutUint16(buf[4:6], word)
	binary.BigEndian.PutUint16(buf[6:8], 0x0100) // base tslot
	binary.BigEndian.PutUint16(buf[8:10], 0x2222)
	buf[10] = 0xAA
	buf[11] = 0xBB

	var got AllocPayload
	d := &Dispatcher{HandleAlloc: func(p AllocPayload) { got = p }}
	if err := d.Dispatch(buf); err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if got.BaseTslot != uint32(0x0100)<<4 {
		t.Fatalf("BaseTslot = %#x, want %#x", got.BaseTslot, uint32(0x0100)<<4)
	}
	if len(got.Dst) != 1 || got.Dst[0] != 0x2222 {
		t.Fatalf("Dst = %+v, want [0x2222]", got.Dst)
	}
	if len(got.Tslots) != 2 || got.Tslots[0] != 0xAA || got.Tslots[1] != 0xBB {
		t.Fatalf("Tslots = %x, want aabb", got.Tslots)
	}
}

func TestDispatchAck(t *testing.T) {
	buf := make([]byte, 4+6)
	binary.BigEndian.PutUint32(buf[4:8], uint32(PayloadAck)<<28|0x0012)
	binary.BigEndian.PutUint16(buf[8:10], 0x00FF)

	var got AckPayload
	d := &Dispatcher{HandleAck: func(p AckPayload) { got = p }}
	if err := d.Dispatch(buf); err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if got.AckSeq != 0x00FF {
		t.Fatalf("AckSeq = %#x, want 0xFF", got.AckSeq)
	}
	if got.AckRunlen != uint32(PayloadAck)<<28|0x0012 {
		t.Fatalf("AckRunlen = %#x, want %#x", got.AckRunlen, uint32(PayloadAck)<<28|0x0012)
	}
}

func TestDispatchMultiplePayloadsInOneFrame(t *testing.T) {
	ack := make([]byte, 6)
	binary.BigEndian.PutUint32(ack[0:4], uint32(PayloadAck)<<28)
	binary.BigEndian.PutUint16(ack[4:6], 7)

	reset := make([]byte, 8)
	binary.BigEndian.PutUint32(reset[0:4], uint32(PayloadReset)<<28)
	binary.BigEndian.PutUint32(reset[4:8], 99)

	buf := append(make([]byte, 4), ack...)
	buf = append(buf, reset...)

	var gotAck, gotReset int
	d := &Dispatcher{
		HandleAck:   func(AckPayload) { gotAck++ },
		HandleReset: func(ResetPayload) { gotReset++ },
	}
	if err := d.Dispatch(buf); err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if gotAck != 1 || gotReset != 1 {
		t.Fatalf("gotAck=%d gotReset=%d, want 1 and 1", gotAck, gotReset)
	}
}

func TestDispatchPacketTooShort(t *testing.T) {
	d := &Dispatcher{}
	if err := d.Dispatch([]byte{1, 2, 3}); err != ErrPacketTooShort {
		t.Fatalf("err = %v, want ErrPacketTooShort", err)
	}
}

func TestDispatchIncompleteReset(t *testing.T) {
	buf := make([]byte, 4+3)
	buf[4] = PayloadReset << 4

	d := &Dispatcher{}
	if err := d.Dispatch(buf); err != ErrIncompleteReset {
		t.Fatalf("err = %v, want ErrIncompleteReset", err)
	}
}

func TestDispatchIncompleteAck(t *testing.T) {
	buf := make([]byte, 4+3)
	buf[4] = PayloadAck << 4

	d := &Dispatcher{}
	if err := d.Dispatch(buf); err != ErrIncompleteAck {
		t.Fatalf("err = %v, want ErrIncompleteAck", err)
	}
}

func TestDispatchUnknownPayload(t *testing.T) {
	buf := make([]byte, 5)
	buf[4] = 0xF << 4

	d := &Dispatcher{}
	if err := d.Dispatch(buf); err != ErrUnknownPayload {
		t.Fatalf("err = %v, want ErrUnknownPayload", err)
	}
}

func TestChecksumDetectsCorruption(t *testing.T) {
	buf := EncodeOutbound(1, AReqPayload{Requests: []AReqEntry{{DstKey: 1, Tslots: 1}}})
	Checksum(buf, 0xCAFEBABE)

	if !VerifyChecksum(buf, 0xCAFEBABE) {
		t.Fatalf("checksum should verify before corruption")
	}
	buf[len(buf)-1] ^= 0xFF
	if VerifyChecksum(buf, 0xCAFEBABE) {
		t.Fatalf("checksum should not verify after corruption")
	}
}

func TestDedupFilterFlagsRepeats(t *testing.T) {
	d := NewDedupFilter(1000)
	if d.Seen(1, 2) {
		t.Fatalf("first observation should not be flagged as seen")
	}
	if !d.Seen(1, 2) {
		t.Fatalf("second observation of the same header should be flagged as seen")
	}
	if d.Seen(1, 3) {
		t.Fatalf("a different checksum should not collide")
	}
}
