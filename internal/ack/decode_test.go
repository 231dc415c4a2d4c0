package ack

import (
	"testing"

	"github.com/fastpass/endpoint/internal/outwnd"
)

func addRange(w *outwnd.Window, lo, hi uint64) {
	w.SetNextSeqno(lo)
	for s := lo; s <= hi; s++ {
		w.Add(&outwnd.PktDesc{})
	}
}

func TestDecodeSingleAck(t *testing.T) {
	w := outwnd.New(16)
	addRange(w, 200, 207) // nextSeqno becomes 208

	acked, tooEarly := Decode(w, uint16(207), 0)
	if tooEarly {
		t.Fatalf("unexpected tooEarly")
	}
	if len(acked) != 1 || acked[0].Seqno != 207 {
		t.Fatalf("acked = %+v, want exactly [207]", acked)
	}
	if w.IsUnacked(207) {
		t.Fatalf("207 should have been popped")
	}
	for s := uint64(200); s < 207; s++ {
		if !w.IsUnacked(s) {
			t.Fatalf("%d should still be unacked", s)
		}
	}
}

func TestDecodeMultiRun(t *testing.T) {
	w := outwnd.New(16)
	addRange(w, 200, 207)

	acked, tooEarly := Decode(w, uint16(207), 0x02120000)
	if tooEarly {
		t.Fatalf("unexpected tooEarly")
	}

	wantAcked := map[uint64]bool{207: true, 206: true, 205: true, 203: true, 202: true}
	if len(acked) != len(wantAcked) {
		t.Fatalf("acked %d packets, want %d: %+v", len(acked), len(wantAcked), acked)
	}
	for _, pd := range acked {
		if !wantAcked[pd.Seqno] {
			t.Fatalf("unexpected seqno %d acked", pd.Seqno)
		}
	}

	for _, s := range []uint64{204, 201, 200} {
		if !w.IsUnacked(s) {
			t.Fatalf("%d should remain unacked", s)
		}
	}
	for s := range wantAcked {
		if w.IsUnacked(s) {
			t.Fatalf("%d should have been popped", s)
		}
	}
}

func TestDecodeTooEarly(t *testing.T) {
	w := outwnd.New(16)
	addRange(w, 200, 207)

	// 100 is far outside the 16-slot window anchored at nextSeqno 208.
	_, tooEarly := Decode(w, uint16(100), 0)
	if !tooEarly {
		t.Fatalf("expected tooEarly for a seqno far before the window")
	}
}
