// =============================================================================
// 文件: internal/transport/udp_test.go
// 描述: 单对端 UDP 传输单元测试
// =============================================================================
package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/fastpass/endpoint/internal/config"
	"github.com/fastpass/endpoint/internal/engine"
	"github.com/fastpass/endpoint/internal/outwnd"
)

type noopCallbacks struct{}

func (noopCallbacks) HandleAck(*outwnd.PktDesc)                {}
func (noopCallbacks) HandleNegAck(*outwnd.PktDesc)              {}
func (noopCallbacks) HandleReset()                              {}
func (noopCallbacks) HandleAlloc(uint32, []uint16, []byte)       {}

func TestClampBufferSize(t *testing.T) {
	if got := clampBufferSize(1); got != minBufferSize {
		t.Errorf("clampBufferSize(1) = %d, want %d", got, minBufferSize)
	}
	if got := clampBufferSize(1 << 30); got != maxBufferSize {
		t.Errorf("clampBufferSize(huge) = %d, want %d", got, maxBufferSize)
	}
	if got := clampBufferSize(defaultReadBufferSize); got != defaultReadBufferSize {
		t.Errorf("clampBufferSize(default) = %d, want %d", got, defaultReadBufferSize)
	}
}

func TestDialAndSendReceiveRoundTrip(t *testing.T) {
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() error: %v", err)
	}
	defer peer.Close()

	peerAddr := peer.LocalAddr().(*net.UDPAddr)
	cfg := config.DefaultConfig()
	cfg.PeerAddr = "127.0.0.1"
	cfg.PeerPort = peerAddr.Port

	tr, err := Dial(cfg, nil, "error")
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer tr.Close()

	payload := []byte{0xAA, 0xBB, 0xCC}
	if err := tr.SendDatagram(payload); err != nil {
		t.Fatalf("SendDatagram() error: %v", err)
	}

	buf := make([]byte, 16)
	peer.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := peer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP() error: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("received %d bytes, want %d", n, len(payload))
	}
	if tr.PacketsSent() != 1 {
		t.Fatalf("PacketsSent() = %d, want 1", tr.PacketsSent())
	}
}

func TestReceiveLoopDeliversToEngine(t *testing.T) {
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() error: %v", err)
	}
	defer peer.Close()
	peerAddr := peer.LocalAddr().(*net.UDPAddr)

	cfg := config.DefaultConfig()
	cfg.PeerAddr = "127.0.0.1"
	cfg.PeerPort = peerAddr.Port

	tr, err := Dial(cfg, nil, "error")
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := engine.New(engine.DefaultConfig(), tr, noopCallbacks{})
	defer eng.Close()

	go tr.ReceiveLoop(ctx, eng)

	if err := eng.Send(nil); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	buf := make([]byte, 64)
	peer.SetReadDeadline(time.Now().Add(time.Second))
	n, clientAddr, err := peer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP() error: %v", err)
	}
	if n < 5 {
		t.Fatalf("received %d bytes, want at least a header", n)
	}

	ack := make([]byte, 10)
	ack[4] = byte(3) << 4 // PayloadAck nibble
	if _, err := peer.WriteToUDP(ack, clientAddr); err != nil {
		t.Fatalf("WriteToUDP() error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if tr.PacketsReceived() > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if tr.PacketsReceived() == 0 {
		t.Fatalf("ReceiveLoop did not observe the ack datagram")
	}
}

func TestCloseStopsReceiveLoop(t *testing.T) {
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() error: %v", err)
	}
	defer peer.Close()
	peerAddr := peer.LocalAddr().(*net.UDPAddr)

	cfg := config.DefaultConfig()
	cfg.PeerAddr = "127.0.0.1"
	cfg.PeerPort = peerAddr.Port

	tr, err := Dial(cfg, nil, "error")
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}

	eng := engine.New(engine.DefaultConfig(), tr, noopCallbacks{})
	defer eng.Close()

	done := make(chan struct{})
	go func() {
		tr.ReceiveLoop(context.Background(), eng)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ReceiveLoop did not return after Close()")
	}
}
