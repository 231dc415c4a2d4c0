// =============================================================================
// 文件: internal/transport/udp.go
// 描述: 单对端 UDP 传输 - 连接到控制器并驱动可靠性引擎的收发循环
// =============================================================================
package transport

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/fastpass/endpoint/internal/config"
	"github.com/fastpass/endpoint/internal/engine"
	"github.com/fastpass/endpoint/internal/metrics"
)

// =============================================================================
// 缓冲区配置
// =============================================================================

const (
	defaultReadBufferSize  = 2 * 1024 * 1024 // 2MB 默认
	defaultWriteBufferSize = 2 * 1024 * 1024
	maxBufferSize          = 16 * 1024 * 1024
	minBufferSize          = 256 * 1024
)

// BufferConfig 套接字缓冲区配置。FastPass 端点只与单个对端通信，
// 不需要按带宽时延积动态放大，因此这里只保留固定尺寸与回退逻辑。
type BufferConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
}

// DefaultBufferConfig 默认缓冲区配置
func DefaultBufferConfig() *BufferConfig {
	return &BufferConfig{
		ReadBufferSize:  defaultReadBufferSize,
		WriteBufferSize: defaultWriteBufferSize,
	}
}

func clampBufferSize(size int) int {
	if size < minBufferSize {
		return minBufferSize
	}
	if size > maxBufferSize {
		return maxBufferSize
	}
	return size
}

// =============================================================================
// Transport
// =============================================================================

// Transport is a UDP socket connected to a single FastPass controller,
// implementing engine.Transport and feeding inbound datagrams to an
// Engine's Deliver method until Close is called.
type Transport struct {
	conn *net.UDPConn

	logLevel int
	gauges   *metrics.EndpointGauges

	stopCh  chan struct{}
	stopped int32

	packetsSent uint64
	packetsRecv uint64
}

// Dial connects a UDP socket to cfg's peer address and applies the
// given buffer sizing, falling back to smaller sizes if the kernel
// refuses the requested ones (common under restrictive cgroup or
// sysctl limits).
func Dial(cfg *config.Config, bufCfg *BufferConfig, logLevel string) (*Transport, error) {
	if bufCfg == nil {
		bufCfg = DefaultBufferConfig()
	}

	addr, err := net.ResolveUDPAddr("udp", cfg.PeerAddrPort())
	if err != nil {
		return nil, fmt.Errorf("解析对端地址: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("连接对端失败: %w", err)
	}

	level := 1
	switch logLevel {
	case "debug":
		level = 2
	case "error":
		level = 0
	}

	t := &Transport{
		conn:     conn,
		logLevel: level,
		stopCh:   make(chan struct{}),
	}
	t.setupBuffers(bufCfg)

	return t, nil
}

func (t *Transport) setupBuffers(cfg *BufferConfig) {
	readSize := clampBufferSize(cfg.ReadBufferSize)
	writeSize := clampBufferSize(cfg.WriteBufferSize)

	if err := t.conn.SetReadBuffer(readSize); err != nil {
		for size := readSize / 2; size >= minBufferSize; size /= 2 {
			if err := t.conn.SetReadBuffer(size); err == nil {
				t.log(1, "读缓冲区降级设置为: %d bytes", size)
				break
			}
		}
	}

	if err := t.conn.SetWriteBuffer(writeSize); err != nil {
		for size := writeSize / 2; size >= minBufferSize; size /= 2 {
			if err := t.conn.SetWriteBuffer(size); err == nil {
				t.log(1, "写缓冲区降级设置为: %d bytes", size)
				break
			}
		}
	}
}

// SetGauges attaches a metrics.EndpointGauges for send/receive accounting.
// Passing nil disables accounting.
func (t *Transport) SetGauges(g *metrics.EndpointGauges) {
	t.gauges = g
}

// SendDatagram implements engine.Transport.
func (t *Transport) SendDatagram(b []byte) error {
	n, err := t.conn.Write(b)
	if err != nil {
		if t.gauges != nil {
			t.gauges.RecordError("write")
		}
		return fmt.Errorf("写入对端失败: %w", err)
	}
	atomic.AddUint64(&t.packetsSent, 1)
	if t.gauges != nil {
		t.gauges.RecordSend(n)
	}
	return nil
}

// ReceiveLoop reads datagrams from the peer and hands each to eng.Deliver
// until ctx is done or Close is called. It runs in the caller's goroutine;
// callers typically invoke it via `go t.ReceiveLoop(ctx, eng)`.
func (t *Transport) ReceiveLoop(ctx context.Context, eng *engine.Engine) {
	buf := make([]byte, 65535)

	for atomic.LoadInt32(&t.stopped) == 0 {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		default:
		}

		_ = t.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, err := t.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-t.stopCh:
				return
			default:
				if t.gauges != nil {
					t.gauges.RecordError("read")
				}
				continue
			}
		}
		if n == 0 {
			continue
		}

		atomic.AddUint64(&t.packetsRecv, 1)
		if t.gauges != nil {
			t.gauges.RecordReceive(n)
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		eng.Deliver(data)
	}
}

// PacketsSent returns the number of datagrams written so far.
func (t *Transport) PacketsSent() uint64 { return atomic.LoadUint64(&t.packetsSent) }

// PacketsReceived returns the number of datagrams read so far.
func (t *Transport) PacketsReceived() uint64 { return atomic.LoadUint64(&t.packetsRecv) }

// Close stops ReceiveLoop and closes the underlying socket.
func (t *Transport) Close() error {
	if !atomic.CompareAndSwapInt32(&t.stopped, 0, 1) {
		return nil
	}
	close(t.stopCh)
	return t.conn.Close()
}

func (t *Transport) log(level int, format string, args ...interface{}) {
	if level > t.logLevel {
		return
	}
	fmt.Printf("[transport] "+format+"\n", args...)
}
