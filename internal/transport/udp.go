// =============================================================================
// 文件: internal/transport/udp.go
// 描述: UDP 发包器 - 默认发包模式
// =============================================================================
package transport

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// udpDialer UDP 拨号器
type udpDialer struct {
	addr           string
	connectTimeout time.Duration
	sendTimeout    time.Duration
}

// Dial 建立 UDP "连接" (绑定默认路由的本地地址)
func (d *udpDialer) Dial(ctx context.Context) (Emitter, error) {
	dialer := &net.Dialer{Timeout: d.connectTimeout}
	conn, err := dialer.DialContext(ctx, "udp", d.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	return &UDPEmitter{
		conn:        conn.(*net.UDPConn),
		sendTimeout: d.sendTimeout,
	}, nil
}

// UDPEmitter UDP 发包器
type UDPEmitter struct {
	conn        *net.UDPConn
	sendTimeout time.Duration

	bytesSent   uint64
	packetsSent uint64
}

// Send 发送一个数据报
func (e *UDPEmitter) Send(data []byte) error {
	if err := e.conn.SetWriteDeadline(time.Now().Add(e.sendTimeout)); err != nil {
		return err
	}
	n, err := e.conn.Write(data)
	if err != nil {
		return fmt.Errorf("UDP 发送失败: %w", err)
	}
	atomic.AddUint64(&e.bytesSent, uint64(n))
	atomic.AddUint64(&e.packetsSent, 1)
	return nil
}

// Close 关闭连接
func (e *UDPEmitter) Close() error {
	return e.conn.Close()
}

// LocalAddr 本地地址
func (e *UDPEmitter) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

// RemoteAddr 远端地址
func (e *UDPEmitter) RemoteAddr() net.Addr {
	return e.conn.RemoteAddr()
}

// Stats 发送统计
func (e *UDPEmitter) Stats() (bytes, packets uint64) {
	return atomic.LoadUint64(&e.bytesSent), atomic.LoadUint64(&e.packetsSent)
}
