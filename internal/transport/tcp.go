// =============================================================================
// 文件: internal/transport/tcp.go
// 描述: TCP 发包器 - 段字节流式发送
// =============================================================================
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// tcpDialer TCP 拨号器
type tcpDialer struct {
	addr           string
	connectTimeout time.Duration
	sendTimeout    time.Duration
}

// Dial 建立 TCP 连接
func (d *tcpDialer) Dial(ctx context.Context) (Emitter, error) {
	dialer := &net.Dialer{Timeout: d.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	return &TCPEmitter{
		conn:        conn,
		sendTimeout: d.sendTimeout,
	}, nil
}

// TCPEmitter TCP 发包器
// 段定长 20 字节，对端按固定长度切分，无需帧头
type TCPEmitter struct {
	conn        net.Conn
	sendTimeout time.Duration
	mu          sync.Mutex
}

// Send 发送段字节
func (e *TCPEmitter) Send(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.conn.SetWriteDeadline(time.Now().Add(e.sendTimeout)); err != nil {
		return err
	}
	if _, err := e.conn.Write(data); err != nil {
		return fmt.Errorf("TCP 发送失败: %w", err)
	}
	return nil
}

// Close 关闭连接
func (e *TCPEmitter) Close() error {
	return e.conn.Close()
}

// LocalAddr 本地地址
func (e *TCPEmitter) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

// RemoteAddr 远端地址
func (e *TCPEmitter) RemoteAddr() net.Addr {
	return e.conn.RemoteAddr()
}
