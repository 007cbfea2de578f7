// =============================================================================
// 文件: internal/transport/websocket.go
// 描述: WebSocket 发包器 - CDN 友好的段投递通道
// =============================================================================
package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsDialer WebSocket 拨号器
type wsDialer struct {
	addr           string
	path           string
	host           string
	useTLS         bool
	connectTimeout time.Duration
	sendTimeout    time.Duration
}

// Dial 建立 WebSocket 连接
func (d *wsDialer) Dial(ctx context.Context) (Emitter, error) {
	scheme := "ws"
	if d.useTLS {
		scheme = "wss"
	}
	url := fmt.Sprintf("%s://%s%s", scheme, d.addr, d.path)

	dialer := &websocket.Dialer{
		HandshakeTimeout: d.connectTimeout,
	}

	header := http.Header{}
	if d.host != "" {
		header.Set("Host", d.host)
	}

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("%w: websocket: %v", ErrConnectionFailed, err)
	}

	return &WSEmitter{
		conn:        conn,
		sendTimeout: d.sendTimeout,
	}, nil
}

// WSEmitter WebSocket 发包器
// 每个段作为一条二进制消息发送，消息边界即段边界
type WSEmitter struct {
	conn        *websocket.Conn
	sendTimeout time.Duration
	mu          sync.Mutex
}

// Send 发送一条二进制消息
func (e *WSEmitter) Send(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.conn.SetWriteDeadline(time.Now().Add(e.sendTimeout)); err != nil {
		return err
	}
	if err := e.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("WebSocket 发送失败: %w", err)
	}
	return nil
}

// Close 关闭连接
func (e *WSEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// 尽力发送关闭帧，对端可能已经消失
	e.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return e.conn.Close()
}

// LocalAddr 本地地址
func (e *WSEmitter) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

// RemoteAddr 远端地址
func (e *WSEmitter) RemoteAddr() net.Addr {
	return e.conn.RemoteAddr()
}
