// =============================================================================
// 文件: internal/transport/utls.go
// 描述: uTLS 发包器 - 浏览器指纹伪装的 TLS 通道
// 依赖: github.com/refraction-networking/utls
// =============================================================================
package transport

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"

	"github.com/mrcgq/optiack/internal/config"
)

// tlsDialer uTLS 拨号器
type tlsDialer struct {
	addr           string
	cfg            config.TLSTransportConfig
	connectTimeout time.Duration
	sendTimeout    time.Duration
}

// clientHelloID 指纹映射
func (d *tlsDialer) clientHelloID() utls.ClientHelloID {
	switch d.cfg.Fingerprint {
	case "chrome":
		return utls.HelloChrome_Auto
	case "firefox":
		return utls.HelloFirefox_Auto
	case "safari":
		return utls.HelloSafari_Auto
	case "ios":
		return utls.HelloIOS_Auto
	case "edge":
		return utls.HelloEdge_Auto
	case "random":
		options := []utls.ClientHelloID{
			utls.HelloChrome_Auto,
			utls.HelloFirefox_Auto,
			utls.HelloSafari_Auto,
			utls.HelloEdge_Auto,
			utls.HelloIOS_Auto,
		}
		return options[rand.Intn(len(options))]
	default:
		return utls.HelloChrome_Auto
	}
}

// Dial 建立指纹伪装的 TLS 连接
func (d *tlsDialer) Dial(ctx context.Context) (Emitter, error) {
	dialer := &net.Dialer{Timeout: d.connectTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	serverName := d.cfg.ServerName
	if serverName == "" {
		host, _, _ := net.SplitHostPort(d.addr)
		serverName = host
	}

	tlsConfig := &utls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: d.cfg.InsecureSkipVerify,
		NextProtos:         []string{"h2", "http/1.1"},
		MinVersion:         utls.VersionTLS12,
		MaxVersion:         utls.VersionTLS13,
	}

	conn := utls.UClient(raw, tlsConfig, d.clientHelloID())

	if err := conn.SetDeadline(time.Now().Add(d.connectTimeout)); err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: TLS 握手: %v", ErrConnectionFailed, err)
	}
	conn.SetDeadline(time.Time{})

	return &TLSEmitter{
		conn:        conn,
		sendTimeout: d.sendTimeout,
	}, nil
}

// TLSEmitter TLS 发包器
type TLSEmitter struct {
	conn        *utls.UConn
	sendTimeout time.Duration
	mu          sync.Mutex
}

// Send 发送段字节
func (e *TLSEmitter) Send(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.conn.SetWriteDeadline(time.Now().Add(e.sendTimeout)); err != nil {
		return err
	}
	if _, err := e.conn.Write(data); err != nil {
		return fmt.Errorf("TLS 发送失败: %w", err)
	}
	return nil
}

// Close 关闭连接
func (e *TLSEmitter) Close() error {
	return e.conn.Close()
}

// LocalAddr 本地地址
func (e *TLSEmitter) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

// RemoteAddr 远端地址
func (e *TLSEmitter) RemoteAddr() net.Addr {
	return e.conn.RemoteAddr()
}
