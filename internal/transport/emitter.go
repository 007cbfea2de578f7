// =============================================================================
// 文件: internal/transport/emitter.go
// 描述: 发包器接口与拨号分发
// =============================================================================
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mrcgq/optiack/internal/config"
)

// ErrConnectionFailed 连接建立失败 (对攻击会话致命)
var ErrConnectionFailed = errors.New("连接建立失败")

// Emitter 发包器
// 攻击引擎只依赖 发送/关闭 两个操作，地址用于构建伪头部
type Emitter interface {
	Send(data []byte) error
	Close() error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Dialer 发包器拨号接口
type Dialer interface {
	Dial(ctx context.Context) (Emitter, error)
}

// NewDialer 按配置模式创建拨号器
func NewDialer(cfg *config.TransportConfig, targetHost string, targetPort int) (Dialer, error) {
	addr := fmt.Sprintf("%s:%d", targetHost, targetPort)
	connectTimeout := time.Duration(cfg.ConnectTimeoutMs) * time.Millisecond
	sendTimeout := time.Duration(cfg.SendTimeoutMs) * time.Millisecond

	switch cfg.Mode {
	case "udp":
		return &udpDialer{addr: addr, connectTimeout: connectTimeout, sendTimeout: sendTimeout}, nil
	case "tcp":
		return &tcpDialer{addr: addr, connectTimeout: connectTimeout, sendTimeout: sendTimeout}, nil
	case "websocket":
		return &wsDialer{
			addr:           addr,
			path:           cfg.WebSocket.Path,
			host:           cfg.WebSocket.Host,
			useTLS:         cfg.WebSocket.TLS,
			connectTimeout: connectTimeout,
			sendTimeout:    sendTimeout,
		}, nil
	case "tls":
		return &tlsDialer{
			addr:           addr,
			cfg:            cfg.TLS,
			connectTimeout: connectTimeout,
			sendTimeout:    sendTimeout,
		}, nil
	default:
		return nil, fmt.Errorf("无效的传输模式: %s", cfg.Mode)
	}
}

// resolveIPv4 解析地址中的 IPv4
func resolveIPv4(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP.To4()
	case *net.TCPAddr:
		return a.IP.To4()
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return nil
		}
		return net.ParseIP(host).To4()
	}
}

// AddrIPv4 提取发包器地址中的 IPv4 (非 IPv4 时返回 nil)
func AddrIPv4(addr net.Addr) net.IP {
	if addr == nil {
		return nil
	}
	return resolveIPv4(addr)
}

// AddrPort 提取地址端口
func AddrPort(addr net.Addr) int {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.Port
	case *net.TCPAddr:
		return a.Port
	default:
		_, portStr, err := net.SplitHostPort(addr.String())
		if err != nil {
			return 0
		}
		var port int
		fmt.Sscanf(portStr, "%d", &port)
		return port
	}
}
