// =============================================================================
// 文件: internal/transport/emitter_test.go
// 描述: 发包器与拨号分发测试
// =============================================================================
package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mrcgq/optiack/internal/config"
)

func transportConfig(mode string) *config.TransportConfig {
	cfg := config.DefaultConfig().Transport
	cfg.Mode = mode
	return &cfg
}

func TestNewDialerRejectsUnknownMode(t *testing.T) {
	if _, err := NewDialer(transportConfig("carrier-pigeon"), "127.0.0.1", 80); err == nil {
		t.Error("未知传输模式应返回错误")
	}
}

func TestNewDialerKnownModes(t *testing.T) {
	for _, mode := range []string{"udp", "tcp", "websocket", "tls"} {
		if _, err := NewDialer(transportConfig(mode), "127.0.0.1", 80); err != nil {
			t.Errorf("模式 %s 应可创建拨号器: %v", mode, err)
		}
	}
}

func TestUDPEmitterSend(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("监听失败: %v", err)
	}
	defer pc.Close()

	port := pc.LocalAddr().(*net.UDPAddr).Port
	dialer, err := NewDialer(transportConfig("udp"), "127.0.0.1", port)
	if err != nil {
		t.Fatalf("创建拨号器失败: %v", err)
	}

	em, err := dialer.Dial(context.Background())
	if err != nil {
		t.Fatalf("拨号失败: %v", err)
	}
	defer em.Close()

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if err := em.Send(payload); err != nil {
		t.Fatalf("发送失败: %v", err)
	}

	pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("接收失败: %v", err)
	}
	if n != len(payload) {
		t.Errorf("接收长度 = %d, want %d", n, len(payload))
	}

	udp := em.(*UDPEmitter)
	bytes, packets := udp.Stats()
	if bytes != uint64(len(payload)) || packets != 1 {
		t.Errorf("统计 = (%d, %d), want (%d, 1)", bytes, packets, len(payload))
	}
}

func TestTCPEmitterConnectFailure(t *testing.T) {
	cfg := transportConfig("tcp")
	cfg.ConnectTimeoutMs = 500

	dialer, err := NewDialer(cfg, "127.0.0.1", 1)
	if err != nil {
		t.Fatalf("创建拨号器失败: %v", err)
	}
	if _, err := dialer.Dial(context.Background()); err == nil {
		t.Error("连接未监听端口应失败")
	}
}

func TestAddrHelpers(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(10, 1, 2, 3), Port: 4567}

	ip := AddrIPv4(addr)
	if ip == nil || ip.String() != "10.1.2.3" {
		t.Errorf("AddrIPv4 = %v, want 10.1.2.3", ip)
	}
	if port := AddrPort(addr); port != 4567 {
		t.Errorf("AddrPort = %d, want 4567", port)
	}
	if ip := AddrIPv4(nil); ip != nil {
		t.Errorf("nil 地址应返回 nil, got %v", ip)
	}
}
