// =============================================================================
// 文件: internal/transport/boundary_test.go
// 描述: 边界服务测试
// =============================================================================
package transport

import (
	"net"
	"testing"
	"time"

	"github.com/mrcgq/optiack/internal/config"
	"github.com/mrcgq/optiack/internal/defense"
	"github.com/mrcgq/optiack/internal/segment"
)

func boundaryConfig() *config.DefenseConfig {
	cfg := config.DefaultConfig().Defense
	cfg.Listen = "127.0.0.1:0"
	cfg.ReplayGuardEnabled = false
	cfg.RateLimitingEnabled = false
	cfg.AdaptiveWindowEnabled = false
	cfg.AnomalyDetectionEnabled = false
	return &cfg
}

func startBoundary(t *testing.T, cfg *config.DefenseConfig) (*Boundary, *net.UDPConn) {
	t.Helper()

	engine := defense.NewEngine(cfg)
	b := NewBoundary(cfg, engine, 0)
	if err := b.Start(); err != nil {
		t.Fatalf("启动边界服务失败: %v", err)
	}
	t.Cleanup(func() {
		b.Stop()
		engine.Stop()
	})

	conn, err := net.DialUDP("udp", nil, b.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("连接边界服务失败: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return b, conn
}

func encodeTestSegment(t *testing.T, ack uint32) []byte {
	t.Helper()
	data, err := segment.Encode(&segment.Header{
		SrcPort: 40000,
		DstPort: 80,
		Seq:     1,
		Ack:     ack,
		Flags:   segment.Flags{ACK: true},
		Window:  8192,
	})
	if err != nil {
		t.Fatalf("段编码失败: %v", err)
	}
	return data
}

func waitForStats(t *testing.T, b *Boundary, check func(BoundaryStats) bool) BoundaryStats {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s := b.Stats()
		if check(s) {
			return s
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("等待统计超时: %+v", b.Stats())
	return BoundaryStats{}
}

func TestBoundaryAllowsLegitSegment(t *testing.T) {
	b, conn := startBoundary(t, boundaryConfig())

	if _, err := conn.Write(encodeTestSegment(t, 1000)); err != nil {
		t.Fatalf("发送失败: %v", err)
	}

	s := waitForStats(t, b, func(s BoundaryStats) bool { return s.Received >= 1 })
	if s.Allowed != 1 {
		t.Errorf("Allowed = %d, want 1", s.Allowed)
	}
	if s.Denied != 0 {
		t.Errorf("Denied = %d, want 0", s.Denied)
	}
}

func TestBoundaryCountsDecodeErrors(t *testing.T) {
	b, conn := startBoundary(t, boundaryConfig())

	if _, err := conn.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("发送失败: %v", err)
	}

	s := waitForStats(t, b, func(s BoundaryStats) bool { return s.DecodeErrors >= 1 })
	if s.Allowed != 0 || s.Denied != 0 {
		t.Errorf("无法解码的数据报不应计入裁决, %+v", s)
	}
}

func TestBoundaryRepliesRSTOnDeny(t *testing.T) {
	cfg := boundaryConfig()
	cfg.MaxSequenceGap = 1000
	cfg.SendRSTOnDeny = true

	b, conn := startBoundary(t, cfg)

	// 基线段后跟大幅跳变段
	if _, err := conn.Write(encodeTestSegment(t, 1000)); err != nil {
		t.Fatalf("发送失败: %v", err)
	}
	waitForStats(t, b, func(s BoundaryStats) bool { return s.Received >= 1 })

	if _, err := conn.Write(encodeTestSegment(t, 5000000)); err != nil {
		t.Fatalf("发送失败: %v", err)
	}
	waitForStats(t, b, func(s BoundaryStats) bool { return s.Denied >= 1 && s.RSTSent >= 1 })

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("读取 RST 回应失败: %v", err)
	}

	h, err := segment.Decode(buf[:n])
	if err != nil {
		t.Fatalf("RST 段解码失败: %v", err)
	}
	if !h.Flags.RST {
		t.Error("回应段应置 RST 标志")
	}
	if h.Window != 0 {
		t.Errorf("RST 段窗口 = %d, want 0", h.Window)
	}
}
