// =============================================================================
// 文件: internal/defense/engine_test.go
// 描述: 防御引擎测试 - 速率/跳变/窗口/隔离生命周期
// =============================================================================
package defense

import (
	"testing"
	"time"

	"github.com/mrcgq/optiack/internal/config"
	"github.com/mrcgq/optiack/internal/segment"
)

// fakeClock 可推进的测试时钟
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testConfig() *config.DefenseConfig {
	cfg := config.DefaultConfig().Defense
	cfg.ReplayGuardEnabled = false
	return &cfg
}

func ackFlags() segment.Flags {
	return segment.Flags{ACK: true}
}

// =============================================================================
// 速率检查
// =============================================================================

func TestRateLimitTriggersOn11th(t *testing.T) {
	cfg := testConfig()
	cfg.MaxACKsPerSecond = 10
	cfg.SequenceTrackingEnabled = false
	cfg.AdaptiveWindowEnabled = false
	cfg.AnomalyDetectionEnabled = false

	clock := newFakeClock()
	e := NewEngine(cfg, WithClock(clock.Now))

	for i := 0; i < 10; i++ {
		d := e.Validate("1.2.3.4", 5000, 100, uint32(1000+i), 8192, ackFlags())
		if !d.Allowed {
			t.Fatalf("第 %d 次调用应放行", i+1)
		}
		clock.Advance(50 * time.Millisecond)
	}

	d := e.Validate("1.2.3.4", 5000, 100, 2000, 8192, ackFlags())
	if d.Allowed {
		t.Fatal("第 11 次调用应被拒绝")
	}
	if d.Action == nil || d.Action.Kind != ActionRateLimit {
		t.Fatalf("动作类型应为 rate_limit, got %+v", d.Action)
	}
}

func TestRateLimitAllowsWhenSpread(t *testing.T) {
	cfg := testConfig()
	cfg.MaxACKsPerSecond = 10
	cfg.SequenceTrackingEnabled = false
	cfg.AdaptiveWindowEnabled = false
	cfg.AnomalyDetectionEnabled = false

	clock := newFakeClock()
	e := NewEngine(cfg, WithClock(clock.Now))

	// 11 次调用均匀分布在 2 秒内，每秒不超过 10 次
	for i := 0; i < 11; i++ {
		d := e.Validate("1.2.3.4", 5000, 100, uint32(1000+i), 8192, ackFlags())
		if !d.Allowed {
			t.Fatalf("第 %d 次调用应放行", i+1)
		}
		clock.Advance(200 * time.Millisecond)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.MaxACKsPerSecond = 1
	cfg.RateLimitingEnabled = false
	cfg.SequenceTrackingEnabled = false
	cfg.AdaptiveWindowEnabled = false
	cfg.AnomalyDetectionEnabled = false

	clock := newFakeClock()
	e := NewEngine(cfg, WithClock(clock.Now))

	for i := 0; i < 20; i++ {
		if d := e.Validate("1.2.3.4", 5000, 1, 1, 8192, ackFlags()); !d.Allowed {
			t.Fatal("速率检查关闭时应全部放行")
		}
	}
}

// =============================================================================
// 确认号跳变检查
// =============================================================================

func TestSequenceGapTrigger(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSequenceGap = 1000
	cfg.RateLimitingEnabled = false
	cfg.AdaptiveWindowEnabled = false
	cfg.AnomalyDetectionEnabled = false

	clock := newFakeClock()
	e := NewEngine(cfg, WithClock(clock.Now))

	// 首包建立基线
	if d := e.Validate("5.6.7.8", 6000, 1, 10000, 8192, ackFlags()); !d.Allowed {
		t.Fatal("基线包应放行")
	}

	// 跳变恰好 1000: 不违规
	if d := e.Validate("5.6.7.8", 6000, 1, 11000, 8192, ackFlags()); !d.Allowed {
		t.Fatal("跳变 1000 应放行")
	}

	// 跳变 1001: 违规
	d := e.Validate("5.6.7.8", 6000, 1, 12001, 8192, ackFlags())
	if d.Allowed {
		t.Fatal("跳变 1001 应被拒绝")
	}
	if d.Action == nil || d.Action.Kind != ActionSequenceGap {
		t.Fatalf("动作类型应为 sequence_gap, got %+v", d.Action)
	}
}

func TestSequenceGapWraparound(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSequenceGap = 1000
	cfg.RateLimitingEnabled = false
	cfg.AdaptiveWindowEnabled = false
	cfg.AnomalyDetectionEnabled = false

	clock := newFakeClock()
	e := NewEngine(cfg, WithClock(clock.Now))

	// 基线靠近 2^32，小幅推进回绕到 0 附近仍合法
	e.Validate("5.6.7.8", 6000, 1, 4294967290, 8192, ackFlags())
	if d := e.Validate("5.6.7.8", 6000, 1, 494, 8192, ackFlags()); !d.Allowed {
		t.Fatal("回绕后小幅推进应放行")
	}

	// 回绕后大幅跳变仍要捕获
	d := e.Validate("5.6.7.8", 6000, 1, 100000, 8192, ackFlags())
	if d.Allowed {
		t.Fatal("回绕后大幅跳变应被拒绝")
	}
}

// =============================================================================
// 窗口增长检查
// =============================================================================

func TestWindowGrowthTrigger(t *testing.T) {
	cfg := testConfig()
	cfg.MaxWindowGrowthRate = 4.0
	cfg.RateLimitingEnabled = false
	cfg.SequenceTrackingEnabled = false
	cfg.AnomalyDetectionEnabled = false

	clock := newFakeClock()
	e := NewEngine(cfg, WithClock(clock.Now))

	// 首包不判定增长
	if d := e.Validate("9.9.9.9", 7000, 1, 1, 1024, ackFlags()); !d.Allowed {
		t.Fatal("基线包应放行")
	}

	// 4 倍增长: 不违规 (阈值为严格大于)
	if d := e.Validate("9.9.9.9", 7000, 1, 1, 4096, ackFlags()); !d.Allowed {
		t.Fatal("4 倍增长应放行")
	}

	// 超过 4 倍: 违规
	d := e.Validate("9.9.9.9", 7000, 1, 1, 65535, ackFlags())
	if d.Allowed {
		t.Fatal("16 倍增长应被拒绝")
	}
	if d.Action == nil || d.Action.Kind != ActionWindowAnomaly {
		t.Fatalf("动作类型应为 window_anomaly, got %+v", d.Action)
	}
}

// =============================================================================
// 隔离生命周期
// =============================================================================

func TestQuarantineLifecycle(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSequenceGap = 1000
	cfg.MaxACKsPerSecond = 5
	cfg.SuspiciousPatternThreshold = 0.6
	cfg.QuarantineDurationMs = 5000

	clock := newFakeClock()
	e := NewEngine(cfg, WithClock(clock.Now))

	// 基线
	e.Validate("6.6.6.6", 4000, 1, 1000, 8192, ackFlags())
	clock.Advance(10 * time.Millisecond)

	// 连续的确认号大幅跳变累积异常评分直至隔离
	// (0.45 -> 0.45*0.5+0.45 = 0.675 > 0.6)
	ack := uint32(1000)
	var quarantined bool
	for i := 0; i < 5 && !quarantined; i++ {
		ack += 50000
		d := e.Validate("6.6.6.6", 4000, 1, ack, 8192, ackFlags())
		if d.Action != nil && d.Action.Kind == ActionQuarantine {
			quarantined = true
		}
		clock.Advance(300 * time.Millisecond)
	}
	if !quarantined {
		t.Fatal("累积跳变应触发隔离")
	}

	// 隔离期内一律拒绝
	d := e.Validate("6.6.6.6", 4000, 1, ack+100, 8192, ackFlags())
	if d.Allowed {
		t.Fatal("隔离期内应拒绝")
	}
	if d.Action == nil || d.Action.Kind != ActionQuarantine {
		t.Fatalf("隔离期内动作类型应为 quarantine, got %+v", d.Action)
	}

	// 隔离期过后无进一步违规应恢复放行
	clock.Advance(6 * time.Second)
	d = e.Validate("6.6.6.6", 4000, 1, ack+200, 8192, ackFlags())
	if !d.Allowed {
		t.Fatalf("隔离期结束后应恢复放行, got %+v", d.Action)
	}
}

func TestQuarantineExpiryResidualScoreAllowsCleanCall(t *testing.T) {
	cfg := testConfig()
	cfg.MaxACKsPerSecond = 1
	cfg.MaxSequenceGap = 1000
	cfg.MaxWindowGrowthRate = 4.0
	cfg.SuspiciousPatternThreshold = 0.4
	cfg.QuarantineDurationMs = 5000

	clock := newFakeClock()
	e := NewEngine(cfg, WithClock(clock.Now))

	// 基线
	e.Validate("7.7.7.7", 9000, 1, 1000, 1024, ackFlags())
	clock.Advance(10 * time.Millisecond)

	// 单次调用同时触发速率/跳变/窗口三项违规，评分封顶 1.0 直接隔离
	d := e.Validate("7.7.7.7", 9000, 1, 1000000, 65535, ackFlags())
	if d.Allowed {
		t.Fatal("三重违规应被拒绝")
	}
	if d.Action == nil || d.Action.Kind != ActionQuarantine {
		t.Fatalf("动作类型应为 quarantine, got %+v", d.Action)
	}

	// 隔离期内拒绝
	clock.Advance(time.Second)
	if d := e.Validate("7.7.7.7", 9000, 1, 1000100, 65535, ackFlags()); d.Allowed {
		t.Fatal("隔离期内应拒绝")
	}

	// 隔离期满后的干净调用: 小幅跳变、窗口不变、速率窗口已清空。
	// 衰减后的残留评分 0.5 仍高于阈值 0.4，但无新违规必须恢复放行
	clock.Advance(6 * time.Second)
	d = e.Validate("7.7.7.7", 9000, 1, 1000100, 65535, ackFlags())
	if !d.Allowed {
		t.Fatalf("隔离期满后的干净调用应放行, got %+v", d.Action)
	}
}

func TestQuarantineDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSequenceGap = 1000
	cfg.QuarantineEnabled = false
	cfg.SuspiciousPatternThreshold = 0.1

	clock := newFakeClock()
	e := NewEngine(cfg, WithClock(clock.Now))

	e.Validate("6.6.6.6", 4000, 1, 1000, 8192, ackFlags())
	clock.Advance(10 * time.Millisecond)

	// 评分越过阈值但隔离被关闭: 只报告单步违规
	for i := 0; i < 5; i++ {
		d := e.Validate("6.6.6.6", 4000, 1, uint32(1000+(i+1)*50000), 8192, ackFlags())
		if d.Action != nil && d.Action.Kind == ActionQuarantine {
			t.Fatal("隔离关闭时不应产生 quarantine 动作")
		}
		clock.Advance(300 * time.Millisecond)
	}
}

// =============================================================================
// 总开关与统计
// =============================================================================

func TestValidationDisabledAllowsAll(t *testing.T) {
	cfg := testConfig()
	cfg.ACKValidationEnabled = false
	cfg.MaxACKsPerSecond = 1

	clock := newFakeClock()
	e := NewEngine(cfg, WithClock(clock.Now))

	for i := 0; i < 10; i++ {
		if d := e.Validate("1.1.1.1", 1, 1, uint32(i*1000000), 65535, ackFlags()); !d.Allowed {
			t.Fatal("总开关关闭时应全部放行")
		}
	}

	s := e.GetStats()
	if s.ActiveRecords != 0 {
		t.Errorf("总开关关闭时不应建立连接记录, got %d", s.ActiveRecords)
	}
}

func TestIndependentKeys(t *testing.T) {
	cfg := testConfig()
	cfg.MaxACKsPerSecond = 3
	cfg.SequenceTrackingEnabled = false
	cfg.AdaptiveWindowEnabled = false
	cfg.AnomalyDetectionEnabled = false

	clock := newFakeClock()
	e := NewEngine(cfg, WithClock(clock.Now))

	// 两个不同来源各自独立计数
	for i := 0; i < 3; i++ {
		e.Validate("8.8.8.8", 1000, 1, 1, 8192, ackFlags())
	}
	if d := e.Validate("8.8.4.4", 1000, 1, 1, 8192, ackFlags()); !d.Allowed {
		t.Fatal("不同来源不应互相影响速率窗口")
	}
}

func TestStatsCounting(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSequenceGap = 1000
	cfg.RateLimitingEnabled = false
	cfg.AdaptiveWindowEnabled = false
	cfg.AnomalyDetectionEnabled = false

	clock := newFakeClock()
	e := NewEngine(cfg, WithClock(clock.Now))

	e.Validate("2.2.2.2", 1, 1, 100, 8192, ackFlags())
	e.Validate("2.2.2.2", 1, 1, 200, 8192, ackFlags())
	e.Validate("2.2.2.2", 1, 1, 1000000, 8192, ackFlags())

	s := e.GetStats()
	if s.TotalValidations != 3 {
		t.Errorf("TotalValidations = %d, want 3", s.TotalValidations)
	}
	if s.Allowed != 2 {
		t.Errorf("Allowed = %d, want 2", s.Allowed)
	}
	if s.Denied != 1 {
		t.Errorf("Denied = %d, want 1", s.Denied)
	}
	if s.SequenceGapViolations != 1 {
		t.Errorf("SequenceGapViolations = %d, want 1", s.SequenceGapViolations)
	}
	if s.ActiveRecords != 1 {
		t.Errorf("ActiveRecords = %d, want 1", s.ActiveRecords)
	}
}

// =============================================================================
// 动作通道
// =============================================================================

func TestActionDelivery(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSequenceGap = 1000
	cfg.RateLimitingEnabled = false
	cfg.AdaptiveWindowEnabled = false
	cfg.AnomalyDetectionEnabled = false

	clock := newFakeClock()
	e := NewEngine(cfg, WithClock(clock.Now))

	e.Validate("3.3.3.3", 400, 1, 100, 8192, ackFlags())
	e.Validate("3.3.3.3", 400, 1, 1000000, 8192, ackFlags())

	select {
	case a := <-e.Actions():
		if a.Kind != ActionSequenceGap {
			t.Errorf("动作类型 = %s, want sequence_gap", a.Kind)
		}
		if a.Key() != "3.3.3.3:400" {
			t.Errorf("连接键 = %s, want 3.3.3.3:400", a.Key())
		}
		if a.Reason == "" {
			t.Error("动作应携带原因描述")
		}
	default:
		t.Fatal("通道中应有待消费动作")
	}
}

// =============================================================================
// 清扫
// =============================================================================

func TestSweepRemovesIdleRecords(t *testing.T) {
	cfg := testConfig()
	cfg.RecordTTLMs = 1000
	cfg.RateLimitingEnabled = false
	cfg.SequenceTrackingEnabled = false
	cfg.AdaptiveWindowEnabled = false
	cfg.AnomalyDetectionEnabled = false

	clock := newFakeClock()
	e := NewEngine(cfg, WithClock(clock.Now))

	e.Validate("1.1.1.1", 1, 1, 1, 8192, ackFlags())
	e.Validate("2.2.2.2", 2, 1, 1, 8192, ackFlags())

	// TTL 内清扫不移除
	clock.Advance(500 * time.Millisecond)
	if removed := e.Sweep(clock.Now()); removed != 0 {
		t.Errorf("TTL 内不应移除记录, removed=%d", removed)
	}

	// 一个来源保持活跃
	clock.Advance(700 * time.Millisecond)
	e.Validate("1.1.1.1", 1, 1, 2, 8192, ackFlags())

	clock.Advance(600 * time.Millisecond)
	if removed := e.Sweep(clock.Now()); removed != 1 {
		t.Errorf("应移除 1 条空闲记录, removed=%d", removed)
	}

	s := e.GetStats()
	if s.ActiveRecords != 1 {
		t.Errorf("ActiveRecords = %d, want 1", s.ActiveRecords)
	}
}

func TestSweepKeepsQuarantined(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSequenceGap = 100
	cfg.SuspiciousPatternThreshold = 0.3
	cfg.QuarantineDurationMs = 60000
	cfg.RecordTTLMs = 1000
	cfg.RateLimitingEnabled = false
	cfg.AdaptiveWindowEnabled = false

	clock := newFakeClock()
	e := NewEngine(cfg, WithClock(clock.Now))

	e.Validate("6.6.6.6", 1, 1, 100, 8192, ackFlags())
	clock.Advance(10 * time.Millisecond)
	e.Validate("6.6.6.6", 1, 1, 1000000, 8192, ackFlags())

	s := e.GetStats()
	if s.QuarantinedRecords != 1 {
		t.Fatalf("应有 1 条隔离记录, got %d", s.QuarantinedRecords)
	}

	// 隔离期内即使空闲也不能清扫，否则攻击者换端口即可绕过
	clock.Advance(5 * time.Second)
	e.Sweep(clock.Now())
	if e.GetStats().ActiveRecords != 1 {
		t.Error("隔离中的记录不应被清扫")
	}
}
