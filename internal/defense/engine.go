// =============================================================================
// 文件: internal/defense/engine.go
// 描述: 防御引擎 - 按连接校验 ACK/序列号/窗口行为并隔离异常来源
// =============================================================================
package defense

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrcgq/optiack/internal/config"
	"github.com/mrcgq/optiack/internal/segment"
)

// 异常评分权重
// 来源不可直接观测，选用单调有界的归一化加权和并在此固化:
// 确认号跳变是乐观 ACK 伪造的直接特征，权重最高
const (
	weightRate     = 0.35
	weightSequence = 0.45
	weightWindow   = 0.20

	// 重放段额外加分
	weightReplay = 0.25

	// 干净调用的评分衰减因子
	scoreDecay = 0.5
)

// Engine 防御引擎
// 连接表由引擎实例持有，无包级全局状态
type Engine struct {
	cfg *config.DefenseConfig

	records map[string]*connRecord
	guard   *DupGuard

	actions chan Action

	// 统计 (原子计数)
	totalValidations uint64
	allowedCount     uint64
	deniedCount      uint64
	rateViolations   uint64
	seqViolations    uint64
	windowViolations uint64
	quarantineCount  uint64
	replayCount      uint64

	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	logLevel int
}

// Option 引擎选项
type Option func(*Engine)

// WithClock 注入时钟 (测试用)
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogLevel 设置日志级别
func WithLogLevel(level int) Option {
	return func(e *Engine) {
		e.logLevel = level
	}
}

// NewEngine 创建防御引擎
func NewEngine(cfg *config.DefenseConfig, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:      cfg,
		records:  make(map[string]*connRecord),
		actions:  make(chan Action, 256),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		logLevel: 1,
	}

	for _, opt := range opts {
		opt(e)
	}

	if cfg.ReplayGuardEnabled {
		e.guard = NewDupGuard()
	}

	return e
}

// Actions 违规动作通道
// 引擎本身不保留动作记录，消费方自行订阅
func (e *Engine) Actions() <-chan Action {
	return e.actions
}

// =============================================================================
// 验证流水线
// =============================================================================

// Validate 验证一次入站连接元数据
// 各步骤可由配置单独关闭；关闭或不确定的步骤一律放行 (degrade open)，
// 只有明确越过阈值才拒绝 (degrade closed)
func (e *Engine) Validate(srcIP string, srcPort int, seq, ack uint32, window int, flags segment.Flags) Decision {
	return e.validate(srcIP, srcPort, seq, ack, window, flags, false)
}

// ValidateSegment 验证原始段字节
// 在元数据校验之外附加重放检测
func (e *Engine) ValidateSegment(srcIP string, srcPort int, raw []byte) (Decision, error) {
	h, err := segment.Decode(raw)
	if err != nil {
		return Decision{}, fmt.Errorf("段解码失败: %w", err)
	}

	replay := false
	if e.guard != nil {
		replay = e.guard.CheckAndMark(raw)
		if replay {
			atomic.AddUint64(&e.replayCount, 1)
		}
	}

	return e.validate(srcIP, srcPort, h.Seq, h.Ack, h.Window, h.Flags, replay), nil
}

func (e *Engine) validate(srcIP string, srcPort int, seq, ack uint32, window int, flags segment.Flags, replay bool) Decision {
	atomic.AddUint64(&e.totalValidations, 1)

	// 总开关关闭: 全部放行，不建立跟踪状态
	if !e.cfg.ACKValidationEnabled {
		atomic.AddUint64(&e.allowedCount, 1)
		return Decision{Allowed: true}
	}

	now := e.now()
	key := fmt.Sprintf("%s:%d", srcIP, srcPort)

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[key]
	if !ok {
		rec = &connRecord{}
		e.records[key] = rec
	}

	// 1. 隔离检查
	if rec.quarantined(now) {
		rec.lastSeen = now
		atomic.AddUint64(&e.deniedCount, 1)
		action := e.emit(Action{
			Kind:       ActionQuarantine,
			Severity:   severityForScore(rec.anomalyScore),
			Reason:     fmt.Sprintf("来源处于隔离期 (剩余 %v)", rec.quarantineUntil.Sub(now).Round(time.Millisecond)),
			SourceIP:   srcIP,
			SourcePort: srcPort,
			Timestamp:  now,
		})
		return Decision{Allowed: false, Action: action}
	}

	// 2. 速率检查: 1 秒滑动窗口内的 ACK 到达数
	rateViolated := false
	if e.cfg.RateLimitingEnabled && flags.ACK {
		count := rec.recordACK(now)
		if count > e.cfg.MaxACKsPerSecond {
			rateViolated = true
			atomic.AddUint64(&e.rateViolations, 1)
		}
	}

	// 3. 确认号跳变检查 (回绕感知的无符号差值)
	seqViolated := false
	var ackGap uint32
	if e.cfg.SequenceTrackingEnabled && rec.hasBaseline {
		ackGap = ack - rec.lastAck
		if ackGap > e.cfg.MaxSequenceGap {
			seqViolated = true
			atomic.AddUint64(&e.seqViolations, 1)
		}
	}

	// 4. 窗口增长检查
	windowViolated := false
	if e.cfg.AdaptiveWindowEnabled && rec.hasBaseline {
		base := rec.lastWindow
		if base < 1 {
			base = 1
		}
		growth := float64(window) / float64(base)
		if growth > e.cfg.MaxWindowGrowthRate {
			windowViolated = true
			atomic.AddUint64(&e.windowViolations, 1)
		}
	}

	// 无论结果如何都更新观测基线，合法连接持续被跟踪
	rec.lastSeq = seq
	rec.lastAck = ack
	rec.lastWindow = window
	rec.hasBaseline = true
	rec.lastSeen = now

	violated := rateViolated || seqViolated || windowViolated || replay

	// 5. 异常聚合与隔离
	if e.cfg.AnomalyDetectionEnabled {
		score := 0.0
		if rateViolated {
			score += weightRate
		}
		if seqViolated {
			score += weightSequence
		}
		if windowViolated {
			score += weightWindow
		}
		if replay {
			score += weightReplay
		}

		rec.anomalyScore = clamp01(rec.anomalyScore*scoreDecay + score)

		// 干净调用只衰减评分，残留评分不重新触发隔离:
		// 隔离期满后无新违规的来源必须恢复放行
		if violated && rec.anomalyScore > e.cfg.SuspiciousPatternThreshold && e.cfg.QuarantineEnabled {
			duration := time.Duration(e.cfg.QuarantineDurationMs) * time.Millisecond
			rec.quarantineUntil = now.Add(duration)
			atomic.AddUint64(&e.quarantineCount, 1)
			atomic.AddUint64(&e.deniedCount, 1)

			action := e.emit(Action{
				Kind:       ActionQuarantine,
				Severity:   severityForScore(rec.anomalyScore),
				Reason:     fmt.Sprintf("异常评分 %.2f 超过阈值 %.2f, 隔离 %v", rec.anomalyScore, e.cfg.SuspiciousPatternThreshold, duration),
				SourceIP:   srcIP,
				SourcePort: srcPort,
				Timestamp:  now,
			})
			e.log(1, "隔离来源 %s: score=%.2f", key, rec.anomalyScore)
			return Decision{Allowed: false, Action: action}
		}
	}

	// 返回最严重的单步违规
	if seqViolated {
		atomic.AddUint64(&e.deniedCount, 1)
		action := e.emit(Action{
			Kind:       ActionSequenceGap,
			Severity:   SeverityMedium,
			Reason:     fmt.Sprintf("确认号跳变 %d 超过阈值 %d", ackGap, e.cfg.MaxSequenceGap),
			SourceIP:   srcIP,
			SourcePort: srcPort,
			Timestamp:  now,
		})
		return Decision{Allowed: false, Action: action}
	}
	if rateViolated {
		atomic.AddUint64(&e.deniedCount, 1)
		action := e.emit(Action{
			Kind:       ActionRateLimit,
			Severity:   SeverityMedium,
			Reason:     fmt.Sprintf("1 秒内 ACK 数超过 %d", e.cfg.MaxACKsPerSecond),
			SourceIP:   srcIP,
			SourcePort: srcPort,
			Timestamp:  now,
		})
		return Decision{Allowed: false, Action: action}
	}
	if windowViolated {
		atomic.AddUint64(&e.deniedCount, 1)
		action := e.emit(Action{
			Kind:       ActionWindowAnomaly,
			Severity:   SeverityLow,
			Reason:     fmt.Sprintf("窗口增长率超过 %.1f", e.cfg.MaxWindowGrowthRate),
			SourceIP:   srcIP,
			SourcePort: srcPort,
			Timestamp:  now,
		})
		return Decision{Allowed: false, Action: action}
	}

	atomic.AddUint64(&e.allowedCount, 1)
	return Decision{Allowed: true}
}

// emit 投递动作 (通道满时丢弃，不阻塞验证路径)
func (e *Engine) emit(a Action) *Action {
	select {
	case e.actions <- a:
	default:
	}
	return &a
}

// =============================================================================
// 连接表清扫
// =============================================================================

// Sweep 清除隔离已过期且无近期活动的记录，返回清除数量
func (e *Engine) Sweep(now time.Time) int {
	ttl := time.Duration(e.cfg.RecordTTLMs) * time.Millisecond

	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for key, rec := range e.records {
		if !rec.quarantined(now) && rec.idle(now, ttl) {
			delete(e.records, key)
			removed++
		}
	}

	if removed > 0 {
		e.log(2, "清扫连接表: 移除 %d 条记录", removed)
	}
	return removed
}

// Start 启动后台清扫
func (e *Engine) Start() {
	interval := time.Duration(e.cfg.SweepIntervalMs) * time.Millisecond

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.Sweep(e.now())
			case <-e.ctx.Done():
				return
			}
		}
	}()
}

// Stop 停止引擎
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
	if e.guard != nil {
		e.guard.Close()
	}
}

// =============================================================================
// 统计
// =============================================================================

// Stats 聚合统计
type Stats struct {
	TotalValidations      uint64
	Allowed               uint64
	Denied                uint64
	RateLimitViolations   uint64
	SequenceGapViolations uint64
	WindowAnomalies       uint64
	Quarantines           uint64
	ReplaysFlagged        uint64
	ActiveRecords         int
	QuarantinedRecords    int
}

// GetStats 返回统计快照
func (e *Engine) GetStats() Stats {
	s := Stats{
		TotalValidations:      atomic.LoadUint64(&e.totalValidations),
		Allowed:               atomic.LoadUint64(&e.allowedCount),
		Denied:                atomic.LoadUint64(&e.deniedCount),
		RateLimitViolations:   atomic.LoadUint64(&e.rateViolations),
		SequenceGapViolations: atomic.LoadUint64(&e.seqViolations),
		WindowAnomalies:       atomic.LoadUint64(&e.windowViolations),
		Quarantines:           atomic.LoadUint64(&e.quarantineCount),
		ReplaysFlagged:        atomic.LoadUint64(&e.replayCount),
	}

	now := e.now()
	e.mu.Lock()
	s.ActiveRecords = len(e.records)
	for _, rec := range e.records {
		if rec.quarantined(now) {
			s.QuarantinedRecords++
		}
	}
	e.mu.Unlock()

	return s
}

// =============================================================================
// 指标收集器的 stats provider 接口实现
// =============================================================================

// GetTotalValidations 验证调用总数
func (e *Engine) GetTotalValidations() uint64 {
	return atomic.LoadUint64(&e.totalValidations)
}

// GetAllowed 放行总数
func (e *Engine) GetAllowed() uint64 {
	return atomic.LoadUint64(&e.allowedCount)
}

// GetDenied 拒绝总数
func (e *Engine) GetDenied() uint64 {
	return atomic.LoadUint64(&e.deniedCount)
}

// GetRateLimitViolations 速率违规总数
func (e *Engine) GetRateLimitViolations() uint64 {
	return atomic.LoadUint64(&e.rateViolations)
}

// GetSequenceGapViolations 确认号跳变违规总数
func (e *Engine) GetSequenceGapViolations() uint64 {
	return atomic.LoadUint64(&e.seqViolations)
}

// GetWindowAnomalies 窗口异常总数
func (e *Engine) GetWindowAnomalies() uint64 {
	return atomic.LoadUint64(&e.windowViolations)
}

// GetQuarantines 隔离施加总数
func (e *Engine) GetQuarantines() uint64 {
	return atomic.LoadUint64(&e.quarantineCount)
}

// GetReplaysFlagged 重放段标记总数
func (e *Engine) GetReplaysFlagged() uint64 {
	return atomic.LoadUint64(&e.replayCount)
}

// GetActiveRecords 当前连接记录数
func (e *Engine) GetActiveRecords() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.records)
}

// GetQuarantinedRecords 当前隔离中的记录数
func (e *Engine) GetQuarantinedRecords() int {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	count := 0
	for _, rec := range e.records {
		if rec.quarantined(now) {
			count++
		}
	}
	return count
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// log 日志输出
func (e *Engine) log(level int, format string, args ...interface{}) {
	if level > e.logLevel {
		return
	}
	prefix := map[int]string{0: "[ERROR]", 1: "[INFO]", 2: "[DEBUG]"}[level]
	fmt.Printf("%s %s [Defense] %s\n", prefix, time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
}
