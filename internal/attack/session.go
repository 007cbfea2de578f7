// =============================================================================
// 文件: internal/attack/session.go
// 描述: 攻击会话状态与计数器
// =============================================================================
package attack

import (
	"sync"
	"time"
)

// State 会话状态
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateBaselineMeasuring
	StateAttacking
	StateStopped
)

// String 状态名
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateBaselineMeasuring:
		return "baseline_measuring"
	case StateAttacking:
		return "attacking"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Session 单次攻击会话
// 计数器只在引擎的 tick 循环内修改，快照读取走读锁
type Session struct {
	mu sync.RWMutex

	state State

	targetHost string
	targetPort int
	srcIP      string
	srcPort    int
	dstIP      string

	seq uint32
	ack uint32

	packetsEmitted      uint64
	successfulEmissions uint64
	failedEmissions     uint64
	totalAdvancedBytes  uint64

	startTime      time.Time
	transferActive bool

	currentSpeed            float64
	baselineSpeed           float64
	attackSpeed             float64
	speedImprovementPercent float64
	improvementKnown        bool
}

// Snapshot 会话指标快照
type Snapshot struct {
	State      string
	TargetHost string
	TargetPort int

	Seq uint32
	Ack uint32

	PacketsEmitted      uint64
	SuccessfulEmissions uint64
	FailedEmissions     uint64
	TotalAdvancedBytes  uint64

	ElapsedSeconds float64
	CurrentSpeed   float64

	BaselineSpeed           float64
	AttackSpeed             float64
	SpeedImprovementPercent float64
	ImprovementKnown        bool
}

func newSession(targetHost string, targetPort int) *Session {
	return &Session{
		state:      StateIdle,
		targetHost: targetHost,
		targetPort: targetPort,
	}
}

// begin 尝试启动会话，仅在 Idle 状态下成功
func (s *Session) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return false
	}
	s.state = StateConnecting
	return true
}

func (s *Session) numbers() (seq, ack uint32) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq, s.ack
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State 当前状态
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setEndpoints(srcIP string, srcPort int, dstIP string) {
	s.mu.Lock()
	s.srcIP = srcIP
	s.srcPort = srcPort
	s.dstIP = dstIP
	s.mu.Unlock()
}

func (s *Session) setInitialNumbers(seq, ack uint32) {
	s.mu.Lock()
	s.seq = seq
	s.ack = ack
	s.mu.Unlock()
}

func (s *Session) markStart(now time.Time) {
	s.mu.Lock()
	s.startTime = now
	s.mu.Unlock()
}

func (s *Session) setTransferActive(active bool) {
	s.mu.Lock()
	s.transferActive = active
	s.mu.Unlock()
}

func (s *Session) isTransferActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transferActive
}

// advanceAck 推进确认号并记录一次发射结果
// 32 位无符号加法自然回绕
func (s *Session) advanceAck(advance uint32, sent bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ack += advance
	s.packetsEmitted++

	if sent {
		s.successfulEmissions++
		s.totalAdvancedBytes += uint64(advance)
		if elapsed := now.Sub(s.startTime).Seconds(); elapsed > 0 {
			s.currentSpeed = float64(s.totalAdvancedBytes) / elapsed
		}
	} else {
		s.failedEmissions++
	}
}

func (s *Session) setBaselineSpeed(v float64) {
	s.mu.Lock()
	s.baselineSpeed = v
	s.mu.Unlock()
}

func (s *Session) setAttackSpeed(v float64) {
	s.mu.Lock()
	s.attackSpeed = v
	s.mu.Unlock()
}

// finalize 会话终止时结算衍生指标
// 无论终止原因如何都会被调用
func (s *Session) finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateStopped
	if s.baselineSpeed > 0 && s.attackSpeed > 0 {
		s.speedImprovementPercent = (s.attackSpeed - s.baselineSpeed) / s.baselineSpeed * 100
		s.improvementKnown = true
	}
}

// =============================================================================
// 指标收集器的 stats provider 接口实现
// =============================================================================

// GetState 当前状态名
func (s *Session) GetState() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.String()
}

// GetPacketsEmitted 发包数
func (s *Session) GetPacketsEmitted() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.packetsEmitted
}

// GetSuccessfulEmissions 成功发射数
func (s *Session) GetSuccessfulEmissions() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.successfulEmissions
}

// GetFailedEmissions 失败发射数
func (s *Session) GetFailedEmissions() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failedEmissions
}

// GetTotalAdvancedBytes 累计推进字节数
func (s *Session) GetTotalAdvancedBytes() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalAdvancedBytes
}

// GetCurrentSpeed 当前推进速度 (B/s)
func (s *Session) GetCurrentSpeed() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSpeed
}

// GetBaselineSpeed 基线传输速度 (B/s)
func (s *Session) GetBaselineSpeed() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baselineSpeed
}

// GetAttackSpeed 攻击期传输速度 (B/s)
func (s *Session) GetAttackSpeed() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attackSpeed
}

// GetSpeedImprovementPercent 速度提升百分比
func (s *Session) GetSpeedImprovementPercent() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speedImprovementPercent
}

// Snapshot 返回当前指标快照
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		State:                   s.state.String(),
		TargetHost:              s.targetHost,
		TargetPort:              s.targetPort,
		Seq:                     s.seq,
		Ack:                     s.ack,
		PacketsEmitted:          s.packetsEmitted,
		SuccessfulEmissions:     s.successfulEmissions,
		FailedEmissions:         s.failedEmissions,
		TotalAdvancedBytes:      s.totalAdvancedBytes,
		CurrentSpeed:            s.currentSpeed,
		BaselineSpeed:           s.baselineSpeed,
		AttackSpeed:             s.attackSpeed,
		SpeedImprovementPercent: s.speedImprovementPercent,
		ImprovementKnown:        s.improvementKnown,
	}
	if !s.startTime.IsZero() {
		snap.ElapsedSeconds = time.Since(s.startTime).Seconds()
	}
	return snap
}
