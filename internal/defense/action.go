// =============================================================================
// 文件: internal/defense/action.go
// 描述: 防御动作与决策类型定义
// =============================================================================
package defense

import (
	"fmt"
	"time"
)

// ActionKind 违规类型
type ActionKind string

const (
	ActionRateLimit     ActionKind = "rate_limit"
	ActionSequenceGap   ActionKind = "sequence_gap"
	ActionWindowAnomaly ActionKind = "window_anomaly"
	ActionQuarantine    ActionKind = "quarantine"
)

// Severity 严重程度
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityCritical Severity = "critical"
)

// Action 检测到的违规动作 (不可变，产出后即交由边界消费)
type Action struct {
	Kind       ActionKind
	Severity   Severity
	Reason     string
	SourceIP   string
	SourcePort int
	Timestamp  time.Time
}

// Key 关联的连接键
func (a Action) Key() string {
	return fmt.Sprintf("%s:%d", a.SourceIP, a.SourcePort)
}

// Decision 验证决策
// 验证从不抛错: 任何在范围内的输入都会得到一个结构化结果
type Decision struct {
	Allowed bool
	Action  *Action
}

// severityForScore 按异常评分划分严重程度
func severityForScore(score float64) Severity {
	switch {
	case score < 0.5:
		return SeverityLow
	case score < 0.8:
		return SeverityMedium
	default:
		return SeverityCritical
	}
}
