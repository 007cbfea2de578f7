// =============================================================================
// 文件: internal/defense/record.go
// 描述: 按 (源IP, 源端口) 键控的连接记录
// =============================================================================
package defense

import (
	"time"
)

// connRecord 单连接的观测状态
// 所有字段仅在引擎锁内访问
type connRecord struct {
	lastSeq    uint32
	lastAck    uint32
	lastWindow int

	// 首包只建立基线，不参与跳变/增长判定
	hasBaseline bool

	// 1 秒滑动窗口内的 ACK 到达时间
	ackTimes []time.Time

	// 累积异常评分 [0,1]，干净调用按衰减因子回落
	anomalyScore float64

	quarantineUntil time.Time
	lastSeen        time.Time
}

// recordACK 记录到达时间并裁剪滑动窗口，返回窗口内数量
func (r *connRecord) recordACK(now time.Time) int {
	cutoff := now.Add(-time.Second)

	kept := r.ackTimes[:0]
	for _, t := range r.ackTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.ackTimes = append(kept, now)

	return len(r.ackTimes)
}

// quarantined 是否处于隔离期
func (r *connRecord) quarantined(now time.Time) bool {
	return now.Before(r.quarantineUntil)
}

// idle 是否超过空闲期限
func (r *connRecord) idle(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.lastSeen) > ttl
}
