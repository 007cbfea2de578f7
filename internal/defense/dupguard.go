// =============================================================================
// 文件: internal/defense/dupguard.go
// 描述: 重放段检测 - 时间片布隆过滤器
// =============================================================================
package defense

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	// 布隆过滤器参数
	dupExpectedItems = 100000
	dupFalsePositive = 0.0001

	// 时间片配置: 6 片 x 10 秒 = 1 分钟记忆
	dupSliceDuration = 10 * time.Second
	dupMaxSlices     = 6
)

// DupGuard 重放段检测器
// 字节级相同的段在记忆窗口内再次出现视为重放信号
type DupGuard struct {
	slices     [dupMaxSlices]*dupSlice
	currentIdx int64

	stopCh   chan struct{}
	stopOnce sync.Once

	mu    sync.RWMutex
	stats DupStats
}

// DupStats 统计信息
type DupStats struct {
	TotalChecks uint64
	DupsFlagged uint64
}

type dupSlice struct {
	bloom     *bloom.BloomFilter
	startTime time.Time
	mu        sync.RWMutex
}

func newDupSlice(startTime time.Time) *dupSlice {
	return &dupSlice{
		bloom:     bloom.NewWithEstimates(dupExpectedItems, dupFalsePositive),
		startTime: startTime,
	}
}

// NewDupGuard 创建检测器并启动时间片轮转
func NewDupGuard() *DupGuard {
	g := &DupGuard{
		stopCh: make(chan struct{}),
	}

	now := time.Now()
	for i := 0; i < dupMaxSlices; i++ {
		g.slices[i] = newDupSlice(now.Add(-time.Duration(i) * dupSliceDuration))
	}

	go g.rotateLoop()

	return g
}

// CheckAndMark 检查并标记段字节
// 返回 true 表示记忆窗口内已出现过 (重放)
func (g *DupGuard) CheckAndMark(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	atomic.AddUint64(&g.stats.TotalChecks, 1)

	// 读锁覆盖整个 检查+标记 过程: 轮转不会并发替换时间片,
	// 标记落入的一定是当前活跃片
	g.mu.RLock()
	defer g.mu.RUnlock()

	currentIdx := int(g.currentIdx)
	for i := 0; i < dupMaxSlices; i++ {
		idx := (currentIdx - i + dupMaxSlices) % dupMaxSlices
		slice := g.slices[idx]

		slice.mu.RLock()
		exists := slice.bloom.Test(data)
		slice.mu.RUnlock()

		if exists {
			atomic.AddUint64(&g.stats.DupsFlagged, 1)
			return true
		}
	}

	current := g.slices[currentIdx%dupMaxSlices]
	current.mu.Lock()
	current.bloom.Add(data)
	current.mu.Unlock()

	return false
}

// Stats 返回统计信息
func (g *DupGuard) Stats() DupStats {
	return DupStats{
		TotalChecks: atomic.LoadUint64(&g.stats.TotalChecks),
		DupsFlagged: atomic.LoadUint64(&g.stats.DupsFlagged),
	}
}

// Close 停止时间片轮转
func (g *DupGuard) Close() {
	g.stopOnce.Do(func() {
		close(g.stopCh)
	})
}

func (g *DupGuard) rotateLoop() {
	ticker := time.NewTicker(dupSliceDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.rotate()
		case <-g.stopCh:
			return
		}
	}
}

func (g *DupGuard) rotate() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.currentIdx++
	nextIdx := g.currentIdx % dupMaxSlices
	g.slices[nextIdx] = newDupSlice(time.Now())
}
