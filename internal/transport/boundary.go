// =============================================================================
// 文件: internal/transport/boundary.go
// 描述: 防御边界服务 - 接收数据报、解码段并交由防御引擎裁决
// =============================================================================
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrcgq/optiack/internal/config"
	"github.com/mrcgq/optiack/internal/defense"
	"github.com/mrcgq/optiack/internal/segment"
)

// Boundary 受保护边界的 UDP 入口
// 每个到达的数据报视为一个编码段，交由防御引擎裁决后丢弃或回应
type Boundary struct {
	cfg    *config.DefenseConfig
	engine *defense.Engine

	conn    *net.UDPConn
	localIP net.IP

	received       uint64
	decodeErrors   uint64
	checksumErrors uint64
	allowed        uint64
	denied         uint64
	rstSent        uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logLevel int
}

// BoundaryStats 边界统计
type BoundaryStats struct {
	Received       uint64
	DecodeErrors   uint64
	ChecksumErrors uint64
	Allowed        uint64
	Denied         uint64
	RSTSent        uint64
}

// NewBoundary 创建边界服务
func NewBoundary(cfg *config.DefenseConfig, engine *defense.Engine, logLevel int) *Boundary {
	ctx, cancel := context.WithCancel(context.Background())
	return &Boundary{
		cfg:      cfg,
		engine:   engine,
		ctx:      ctx,
		cancel:   cancel,
		logLevel: logLevel,
	}
}

// Start 绑定监听地址并启动读取循环
func (b *Boundary) Start() error {
	addr, err := net.ResolveUDPAddr("udp", b.cfg.Listen)
	if err != nil {
		return fmt.Errorf("解析监听地址失败: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("绑定监听地址失败: %w", err)
	}
	b.conn = conn
	b.localIP = AddrIPv4(conn.LocalAddr())

	b.log(1, "边界服务监听 %s", conn.LocalAddr())

	b.wg.Add(1)
	go b.readLoop()

	return nil
}

// Stop 停止边界服务
func (b *Boundary) Stop() {
	b.cancel()
	if b.conn != nil {
		b.conn.Close()
	}
	b.wg.Wait()
}

// LocalAddr 实际监听地址 (Start 之后有效)
func (b *Boundary) LocalAddr() net.Addr {
	if b.conn == nil {
		return nil
	}
	return b.conn.LocalAddr()
}

func (b *Boundary) readLoop() {
	defer b.wg.Done()

	buf := make([]byte, 2048)
	for {
		n, src, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-b.ctx.Done():
				return
			default:
				b.log(0, "读取数据报失败: %v", err)
				continue
			}
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		b.handle(data, src)
	}
}

func (b *Boundary) handle(data []byte, src *net.UDPAddr) {
	atomic.AddUint64(&b.received, 1)

	srcIP := src.IP.To4()
	if srcIP != nil && b.localIP != nil {
		pseudo, err := segment.PseudoHeader(srcIP, b.localIP, len(data))
		if err == nil && !segment.VerifyChecksum(pseudo, data) {
			// 校验和不匹配只计数，裁决仍继续 (degrade open)
			atomic.AddUint64(&b.checksumErrors, 1)
			b.log(2, "来自 %s 的段校验和不匹配", src)
		}
	}

	decision, err := b.engine.ValidateSegment(src.IP.String(), src.Port, data)
	if err != nil {
		atomic.AddUint64(&b.decodeErrors, 1)
		b.log(2, "来自 %s 的数据报无法解码: %v", src, err)
		return
	}

	if decision.Allowed {
		atomic.AddUint64(&b.allowed, 1)
		return
	}

	atomic.AddUint64(&b.denied, 1)
	if decision.Action != nil {
		b.log(1, "拒绝 %s: %s (%s)", decision.Action.Key(), decision.Action.Kind, decision.Action.Reason)
	}

	if b.cfg.SendRSTOnDeny {
		b.sendRST(data, src)
	}
}

// sendRST 对被拒绝的来源回发 RST 段
func (b *Boundary) sendRST(inbound []byte, src *net.UDPAddr) {
	h, err := segment.Decode(inbound)
	if err != nil {
		return
	}

	rst := &segment.Header{
		SrcPort: h.DstPort,
		DstPort: h.SrcPort,
		Seq:     h.Ack,
		Ack:     h.Seq,
		Flags:   segment.Flags{RST: true, ACK: true},
		Window:  0,
	}

	var data []byte
	if b.localIP != nil && src.IP.To4() != nil {
		data, err = segment.EncodeWithChecksum(rst, b.localIP, src.IP.To4())
	} else {
		data, err = segment.Encode(rst)
	}
	if err != nil {
		return
	}

	if _, err := b.conn.WriteToUDP(data, src); err != nil {
		b.log(2, "RST 回发失败: %v", err)
		return
	}
	atomic.AddUint64(&b.rstSent, 1)
}

// Stats 返回统计快照
func (b *Boundary) Stats() BoundaryStats {
	return BoundaryStats{
		Received:       atomic.LoadUint64(&b.received),
		DecodeErrors:   atomic.LoadUint64(&b.decodeErrors),
		ChecksumErrors: atomic.LoadUint64(&b.checksumErrors),
		Allowed:        atomic.LoadUint64(&b.allowed),
		Denied:         atomic.LoadUint64(&b.denied),
		RSTSent:        atomic.LoadUint64(&b.rstSent),
	}
}

// =============================================================================
// 指标收集器的 stats provider 接口实现
// =============================================================================

// GetReceived 接收数据报总数
func (b *Boundary) GetReceived() uint64 {
	return atomic.LoadUint64(&b.received)
}

// GetDecodeErrors 解码失败总数
func (b *Boundary) GetDecodeErrors() uint64 {
	return atomic.LoadUint64(&b.decodeErrors)
}

// GetChecksumErrors 校验和不匹配总数
func (b *Boundary) GetChecksumErrors() uint64 {
	return atomic.LoadUint64(&b.checksumErrors)
}

// GetRSTSent RST 回发总数
func (b *Boundary) GetRSTSent() uint64 {
	return atomic.LoadUint64(&b.rstSent)
}

// log 日志输出
func (b *Boundary) log(level int, format string, args ...interface{}) {
	if level > b.logLevel {
		return
	}
	prefix := map[int]string{0: "[ERROR]", 1: "[INFO]", 2: "[DEBUG]"}[level]
	fmt.Printf("%s %s [Boundary] %s\n", prefix, time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
}
