// =============================================================================
// 文件: internal/attack/transfer.go
// 描述: 真实传输速度测量 - 从目标读取有界时长并统计实际字节数
// =============================================================================
package attack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// MeasureTransfer 对目标执行一次有界时长的读取传输，返回实测字节速率 (B/s)
// 速率只来自真实字节数与真实耗时，目标不发送数据则速率为 0
func MeasureTransfer(ctx context.Context, host string, port int, seconds int) (float64, error) {
	if seconds < 1 {
		seconds = 1
	}
	return measureFor(ctx, fmt.Sprintf("%s:%d", host, port), time.Duration(seconds)*time.Second)
}

func measureFor(ctx context.Context, addr string, d time.Duration) (float64, error) {
	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("传输连接失败: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(d)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, fmt.Errorf("设置读取截止时间失败: %w", err)
	}

	// 上层取消时提前中断读取
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	start := time.Now()
	buf := make([]byte, 64*1024)
	var total int64

	for {
		n, err := conn.Read(buf)
		total += int64(n)
		if err != nil {
			// EOF 与截止超时都是正常的测量终点
			if errors.Is(err, io.EOF) {
				break
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				break
			}
			return 0, fmt.Errorf("传输读取失败: %w", err)
		}
	}

	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		return 0, nil
	}
	return float64(total) / elapsed, nil
}
