// =============================================================================
// 文件: cmd/optiack-defender/main.go
// 描述: 防御端入口 - 边界服务接收段并按连接裁决、隔离异常来源
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/mrcgq/optiack/internal/config"
	"github.com/mrcgq/optiack/internal/defense"
	"github.com/mrcgq/optiack/internal/metrics"
	"github.com/mrcgq/optiack/internal/transport"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("c", "config.yaml", "配置文件路径")
	showVersion := flag.Bool("v", false, "显示版本")
	genConfig := flag.Bool("gen-config", false, "生成示例配置文件")

	listen := flag.String("listen", "", "监听地址 (覆盖配置)")
	sendRST := flag.Bool("rst", false, "对被拒绝的来源回发 RST")

	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	if *genConfig {
		if err := config.WriteExampleConfig("config.example.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "生成配置失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("已生成示例配置文件: config.example.yaml")
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(1)
	}

	// 命令行覆盖
	if *listen != "" {
		cfg.Defense.Listen = *listen
	}
	if *sendRST {
		cfg.Defense.SendRSTOnDeny = true
	}

	logLevel := cfg.LogLevelValue()
	engine := defense.NewEngine(&cfg.Defense, defense.WithLogLevel(logLevel))
	engine.Start()

	boundary := transport.NewBoundary(&cfg.Defense, engine, logLevel)
	if err := boundary.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "边界服务启动失败: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 消费违规动作
	go func() {
		for {
			select {
			case a := <-engine.Actions():
				fmt.Printf("[ACTION] %s %s %s: %s\n", a.Timestamp.Format("15:04:05"), a.Severity, a.Key(), a.Reason)
			case <-ctx.Done():
				return
			}
		}
	}()

	// Metrics 服务器
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			cfg.Metrics.Listen,
			cfg.Metrics.Path,
			cfg.Metrics.HealthPath,
			cfg.Metrics.EnablePprof,
		)
		metricsServer.MustRegister(
			metrics.NewDefenseCollector(engine),
			metrics.NewBoundaryCollector(boundary),
		)
		metricsServer.SetHealthCheck(func() metrics.HealthStatus {
			return defenseHealthStatus(engine)
		})
		if err := metricsServer.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Metrics 启动失败: %v\n", err)
		}
	}

	printBanner(cfg, boundary)

	// 等待信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\n正在关闭...")
	cancel()

	if metricsServer != nil {
		metricsServer.Stop()
	}
	boundary.Stop()
	engine.Stop()

	printSummary(engine.GetStats(), boundary.Stats())
}

// defenseHealthStatus 构建健康状态
func defenseHealthStatus(engine *defense.Engine) metrics.HealthStatus {
	stats := engine.GetStats()

	return metrics.HealthStatus{
		Status:  "healthy",
		Version: Version,
		Components: map[string]metrics.ComponentHealth{
			"engine": {
				Status: "healthy",
				Message: fmt.Sprintf("records=%d quarantined=%d",
					stats.ActiveRecords, stats.QuarantinedRecords),
			},
		},
	}
}

func printVersion() {
	fmt.Printf("optiack-defender %s\n", Version)
	fmt.Printf("  构建时间: %s\n", BuildTime)
	fmt.Printf("  Git 提交: %s\n", GitCommit)
	fmt.Printf("  Go 版本:  %s\n", runtime.Version())
}

func printBanner(cfg *config.Config, boundary *transport.Boundary) {
	fmt.Println("=============================================")
	fmt.Printf("  optiack-defender %s\n", Version)
	fmt.Printf("  监听:     %v\n", boundary.LocalAddr())
	fmt.Printf("  速率阈值: %d ACK/s\n", cfg.Defense.MaxACKsPerSecond)
	fmt.Printf("  跳变阈值: %d 字节\n", cfg.Defense.MaxSequenceGap)
	fmt.Printf("  窗口阈值: %.1f 倍\n", cfg.Defense.MaxWindowGrowthRate)
	fmt.Printf("  隔离:     %v (%dms)\n", cfg.Defense.QuarantineEnabled, cfg.Defense.QuarantineDurationMs)
	if cfg.Defense.SendRSTOnDeny {
		fmt.Println("  RST 回发: 开启")
	}
	if cfg.Metrics.Enabled {
		fmt.Printf("  指标:     http://%s%s\n", cfg.Metrics.Listen, cfg.Metrics.Path)
	}
	fmt.Println("=============================================")
}

func printSummary(stats defense.Stats, bstats transport.BoundaryStats) {
	fmt.Println("---------------------------------------------")
	fmt.Printf("  验证总数:   %d (放行 %d, 拒绝 %d)\n", stats.TotalValidations, stats.Allowed, stats.Denied)
	fmt.Printf("  违规:       速率 %d, 跳变 %d, 窗口 %d\n",
		stats.RateLimitViolations, stats.SequenceGapViolations, stats.WindowAnomalies)
	fmt.Printf("  隔离次数:   %d\n", stats.Quarantines)
	fmt.Printf("  重放标记:   %d\n", stats.ReplaysFlagged)
	fmt.Printf("  数据报:     %d (解码失败 %d, 校验和不符 %d, RST 回发 %d)\n",
		bstats.Received, bstats.DecodeErrors, bstats.ChecksumErrors, bstats.RSTSent)
	fmt.Println("---------------------------------------------")
}
