// =============================================================================
// 文件: cmd/optiack-attacker/main.go
// 描述: 攻击端入口 - 驱动伪造 ACK 会话并暴露 Prometheus 指标
// =============================================================================
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/mrcgq/optiack/internal/attack"
	"github.com/mrcgq/optiack/internal/config"
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

	targetHost := flag.String("target", "", "目标主机 (覆盖配置)")
	targetPort := flag.Int("port", 0, "目标端口 (覆盖配置)")
	duration := flag.Int("duration", 0, "攻击时长秒数 (覆盖配置)")
	interval := flag.Int("interval", 0, "发包间隔毫秒 (覆盖配置)")
	advance := flag.Int("advance", 0, "每次确认号推进字节数 (覆盖配置)")
	mode := flag.String("transport", "", "传输模式: udp/tcp/websocket/tls (覆盖配置)")
	compare := flag.Bool("compare", false, "启用基线/攻击速度对比")

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
	if *targetHost != "" {
		cfg.Attack.TargetHost = *targetHost
	}
	if *targetPort > 0 {
		cfg.Attack.TargetPort = *targetPort
	}
	if *duration > 0 {
		cfg.Attack.AttackDurationSeconds = *duration
	}
	if *interval > 0 {
		cfg.Attack.PacketIntervalMs = *interval
	}
	if *advance > 0 {
		cfg.Attack.AckAdvanceSizeBytes = *advance
	}
	if *mode != "" {
		cfg.Transport.Mode = *mode
	}
	if *compare {
		cfg.Attack.CompareSpeeds = true
	}

	dialer, err := transport.NewDialer(&cfg.Transport, cfg.Attack.TargetHost, cfg.Attack.TargetPort)
	if err != nil {
		fmt.Fprintf(os.Stderr, "传输层错误: %v\n", err)
		os.Exit(1)
	}

	engine := attack.NewEngine(&cfg.Attack, dialer, attack.WithLogLevel(cfg.LogLevelValue()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics 服务器
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			cfg.Metrics.Listen,
			cfg.Metrics.Path,
			cfg.Metrics.HealthPath,
			cfg.Metrics.EnablePprof,
		)
		metricsServer.MustRegister(metrics.NewAttackCollector(engine.Session()))
		metricsServer.SetHealthCheck(func() metrics.HealthStatus {
			return attackHealthStatus(engine)
		})
		if err := metricsServer.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Metrics 启动失败: %v\n", err)
		}
	}

	printBanner(cfg)

	// 信号触发停止
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n正在停止会话...")
		engine.Stop()
	}()

	err = engine.Run(ctx)

	if metricsServer != nil {
		metricsServer.Stop()
	}

	printSummary(engine.Session().Snapshot())

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "会话错误: %v\n", err)
		os.Exit(1)
	}
}

// attackHealthStatus 构建健康状态
func attackHealthStatus(engine *attack.Engine) metrics.HealthStatus {
	snap := engine.Session().Snapshot()

	status := "healthy"
	message := fmt.Sprintf("state=%s", snap.State)
	if snap.State == "stopped" {
		status = "degraded"
	}

	return metrics.HealthStatus{
		Status:  status,
		Version: Version,
		Components: map[string]metrics.ComponentHealth{
			"session": {Status: status, Message: message},
		},
	}
}

func printVersion() {
	fmt.Printf("optiack-attacker %s\n", Version)
	fmt.Printf("  构建时间: %s\n", BuildTime)
	fmt.Printf("  Git 提交: %s\n", GitCommit)
	fmt.Printf("  Go 版本:  %s\n", runtime.Version())
}

func printBanner(cfg *config.Config) {
	fmt.Println("=============================================")
	fmt.Printf("  optiack-attacker %s\n", Version)
	fmt.Printf("  目标:     %s:%d\n", cfg.Attack.TargetHost, cfg.Attack.TargetPort)
	fmt.Printf("  传输:     %s\n", cfg.Transport.Mode)
	fmt.Printf("  时长:     %ds, 间隔 %dms, 推进 %d 字节\n",
		cfg.Attack.AttackDurationSeconds, cfg.Attack.PacketIntervalMs, cfg.Attack.AckAdvanceSizeBytes)
	if cfg.Attack.CompareSpeeds {
		fmt.Printf("  速度对比: 开启 (测量 %ds)\n", cfg.Attack.MeasureSeconds)
	}
	if cfg.Metrics.Enabled {
		fmt.Printf("  指标:     http://%s%s\n", cfg.Metrics.Listen, cfg.Metrics.Path)
	}
	fmt.Println("=============================================")
}

func printSummary(snap attack.Snapshot) {
	fmt.Println("---------------------------------------------")
	fmt.Printf("  发包总数:   %d (成功 %d, 失败 %d)\n",
		snap.PacketsEmitted, snap.SuccessfulEmissions, snap.FailedEmissions)
	fmt.Printf("  累计推进:   %d 字节\n", snap.TotalAdvancedBytes)
	fmt.Printf("  推进速度:   %.0f B/s\n", snap.CurrentSpeed)
	if snap.ImprovementKnown {
		fmt.Printf("  基线速度:   %.0f B/s\n", snap.BaselineSpeed)
		fmt.Printf("  攻击速度:   %.0f B/s\n", snap.AttackSpeed)
		fmt.Printf("  速度提升:   %.1f%%\n", snap.SpeedImprovementPercent)
	}
	fmt.Printf("  运行时长:   %s\n", time.Duration(snap.ElapsedSeconds*float64(time.Second)).Round(time.Second))
	fmt.Println("---------------------------------------------")
}
