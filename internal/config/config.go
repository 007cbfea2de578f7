// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - 攻击/防御双端配置、端口冲突检测、阈值范围验证
// =============================================================================
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 主配置
type Config struct {
	LogLevel string `yaml:"log_level"`

	Attack    AttackConfig    `yaml:"attack"`
	Defense   DefenseConfig   `yaml:"defense"`
	Transport TransportConfig `yaml:"transport"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// AttackConfig 攻击会话配置
type AttackConfig struct {
	TargetHost string `yaml:"target_host"`
	TargetPort int    `yaml:"target_port"`

	AttackDurationSeconds int     `yaml:"attack_duration_seconds"`
	PacketIntervalMs      int     `yaml:"packet_interval_ms"`
	AckAdvanceSizeBytes   int     `yaml:"ack_advance_size_bytes"`
	WindowScale           float64 `yaml:"window_scale"`

	// 速度对比: 先测基线再攻击
	CompareSpeeds bool `yaml:"compare_speeds"`
	// 攻击期间并发运行一次真实传输
	ConcurrentTransfer bool `yaml:"concurrent_transfer"`
	// 单次传输测量时长 (秒)
	MeasureSeconds int `yaml:"measure_seconds"`

	// 本地端口 (0 = 取自传输层连接)
	SourcePort int `yaml:"source_port"`
}

// DefenseConfig 防御引擎配置
type DefenseConfig struct {
	Listen string `yaml:"listen"`

	ACKValidationEnabled    bool `yaml:"ack_validation_enabled"`
	RateLimitingEnabled     bool `yaml:"rate_limiting_enabled"`
	SequenceTrackingEnabled bool `yaml:"sequence_tracking_enabled"`
	AdaptiveWindowEnabled   bool `yaml:"adaptive_window_enabled"`
	AnomalyDetectionEnabled bool `yaml:"anomaly_detection_enabled"`
	QuarantineEnabled       bool `yaml:"quarantine_enabled"`

	MaxACKsPerSecond           int     `yaml:"max_acks_per_second"`
	MaxWindowGrowthRate        float64 `yaml:"max_window_growth_rate"`
	MaxSequenceGap             uint32  `yaml:"max_sequence_gap"`
	SuspiciousPatternThreshold float64 `yaml:"suspicious_pattern_threshold"`
	QuarantineDurationMs       int     `yaml:"quarantine_duration_ms"`

	// 重放段检测 (布隆过滤器)
	ReplayGuardEnabled bool `yaml:"replay_guard_enabled"`

	// 连接表清扫
	SweepIntervalMs int `yaml:"sweep_interval_ms"`
	RecordTTLMs     int `yaml:"record_ttl_ms"`

	// 拒绝时回发 RST 段
	SendRSTOnDeny bool `yaml:"send_rst_on_deny"`
}

// TransportConfig 传输层配置
type TransportConfig struct {
	// 发包模式: udp, tcp, websocket, tls
	Mode string `yaml:"mode"`

	ConnectTimeoutMs int `yaml:"connect_timeout_ms"`
	SendTimeoutMs    int `yaml:"send_timeout_ms"`

	WebSocket WSTransportConfig  `yaml:"websocket"`
	TLS       TLSTransportConfig `yaml:"tls"`
}

// WSTransportConfig WebSocket 发包配置
type WSTransportConfig struct {
	Path string `yaml:"path"`
	Host string `yaml:"host"`
	TLS  bool   `yaml:"tls"`
}

// TLSTransportConfig uTLS 伪装发包配置
type TLSTransportConfig struct {
	ServerName         string `yaml:"server_name"`
	Fingerprint        string `yaml:"fingerprint"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	HealthPath  string `yaml:"health_path"`
	EnablePprof bool   `yaml:"enable_pprof"`
}

// LogLevelValue 日志级别数值 (0=error, 1=info, 2=debug)
func (c *Config) LogLevelValue() int {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return 2
	case "error":
		return 0
	default:
		return 1
	}
}

// Load 加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",

		Attack: AttackConfig{
			TargetHost:            "127.0.0.1",
			TargetPort:            8080,
			AttackDurationSeconds: 30,
			PacketIntervalMs:      10,
			AckAdvanceSizeBytes:   65535,
			WindowScale:           1.0,
			CompareSpeeds:         false,
			ConcurrentTransfer:    false,
			MeasureSeconds:        10,
		},

		Defense: DefenseConfig{
			Listen:                     ":54331",
			ACKValidationEnabled:       true,
			RateLimitingEnabled:        true,
			SequenceTrackingEnabled:    true,
			AdaptiveWindowEnabled:      true,
			AnomalyDetectionEnabled:    true,
			QuarantineEnabled:          true,
			MaxACKsPerSecond:           100,
			MaxWindowGrowthRate:        4.0,
			MaxSequenceGap:             1048576,
			SuspiciousPatternThreshold: 0.6,
			QuarantineDurationMs:       30000,
			ReplayGuardEnabled:         true,
			SweepIntervalMs:            10000,
			RecordTTLMs:                60000,
			SendRSTOnDeny:              false,
		},

		Transport: TransportConfig{
			Mode:             "udp",
			ConnectTimeoutMs: 5000,
			SendTimeoutMs:    2000,
			WebSocket: WSTransportConfig{
				Path: "/ws",
			},
			TLS: TLSTransportConfig{
				Fingerprint:        "chrome",
				InsecureSkipVerify: true,
			},
		},

		Metrics: MetricsConfig{
			Enabled:     true,
			Listen:      ":9100",
			Path:        "/metrics",
			HealthPath:  "/health",
			EnablePprof: false,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if err := c.validateAttackConfig(); err != nil {
		return fmt.Errorf("attack 配置错误: %w", err)
	}
	if err := c.validateDefenseConfig(); err != nil {
		return fmt.Errorf("defense 配置错误: %w", err)
	}
	if err := c.validateTransportConfig(); err != nil {
		return fmt.Errorf("transport 配置错误: %w", err)
	}

	// 端口冲突检测
	ports := map[int]string{}

	defensePort, err := parsePort(c.Defense.Listen)
	if err != nil {
		return fmt.Errorf("defense.listen 端口格式错误: %w", err)
	}
	ports[defensePort] = "defense.listen"

	if c.Metrics.Enabled {
		metricsPort, err := parsePort(c.Metrics.Listen)
		if err != nil {
			return fmt.Errorf("metrics.listen 端口格式错误: %w", err)
		}
		if existing, exists := ports[metricsPort]; exists {
			return fmt.Errorf("metrics.listen 端口 (%d) 与 %s 冲突", metricsPort, existing)
		}
	}

	return nil
}

// validateAttackConfig 验证攻击配置
func (c *Config) validateAttackConfig() error {
	a := &c.Attack

	if a.TargetHost == "" {
		return fmt.Errorf("target_host 不能为空")
	}
	if a.TargetPort < 1 || a.TargetPort > 65535 {
		return fmt.Errorf("target_port 需在 1-65535 之间")
	}
	if a.AttackDurationSeconds <= 0 {
		return fmt.Errorf("attack_duration_seconds 必须 > 0")
	}
	if a.PacketIntervalMs <= 0 {
		return fmt.Errorf("packet_interval_ms 必须 > 0")
	}
	if a.AckAdvanceSizeBytes <= 0 {
		return fmt.Errorf("ack_advance_size_bytes 必须 > 0")
	}
	if a.WindowScale <= 0 {
		return fmt.Errorf("window_scale 必须 > 0")
	}
	if a.SourcePort < 0 || a.SourcePort > 65535 {
		return fmt.Errorf("source_port 需在 0-65535 之间")
	}
	if a.MeasureSeconds <= 0 {
		a.MeasureSeconds = 10
	}

	return nil
}

// validateDefenseConfig 验证防御配置
func (c *Config) validateDefenseConfig() error {
	d := &c.Defense

	if d.MaxACKsPerSecond < 1 {
		return fmt.Errorf("max_acks_per_second 必须 >= 1")
	}
	if d.MaxWindowGrowthRate <= 0 {
		return fmt.Errorf("max_window_growth_rate 必须 > 0")
	}
	if d.SuspiciousPatternThreshold < 0 || d.SuspiciousPatternThreshold > 1 {
		return fmt.Errorf("suspicious_pattern_threshold 需在 0-1 之间")
	}
	if d.QuarantineDurationMs < 0 {
		return fmt.Errorf("quarantine_duration_ms 不能为负数")
	}
	if d.SweepIntervalMs <= 0 {
		d.SweepIntervalMs = 10000
	}
	if d.RecordTTLMs <= 0 {
		d.RecordTTLMs = 60000
	}

	return nil
}

// validateTransportConfig 验证传输配置
func (c *Config) validateTransportConfig() error {
	t := &c.Transport

	switch t.Mode {
	case "", "udp", "tcp", "websocket", "tls":
		if t.Mode == "" {
			t.Mode = "udp"
		}
	default:
		return fmt.Errorf("无效的传输模式: %s (支持: udp, tcp, websocket, tls)", t.Mode)
	}

	if t.ConnectTimeoutMs <= 0 {
		t.ConnectTimeoutMs = 5000
	}
	if t.SendTimeoutMs <= 0 {
		t.SendTimeoutMs = 2000
	}

	if t.Mode == "websocket" {
		if t.WebSocket.Path == "" {
			t.WebSocket.Path = "/ws"
		}
		if !strings.HasPrefix(t.WebSocket.Path, "/") {
			return fmt.Errorf("websocket.path 必须以 / 开头")
		}
	}

	if t.Mode == "tls" {
		switch t.TLS.Fingerprint {
		case "", "chrome", "firefox", "safari", "ios", "edge", "random":
			if t.TLS.Fingerprint == "" {
				t.TLS.Fingerprint = "chrome"
			}
		default:
			return fmt.Errorf("无效的 TLS 指纹: %s", t.TLS.Fingerprint)
		}
	}

	return nil
}

// parsePort 解析端口号
func parsePort(addr string) (int, error) {
	if strings.HasPrefix(addr, ":") {
		return strconv.Atoi(addr[1:])
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return strconv.Atoi(addr)
	}
	return strconv.Atoi(portStr)
}

// GetDefensePort 获取防御端监听端口
func (c *Config) GetDefensePort() int {
	port, _ := parsePort(c.Defense.Listen)
	return port
}

// =============================================================================
// 配置文件示例生成
// =============================================================================

// GenerateExampleConfig 生成示例配置
func GenerateExampleConfig() string {
	return `# Optiack 配置文件示例
# =============================================================================

log_level: "info"                     # 日志级别: debug, info, warn, error

# 攻击会话 (optiack-attacker)
attack:
  target_host: "127.0.0.1"            # 目标主机
  target_port: 8080                   # 目标端口 (1-65535)
  attack_duration_seconds: 30         # 攻击持续时间 (秒)
  packet_interval_ms: 10              # 伪造 ACK 发送间隔 (毫秒)
  ack_advance_size_bytes: 65535       # 每跳确认号推进量 (字节)
  window_scale: 1.0                   # 窗口放大系数 (>1 时生效, 上限 65535)
  compare_speeds: false               # 先测基线速度再攻击
  concurrent_transfer: false          # 攻击期间并发真实传输
  measure_seconds: 10                 # 单次传输测量时长 (秒)
  source_port: 0                      # 本地端口 (0 = 自动)

# 防御引擎 (optiack-defender)
defense:
  listen: ":54331"                    # 受保护边界监听地址
  ack_validation_enabled: true        # 总开关: 关闭则全部放行
  rate_limiting_enabled: true         # ACK 速率检查
  sequence_tracking_enabled: true     # 确认号跳变检查
  adaptive_window_enabled: true       # 窗口增长检查
  anomaly_detection_enabled: true     # 异常评分聚合
  quarantine_enabled: true            # 允许隔离
  max_acks_per_second: 100            # 1 秒滑动窗口内最大 ACK 数
  max_window_growth_rate: 4.0         # 窗口增长率阈值
  max_sequence_gap: 1048576           # 确认号跳变阈值 (字节)
  suspicious_pattern_threshold: 0.6   # 异常评分隔离阈值 (0-1)
  quarantine_duration_ms: 30000       # 隔离持续时间 (毫秒)
  replay_guard_enabled: true          # 重复段检测 (布隆过滤器)
  sweep_interval_ms: 10000            # 连接表清扫间隔 (毫秒)
  record_ttl_ms: 60000                # 无活动记录保留时长 (毫秒)
  send_rst_on_deny: false             # 拒绝时回发 RST 段

# 传输层
transport:
  mode: "udp"                         # 发包模式: udp, tcp, websocket, tls
  connect_timeout_ms: 5000            # 连接超时 (毫秒)
  send_timeout_ms: 2000               # 单次发送超时 (毫秒)
  websocket:
    path: "/ws"                       # WebSocket 路径
    host: ""                          # Host 头 (留空使用目标地址)
    tls: false                        # wss
  tls:
    server_name: ""                   # SNI (留空使用目标主机)
    fingerprint: "chrome"             # 浏览器指纹: chrome, firefox, safari, ios, edge, random
    insecure_skip_verify: true        # 跳过证书验证

# Prometheus 监控
metrics:
  enabled: true
  listen: ":9100"                     # 监控端口
  path: "/metrics"                    # Prometheus 指标路径
  health_path: "/health"              # 健康检查路径
  enable_pprof: false                 # 启用 pprof
`
}

// WriteExampleConfig 写入示例配置文件
func WriteExampleConfig(path string) error {
	return os.WriteFile(path, []byte(GenerateExampleConfig()), 0644)
}
