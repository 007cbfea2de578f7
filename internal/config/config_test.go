// =============================================================================
// 文件: internal/config/config_test.go
// 描述: 配置鲁棒性测试 - 确保错误配置能在启动前被拦截
// =============================================================================
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// =============================================================================
// 默认值测试
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("攻击配置默认值", func(t *testing.T) {
		if cfg.Attack.TargetPort != 8080 {
			t.Errorf("Attack.TargetPort 默认值错误: got %d, want 8080", cfg.Attack.TargetPort)
		}
		if cfg.Attack.AttackDurationSeconds != 30 {
			t.Errorf("Attack.AttackDurationSeconds 默认值错误: got %d, want 30", cfg.Attack.AttackDurationSeconds)
		}
		if cfg.Attack.PacketIntervalMs != 10 {
			t.Errorf("Attack.PacketIntervalMs 默认值错误: got %d, want 10", cfg.Attack.PacketIntervalMs)
		}
		if cfg.Attack.AckAdvanceSizeBytes != 65535 {
			t.Errorf("Attack.AckAdvanceSizeBytes 默认值错误: got %d, want 65535", cfg.Attack.AckAdvanceSizeBytes)
		}
		if cfg.Attack.WindowScale != 1.0 {
			t.Errorf("Attack.WindowScale 默认值错误: got %f, want 1.0", cfg.Attack.WindowScale)
		}
	})

	t.Run("防御配置默认值", func(t *testing.T) {
		if !cfg.Defense.ACKValidationEnabled {
			t.Error("Defense.ACKValidationEnabled 默认应为 true")
		}
		if cfg.Defense.MaxACKsPerSecond != 100 {
			t.Errorf("Defense.MaxACKsPerSecond 默认值错误: got %d, want 100", cfg.Defense.MaxACKsPerSecond)
		}
		if cfg.Defense.SuspiciousPatternThreshold != 0.6 {
			t.Errorf("Defense.SuspiciousPatternThreshold 默认值错误: got %f, want 0.6", cfg.Defense.SuspiciousPatternThreshold)
		}
		if cfg.Defense.QuarantineDurationMs != 30000 {
			t.Errorf("Defense.QuarantineDurationMs 默认值错误: got %d, want 30000", cfg.Defense.QuarantineDurationMs)
		}
	})

	t.Run("传输配置默认值", func(t *testing.T) {
		if cfg.Transport.Mode != "udp" {
			t.Errorf("Transport.Mode 默认值错误: got %s, want udp", cfg.Transport.Mode)
		}
		if cfg.Transport.ConnectTimeoutMs != 5000 {
			t.Errorf("Transport.ConnectTimeoutMs 默认值错误: got %d, want 5000", cfg.Transport.ConnectTimeoutMs)
		}
	})

	if err := cfg.Validate(); err != nil {
		t.Errorf("默认配置应通过验证: %v", err)
	}
}

// =============================================================================
// 验证测试
// =============================================================================

func TestValidateAttackConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"目标端口为0", func(c *Config) { c.Attack.TargetPort = 0 }, "target_port"},
		{"目标端口越界", func(c *Config) { c.Attack.TargetPort = 70000 }, "target_port"},
		{"持续时间为0", func(c *Config) { c.Attack.AttackDurationSeconds = 0 }, "attack_duration_seconds"},
		{"发送间隔为负", func(c *Config) { c.Attack.PacketIntervalMs = -1 }, "packet_interval_ms"},
		{"推进量为0", func(c *Config) { c.Attack.AckAdvanceSizeBytes = 0 }, "ack_advance_size_bytes"},
		{"窗口系数为0", func(c *Config) { c.Attack.WindowScale = 0 }, "window_scale"},
		{"空目标主机", func(c *Config) { c.Attack.TargetHost = "" }, "target_host"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("应返回验证错误")
			}
			if !strings.Contains(err.Error(), tc.errSub) {
				t.Errorf("错误信息应包含 %q, got: %v", tc.errSub, err)
			}
		})
	}
}

func TestValidateDefenseConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Defense.SuspiciousPatternThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("阈值 > 1 应返回错误")
	}

	cfg = DefaultConfig()
	cfg.Defense.MaxACKsPerSecond = 0
	if err := cfg.Validate(); err == nil {
		t.Error("max_acks_per_second = 0 应返回错误")
	}

	cfg = DefaultConfig()
	cfg.Defense.MaxWindowGrowthRate = -1
	if err := cfg.Validate(); err == nil {
		t.Error("负增长率应返回错误")
	}
}

func TestValidateTransportMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transport.Mode = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Error("未知传输模式应返回错误")
	}

	for _, mode := range []string{"udp", "tcp", "websocket", "tls"} {
		cfg := DefaultConfig()
		cfg.Transport.Mode = mode
		if err := cfg.Validate(); err != nil {
			t.Errorf("模式 %s 应通过验证: %v", mode, err)
		}
	}
}

func TestPortConflict(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Defense.Listen = ":9100"
	cfg.Metrics.Listen = ":9100"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("端口冲突应返回错误")
	}
	if !strings.Contains(err.Error(), "冲突") {
		t.Errorf("错误信息应提示冲突: %v", err)
	}
}

// =============================================================================
// 加载测试
// =============================================================================

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
log_level: "debug"
attack:
  target_host: "10.1.2.3"
  target_port: 9999
  attack_duration_seconds: 5
  packet_interval_ms: 20
  ack_advance_size_bytes: 1460
  window_scale: 1.5
defense:
  max_acks_per_second: 10
  max_sequence_gap: 1000
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}

	if cfg.Attack.TargetHost != "10.1.2.3" {
		t.Errorf("TargetHost = %s, want 10.1.2.3", cfg.Attack.TargetHost)
	}
	if cfg.Attack.TargetPort != 9999 {
		t.Errorf("TargetPort = %d, want 9999", cfg.Attack.TargetPort)
	}
	if cfg.Defense.MaxACKsPerSecond != 10 {
		t.Errorf("MaxACKsPerSecond = %d, want 10", cfg.Defense.MaxACKsPerSecond)
	}
	if cfg.Defense.MaxSequenceGap != 1000 {
		t.Errorf("MaxSequenceGap = %d, want 1000", cfg.Defense.MaxSequenceGap)
	}
	// 未出现的字段保持默认值
	if !cfg.Defense.QuarantineEnabled {
		t.Error("未配置字段应保持默认值")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("缺失文件应返回错误")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	os.WriteFile(path, []byte("attack: [not a map"), 0644)

	if _, err := Load(path); err == nil {
		t.Error("非法 YAML 应返回错误")
	}
}

func TestGenerateExampleConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "example.yaml")

	if err := WriteExampleConfig(path); err != nil {
		t.Fatalf("写入示例配置失败: %v", err)
	}

	// 生成的示例必须能被重新加载
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("示例配置应能加载: %v", err)
	}
	if cfg.Transport.Mode != "udp" {
		t.Errorf("示例配置 Transport.Mode = %s, want udp", cfg.Transport.Mode)
	}
}
