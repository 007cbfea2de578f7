// =============================================================================
// 文件: internal/metrics/collectors.go
// 描述: Prometheus 指标收集器定义
// =============================================================================
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "optiack"

// =============================================================================
// Attack 收集器
// =============================================================================

// AttackStats 攻击会话统计数据接口
type AttackStats interface {
	GetState() string
	GetPacketsEmitted() uint64
	GetSuccessfulEmissions() uint64
	GetFailedEmissions() uint64
	GetTotalAdvancedBytes() uint64
	GetCurrentSpeed() float64
	GetBaselineSpeed() float64
	GetAttackSpeed() float64
	GetSpeedImprovementPercent() float64
}

// AttackCollector 攻击会话指标收集器
type AttackCollector struct {
	statsProvider AttackStats

	stateDesc         *prometheus.Desc
	packetsDesc       *prometheus.Desc
	successDesc       *prometheus.Desc
	failedDesc        *prometheus.Desc
	advancedBytesDesc *prometheus.Desc
	currentSpeedDesc  *prometheus.Desc
	baselineDesc      *prometheus.Desc
	attackSpeedDesc   *prometheus.Desc
	improvementDesc   *prometheus.Desc
}

// NewAttackCollector 创建攻击会话收集器
func NewAttackCollector(provider AttackStats) *AttackCollector {
	subsystem := "attack"

	return &AttackCollector{
		statsProvider: provider,

		stateDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "session_state"),
			"Current session state (1 = active)",
			[]string{"state"}, nil,
		),
		packetsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "packets_emitted_total"),
			"Total forged segments emitted",
			nil, nil,
		),
		successDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "emissions_success_total"),
			"Total successful emissions",
			nil, nil,
		),
		failedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "emissions_failed_total"),
			"Total failed emissions",
			nil, nil,
		),
		advancedBytesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "advanced_bytes_total"),
			"Total acknowledgment bytes claimed",
			nil, nil,
		),
		currentSpeedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "current_speed_bytes_per_second"),
			"Current acknowledgment advance speed",
			nil, nil,
		),
		baselineDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "baseline_speed_bytes_per_second"),
			"Measured baseline transfer speed",
			nil, nil,
		),
		attackSpeedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "attack_speed_bytes_per_second"),
			"Measured attack-phase transfer speed",
			nil, nil,
		),
		improvementDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "speed_improvement_percent"),
			"Speed improvement of attack phase over baseline",
			nil, nil,
		),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *AttackCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.stateDesc
	ch <- c.packetsDesc
	ch <- c.successDesc
	ch <- c.failedDesc
	ch <- c.advancedBytesDesc
	ch <- c.currentSpeedDesc
	ch <- c.baselineDesc
	ch <- c.attackSpeedDesc
	ch <- c.improvementDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *AttackCollector) Collect(ch chan<- prometheus.Metric) {
	currentState := c.statsProvider.GetState()
	for _, state := range []string{"idle", "connecting", "baseline_measuring", "attacking", "stopped"} {
		val := 0.0
		if state == currentState {
			val = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.stateDesc, prometheus.GaugeValue, val, state)
	}

	ch <- prometheus.MustNewConstMetric(c.packetsDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetPacketsEmitted()))
	ch <- prometheus.MustNewConstMetric(c.successDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetSuccessfulEmissions()))
	ch <- prometheus.MustNewConstMetric(c.failedDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetFailedEmissions()))
	ch <- prometheus.MustNewConstMetric(c.advancedBytesDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetTotalAdvancedBytes()))
	ch <- prometheus.MustNewConstMetric(c.currentSpeedDesc, prometheus.GaugeValue,
		c.statsProvider.GetCurrentSpeed())
	ch <- prometheus.MustNewConstMetric(c.baselineDesc, prometheus.GaugeValue,
		c.statsProvider.GetBaselineSpeed())
	ch <- prometheus.MustNewConstMetric(c.attackSpeedDesc, prometheus.GaugeValue,
		c.statsProvider.GetAttackSpeed())
	ch <- prometheus.MustNewConstMetric(c.improvementDesc, prometheus.GaugeValue,
		c.statsProvider.GetSpeedImprovementPercent())
}

// =============================================================================
// Defense 收集器
// =============================================================================

// DefenseStats 防御引擎统计数据接口
type DefenseStats interface {
	GetTotalValidations() uint64
	GetAllowed() uint64
	GetDenied() uint64
	GetRateLimitViolations() uint64
	GetSequenceGapViolations() uint64
	GetWindowAnomalies() uint64
	GetQuarantines() uint64
	GetReplaysFlagged() uint64
	GetActiveRecords() int
	GetQuarantinedRecords() int
}

// DefenseCollector 防御引擎指标收集器
type DefenseCollector struct {
	statsProvider DefenseStats

	validationsDesc *prometheus.Desc
	allowedDesc     *prometheus.Desc
	deniedDesc      *prometheus.Desc
	violationsDesc  *prometheus.Desc
	quarantinesDesc *prometheus.Desc
	replaysDesc     *prometheus.Desc
	recordsDesc     *prometheus.Desc
	inQuarDesc      *prometheus.Desc
}

// NewDefenseCollector 创建防御引擎收集器
func NewDefenseCollector(provider DefenseStats) *DefenseCollector {
	subsystem := "defense"

	return &DefenseCollector{
		statsProvider: provider,

		validationsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "validations_total"),
			"Total validation calls",
			nil, nil,
		),
		allowedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "allowed_total"),
			"Total allowed validations",
			nil, nil,
		),
		deniedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "denied_total"),
			"Total denied validations",
			nil, nil,
		),
		violationsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "violations_total"),
			"Violations flagged, by kind",
			[]string{"kind"}, nil,
		),
		quarantinesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "quarantines_total"),
			"Total quarantines imposed",
			nil, nil,
		),
		replaysDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "replayed_segments_total"),
			"Total byte-identical replayed segments flagged",
			nil, nil,
		),
		recordsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "active_records"),
			"Connection records currently tracked",
			nil, nil,
		),
		inQuarDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "quarantined_records"),
			"Connection records currently quarantined",
			nil, nil,
		),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *DefenseCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.validationsDesc
	ch <- c.allowedDesc
	ch <- c.deniedDesc
	ch <- c.violationsDesc
	ch <- c.quarantinesDesc
	ch <- c.replaysDesc
	ch <- c.recordsDesc
	ch <- c.inQuarDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *DefenseCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.validationsDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetTotalValidations()))
	ch <- prometheus.MustNewConstMetric(c.allowedDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetAllowed()))
	ch <- prometheus.MustNewConstMetric(c.deniedDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetDenied()))

	ch <- prometheus.MustNewConstMetric(c.violationsDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetRateLimitViolations()), "rate_limit")
	ch <- prometheus.MustNewConstMetric(c.violationsDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetSequenceGapViolations()), "sequence_gap")
	ch <- prometheus.MustNewConstMetric(c.violationsDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetWindowAnomalies()), "window_anomaly")

	ch <- prometheus.MustNewConstMetric(c.quarantinesDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetQuarantines()))
	ch <- prometheus.MustNewConstMetric(c.replaysDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetReplaysFlagged()))
	ch <- prometheus.MustNewConstMetric(c.recordsDesc, prometheus.GaugeValue,
		float64(c.statsProvider.GetActiveRecords()))
	ch <- prometheus.MustNewConstMetric(c.inQuarDesc, prometheus.GaugeValue,
		float64(c.statsProvider.GetQuarantinedRecords()))
}

// =============================================================================
// Boundary 收集器
// =============================================================================

// BoundaryStats 边界服务统计数据接口
type BoundaryStats interface {
	GetReceived() uint64
	GetDecodeErrors() uint64
	GetChecksumErrors() uint64
	GetRSTSent() uint64
}

// BoundaryCollector 边界服务指标收集器
type BoundaryCollector struct {
	statsProvider BoundaryStats

	receivedDesc  *prometheus.Desc
	decodeErrDesc *prometheus.Desc
	cksumErrDesc  *prometheus.Desc
	rstSentDesc   *prometheus.Desc
}

// NewBoundaryCollector 创建边界服务收集器
func NewBoundaryCollector(provider BoundaryStats) *BoundaryCollector {
	subsystem := "boundary"

	return &BoundaryCollector{
		statsProvider: provider,

		receivedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "datagrams_received_total"),
			"Total datagrams received",
			nil, nil,
		),
		decodeErrDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "decode_errors_total"),
			"Total datagrams that failed segment decoding",
			nil, nil,
		),
		cksumErrDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "checksum_errors_total"),
			"Total segments with mismatched checksums",
			nil, nil,
		),
		rstSentDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "rst_sent_total"),
			"Total RST segments sent on deny",
			nil, nil,
		),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *BoundaryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.receivedDesc
	ch <- c.decodeErrDesc
	ch <- c.cksumErrDesc
	ch <- c.rstSentDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *BoundaryCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.receivedDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetReceived()))
	ch <- prometheus.MustNewConstMetric(c.decodeErrDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetDecodeErrors()))
	ch <- prometheus.MustNewConstMetric(c.cksumErrDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetChecksumErrors()))
	ch <- prometheus.MustNewConstMetric(c.rstSentDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetRSTSent()))
}
