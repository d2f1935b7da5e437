package monitor

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbt/internal/risk"
)

func TestMetricsCollectorRecords(t *testing.T) {
	mc := NewMetricsCollector(prometheus.NewRegistry())

	mc.RecordRunStarted("lowvol")
	mc.RecordRunCompleted("lowvol", RunStatusCompleted, 1500*time.Millisecond)
	mc.RecordTrade("lowvol", "buy", "rebalance", 10000)
	mc.RecordTrade("lowvol", "buy", "rebalance", 5000)
	mc.RecordTrade("lowvol", "sell", "hard_stop", 8000)
	mc.RecordStop("lowvol", "hard_stop")
	mc.RecordRejections("lowvol", 3)
	mc.RecordRejections("lowvol", 0)
	mc.RecordRiskAlert("lowvol", "drawdown", "warning")
	mc.RecordPeriod("lowvol", "main_trend")
	mc.RecordPeriod("lowvol", "")

	assert.Equal(t, 1.0, testutil.ToFloat64(mc.runsStarted.WithLabelValues("lowvol")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.runsCompleted.WithLabelValues("lowvol", RunStatusCompleted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(mc.tradesTotal.WithLabelValues("lowvol", "buy", "rebalance")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.tradesTotal.WithLabelValues("lowvol", "sell", "hard_stop")))
	assert.Equal(t, 15000.0, testutil.ToFloat64(mc.tradeNotional.WithLabelValues("lowvol", "buy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.stopsTriggered.WithLabelValues("lowvol", "hard_stop")))
	assert.Equal(t, 3.0, testutil.ToFloat64(mc.ordersRejected.WithLabelValues("lowvol")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.riskAlerts.WithLabelValues("lowvol", "drawdown", "warning")))
	assert.Equal(t, 2.0, testutil.ToFloat64(mc.periodsTotal.WithLabelValues("lowvol")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.stagePeriods.WithLabelValues("lowvol", "main_trend")))
	assert.Equal(t, 1, testutil.CollectAndCount(mc.runDuration))
}

func TestMetricsCollectorGauges(t *testing.T) {
	mc := NewMetricsCollector(prometheus.NewRegistry())

	mc.ObserveProgress("lowvol", 1_050_000, -0.03, 8)
	mc.SetRunSummary("lowvol", 0.12, 1.4, -0.08)
	mc.SetDBConnections(5)
	mc.AddWSClient()
	mc.AddWSClient()
	mc.RemoveWSClient()

	assert.Equal(t, 1_050_000.0, testutil.ToFloat64(mc.runEquity.WithLabelValues("lowvol")))
	assert.Equal(t, -0.03, testutil.ToFloat64(mc.runDrawdown.WithLabelValues("lowvol")))
	assert.Equal(t, 8.0, testutil.ToFloat64(mc.runPositions.WithLabelValues("lowvol")))
	assert.Equal(t, 0.12, testutil.ToFloat64(mc.totalReturn.WithLabelValues("lowvol")))
	assert.Equal(t, 1.4, testutil.ToFloat64(mc.sharpeRatio.WithLabelValues("lowvol")))
	assert.Equal(t, -0.08, testutil.ToFloat64(mc.maxDrawdown.WithLabelValues("lowvol")))
	assert.Equal(t, 5.0, testutil.ToFloat64(mc.dbConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.wsClients))
}

// 独立 registry 下可重复构建, 不会因重复注册 panic
func TestMetricsCollectorIsolatedRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetricsCollector(prometheus.NewRegistry())
		NewMetricsCollector(prometheus.NewRegistry())
	})
}

func TestAlertManagerCollapsesRepeats(t *testing.T) {
	am := NewAlertManager(nil)
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	first := am.Record("run-1", "lowvol", date, risk.Alert{
		Type:      "drawdown",
		Severity:  risk.SeverityWarning,
		Message:   "回撤超过警戒线",
		Value:     -0.16,
		Threshold: 0.15,
	})
	repeat := am.Record("run-1", "lowvol", date.AddDate(0, 0, 1), risk.Alert{
		Type:      "drawdown",
		Severity:  risk.SeverityWarning,
		Message:   "回撤超过警戒线",
		Value:     -0.18,
		Threshold: 0.15,
	})

	assert.Equal(t, first.ID, repeat.ID)
	assert.Equal(t, 2, repeat.Count)
	assert.Equal(t, -0.18, repeat.Value)
	assert.Equal(t, 1, am.ActiveCount())

	// 不同级别视为新告警
	am.Record("run-1", "lowvol", date, risk.Alert{
		Type:     "drawdown",
		Severity: risk.SeverityCritical,
		Message:  "回撤触发强制清仓",
	})
	assert.Equal(t, 2, am.ActiveCount())
	assert.Len(t, am.List("", ""), 2)
	assert.Len(t, am.List(AlertStatusActive, "run-1"), 2)
	assert.Empty(t, am.List(AlertStatusActive, "run-2"))
}

func TestAlertManagerResolve(t *testing.T) {
	am := NewAlertManager(nil)
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	alert := am.Record("run-1", "lowvol", date, risk.Alert{
		Type:     "concentration",
		Severity: risk.SeverityWarning,
		Message:  "持仓集中度过高",
	})

	require.NoError(t, am.Resolve(alert.ID, "ops"))
	assert.Equal(t, 0, am.ActiveCount())

	resolved, err := am.Get(alert.ID)
	require.NoError(t, err)
	assert.Equal(t, AlertStatusResolved, resolved.Status)
	assert.Equal(t, "ops", resolved.ResolvedBy)
	require.NotNil(t, resolved.ResolvedAt)

	assert.Error(t, am.Resolve(alert.ID, "ops"))
	assert.Error(t, am.Resolve("missing", "ops"))

	// 已处理后同类告警重新触发, 生成新条目
	fresh := am.Record("run-1", "lowvol", date, risk.Alert{
		Type:     "concentration",
		Severity: risk.SeverityWarning,
		Message:  "持仓集中度过高",
	})
	assert.NotEqual(t, alert.ID, fresh.ID)
	assert.Equal(t, 1, am.ActiveCount())
}

func TestAlertManagerResolveRunAndCleanup(t *testing.T) {
	am := NewAlertManager(nil)
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	am.Record("run-1", "lowvol", date, risk.Alert{Type: "drawdown", Severity: risk.SeverityWarning})
	am.Record("run-1", "lowvol", date, risk.Alert{Type: "turnover", Severity: risk.SeverityWarning})
	am.Record("run-2", "momentum", date, risk.Alert{Type: "drawdown", Severity: risk.SeverityWarning})

	assert.Equal(t, 2, am.ResolveRun("run-1", "scheduler"))
	assert.Equal(t, 1, am.ActiveCount())

	assert.Equal(t, 2, am.CleanupResolved(0))
	assert.Len(t, am.List("", ""), 1)
}

func TestAuditLoggerBoundedNewestFirst(t *testing.T) {
	al := NewAuditLogger(3, nil)

	for _, action := range []string{"create", "start", "delete", "resolve"} {
		al.Log(AuditLog{UserID: "admin", Action: action, Resource: "runs"})
	}

	assert.Equal(t, 3, al.Len())
	logs := al.GetLogs(AuditFilter{})
	require.Len(t, logs, 3)
	assert.Equal(t, "resolve", logs[0].Action)
	assert.Equal(t, "delete", logs[1].Action)
	assert.Equal(t, "start", logs[2].Action)
}

func TestAuditLoggerFilters(t *testing.T) {
	al := NewAuditLogger(100, nil)

	al.Log(AuditLog{UserID: "admin", Action: "create", Resource: "runs", Result: AuditResultSuccess})
	al.Log(AuditLog{UserID: "viewer", Action: "create", Resource: "runs", Result: AuditResultFailure})
	al.Log(AuditLog{UserID: "admin", Action: "resolve", Resource: "alerts"})

	assert.Len(t, al.GetLogs(AuditFilter{UserID: "admin"}), 2)
	assert.Len(t, al.GetLogs(AuditFilter{Action: "CREATE"}), 2)
	assert.Len(t, al.GetLogs(AuditFilter{Resource: "alerts"}), 1)
	assert.Len(t, al.GetLogs(AuditFilter{Limit: 1}), 1)

	defaulted := al.GetLogs(AuditFilter{Resource: "alerts"})[0]
	assert.Equal(t, AuditResultSuccess, defaulted.Result)
	assert.False(t, defaulted.Timestamp.IsZero())
	assert.NotEmpty(t, defaulted.ID)
}

func TestHealthCheckerAggregation(t *testing.T) {
	hc := NewHealthChecker()
	hc.Register("database", "结果仓库")
	hc.Register("cache", "行情缓存")

	report := hc.Report()
	assert.Equal(t, HealthStatusHealthy, report.Status)
	require.Len(t, report.Checks, 2)
	assert.Equal(t, "cache", report.Checks[0].Name)

	hc.Update("cache", HealthStatusDegraded, "连接超时后恢复")
	assert.Equal(t, HealthStatusDegraded, hc.Report().Status)

	hc.Update("database", HealthStatusUnhealthy, "connection refused")
	assert.Equal(t, HealthStatusUnhealthy, hc.Report().Status)

	// 未注册的依赖更新被忽略
	hc.Update("queue", HealthStatusUnhealthy, "")
	assert.Len(t, hc.Report().Checks, 2)
}
