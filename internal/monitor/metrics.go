package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcome label values.
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// MetricsCollector owns every Prometheus series the service exports:
// run lifecycle, simulated trading activity, risk events and the
// serving-layer plumbing (API, WebSocket, database, scheduler).
type MetricsCollector struct {
	// 回测运行
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	periodsTotal  *prometheus.CounterVec
	stagePeriods  *prometheus.CounterVec

	// 运行中与最近一次完成的组合状态
	runEquity    *prometheus.GaugeVec
	runDrawdown  *prometheus.GaugeVec
	runPositions *prometheus.GaugeVec
	totalReturn  *prometheus.GaugeVec
	sharpeRatio  *prometheus.GaugeVec
	maxDrawdown  *prometheus.GaugeVec

	// 模拟成交
	tradesTotal   *prometheus.CounterVec
	tradeNotional *prometheus.CounterVec

	// 风控事件
	stopsTriggered *prometheus.CounterVec
	ordersRejected *prometheus.CounterVec
	riskAlerts     *prometheus.CounterVec

	// 服务层
	apiRequests     *prometheus.CounterVec
	apiResponseTime *prometheus.HistogramVec
	wsClients       prometheus.Gauge
	dbQueryTime     *prometheus.HistogramVec
	dbConnections   prometheus.Gauge
	scheduledRuns   *prometheus.CounterVec
}

// NewMetricsCollector registers the full series set on reg. A nil reg
// falls back to the default registry; tests pass their own so repeated
// construction never panics on duplicate registration.
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &MetricsCollector{
		runsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_runs_started_total",
			Help: "Total number of backtest runs started",
		}, []string{"strategy"}),

		runsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_runs_completed_total",
			Help: "Total number of backtest runs finished, by outcome",
		}, []string{"strategy", "status"}),

		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "backtest_run_duration_seconds",
			Help:    "Wall-clock duration of backtest runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"strategy"}),

		periodsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_periods_total",
			Help: "Total number of simulated trading periods",
		}, []string{"strategy"}),

		stagePeriods: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_stage_periods_total",
			Help: "Simulated periods spent in each market stage",
		}, []string{"strategy", "stage"}),

		runEquity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "backtest_run_equity",
			Help: "Current portfolio equity of the running backtest",
		}, []string{"strategy"}),

		runDrawdown: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "backtest_run_drawdown",
			Help: "Current drawdown of the running backtest",
		}, []string{"strategy"}),

		runPositions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "backtest_run_positions",
			Help: "Open position count of the running backtest",
		}, []string{"strategy"}),

		totalReturn: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "backtest_total_return",
			Help: "Total return of the most recently completed run",
		}, []string{"strategy"}),

		sharpeRatio: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "backtest_sharpe_ratio",
			Help: "Sharpe ratio of the most recently completed run",
		}, []string{"strategy"}),

		maxDrawdown: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "backtest_max_drawdown",
			Help: "Maximum drawdown of the most recently completed run",
		}, []string{"strategy"}),

		tradesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_trades_total",
			Help: "Total number of simulated fills",
		}, []string{"strategy", "side", "reason"}),

		tradeNotional: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_trade_notional_total",
			Help: "Total simulated fill notional",
		}, []string{"strategy", "side"}),

		stopsTriggered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_stops_triggered_total",
			Help: "Mandatory exits by stop rule",
		}, []string{"strategy", "rule"}),

		ordersRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_orders_rejected_total",
			Help: "Orders refused by the pre-trade risk gate",
		}, []string{"strategy"}),

		riskAlerts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_risk_alerts_total",
			Help: "Post-trade risk alerts emitted",
		}, []string{"strategy", "type", "severity"}),

		apiRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		}, []string{"endpoint", "method", "status"}),

		apiResponseTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_response_time_seconds",
			Help:    "API response time in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint", "method"}),

		wsClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "websocket_clients",
			Help: "Connected WebSocket progress subscribers",
		}),

		dbQueryTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "database_query_time_seconds",
			Help:    "Warehouse query time in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"query_type"}),

		dbConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "database_connections",
			Help: "Open warehouse connections",
		}),

		scheduledRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduled_runs_total",
			Help: "Scheduler-launched runs, by outcome",
		}, []string{"job", "status"}),
	}
}

// RecordRunStarted marks a run launch.
func (mc *MetricsCollector) RecordRunStarted(strategy string) {
	mc.runsStarted.WithLabelValues(strategy).Inc()
}

// RecordRunCompleted marks a finished run with its outcome and duration.
func (mc *MetricsCollector) RecordRunCompleted(strategy, status string, duration time.Duration) {
	mc.runsCompleted.WithLabelValues(strategy, status).Inc()
	mc.runDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// SetRunSummary publishes headline metrics of the latest completed run.
func (mc *MetricsCollector) SetRunSummary(strategy string, totalReturn, sharpe, maxDrawdown float64) {
	mc.totalReturn.WithLabelValues(strategy).Set(totalReturn)
	mc.sharpeRatio.WithLabelValues(strategy).Set(sharpe)
	mc.maxDrawdown.WithLabelValues(strategy).Set(maxDrawdown)
}

// RecordPeriod counts one simulated period and its market stage.
func (mc *MetricsCollector) RecordPeriod(strategy, stage string) {
	mc.periodsTotal.WithLabelValues(strategy).Inc()
	if stage != "" {
		mc.stagePeriods.WithLabelValues(strategy, stage).Inc()
	}
}

// ObserveProgress publishes the live portfolio state of a running backtest.
func (mc *MetricsCollector) ObserveProgress(strategy string, equity, drawdown float64, positions int) {
	mc.runEquity.WithLabelValues(strategy).Set(equity)
	mc.runDrawdown.WithLabelValues(strategy).Set(drawdown)
	mc.runPositions.WithLabelValues(strategy).Set(float64(positions))
}

// RecordTrade counts one simulated fill.
func (mc *MetricsCollector) RecordTrade(strategy, side, reason string, notional float64) {
	mc.tradesTotal.WithLabelValues(strategy, side, reason).Inc()
	mc.tradeNotional.WithLabelValues(strategy, side).Add(notional)
}

// RecordStop counts one mandatory exit.
func (mc *MetricsCollector) RecordStop(strategy, rule string) {
	mc.stopsTriggered.WithLabelValues(strategy, rule).Inc()
}

// RecordRejections counts pre-trade gate refusals.
func (mc *MetricsCollector) RecordRejections(strategy string, count int) {
	if count > 0 {
		mc.ordersRejected.WithLabelValues(strategy).Add(float64(count))
	}
}

// RecordRiskAlert counts one post-trade alert.
func (mc *MetricsCollector) RecordRiskAlert(strategy, alertType, severity string) {
	mc.riskAlerts.WithLabelValues(strategy, alertType, severity).Inc()
}

// RecordAPIRequest records one served API request.
func (mc *MetricsCollector) RecordAPIRequest(endpoint, method, status string) {
	mc.apiRequests.WithLabelValues(endpoint, method, status).Inc()
}

// RecordAPIResponseTime records one request's latency.
func (mc *MetricsCollector) RecordAPIResponseTime(endpoint, method string, duration time.Duration) {
	mc.apiResponseTime.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// AddWSClient and RemoveWSClient track progress-stream subscribers.
func (mc *MetricsCollector) AddWSClient()    { mc.wsClients.Inc() }
func (mc *MetricsCollector) RemoveWSClient() { mc.wsClients.Dec() }

// RecordDBQuery records one warehouse query's latency.
func (mc *MetricsCollector) RecordDBQuery(queryType string, duration time.Duration) {
	mc.dbQueryTime.WithLabelValues(queryType).Observe(duration.Seconds())
}

// SetDBConnections publishes the warehouse pool's open connection count.
func (mc *MetricsCollector) SetDBConnections(count int) {
	mc.dbConnections.Set(float64(count))
}

// RecordScheduledRun counts one scheduler-launched run by outcome.
func (mc *MetricsCollector) RecordScheduledRun(job, status string) {
	mc.scheduledRuns.WithLabelValues(job, status).Inc()
}
