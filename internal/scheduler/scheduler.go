package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"quantbt/internal/cache"
	"quantbt/internal/config"
	"quantbt/internal/logger"
	"quantbt/internal/monitor"
)

// LaunchFunc starts a backtest for a strategy and returns its run ID.
// Zero bounds mean the dataset calendar edges.
type LaunchFunc func(strategy *config.StrategyConfig, start, end time.Time) (string, error)

// Scheduler launches recurring backtests on cron schedules. A cache
// lock keyed by job name keeps multiple replicas from double-launching
// the same job.
type Scheduler struct {
	cfg     config.SchedulerConfig
	launch  LaunchFunc
	locks   cache.Cacher
	metrics *monitor.MetricsCollector
	log     logger.Logger
	cron    *cron.Cron
}

// New creates a scheduler over the configured jobs. Schedules use
// six-field cron expressions with a leading seconds field.
func New(cfg config.SchedulerConfig, launch LaunchFunc, locks cache.Cacher, metrics *monitor.MetricsCollector, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Scheduler{
		cfg:     cfg,
		launch:  launch,
		locks:   locks,
		metrics: metrics,
		log:     log.WithField("module", "scheduler"),
		cron:    cron.New(cron.WithSeconds()),
	}
}

// Start registers all jobs and starts the cron loop. Jobs with invalid
// schedules are logged and skipped, the rest still run.
func (s *Scheduler) Start() {
	for _, job := range s.cfg.Jobs {
		if _, err := s.cron.AddFunc(job.Schedule, func() { s.runJob(job) }); err != nil {
			s.log.Error("定时任务注册失败", "job", job.Name, "schedule", job.Schedule, "error", err)
			continue
		}
		s.log.Info("定时任务已注册", "job", job.Name, "schedule", job.Schedule, "strategy", job.Strategy)
	}
	s.cron.Start()
}

// Stop stops the cron loop and waits for in-flight job callbacks.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("定时任务已停止")
}

// Jobs returns the number of configured jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cfg.Jobs)
}

// runJob launches one scheduled backtest. The lock covers the launch
// window only; the run itself proceeds asynchronously.
func (s *Scheduler) runJob(job config.ScheduledJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	lockName := "scheduled:" + job.Name
	ok, err := s.locks.AcquireLock(ctx, lockName, 10*time.Minute)
	if err != nil {
		s.metrics.RecordScheduledRun(job.Name, "error")
		s.log.Error("定时任务抢锁失败", "job", job.Name, "error", err)
		return
	}
	if !ok {
		s.metrics.RecordScheduledRun(job.Name, "skipped")
		s.log.Warn("定时任务跳过, 锁被其他副本持有", "job", job.Name)
		return
	}
	defer s.locks.ReleaseLock(context.Background(), lockName)

	strategy, err := config.LoadStrategyConfig(job.Strategy)
	if err != nil {
		s.metrics.RecordScheduledRun(job.Name, "error")
		s.log.Error("定时任务策略配置加载失败", "job", job.Name, "file", job.Strategy, "error", err)
		return
	}

	runID, err := s.launch(strategy, time.Time{}, time.Time{})
	if err != nil {
		s.metrics.RecordScheduledRun(job.Name, "error")
		s.log.Error("定时回测启动失败", "job", job.Name, "strategy", strategy.Name, "error", err)
		return
	}

	s.metrics.RecordScheduledRun(job.Name, "started")
	s.log.Info("定时回测已启动", "job", job.Name, "strategy", strategy.Name, "run_id", runID)
}
