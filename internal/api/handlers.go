package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"quantbt/internal/backtest"
	"quantbt/internal/errors"
	"quantbt/internal/monitor"
)

const dateLayout = "2006-01-02"

// resultCacheTTL bounds how long finished results stay in cache.
const resultCacheTTL = 24 * time.Hour

// @Summary List strategies
// @Description List all catalog strategies
// @Tags Strategies
// @Produce json
// @Success 200 {object} Response{data=[]StrategyInfo}
// @Security BearerAuth
// @Router /strategies [get]
func (s *Server) listStrategies(c *gin.Context) {
	infos := make([]StrategyInfo, 0, len(s.catalog))
	for _, cfg := range s.catalog {
		infos = append(infos, newStrategyInfo(cfg))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	c.JSON(http.StatusOK, Response{Success: true, Data: infos})
}

// @Summary Get strategy
// @Description Get one catalog strategy's tunable surface
// @Tags Strategies
// @Produce json
// @Param name path string true "Strategy name"
// @Success 200 {object} Response{data=StrategyDetail}
// @Failure 404 {object} Response
// @Security BearerAuth
// @Router /strategies/{name} [get]
func (s *Server) getStrategy(c *gin.Context) {
	name := c.Param("name")
	cfg, ok := s.catalog[name]
	if !ok {
		c.Error(errors.NewNotFoundError("strategy " + name))
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: newStrategyDetail(cfg)})
}

// @Summary Launch a backtest run
// @Description Start an asynchronous backtest for a catalog strategy
// @Tags Runs
// @Accept json
// @Produce json
// @Param request body RunRequest true "Run parameters"
// @Success 202 {object} Response{data=RunAccepted}
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Security BearerAuth
// @Router /runs [post]
func (s *Server) createRun(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	base, ok := s.catalog[req.Strategy]
	if !ok {
		c.Error(errors.NewNotFoundError("strategy " + req.Strategy))
		return
	}

	// 覆盖项作用在副本上, 目录里的配置保持不变
	cfg := cloneStrategyConfig(base)
	if req.InitialCapital > 0 {
		cfg.Backtest.InitialCapital = req.InitialCapital
	}
	if req.RebalanceEvery > 0 {
		cfg.Backtest.RebalanceEvery = req.RebalanceEvery
	}
	if req.TopN > 0 {
		cfg.Selection.TopN = req.TopN
	}
	if req.RegimeEnabled != nil {
		cfg.Regime.Enabled = *req.RegimeEnabled
	}
	if err := cfg.Validate(); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	start, end, err := parseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		c.Error(err)
		return
	}

	runID, err := s.LaunchRun(cfg, start, end)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, Response{
		Success: true,
		Data: RunAccepted{
			RunID:    runID,
			Strategy: cfg.Name,
			Status:   RunStatusRunning,
		},
	})
}

// @Summary List persisted runs
// @Description List run summaries from the results warehouse, newest first
// @Tags Runs
// @Produce json
// @Param strategy query string false "Filter by strategy name"
// @Param limit query int false "Page size (default 50, max 200)"
// @Param offset query int false "Page offset"
// @Success 200 {object} Response
// @Security BearerAuth
// @Router /runs [get]
func (s *Server) listRuns(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, Response{
			Success: false,
			Error:   "results warehouse is not configured",
		})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	summaries, err := s.store.ListRuns(c.Request.Context(), c.Query("strategy"), limit, offset)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: summaries})
}

// @Summary List active runs
// @Description List in-flight runs with live progress
// @Tags Runs
// @Produce json
// @Success 200 {object} Response{data=[]RunState}
// @Security BearerAuth
// @Router /runs/active [get]
func (s *Server) activeRuns(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Success: true, Data: s.runs.Active()})
}

// @Summary Get run
// @Description Get live state for a running run, or the full result once finished
// @Tags Runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Security BearerAuth
// @Router /runs/{id} [get]
func (s *Server) getRun(c *gin.Context) {
	runID := c.Param("id")

	state, regErr := s.runs.Get(runID)
	if regErr == nil && state.Status == RunStatusRunning {
		c.JSON(http.StatusOK, Response{Success: true, Data: state})
		return
	}

	ctx := c.Request.Context()
	var cached backtest.Result
	if err := s.cache.GetResult(ctx, runID, &cached); err == nil {
		c.JSON(http.StatusOK, Response{Success: true, Data: &cached})
		return
	}

	if s.store != nil {
		result, err := s.store.GetResult(ctx, runID)
		if err == nil {
			if cerr := s.cache.SetResult(ctx, runID, result, resultCacheTTL); cerr != nil {
				s.log.Warn("缓存运行结果失败", "run_id", runID, "error", cerr)
			}
			c.JSON(http.StatusOK, Response{Success: true, Data: result})
			return
		}
		if appErr := errors.GetAppError(err); appErr == nil || appErr.Code != errors.ErrCodeRunNotFound {
			c.Error(err)
			return
		}
	}

	// 失败或刚取消的运行没有入库结果, 退回注册表状态
	if regErr == nil {
		c.JSON(http.StatusOK, Response{Success: true, Data: state})
		return
	}
	c.Error(errors.NewAppError(errors.ErrCodeRunNotFound, "run "+runID+" not found", nil))
}

// @Summary Cancel or delete run
// @Description Cancel an in-flight run, or delete a persisted one
// @Tags Runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Security BearerAuth
// @Router /runs/{id} [delete]
func (s *Server) deleteRun(c *gin.Context) {
	runID := c.Param("id")

	if s.runs.Running(runID) {
		if err := s.runs.Cancel(runID); err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, Response{Success: true, Message: "run cancellation requested"})
		return
	}

	ctx := c.Request.Context()
	removed := s.runs.Remove(runID)
	if err := s.cache.DeleteResult(ctx, runID); err != nil {
		s.log.Warn("缓存删除失败", "run_id", runID, "error", err)
	}

	if s.store != nil {
		err := s.store.DeleteRun(ctx, runID)
		if err == nil {
			removed = true
		} else if appErr := errors.GetAppError(err); appErr == nil || appErr.Code != errors.ErrCodeRunNotFound {
			c.Error(err)
			return
		}
	}

	if !removed {
		c.Error(errors.NewAppError(errors.ErrCodeRunNotFound, "run "+runID+" not found", nil))
		return
	}
	s.alerts.ResolveRun(runID, "system")
	c.JSON(http.StatusOK, Response{Success: true, Message: "run deleted"})
}

// @Summary Get run trades
// @Description Get one run's trade log in execution order
// @Tags Runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Security BearerAuth
// @Router /runs/{id}/trades [get]
func (s *Server) getRunTrades(c *gin.Context) {
	runID := c.Param("id")
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, Response{
			Success: false,
			Error:   "results warehouse is not configured",
		})
		return
	}

	ctx := c.Request.Context()
	ok, err := s.store.HasRun(ctx, runID)
	if err != nil {
		c.Error(err)
		return
	}
	if !ok {
		c.Error(errors.NewAppError(errors.ErrCodeRunNotFound, "run "+runID+" not found", nil))
		return
	}

	trades, err := s.store.GetTrades(ctx, runID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: trades})
}

// @Summary Get run equity curve
// @Description Get one run's equity curve in date order
// @Tags Runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Security BearerAuth
// @Router /runs/{id}/equity [get]
func (s *Server) getRunEquity(c *gin.Context) {
	runID := c.Param("id")
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, Response{
			Success: false,
			Error:   "results warehouse is not configured",
		})
		return
	}

	ctx := c.Request.Context()
	ok, err := s.store.HasRun(ctx, runID)
	if err != nil {
		c.Error(err)
		return
	}
	if !ok {
		c.Error(errors.NewAppError(errors.ErrCodeRunNotFound, "run "+runID+" not found", nil))
		return
	}

	curve, err := s.store.GetEquityCurve(ctx, runID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: curve})
}

// @Summary List alerts
// @Description List risk alerts surfaced by runs
// @Tags Alerts
// @Produce json
// @Param status query string false "Filter by status (active, resolved)"
// @Param run_id query string false "Filter by run ID"
// @Success 200 {object} Response
// @Security BearerAuth
// @Router /alerts [get]
func (s *Server) listAlerts(c *gin.Context) {
	status := monitor.AlertStatus(c.Query("status"))
	switch status {
	case "", monitor.AlertStatusActive, monitor.AlertStatusResolved:
	default:
		c.Error(errors.NewInvalidInputError("invalid alert status: " + string(status)))
		return
	}

	alerts := s.alerts.List(status, c.Query("run_id"))
	c.JSON(http.StatusOK, Response{Success: true, Data: alerts})
}

// @Summary Resolve alert
// @Description Mark one alert as handled
// @Tags Alerts
// @Accept json
// @Produce json
// @Param id path string true "Alert ID"
// @Param request body ResolveAlertRequest false "Resolver"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Security BearerAuth
// @Router /alerts/{id}/resolve [post]
func (s *Server) resolveAlert(c *gin.Context) {
	id := c.Param("id")

	var req ResolveAlertRequest
	_ = c.ShouldBindJSON(&req) // body可省略
	resolvedBy := req.ResolvedBy
	if resolvedBy == "" {
		resolvedBy = c.GetString("username")
	}
	if resolvedBy == "" {
		resolvedBy = "operator"
	}

	if err := s.alerts.Resolve(id, resolvedBy); err != nil {
		c.Error(err)
		return
	}

	alert, err := s.alerts.Get(id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: alert})
}

// @Summary Get audit logs
// @Description Query the in-memory audit trail, newest first
// @Tags Audit
// @Produce json
// @Param user_id query string false "Filter by user"
// @Param action query string false "Filter by action"
// @Param resource query string false "Filter by resource"
// @Param since query string false "Only entries after this time (2006-01-02)"
// @Param limit query int false "Maximum entries"
// @Success 200 {object} Response
// @Security BearerAuth
// @Router /audit [get]
func (s *Server) auditLogs(c *gin.Context) {
	filter := monitor.AuditFilter{
		UserID:   c.Query("user_id"),
		Action:   c.Query("action"),
		Resource: c.Query("resource"),
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(dateLayout, since)
		if err != nil {
			c.Error(errors.NewInvalidInputError("invalid since date: " + since))
			return
		}
		filter.Since = t
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			c.Error(errors.NewInvalidInputError("invalid limit: " + limit))
			return
		}
		filter.Limit = n
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: s.audit.GetLogs(filter)})
}

// @Summary Health check
// @Description Probe backing services and report aggregate health
// @Tags Ops
// @Produce json
// @Success 200 {object} monitor.HealthReport
// @Failure 503 {object} monitor.HealthReport
// @Router /health [get]
func (s *Server) health(c *gin.Context) {
	ctx := c.Request.Context()

	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			s.checker.Update("database", monitor.HealthStatusUnhealthy, err.Error())
		} else {
			s.checker.Update("database", monitor.HealthStatusHealthy, "")
		}
	}
	if probe, ok := s.cache.(interface{ HealthCheck(ctx context.Context) error }); ok {
		if err := probe.HealthCheck(ctx); err != nil {
			s.checker.Update("cache", monitor.HealthStatusDegraded, err.Error())
		} else {
			s.checker.Update("cache", monitor.HealthStatusHealthy, "")
		}
	}

	report := s.checker.Report()
	status := http.StatusOK
	if report.Status == monitor.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// parseDateRange parses optional inclusive run bounds. Zero times mean
// the dataset calendar edge.
func parseDateRange(startDate, endDate string) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error

	if startDate != "" {
		start, err = time.Parse(dateLayout, startDate)
		if err != nil {
			return time.Time{}, time.Time{}, errors.NewInvalidInputError("invalid start_date: " + startDate)
		}
	}
	if endDate != "" {
		end, err = time.Parse(dateLayout, endDate)
		if err != nil {
			return time.Time{}, time.Time{}, errors.NewInvalidInputError("invalid end_date: " + endDate)
		}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return time.Time{}, time.Time{}, errors.NewInvalidInputError("end_date is before start_date")
	}
	return start, end, nil
}
