package monitor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"quantbt/internal/errors"
	"quantbt/internal/logger"
	"quantbt/internal/risk"
)

// AlertStatus is the lifecycle state of a surfaced alert.
type AlertStatus string

const (
	AlertStatusActive   AlertStatus = "active"
	AlertStatusResolved AlertStatus = "resolved"
)

// Alert is a risk alert surfaced to operators, tied to the run that
// produced it.
type Alert struct {
	ID         string      `json:"id"`
	RunID      string      `json:"run_id"`
	Strategy   string      `json:"strategy"`
	Type       string      `json:"type"`
	Severity   string      `json:"severity"`
	Message    string      `json:"message"`
	Value      float64     `json:"value"`
	Threshold  float64     `json:"threshold"`
	Date       time.Time   `json:"date"`
	Count      int         `json:"count"`
	Status     AlertStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
	ResolvedBy string      `json:"resolved_by,omitempty"`
}

// AlertManager keeps the alerts emitted by backtest runs. A condition
// that keeps firing period after period collapses into one active
// alert with a growing count instead of flooding the list.
type AlertManager struct {
	mu     sync.RWMutex
	alerts map[string]*Alert
	active map[string]string // runID|type|severity -> alert ID
	log    logger.Logger
}

// NewAlertManager creates an alert manager.
func NewAlertManager(log logger.Logger) *AlertManager {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &AlertManager{
		alerts: make(map[string]*Alert),
		active: make(map[string]string),
		log:    log,
	}
}

// Record surfaces one risk alert from a run. Repeats of a still-active
// condition update the existing entry and bump its count.
func (am *AlertManager) Record(runID, strategy string, date time.Time, ra risk.Alert) *Alert {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := time.Now()
	key := runID + "|" + ra.Type + "|" + ra.Severity
	if id, ok := am.active[key]; ok {
		alert := am.alerts[id]
		alert.Message = ra.Message
		alert.Value = ra.Value
		alert.Threshold = ra.Threshold
		alert.Date = date
		alert.Count++
		alert.UpdatedAt = now
		return alert
	}

	alert := &Alert{
		ID:        uuid.New().String(),
		RunID:     runID,
		Strategy:  strategy,
		Type:      ra.Type,
		Severity:  ra.Severity,
		Message:   ra.Message,
		Value:     ra.Value,
		Threshold: ra.Threshold,
		Date:      date,
		Count:     1,
		Status:    AlertStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	am.alerts[alert.ID] = alert
	am.active[key] = alert.ID

	fields := []interface{}{
		"alert_id", alert.ID,
		"run_id", runID,
		"strategy", strategy,
		"type", ra.Type,
		"value", fmt.Sprintf("%.4f", ra.Value),
		"threshold", fmt.Sprintf("%.4f", ra.Threshold),
	}
	switch ra.Severity {
	case risk.SeverityCritical:
		am.log.Error("风险告警: "+ra.Message, fields...)
	case risk.SeverityWarning:
		am.log.Warn("风险告警: "+ra.Message, fields...)
	default:
		am.log.Info("风险告警: "+ra.Message, fields...)
	}
	return alert
}

// Get returns one alert by ID.
func (am *AlertManager) Get(id string) (*Alert, error) {
	am.mu.RLock()
	defer am.mu.RUnlock()

	alert, ok := am.alerts[id]
	if !ok {
		return nil, errors.NewNotFoundError("alert " + id)
	}
	copied := *alert
	return &copied, nil
}

// List returns alerts, optionally filtered by status and run, newest
// first.
func (am *AlertManager) List(status AlertStatus, runID string) []*Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	result := make([]*Alert, 0, len(am.alerts))
	for _, alert := range am.alerts {
		if status != "" && alert.Status != status {
			continue
		}
		if runID != "" && alert.RunID != runID {
			continue
		}
		copied := *alert
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// ActiveCount returns the number of unresolved alerts.
func (am *AlertManager) ActiveCount() int {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return len(am.active)
}

// Resolve marks an alert handled. Resolving twice is an error.
func (am *AlertManager) Resolve(id, resolvedBy string) error {
	am.mu.Lock()
	defer am.mu.Unlock()

	alert, ok := am.alerts[id]
	if !ok {
		return errors.NewNotFoundError("alert " + id)
	}
	if alert.Status == AlertStatusResolved {
		return errors.NewInvalidInputError("告警已处理, 不能重复处理")
	}

	now := time.Now()
	alert.Status = AlertStatusResolved
	alert.ResolvedAt = &now
	alert.ResolvedBy = resolvedBy
	alert.UpdatedAt = now
	delete(am.active, alert.RunID+"|"+alert.Type+"|"+alert.Severity)

	am.log.Info("告警已处理", "alert_id", id, "resolved_by", resolvedBy)
	return nil
}

// ResolveRun resolves every active alert of one run, returning the
// count. Used when a run's results are archived or discarded.
func (am *AlertManager) ResolveRun(runID, resolvedBy string) int {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := time.Now()
	resolved := 0
	for key, id := range am.active {
		alert := am.alerts[id]
		if alert.RunID != runID {
			continue
		}
		alert.Status = AlertStatusResolved
		alert.ResolvedAt = &now
		alert.ResolvedBy = resolvedBy
		alert.UpdatedAt = now
		delete(am.active, key)
		resolved++
	}
	if resolved > 0 {
		am.log.Info("运行告警批量处理", "run_id", runID, "count", resolved)
	}
	return resolved
}

// CleanupResolved drops resolved alerts older than maxAge and returns
// how many were removed.
func (am *AlertManager) CleanupResolved(maxAge time.Duration) int {
	am.mu.Lock()
	defer am.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, alert := range am.alerts {
		if alert.Status == AlertStatusResolved && alert.ResolvedAt != nil && alert.ResolvedAt.Before(cutoff) {
			delete(am.alerts, id)
			removed++
		}
	}
	if removed > 0 {
		am.log.Info("清理历史告警", "count", removed)
	}
	return removed
}
