package monitor

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quantbt/internal/logger"
)

// AuditResult marks whether an audited action succeeded.
type AuditResult string

const (
	AuditResultSuccess AuditResult = "success"
	AuditResultFailure AuditResult = "failure"
)

// AuditLog is one recorded mutating action against the service.
type AuditLog struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	UserID     string                 `json:"user_id"`
	Action     string                 `json:"action"`
	Resource   string                 `json:"resource"`
	ResourceID string                 `json:"resource_id,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	IPAddress  string                 `json:"ip_address,omitempty"`
	Result     AuditResult            `json:"result"`
	Duration   time.Duration          `json:"duration"`
}

// AuditFilter narrows GetLogs results. Zero values match everything.
type AuditFilter struct {
	UserID   string
	Action   string
	Resource string
	Since    time.Time
	Limit    int
}

// AuditLogger keeps a bounded in-memory trail of mutating API actions,
// newest first. Entries beyond maxLogs fall off the tail.
type AuditLogger struct {
	mu      sync.RWMutex
	logs    []*AuditLog
	maxLogs int
	log     logger.Logger
}

// NewAuditLogger creates an audit trail holding at most maxLogs entries.
func NewAuditLogger(maxLogs int, log logger.Logger) *AuditLogger {
	if maxLogs <= 0 {
		maxLogs = 10000
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &AuditLogger{
		logs:    make([]*AuditLog, 0),
		maxLogs: maxLogs,
		log:     log,
	}
}

// Log records one audited action.
func (al *AuditLogger) Log(entry AuditLog) *AuditLog {
	al.mu.Lock()
	defer al.mu.Unlock()

	entry.ID = uuid.New().String()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.Result == "" {
		entry.Result = AuditResultSuccess
	}

	stored := entry
	al.logs = append([]*AuditLog{&stored}, al.logs...)
	if len(al.logs) > al.maxLogs {
		al.logs = al.logs[:al.maxLogs]
	}

	al.log.Debug("审计记录",
		"user", entry.UserID,
		"action", entry.Action,
		"resource", entry.Resource,
		"result", string(entry.Result))
	return &stored
}

// GetLogs returns entries matching the filter, newest first.
func (al *AuditLogger) GetLogs(filter AuditFilter) []*AuditLog {
	al.mu.RLock()
	defer al.mu.RUnlock()

	result := make([]*AuditLog, 0)
	for _, entry := range al.logs {
		if filter.UserID != "" && entry.UserID != filter.UserID {
			continue
		}
		if filter.Action != "" && !strings.EqualFold(entry.Action, filter.Action) {
			continue
		}
		if filter.Resource != "" && entry.Resource != filter.Resource {
			continue
		}
		if !filter.Since.IsZero() && entry.Timestamp.Before(filter.Since) {
			continue
		}
		copied := *entry
		result = append(result, &copied)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result
}

// Len returns the number of retained entries.
func (al *AuditLogger) Len() int {
	al.mu.RLock()
	defer al.mu.RUnlock()
	return len(al.logs)
}
