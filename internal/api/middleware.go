package api

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"quantbt/internal/config"
	"quantbt/internal/errors"
	"quantbt/internal/logger"
	"quantbt/internal/monitor"
)

// RequestLogger logs one line per request through the structured logger.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info("HTTP请求",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"ip", c.ClientIP(),
		)
	}
}

// Recovery converts panics into structured 500 responses.
func Recovery(log logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Error("Panic recovered",
			"error", recovered,
			"stack", string(debug.Stack()),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)

		appErr := errors.NewAppError(errors.ErrCodeInternal, "Internal server error", nil)
		c.JSON(appErr.HTTPStatus(), errors.NewErrorResponse(appErr, c.Request.URL.Path))
	})
}

// ErrorHandler renders errors attached to the context through the
// shared error envelope, choosing the log level by severity.
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		appErr := errors.GetAppError(err)
		if appErr == nil {
			appErr = errors.WrapError(err, errors.ErrCodeInternal, "Internal server error")
		}
		if appErr.RequestID == "" {
			if rid := c.GetHeader("X-Request-ID"); rid != "" {
				appErr = appErr.WithRequestID(rid)
			}
		}

		fields := []interface{}{
			"error_code", appErr.Code,
			"message", appErr.Message,
			"severity", appErr.Severity,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"ip", c.ClientIP(),
		}
		if appErr.Cause != nil {
			fields = append(fields, "cause", appErr.Cause.Error())
		}

		switch appErr.Severity {
		case errors.SeverityCritical, errors.SeverityHigh:
			log.Error("请求处理失败", fields...)
		case errors.SeverityMedium:
			log.Warn("请求处理失败", fields...)
		default:
			log.Info("请求处理失败", fields...)
		}

		c.JSON(appErr.HTTPStatus(), errors.NewErrorResponse(appErr, c.Request.URL.Path))
	}
}

// ipLimiter is one client's token bucket.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces a per-client token bucket. Buckets idle for ten
// minutes are dropped on the next sweep.
func RateLimiter(cfg config.RateLimitConfig) gin.HandlerFunc {
	var (
		mu        sync.Mutex
		limiters  = make(map[string]*ipLimiter)
		lastSweep = time.Now()
	)
	rps := rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		if time.Since(lastSweep) > time.Minute {
			for key, l := range limiters {
				if time.Since(l.lastSeen) > 10*time.Minute {
					delete(limiters, key)
				}
			}
			lastSweep = time.Now()
		}
		l, ok := limiters[ip]
		if !ok {
			l = &ipLimiter{limiter: rate.NewLimiter(rps, burst)}
			limiters[ip] = l
		}
		l.lastSeen = time.Now()
		allowed := l.limiter.Allow()
		mu.Unlock()

		if !allowed {
			c.JSON(http.StatusTooManyRequests, Response{
				Success: false,
				Error:   "Rate limit exceeded",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// MetricsMiddleware records request counters and latency per route.
func MetricsMiddleware(mc *monitor.MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		mc.RecordAPIRequest(endpoint, c.Request.Method, strconv.Itoa(c.Writer.Status()))
		mc.RecordAPIResponseTime(endpoint, c.Request.Method, time.Since(start))
	}
}

// AuditMiddleware records mutating requests in the audit trail.
func AuditMiddleware(audit *monitor.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete:
		default:
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		user := "anonymous"
		if v, ok := c.Get("username"); ok {
			if name, ok := v.(string); ok && name != "" {
				user = name
			}
		}
		result := monitor.AuditResultSuccess
		if c.Writer.Status() >= http.StatusBadRequest {
			result = monitor.AuditResultFailure
		}

		audit.Log(monitor.AuditLog{
			UserID:     user,
			Action:     c.Request.Method,
			Resource:   c.FullPath(),
			ResourceID: c.Param("id"),
			Result:     result,
			Duration:   time.Since(start),
		})
	}
}

// corsMiddleware adds permissive CORS headers for the dashboard frontend.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
