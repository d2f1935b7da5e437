package errors

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorCode 定义错误代码类型
type ErrorCode string

// 错误代码常量
const (
	// 通用错误
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeTimeout      ErrorCode = "TIMEOUT"
	ErrCodeRateLimit    ErrorCode = "RATE_LIMIT"

	// 配置错误: 结构性错误配置, 立即终止回测
	ErrCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"

	// 数据错误: 单标的可隔离, 基准数据损坏则致命
	ErrCodeData             ErrorCode = "DATA_ERROR"
	ErrCodeDataMissing      ErrorCode = "DATA_MISSING"
	ErrCodeDataMisaligned   ErrorCode = "DATA_MISALIGNED"
	ErrCodeBenchmarkCorrupt ErrorCode = "BENCHMARK_CORRUPT"

	// 数值退化: 接近零的方差/除数, 使用定义好的替代值
	ErrCodeNumericDegeneracy ErrorCode = "NUMERIC_DEGENERACY"

	// 风控错误: 非致命, 按被拒订单记录
	ErrCodeRiskLimitBreach ErrorCode = "RISK_LIMIT_BREACH"
	ErrCodeDrawdownStop    ErrorCode = "DRAWDOWN_STOP"

	// 回测错误
	ErrCodeBacktestAborted ErrorCode = "BACKTEST_ABORTED"
	ErrCodeRunNotFound     ErrorCode = "RUN_NOT_FOUND"

	// 数据库错误
	ErrCodeDBConnection ErrorCode = "DB_CONNECTION_ERROR"
	ErrCodeDBQuery      ErrorCode = "DB_QUERY_ERROR"

	// 缓存错误
	ErrCodeCacheConnection ErrorCode = "CACHE_CONNECTION_ERROR"
	ErrCodeCacheOperation  ErrorCode = "CACHE_OPERATION_ERROR"
	ErrCodeCacheMiss       ErrorCode = "CACHE_MISS"
)

// ErrorSeverity 定义错误严重程度
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// AppError 应用错误结构
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Severity  ErrorSeverity          `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回原始错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// HTTPStatus 返回对应的HTTP状态码
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeNotFound, ErrCodeRunNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeInvalidInput, ErrCodeConfiguration:
		return http.StatusBadRequest
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case ErrCodeRiskLimitBreach, ErrCodeDrawdownStop:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// NewAppError 创建新的应用错误
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	severity := getSeverityByCode(code)
	return &AppError{
		Code:      code,
		Message:   message,
		Severity:  severity,
		Timestamp: time.Now(),
		Cause:     cause,
		Context:   make(map[string]interface{}),
	}
}

// NewAppErrorWithDetails 创建带详细信息的应用错误
func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	err := NewAppError(code, message, cause)
	err.Details = details
	return err
}

// NewConfigurationError 创建配置错误(致命, 不重试)
func NewConfigurationError(message string) *AppError {
	return NewAppError(ErrCodeConfiguration, message, nil)
}

// NewDataError 创建单标的数据错误(可隔离)
func NewDataError(symbol, message string) *AppError {
	return NewAppError(ErrCodeData, message, nil).WithContext("symbol", symbol)
}

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, resource+" not found", nil)
}

// NewInvalidInputError 创建输入参数错误
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, nil)
}

// NewBenchmarkError 创建基准数据错误(致命)
func NewBenchmarkError(message string, cause error) *AppError {
	return NewAppError(ErrCodeBenchmarkCorrupt, message, cause)
}

// NewNumericDegeneracy 创建数值退化错误(非致命, 记录替代值)
func NewNumericDegeneracy(message string, substitute float64) *AppError {
	return NewAppError(ErrCodeNumericDegeneracy, message, nil).
		WithContext("substitute", substitute)
}

// NewRiskBreach 创建风控拒单记录(非致命)
func NewRiskBreach(symbol, reason string) *AppError {
	return NewAppError(ErrCodeRiskLimitBreach, reason, nil).WithContext("symbol", symbol)
}

// WithContext 添加上下文信息
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRequestID 添加请求ID
func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

// getSeverityByCode 根据错误代码确定严重程度
func getSeverityByCode(code ErrorCode) ErrorSeverity {
	switch code {
	case ErrCodeInternal, ErrCodeConfiguration, ErrCodeBenchmarkCorrupt, ErrCodeDBConnection:
		return SeverityCritical
	case ErrCodeBacktestAborted, ErrCodeDrawdownStop, ErrCodeDBQuery:
		return SeverityHigh
	case ErrCodeData, ErrCodeDataMissing, ErrCodeDataMisaligned,
		ErrCodeCacheConnection, ErrCodeCacheOperation:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// IsFatal 判断错误是否应终止整个回测
func (e *AppError) IsFatal() bool {
	switch e.Code {
	case ErrCodeConfiguration, ErrCodeBenchmarkCorrupt, ErrCodeBacktestAborted:
		return true
	default:
		return false
	}
}

// IsRetryable 判断错误是否可重试
func (e *AppError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeTimeout, ErrCodeDBConnection, ErrCodeCacheConnection:
		return true
	default:
		return false
	}
}

// ErrorResponse API错误响应结构
type ErrorResponse struct {
	Error     *AppError `json:"error"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(err *AppError, path string) *ErrorResponse {
	return &ErrorResponse{
		Error:     err,
		Success:   false,
		Timestamp: time.Now(),
		Path:      path,
	}
}

// 预定义的常用错误
var (
	ErrInternalServer = NewAppError(ErrCodeInternal, "Internal server error", nil)
	ErrInvalidInput   = NewAppError(ErrCodeInvalidInput, "Invalid input parameters", nil)
	ErrNotFound       = NewAppError(ErrCodeNotFound, "Resource not found", nil)
	ErrUnauthorized   = NewAppError(ErrCodeUnauthorized, "Unauthorized access", nil)
	ErrRateLimit      = NewAppError(ErrCodeRateLimit, "Rate limit exceeded", nil)
)

// WrapError 包装标准错误为应用错误
func WrapError(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	// 如果已经是AppError, 直接返回
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}

	return NewAppError(code, message, err)
}

// IsAppError 检查是否为应用错误
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError 获取应用错误
func GetAppError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return nil
}
