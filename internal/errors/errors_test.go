package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestNewAppError(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "Test error", nil)

	if err.Code != ErrCodeInvalidInput {
		t.Errorf("Expected code %s, got %s", ErrCodeInvalidInput, err.Code)
	}

	if err.Message != "Test error" {
		t.Errorf("Expected message 'Test error', got %s", err.Message)
	}

	if err.Severity != SeverityLow {
		t.Errorf("Expected severity %s, got %s", SeverityLow, err.Severity)
	}
}

func TestTaxonomyConstructors(t *testing.T) {
	cfg := NewConfigurationError("weights do not sum to 1")
	if cfg.Code != ErrCodeConfiguration || !cfg.IsFatal() {
		t.Errorf("configuration error must be fatal, got code=%s fatal=%v", cfg.Code, cfg.IsFatal())
	}

	data := NewDataError("600519.SH", "series too short")
	if data.Code != ErrCodeData || data.IsFatal() {
		t.Errorf("data error must be non-fatal at instrument scope, got code=%s fatal=%v", data.Code, data.IsFatal())
	}
	if data.Context["symbol"] != "600519.SH" {
		t.Errorf("data error should carry symbol context, got %v", data.Context["symbol"])
	}

	bench := NewBenchmarkError("benchmark series corrupt", nil)
	if !bench.IsFatal() {
		t.Error("benchmark corruption must be fatal")
	}

	degen := NewNumericDegeneracy("cross-sectional stdev below epsilon", 0)
	if degen.IsFatal() {
		t.Error("numeric degeneracy must be non-fatal")
	}
	if degen.Context["substitute"] != float64(0) {
		t.Errorf("degeneracy should record substitute value, got %v", degen.Context["substitute"])
	}

	breach := NewRiskBreach("000001.SZ", "sector cap exceeded")
	if breach.IsFatal() {
		t.Error("risk breach must be non-fatal")
	}
}

func TestAppErrorHTTPStatus(t *testing.T) {
	tests := []struct {
		code           ErrorCode
		expectedStatus int
	}{
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeRunNotFound, http.StatusNotFound},
		{ErrCodeUnauthorized, http.StatusUnauthorized},
		{ErrCodeConfiguration, http.StatusBadRequest},
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrCodeRateLimit, http.StatusTooManyRequests},
	}

	for _, test := range tests {
		err := NewAppError(test.code, "Test", nil)
		status := err.HTTPStatus()

		if status != test.expectedStatus {
			t.Errorf("Code %s: expected status %d, got %d", test.code, test.expectedStatus, status)
		}
	}
}

func TestAppErrorWithContext(t *testing.T) {
	err := NewAppError(ErrCodeInternal, "Test error", nil)
	err = err.WithContext("symbol", "600000.SH")
	err = err.WithRequestID("req_456")

	if err.Context["symbol"] != "600000.SH" {
		t.Errorf("Expected context symbol '600000.SH', got %v", err.Context["symbol"])
	}

	if err.RequestID != "req_456" {
		t.Errorf("Expected request ID 'req_456', got %s", err.RequestID)
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("parse failed")
	err := NewAppError(ErrCodeData, "bad row", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the wrapped cause")
	}
}

func TestAppErrorIsRetryable(t *testing.T) {
	retryableErr := NewAppError(ErrCodeTimeout, "Timeout", nil)
	nonRetryableErr := NewAppError(ErrCodeConfiguration, "Bad config", nil)

	if !retryableErr.IsRetryable() {
		t.Error("Timeout error should be retryable")
	}

	if nonRetryableErr.IsRetryable() {
		t.Error("Configuration error should not be retryable")
	}
}

func TestWrapError(t *testing.T) {
	originalErr := fmt.Errorf("original error")
	wrappedErr := WrapError(originalErr, ErrCodeDBQuery, "Database error")

	if wrappedErr.Code != ErrCodeDBQuery {
		t.Errorf("Expected code %s, got %s", ErrCodeDBQuery, wrappedErr.Code)
	}

	if wrappedErr.Message != "Database error" {
		t.Errorf("Expected message 'Database error', got %s", wrappedErr.Message)
	}

	if wrappedErr.Cause != originalErr {
		t.Error("Wrapped error should preserve original error")
	}
}

func TestErrorResponse(t *testing.T) {
	err := NewAppError(ErrCodeNotFound, "Resource not found", nil)
	response := NewErrorResponse(err, "/api/v1/runs/missing")

	if response.Error != err {
		t.Error("Response should contain the error")
	}

	if response.Success {
		t.Error("Response success should be false")
	}

	if response.Path != "/api/v1/runs/missing" {
		t.Errorf("Expected path '/api/v1/runs/missing', got %s", response.Path)
	}

	if time.Since(response.Timestamp) > time.Second {
		t.Error("Response timestamp should be recent")
	}
}

func TestGetSeverityByCode(t *testing.T) {
	tests := []struct {
		code             ErrorCode
		expectedSeverity ErrorSeverity
	}{
		{ErrCodeInternal, SeverityCritical},
		{ErrCodeConfiguration, SeverityCritical},
		{ErrCodeBenchmarkCorrupt, SeverityCritical},
		{ErrCodeDrawdownStop, SeverityHigh},
		{ErrCodeData, SeverityMedium},
		{ErrCodeNumericDegeneracy, SeverityLow},
		{ErrCodeRiskLimitBreach, SeverityLow},
	}

	for _, test := range tests {
		severity := getSeverityByCode(test.code)
		if severity != test.expectedSeverity {
			t.Errorf("Code %s: expected severity %s, got %s", test.code, test.expectedSeverity, severity)
		}
	}
}

func TestIsAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInternal, "Test", nil)
	standardErr := fmt.Errorf("standard error")

	if !IsAppError(appErr) {
		t.Error("Should recognize AppError")
	}

	if IsAppError(standardErr) {
		t.Error("Should not recognize standard error as AppError")
	}
}

func TestGetAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInternal, "Test", nil)
	standardErr := fmt.Errorf("standard error")

	retrieved := GetAppError(appErr)
	if retrieved != appErr {
		t.Error("Should return the same AppError")
	}

	retrieved = GetAppError(standardErr)
	if retrieved != nil {
		t.Error("Should return nil for standard error")
	}
}
