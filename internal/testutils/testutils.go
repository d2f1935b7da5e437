package testutils

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"quantbt/internal/cache"
	"quantbt/internal/logger"
)

// TestConfig 测试配置
type TestConfig struct {
	UseRealCache bool
	LogLevel     logger.LogLevel
	TempDir      string
}

// DefaultTestConfig 默认测试配置
func DefaultTestConfig() *TestConfig {
	return &TestConfig{
		UseRealCache: false,
		LogLevel:     logger.LevelError, // 测试时减少日志输出
		TempDir:      "",
	}
}

// TestSuite 测试套件
type TestSuite struct {
	T       *testing.T
	Config  *TestConfig
	Cache   cache.Cacher
	Logger  logger.Logger
	TempDir string
	Cleanup []func()
}

// NewTestSuite 创建测试套件
func NewTestSuite(t *testing.T, config *TestConfig) *TestSuite {
	if config == nil {
		config = DefaultTestConfig()
	}

	// 创建临时目录
	tempDir, err := os.MkdirTemp("", "quantbt_test_*")
	require.NoError(t, err)

	if config.TempDir == "" {
		config.TempDir = tempDir
	}

	// 初始化日志
	logConfig := logger.Config{
		Level:  config.LogLevel,
		Format: logger.FormatText,
		Output: "stdout",
	}
	testLogger := logger.NewLogger(logConfig)

	suite := &TestSuite{
		T:       t,
		Config:  config,
		Logger:  testLogger,
		Cache:   cache.NewMemoryCache(1000),
		TempDir: tempDir,
		Cleanup: []func(){},
	}

	// 设置清理函数
	suite.AddCleanup(func() {
		os.RemoveAll(tempDir)
	})

	return suite
}

// AddCleanup 添加清理函数
func (s *TestSuite) AddCleanup(cleanup func()) {
	s.Cleanup = append(s.Cleanup, cleanup)
}

// TearDown 清理测试环境
func (s *TestSuite) TearDown() {
	for i := len(s.Cleanup) - 1; i >= 0; i-- {
		s.Cleanup[i]()
	}
}

// CreateTempFile 创建临时文件
func (s *TestSuite) CreateTempFile(name, content string) string {
	filePath := filepath.Join(s.TempDir, name)
	err := os.WriteFile(filePath, []byte(content), 0644)
	require.NoError(s.T, err)
	return filePath
}

// CreateTempDir 创建临时目录
func (s *TestSuite) CreateTempDir(name string) string {
	dirPath := filepath.Join(s.TempDir, name)
	err := os.MkdirAll(dirPath, 0755)
	require.NoError(s.T, err)
	return dirPath
}

// HTTPTestHelper HTTP测试助手
type HTTPTestHelper struct {
	Router *gin.Engine
	Suite  *TestSuite
}

// NewHTTPTestHelper 创建HTTP测试助手
func NewHTTPTestHelper(suite *TestSuite) *HTTPTestHelper {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	return &HTTPTestHelper{
		Router: router,
		Suite:  suite,
	}
}

// GET 发送GET请求
func (h *HTTPTestHelper) GET(path string, headers map[string]string) *HTTPResponse {
	return h.Request("GET", path, nil, headers)
}

// POST 发送POST请求
func (h *HTTPTestHelper) POST(path string, body interface{}, headers map[string]string) *HTTPResponse {
	return h.Request("POST", path, body, headers)
}

// PUT 发送PUT请求
func (h *HTTPTestHelper) PUT(path string, body interface{}, headers map[string]string) *HTTPResponse {
	return h.Request("PUT", path, body, headers)
}

// DELETE 发送DELETE请求
func (h *HTTPTestHelper) DELETE(path string, headers map[string]string) *HTTPResponse {
	return h.Request("DELETE", path, nil, headers)
}

// Request 发送HTTP请求
func (h *HTTPTestHelper) Request(method, path string, body interface{}, headers map[string]string) *HTTPResponse {
	var bodyReader io.Reader

	if body != nil {
		bodyBytes, err := json.Marshal(body)
		require.NoError(h.Suite.T, err)
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req := httptest.NewRequest(method, path, bodyReader)

	// 设置默认头
	req.Header.Set("Content-Type", "application/json")

	// 设置自定义头
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	w := httptest.NewRecorder()
	h.Router.ServeHTTP(w, req)

	return &HTTPResponse{
		StatusCode: w.Code,
		Body:       w.Body.Bytes(),
		Headers:    w.Header(),
		suite:      h.Suite,
	}
}

// HTTPResponse HTTP响应
type HTTPResponse struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	suite      *TestSuite
}

// AssertStatus 断言状态码
func (r *HTTPResponse) AssertStatus(expectedStatus int) *HTTPResponse {
	assert.Equal(r.suite.T, expectedStatus, r.StatusCode)
	return r
}

// AssertContains 断言响应包含指定内容
func (r *HTTPResponse) AssertContains(substring string) *HTTPResponse {
	assert.Contains(r.suite.T, string(r.Body), substring)
	return r
}

// GetJSON 获取JSON响应
func (r *HTTPResponse) GetJSON(target interface{}) error {
	return json.Unmarshal(r.Body, target)
}

// GetString 获取字符串响应
func (r *HTTPResponse) GetString() string {
	return string(r.Body)
}

// MockData 模拟数据生成器
type MockData struct {
	rand *rand.Rand
}

// NewMockData 创建模拟数据生成器
func NewMockData() *MockData {
	return &MockData{
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewMockDataWithSeed 创建固定种子的模拟数据生成器（可复现）
func NewMockDataWithSeed(seed int64) *MockData {
	return &MockData{
		rand: rand.New(rand.NewSource(seed)),
	}
}

// RandomString 生成随机字符串
func (m *MockData) RandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[m.rand.Intn(len(charset))]
	}
	return string(b)
}

// RandomInt 生成随机整数
func (m *MockData) RandomInt(min, max int) int {
	return m.rand.Intn(max-min+1) + min
}

// RandomFloat 生成随机浮点数
func (m *MockData) RandomFloat(min, max float64) float64 {
	return min + m.rand.Float64()*(max-min)
}

// RandomBool 生成随机布尔值
func (m *MockData) RandomBool() bool {
	return m.rand.Intn(2) == 1
}

// RandomChoice 从选项中随机选择
func (m *MockData) RandomChoice(choices []string) string {
	return choices[m.rand.Intn(len(choices))]
}

// RandomWalk 生成几何随机游走价格序列
func (m *MockData) RandomWalk(n int, start, drift, vol float64) []float64 {
	prices := make([]float64, n)
	price := start
	for i := 0; i < n; i++ {
		price *= 1 + drift + vol*m.rand.NormFloat64()
		if price < 0.01 {
			price = 0.01
		}
		prices[i] = price
	}
	return prices
}

// GenerateSymbols 生成标的代码列表
func (m *MockData) GenerateSymbols(n int) []string {
	symbols := make([]string, n)
	for i := range symbols {
		symbols[i] = "600" + string(rune('0'+i/100%10)) + string(rune('0'+i/10%10)) + string(rune('0'+i%10))
	}
	return symbols
}

// TimeoutContext 创建带超时的上下文
func TimeoutContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// WaitForCondition 等待条件满足
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	ctx, cancel := TimeoutContext(timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Fatalf("Timeout waiting for condition: %s", message)
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}

// Eventually 最终断言
func Eventually(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	WaitForCondition(t, condition, timeout, message)
}

// FileExists 检查文件是否存在
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// DirExists 检查目录是否存在
func DirExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return info.IsDir()
}

// ReadTestFile 读取测试文件
func ReadTestFile(t *testing.T, path string) []byte {
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

// WriteTestFile 写入测试文件
func WriteTestFile(t *testing.T, path string, data []byte) {
	err := os.WriteFile(path, data, 0644)
	require.NoError(t, err)
}

// SetEnv 设置环境变量（测试结束后自动恢复）
func SetEnv(t *testing.T, key, value string) {
	oldValue := os.Getenv(key)
	os.Setenv(key, value)

	t.Cleanup(func() {
		if oldValue == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, oldValue)
		}
	})
}

// RandomPort 获取随机端口
func RandomPort() int {
	return rand.Intn(10000) + 20000
}
