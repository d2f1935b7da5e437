package config

import (
	"strings"
	"testing"
	"time"

	"quantbt/internal/testutils"
)

func TestLoad(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	// 创建测试配置文件
	configContent := `
app:
  name: "QuantBT Test"
  version: "1.0.0"
  environment: "development"

server:
  port: 8080
  host: "localhost"

data:
  dir: "./testdata"
  format: "csv"
  benchmark: "000300"
`

	configPath := suite.CreateTempFile("config.yaml", configContent)

	// 测试加载配置
	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// 验证配置值
	if config.App.Name != "QuantBT Test" {
		t.Errorf("Expected app name 'QuantBT Test', got '%s'", config.App.Name)
	}

	if config.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", config.Server.Port)
	}

	if config.Data.Benchmark != "000300" {
		t.Errorf("Expected benchmark '000300', got '%s'", config.Data.Benchmark)
	}

	// 验证默认值填充
	if config.Server.ReadTimeout != 30*time.Second {
		t.Errorf("Expected default read timeout 30s, got %v", config.Server.ReadTimeout)
	}

	if config.Monitoring.PrometheusPath != "/metrics" {
		t.Errorf("Expected default prometheus path '/metrics', got '%s'", config.Monitoring.PrometheusPath)
	}
}

func TestLoadWithEnvironmentOverride(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	// 设置环境变量
	testutils.SetEnv(t, "QUANTBT_SERVER_PORT", "9090")
	testutils.SetEnv(t, "QUANTBT_DATABASE_HOST", "db.example.com")

	configContent := `
app:
  name: "QuantBT"
  environment: "development"

server:
  port: 8080
  host: "localhost"

database:
  enabled: true
  host: "localhost"
  port: 5432
  user: "quantbt"
  dbname: "quantbt_test"
  sslmode: "disable"
  max_open: 10
  max_idle: 5
  timeout: 5s

data:
  dir: "./testdata"
  format: "csv"
  benchmark: "000300"
`

	configPath := suite.CreateTempFile("config.yaml", configContent)

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// 验证环境变量覆盖
	if config.Server.Port != 9090 {
		t.Errorf("Expected port 9090 (from env), got %d", config.Server.Port)
	}

	if config.Database.Host != "db.example.com" {
		t.Errorf("Expected database host 'db.example.com' (from env), got '%s'", config.Database.Host)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	configContent := `
app:
  name: "QuantBT"
  environment: "nosuchenv"

data:
  dir: "./testdata"
  format: "csv"
  benchmark: "000300"
`

	configPath := suite.CreateTempFile("config.yaml", configContent)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for invalid environment, got nil")
	}
}

func TestValidator(t *testing.T) {
	base := func() *Config {
		return &Config{
			App: AppConfig{
				Name:        "QuantBT",
				Version:     "1.0.0",
				Environment: "production",
			},
			Server: ServerConfig{
				Port:           8080,
				Host:           "localhost",
				ReadTimeout:    30 * time.Second,
				WriteTimeout:   30 * time.Second,
				MaxHeaderBytes: 1 << 20,
			},
			Data: DataConfig{
				Dir:       "./data",
				Format:    "csv",
				Benchmark: "000300",
			},
		}
	}

	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{
			name:        "valid config",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name: "invalid port",
			mutate: func(c *Config) {
				c.Server.Port = -1
			},
			expectError: true,
		},
		{
			name: "empty app name",
			mutate: func(c *Config) {
				c.App.Name = ""
			},
			expectError: true,
		},
		{
			name: "invalid data format",
			mutate: func(c *Config) {
				c.Data.Format = "xlsx"
			},
			expectError: true,
		},
		{
			name: "missing benchmark",
			mutate: func(c *Config) {
				c.Data.Benchmark = ""
			},
			expectError: true,
		},
		{
			name: "redis enabled without addr",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.PoolSize = 10
			},
			expectError: true,
		},
		{
			name: "auth enabled with short jwt secret",
			mutate: func(c *Config) {
				c.Auth.Enabled = true
				c.Auth.Username = "admin"
				c.Auth.PasswordHash = "$2a$10$abcdefghijklmnopqrstuv"
				c.JWT.SecretKey = "short"
				c.JWT.Duration = time.Hour
			},
			expectError: true,
		},
		{
			name: "scheduler job without schedule",
			mutate: func(c *Config) {
				c.Scheduler.Enabled = true
				c.Scheduler.Jobs = []ScheduledJob{{Name: "nightly", Strategy: "configs/lowvol.yaml"}}
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := base()
			tt.mutate(config)
			err := NewValidator(config).Validate()
			if tt.expectError && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no validation error, got: %v", err)
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	db := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "quantbt",
		Password: "secret",
		DBName:   "quantbt",
		SSLMode:  "disable",
	}

	dsn := db.DSN()
	for _, part := range []string{"host=localhost", "port=5432", "user=quantbt", "dbname=quantbt", "sslmode=disable"} {
		if !strings.Contains(dsn, part) {
			t.Errorf("DSN missing %q: %s", part, dsn)
		}
	}
}

func TestLoadStrategyConfig(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	strategyContent := `
name: "lowvol-cn"
scoring:
  weights:
    volatility: 0.5
    beta: 0.3
    quality: 0.2
  method: "zscore"
  ascending: true
selection:
  top_n: 20
sizing:
  mode: "inverse_vol"
backtest:
  initial_capital: 2000000
`

	path := suite.CreateTempFile("strategy.yaml", strategyContent)

	config, err := LoadStrategyConfig(path)
	if err != nil {
		t.Fatalf("Failed to load strategy config: %v", err)
	}

	if config.Name != "lowvol-cn" {
		t.Errorf("Expected name 'lowvol-cn', got '%s'", config.Name)
	}

	if config.Selection.TopN != 20 {
		t.Errorf("Expected top_n 20, got %d", config.Selection.TopN)
	}

	if config.Sizing.Mode != "inverse_vol" {
		t.Errorf("Expected sizing mode 'inverse_vol', got '%s'", config.Sizing.Mode)
	}

	if config.Backtest.InitialCapital != 2000000 {
		t.Errorf("Expected initial capital 2000000, got %f", config.Backtest.InitialCapital)
	}

	// 未覆盖的字段应保留默认值
	if config.Factors.VolatilityWindow != 60 {
		t.Errorf("Expected default volatility window 60, got %d", config.Factors.VolatilityWindow)
	}

	if config.Cost.CommissionRate != 0.001 {
		t.Errorf("Expected default commission rate 0.001, got %f", config.Cost.CommissionRate)
	}
}

func TestStrategyConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*StrategyConfig)
		expectError bool
	}{
		{
			name:        "defaults are valid",
			mutate:      func(c *StrategyConfig) {},
			expectError: false,
		},
		{
			name: "weights do not sum to one",
			mutate: func(c *StrategyConfig) {
				c.Scoring.Weights = map[string]float64{"volatility": 0.5, "beta": 0.3}
			},
			expectError: true,
		},
		{
			name: "negative weight",
			mutate: func(c *StrategyConfig) {
				c.Scoring.Weights = map[string]float64{"volatility": 1.2, "beta": -0.2}
			},
			expectError: true,
		},
		{
			name: "macd fast not below slow",
			mutate: func(c *StrategyConfig) {
				c.Factors.MACDFast = 26
				c.Factors.MACDSlow = 12
			},
			expectError: true,
		},
		{
			name: "unknown sizing mode",
			mutate: func(c *StrategyConfig) {
				c.Sizing.Mode = "kelly"
			},
			expectError: true,
		},
		{
			name: "unknown scoring method",
			mutate: func(c *StrategyConfig) {
				c.Scoring.Method = "rank"
			},
			expectError: true,
		},
		{
			name: "drawdown stop below warning",
			mutate: func(c *StrategyConfig) {
				c.Risk.DrawdownWarning = 0.20
				c.Risk.DrawdownStop = 0.15
			},
			expectError: true,
		},
		{
			name: "zero rebalance interval",
			mutate: func(c *StrategyConfig) {
				c.Backtest.RebalanceEvery = 0
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultStrategyConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.expectError && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no validation error, got: %v", err)
			}
		})
	}
}

func TestEnvManagerEncryption(t *testing.T) {
	testutils.SetEnv(t, "QUANTBT_ENCRYPTION_KEY", "test-encryption-key-for-unit-tests")

	em := NewEnvManager("", "")

	if err := em.SetEncryptedString("database_password", "s3cret"); err != nil {
		t.Fatalf("Failed to set encrypted value: %v", err)
	}

	// 原始环境变量必须带ENC:前缀
	raw := em.GetString("database_password", "")
	if !strings.HasPrefix(raw, "ENC:") {
		t.Errorf("Expected raw value with ENC: prefix, got %q", raw)
	}

	// 解密后恢复原值
	if got := em.GetEncryptedString("database_password", ""); got != "s3cret" {
		t.Errorf("Expected decrypted value 's3cret', got %q", got)
	}

	testutils.SetEnv(t, "QUANTBT_DATABASE_PASSWORD", "plain")
	if got := em.GetEncryptedString("database_password", ""); got != "plain" {
		t.Errorf("Plain value should pass through, got %q", got)
	}
}
