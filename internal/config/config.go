package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	JWT        JWTConfig        `yaml:"jwt"`
	Auth       AuthConfig       `yaml:"auth"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Logging    LoggingConfig    `yaml:"logging"`
	Data       DataConfig       `yaml:"data"`
	Strategies StrategiesConfig `yaml:"strategies"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
}

// AppConfig represents application configuration
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// DatabaseConfig represents the results warehouse configuration
type DatabaseConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	DBName   string        `yaml:"dbname"`
	SSLMode  string        `yaml:"sslmode"`
	MaxOpen  int           `yaml:"max_open"`
	MaxIdle  int           `yaml:"max_idle"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// RedisConfig represents Redis cache configuration
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	SecretKey string        `yaml:"secret_key"`
	Duration  time.Duration `yaml:"duration"`
}

// AuthConfig represents API authentication configuration
type AuthConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"` // bcrypt哈希
}

// MonitoringConfig represents monitoring configuration
type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPath    string `yaml:"prometheus_path"`
}

// RateLimitConfig represents rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	Filename string `yaml:"filename"`
}

// DataConfig represents market dataset configuration
type DataConfig struct {
	Dir             string `yaml:"dir"`              // 每个标的一个文件的数据目录
	Format          string `yaml:"format"`           // csv或parquet
	InstrumentsFile string `yaml:"instruments_file"` // 标的元数据(代码/板块/上市日期)
	Benchmark       string `yaml:"benchmark"`        // 基准指数代码
}

// StrategiesConfig represents the strategy catalog location
type StrategiesConfig struct {
	Dir string `yaml:"dir"` // 策略YAML目录, 每个文件一个策略
}

// SchedulerConfig represents scheduled run configuration
type SchedulerConfig struct {
	Enabled bool           `yaml:"enabled"`
	Jobs    []ScheduledJob `yaml:"jobs"`
}

// ScheduledJob represents a recurring backtest job
type ScheduledJob struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"` // cron表达式(带秒)
	Strategy string `yaml:"strategy"` // 策略配置文件路径
}

// Load loads configuration from a YAML file, applies .env overlays and
// environment overrides, then validates the result
func Load(filename string) (*Config, error) {
	// .env文件存在时先加载, 不存在不报错
	_ = godotenv.Load()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)
	applyConfigDefaults(&config)

	if err := NewValidator(&config).Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// applyConfigDefaults 填充缺省值
func applyConfigDefaults(config *Config) {
	if config.App.Environment == "" {
		config.App.Environment = "development"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8082
	}
	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.ReadTimeout == 0 {
		config.Server.ReadTimeout = 30 * time.Second
	}
	if config.Server.WriteTimeout == 0 {
		config.Server.WriteTimeout = 30 * time.Second
	}
	if config.Server.MaxHeaderBytes == 0 {
		config.Server.MaxHeaderBytes = 1 << 20
	}
	if config.Monitoring.PrometheusPath == "" {
		config.Monitoring.PrometheusPath = "/metrics"
	}
	if config.RateLimit.RequestsPerMinute == 0 {
		config.RateLimit.RequestsPerMinute = 120
	}
	if config.RateLimit.Burst == 0 {
		config.RateLimit.Burst = 30
	}
	if config.Data.Format == "" {
		config.Data.Format = "csv"
	}
	if config.Strategies.Dir == "" {
		config.Strategies.Dir = "configs/strategies"
	}
	if config.JWT.Duration == 0 {
		config.JWT.Duration = 24 * time.Hour
	}
}
