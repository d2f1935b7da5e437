package logger

import (
	"sync"
)

// LogManager 管理各模块的日志器, 允许为 factor/backtest/api 等模块
// 配置独立的级别和输出文件
type LogManager struct {
	config  *LoggerConfig
	loggers map[string]Logger
	mu      sync.RWMutex
}

// NewLogManager 创建日志管理器
func NewLogManager(config *LoggerConfig) *LogManager {
	return &LogManager{
		config:  config,
		loggers: make(map[string]Logger),
	}
}

// GetLogger 获取指定模块的日志器, 未配置的模块返回全局日志器
func (lm *LogManager) GetLogger(module string) Logger {
	lm.mu.RLock()
	if logger, exists := lm.loggers[module]; exists {
		lm.mu.RUnlock()
		return logger
	}
	lm.mu.RUnlock()

	moduleCfg := GetModuleConfig(lm.config, module)
	if moduleCfg == nil {
		return globalLogger.WithField("module", module)
	}

	// 基于模块配置构建日志器
	cfg := lm.config.Logger
	if moduleCfg.Level != "" {
		cfg.Level = moduleCfg.Level
	}
	if moduleCfg.SeparateFile {
		cfg.Output = "file"
		cfg.Filename = moduleCfg.Filename
	}

	logger := NewLogger(cfg).WithField("module", module)

	lm.mu.Lock()
	lm.loggers[module] = logger
	lm.mu.Unlock()

	return logger
}

// AddLogger 注册日志器
func (lm *LogManager) AddLogger(module string, logger Logger) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.loggers[module] = logger
}
