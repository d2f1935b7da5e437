package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewLoggerLevel(t *testing.T) {
	log := NewLogger(Config{Level: LevelWarn, Format: FormatText, Output: "stdout"})
	assert.Equal(t, LevelWarn, log.GetLevel())

	log.SetLevel(LevelDebug)
	assert.Equal(t, LevelDebug, log.GetLevel())

	// 非法级别被忽略, 保持原级别
	log.SetLevel(LogLevel("bogus"))
	assert.Equal(t, LevelDebug, log.GetLevel())
}

func TestWithFieldKeepsConfig(t *testing.T) {
	log := NewLogger(Config{Level: LevelError, Format: FormatJSON, Output: "stdout"})

	child := log.WithField("module", "backtest")
	assert.Equal(t, LevelError, child.GetLevel())

	grandchild := child.WithFields(map[string]interface{}{"run_id": "r-1", "strategy": "lowvol"})
	assert.Equal(t, LevelError, grandchild.GetLevel())

	// 奇数个字段参数时忽略不成对的尾项, 不应panic
	grandchild.Error("测试日志", "key", "value", "dangling")
}

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, `
logger:
  level: info
  format: json
  output: stdout

environments:
  production:
    logger:
      level: warn
      output: file
      filename: logs/prod.log

modules:
  backtest:
    level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, LevelInfo, cfg.Logger.Level)
	assert.Equal(t, FormatJSON, cfg.Logger.Format)

	// 默认值已应用
	assert.Equal(t, 100, cfg.Logger.MaxSize)
	assert.Equal(t, 30, cfg.Logger.MaxAge)

	require.Contains(t, cfg.Environments, "production")
	assert.Equal(t, LevelWarn, cfg.Environments["production"].Logger.Level)

	mod := GetModuleConfig(cfg, "backtest")
	require.NotNil(t, mod)
	assert.Equal(t, LevelDebug, mod.Level)
	assert.Nil(t, GetModuleConfig(cfg, "unknown"))
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfigFile(t, "logger:\n  level: verbose\n"))
	assert.Error(t, err)

	// 输出到文件必须指定文件名
	_, err = LoadConfig(writeConfigFile(t, "logger:\n  output: file\n"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfigFile(t, `
logger:
  level: info
modules:
  backtest:
    separate_file: true
`))
	assert.Error(t, err)
}

func TestLoadConfigForEnvironment(t *testing.T) {
	path := writeConfigFile(t, `
logger:
  level: info
  format: text
  output: stdout

environments:
  production:
    logger:
      level: warn
      format: json
`)

	prod, err := LoadConfigForEnvironment(path, "production")
	require.NoError(t, err)
	assert.Equal(t, LevelWarn, prod.Level)
	assert.Equal(t, FormatJSON, prod.Format)
	// 未覆盖的字段沿用基础配置
	assert.Equal(t, "stdout", prod.Output)

	dev, err := LoadConfigForEnvironment(path, "development")
	require.NoError(t, err)
	assert.Equal(t, LevelInfo, dev.Level)
	assert.Equal(t, FormatText, dev.Format)
}

func TestLogManager(t *testing.T) {
	cfg := &LoggerConfig{
		Logger: Config{Level: LevelInfo, Format: FormatText, Output: "stdout"},
		Modules: map[string]ModuleConfig{
			"backtest": {Level: LevelDebug},
		},
	}
	lm := NewLogManager(cfg)

	// 配置过的模块拿到独立级别
	bt := lm.GetLogger("backtest")
	assert.Equal(t, LevelDebug, bt.GetLevel())

	// 再次获取走缓存, 返回同一实例
	assert.Same(t, bt, lm.GetLogger("backtest"))

	// 未配置的模块退回全局日志器
	api := lm.GetLogger("api")
	assert.Equal(t, GetGlobalLogger().GetLevel(), api.GetLevel())

	custom := NewLogger(Config{Level: LevelError, Format: FormatText, Output: "stdout"})
	lm.AddLogger("risk", custom)
	assert.Equal(t, LevelError, lm.GetLogger("risk").GetLevel())
}
