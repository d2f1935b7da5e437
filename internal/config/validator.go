package config

import (
	"fmt"
	"strings"
)

// Validator 配置验证器
type Validator struct {
	config *Config
}

// NewValidator 创建配置验证器
func NewValidator(config *Config) *Validator {
	return &Validator{
		config: config,
	}
}

// Validate 验证配置
func (v *Validator) Validate() error {
	var errors []string

	// 验证应用配置
	if err := v.validateApp(); err != nil {
		errors = append(errors, fmt.Sprintf("应用配置错误: %v", err))
	}

	// 验证服务器配置
	if err := v.validateServer(); err != nil {
		errors = append(errors, fmt.Sprintf("服务器配置错误: %v", err))
	}

	// 验证数据库配置
	if err := v.validateDatabase(); err != nil {
		errors = append(errors, fmt.Sprintf("数据库配置错误: %v", err))
	}

	// 验证Redis配置
	if err := v.validateRedis(); err != nil {
		errors = append(errors, fmt.Sprintf("Redis配置错误: %v", err))
	}

	// 验证认证配置
	if err := v.validateAuth(); err != nil {
		errors = append(errors, fmt.Sprintf("认证配置错误: %v", err))
	}

	// 验证限流配置
	if err := v.validateRateLimit(); err != nil {
		errors = append(errors, fmt.Sprintf("限流配置错误: %v", err))
	}

	// 验证数据配置
	if err := v.validateData(); err != nil {
		errors = append(errors, fmt.Sprintf("数据配置错误: %v", err))
	}

	// 验证调度器配置
	if err := v.validateScheduler(); err != nil {
		errors = append(errors, fmt.Sprintf("调度器配置错误: %v", err))
	}

	if len(errors) > 0 {
		return fmt.Errorf("配置验证失败:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

// validateApp 验证应用配置
func (v *Validator) validateApp() error {
	app := v.config.App

	if app.Name == "" {
		return fmt.Errorf("应用名称不能为空")
	}

	if app.Environment == "" {
		return fmt.Errorf("应用环境不能为空")
	}

	validEnvironments := []string{"development", "staging", "production"}
	valid := false
	for _, env := range validEnvironments {
		if app.Environment == env {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("无效的环境: %s, 有效值: %v", app.Environment, validEnvironments)
	}

	return nil
}

// validateServer 验证服务器配置
func (v *Validator) validateServer() error {
	server := v.config.Server

	if server.Port <= 0 || server.Port > 65535 {
		return fmt.Errorf("无效的端口号: %d", server.Port)
	}

	if server.ReadTimeout <= 0 {
		return fmt.Errorf("读取超时必须大于0")
	}

	if server.WriteTimeout <= 0 {
		return fmt.Errorf("写入超时必须大于0")
	}

	if server.MaxHeaderBytes <= 0 {
		return fmt.Errorf("最大头部字节数必须大于0")
	}

	return nil
}

// validateDatabase 验证数据库配置
func (v *Validator) validateDatabase() error {
	db := v.config.Database

	// 未启用数据库时跳过验证
	if !db.Enabled {
		return nil
	}

	if db.Host == "" {
		return fmt.Errorf("数据库主机不能为空")
	}

	if db.Port <= 0 || db.Port > 65535 {
		return fmt.Errorf("无效的数据库端口: %d", db.Port)
	}

	if db.User == "" {
		return fmt.Errorf("数据库用户名不能为空")
	}

	if db.DBName == "" {
		return fmt.Errorf("数据库名称不能为空")
	}

	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	valid := false
	for _, mode := range validSSLModes {
		if db.SSLMode == mode {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("无效的SSL模式: %s, 有效值: %v", db.SSLMode, validSSLModes)
	}

	if db.MaxOpen <= 0 {
		return fmt.Errorf("最大连接数必须大于0")
	}

	if db.MaxIdle < 0 {
		return fmt.Errorf("最大空闲连接数不能为负数")
	}

	if db.MaxIdle > db.MaxOpen {
		return fmt.Errorf("最大空闲连接数不能大于最大连接数")
	}

	if db.Timeout <= 0 {
		return fmt.Errorf("连接超时必须大于0")
	}

	return nil
}

// validateRedis 验证Redis配置
func (v *Validator) validateRedis() error {
	redis := v.config.Redis

	// 如果Redis未启用，跳过验证
	if !redis.Enabled {
		return nil
	}

	if redis.Addr == "" {
		return fmt.Errorf("Redis地址不能为空")
	}

	// 验证Redis地址格式
	if !strings.Contains(redis.Addr, ":") {
		return fmt.Errorf("无效的Redis地址格式: %s", redis.Addr)
	}

	if redis.DB < 0 || redis.DB > 15 {
		return fmt.Errorf("无效的Redis数据库编号: %d", redis.DB)
	}

	if redis.PoolSize <= 0 {
		return fmt.Errorf("Redis连接池大小必须大于0")
	}

	return nil
}

// validateAuth 验证认证配置
func (v *Validator) validateAuth() error {
	auth := v.config.Auth

	if !auth.Enabled {
		return nil
	}

	if auth.Username == "" {
		return fmt.Errorf("用户名不能为空")
	}

	if auth.PasswordHash == "" {
		return fmt.Errorf("密码哈希不能为空")
	}

	jwt := v.config.JWT
	if jwt.SecretKey == "" {
		return fmt.Errorf("JWT密钥不能为空")
	}

	if len(jwt.SecretKey) < 32 {
		return fmt.Errorf("JWT密钥长度必须至少32个字符")
	}

	if jwt.Duration <= 0 {
		return fmt.Errorf("JWT有效期必须大于0")
	}

	return nil
}

// validateRateLimit 验证限流配置
func (v *Validator) validateRateLimit() error {
	rl := v.config.RateLimit

	if !rl.Enabled {
		return nil
	}

	if rl.RequestsPerMinute <= 0 {
		return fmt.Errorf("每分钟请求数必须大于0")
	}

	if rl.Burst <= 0 {
		return fmt.Errorf("突发请求数必须大于0")
	}

	return nil
}

// validateData 验证数据配置
func (v *Validator) validateData() error {
	data := v.config.Data

	if data.Dir == "" {
		return fmt.Errorf("数据目录不能为空")
	}

	validFormats := []string{"csv", "parquet"}
	valid := false
	for _, format := range validFormats {
		if data.Format == format {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("无效的数据格式: %s, 有效值: %v", data.Format, validFormats)
	}

	if data.Benchmark == "" {
		return fmt.Errorf("基准指数代码不能为空")
	}

	return nil
}

// validateScheduler 验证调度器配置
func (v *Validator) validateScheduler() error {
	scheduler := v.config.Scheduler

	if !scheduler.Enabled {
		return nil
	}

	if len(scheduler.Jobs) == 0 {
		return fmt.Errorf("调度任务列表不能为空")
	}

	for _, job := range scheduler.Jobs {
		if job.Name == "" {
			return fmt.Errorf("调度任务名称不能为空")
		}
		if job.Schedule == "" {
			return fmt.Errorf("调度任务 %s 的cron表达式不能为空", job.Name)
		}
		if job.Strategy == "" {
			return fmt.Errorf("调度任务 %s 的策略配置路径不能为空", job.Name)
		}
	}

	return nil
}

// ValidateRequired 验证生产环境必需的环境变量
func (v *Validator) ValidateRequired() error {
	if v.config.App.Environment != "production" {
		return nil
	}

	em := NewEnvManager("", "")
	required := []string{"jwt_secret"}
	if v.config.Database.Enabled {
		required = append(required, "database_password")
	}

	return em.ValidateRequired(required)
}
