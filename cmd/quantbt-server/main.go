package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quantbt/internal/api"
	"quantbt/internal/config"
	"quantbt/internal/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	loggerPath := flag.String("logger-config", "configs/logger.yaml", "日志细化配置路径(可选, 按环境覆盖)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("加载配置文件失败: %v", err)
	}

	logCfg := logger.DefaultConfig
	logCfg.Level = logger.LogLevel(cfg.Logging.Level)
	logCfg.Format = logger.LogFormat(cfg.Logging.Format)
	logCfg.Output = cfg.Logging.Output
	logCfg.Filename = cfg.Logging.Filename
	if _, statErr := os.Stat(*loggerPath); statErr == nil {
		envCfg, err := logger.LoadConfigForEnvironment(*loggerPath, cfg.App.Environment)
		if err != nil {
			log.Fatalf("加载日志配置失败: %v", err)
		}
		logCfg = *envCfg
	}
	logger.SetGlobalLogger(logger.NewLogger(logCfg))
	applog := logger.GetGlobalLogger()

	applog.Info("QuantBT回测服务启动中",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

	server, err := api.NewServer(cfg)
	if err != nil {
		applog.Fatal("创建API服务失败", "error", err)
	}

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			applog.Fatal("API服务启动失败", "error", err)
		}
	}()

	// 等待退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	applog.Info("收到退出信号, 开始优雅关闭", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		applog.Error("服务关闭出错", "error", err)
		os.Exit(1)
	}
}
