package main

import (
	"flag"
	"fmt"
	"log"

	"quantbt/internal/config"
	"quantbt/internal/database"
	"quantbt/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "配置文件路径")
		dir        = flag.String("dir", "internal/database/migrations", "迁移文件目录")
		up         = flag.Bool("up", false, "运行数据库迁移")
		down       = flag.Bool("down", false, "回滚全部数据库迁移")
		steps      = flag.Int("steps", 0, "向前(正数)或向后(负数)执行N步迁移")
		version    = flag.Bool("version", false, "显示当前迁移版本")
		force      = flag.Int("force", -1, "强制设置迁移版本(用于修复脏状态)")
		help       = flag.Bool("help", false, "显示帮助信息")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("加载配置文件失败: %v", err)
	}

	db, err := database.NewConnection(cfg.Database, logger.GetGlobalLogger())
	if err != nil {
		log.Fatalf("连接数据库失败: %v", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, *dir)
	if err != nil {
		log.Fatalf("创建迁移器失败: %v", err)
	}
	defer migrator.Close()

	switch {
	case *up:
		runMigrations(migrator)
	case *down:
		rollbackMigrations(migrator)
	case *steps != 0:
		stepMigrations(migrator, *steps)
	case *version:
		showVersion(migrator)
	case *force >= 0:
		forceMigrationVersion(migrator, *force)
	default:
		// 默认运行迁移
		runMigrations(migrator)
	}
}

func showHelp() {
	fmt.Println("QuantBT 结果仓库迁移工具")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  migrate [选项]")
	fmt.Println()
	fmt.Println("选项:")
	fmt.Println("  -config string")
	fmt.Println("        配置文件路径 (默认: configs/config.yaml)")
	fmt.Println("  -dir string")
	fmt.Println("        迁移文件目录 (默认: internal/database/migrations)")
	fmt.Println("  -up")
	fmt.Println("        运行数据库迁移")
	fmt.Println("  -down")
	fmt.Println("        回滚全部数据库迁移")
	fmt.Println("  -steps int")
	fmt.Println("        向前(正数)或向后(负数)执行N步迁移")
	fmt.Println("  -version")
	fmt.Println("        显示当前迁移版本")
	fmt.Println("  -force int")
	fmt.Println("        强制设置迁移版本(用于修复脏状态)")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  migrate -up")
	fmt.Println("  migrate -steps -1")
	fmt.Println("  migrate -version")
	fmt.Println("  migrate -force 2")
	fmt.Println("  migrate -config configs/production.yaml -up")
}

func runMigrations(migrator *database.Migrator) {
	log.Println("开始运行数据库迁移...")
	if err := migrator.Up(); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	log.Println("数据库迁移完成")
}

func rollbackMigrations(migrator *database.Migrator) {
	log.Println("开始回滚数据库迁移...")
	if err := migrator.Down(); err != nil {
		log.Fatalf("数据库回滚失败: %v", err)
	}
	log.Println("数据库回滚完成")
}

func stepMigrations(migrator *database.Migrator, n int) {
	log.Printf("执行迁移步数: %d", n)
	if err := migrator.Steps(n); err != nil {
		log.Fatalf("执行迁移步数失败: %v", err)
	}
	log.Println("迁移步数执行完成")
}

func showVersion(migrator *database.Migrator) {
	version, err := migrator.Version()
	if err != nil {
		log.Fatalf("获取迁移版本失败: %v", err)
	}
	fmt.Printf("当前迁移版本: %d\n", version)
}

func forceMigrationVersion(migrator *database.Migrator, version int) {
	log.Printf("强制设置迁移版本为: %d", version)
	if err := migrator.Force(version); err != nil {
		log.Fatalf("强制设置迁移版本失败: %v", err)
	}
	log.Println("迁移版本设置完成")
}
