package main

import (
	"attendance_console/internal/app"
	"attendance_console/internal/config"
	"attendance_console/pkg/logger"
	"flag"
	"log"
	"path/filepath"

	"go.uber.org/zap"
)

func main() {
	// 命令行参数
	configDir := flag.String("config", "configs", "配置文件所在目录")
	watch := flag.Bool("watch", true, "配置文件变更时热加载")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	application, err := app.NewApp(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize app", zap.Error(err))
	}
	if *watch {
		application.ConfigFile = filepath.Join(*configDir, "config.yaml")
	}

	logger.Log.Info("Attendance console starting",
		zap.String("post_submit", cfg.Session.PostSubmit),
		zap.Bool("seed_from_server", cfg.Session.SeedFromServer))

	application.Run()
}
