package app

import (
	"attendance_console/internal/config"
	"attendance_console/internal/controller"
	"attendance_console/internal/repository"
	"attendance_console/internal/service"
	"attendance_console/pkg/configwatcher"
	"attendance_console/pkg/logger"
	"attendance_console/pkg/monitoring"
	"attendance_console/pkg/security"
	"attendance_console/pkg/tracing"
	"attendance_console/web"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

type App struct {
	Config     *config.Config
	ConfigFile string
	Router     *gin.Engine
	API        *repository.AttendanceAPIRepository
	services   *services

	tracer          *sdktrace.TracerProvider
	stop            chan struct{}
	configCallbacks []func(*config.Config)
}

type services struct {
	sessions *service.SessionService
	classes  *service.ClassService
	storage  *service.StorageService
}

type controllers struct {
	attendance *controller.AttendanceController
	health     *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initServices(cfg *config.Config, api *repository.AttendanceAPIRepository) (*services, error) {
	s := &services{}

	storage, err := service.NewStorageService(cfg)
	if err != nil {
		return nil, err
	}
	s.storage = storage

	// storage 为 nil 时不能直接赋给接口
	var archiver service.ImportArchiver
	if storage != nil {
		archiver = storage
	}

	s.sessions = service.NewSessionService(api, archiver, cfg)
	s.classes = service.NewClassService(api, cfg)
	return s, nil
}

func (a *App) initControllers(s *services) *controllers {
	return &controllers{
		attendance: controller.NewAttendanceController(s.classes, s.sessions),
		health:     controller.NewHealthController(a.API, s.sessions),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	if cfg.RateLimit.MaxRequests > 0 {
		window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
		router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, window, security.ClientIP, a.stop))
	}

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func NewApp(cfg *config.Config) (*App, error) {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	app := &App{
		Config: cfg,
		API:    repository.NewAttendanceAPIRepository(&cfg.API),
		stop:   make(chan struct{}),
	}

	services, err := app.initServices(cfg, app.API)
	if err != nil {
		return nil, err
	}
	app.services = services
	controllers := app.initControllers(services)

	// 监控初始化
	monitoring.Init()

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("attendance-console", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		app.tracer = tp
	}

	tmpl, err := web.Templates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.SetHTMLTemplate(tmpl)
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)

	app.RegisterConfigCallback(services.sessions.ApplyConfig)
	app.RegisterConfigCallback(services.classes.ApplyConfig)

	return app, nil
}

func (a *App) applyConfig(cfg *config.Config) {
	for _, cb := range a.configCallbacks {
		cb(cfg)
	}
}

func (a *App) startBackgroundTasks(ctx context.Context) {
	go a.services.sessions.RunJanitor(ctx)

	if a.ConfigFile != "" {
		go func() {
			if err := configwatcher.WatchConfig(ctx, a.ConfigFile, a.applyConfig); err != nil {
				logger.Log.Error("Config watcher stopped", zap.Error(err))
			}
		}()
	}
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.startBackgroundTasks(ctx)

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port),
			zap.String("attendance_api", a.Config.API.BaseURL))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	cancel()
	a.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	if a.tracer != nil {
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}

	logger.Log.Info("Server exiting")
}

// Close 停止后台协程，测试中使用
func (a *App) Close() {
	select {
	case <-a.stop:
	default:
		close(a.stop)
	}
}
