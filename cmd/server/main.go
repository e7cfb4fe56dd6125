package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/locationd/internal/ability"
	"github.com/langchou/locationd/internal/api/handlers"
	"github.com/langchou/locationd/internal/config"
	"github.com/langchou/locationd/internal/metrics"
	"github.com/langchou/locationd/internal/models"
	"github.com/langchou/locationd/internal/repository"
	"github.com/langchou/locationd/internal/service"
	"github.com/langchou/locationd/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting locationd",
		zap.String("port", cfg.ServerPort),
		zap.String("device_id", cfg.DeviceID))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库（可选）
	var (
		historyStore  service.HistoryStore
		historyLister handlers.HistoryLister
	)
	if cfg.DatabaseURL != "" {
		db, err := repository.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to connect database", zap.Error(err))
		}
		defer db.Close()

		// 执行数据库迁移
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		logger.Info("Database migrated successfully")

		historyRepo := repository.NewHistoryRepository(db)
		historyStore = historyRepo
		historyLister = historyRepo
	} else {
		logger.Warn("DATABASE_URL not set, request history disabled")
	}

	recorder := metrics.NewRecorder()

	// 创建定位能力
	backends := make([]ability.Backend, 0, len(models.Abilities))
	for _, name := range models.Abilities {
		backends = append(backends, ability.NewLoopback(name, logger))
	}

	// 创建分发器
	dispatcher := service.NewDispatcher(
		cfg,
		logger,
		service.NewStaticPermissionChecker(cfg.AllowedTokens),
		historyStore,
		recorder,
		backends...,
	)

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)
	wsHub.SetInitDataProvider(func() *ws.InitData {
		return &ws.InitData{
			Aggregates: dispatcher.Aggregates(),
			States:     dispatcher.States(),
		}
	})
	go wsHub.Run()

	// 订阅聚合结果并广播到 WebSocket
	aggCh := dispatcher.Subscribe()
	go func() {
		for agg := range aggCh {
			wsHub.BroadcastAggregate(agg)
		}
	}()

	dispatcher.Start(ctx)

	// 创建逆地理编码
	geocoder := ability.NewGeocoder(ability.GeocoderOptions{
		AmapAPIKey:  cfg.AmapAPIKey,
		CacheTTL:    cfg.GeocodeCacheTTL,
		MinInterval: cfg.NominatimMinInterval,
	}, logger, recorder)
	logger.Info("Geocoder initialized", zap.String("provider", geocoder.Provider()))

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(
		logger,
		dispatcher,
		geocoder,
		historyLister,
		wsHub,
	)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// 注册路由
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// 停止服务
	dispatcher.Stop()
	wsHub.Close()

	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
