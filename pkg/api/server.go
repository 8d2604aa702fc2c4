package api

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"QuantSync/pkg/config"
	"QuantSync/pkg/logger"
)

// Server API服务器
type Server struct {
	router *gin.Engine
	srv    *http.Server
	logger *logrus.Entry
}

// NewServer 创建新的API服务器
func NewServer(cfg config.APIConfig) *Server {
	router := gin.New()
	log := logger.WithComponent("api")

	// 设置中间件
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{
		router: router,
		srv:    srv,
		logger: log,
	}
}

// requestLogger 请求日志
func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		}).Info("HTTP请求")
	}
}

// SetupRoutes 设置路由
func (s *Server) SetupRoutes(handlers *Handlers, auth gin.HandlerFunc) {
	// 健康检查
	s.router.GET("/health", handlers.HealthCheck)
	s.router.GET("/ready", handlers.ReadinessCheck)

	quant := s.router.Group("/api/admin/quant", auth)
	{
		// 扇出同步任务
		quant.POST("/kline/sync_kline_1d", handlers.SyncKlines)
		quant.POST("/kline/sync_single_kline_1d", handlers.SyncSingleKline)
		quant.POST("/stock/kline/sync_all", handlers.SyncKlines)
		quant.POST("/industry/sync_relation", handlers.SyncIndustryRelations)
		quant.POST("/concept/sync_relation", handlers.SyncConceptRelations)
		quant.POST("/stock/sync_list", handlers.SyncStockList)
		quant.POST("/industry/sync_list", handlers.SyncIndustryList)
		quant.POST("/concept/sync_list", handlers.SyncConceptList)

		// 任务进度
		quant.GET("/jobs/:job_set_id", handlers.JobProgress)
		quant.GET("/jobs/:job_set_id/records", handlers.JobRecords)
		quant.POST("/jobs/:job_set_id/cancel", handlers.CancelJobs)

		// 查询
		quant.GET("/kline", handlers.GetKlines)
		quant.GET("/stock/:code", handlers.GetStock)
	}
}

// Handler 供测试直接调用
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动服务器，收到中断信号后优雅关闭
func (s *Server) Start() error {
	errCh := make(chan error, 1)
	// 在goroutine中启动服务器
	go func() {
		s.logger.Infof("API服务器启动在 %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	s.logger.Info("正在关闭服务器...")

	// 设置超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 优雅关闭
	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}

	s.logger.Info("服务器已关闭")
	return nil
}
