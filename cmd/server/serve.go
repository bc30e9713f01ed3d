package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"docvault-go/internal/handler"
	"docvault-go/internal/repository"
	"docvault-go/internal/service"
	"docvault-go/pkg/llm"
	"docvault-go/pkg/log"
	"docvault-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	serveWithWorker    bool
	serveWatchInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP API（默认同时运行摄取 worker）",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithWorker, "with-worker", true, "在同一进程中运行 Kafka 消费者")
	serveCmd.Flags().DurationVar(&serveWatchInterval, "watch-interval", time.Second, "WebSocket 状态订阅的轮询间隔")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		log.Errorf("[Serve] 启动失败: %v", err)
		return err
	}
	defer rt.Close()

	// 1. Repository
	versionRepo := repository.NewVersionRepository(rt.db)
	chunkRepo := repository.NewChunkSearchRepository(rt.db)
	historyRepo := repository.NewAskHistoryRepository(rt.rdb)

	// 2. Service
	var knn service.KNNSearcher
	if rt.search != nil {
		knn = rt.search
	}
	uploadService := service.NewUploadService(versionRepo, rt.blobs, rt.envelope, rt.producer, cfg.Server.MaxUploadBytes)
	versionService := service.NewVersionService(versionRepo, rt.producer)
	downloadService := service.NewDownloadService(versionRepo, rt.blobs, rt.envelope)
	retrievalService := service.NewRetrievalService(rt.embedder, chunkRepo, knn, cfg.Retrieval)
	askService := service.NewAskService(retrievalService, llm.NewClient(cfg.LLM), historyRepo, cfg.LLM)

	// 3. 路由
	gin.SetMode(cfg.Server.Mode)
	router := handler.NewRouter(handler.Handlers{
		Upload:   handler.NewUploadHandler(uploadService, cfg.Server.MaxUploadBytes),
		Version:  handler.NewVersionHandler(versionService, serveWatchInterval),
		Download: handler.NewDownloadHandler(downloadService),
		Ask:      handler.NewAskHandler(askService),
	}, token.NewJWTManager(cfg.JWT.Secret))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP 服务监听失败: %w", err)
		}
		return nil
	})
	if serveWithWorker {
		g.Go(func() error {
			return rt.consumer(gctx).Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("接收到停机信号，正在关闭服务...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("[Serve] 服务异常退出: %v", err)
		return err
	}
	log.Info("服务已优雅关闭")
	return nil
}
