package handler

import (
	"net/http"

	"docvault-go/internal/middleware"
	"docvault-go/pkg/metrics"
	"docvault-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// Handlers 汇总了路由需要的全部控制器。
type Handlers struct {
	Upload   *UploadHandler
	Version  *VersionHandler
	Download *DownloadHandler
	Ask      *AskHandler
}

// NewRouter 创建 Gin 引擎并注册全部路由。
func NewRouter(h Handlers, jwtManager *token.JWTManager) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), metrics.GinMiddleware(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", metrics.Handler())

	vault := r.Group("/api/v1/vault")
	vault.Use(middleware.AuthMiddleware(jwtManager))
	{
		vault.POST("/documents", h.Upload.Upload)
		vault.POST("/documents/:documentId/versions", h.Upload.Upload)

		vault.GET("/versions/:versionId/status", h.Version.Status)
		vault.POST("/versions/:versionId/reindex", h.Version.Reindex)
		vault.GET("/versions/:versionId/watch", h.Version.Watch)
		vault.GET("/versions/:versionId/download", h.Download.Download)

		vault.POST("/ask", h.Ask.Ask)
		vault.GET("/ask/history", h.Ask.History)
	}
	return r
}
