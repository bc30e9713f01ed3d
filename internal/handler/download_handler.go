package handler

import (
	"errors"
	"mime"
	"net/http"

	"docvault-go/internal/middleware"
	"docvault-go/internal/repository"
	"docvault-go/internal/service"
	"docvault-go/pkg/crypto"
	"docvault-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DownloadHandler 返回解密后的原始文件。
type DownloadHandler struct {
	downloadService service.DownloadService
}

// NewDownloadHandler 创建一个新的 DownloadHandler。
func NewDownloadHandler(downloadService service.DownloadService) *DownloadHandler {
	return &DownloadHandler{downloadService: downloadService}
}

// Download 以附件形式返回版本的原文。
func (h *DownloadHandler) Download(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	id, err := uuid.Parse(c.Param("versionId"))
	if err != nil {
		fail(c, http.StatusBadRequest, "无效的版本ID")
		return
	}

	v, data, err := h.downloadService.Download(c.Request.Context(), userID, id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrVersionNotFound):
			fail(c, http.StatusNotFound, "版本不存在")
		case errors.Is(err, service.ErrVersionInfected):
			fail(c, http.StatusForbidden, "文件已被判定为感染文件，禁止下载")
		case errors.Is(err, service.ErrBlobUnavailable):
			fail(c, http.StatusServiceUnavailable, "存储服务暂不可用，请稍后重试")
		default:
			log.Errorf("[DownloadHandler] 下载失败, 用户ID: %d, VersionID: %s, Error: %v", userID, id, err)
			fail(c, http.StatusInternalServerError, "服务器内部错误")
		}
		return
	}
	defer crypto.Wipe(data)

	contentType := v.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": v.OriginalFilename}))
	c.Data(http.StatusOK, contentType, data)
}
