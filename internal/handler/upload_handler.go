package handler

import (
	"errors"
	"net/http"

	"docvault-go/internal/middleware"
	"docvault-go/internal/repository"
	"docvault-go/internal/service"
	"docvault-go/pkg/log"
	"docvault-go/pkg/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// multipartOverhead 是请求体中除文件内容外允许的额外字节（分隔符、头部、其他字段）。
const multipartOverhead int64 = 1 << 20

// UploadHandler 负责处理文件上传相关的 API 请求。
type UploadHandler struct {
	uploadService service.UploadService
	maxBytes      int64
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(uploadService service.UploadService, maxBytes int64) *UploadHandler {
	return &UploadHandler{uploadService: uploadService, maxBytes: maxBytes}
}

// Upload 处理 multipart 上传。路径中带 documentId 时为已有文档追加新版本。
// 返回 202：文件已加密落盘，摄取在后台异步进行。
func (h *UploadHandler) Upload(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	var documentID *uuid.UUID
	if raw := c.Param("documentId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, "无效的文档ID")
			return
		}
		documentID = &id
	}

	if h.maxBytes > 0 {
		bodyLimit := h.maxBytes + multipartOverhead
		if c.Request.ContentLength > bodyLimit {
			fail(c, http.StatusRequestEntityTooLarge, "文件超过大小限制")
			return
		}
		// 在解析 multipart 之前截断超大请求体
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, bodyLimit)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, "文件超过大小限制")
			return
		}
		fail(c, http.StatusBadRequest, "缺少文件字段 file")
		return
	}
	if h.maxBytes > 0 && fileHeader.Size > h.maxBytes {
		fail(c, http.StatusRequestEntityTooLarge, "文件超过大小限制")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		log.Errorf("[UploadHandler] 打开上传文件失败: %v", err)
		fail(c, http.StatusBadRequest, "无法读取上传文件")
		return
	}
	defer file.Close()

	limit := h.maxBytes
	if limit <= 0 {
		limit = fileHeader.Size
	}
	data, err := storage.ReadAll(file, limit)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, "文件超过大小限制")
			return
		}
		fail(c, http.StatusBadRequest, "无法读取上传文件")
		return
	}

	version, err := h.uploadService.Upload(c.Request.Context(), service.UploadInput{
		OwnerID:    userID,
		DocumentID: documentID,
		Filename:   fileHeader.Filename,
		MimeType:   fileHeader.Header.Get("Content-Type"),
		Data:       data,
	})
	switch {
	case err == nil:
		respond(c, http.StatusAccepted, "上传成功，正在后台处理", version)
	case errors.Is(err, service.ErrEnqueueFailed):
		// 版本已经保存为 pending，稍后可通过重新索引恢复
		respond(c, http.StatusAccepted, "上传成功，但处理任务排队失败，请稍后重新索引", version)
	case errors.Is(err, service.ErrEmptyFile):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrFileTooLarge):
		fail(c, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, repository.ErrDocumentNotFound):
		fail(c, http.StatusNotFound, "文档不存在")
	default:
		log.Errorf("[UploadHandler] 上传失败, 用户ID: %d, Error: %v", userID, err)
		fail(c, http.StatusInternalServerError, "上传失败")
	}
}
