package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"docvault-go/internal/middleware"
	"docvault-go/internal/model"
	"docvault-go/internal/repository"
	"docvault-go/internal/service"
	"docvault-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// VersionHandler 负责版本状态查询、订阅与重新索引。
type VersionHandler struct {
	versionService service.VersionService
	pollInterval   time.Duration
}

// NewVersionHandler 创建一个新的 VersionHandler。
func NewVersionHandler(versionService service.VersionService, pollInterval time.Duration) *VersionHandler {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &VersionHandler{versionService: versionService, pollInterval: pollInterval}
}

// statusEvent 是状态查询和 WebSocket 推送共用的响应体。
type statusEvent struct {
	VersionID       uuid.UUID              `json:"versionId"`
	DocumentID      uuid.UUID              `json:"documentId"`
	VersionNumber   int                    `json:"versionNumber"`
	Filename        string                 `json:"originalFilename"`
	Status          model.ProcessingStatus `json:"status"`
	Terminal        bool                   `json:"terminal"`
	Searchable      bool                   `json:"searchable"`
	LastProcessedAt *time.Time             `json:"lastProcessedAt"`
}

func newStatusEvent(v *model.DocumentVersion) statusEvent {
	return statusEvent{
		VersionID:       v.ID,
		DocumentID:      v.DocumentID,
		VersionNumber:   v.VersionNumber,
		Filename:        v.OriginalFilename,
		Status:          v.Status,
		Terminal:        v.Status.IsTerminal(),
		Searchable:      v.IsLatest && v.Status.IsIndexed(),
		LastProcessedAt: v.LastProcessedAt,
	}
}

func (h *VersionHandler) versionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("versionId"))
	if err != nil {
		fail(c, http.StatusBadRequest, "无效的版本ID")
		return uuid.Nil, false
	}
	return id, true
}

// Status 返回版本的当前处理状态。
func (h *VersionHandler) Status(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	id, ok := h.versionID(c)
	if !ok {
		return
	}
	v, err := h.versionService.Status(c.Request.Context(), userID, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", newStatusEvent(v))
}

// Reindex 重新提交版本的处理任务。
func (h *VersionHandler) Reindex(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	id, ok := h.versionID(c)
	if !ok {
		return
	}
	if err := h.versionService.Reindex(c.Request.Context(), userID, id); err != nil {
		h.writeError(c, err)
		return
	}
	respond(c, http.StatusAccepted, "已提交重新索引", gin.H{"versionId": id})
}

// Watch 升级为 WebSocket，每次状态变化推送一条 statusEvent，到达终态后关闭连接。
func (h *VersionHandler) Watch(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	id, ok := h.versionID(c)
	if !ok {
		return
	}
	// 升级前先校验归属，未授权时仍能返回普通 HTTP 错误
	if _, err := h.versionService.Status(c.Request.Context(), userID, id); err != nil {
		h.writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("[VersionHandler] WebSocket 升级失败: %v", err)
		return
	}
	defer conn.Close()
	log.Infof("[VersionHandler] 状态订阅已建立, 用户ID: %d, VersionID: %s", userID, id)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	// 客户端断开时结束轮询
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	err = h.versionService.Watch(ctx, userID, id, h.pollInterval, func(v *model.DocumentVersion) error {
		return conn.WriteJSON(newStatusEvent(v))
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warnf("[VersionHandler] 状态订阅中断, VersionID: %s, Error: %v", id, err)
		_ = conn.WriteJSON(gin.H{"error": "状态订阅中断"})
		return
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
}

func (h *VersionHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrVersionNotFound):
		fail(c, http.StatusNotFound, "版本不存在")
	case errors.Is(err, service.ErrEnqueueFailed):
		fail(c, http.StatusServiceUnavailable, "任务排队失败，请稍后重试")
	default:
		log.Errorf("[VersionHandler] 请求失败, path: %s, Error: %v", c.Request.URL.Path, err)
		fail(c, http.StatusInternalServerError, "服务器内部错误")
	}
}
