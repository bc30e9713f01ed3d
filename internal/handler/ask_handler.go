package handler

import (
	"errors"
	"net/http"

	"docvault-go/internal/middleware"
	"docvault-go/internal/service"
	"docvault-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// AskHandler 处理基于已索引文档的问答请求。
type AskHandler struct {
	askService service.AskService
}

// NewAskHandler 创建一个新的 AskHandler。
func NewAskHandler(askService service.AskService) *AskHandler {
	return &AskHandler{askService: askService}
}

// AskRequest 是问答接口的请求体。
type AskRequest struct {
	Question string `json:"question" binding:"required"`
}

// Ask 检索当前用户的文档并生成答案。
func (h *AskHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	userID, _ := middleware.UserID(c)

	result, err := h.askService.Ask(c.Request.Context(), userID, req.Question)
	if err != nil {
		if errors.Is(err, service.ErrEmptyQuestion) {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		log.Errorf("[AskHandler] 问答失败, 用户ID: %d, Error: %v", userID, err)
		fail(c, http.StatusBadGateway, "AI服务暂时不可用，请稍后重试")
		return
	}
	respond(c, http.StatusOK, "success", result)
}

// History 返回当前用户最近的问答记录。
func (h *AskHandler) History(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	history, err := h.askService.History(c.Request.Context(), userID)
	if err != nil {
		log.Errorf("[AskHandler] 获取问答历史失败: %v", err)
		fail(c, http.StatusInternalServerError, "Failed to retrieve ask history")
		return
	}
	respond(c, http.StatusOK, "success", history)
}
