package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/llm-council/llm-council/gateway/internal/domain/repository"
	domainErrors "github.com/llm-council/llm-council/gateway/pkg/errors"
)

// ConversationHandler exposes the stored conversation log.
type ConversationHandler struct {
	repo   repository.ConversationRepository
	logger *zap.Logger
}

// NewConversationHandler creates the conversation handler.
func NewConversationHandler(repo repository.ConversationRepository, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{repo: repo, logger: logger}
}

// List handles GET /api/conversations?limit=&offset=.
func (h *ConversationHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	list, err := h.repo.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list conversations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse("failed to list conversations", "server_error", ""))
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

// Get handles GET /api/conversations/:id, returning the full message log
// including council artifacts.
func (h *ConversationHandler) Get(c *gin.Context) {
	id := c.Param("id")
	conv, err := h.repo.Get(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, conv)
	case domainErrors.IsNotFound(err):
		c.JSON(http.StatusNotFound, errorResponse("conversation not found", "not_found_error", ""))
	default:
		h.logger.Error("Failed to load conversation", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse("failed to load conversation", "server_error", ""))
	}
}

// Delete handles DELETE /api/conversations/:id.
func (h *ConversationHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	err := h.repo.Delete(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
	case domainErrors.IsNotFound(err):
		c.JSON(http.StatusOK, gin.H{"id": id, "deleted": false})
	default:
		h.logger.Error("Failed to delete conversation", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse("failed to delete conversation", "server_error", ""))
	}
}
