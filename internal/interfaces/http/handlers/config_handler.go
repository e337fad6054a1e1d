package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/llm-council/llm-council/gateway/internal/domain/service"
	"github.com/llm-council/llm-council/gateway/internal/infrastructure/config"
)

// ConfigHandler exposes the runtime configuration endpoints.
type ConfigHandler struct {
	store  *config.Store
	client service.ModelClient
	logger *zap.Logger
}

// NewConfigHandler creates the configuration handler.
func NewConfigHandler(store *config.Store, client service.ModelClient, logger *zap.Logger) *ConfigHandler {
	return &ConfigHandler{
		store:  store,
		client: client,
		logger: logger,
	}
}

// configUpdateRequest is the PUT /api/config payload. All fields optional;
// absent fields keep their current value.
type configUpdateRequest struct {
	CouncilModels  []string `json:"council_models"`
	ChairmanModel  string   `json:"chairman_model"`
	BackendMode    string   `json:"backend_mode"`
	BackendBaseURL string   `json:"backend_base_url"`
}

// GetConfig handles GET /api/config.
func (h *ConfigHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Get())
}

// UpdateConfig handles PUT /api/config. Requested models are checked against
// the backend before anything is persisted; unknown models reject the whole
// update.
func (h *ConfigHandler) UpdateConfig(c *gin.Context) {
	var req configUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error(), "invalid_request_error", ""))
		return
	}

	toCheck := append([]string(nil), req.CouncilModels...)
	if req.ChairmanModel != "" {
		toCheck = append(toCheck, req.ChairmanModel)
	}
	if len(toCheck) > 0 {
		valid := h.client.Validate(c.Request.Context(), toCheck)
		var unknown []string
		for _, m := range toCheck {
			if !valid[m] {
				unknown = append(unknown, m)
			}
		}
		if len(unknown) > 0 {
			c.JSON(http.StatusBadRequest, errorResponse(
				"unknown models: "+strings.Join(unknown, ", "),
				"invalid_request_error", "unknown_model"))
			return
		}
	}

	updated, err := h.store.Update(config.Overlay{
		CouncilModels:  req.CouncilModels,
		ChairmanModel:  req.ChairmanModel,
		BackendMode:    req.BackendMode,
		BackendBaseURL: req.BackendBaseURL,
	})
	if err != nil {
		h.logger.Error("Failed to update configuration", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse("failed to persist configuration", "server_error", ""))
		return
	}

	c.JSON(http.StatusOK, updated)
}

// ReloadConfig handles POST /api/config/reload: drop the cache and resolve
// from disk and environment again.
func (h *ConfigHandler) ReloadConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Reload())
}

// ValidateModels handles GET /api/config/validate?models=a,b,c.
func (h *ConfigHandler) ValidateModels(c *gin.Context) {
	raw := c.Query("models")
	var models []string
	for _, m := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(m); trimmed != "" {
			models = append(models, trimmed)
		}
	}
	if len(models) == 0 {
		c.JSON(http.StatusBadRequest, errorResponse("models query parameter is required", "invalid_request_error", ""))
		return
	}

	c.JSON(http.StatusOK, gin.H{"models": h.client.Validate(c.Request.Context(), models)})
}
