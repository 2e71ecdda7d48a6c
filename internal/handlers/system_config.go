package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rentacoder/backend/internal/services"
	"github.com/rentacoder/backend/pkg/response"
)

type SystemConfigHandler struct {
	configService *services.SystemConfigService
}

func NewSystemConfigHandler(configService *services.SystemConfigService) *SystemConfigHandler {
	return &SystemConfigHandler{configService: configService}
}

// List returns every runtime setting
// GET /api/admin/settings
func (h *SystemConfigHandler) List(c *gin.Context) {
	configs, err := h.configService.List()
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, configs)
}

// Update writes known settings, e.g. {"reminder_enabled": "false"}
// PUT /api/admin/settings
func (h *SystemConfigHandler) Update(c *gin.Context) {
	var req map[string]string
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.configService.UpdateSettings(req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	h.List(c)
}
