package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rentacoder/backend/internal/services"
	"github.com/rentacoder/backend/pkg/response"
)

type TechnologyHandler struct {
	technologies *services.TechnologyService
}

func NewTechnologyHandler(technologies *services.TechnologyService) *TechnologyHandler {
	return &TechnologyHandler{technologies: technologies}
}

// List returns the technology catalogue
// GET /api/technologies
func (h *TechnologyHandler) List(c *gin.Context) {
	techs, err := h.technologies.List()
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, techs)
}
