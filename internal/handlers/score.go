package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rentacoder/backend/internal/middleware"
	"github.com/rentacoder/backend/internal/models"
	"github.com/rentacoder/backend/internal/services"
	"github.com/rentacoder/backend/pkg/response"
)

type ScoreHandler struct {
	scores *services.ScoreService
}

func NewScoreHandler(scores *services.ScoreService) *ScoreHandler {
	return &ScoreHandler{scores: scores}
}

type submitScoreRequest struct {
	Score int `json:"score" binding:"required"`
}

// Overview returns pending scores and the caller's history as coder and owner
// GET /api/scores
func (h *ScoreHandler) Overview(c *gin.Context) {
	overview, err := h.scores.Overview(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, overview)
}

// PendingCount
// GET /api/scores/pending/count
func (h *ScoreHandler) PendingCount(c *gin.Context) {
	n, err := h.scores.CountPending(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, gin.H{"count": n})
}

// RateCoder stores the owner's rating of the coder
// POST /api/scores/:id/coder
func (h *ScoreHandler) RateCoder(c *gin.Context) {
	h.submit(c, h.scores.SubmitCoderScore)
}

// RateOwner stores the coder's rating of the project owner
// POST /api/scores/:id/owner
func (h *ScoreHandler) RateOwner(c *gin.Context) {
	h.submit(c, h.scores.SubmitOwnerScore)
}

func (h *ScoreHandler) submit(c *gin.Context, fn func(ctx context.Context, scoreID, userID uint, value int) (*models.ProjectScore, error)) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req submitScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, services.ErrInvalidScore)
		return
	}

	score, err := fn(c.Request.Context(), id, middleware.GetUserID(c), req.Score)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, score)
}
