package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rentacoder/backend/internal/config"
	"github.com/rentacoder/backend/internal/middleware"
	"github.com/rentacoder/backend/internal/services"
	"github.com/rentacoder/backend/pkg/logger"
	"github.com/rentacoder/backend/pkg/response"
)

type ProjectHandler struct {
	projects *services.ProjectService
	upload   *config.UploadConfig
}

func NewProjectHandler(projects *services.ProjectService, upload *config.UploadConfig) *ProjectHandler {
	return &ProjectHandler{projects: projects, upload: upload}
}

type questionRequest struct {
	Question string `json:"question" binding:"required,max=2000"`
}

type answerRequest struct {
	Answer string `json:"answer" binding:"required,max=2000"`
}

// List returns paginated open projects
// GET /api/projects
func (h *ProjectHandler) List(c *gin.Context) {
	var req services.ProjectListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.projects.ListOpen(c.Request.Context(), &req)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, resp)
}

// GetByID returns a project as seen by the caller
// GET /api/projects/:id
func (h *ProjectHandler) GetByID(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	detail, err := h.projects.Detail(c.Request.Context(), id, middleware.GetUserID(c))
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, detail)
}

// Create publishes a new project
// POST /api/projects
func (h *ProjectHandler) Create(c *gin.Context) {
	var req services.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	project, err := h.projects.Create(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Created(c, project)
}

// Update edits an open project
// PUT /api/projects/:id
func (h *ProjectHandler) Update(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req services.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	project, err := h.projects.Update(c.Request.Context(), id, middleware.GetUserID(c), &req)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, project)
}

// Apply sends a job offer for the project
// POST /api/projects/:id/apply
func (h *ProjectHandler) Apply(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req services.ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	offer, err := h.projects.Apply(c.Request.Context(), id, middleware.GetUserID(c), &req)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Created(c, offer)
}

// AcceptOffer
// POST /api/projects/:id/offers/:offer_id/accept
func (h *ProjectHandler) AcceptOffer(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	offerID, ok := paramID(c, "offer_id")
	if !ok {
		return
	}

	offer, err := h.projects.AcceptOffer(c.Request.Context(), id, offerID, middleware.GetUserID(c))
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, offer)
}

// Close ends the project and opens the scoring round
// POST /api/projects/:id/close
func (h *ProjectHandler) Close(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	result, err := h.projects.Close(c.Request.Context(), id, middleware.GetUserID(c))
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, result)
}

// AskQuestion
// POST /api/projects/:id/questions
func (h *ProjectHandler) AskQuestion(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req questionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	question, err := h.projects.AskQuestion(c.Request.Context(), id, middleware.GetUserID(c), req.Question)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Created(c, question)
}

// AnswerQuestion
// POST /api/projects/:id/questions/:question_id/answer
func (h *ProjectHandler) AnswerQuestion(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	questionID, ok := paramID(c, "question_id")
	if !ok {
		return
	}

	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	question, err := h.projects.AnswerQuestion(c.Request.Context(), id, questionID, middleware.GetUserID(c), req.Answer)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, question)
}

// UploadAttachment stores the project's attachment under the upload dir
// POST /api/projects/:id/attachment (multipart field "file")
func (h *ProjectHandler) UploadAttachment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	userID := middleware.GetUserID(c)

	if err := h.projects.CheckOwner(c.Request.Context(), id, userID); err != nil {
		renderError(c, err)
		return
	}

	maxBytes := int64(h.upload.MaxSizeMB) << 20
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+(1<<20))

	file, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file is required")
		return
	}
	if file.Size > maxBytes {
		response.BadRequest(c, fmt.Sprintf("file exceeds %d MB", h.upload.MaxSizeMB))
		return
	}

	dir := filepath.Join(h.upload.Dir, strconv.FormatUint(uint64(id), 10))
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Error().Err(err).Str("dir", dir).Msg("failed to create upload dir")
		response.ServerError(c, "failed to store file")
		return
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	dst := filepath.Join(dir, uuid.NewString()+ext)
	if err := c.SaveUploadedFile(file, dst); err != nil {
		logger.Error().Err(err).Str("path", dst).Msg("failed to save upload")
		response.ServerError(c, "failed to store file")
		return
	}

	project, err := h.projects.SetAttachment(c.Request.Context(), id, userID, filepath.ToSlash(dst))
	if err != nil {
		os.Remove(dst)
		renderError(c, err)
		return
	}

	response.Success(c, project)
}

// ListMine returns the caller's projects, open by default
// GET /api/me/projects?closed=true
func (h *ProjectHandler) ListMine(c *gin.Context) {
	closed, _ := strconv.ParseBool(c.DefaultQuery("closed", "false"))
	h.listOwned(c, closed)
}

// History returns the caller's closed projects
// GET /api/me/projects/history
func (h *ProjectHandler) History(c *gin.Context) {
	h.listOwned(c, true)
}

func (h *ProjectHandler) listOwned(c *gin.Context, closed bool) {
	projects, err := h.projects.ListOwned(c.Request.Context(), middleware.GetUserID(c), closed)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, gin.H{"items": projects, "total": len(projects)})
}

// ListApplications returns the caller's job offers
// GET /api/me/applications
func (h *ProjectHandler) ListApplications(c *gin.Context) {
	offers, err := h.projects.ListApplications(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, gin.H{"items": offers, "total": len(offers)})
}
