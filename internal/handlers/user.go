package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rentacoder/backend/internal/middleware"
	"github.com/rentacoder/backend/internal/models"
	"github.com/rentacoder/backend/internal/services"
	"github.com/rentacoder/backend/pkg/response"
	"gorm.io/gorm"
)

// UserHandler serves the caller's own profile, public profiles and the
// admin user list.
type UserHandler struct {
	db       *gorm.DB
	accounts *services.AccountService
}

func NewUserHandler(db *gorm.DB, accounts *services.AccountService) *UserHandler {
	return &UserHandler{db: db, accounts: accounts}
}

// PublicProfile is what other users can see of an account.
type PublicProfile struct {
	ID           uint                `json:"id"`
	Username     string              `json:"username"`
	FirstName    string              `json:"first_name"`
	LastName     string              `json:"last_name"`
	Avatar       string              `json:"avatar"`
	Technologies []models.Technology `json:"technologies"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// GetProfile returns the caller's profile
// GET /api/profile
func (h *UserHandler) GetProfile(c *gin.Context) {
	user, err := h.accounts.GetUserByID(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, user)
}

// UpdateProfile edits names, avatar and technologies
// PUT /api/profile
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	var req services.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, err := h.accounts.UpdateProfile(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, user)
}

// ChangePassword
// PUT /api/profile/password
func (h *UserHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.accounts.ChangePassword(c.Request.Context(), middleware.GetUserID(c), req.OldPassword, req.NewPassword); err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "password changed"})
}

// GetPublic returns another user's public profile
// GET /api/users/:id
func (h *UserHandler) GetPublic(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	user, err := h.accounts.GetUserByID(c.Request.Context(), id)
	if err != nil {
		renderError(c, err)
		return
	}
	if !user.IsActive {
		renderError(c, services.ErrUserNotFound)
		return
	}

	response.Success(c, PublicProfile{
		ID:           user.ID,
		Username:     user.Username,
		FirstName:    user.FirstName,
		LastName:     user.LastName,
		Avatar:       user.Avatar,
		Technologies: user.Technologies,
	})
}

// List returns accounts for the admin console
// GET /api/admin/users
func (h *UserHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	username := c.Query("username")
	role := c.Query("role")
	active := c.Query("is_active")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var users []models.User
	var total int64

	query := h.db.WithContext(c.Request.Context()).Model(&models.User{})

	if username != "" {
		query = query.Where("username LIKE ?", "%"+username+"%")
	}
	if role != "" {
		query = query.Where("role = ?", role)
	}
	if active != "" {
		if b, err := strconv.ParseBool(active); err == nil {
			query = query.Where("is_active = ?", b)
		}
	}

	if err := query.Count(&total).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}
	if err := query.Order("id ASC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&users).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"items":     users,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

type UpdateUserRequest struct {
	Role     *string `json:"role"`
	IsActive *bool   `json:"is_active"`
}

// Update changes the role or activation of another account
// PUT /api/admin/users/:id
func (h *UserHandler) Update(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if id == middleware.GetUserID(c) {
		response.BadRequest(c, "cannot modify your own account")
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	updates := make(map[string]interface{})
	if req.Role != nil {
		if *req.Role != models.RoleAdmin && *req.Role != models.RoleUser {
			response.BadRequest(c, "invalid role, must be 'admin' or 'user'")
			return
		}
		updates["role"] = *req.Role
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if len(updates) == 0 {
		response.BadRequest(c, "no fields to update")
		return
	}

	db := h.db.WithContext(c.Request.Context())
	result := db.Model(&models.User{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		response.ServerError(c, result.Error.Error())
		return
	}
	if result.RowsAffected == 0 {
		renderError(c, services.ErrUserNotFound)
		return
	}

	user, err := h.accounts.GetUserByID(c.Request.Context(), id)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, user)
}

// Delete soft-deletes another account
// DELETE /api/admin/users/:id
func (h *UserHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if id == middleware.GetUserID(c) {
		response.BadRequest(c, "cannot delete your own account")
		return
	}

	result := h.db.WithContext(c.Request.Context()).Delete(&models.User{}, id)
	if result.Error != nil {
		response.ServerError(c, result.Error.Error())
		return
	}
	if result.RowsAffected == 0 {
		renderError(c, services.ErrUserNotFound)
		return
	}
	response.Success(c, gin.H{"message": "user deleted"})
}
