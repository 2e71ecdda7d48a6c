package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rentacoder/backend/internal/middleware"
	"github.com/rentacoder/backend/internal/services"
	"github.com/rentacoder/backend/pkg/response"
)

type AuthHandler struct {
	accounts *services.AccountService
}

func NewAuthHandler(accounts *services.AccountService) *AuthHandler {
	return &AuthHandler{accounts: accounts}
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type resetPasswordRequest struct {
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// Register creates an inactive account and mails its verification link
// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req services.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, err := h.accounts.Register(c.Request.Context(), &req)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Created(c, user)
}

// Verify activates the account owning the token
// GET /api/auth/verify/:token
func (h *AuthHandler) Verify(c *gin.Context) {
	user, err := h.accounts.ConsumeVerificationToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "account activated", "user": user})
}

// Login handles user login
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.accounts.Login(c.Request.Context(), &req)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, resp)
}

// ForgotPassword mails a reset link when an active account uses the email.
// The answer is the same either way.
// POST /api/auth/forgot-password
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.accounts.RequestPasswordResetByEmail(c.Request.Context(), req.Email); err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "if the email belongs to an active account, a reset link was sent"})
}

// CheckResetPassword tells the client whether the reset form can be shown
// GET /api/auth/reset-password/:token
func (h *AuthHandler) CheckResetPassword(c *gin.Context) {
	if err := h.accounts.CheckResetToken(c.Request.Context(), c.Param("token")); err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, gin.H{"valid": true})
}

// ResetPassword sets a new password through a reset token
// POST /api/auth/reset-password/:token
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.Password != req.ConfirmPassword {
		renderError(c, services.ErrResetPasswordNotMatch)
		return
	}

	if err := h.accounts.ConsumeAndApplyPasswordReset(c.Request.Context(), c.Param("token"), req.Password); err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "password updated"})
}

// GetCurrentUser returns the current logged-in user
// GET /api/auth/me
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	user, err := h.accounts.GetUserByID(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, user)
}

// Logout handles user logout (client-side token removal)
// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	response.Success(c, gin.H{"message": "logged out successfully"})
}
