package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rentacoder/backend/internal/config"
	"github.com/rentacoder/backend/internal/models"
	"github.com/rentacoder/backend/internal/utils"
	"github.com/rentacoder/backend/pkg/logger"
	"gorm.io/gorm"
)

// AccountService drives registration, activation, login and password reset.
type AccountService struct {
	db         *gorm.DB
	tokens     *TokenStore
	dispatcher Dispatcher
	clock      Clock
	baseURL    string
	jwtConfig  *config.JWTConfig
}

func NewAccountService(db *gorm.DB, tokens *TokenStore, dispatcher Dispatcher, clock Clock, appCfg *config.AppConfig, jwtCfg *config.JWTConfig) *AccountService {
	if clock == nil {
		clock = SystemClock
	}
	if dispatcher == nil {
		dispatcher = NoopDispatcher{}
	}
	return &AccountService{
		db:         db,
		tokens:     tokens,
		dispatcher: dispatcher,
		clock:      clock,
		baseURL:    strings.TrimRight(appCfg.BaseURL, "/"),
		jwtConfig:  jwtCfg,
	}
}

type RegisterRequest struct {
	Username  string `json:"username" binding:"required,max=150"`
	FirstName string `json:"first_name" binding:"required,max=100"`
	LastName  string `json:"last_name" binding:"required,max=100"`
	Email     string `json:"email" binding:"required,email,max=255"`
	Password  string `json:"password" binding:"required"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResult struct {
	Token    string       `json:"token"`
	ExpireAt time.Time    `json:"expire_at"`
	User     *models.User `json:"user"`
}

// VerificationURL is the link mailed after registration.
func (s *AccountService) VerificationURL(token string) string {
	return s.baseURL + "/api/auth/verify/" + token
}

// ResetPasswordURL is the link mailed for a password reset.
func (s *AccountService) ResetPasswordURL(token string) string {
	return s.baseURL + "/api/auth/reset-password/" + token
}

// CheckIdentifierAvailability reports whether username and email are free.
// Inactive accounts holding either identifier are deleted as a side effect.
// The returned error joins ErrUsernameInUse and/or ErrEmailInUse.
func (s *AccountService) CheckIdentifierAvailability(ctx context.Context, username, email string) (bool, error) {
	var conflicts []error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		conflicts, err = s.reclaimIdentifiers(tx, username, email)
		return err
	})
	if err != nil {
		return false, unexpected(err, "identifier availability check failed")
	}
	if len(conflicts) > 0 {
		return false, errors.Join(conflicts...)
	}
	return true, nil
}

func (s *AccountService) reclaimIdentifiers(tx *gorm.DB, username, email string) ([]error, error) {
	var conflicts []error
	reclaimed := make(map[uint]bool)

	checks := []struct {
		column   string
		value    string
		conflict error
	}{
		{"username", username, ErrUsernameInUse},
		{"email", email, ErrEmailInUse},
	}

	for _, c := range checks {
		var holder models.User
		err := tx.Unscoped().Where(c.column+" = ?", c.value).First(&holder).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if holder.IsActive {
			conflicts = append(conflicts, c.conflict)
			continue
		}
		if reclaimed[holder.ID] {
			continue
		}
		if err := s.deleteInactiveUser(tx, &holder); err != nil {
			return nil, err
		}
		reclaimed[holder.ID] = true
		logger.Info().Uint("user_id", holder.ID).Str(c.column, c.value).Msg("reclaimed identifier from inactive account")
	}
	return conflicts, nil
}

func (s *AccountService) deleteInactiveUser(tx *gorm.DB, user *models.User) error {
	if err := s.tokens.DeleteForUser(tx, user.ID); err != nil {
		return err
	}
	if err := tx.Model(user).Association("Technologies").Clear(); err != nil {
		return err
	}
	return tx.Unscoped().Delete(user).Error
}

// Register creates an inactive account with a verification token and mails
// the activation link once the transaction committed.
func (s *AccountService) Register(ctx context.Context, req *RegisterRequest) (*models.User, error) {
	if len(req.Password) < utils.MinPasswordLength {
		return nil, ErrInvalidPassword
	}
	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, unexpected(err, "password hashing failed")
	}

	var (
		user      *models.User
		rawToken  string
		conflicts []error
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := s.reclaimIdentifiers(tx, req.Username, req.Email)
		if err != nil {
			return err
		}
		if len(c) > 0 {
			// commit whatever was reclaimed, create nothing
			conflicts = c
			return nil
		}

		u := &models.User{
			Username:  req.Username,
			Email:     req.Email,
			Password:  hash,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Role:      models.RoleUser,
			IsActive:  false,
		}
		if err := tx.Create(u).Error; err != nil {
			return err
		}

		raw, _, err := s.tokens.Issue(tx, u.ID, models.TokenPurposeEmailVerification)
		if err != nil {
			return err
		}
		user, rawToken = u, raw
		return nil
	})

	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			logger.Error().Err(err).Str("username", req.Username).Str("email", req.Email).Msg("registration lost a uniqueness race")
			return nil, ErrUnknown
		}
		return nil, unexpected(err, "registration failed")
	}
	if len(conflicts) > 0 {
		return nil, errors.Join(conflicts...)
	}

	logger.Info().Uint("user_id", user.ID).Str("username", user.Username).Msg("account registered")
	notify(ctx, s.dispatcher, TemplateRegisterEmail, user.Email, map[string]any{
		"user_name": user.FirstName,
		"url_token": s.VerificationURL(rawToken),
	})
	return user, nil
}

// ConsumeVerificationToken activates the owning account and deletes the
// token. Expired tokens are kept.
func (s *AccountService) ConsumeVerificationToken(ctx context.Context, value string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		token, err := s.tokens.Lookup(tx, value, models.TokenPurposeEmailVerification)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTokenNotFound
		}
		if err != nil {
			return err
		}
		if !s.tokens.IsValid(token) {
			return ErrTokenNotValid
		}

		if err := tx.Model(&models.User{}).Where("id = ?", token.UserID).Update("is_active", true).Error; err != nil {
			return err
		}
		if err := s.tokens.Delete(tx, token); err != nil {
			return err
		}
		return tx.First(&user, token.UserID).Error
	})
	if err != nil {
		return nil, unexpected(err, "verification token consumption failed")
	}

	logger.Info().Uint("user_id", user.ID).Msg("account activated")
	return &user, nil
}

// RequestPasswordReset replaces the account's reset token and mails the link.
func (s *AccountService) RequestPasswordReset(ctx context.Context, user *models.User) error {
	var rawToken string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		raw, _, err := s.tokens.Issue(tx, user.ID, models.TokenPurposePasswordReset)
		rawToken = raw
		return err
	})
	if err != nil {
		return unexpected(err, "password reset token creation failed")
	}

	notify(ctx, s.dispatcher, TemplateResetPassword, user.Email, map[string]any{
		"user_first_name": capitalize(user.FirstName),
		"url_token":       s.ResetPasswordURL(rawToken),
	})
	return nil
}

// RequestPasswordResetByEmail behaves the same whether or not an active
// account uses email.
func (s *AccountService) RequestPasswordResetByEmail(ctx context.Context, email string) error {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ? AND is_active = ?", email, true).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Debug().Str("email", email).Msg("password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return unexpected(err, "password reset lookup failed")
	}
	return s.RequestPasswordReset(ctx, &user)
}

// CheckResetToken tells whether a reset link can still be used.
func (s *AccountService) CheckResetToken(ctx context.Context, value string) error {
	token, err := s.tokens.Lookup(s.db.WithContext(ctx), value, models.TokenPurposePasswordReset)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrTokenNotValid
	}
	if err != nil {
		return unexpected(err, "reset token lookup failed")
	}
	if !s.tokens.IsValid(token) {
		return ErrResetPasswordExpired
	}
	return nil
}

// ConsumeAndApplyPasswordReset sets a new password and deletes the reset
// token. The token survives every failure.
func (s *AccountService) ConsumeAndApplyPasswordReset(ctx context.Context, value, newPassword string) error {
	var userID uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		token, err := s.tokens.Lookup(tx, value, models.TokenPurposePasswordReset)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTokenNotValid
		}
		if err != nil {
			return err
		}
		if !s.tokens.IsValid(token) {
			return ErrResetPasswordExpired
		}

		var user models.User
		if err := tx.First(&user, token.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTokenNotValid
			}
			return err
		}
		if !acceptableNewPassword(&user, newPassword) {
			return ErrInvalidPassword
		}

		hash, err := utils.HashPassword(newPassword)
		if err != nil {
			return err
		}
		if err := tx.Model(&user).Update("password", hash).Error; err != nil {
			return err
		}
		userID = user.ID
		return s.tokens.Delete(tx, token)
	})
	if err != nil {
		return unexpected(err, "password reset failed")
	}

	logger.Info().Uint("user_id", userID).Msg("password reset applied")
	return nil
}

// acceptableNewPassword enforces the password policy and rejects reusing
// the current password.
func acceptableNewPassword(user *models.User, password string) bool {
	if len(password) < utils.MinPasswordLength {
		return false
	}
	return !utils.CheckPassword(password, user.Password)
}

// Login authenticates an active, non-deleted account and returns a JWT.
func (s *AccountService) Login(ctx context.Context, req *LoginRequest) (*LoginResult, error) {
	var user models.User
	err := s.db.WithContext(ctx).Preload("Technologies").Where("username = ?", req.Username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, unexpected(err, "login lookup failed")
	}
	if !utils.CheckPassword(req.Password, user.Password) {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	token, err := utils.GenerateToken(user.ID, user.Username, user.Role, s.jwtConfig.ExpireHour)
	if err != nil {
		return nil, unexpected(err, "token generation failed")
	}

	now := s.clock.Now()
	user.LastLogin = &now
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).Update("last_login", now).Error; err != nil {
		logger.Warn().Err(err).Uint("user_id", user.ID).Msg("failed to record last login")
	}

	return &LoginResult{
		Token:    token,
		ExpireAt: now.Add(time.Duration(s.jwtConfig.ExpireHour) * time.Hour),
		User:     &user,
	}, nil
}

// ChangePassword requires the current password.
func (s *AccountService) ChangePassword(ctx context.Context, userID uint, oldPassword, newPassword string) error {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !utils.CheckPassword(oldPassword, user.Password) {
		return ErrIncorrectPassword
	}
	if !acceptableNewPassword(user, newPassword) {
		return ErrInvalidPassword
	}
	hash, err := utils.HashPassword(newPassword)
	if err != nil {
		return unexpected(err, "password hashing failed")
	}
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).Update("password", hash).Error; err != nil {
		return unexpected(err, "password change failed")
	}
	return nil
}

type UpdateProfileRequest struct {
	FirstName    *string  `json:"first_name" binding:"omitempty,max=100"`
	LastName     *string  `json:"last_name" binding:"omitempty,max=100"`
	Avatar       *string  `json:"avatar" binding:"omitempty,max=500"`
	Technologies []string `json:"technologies"`
}

// UpdateProfile edits the caller's own profile. A nil Technologies slice
// leaves the tags untouched, an empty one clears them.
func (s *AccountService) UpdateProfile(ctx context.Context, userID uint, req *UpdateProfileRequest) (*models.User, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		updates := map[string]interface{}{}
		if req.FirstName != nil {
			updates["first_name"] = *req.FirstName
		}
		if req.LastName != nil {
			updates["last_name"] = *req.LastName
		}
		if req.Avatar != nil {
			updates["avatar"] = *req.Avatar
		}
		if len(updates) > 0 {
			if err := tx.Model(&user).Updates(updates).Error; err != nil {
				return err
			}
		}

		if req.Technologies != nil {
			techs, err := resolveTechnologies(tx, req.Technologies)
			if err != nil {
				return err
			}
			if err := replaceTechnologies(tx, &user, techs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, unexpected(err, "profile update failed")
	}
	return s.GetUserByID(ctx, userID)
}

func (s *AccountService) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Preload("Technologies").First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, unexpected(err, "user lookup failed")
	}
	return &user, nil
}

// CreateAdminIfNotExists bootstraps a pre-activated admin account.
func (s *AccountService) CreateAdminIfNotExists(ctx context.Context, cfg *config.AdminConfig) error {
	var count int64
	if err := s.db.WithContext(ctx).Unscoped().Model(&models.User{}).Where("username = ?", cfg.Username).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := utils.HashPassword(cfg.Password)
	if err != nil {
		return err
	}
	admin := models.User{
		Username: cfg.Username,
		Email:    cfg.Email,
		Password: hash,
		Role:     models.RoleAdmin,
		IsActive: true,
	}
	if err := s.db.WithContext(ctx).Create(&admin).Error; err != nil {
		return err
	}
	logger.Infof("[Account] Created admin account %q", cfg.Username)
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
