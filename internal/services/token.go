package services

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/rentacoder/backend/internal/models"
	"gorm.io/gorm"
)

// DefaultTokenTTL is used when no lifetime is configured.
const DefaultTokenTTL = 24 * time.Hour

// TokenStore issues and looks up expiring single-use tokens. Callers pass
// the transaction the token operation belongs to.
type TokenStore struct {
	clock Clock
	ttl   time.Duration
}

func NewTokenStore(clock Clock, ttl time.Duration) *TokenStore {
	if clock == nil {
		clock = SystemClock
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenStore{clock: clock, ttl: ttl}
}

// TTL returns the lifetime given to new tokens.
func (s *TokenStore) TTL() time.Duration {
	return s.ttl
}

// Issue replaces any token of the given purpose owned by userID with a fresh
// one and returns its raw value. Only the hash is persisted.
func (s *TokenStore) Issue(tx *gorm.DB, userID uint, purpose models.TokenPurpose) (string, *models.Token, error) {
	if err := tx.Where("user_id = ? AND purpose = ?", userID, purpose).Delete(&models.Token{}).Error; err != nil {
		return "", nil, err
	}

	value := uuid.NewString()
	token := &models.Token{
		UserID:    userID,
		Purpose:   purpose,
		TokenHash: HashToken(value),
		ExpiresAt: s.clock.Now().Add(s.ttl),
	}
	if err := tx.Create(token).Error; err != nil {
		return "", nil, err
	}
	return value, token, nil
}

// Lookup finds the token of the given purpose for a raw value. It returns
// gorm.ErrRecordNotFound when there is none.
func (s *TokenStore) Lookup(tx *gorm.DB, value string, purpose models.TokenPurpose) (*models.Token, error) {
	if value == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var token models.Token
	err := tx.Where("token_hash = ? AND purpose = ?", HashToken(value), purpose).First(&token).Error
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// IsValid reports whether token can still be consumed.
func (s *TokenStore) IsValid(token *models.Token) bool {
	return token.IsValid(s.clock.Now())
}

func (s *TokenStore) Delete(tx *gorm.DB, token *models.Token) error {
	return tx.Delete(token).Error
}

// DeleteForUser removes every token owned by userID.
func (s *TokenStore) DeleteForUser(tx *gorm.DB, userID uint) error {
	return tx.Where("user_id = ?", userID).Delete(&models.Token{}).Error
}

// HashToken returns the hex SHA-256 of a raw token value.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
