package models

import "time"

type TokenPurpose string

const (
	TokenPurposeEmailVerification TokenPurpose = "email_verification"
	TokenPurposePasswordReset     TokenPurpose = "password_reset"
)

// Token is an expiring single-use credential. Only the SHA-256 of the value
// handed out is stored. An account holds at most one token per purpose.
type Token struct {
	ID        uint         `gorm:"primaryKey" json:"id"`
	UserID    uint         `gorm:"uniqueIndex:idx_tokens_user_purpose;not null" json:"user_id"`
	Purpose   TokenPurpose `gorm:"uniqueIndex:idx_tokens_user_purpose;size:32;not null" json:"purpose"`
	TokenHash string       `gorm:"uniqueIndex;size:64;not null" json:"-"`
	ExpiresAt time.Time    `gorm:"index;not null" json:"expires_at"`
	CreatedAt time.Time    `json:"created_at"`
	User      *User        `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (Token) TableName() string { return "tokens" }

// IsValid reports whether the token may still be consumed at now. The expiry
// instant itself is inclusive.
func (t *Token) IsValid(now time.Time) bool {
	return !now.After(t.ExpiresAt)
}
