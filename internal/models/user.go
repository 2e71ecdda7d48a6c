package models

import (
	"time"

	"gorm.io/gorm"
)

// User is a registered account. A username or email is only reserved while
// the account holding it is active.
type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Username     string         `gorm:"uniqueIndex;size:150;not null" json:"username"`
	Email        string         `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Password     string         `gorm:"size:255" json:"-"` // bcrypt hash
	FirstName    string         `gorm:"size:100" json:"first_name"`
	LastName     string         `gorm:"size:100" json:"last_name"`
	Avatar       string         `gorm:"size:500" json:"avatar"`
	Role         string         `gorm:"size:50;default:user" json:"role"` // admin, user
	IsActive     bool           `gorm:"default:false" json:"is_active"`
	Technologies []Technology   `gorm:"many2many:user_technologies;" json:"technologies,omitempty"`
	LastLogin    *time.Time     `json:"last_login"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string { return "users" }

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// FullName joins first and last name, falling back to the username.
func (u *User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	}
	return u.Username
}
