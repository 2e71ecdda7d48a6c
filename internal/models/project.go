package models

import "time"

// Project is a work opportunity published by its owner. Closing is terminal.
type Project struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	Title        string            `gorm:"size:200;not null" json:"title"`
	Description  string            `gorm:"type:text" json:"description"`
	OwnerID      uint              `gorm:"index;not null" json:"owner_id"`
	Owner        *User             `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Technologies []Technology      `gorm:"many2many:project_technologies;" json:"technologies,omitempty"`
	Openings     int               `gorm:"not null;default:1" json:"openings"`
	StartDate    time.Time         `json:"start_date"`
	EndDate      time.Time         `json:"end_date"`
	Closed       bool              `gorm:"default:false;index" json:"closed"`
	Attachment   string            `gorm:"size:500" json:"attachment"`
	Offers       []JobOffer        `gorm:"foreignKey:ProjectID" json:"offers,omitempty"`
	Questions    []ProjectQuestion `gorm:"foreignKey:ProjectID" json:"questions,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func (Project) TableName() string { return "projects" }

// IsOwner reports whether userID owns the project.
func (p *Project) IsOwner(userID uint) bool {
	return p.OwnerID == userID
}

// JobOffer is an application of one account to another account's project.
type JobOffer struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID uint      `gorm:"uniqueIndex:idx_job_offers_project_user;not null" json:"project_id"`
	Project   *Project  `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	UserID    uint      `gorm:"uniqueIndex:idx_job_offers_project_user;index;not null" json:"user_id"`
	User      *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Money     int       `gorm:"not null;default:0" json:"money"`
	Hours     int       `gorm:"not null;default:0" json:"hours"`
	Message   string    `gorm:"type:text" json:"message"`
	Accepted  bool      `gorm:"default:false" json:"accepted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (JobOffer) TableName() string { return "job_offers" }

type ProjectQuestion struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID uint      `gorm:"index;not null" json:"project_id"`
	Project   *Project  `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	User      *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Question  string    `gorm:"type:text;not null" json:"question"`
	Answer    string    `gorm:"type:text" json:"answer"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ProjectQuestion) TableName() string { return "project_questions" }

// IsAnswered reports whether the owner already replied.
func (q *ProjectQuestion) IsAnswered() bool {
	return q.Answer != ""
}
