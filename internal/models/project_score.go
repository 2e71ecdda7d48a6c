package models

import "time"

// ScorePending marks a half of a ProjectScore that has not been rated yet.
const ScorePending = 0

const (
	MinScore = 1
	MaxScore = 5
)

// ProjectScore is the two-sided rating between a project owner and one
// accepted coder. The owner fills CoderScore, the coder fills OwnerScore.
type ProjectScore struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ProjectID  uint      `gorm:"uniqueIndex:idx_project_scores_project_coder;not null" json:"project_id"`
	Project    *Project  `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	CoderID    uint      `gorm:"uniqueIndex:idx_project_scores_project_coder;index;not null" json:"coder_id"`
	Coder      *User     `gorm:"foreignKey:CoderID" json:"coder,omitempty"`
	OwnerScore int       `gorm:"not null;default:0" json:"owner_score"`
	CoderScore int       `gorm:"not null;default:0" json:"coder_score"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (ProjectScore) TableName() string { return "project_scores" }

// IsPendingFor reports whether userID still owes a rating on this record.
// ownerID is the owner of the referenced project.
func (s *ProjectScore) IsPendingFor(userID, ownerID uint) bool {
	if userID == s.CoderID && s.OwnerScore == ScorePending {
		return true
	}
	return userID == ownerID && s.CoderScore == ScorePending
}
