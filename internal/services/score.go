package services

import (
	"context"
	"errors"

	"github.com/rentacoder/backend/internal/models"
	"github.com/rentacoder/backend/pkg/logger"
	"gorm.io/gorm"
)

// ScoreService handles the ratings exchanged after a project closes.
type ScoreService struct {
	db *gorm.DB
}

func NewScoreService(db *gorm.DB) *ScoreService {
	return &ScoreService{db: db}
}

// ScoresOverview is everything the scores page shows to one user.
type ScoresOverview struct {
	Pending      []models.ProjectScore `json:"pending"`
	PendingCount int                   `json:"pending_count"`
	AsCoder      []models.ProjectScore `json:"as_coder"`
	AsOwner      []models.ProjectScore `json:"as_owner"`
}

func validScore(value int) bool {
	return value >= models.MinScore && value <= models.MaxScore
}

// SubmitCoderScore stores the owner's rating of the coder. Each half of a
// record can be written once.
func (s *ScoreService) SubmitCoderScore(ctx context.Context, scoreID, ownerID uint, value int) (*models.ProjectScore, error) {
	return s.submit(ctx, scoreID, ownerID, value, "coder_score")
}

// SubmitOwnerScore stores the coder's rating of the project owner.
func (s *ScoreService) SubmitOwnerScore(ctx context.Context, scoreID, coderID uint, value int) (*models.ProjectScore, error) {
	return s.submit(ctx, scoreID, coderID, value, "owner_score")
}

func (s *ScoreService) submit(ctx context.Context, scoreID, userID uint, value int, column string) (*models.ProjectScore, error) {
	if !validScore(value) {
		return nil, ErrInvalidScore
	}

	var score models.ProjectScore
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("Project").First(&score, scoreID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrScoreNotFound
			}
			return err
		}

		var current int
		switch column {
		case "coder_score":
			if score.Project == nil || !score.Project.IsOwner(userID) {
				return ErrNotScoreParticipant
			}
			current = score.CoderScore
		case "owner_score":
			if score.CoderID != userID {
				return ErrNotScoreParticipant
			}
			current = score.OwnerScore
		}
		if current != models.ScorePending {
			return ErrScoreAlreadySubmitted
		}

		result := tx.Model(&models.ProjectScore{}).
			Where("id = ? AND "+column+" = ?", score.ID, models.ScorePending).
			Update(column, value)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrScoreAlreadySubmitted
		}
		if column == "coder_score" {
			score.CoderScore = value
		} else {
			score.OwnerScore = value
		}
		return nil
	})
	if err != nil {
		return nil, unexpected(err, "score submission failed")
	}

	logger.Info().Uint("score_id", score.ID).Uint("user_id", userID).Str("field", column).Int("value", value).Msg("score submitted")
	return &score, nil
}

// pendingQuery selects records on which userID still owes a rating.
func (s *ScoreService) pendingQuery(ctx context.Context, userID uint) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.ProjectScore{}).
		Joins("JOIN projects ON projects.id = project_scores.project_id").
		Where("(project_scores.coder_id = ? AND project_scores.owner_score = ?) OR (projects.owner_id = ? AND project_scores.coder_score = ?)",
			userID, models.ScorePending, userID, models.ScorePending)
}

func (s *ScoreService) PendingForUser(ctx context.Context, userID uint) ([]models.ProjectScore, error) {
	var scores []models.ProjectScore
	err := s.pendingQuery(ctx, userID).
		Preload("Project").Preload("Project.Owner").Preload("Coder").
		Order("project_scores.created_at DESC").
		Find(&scores).Error
	if err != nil {
		return nil, unexpected(err, "pending score listing failed")
	}
	return scores, nil
}

func (s *ScoreService) CountPending(ctx context.Context, userID uint) (int64, error) {
	var count int64
	if err := s.pendingQuery(ctx, userID).Count(&count).Error; err != nil {
		return 0, unexpected(err, "pending score count failed")
	}
	return count, nil
}

// ListCoderScores returns the records where userID was the coder.
func (s *ScoreService) ListCoderScores(ctx context.Context, userID uint) ([]models.ProjectScore, error) {
	var scores []models.ProjectScore
	err := s.db.WithContext(ctx).
		Preload("Project").Preload("Project.Owner").
		Where("coder_id = ?", userID).
		Order("created_at DESC").
		Find(&scores).Error
	if err != nil {
		return nil, unexpected(err, "coder score listing failed")
	}
	return scores, nil
}

// ListOwnerScores returns the records of projects owned by userID.
func (s *ScoreService) ListOwnerScores(ctx context.Context, userID uint) ([]models.ProjectScore, error) {
	var scores []models.ProjectScore
	err := s.db.WithContext(ctx).
		Preload("Project").Preload("Coder").
		Joins("JOIN projects ON projects.id = project_scores.project_id").
		Where("projects.owner_id = ?", userID).
		Order("project_scores.created_at DESC").
		Find(&scores).Error
	if err != nil {
		return nil, unexpected(err, "owner score listing failed")
	}
	return scores, nil
}

func (s *ScoreService) Overview(ctx context.Context, userID uint) (*ScoresOverview, error) {
	pending, err := s.PendingForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	asCoder, err := s.ListCoderScores(ctx, userID)
	if err != nil {
		return nil, err
	}
	asOwner, err := s.ListOwnerScores(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &ScoresOverview{
		Pending:      pending,
		PendingCount: len(pending),
		AsCoder:      asCoder,
		AsOwner:      asOwner,
	}, nil
}

// PendingDigest groups pending records by the user who owes them.
type PendingDigest struct {
	User     models.User
	Projects []string
}

// PendingDigests lists every user with at least one pending rating.
func (s *ScoreService) PendingDigests(ctx context.Context) ([]PendingDigest, error) {
	var scores []models.ProjectScore
	err := s.db.WithContext(ctx).
		Preload("Project").Preload("Project.Owner").Preload("Coder").
		Where("owner_score = ? OR coder_score = ?", models.ScorePending, models.ScorePending).
		Order("id").
		Find(&scores).Error
	if err != nil {
		return nil, err
	}

	index := make(map[uint]int)
	var digests []PendingDigest
	add := func(user *models.User, title string) {
		if user == nil || !user.IsActive {
			return
		}
		i, ok := index[user.ID]
		if !ok {
			i = len(digests)
			index[user.ID] = i
			digests = append(digests, PendingDigest{User: *user})
		}
		digests[i].Projects = append(digests[i].Projects, title)
	}

	for _, score := range scores {
		if score.Project == nil {
			continue
		}
		ownerID := score.Project.OwnerID
		if score.IsPendingFor(score.CoderID, ownerID) {
			add(score.Coder, score.Project.Title)
		}
		if score.IsPendingFor(ownerID, ownerID) {
			add(score.Project.Owner, score.Project.Title)
		}
	}
	return digests, nil
}
