package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rentacoder/backend/internal/config"
	"github.com/rentacoder/backend/internal/models"
	"github.com/rentacoder/backend/pkg/logger"
	"gorm.io/gorm"
)

const (
	DateLayout = "2006-01-02"

	defaultOpenProjectsPageSize = 5
)

// ProjectService drives the project lifecycle: publishing, applications,
// acceptance, questions and closing.
type ProjectService struct {
	db         *gorm.DB
	dispatcher Dispatcher
	configSvc  *SystemConfigService
	baseURL    string
}

func NewProjectService(db *gorm.DB, dispatcher Dispatcher, configSvc *SystemConfigService, appCfg *config.AppConfig) *ProjectService {
	if dispatcher == nil {
		dispatcher = NoopDispatcher{}
	}
	return &ProjectService{
		db:         db,
		dispatcher: dispatcher,
		configSvc:  configSvc,
		baseURL:    strings.TrimRight(appCfg.BaseURL, "/"),
	}
}

type CreateProjectRequest struct {
	Title        string   `json:"title" binding:"required,max=200"`
	Description  string   `json:"description" binding:"required"`
	Technologies []string `json:"technologies"`
	Openings     int      `json:"openings" binding:"required"`
	StartDate    string   `json:"start_date" binding:"required"` // YYYY-MM-DD
	EndDate      string   `json:"end_date" binding:"required"`
}

type UpdateProjectRequest struct {
	Title        *string  `json:"title" binding:"omitempty,max=200"`
	Description  *string  `json:"description"`
	Technologies []string `json:"technologies"`
	Openings     *int     `json:"openings"`
	StartDate    *string  `json:"start_date"`
	EndDate      *string  `json:"end_date"`
}

type ApplyRequest struct {
	Money   int    `json:"money" binding:"min=0"`
	Hours   int    `json:"hours" binding:"min=0"`
	Message string `json:"message" binding:"required"`
}

type ProjectListRequest struct {
	Page         int    `form:"page" binding:"omitempty,min=1"`
	PageSize     int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Search       string `form:"search"`
	Technologies string `form:"technologies"` // comma separated
}

type ProjectListResponse struct {
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Items    []models.Project `json:"items"`
}

// ProjectDetail is a project as seen by one viewer.
type ProjectDetail struct {
	Project           *models.Project          `json:"project"`
	AvailableOpenings int                      `json:"available_openings"`
	Offers            []models.JobOffer        `json:"offers,omitempty"` // owner only
	Questions         []models.ProjectQuestion `json:"questions"`
	IsOwner           bool                     `json:"is_owner"`
	Applied           bool                     `json:"applied"`
	Accepted          bool                     `json:"accepted"`
}

// CloseResult lists the score records created by closing a project.
type CloseResult struct {
	Project *models.Project       `json:"project"`
	Scores  []models.ProjectScore `json:"scores"`
}

func (s *ProjectService) ProjectURL(projectID uint) string {
	return fmt.Sprintf("%s/api/projects/%d", s.baseURL, projectID)
}

func (s *ProjectService) ScoresURL() string {
	return s.baseURL + "/api/scores"
}

func parseProjectDates(start, end string) (time.Time, time.Time, error) {
	startDate, err := time.Parse(DateLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidProject
	}
	endDate, err := time.Parse(DateLayout, end)
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidProject
	}
	if endDate.Before(startDate) {
		return time.Time{}, time.Time{}, ErrInvalidProject
	}
	return startDate, endDate, nil
}

// Create publishes an open project. Technology association is part of the
// same transaction.
func (s *ProjectService) Create(ctx context.Context, ownerID uint, req *CreateProjectRequest) (*models.Project, error) {
	if req.Openings < 1 {
		return nil, ErrInvalidProject
	}
	startDate, endDate, err := parseProjectDates(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}

	project := &models.Project{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		OwnerID:     ownerID,
		Openings:    req.Openings,
		StartDate:   startDate,
		EndDate:     endDate,
		Closed:      false,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		techs, err := resolveTechnologies(tx, req.Technologies)
		if err != nil {
			return err
		}
		project.Technologies = techs
		return tx.Create(project).Error
	})
	if err != nil {
		return nil, unexpected(err, "project creation failed")
	}

	logger.Info().Uint("project_id", project.ID).Uint("owner_id", ownerID).Msg("project created")
	return project, nil
}

// Update edits an open project. Only the owner may do it.
func (s *ProjectService) Update(ctx context.Context, projectID, userID uint, req *UpdateProjectRequest) (*models.Project, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, err := loadOwnedProject(tx, projectID, userID)
		if err != nil {
			return err
		}
		if project.Closed {
			return ErrProjectClosed
		}

		updates := map[string]interface{}{}
		if req.Title != nil {
			updates["title"] = strings.TrimSpace(*req.Title)
		}
		if req.Description != nil {
			updates["description"] = *req.Description
		}
		if req.Openings != nil {
			if *req.Openings < 1 {
				return ErrInvalidProject
			}
			accepted, err := countAcceptedOffers(tx, project.ID)
			if err != nil {
				return err
			}
			if int64(*req.Openings) < accepted {
				return ErrNoOpeningsAvailable
			}
			updates["openings"] = *req.Openings
		}
		if req.StartDate != nil || req.EndDate != nil {
			start, end := project.StartDate.Format(DateLayout), project.EndDate.Format(DateLayout)
			if req.StartDate != nil {
				start = *req.StartDate
			}
			if req.EndDate != nil {
				end = *req.EndDate
			}
			startDate, endDate, err := parseProjectDates(start, end)
			if err != nil {
				return err
			}
			updates["start_date"] = startDate
			updates["end_date"] = endDate
		}

		if len(updates) > 0 {
			if err := tx.Model(&models.Project{}).Where("id = ?", project.ID).Updates(updates).Error; err != nil {
				return err
			}
		}
		if req.Technologies != nil {
			techs, err := resolveTechnologies(tx, req.Technologies)
			if err != nil {
				return err
			}
			if err := replaceTechnologies(tx, project, techs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, unexpected(err, "project update failed")
	}
	return s.GetByID(ctx, projectID)
}

func loadProject(tx *gorm.DB, projectID uint) (*models.Project, error) {
	var project models.Project
	if err := tx.Preload("Owner").First(&project, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return &project, nil
}

func loadOwnedProject(tx *gorm.DB, projectID, userID uint) (*models.Project, error) {
	project, err := loadProject(tx, projectID)
	if err != nil {
		return nil, err
	}
	if !project.IsOwner(userID) {
		return nil, ErrNotProjectOwner
	}
	return project, nil
}

func (s *ProjectService) GetByID(ctx context.Context, projectID uint) (*models.Project, error) {
	var project models.Project
	err := s.db.WithContext(ctx).Preload("Owner").Preload("Technologies").First(&project, projectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, unexpected(err, "project lookup failed")
	}
	return &project, nil
}

func countAcceptedOffers(tx *gorm.DB, projectID uint) (int64, error) {
	var accepted int64
	err := tx.Model(&models.JobOffer{}).Where("project_id = ? AND accepted = ?", projectID, true).Count(&accepted).Error
	return accepted, err
}

// AvailableOpenings is the declared openings minus accepted offers.
func (s *ProjectService) AvailableOpenings(ctx context.Context, projectID uint) (int, error) {
	project, err := s.GetByID(ctx, projectID)
	if err != nil {
		return 0, err
	}
	accepted, err := countAcceptedOffers(s.db.WithContext(ctx), projectID)
	if err != nil {
		return 0, unexpected(err, "offer count failed")
	}
	return project.Openings - int(accepted), nil
}

// Detail returns the project with the parts viewerID may see.
func (s *ProjectService) Detail(ctx context.Context, projectID, viewerID uint) (*ProjectDetail, error) {
	project, err := s.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)

	var offers []models.JobOffer
	if err := db.Preload("User").Where("project_id = ?", projectID).Order("created_at").Find(&offers).Error; err != nil {
		return nil, unexpected(err, "offer lookup failed")
	}
	var questions []models.ProjectQuestion
	if err := db.Preload("User").Where("project_id = ?", projectID).Order("created_at").Find(&questions).Error; err != nil {
		return nil, unexpected(err, "question lookup failed")
	}

	detail := &ProjectDetail{
		Project:   project,
		Questions: questions,
		IsOwner:   project.IsOwner(viewerID),
	}
	accepted := 0
	for _, o := range offers {
		if o.Accepted {
			accepted++
		}
		if o.UserID == viewerID {
			detail.Applied = true
			detail.Accepted = o.Accepted
		}
	}
	detail.AvailableOpenings = project.Openings - accepted
	if detail.IsOwner {
		detail.Offers = offers
	}
	return detail, nil
}

func (s *ProjectService) pageSize() int {
	if s.configSvc == nil {
		return defaultOpenProjectsPageSize
	}
	return s.configSvc.GetInt(models.ConfigOpenProjectsPageSize, defaultOpenProjectsPageSize)
}

// ListOpen returns open projects, newest first.
func (s *ProjectService) ListOpen(ctx context.Context, req *ProjectListRequest) (*ProjectListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = s.pageSize()
	}

	var projects []models.Project
	var total int64

	query := s.db.WithContext(ctx).Model(&models.Project{}).Where("closed = ?", false)

	if req.Search != "" {
		like := "%" + req.Search + "%"
		query = query.Where("title LIKE ? OR description LIKE ?", like, like)
	}
	if techs := ParseTechnologyFilter(req.Technologies); len(techs) > 0 {
		query = query.Where("id IN (?)",
			s.db.Table("project_technologies").
				Select("project_technologies.project_id").
				Joins("JOIN technologies ON technologies.id = project_technologies.technology_id").
				Where("technologies.name IN ?", techs))
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, unexpected(err, "open project count failed")
	}

	offset := (req.Page - 1) * req.PageSize
	err := query.Preload("Owner").Preload("Technologies").
		Order("created_at DESC").Order("id DESC").
		Offset(offset).Limit(req.PageSize).
		Find(&projects).Error
	if err != nil {
		return nil, unexpected(err, "open project listing failed")
	}

	return &ProjectListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    projects,
	}, nil
}

// ListOwned returns the owner's open or closed projects.
func (s *ProjectService) ListOwned(ctx context.Context, ownerID uint, closed bool) ([]models.Project, error) {
	var projects []models.Project
	err := s.db.WithContext(ctx).Preload("Technologies").
		Where("owner_id = ? AND closed = ?", ownerID, closed).
		Order("created_at DESC").
		Find(&projects).Error
	if err != nil {
		return nil, unexpected(err, "owned project listing failed")
	}
	return projects, nil
}

// ListApplications returns every offer made by userID.
func (s *ProjectService) ListApplications(ctx context.Context, userID uint) ([]models.JobOffer, error) {
	var offers []models.JobOffer
	err := s.db.WithContext(ctx).Preload("Project").Preload("Project.Owner").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&offers).Error
	if err != nil {
		return nil, unexpected(err, "application listing failed")
	}
	return offers, nil
}

// Apply records a job offer and notifies the applicant and the owner.
func (s *ProjectService) Apply(ctx context.Context, projectID, applicantID uint, req *ApplyRequest) (*models.JobOffer, error) {
	var (
		project   *models.Project
		applicant models.User
		offer     *models.JobOffer
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		project, err = loadProject(tx, projectID)
		if err != nil {
			return err
		}
		if project.Closed {
			return ErrProjectClosed
		}
		if project.IsOwner(applicantID) {
			return ErrCannotApplyOwnProject
		}
		if err := tx.First(&applicant, applicantID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		var existing int64
		if err := tx.Model(&models.JobOffer{}).Where("project_id = ? AND user_id = ?", projectID, applicantID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadyApplied
		}

		offer = &models.JobOffer{
			ProjectID: projectID,
			UserID:    applicantID,
			Money:     req.Money,
			Hours:     req.Hours,
			Message:   req.Message,
		}
		return tx.Create(offer).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			logger.Info().Uint("project_id", projectID).Uint("user_id", applicantID).Msg("duplicate application rejected by constraint")
			return nil, ErrAlreadyApplied
		}
		return nil, unexpected(err, "application failed")
	}

	logger.Info().Uint("project_id", projectID).Uint("offer_id", offer.ID).Uint("user_id", applicantID).Msg("applied to project")

	vars := map[string]any{
		"project_title": project.Title,
		"project_url":   s.ProjectURL(project.ID),
		"money":         offer.Money,
		"hours":         offer.Hours,
		"message":       offer.Message,
		"coder_name":    applicant.FullName(),
	}
	notify(ctx, s.dispatcher, TemplateYouAppliedToProject, applicant.Email, withUser(vars, applicant.FirstName))
	if project.Owner != nil {
		notify(ctx, s.dispatcher, TemplateCoderAppliedToProject, project.Owner.Email, withUser(vars, project.Owner.FirstName))
	}
	return offer, nil
}

// AcceptOffer marks one offer accepted. The number of accepted offers never
// exceeds the project's openings.
func (s *ProjectService) AcceptOffer(ctx context.Context, projectID, offerID, ownerID uint) (*models.JobOffer, error) {
	var (
		project *models.Project
		offer   models.JobOffer
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		project, err = loadOwnedProject(tx, projectID, ownerID)
		if err != nil {
			return err
		}
		if project.Closed {
			return ErrProjectClosed
		}

		if err := tx.Preload("User").Where("id = ? AND project_id = ?", offerID, projectID).First(&offer).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOfferNotFound
			}
			return err
		}
		if offer.Accepted {
			return ErrOfferAlreadyAccepted
		}

		accepted, err := countAcceptedOffers(tx, projectID)
		if err != nil {
			return err
		}
		if int(accepted) >= project.Openings {
			return ErrNoOpeningsAvailable
		}

		result := tx.Model(&models.JobOffer{}).
			Where("id = ? AND accepted = ?", offer.ID, false).
			Update("accepted", true)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrOfferAlreadyAccepted
		}
		offer.Accepted = true
		return nil
	})
	if err != nil {
		return nil, unexpected(err, "offer acceptance failed")
	}

	logger.Info().Uint("project_id", projectID).Uint("offer_id", offer.ID).Msg("offer accepted")
	if offer.User != nil {
		notify(ctx, s.dispatcher, TemplateApplicationAccepted, offer.User.Email, map[string]any{
			"user_name":     offer.User.FirstName,
			"project_title": project.Title,
			"project_url":   s.ProjectURL(project.ID),
		})
	}
	return &offer, nil
}

// Close marks the project closed, creates one pending score per accepted
// offer and notifies every applicant.
func (s *ProjectService) Close(ctx context.Context, projectID, ownerID uint) (*CloseResult, error) {
	var (
		project *models.Project
		offers  []models.JobOffer
		scores  []models.ProjectScore
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		project, err = loadOwnedProject(tx, projectID, ownerID)
		if err != nil {
			return err
		}
		if project.Closed {
			return ErrProjectClosed
		}

		result := tx.Model(&models.Project{}).
			Where("id = ? AND closed = ?", projectID, false).
			Update("closed", true)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrProjectClosed
		}
		project.Closed = true

		if err := tx.Preload("User").Where("project_id = ?", projectID).Order("id").Find(&offers).Error; err != nil {
			return err
		}
		for _, offer := range offers {
			if !offer.Accepted {
				continue
			}
			score := models.ProjectScore{ProjectID: projectID, CoderID: offer.UserID}
			if err := tx.Create(&score).Error; err != nil {
				return err
			}
			scores = append(scores, score)
		}
		return nil
	})
	if err != nil {
		return nil, unexpected(err, "project close failed")
	}

	logger.Info().Uint("project_id", projectID).Int("offers", len(offers)).Int("scores", len(scores)).Msg("project closed")

	for _, offer := range offers {
		if offer.User == nil {
			continue
		}
		notify(ctx, s.dispatcher, TemplateProjectClosed, offer.User.Email, map[string]any{
			"user_name":     offer.User.FirstName,
			"project_title": project.Title,
			"accepted":      offer.Accepted,
			"scores_url":    s.ScoresURL(),
		})
	}
	return &CloseResult{Project: project, Scores: scores}, nil
}

// AskQuestion stores a question on an open or closed project and notifies
// the owner.
func (s *ProjectService) AskQuestion(ctx context.Context, projectID, userID uint, text string) (*models.ProjectQuestion, error) {
	text = strings.TrimSpace(text)
	var (
		project  *models.Project
		asker    models.User
		question *models.ProjectQuestion
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		project, err = loadProject(tx, projectID)
		if err != nil {
			return err
		}
		if err := tx.First(&asker, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		question = &models.ProjectQuestion{ProjectID: projectID, UserID: userID, Question: text}
		return tx.Create(question).Error
	})
	if err != nil {
		return nil, unexpected(err, "question creation failed")
	}

	if project.Owner != nil && !project.IsOwner(userID) {
		notify(ctx, s.dispatcher, TemplateQuestionAsked, project.Owner.Email, map[string]any{
			"user_name":     project.Owner.FirstName,
			"asker_name":    asker.FullName(),
			"project_title": project.Title,
			"project_url":   s.ProjectURL(project.ID),
			"question":      question.Question,
		})
	}
	return question, nil
}

// AnswerQuestion lets the owner answer a question once.
func (s *ProjectService) AnswerQuestion(ctx context.Context, projectID, questionID, ownerID uint, answer string) (*models.ProjectQuestion, error) {
	answer = strings.TrimSpace(answer)
	var (
		project  *models.Project
		question models.ProjectQuestion
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		project, err = loadOwnedProject(tx, projectID, ownerID)
		if err != nil {
			return err
		}
		if err := tx.Preload("User").Where("id = ? AND project_id = ?", questionID, projectID).First(&question).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrQuestionNotFound
			}
			return err
		}
		if question.IsAnswered() {
			return ErrQuestionAlreadyAnswered
		}
		question.Answer = answer
		return tx.Model(&models.ProjectQuestion{}).Where("id = ?", question.ID).Update("answer", answer).Error
	})
	if err != nil {
		return nil, unexpected(err, "question answer failed")
	}

	if question.User != nil {
		notify(ctx, s.dispatcher, TemplateQuestionAnswered, question.User.Email, map[string]any{
			"user_name":     question.User.FirstName,
			"project_title": project.Title,
			"project_url":   s.ProjectURL(project.ID),
			"question":      question.Question,
			"answer":        question.Answer,
		})
	}
	return &question, nil
}

// SetAttachment records the stored file path of the project's attachment.
func (s *ProjectService) SetAttachment(ctx context.Context, projectID, ownerID uint, path string) (*models.Project, error) {
	var previous string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, err := loadOwnedProject(tx, projectID, ownerID)
		if err != nil {
			return err
		}
		if project.Closed {
			return ErrProjectClosed
		}
		previous = project.Attachment
		return tx.Model(&models.Project{}).Where("id = ?", project.ID).Update("attachment", path).Error
	})
	if err != nil {
		return nil, unexpected(err, "attachment update failed")
	}
	if previous != "" && previous != path {
		removeAttachment(projectID, previous)
	}
	return s.GetByID(ctx, projectID)
}

// removeAttachment deletes a replaced attachment file. A file that is
// already gone is not an error.
func removeAttachment(projectID uint, path string) {
	err := os.Remove(filepath.FromSlash(path))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn().Err(err).Uint("project_id", projectID).Str("path", path).Msg("failed to remove replaced attachment")
		return
	}
	logger.Debug().Uint("project_id", projectID).Str("previous", path).Msg("attachment replaced")
}

// CheckOwner returns ErrNotProjectOwner unless userID owns an open project.
func (s *ProjectService) CheckOwner(ctx context.Context, projectID, userID uint) error {
	project, err := loadOwnedProject(s.db.WithContext(ctx), projectID, userID)
	if err != nil {
		return unexpected(err, "project lookup failed")
	}
	if project.Closed {
		return ErrProjectClosed
	}
	return nil
}

func withUser(vars map[string]any, name string) map[string]any {
	out := make(map[string]any, len(vars)+1)
	for k, v := range vars {
		out[k] = v
	}
	out["user_name"] = name
	return out
}
