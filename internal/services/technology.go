package services

import (
	"strings"

	"github.com/rentacoder/backend/internal/models"
	"gorm.io/gorm"
)

type TechnologyService struct {
	db *gorm.DB
}

func NewTechnologyService(db *gorm.DB) *TechnologyService {
	return &TechnologyService{db: db}
}

func (s *TechnologyService) List() ([]models.Technology, error) {
	var techs []models.Technology
	if err := s.db.Order("name").Find(&techs).Error; err != nil {
		return nil, err
	}
	return techs, nil
}

// resolveTechnologies maps tag names to catalogue entries. Unknown names
// fail with ErrTechnologyNotFound; technologies are never created here.
func resolveTechnologies(tx *gorm.DB, names []string) ([]models.Technology, error) {
	names = uniqueNames(names)
	if len(names) == 0 {
		return []models.Technology{}, nil
	}

	var techs []models.Technology
	if err := tx.Where("name IN ?", names).Find(&techs).Error; err != nil {
		return nil, err
	}
	if len(techs) != len(names) {
		return nil, ErrTechnologyNotFound
	}
	return techs, nil
}

// replaceTechnologies sets the technology tags of owner, a *models.User or
// *models.Project.
func replaceTechnologies(tx *gorm.DB, owner interface{}, techs []models.Technology) error {
	association := tx.Model(owner).Association("Technologies")
	if len(techs) == 0 {
		return association.Clear()
	}
	return association.Replace(techs)
}

func uniqueNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	var result []string
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		result = append(result, n)
	}
	return result
}

// splitAndTrim splits s by sep, dropping blank parts.
func splitAndTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// ParseTechnologyFilter reads a comma separated technology list.
func ParseTechnologyFilter(s string) []string {
	return uniqueNames(splitAndTrim(s, ","))
}
