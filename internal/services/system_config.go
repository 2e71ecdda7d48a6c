package services

import (
	"errors"
	"strconv"

	"github.com/rentacoder/backend/internal/models"
	"gorm.io/gorm"
)

type SystemConfigService struct {
	db *gorm.DB
}

func NewSystemConfigService(db *gorm.DB) *SystemConfigService {
	return &SystemConfigService{db: db}
}

func (s *SystemConfigService) Get(key string) (string, error) {
	var cfg models.SystemConfig
	if err := s.db.Where(&models.SystemConfig{Key: key}).First(&cfg).Error; err != nil {
		return "", err
	}
	return cfg.Value, nil
}

func (s *SystemConfigService) GetWithDefault(key, defaultValue string) string {
	value, err := s.Get(key)
	if err != nil {
		return defaultValue
	}
	return value
}

// GetInt returns defaultValue when the key is missing or not a positive integer.
func (s *SystemConfigService) GetInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(s.GetWithDefault(key, ""))
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}

func (s *SystemConfigService) GetBool(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(s.GetWithDefault(key, ""))
	if err != nil {
		return defaultValue
	}
	return b
}

func (s *SystemConfigService) Set(key, value string) error {
	var cfg models.SystemConfig
	err := s.db.Where(&models.SystemConfig{Key: key}).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cfg = models.SystemConfig{
			Key:   key,
			Value: value,
		}
		return s.db.Create(&cfg).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&cfg).Update("value", value).Error
}

func (s *SystemConfigService) List() ([]models.SystemConfig, error) {
	var configs []models.SystemConfig
	if err := s.db.Order("id").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// UpdateSettings writes known keys only, validating typed values.
func (s *SystemConfigService) UpdateSettings(values map[string]string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for key, value := range values {
			var cfg models.SystemConfig
			if err := tx.Where(&models.SystemConfig{Key: key}).First(&cfg).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return errors.New("unknown setting: " + key)
				}
				return err
			}
			switch cfg.Type {
			case "int":
				if n, err := strconv.Atoi(value); err != nil || n <= 0 {
					return errors.New("setting " + key + " must be a positive integer")
				}
			case "bool":
				if _, err := strconv.ParseBool(value); err != nil {
					return errors.New("setting " + key + " must be true or false")
				}
			}
			if err := tx.Model(&cfg).Update("value", value).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
