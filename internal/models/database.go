package models

import (
	"fmt"
	"strconv"

	"github.com/rentacoder/backend/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// DefaultTechnologies seeds the technology catalogue on first start.
var DefaultTechnologies = []string{
	"Go", "Python", "Django", "JavaScript", "TypeScript", "React", "Vue",
	"Java", "Kotlin", "Swift", "C", "C++", "C#", "PHP", "Ruby", "Rust",
	"SQL", "PostgreSQL", "MySQL", "Docker", "Kubernetes", "AWS", "HTML", "CSS",
}

// Open connects to the configured database. Unique constraint violations
// are translated to gorm.ErrDuplicatedKey.
func Open(cfg *config.DatabaseConfig, logLevel logger.LogLevel) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// sqlite serialises writers; one connection avoids SQLITE_BUSY under load
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

func InitDB(cfg *config.DatabaseConfig, serverMode string) error {
	level := logger.Warn
	if serverMode == "debug" {
		level = logger.Info
	}

	db, err := Open(cfg, level)
	if err != nil {
		return err
	}

	DB = db
	return nil
}

// AutoMigrate creates or updates every table on db.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Technology{},
		&User{},
		&Token{},
		&Project{},
		&JobOffer{},
		&ProjectQuestion{},
		&ProjectScore{},
		&SystemConfig{},
		&SchedulerLock{},
	)
}

func GetDB() *gorm.DB {
	return DB
}

// SeedDefaultData creates default data if not exists
func SeedDefaultData(db *gorm.DB, tokenExpireHours int) error {
	for _, name := range DefaultTechnologies {
		tech := Technology{Name: name}
		if err := db.Where(Technology{Name: name}).FirstOrCreate(&tech).Error; err != nil {
			return err
		}
	}

	defaultConfigs := []SystemConfig{
		{Key: ConfigAuthTokenExpireHours, Value: strconv.Itoa(tokenExpireHours), Type: "int", Group: "auth", Label: "Verification / Reset Token Lifetime (hours)"},
		{Key: ConfigReminderEnabled, Value: "true", Type: "bool", Group: "reminder", Label: "Email Pending Score Reminders"},
		{Key: ConfigOpenProjectsPageSize, Value: "5", Type: "int", Group: "projects", Label: "Open Projects Page Size"},
	}

	for _, cfg := range defaultConfigs {
		var count int64
		db.Model(&SystemConfig{}).Where(&SystemConfig{Key: cfg.Key}).Count(&count)
		if count == 0 {
			if err := db.Create(&cfg).Error; err != nil {
				return err
			}
		}
	}

	return nil
}
