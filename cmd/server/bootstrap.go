package main

import (
	"context"
	"time"

	"github.com/rentacoder/backend/internal/config"
	"github.com/rentacoder/backend/internal/models"
	"github.com/rentacoder/backend/internal/services"
	"github.com/rentacoder/backend/internal/utils"
	"github.com/rentacoder/backend/pkg/logger"
	"gorm.io/gorm"
)

// appServices holds all initialized services needed by the application.
type appServices struct {
	cfg          *config.Config
	db           *gorm.DB
	taskQueue    services.TaskQueue
	worker       *services.Worker
	configs      *services.SystemConfigService
	accounts     *services.AccountService
	projects     *services.ProjectService
	scores       *services.ScoreService
	technologies *services.TechnologyService
	reminder     *services.ReminderService
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	if err := models.InitDB(&cfg.Database, cfg.Server.Mode); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	db := models.GetDB()

	if err := models.AutoMigrate(db); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	if err := models.SeedDefaultData(db, cfg.App.TokenExpireHours); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}

	configs := services.NewSystemConfigService(db)
	tokenTTL := time.Duration(configs.GetInt(models.ConfigAuthTokenExpireHours, cfg.App.TokenExpireHours)) * time.Hour
	tokens := services.NewTokenStore(services.SystemClock, tokenTTL)

	// Mail delivery: Redis queue when enabled, otherwise in-process
	renderer, err := services.NewEmailRenderer()
	if err != nil {
		logger.Fatalf("Failed to load email templates: %v", err)
	}
	mailer := services.NewSMTPMailer(&cfg.Mail)
	taskQueue := services.NewTaskQueue(&cfg.Redis, mailer.Deliver)

	var worker *services.Worker
	if cfg.Redis.Enabled {
		worker = services.NewWorker(&cfg.Redis)
		if worker != nil {
			worker.SetProcessor(mailer.Deliver)
			if err := worker.Start(); err != nil {
				logger.Error().Err(err).Msg("Failed to start mail worker")
			}
		}
	}
	dispatcher := services.NewEmailDispatcher(renderer, taskQueue)

	accounts := services.NewAccountService(db, tokens, dispatcher, services.SystemClock, &cfg.App, &cfg.JWT)
	projects := services.NewProjectService(db, dispatcher, configs, &cfg.App)
	scores := services.NewScoreService(db)

	if err := accounts.CreateAdminIfNotExists(context.Background(), &cfg.Admin); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	var reminder *services.ReminderService
	if cfg.Reminder.Enabled {
		reminder = services.NewReminderService(db, scores, configs, dispatcher, services.SystemClock, &cfg.Reminder, &cfg.App)
		if err := reminder.StartScheduler(); err != nil {
			logger.Error().Err(err).Str("spec", cfg.Reminder.Spec).Msg("Failed to start reminder scheduler")
			reminder = nil
		}
	}

	return &appServices{
		cfg:          cfg,
		db:           db,
		taskQueue:    taskQueue,
		worker:       worker,
		configs:      configs,
		accounts:     accounts,
		projects:     projects,
		scores:       scores,
		technologies: services.NewTechnologyService(db),
		reminder:     reminder,
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	if s.reminder != nil {
		s.reminder.StopScheduler()
		logger.Info().Msg("Reminder scheduler stopped")
	}
	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
	if sqlDB, err := s.db.DB(); err == nil {
		sqlDB.Close()
	}
}
