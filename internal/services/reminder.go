package services

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/rentacoder/backend/internal/config"
	"github.com/rentacoder/backend/internal/models"
	"github.com/rentacoder/backend/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

const reminderLockName = "pending_scores_reminder"

// ReminderService mails each user with pending ratings a digest on a cron
// schedule.
type ReminderService struct {
	db            *gorm.DB
	scores        *ScoreService
	configSvc     *SystemConfigService
	dispatcher    Dispatcher
	clock         Clock
	spec          string
	scoresURL     string
	instance      string
	cronScheduler *cron.Cron
}

func NewReminderService(db *gorm.DB, scores *ScoreService, configSvc *SystemConfigService, dispatcher Dispatcher, clock Clock, cfg *config.ReminderConfig, appCfg *config.AppConfig) *ReminderService {
	if clock == nil {
		clock = SystemClock
	}
	instance, _ := os.Hostname()
	return &ReminderService{
		db:         db,
		scores:     scores,
		configSvc:  configSvc,
		dispatcher: dispatcher,
		clock:      clock,
		spec:       cfg.Spec,
		scoresURL:  strings.TrimRight(appCfg.BaseURL, "/") + "/api/scores",
		instance:   instance,
	}
}

func (s *ReminderService) StartScheduler() error {
	s.cronScheduler = cron.New()

	if _, err := s.cronScheduler.AddFunc(s.spec, func() {
		if _, err := s.Run(context.Background()); err != nil {
			logger.Errorf("[Reminder] Run failed: %v", err)
		}
	}); err != nil {
		return err
	}

	s.cronScheduler.Start()
	logger.Infof("[Reminder] Scheduler started (cron: %s)", s.spec)
	return nil
}

func (s *ReminderService) StopScheduler() {
	if s.cronScheduler != nil {
		<-s.cronScheduler.Stop().Done()
	}
}

func (s *ReminderService) isEnabled() bool {
	if s.configSvc == nil {
		return true
	}
	return s.configSvc.GetBool(models.ConfigReminderEnabled, true)
}

// acquireLock claims today's run. It returns nil when another instance
// already did.
func (s *ReminderService) acquireLock(ctx context.Context, now time.Time) (*models.SchedulerLock, error) {
	lock := &models.SchedulerLock{
		LockName:  reminderLockName,
		LockKey:   now.Format(DateLayout),
		LockedBy:  s.instance,
		LockedAt:  now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
	err := s.db.WithContext(ctx).Create(lock).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// locks of past days are no longer needed
	if err := s.db.WithContext(ctx).
		Where("lock_name = ? AND expires_at < ?", reminderLockName, now.Add(-24*time.Hour)).
		Delete(&models.SchedulerLock{}).Error; err != nil {
		logger.Warn().Err(err).Msg("[Reminder] Failed to clean up old locks")
	}
	return lock, nil
}

// releaseLock gives today's run back so a later tick or another instance can
// retry it.
func (s *ReminderService) releaseLock(ctx context.Context, lock *models.SchedulerLock) {
	if err := s.db.WithContext(ctx).Delete(lock).Error; err != nil {
		logger.Error().Err(err).Str("lock_key", lock.LockKey).Msg("[Reminder] Failed to release lock")
	}
}

// Run sends one digest per user with pending ratings and returns how many
// were dispatched.
func (s *ReminderService) Run(ctx context.Context) (int, error) {
	if !s.isEnabled() {
		logger.Debug().Msg("[Reminder] Disabled, skipping")
		return 0, nil
	}

	lock, err := s.acquireLock(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if lock == nil {
		logger.Infof("[Reminder] Already ran today on another instance")
		return 0, nil
	}

	digests, err := s.scores.PendingDigests(ctx)
	if err != nil {
		s.releaseLock(ctx, lock)
		return 0, err
	}

	for _, d := range digests {
		notify(ctx, s.dispatcher, TemplatePendingScores, d.User.Email, map[string]any{
			"user_name":     d.User.FirstName,
			"pending_count": len(d.Projects),
			"projects":      d.Projects,
			"scores_url":    s.scoresURL,
		})
	}

	logger.Infof("[Reminder] Sent %d pending score digests", len(digests))
	return len(digests), nil
}
