package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rentacoder/backend/internal/config"
	"github.com/rentacoder/backend/internal/models"
	"github.com/rentacoder/backend/internal/utils"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testPassword = "Secret1!"

var (
	testPasswordHashOnce sync.Once
	testPasswordHash     string
)

func init() {
	utils.SetJWTSecret("test-secret")
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type sentNotification struct {
	TemplateID string
	Recipient  string
	Vars       map[string]any
}

// recordingDispatcher records every attempted send and fails them all when
// fail is set.
type recordingDispatcher struct {
	mu   sync.Mutex
	sent []sentNotification
	fail error
}

func (d *recordingDispatcher) Send(ctx context.Context, templateID, recipient string, vars map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentNotification{TemplateID: templateID, Recipient: recipient, Vars: vars})
	return d.fail
}

func (d *recordingDispatcher) byTemplate(templateID string) []sentNotification {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []sentNotification
	for _, n := range d.sent {
		if n.TemplateID == templateID {
			out = append(out, n)
		}
	}
	return out
}

func (d *recordingDispatcher) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = nil
}

// lastToken returns the token value embedded in the newest link mailed with
// templateID.
func (d *recordingDispatcher) lastToken(t *testing.T, templateID string) string {
	t.Helper()
	sent := d.byTemplate(templateID)
	require.NotEmpty(t, sent, "no %s notification sent", templateID)
	link, ok := sent[len(sent)-1].Vars["url_token"].(string)
	require.True(t, ok, "url_token missing")
	return link[strings.LastIndex(link, "/")+1:]
}

type testEnv struct {
	db         *gorm.DB
	clock      *fixedClock
	dispatcher *recordingDispatcher
	tokens     *TokenStore
	configs    *SystemConfigService
	accounts   *AccountService
	projects   *ProjectService
	scores     *ScoreService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	db, err := models.Open(&config.DatabaseConfig{Driver: "sqlite", DSN: dsn}, gormlogger.Silent)
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	require.NoError(t, models.SeedDefaultData(db, 24))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	clock := &fixedClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	dispatcher := &recordingDispatcher{}
	appCfg := &config.AppConfig{BaseURL: "http://rac.test/", TokenExpireHours: 24}
	jwtCfg := &config.JWTConfig{Secret: "test-secret", ExpireHour: 1}

	tokens := NewTokenStore(clock, 24*time.Hour)
	configs := NewSystemConfigService(db)
	return &testEnv{
		db:         db,
		clock:      clock,
		dispatcher: dispatcher,
		tokens:     tokens,
		configs:    configs,
		accounts:   NewAccountService(db, tokens, dispatcher, clock, appCfg, jwtCfg),
		projects:   NewProjectService(db, dispatcher, configs, appCfg),
		scores:     NewScoreService(db),
	}
}

// createUser inserts an account directly, bypassing registration.
func (e *testEnv) createUser(t *testing.T, username string, active bool) *models.User {
	t.Helper()
	testPasswordHashOnce.Do(func() {
		hash, err := utils.HashPassword(testPassword)
		if err != nil {
			panic(err)
		}
		testPasswordHash = hash
	})

	user := &models.User{
		Username:  username,
		Email:     username + "@x.com",
		Password:  testPasswordHash,
		FirstName: strings.ToUpper(username[:1]) + username[1:],
		Role:      models.RoleUser,
		IsActive:  active,
	}
	require.NoError(t, e.db.Create(user).Error)
	return user
}

func (e *testEnv) createProject(t *testing.T, owner *models.User, title string, openings int) *models.Project {
	t.Helper()
	project, err := e.projects.Create(context.Background(), owner.ID, &CreateProjectRequest{
		Title:        title,
		Description:  "Build " + title,
		Technologies: []string{"Go"},
		Openings:     openings,
		StartDate:    "2026-06-01",
		EndDate:      "2026-07-01",
	})
	require.NoError(t, err)
	return project
}

func (e *testEnv) apply(t *testing.T, project *models.Project, coder *models.User) *models.JobOffer {
	t.Helper()
	offer, err := e.projects.Apply(context.Background(), project.ID, coder.ID, &ApplyRequest{Money: 500, Hours: 20, Message: "I can do it"})
	require.NoError(t, err)
	return offer
}

func (e *testEnv) count(t *testing.T, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := e.db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}
