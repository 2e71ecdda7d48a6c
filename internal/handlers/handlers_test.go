package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rentacoder/backend/internal/config"
	"github.com/rentacoder/backend/internal/middleware"
	"github.com/rentacoder/backend/internal/models"
	"github.com/rentacoder/backend/internal/services"
	"github.com/rentacoder/backend/internal/utils"
	"github.com/rentacoder/backend/pkg/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
	utils.SetJWTSecret("handler-test-secret")
}

type mailbox struct {
	mu   sync.Mutex
	sent map[string][]map[string]any
}

func (m *mailbox) Send(ctx context.Context, templateID, recipient string, vars map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent == nil {
		m.sent = map[string][]map[string]any{}
	}
	m.sent[templateID] = append(m.sent[templateID], vars)
	return nil
}

// lastToken extracts the token from the newest link mailed with templateID.
func (m *mailbox) lastToken(t *testing.T, templateID string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	sent := m.sent[templateID]
	require.NotEmpty(t, sent)
	link := sent[len(sent)-1]["url_token"].(string)
	return link[strings.LastIndex(link, "/")+1:]
}

type testServer struct {
	t       *testing.T
	db      *gorm.DB
	router  *gin.Engine
	mailbox *mailbox
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := models.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", name),
	}, gormlogger.Silent)
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	require.NoError(t, models.SeedDefaultData(db, 24))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	box := &mailbox{}
	appCfg := &config.AppConfig{BaseURL: "http://rac.test", TokenExpireHours: 24}
	configs := services.NewSystemConfigService(db)
	tokens := services.NewTokenStore(services.SystemClock, 24*time.Hour)
	accounts := services.NewAccountService(db, tokens, box, services.SystemClock, appCfg, &config.JWTConfig{ExpireHour: 1})
	projects := services.NewProjectService(db, box, configs, appCfg)
	scores := services.NewScoreService(db)
	upload := &config.UploadConfig{Dir: t.TempDir(), MaxSizeMB: 1}

	authHandler := NewAuthHandler(accounts)
	userHandler := NewUserHandler(db, accounts)
	projectHandler := NewProjectHandler(projects, upload)
	scoreHandler := NewScoreHandler(scores)

	r := gin.New()
	r.GET("/health", NewHealthHandler(db, nil).CheckHealth)
	r.GET("/metrics", NewMetricsHandler(db, nil).Metrics)
	api := r.Group("/api")
	api.POST("/auth/register", authHandler.Register)
	api.GET("/auth/verify/:token", authHandler.Verify)
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/forgot-password", authHandler.ForgotPassword)
	api.GET("/auth/reset-password/:token", authHandler.CheckResetPassword)
	api.POST("/auth/reset-password/:token", authHandler.ResetPassword)
	api.GET("/technologies", NewTechnologyHandler(services.NewTechnologyService(db)).List)

	protected := api.Group("", middleware.AuthRequired())
	protected.GET("/profile", userHandler.GetProfile)
	protected.PUT("/profile", userHandler.UpdateProfile)
	protected.GET("/users/:id", userHandler.GetPublic)
	protected.GET("/projects", projectHandler.List)
	protected.POST("/projects", projectHandler.Create)
	protected.GET("/projects/:id", projectHandler.GetByID)
	protected.POST("/projects/:id/apply", projectHandler.Apply)
	protected.POST("/projects/:id/offers/:offer_id/accept", projectHandler.AcceptOffer)
	protected.POST("/projects/:id/close", projectHandler.Close)
	protected.POST("/projects/:id/attachment", projectHandler.UploadAttachment)
	protected.GET("/me/applications", projectHandler.ListApplications)
	protected.GET("/scores", scoreHandler.Overview)
	protected.POST("/scores/:id/coder", scoreHandler.RateCoder)
	protected.POST("/scores/:id/owner", scoreHandler.RateOwner)

	admin := api.Group("/admin", middleware.AuthRequired(), middleware.AdminRequired())
	admin.GET("/settings", NewSystemConfigHandler(configs).List)
	admin.PUT("/settings", NewSystemConfigHandler(configs).Update)

	return &testServer{t: t, db: db, router: r, mailbox: box}
}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(method, path, token string, body interface{}) (int, apiResponse) {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.serve(req)
}

func (s *testServer) serve(req *http.Request) (int, apiResponse) {
	s.t.Helper()
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	var resp apiResponse
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w.Code, resp
}

// signup registers, verifies and logs in an account, returning its JWT.
func (s *testServer) signup(username string) (string, uint) {
	s.t.Helper()
	code, _ := s.do("POST", "/api/auth/register", "", gin.H{
		"username": username, "first_name": "First", "last_name": "Last",
		"email": username + "@x.com", "password": "Secret1!",
	})
	require.Equal(s.t, http.StatusCreated, code)

	code, _ = s.do("GET", "/api/auth/verify/"+s.mailbox.lastToken(s.t, services.TemplateRegisterEmail), "", nil)
	require.Equal(s.t, http.StatusOK, code)

	code, resp := s.do("POST", "/api/auth/login", "", gin.H{"username": username, "password": "Secret1!"})
	require.Equal(s.t, http.StatusOK, code)
	var login struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	require.NoError(s.t, json.Unmarshal(resp.Data, &login))
	return login.Token, login.User.ID
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestToAppError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		details []string
	}{
		{"conflict", services.ErrAlreadyApplied, http.StatusConflict, []string{"E0x13"}},
		{"not found", services.ErrProjectNotFound, http.StatusNotFound, []string{"E0x10"}},
		{"ownership", services.ErrNotProjectOwner, http.StatusForbidden, []string{"E0x11"}},
		{"expired", services.ErrResetPasswordExpired, http.StatusGone, []string{"E0x05"}},
		{"validation", services.ErrInvalidScore, http.StatusBadRequest, []string{"E0x23"}},
		{"joined", errors.Join(services.ErrUsernameInUse, services.ErrEmailInUse), http.StatusConflict, []string{"E0x01", "E0x02"}},
		{"foreign error", fmt.Errorf("disk on fire"), http.StatusInternalServerError, []string{"E0x00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := toAppError(tt.err)
			assert.Equal(t, tt.status, appErr.HTTPStatus)
			var codes []string
			for _, d := range appErr.Details {
				codes = append(codes, d.Code)
			}
			assert.Equal(t, tt.details, codes)
		})
	}

	passthrough := response.NewBadRequest("bad")
	assert.Same(t, passthrough, toAppError(passthrough))
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signup("alice")

	code, resp := s.do("GET", "/api/profile", token, nil)
	require.Equal(t, http.StatusOK, code)
	profile := decode[models.User](t, resp.Data)
	assert.Equal(t, "alice", profile.Username)
	assert.True(t, profile.IsActive)

	code, _ = s.do("GET", "/api/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestRegister_ConflictListsEveryKind(t *testing.T) {
	s := newTestServer(t)
	s.signup("alice")

	code, resp := s.do("POST", "/api/auth/register", "", gin.H{
		"username": "alice", "first_name": "A", "last_name": "B",
		"email": "alice@x.com", "password": "Secret1!",
	})
	assert.Equal(t, http.StatusConflict, code)

	body := decode[struct {
		Errors []response.ErrorDetail `json:"errors"`
	}](t, resp.Data)
	require.Len(t, body.Errors, 2)
	assert.Equal(t, "E0x01", body.Errors[0].Code)
	assert.Equal(t, "E0x02", body.Errors[1].Code)
}

func TestRegister_BindingErrors(t *testing.T) {
	s := newTestServer(t)
	code, _ := s.do("POST", "/api/auth/register", "", gin.H{"username": "bob"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestLogin_InactiveAndWrongPassword(t *testing.T) {
	s := newTestServer(t)
	code, _ := s.do("POST", "/api/auth/register", "", gin.H{
		"username": "bob", "first_name": "Bob", "last_name": "B",
		"email": "bob@x.com", "password": "Secret1!",
	})
	require.Equal(t, http.StatusCreated, code)

	code, _ = s.do("POST", "/api/auth/login", "", gin.H{"username": "bob", "password": "Secret1!"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do("POST", "/api/auth/login", "", gin.H{"username": "bob", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestVerify_UnknownToken(t *testing.T) {
	s := newTestServer(t)
	code, resp := s.do("GET", "/api/auth/verify/does-not-exist", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, services.ErrTokenNotFound.Message, resp.Message)
}

func TestPasswordResetFlow(t *testing.T) {
	s := newTestServer(t)
	s.signup("carol")

	code, _ := s.do("POST", "/api/auth/forgot-password", "", gin.H{"email": "nobody@x.com"})
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do("POST", "/api/auth/forgot-password", "", gin.H{"email": "carol@x.com"})
	require.Equal(t, http.StatusOK, code)
	reset := s.mailbox.lastToken(t, services.TemplateResetPassword)

	code, _ = s.do("GET", "/api/auth/reset-password/"+reset, "", nil)
	assert.Equal(t, http.StatusOK, code)

	code, resp := s.do("POST", "/api/auth/reset-password/"+reset, "", gin.H{"password": "Newpass1", "confirm_password": "Other1"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, services.ErrResetPasswordNotMatch.Message, resp.Message)

	code, _ = s.do("POST", "/api/auth/reset-password/"+reset, "", gin.H{"password": "Newpass1", "confirm_password": "Newpass1"})
	require.Equal(t, http.StatusOK, code)

	code, _ = s.do("POST", "/api/auth/login", "", gin.H{"username": "carol", "password": "Newpass1"})
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do("GET", "/api/auth/reset-password/"+reset, "", nil)
	assert.Equal(t, http.StatusBadRequest, code, "consumed tokens are gone")
}

func TestProjectLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	ownerToken, _ := s.signup("owner")
	coderToken, coderID := s.signup("coder")

	code, resp := s.do("POST", "/api/projects", ownerToken, gin.H{
		"title": "Shop", "description": "An online shop", "technologies": []string{"Go"},
		"openings": 1, "start_date": "2026-06-01", "end_date": "2026-07-01",
	})
	require.Equal(t, http.StatusCreated, code)
	project := decode[models.Project](t, resp.Data)

	code, _ = s.do("POST", "/api/projects", ownerToken, gin.H{
		"title": "Bad", "description": "x", "technologies": []string{"Cobol++"},
		"openings": 1, "start_date": "2026-06-01", "end_date": "2026-07-01",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do("POST", fmt.Sprintf("/api/projects/%d/apply", project.ID), ownerToken, gin.H{"money": 1, "hours": 1, "message": "me"})
	assert.Equal(t, http.StatusForbidden, code)

	code, resp = s.do("POST", fmt.Sprintf("/api/projects/%d/apply", project.ID), coderToken, gin.H{"money": 900, "hours": 30, "message": "hire me"})
	require.Equal(t, http.StatusCreated, code)
	offer := decode[models.JobOffer](t, resp.Data)
	assert.Equal(t, coderID, offer.UserID)

	code, _ = s.do("POST", fmt.Sprintf("/api/projects/%d/apply", project.ID), coderToken, gin.H{"money": 900, "hours": 30, "message": "again"})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do("POST", fmt.Sprintf("/api/projects/%d/offers/%d/accept", project.ID, offer.ID), coderToken, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do("POST", fmt.Sprintf("/api/projects/%d/offers/%d/accept", project.ID, offer.ID), ownerToken, nil)
	require.Equal(t, http.StatusOK, code)

	code, resp = s.do("GET", fmt.Sprintf("/api/projects/%d", project.ID), coderToken, nil)
	require.Equal(t, http.StatusOK, code)
	detail := decode[services.ProjectDetail](t, resp.Data)
	assert.True(t, detail.Accepted)
	assert.Equal(t, 0, detail.AvailableOpenings)

	code, resp = s.do("POST", fmt.Sprintf("/api/projects/%d/close", project.ID), ownerToken, nil)
	require.Equal(t, http.StatusOK, code)
	closed := decode[services.CloseResult](t, resp.Data)
	require.Len(t, closed.Scores, 1)
	scoreID := closed.Scores[0].ID

	code, _ = s.do("POST", fmt.Sprintf("/api/projects/%d/close", project.ID), ownerToken, nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do("POST", fmt.Sprintf("/api/scores/%d/coder", scoreID), ownerToken, gin.H{"score": 9})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do("POST", fmt.Sprintf("/api/scores/%d/coder", scoreID), ownerToken, gin.H{"score": 4})
	require.Equal(t, http.StatusOK, code)

	code, _ = s.do("POST", fmt.Sprintf("/api/scores/%d/coder", scoreID), ownerToken, gin.H{"score": 5})
	assert.Equal(t, http.StatusConflict, code)

	code, resp = s.do("GET", "/api/scores", coderToken, nil)
	require.Equal(t, http.StatusOK, code)
	overview := decode[services.ScoresOverview](t, resp.Data)
	assert.Equal(t, 1, overview.PendingCount)

	code, _ = s.do("POST", fmt.Sprintf("/api/scores/%d/owner", scoreID), coderToken, gin.H{"score": 5})
	require.Equal(t, http.StatusOK, code)

	code, resp = s.do("GET", "/api/me/applications", coderToken, nil)
	require.Equal(t, http.StatusOK, code)
	apps := decode[struct {
		Total int `json:"total"`
	}](t, resp.Data)
	assert.Equal(t, 1, apps.Total)
}

func TestProjectRoutes_InvalidIDs(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signup("dave")

	code, _ := s.do("GET", "/api/projects/abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do("GET", "/api/projects/999", token, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestUploadAttachment(t *testing.T) {
	s := newTestServer(t)
	ownerToken, _ := s.signup("owner")
	otherToken, _ := s.signup("other")

	code, resp := s.do("POST", "/api/projects", ownerToken, gin.H{
		"title": "Docs", "description": "d", "openings": 1,
		"start_date": "2026-06-01", "end_date": "2026-06-02",
	})
	require.Equal(t, http.StatusCreated, code)
	project := decode[models.Project](t, resp.Data)

	upload := func(token string, content []byte) (int, apiResponse) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, err := mw.CreateFormFile("file", "brief.PDF")
		require.NoError(t, err)
		fw.Write(content)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest("POST", fmt.Sprintf("/api/projects/%d/attachment", project.ID), &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		return s.serve(req)
	}

	code, _ = upload(otherToken, []byte("hello"))
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = upload(ownerToken, bytes.Repeat([]byte("x"), (1<<20)+10))
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = upload(ownerToken, []byte("%PDF-1.4"))
	require.Equal(t, http.StatusOK, code)
	updated := decode[models.Project](t, resp.Data)
	assert.True(t, strings.HasSuffix(updated.Attachment, ".pdf"), updated.Attachment)
}

func TestPublicProfileHidesEmail(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signup("erin")
	_, id := s.signup("frank")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", fmt.Sprintf("/api/users/%d", id), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"username":"frank"`)
	assert.NotContains(t, w.Body.String(), "frank@x.com")
}

func TestAdminSettingsRequireAdmin(t *testing.T) {
	s := newTestServer(t)
	userToken, _ := s.signup("gina")

	code, _ := s.do("GET", "/api/admin/settings", userToken, nil)
	assert.Equal(t, http.StatusForbidden, code)

	adminToken, err := utils.GenerateToken(1, "admin", models.RoleAdmin, 1)
	require.NoError(t, err)

	code, _ = s.do("PUT", "/api/admin/settings", adminToken, gin.H{models.ConfigOpenProjectsPageSize: "0"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp := s.do("PUT", "/api/admin/settings", adminToken, gin.H{models.ConfigOpenProjectsPageSize: "2"})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), `"value":"2"`)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"queue_mode":"sync"`)

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rentacoder_projects_open 0")
	assert.Contains(t, w.Body.String(), "# TYPE rentacoder_users_active gauge")
	assert.Contains(t, w.Body.String(), "rentacoder_mail_queue_async_enabled 0")
	assert.Contains(t, w.Body.String(), `go_sql_open_connections{db_name="rentacoder"}`)
}

func TestMetrics_SkipsFailedCounts(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.db.Migrator().DropTable(&models.JobOffer{}))

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.NotContains(t, body, "rentacoder_offers_total")
	assert.NotContains(t, body, "rentacoder_offers_accepted")
	assert.Contains(t, body, "rentacoder_projects_open 0")
	assert.Contains(t, body, "rentacoder_users_active")
}
