package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-portal-api/internal/dto"
	"github.com/noah-isme/course-portal-api/internal/middleware"
	"github.com/noah-isme/course-portal-api/internal/models"
	appErrors "github.com/noah-isme/course-portal-api/pkg/errors"
	"github.com/noah-isme/course-portal-api/pkg/export"
	"github.com/noah-isme/course-portal-api/pkg/response"
)

type envelope struct {
	Version    string             `json:"version"`
	Success    bool               `json:"success"`
	Message    string             `json:"message"`
	Data       json.RawMessage    `json:"data"`
	Error      *appErrors.Error   `json:"error"`
	Pagination *models.Pagination `json:"pagination"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, response.SchemaVersion, env.Version)
	return env
}

func newContext(method, target, body string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	c.Request = req
	return c, rec
}

func authenticate(c *gin.Context, userID string) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: userID}})
}

type fakeAuthSrv struct {
	signupReq  models.SignupRequest
	loginReq   models.LoginRequest
	logoutUser string
	resp       *models.AuthResponse
	info       *models.UserInfo
	err        error
}

func (f *fakeAuthSrv) Signup(_ context.Context, req models.SignupRequest) (*models.AuthResponse, error) {
	f.signupReq = req
	return f.resp, f.err
}

func (f *fakeAuthSrv) Login(_ context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	f.loginReq = req
	return f.resp, f.err
}

func (f *fakeAuthSrv) RefreshToken(context.Context, models.RefreshTokenRequest) (*models.TokenBundle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &f.resp.Tokens, nil
}

func (f *fakeAuthSrv) Logout(_ context.Context, userID string, _ models.LogoutRequest) error {
	f.logoutUser = userID
	return f.err
}

func (f *fakeAuthSrv) Me(context.Context, string) (*models.UserInfo, error) {
	return f.info, f.err
}

func (f *fakeAuthSrv) UpdateProfile(context.Context, string, models.UpdateProfileRequest) (*models.UserInfo, error) {
	return f.info, f.err
}

func TestSignupCreated(t *testing.T) {
	srv := &fakeAuthSrv{resp: &models.AuthResponse{User: models.UserInfo{ID: "u9", Email: "ada@university.edu"}}}
	h := NewAuthHandler(srv)
	c, rec := newContext(http.MethodPost, "/auth/signup", `{"firstName":"Ada","lastName":"L","email":"ada@university.edu","phone":"5551234567","password":"x"}`)

	h.Signup(c)

	require.Equal(t, http.StatusCreated, rec.Code)
	env := decode(t, rec)
	assert.True(t, env.Success)
	assert.Equal(t, "Registration successful", env.Message)
	assert.Equal(t, "Ada", srv.signupReq.FirstName)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestSignupRendersServiceError(t *testing.T) {
	h := NewAuthHandler(&fakeAuthSrv{err: appErrors.ErrEmailTaken})
	c, rec := newContext(http.MethodPost, "/auth/signup", `{"email":"x"}`)

	h.Signup(c)

	require.Equal(t, http.StatusConflict, rec.Code)
	env := decode(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, "EMAIL_TAKEN", env.Error.Code)
	assert.Equal(t, "Email already in use", env.Message)
}

func TestSignupMalformedBody(t *testing.T) {
	h := NewAuthHandler(&fakeAuthSrv{})
	c, rec := newContext(http.MethodPost, "/auth/signup", `{not json`)

	h.Signup(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, rec).Error.Code)
}

func TestLoginPassesClientMetadata(t *testing.T) {
	srv := &fakeAuthSrv{resp: &models.AuthResponse{Tokens: models.TokenBundle{AccessToken: "a", RefreshToken: "r"}}}
	h := NewAuthHandler(srv)
	c, rec := newContext(http.MethodPost, "/auth/login", `{"email":"student@university.edu","password":"password"}`)
	c.Request.Header.Set("User-Agent", "portal-test")

	h.Login(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "portal-test", srv.loginReq.UserAgent)
	var data models.AuthResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &data))
	assert.Equal(t, "a", data.Tokens.AccessToken)
}

func TestLoginInvalidCredentials(t *testing.T) {
	h := NewAuthHandler(&fakeAuthSrv{err: appErrors.ErrInvalidCredentials})
	c, rec := newContext(http.MethodPost, "/auth/login", `{"email":"a@b.co","password":"nope"}`)

	h.Login(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid email or password", decode(t, rec).Message)
}

func TestLogoutUsesTokenSubject(t *testing.T) {
	srv := &fakeAuthSrv{}
	h := NewAuthHandler(srv)
	c, rec := newContext(http.MethodPost, "/auth/logout", `{"refreshToken":"r"}`)
	authenticate(c, "user1")

	h.Logout(c)
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "user1", srv.logoutUser)
}

func TestMeRequiresIdentity(t *testing.T) {
	h := NewAuthHandler(&fakeAuthSrv{info: &models.UserInfo{ID: "user1"}})
	c, rec := newContext(http.MethodGet, "/auth/me", "")

	h.Me(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type fakeCatalogSrv struct {
	query   dto.CourseQuery
	courses []models.Course
	course  *models.Course
	module  *dto.ModuleDetail
	err     error
}

func (f *fakeCatalogSrv) ListCourses(_ context.Context, q dto.CourseQuery) ([]models.Course, *models.Pagination, error) {
	f.query = q
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.courses, &models.Pagination{Page: 1, PageSize: 20, TotalCount: len(f.courses)}, nil
}

func (f *fakeCatalogSrv) GetCourse(context.Context, string) (*models.Course, error) {
	return f.course, f.err
}

func (f *fakeCatalogSrv) GetModule(context.Context, string) (*dto.ModuleDetail, error) {
	return f.module, f.err
}

func (f *fakeCatalogSrv) Departments(context.Context) ([]string, error) {
	return []string{"Biology"}, f.err
}

func TestListCoursesBindsQuery(t *testing.T) {
	srv := &fakeCatalogSrv{courses: []models.Course{{ID: "course1"}}}
	h := NewCatalogHandler(srv, nil)
	c, rec := newContext(http.MethodGet, "/courses?department=Biology&search=cell&page=2&pageSize=5", "")

	h.ListCourses(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dto.CourseQuery{Department: "Biology", Search: "cell", Page: 2, PageSize: 5}, srv.query)
	env := decode(t, rec)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 1, env.Pagination.TotalCount)
}

func TestListCoursesRejectsBadPage(t *testing.T) {
	h := NewCatalogHandler(&fakeCatalogSrv{}, nil)
	c, rec := newContext(http.MethodGet, "/courses?page=abc", "")

	h.ListCourses(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetModuleNotFound(t *testing.T) {
	h := NewCatalogHandler(&fakeCatalogSrv{err: appErrors.ErrModuleNotFound}, nil)
	c, rec := newContext(http.MethodGet, "/modules/nope", "")
	c.Params = gin.Params{{Key: "id", Value: "nope"}}

	h.GetModule(c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Module not found", decode(t, rec).Message)
}

type fakeEnrollmentChecker struct {
	userID, moduleID string
	enrolled         bool
	err              error
}

func (f *fakeEnrollmentChecker) IsEnrolled(_ context.Context, userID, moduleID string) (bool, error) {
	f.userID, f.moduleID = userID, moduleID
	return f.enrolled, f.err
}

func TestGetModuleReportsEnrollmentForCaller(t *testing.T) {
	module := func() *dto.ModuleDetail {
		return &dto.ModuleDetail{Module: models.Module{ID: "module2", Code: "CS101-B"}, SeatsLeft: 3}
	}

	t.Run("anonymous", func(t *testing.T) {
		checker := &fakeEnrollmentChecker{enrolled: true}
		h := NewCatalogHandler(&fakeCatalogSrv{module: module()}, checker)
		c, rec := newContext(http.MethodGet, "/modules/module2", "")
		c.Params = gin.Params{{Key: "id", Value: "module2"}}

		h.GetModule(c)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, string(decode(t, rec).Data), "enrolled")
		assert.Empty(t, checker.userID)
	})

	t.Run("signed in", func(t *testing.T) {
		checker := &fakeEnrollmentChecker{enrolled: true}
		h := NewCatalogHandler(&fakeCatalogSrv{module: module()}, checker)
		c, rec := newContext(http.MethodGet, "/modules/module2", "")
		c.Params = gin.Params{{Key: "id", Value: "module2"}}
		authenticate(c, "user1")

		h.GetModule(c)

		require.Equal(t, http.StatusOK, rec.Code)
		var detail dto.ModuleDetail
		require.NoError(t, json.Unmarshal(decode(t, rec).Data, &detail))
		require.NotNil(t, detail.Enrolled)
		assert.True(t, *detail.Enrolled)
		assert.Equal(t, "user1", checker.userID)
		assert.Equal(t, "module2", checker.moduleID)
	})

	t.Run("check fails", func(t *testing.T) {
		checker := &fakeEnrollmentChecker{err: appErrors.Clone(appErrors.ErrInternal, "failed to check enrollment")}
		h := NewCatalogHandler(&fakeCatalogSrv{module: module()}, checker)
		c, rec := newContext(http.MethodGet, "/modules/module2", "")
		c.Params = gin.Params{{Key: "id", Value: "module2"}}
		authenticate(c, "user1")

		h.GetModule(c)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

type fakeEnrollmentSrv struct {
	userID   string
	moduleID string
	format   string
	result   *models.RegistrationResult
	views    []dto.EnrollmentView
	summary  *dto.DashboardSummary
	file     []byte
	err      error
}

func (f *fakeEnrollmentSrv) Register(_ context.Context, userID, moduleID string) (*models.RegistrationResult, error) {
	f.userID, f.moduleID = userID, moduleID
	return f.result, f.err
}

func (f *fakeEnrollmentSrv) ListForUser(_ context.Context, userID string) ([]dto.EnrollmentView, error) {
	f.userID = userID
	return f.views, f.err
}

func (f *fakeEnrollmentSrv) Dashboard(_ context.Context, userID string) (*dto.DashboardSummary, error) {
	f.userID = userID
	return f.summary, f.err
}

func (f *fakeEnrollmentSrv) ExportTimetable(_ context.Context, userID, format string) ([]byte, export.Format, error) {
	f.userID, f.format = userID, format
	if f.err != nil {
		return nil, "", f.err
	}
	parsed, err := export.ParseFormat(format)
	return f.file, parsed, err
}

func TestRegisterUsesTokenIdentityNotBody(t *testing.T) {
	srv := &fakeEnrollmentSrv{result: &models.RegistrationResult{Message: "Successfully registered for module"}}
	h := NewEnrollmentHandler(srv)
	c, rec := newContext(http.MethodPost, "/modules/module2/register", `{"userId":"someone-else"}`)
	c.Params = gin.Params{{Key: "id", Value: "module2"}}
	authenticate(c, "user1")

	h.Register(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user1", srv.userID)
	assert.Equal(t, "module2", srv.moduleID)
	assert.Equal(t, "Successfully registered for module", decode(t, rec).Message)
}

func TestRegisterMapsEngineErrors(t *testing.T) {
	cases := []struct {
		err     error
		status  int
		message string
	}{
		{appErrors.ErrModuleFull, http.StatusBadRequest, "Module is full"},
		{appErrors.ErrAlreadyEnrolled, http.StatusBadRequest, "Already enrolled in this module"},
		{appErrors.ErrModuleNotFound, http.StatusNotFound, "Module not found"},
		{appErrors.Wrap(errors.New("dial tcp"), appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, appErrors.ErrTransport.Message), http.StatusBadGateway, "Network error occurred"},
	}
	for _, tc := range cases {
		h := NewEnrollmentHandler(&fakeEnrollmentSrv{err: tc.err})
		c, rec := newContext(http.MethodPost, "/modules/m/register", "")
		authenticate(c, "user1")

		h.Register(c)

		assert.Equal(t, tc.status, rec.Code)
		assert.Equal(t, tc.message, decode(t, rec).Message)
	}
}

func TestRegisterWithoutIdentity(t *testing.T) {
	srv := &fakeEnrollmentSrv{}
	h := NewEnrollmentHandler(srv)
	c, rec := newContext(http.MethodPost, "/modules/m/register", "")

	h.Register(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, srv.moduleID)
}

func TestDashboardHandler(t *testing.T) {
	srv := &fakeEnrollmentSrv{summary: &dto.DashboardSummary{TotalModules: 3, TotalClassmates: 95, TotalCredits: 11}}
	h := NewEnrollmentHandler(srv)
	c, rec := newContext(http.MethodGet, "/me/dashboard", "")
	authenticate(c, "user1")

	h.Dashboard(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var summary dto.DashboardSummary
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &summary))
	assert.Equal(t, 95, summary.TotalClassmates)
}

func TestExportSetsAttachmentHeaders(t *testing.T) {
	srv := &fakeEnrollmentSrv{file: []byte("Module,Title\n")}
	h := NewEnrollmentHandler(srv)
	h.now = func() time.Time { return time.Date(2024, 9, 2, 10, 0, 0, 0, time.UTC) }
	c, rec := newContext(http.MethodGet, "/me/enrollments/export?format=csv", "")
	authenticate(c, "user1")

	h.Export(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "csv", srv.format)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="timetable-20240902.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "Module,Title\n", rec.Body.String())
}

func TestReadyReportsFailingProbe(t *testing.T) {
	h := NewMetricsHandler(nil, map[string]Probe{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	c, rec := newContext(http.MethodGet, "/ready", "")

	h.Ready(c)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	env := decode(t, rec)
	assert.False(t, env.Success)
	assert.Contains(t, string(env.Data), "connection refused")
}

func TestHealthAndMetricsWithoutService(t *testing.T) {
	h := NewMetricsHandler(nil, nil)

	c, rec := newContext(http.MethodGet, "/health", "")
	h.Health(c)
	assert.Equal(t, http.StatusOK, rec.Code)

	c, rec = newContext(http.MethodGet, "/metrics", "")
	h.Prometheus(c)
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
