// Package portal is the client side of the course portal: it talks to the
// API, keeps the session and gates navigation through the guard.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-portal-api/internal/dto"
	"github.com/noah-isme/course-portal-api/internal/guard"
	"github.com/noah-isme/course-portal-api/internal/models"
	"github.com/noah-isme/course-portal-api/internal/session"
	appErrors "github.com/noah-isme/course-portal-api/pkg/errors"
	"github.com/noah-isme/course-portal-api/pkg/export"
	"github.com/noah-isme/course-portal-api/pkg/response"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 8 << 20
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client calls the portal API on behalf of the single session user.
type Client struct {
	baseURL  string
	http     *http.Client
	sessions session.Store
	guard    *guard.Guard
	logger   *zap.Logger
}

// New builds a client for the API rooted at baseURL, which includes the API
// prefix (for example http://localhost:8080/api/v1).
func New(baseURL string, sessions session.Store, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: defaultTimeout},
		sessions: sessions,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.guard = guard.New(sessions, c.logger)
	return c
}

// Guard exposes the navigation guard bound to this client's session.
func (c *Client) Guard() *guard.Guard {
	return c.guard
}

// Resolve reads the persisted session into the guard.
func (c *Client) Resolve(ctx context.Context) (guard.State, error) {
	return c.guard.Resolve(ctx)
}

// Navigate evaluates path against the current session, resolving it first
// when still checking.
func (c *Client) Navigate(ctx context.Context, path string) (guard.Decision, error) {
	return c.guard.Navigate(ctx, path)
}

// Signup creates an account and signs in with the issued tokens.
func (c *Client) Signup(ctx context.Context, req models.SignupRequest) (*models.AuthResponse, string, error) {
	var res models.AuthResponse
	env, err := c.do(ctx, http.MethodPost, "/auth/signup", "", req, &res)
	if err != nil {
		return nil, "", err
	}
	if err := c.guard.SignIn(ctx, session.Session{User: res.User, Tokens: res.Tokens}); err != nil {
		return nil, "", err
	}
	return &res, env.Message, nil
}

// Login authenticates and stores the session. A failed login leaves any
// existing session untouched.
func (c *Client) Login(ctx context.Context, email, password string) (*models.AuthResponse, error) {
	var res models.AuthResponse
	if _, err := c.do(ctx, http.MethodPost, "/auth/login", "", models.LoginRequest{Email: email, Password: password}, &res); err != nil {
		return nil, err
	}
	if err := c.guard.SignIn(ctx, session.Session{User: res.User, Tokens: res.Tokens}); err != nil {
		return nil, err
	}
	return &res, nil
}

// Logout revokes the refresh token and clears the session. The session is
// cleared even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	current, ok, err := c.sessions.Current(ctx)
	if err != nil {
		return err
	}
	var remoteErr error
	if ok {
		_, remoteErr = c.do(ctx, http.MethodPost, "/auth/logout", current.Tokens.AccessToken,
			models.LogoutRequest{RefreshToken: current.Tokens.RefreshToken}, nil)
		if remoteErr != nil {
			c.logger.Warn("remote logout failed", zap.Error(remoteErr))
		}
	}
	if err := c.guard.SignOut(ctx); err != nil {
		return err
	}
	return remoteErr
}

// Refresh rotates the session's token pair.
func (c *Client) Refresh(ctx context.Context) error {
	current, err := c.requireSession(ctx, guard.LandingPath)
	if err != nil {
		return err
	}
	var tokens models.TokenBundle
	if _, err := c.do(ctx, http.MethodPost, "/auth/refresh", "", models.RefreshTokenRequest{RefreshToken: current.Tokens.RefreshToken}, &tokens); err != nil {
		return c.handleAuthFailure(ctx, err)
	}
	current.Tokens = tokens
	return c.guard.SignIn(ctx, current)
}

// Me fetches the profile and refreshes the stored user.
func (c *Client) Me(ctx context.Context) (*models.UserInfo, error) {
	current, err := c.requireSession(ctx, "/profile")
	if err != nil {
		return nil, err
	}
	var info models.UserInfo
	if _, err := c.do(ctx, http.MethodGet, "/auth/me", current.Tokens.AccessToken, nil, &info); err != nil {
		return nil, c.handleAuthFailure(ctx, err)
	}
	current.User = info
	if err := c.guard.SignIn(ctx, current); err != nil {
		return nil, err
	}
	return &info, nil
}

// Courses lists courses matching query.
func (c *Client) Courses(ctx context.Context, query dto.CourseQuery) ([]models.Course, *models.Pagination, error) {
	params := url.Values{}
	if query.Department != "" {
		params.Set("department", query.Department)
	}
	if query.Search != "" {
		params.Set("search", query.Search)
	}
	if query.Page > 0 {
		params.Set("page", strconv.Itoa(query.Page))
	}
	if query.PageSize > 0 {
		params.Set("pageSize", strconv.Itoa(query.PageSize))
	}
	path := "/courses"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var courses []models.Course
	env, err := c.do(ctx, http.MethodGet, path, "", nil, &courses)
	if err != nil {
		return nil, nil, err
	}
	return courses, env.Pagination, nil
}

// Course fetches a course with its modules.
func (c *Client) Course(ctx context.Context, id string) (*models.Course, error) {
	var course models.Course
	if _, err := c.do(ctx, http.MethodGet, "/courses/"+url.PathEscape(id), "", nil, &course); err != nil {
		return nil, err
	}
	return &course, nil
}

// Module fetches a module with its course summary. With a session the
// detail also reports whether the user is enrolled.
func (c *Client) Module(ctx context.Context, id string) (*dto.ModuleDetail, error) {
	var token string
	if current, ok, err := c.sessions.Current(ctx); err == nil && ok {
		token = current.Tokens.AccessToken
	}
	var detail dto.ModuleDetail
	if _, err := c.do(ctx, http.MethodGet, "/modules/"+url.PathEscape(id), token, nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Register enrolls the session user in moduleID. Without a session the
// guard redirects and no request is sent.
func (c *Client) Register(ctx context.Context, moduleID string) (*models.RegistrationResult, error) {
	current, err := c.requireSession(ctx, "/modules/"+moduleID)
	if err != nil {
		return nil, err
	}

	var result models.RegistrationResult
	if _, err := c.do(ctx, http.MethodPost, "/modules/"+url.PathEscape(moduleID)+"/register", current.Tokens.AccessToken, nil, &result); err != nil {
		return nil, c.handleAuthFailure(ctx, err)
	}

	if !current.User.HasModule(moduleID) {
		current.User.EnrolledModuleIDs = append(current.User.EnrolledModuleIDs, moduleID)
		if err := c.guard.SignIn(ctx, current); err != nil {
			return nil, err
		}
	}
	return &result, nil
}

// Enrollments lists the session user's enrollments.
func (c *Client) Enrollments(ctx context.Context) ([]dto.EnrollmentView, error) {
	current, err := c.requireSession(ctx, guard.LandingPath)
	if err != nil {
		return nil, err
	}
	var views []dto.EnrollmentView
	if _, err := c.do(ctx, http.MethodGet, "/me/enrollments", current.Tokens.AccessToken, nil, &views); err != nil {
		return nil, c.handleAuthFailure(ctx, err)
	}
	return views, nil
}

// Dashboard fetches the dashboard summary.
func (c *Client) Dashboard(ctx context.Context) (*dto.DashboardSummary, error) {
	current, err := c.requireSession(ctx, guard.LandingPath)
	if err != nil {
		return nil, err
	}
	var summary dto.DashboardSummary
	if _, err := c.do(ctx, http.MethodGet, "/me/dashboard", current.Tokens.AccessToken, nil, &summary); err != nil {
		return nil, c.handleAuthFailure(ctx, err)
	}
	return &summary, nil
}

// ExportTimetable downloads the timetable file and its suggested name.
func (c *Client) ExportTimetable(ctx context.Context, format export.Format) ([]byte, string, error) {
	current, err := c.requireSession(ctx, guard.LandingPath)
	if err != nil {
		return nil, "", err
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/me/enrollments/export?format="+url.QueryEscape(string(format)), current.Tokens.AccessToken, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", transportError(err, "export request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", transportError(err, "read export body")
	}
	if resp.StatusCode != http.StatusOK {
		_, err := decodeEnvelope(resp.StatusCode, body, nil)
		return nil, "", c.handleAuthFailure(ctx, err)
	}

	filename := "timetable." + string(format)
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		filename = params["filename"]
	}
	return body, filename, nil
}

// requireSession runs the guard for path and returns the live session, or
// ErrUnauthorized when the guard redirects to login.
func (c *Client) requireSession(ctx context.Context, path string) (session.Session, error) {
	decision, err := c.guard.Navigate(ctx, path)
	if err != nil {
		return session.Session{}, err
	}
	if decision.Action == guard.Redirect && decision.Location == guard.LoginPath {
		return session.Session{}, appErrors.Clone(appErrors.ErrUnauthorized, "login required")
	}
	current, ok, err := c.sessions.Current(ctx)
	if err != nil {
		return session.Session{}, err
	}
	if !ok {
		_ = c.guard.SignOut(ctx)
		return session.Session{}, appErrors.Clone(appErrors.ErrUnauthorized, "login required")
	}
	return current, nil
}

// handleAuthFailure drops the session when the server rejects its token.
func (c *Client) handleAuthFailure(ctx context.Context, err error) error {
	if errors.Is(err, appErrors.ErrUnauthorized) {
		if signOutErr := c.guard.SignOut(ctx); signOutErr != nil {
			c.logger.Warn("clear rejected session", zap.Error(signOutErr))
		}
	}
	return err
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// do sends one API call and decodes the v1 envelope into dest.
func (c *Client) do(ctx context.Context, method, path, token string, body, dest interface{}) (*response.Envelope, error) {
	req, err := c.newRequest(ctx, method, path, token, body)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(err, "request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, transportError(err, "read response")
	}
	c.logger.Debug("portal call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode == http.StatusNoContent {
		return &response.Envelope{Version: response.SchemaVersion, Success: true}, nil
	}
	return decodeEnvelope(resp.StatusCode, raw, dest)
}
