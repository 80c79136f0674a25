package service

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/course-portal-api/internal/models"
	appErrors "github.com/noah-isme/course-portal-api/pkg/errors"
)

type mockAuthRepo struct {
	mu            sync.Mutex
	users         map[string]*models.User
	refreshTokens map[string]*models.RefreshToken
	createErr     error
	revoked       []string
}

func newMockAuthRepo() *mockAuthRepo {
	return &mockAuthRepo{users: map[string]*models.User{}, refreshTokens: map[string]*models.RefreshToken{}}
}

func (m *mockAuthRepo) addUser(t *testing.T, id, email, password string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	user := &models.User{ID: id, FirstName: "John", LastName: "Doe", Email: email, Phone: "5551234567", PasswordHash: string(hash)}
	m.users[id] = user
	return user
}

func (m *mockAuthRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			clone := *u
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *u
	return &clone, nil
}

func (m *mockAuthRepo) EmailTaken(_ context.Context, email, excludeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) && u.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockAuthRepo) Create(_ context.Context, user *models.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *user
	m.users[user.ID] = &clone
	return nil
}

func (m *mockAuthRepo) UpdateProfile(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return sql.ErrNoRows
	}
	clone := *user
	m.users[user.ID] = &clone
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(_ context.Context, token *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *token
	m.refreshTokens[token.Token] = &clone
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(_ context.Context, token string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.refreshTokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *rt
	return &clone, nil
}

func (m *mockAuthRepo) RevokeRefreshToken(_ context.Context, id string, revokedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rt := range m.refreshTokens {
		if rt.ID == id && !rt.Revoked {
			rt.Revoked = true
			rt.RevokedAt = &revokedAt
			m.revoked = append(m.revoked, id)
			return nil
		}
	}
	return models.ErrNotFound
}

type staticEnrollments map[string][]string

func (s staticEnrollments) ListModuleIDs(_ context.Context, userID string) ([]string, error) {
	return s[userID], nil
}

func newTestAuthService(repo authUserRepository, metrics *MetricsService) *AuthService {
	enrollments := staticEnrollments{"user1": {"module1", "module3", "module5"}}
	return NewAuthService(repo, enrollments, nil, metrics, nil, AuthConfig{
		AccessTokenSecret:  "secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "course-portal-api",
	})
}

func validSignup() models.SignupRequest {
	return models.SignupRequest{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@university.edu",
		Phone:     "(555) 123-4567",
		Password:  "secret1",
	}
}

func TestSignupChecksRunInOrder(t *testing.T) {
	repo := newMockAuthRepo()
	repo.addUser(t, "user1", "student@university.edu", "password")
	svc := newTestAuthService(repo, nil)

	cases := []struct {
		name    string
		mutate  func(r *models.SignupRequest)
		message string
		status  int
	}{
		{name: "missing field wins over bad email", mutate: func(r *models.SignupRequest) { r.FirstName = ""; r.Email = "bad" }, message: MsgFieldsRequired, status: 400},
		{name: "blank password", mutate: func(r *models.SignupRequest) { r.Password = "" }, message: MsgFieldsRequired, status: 400},
		{name: "bad email wins over bad phone", mutate: func(r *models.SignupRequest) { r.Email = "ada@university"; r.Phone = "123" }, message: MsgInvalidEmail, status: 400},
		{name: "short phone", mutate: func(r *models.SignupRequest) { r.Phone = "555-1234" }, message: MsgInvalidPhone, status: 400},
		{name: "long phone", mutate: func(r *models.SignupRequest) { r.Phone = "+1 555 123 4567" }, message: MsgInvalidPhone, status: 400},
		{name: "bad phone wins over taken email", mutate: func(r *models.SignupRequest) { r.Email = "student@university.edu"; r.Phone = "1" }, message: MsgInvalidPhone, status: 400},
		{name: "taken email", mutate: func(r *models.SignupRequest) { r.Email = "Student@University.edu" }, message: "Email already in use", status: 409},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validSignup()
			tc.mutate(&req)

			_, err := svc.Signup(context.Background(), req)
			require.Error(t, err)
			appErr := appErrors.FromError(err)
			assert.Equal(t, tc.message, appErr.Message)
			assert.Equal(t, tc.status, appErr.Status)
		})
	}
}

func TestSignupCreatesUserAndTokens(t *testing.T) {
	repo := newMockAuthRepo()
	metrics := NewMetricsService()
	svc := newTestAuthService(repo, metrics)

	resp, err := svc.Signup(context.Background(), validSignup())
	require.NoError(t, err)

	assert.Equal(t, "ada@university.edu", resp.User.Email)
	assert.Equal(t, "5551234567", resp.User.Phone)
	assert.Equal(t, []string{}, resp.User.EnrolledModuleIDs)
	assert.NotEmpty(t, resp.Tokens.AccessToken)
	assert.NotEmpty(t, resp.Tokens.RefreshToken)
	assert.EqualValues(t, 3600, resp.Tokens.ExpiresIn)

	stored, err := repo.FindByID(context.Background(), resp.User.ID)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("secret1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.signups))

	claims, err := svc.ValidateToken(resp.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, claims.UserID())
	assert.Equal(t, "Ada Lovelace", claims.FullName)
}

func TestSignupMapsConcurrentDuplicate(t *testing.T) {
	repo := newMockAuthRepo()
	repo.createErr = models.ErrDuplicateIdentity
	svc := newTestAuthService(repo, nil)

	_, err := svc.Signup(context.Background(), validSignup())
	assert.ErrorIs(t, err, appErrors.ErrEmailTaken)
}

func TestLoginSuccess(t *testing.T) {
	repo := newMockAuthRepo()
	repo.addUser(t, "user1", "student@university.edu", "password")
	metrics := NewMetricsService()
	svc := newTestAuthService(repo, metrics)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "student@university.edu", Password: "password", IP: "127.0.0.1"})
	require.NoError(t, err)

	assert.Equal(t, "user1", resp.User.ID)
	assert.Equal(t, []string{"module1", "module3", "module5"}, resp.User.EnrolledModuleIDs)
	require.Contains(t, repo.refreshTokens, resp.Tokens.RefreshToken)
	assert.Equal(t, "127.0.0.1", repo.refreshTokens[resp.Tokens.RefreshToken].IPAddress)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.logins.WithLabelValues("success")))
}

func TestLoginFailuresShareOneMessage(t *testing.T) {
	repo := newMockAuthRepo()
	repo.addUser(t, "user1", "student@university.edu", "password")
	svc := newTestAuthService(repo, nil)

	for _, req := range []models.LoginRequest{
		{Email: "student@university.edu", Password: "wrong"},
		{Email: "ghost@university.edu", Password: "password"},
	} {
		resp, err := svc.Login(context.Background(), req)
		assert.Nil(t, resp)
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErr.Code)
		assert.Equal(t, "Invalid email or password", appErr.Message)
		assert.Equal(t, 401, appErr.Status)
	}
	assert.Empty(t, repo.refreshTokens)
}

func TestLoginRequiresFields(t *testing.T) {
	svc := newTestAuthService(newMockAuthRepo(), nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "student@university.edu"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestRefreshTokenRotates(t *testing.T) {
	repo := newMockAuthRepo()
	repo.addUser(t, "user1", "student@university.edu", "password")
	svc := newTestAuthService(repo, nil)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "student@university.edu", Password: "password"})
	require.NoError(t, err)

	rotated, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.Tokens.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.Tokens.RefreshToken, rotated.RefreshToken)
	assert.True(t, repo.refreshTokens[login.Tokens.RefreshToken].Revoked)

	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.Tokens.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

// snapshotTokenRepo serves refresh tokens as they were when captured, the
// view a second request has when it reads before the first one revokes.
type snapshotTokenRepo struct {
	*mockAuthRepo
	snapshot map[string]models.RefreshToken
}

func (r *snapshotTokenRepo) FindRefreshToken(_ context.Context, token string) (*models.RefreshToken, error) {
	rt, ok := r.snapshot[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &rt, nil
}

func TestRefreshTokenRotatesOnce(t *testing.T) {
	repo := newMockAuthRepo()
	repo.addUser(t, "user1", "student@university.edu", "password")
	repo.refreshTokens["shared"] = &models.RefreshToken{ID: "rt1", UserID: "user1", Token: "shared", ExpiresAt: time.Now().Add(time.Hour)}
	stale := &snapshotTokenRepo{mockAuthRepo: repo, snapshot: map[string]models.RefreshToken{"shared": *repo.refreshTokens["shared"]}}
	svc := newTestAuthService(stale, nil)
	req := models.RefreshTokenRequest{RefreshToken: "shared"}

	first, err := svc.RefreshToken(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, first.RefreshToken)

	second, err := svc.RefreshToken(context.Background(), req)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
	assert.Nil(t, second)
	assert.Equal(t, []string{"rt1"}, repo.revoked)
}

func TestRefreshTokenExpired(t *testing.T) {
	repo := newMockAuthRepo()
	repo.addUser(t, "user1", "student@university.edu", "password")
	repo.refreshTokens["stale"] = &models.RefreshToken{ID: "rt1", UserID: "user1", Token: "stale", ExpiresAt: time.Now().Add(-time.Minute)}
	svc := newTestAuthService(repo, nil)

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "stale"})
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "unknown"})
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestLogoutRevokesOwnToken(t *testing.T) {
	repo := newMockAuthRepo()
	repo.addUser(t, "user1", "student@university.edu", "password")
	repo.refreshTokens["mine"] = &models.RefreshToken{ID: "rt1", UserID: "user1", Token: "mine", ExpiresAt: time.Now().Add(time.Hour)}
	repo.refreshTokens["theirs"] = &models.RefreshToken{ID: "rt2", UserID: "user2", Token: "theirs", ExpiresAt: time.Now().Add(time.Hour)}
	svc := newTestAuthService(repo, nil)

	err := svc.Logout(context.Background(), "user1", models.LogoutRequest{RefreshToken: "theirs"})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	require.NoError(t, svc.Logout(context.Background(), "user1", models.LogoutRequest{RefreshToken: "mine"}))
	assert.Equal(t, []string{"rt1"}, repo.revoked)
	require.NoError(t, svc.Logout(context.Background(), "user1", models.LogoutRequest{RefreshToken: "mine"}))
	assert.Len(t, repo.revoked, 1)
}

func TestValidateTokenRejectsTampering(t *testing.T) {
	repo := newMockAuthRepo()
	repo.addUser(t, "user1", "student@university.edu", "password")
	svc := newTestAuthService(repo, nil)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "student@university.edu", Password: "password"})
	require.NoError(t, err)

	other := NewAuthService(repo, nil, nil, nil, nil, AuthConfig{AccessTokenSecret: "other", AccessTokenExpiry: time.Hour, Issuer: "course-portal-api"})
	_, err = other.ValidateToken(login.Tokens.AccessToken)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user1"})
	raw, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.ValidateToken(raw)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = svc.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestMeIncludesEnrollments(t *testing.T) {
	repo := newMockAuthRepo()
	repo.addUser(t, "user1", "student@university.edu", "password")
	svc := newTestAuthService(repo, nil)

	me, err := svc.Me(context.Background(), "user1")
	require.NoError(t, err)
	assert.Equal(t, "student@university.edu", me.Email)
	assert.Equal(t, []string{"module1", "module3", "module5"}, me.EnrolledModuleIDs)

	_, err = svc.Me(context.Background(), "ghost")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestUpdateProfile(t *testing.T) {
	repo := newMockAuthRepo()
	repo.addUser(t, "user1", "student@university.edu", "password")
	repo.addUser(t, "user2", "other@university.edu", "password")
	svc := newTestAuthService(repo, nil)
	ctx := context.Background()

	_, err := svc.UpdateProfile(ctx, "user1", models.UpdateProfileRequest{FirstName: "Jane", LastName: "Doe", Email: "other@university.edu"})
	assert.ErrorIs(t, err, appErrors.ErrEmailTaken)

	_, err = svc.UpdateProfile(ctx, "user1", models.UpdateProfileRequest{FirstName: "Jane", LastName: "Doe", Email: "nope"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	info, err := svc.UpdateProfile(ctx, "user1", models.UpdateProfileRequest{FirstName: " Jane ", LastName: "Doe", Email: "jane@university.edu"})
	require.NoError(t, err)
	assert.Equal(t, "Jane", info.FirstName)
	assert.Equal(t, "jane@university.edu", info.Email)
	assert.Equal(t, "5551234567", info.Phone)
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "5551234567", NormalizePhone("(555) 123-4567"))
	assert.Equal(t, "", NormalizePhone("call me"))
}
