package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-portal-api/internal/app"
	"github.com/noah-isme/course-portal-api/internal/portal"
	"github.com/noah-isme/course-portal-api/internal/session"
	appErrors "github.com/noah-isme/course-portal-api/pkg/errors"
	"github.com/noah-isme/course-portal-api/pkg/config"
)

func newTestClient(t *testing.T) (*portal.Client, session.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	a, err := app.New(context.Background(), &config.Config{
		Env:       "test",
		APIPrefix: "/api/v1",
		Store:     config.StoreConfig{Driver: config.StoreDriverMemory},
		JWT:       config.JWTConfig{Secret: "cli-secret", Expiration: time.Hour, RefreshExpiration: time.Hour},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	srv := httptest.NewServer(a.Router)
	t.Cleanup(srv.Close)

	store := session.NewFileStore(filepath.Join(t.TempDir(), "session.json"))
	return portal.New(srv.URL+"/api/v1", store), store
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	client, _ := newTestClient(t)
	var out bytes.Buffer

	assert.ErrorIs(t, run(context.Background(), client, nil, &out), errUsage)
	assert.ErrorIs(t, run(context.Background(), client, []string{"enrol"}, &out), errUsage)
	assert.ErrorIs(t, run(context.Background(), client, []string{"register"}, &out), errUsage)
}

func TestRunRegisterRequiresLogin(t *testing.T) {
	client, _ := newTestClient(t)
	var out bytes.Buffer

	err := run(context.Background(), client, []string{"register", "module2"}, &out)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestRunStudentSession(t *testing.T) {
	client, store := newTestClient(t)
	ctx := context.Background()
	var out bytes.Buffer

	require.NoError(t, run(ctx, client, []string{"login", "-email", "student@university.edu", "-password", "password"}, &out))
	assert.Contains(t, out.String(), "(3 modules)")

	out.Reset()
	require.NoError(t, run(ctx, client, []string{"courses", "-department", "Mathematics"}, &out))
	assert.Contains(t, out.String(), "MATH201")
	assert.NotContains(t, out.String(), "CS101")

	out.Reset()
	require.NoError(t, run(ctx, client, []string{"register", "module2"}, &out))
	assert.Contains(t, out.String(), "Successfully registered for module")

	out.Reset()
	require.NoError(t, run(ctx, client, []string{"dashboard"}, &out))
	assert.Contains(t, out.String(), "Modules: 4")
	assert.Contains(t, out.String(), "Credits: 11")

	dest := filepath.Join(t.TempDir(), "timetable.csv")
	out.Reset()
	require.NoError(t, run(ctx, client, []string{"export", "-format", "csv", "-o", dest}, &out))
	raw, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "CS101-B")

	out.Reset()
	require.NoError(t, run(ctx, client, []string{"logout"}, &out))
	_, ok, err := store.Current(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
