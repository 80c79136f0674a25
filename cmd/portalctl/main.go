package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-portal-api/internal/portal"
	"github.com/noah-isme/course-portal-api/internal/session"
	"github.com/noah-isme/course-portal-api/pkg/cache"
	"github.com/noah-isme/course-portal-api/pkg/config"
	"github.com/noah-isme/course-portal-api/pkg/logger"
	appErrors "github.com/noah-isme/course-portal-api/pkg/errors"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var (
		baseURL     string
		sessionFile string
		timeout     time.Duration
	)
	flag.StringVar(&baseURL, "api", cfg.Session.BaseURL, "portal API base URL including the prefix")
	flag.StringVar(&sessionFile, "session", cfg.Session.File, "session file used when Redis is disabled")
	flag.DurationVar(&timeout, "timeout", 15*time.Second, "per-request timeout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openSessionStore(ctx, cfg, sessionFile, logr)
	if err != nil {
		logr.Fatal("failed to open session store", zap.Error(err))
	}
	defer closeStore()

	client := portal.New(baseURL, store,
		portal.WithLogger(logr),
		portal.WithHTTPClient(newHTTPClient(timeout)),
	)

	if err := run(ctx, client, flag.Args(), os.Stdout); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			fmt.Fprintf(os.Stderr, "error: %s (%s)\n", appErr.Message, appErr.Code)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// openSessionStore keeps the session in Redis when it is enabled and in a
// local file otherwise.
func openSessionStore(ctx context.Context, cfg *config.Config, file string, logr *zap.Logger) (session.Store, func(), error) {
	client, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		return session.NewFileStore(file), func() {}, nil
	}
	store := session.NewRedisStore(client, cfg.Session.KeyPrefix, cfg.Session.TTL, logr)
	return store, func() { _ = client.Close() }, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 2
	return &http.Client{Timeout: timeout, Transport: transport}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: portalctl [flags] <command> [args]

Commands:
  signup       create an account and sign in
  login        sign in
  logout       sign out and revoke the refresh token
  refresh      rotate the session tokens
  whoami       show the signed-in profile
  courses      list courses
  course ID    show a course with its modules
  module ID    show a module
  register ID  register for a module
  enrollments  list your modules
  dashboard    show enrollment totals
  export       download your timetable as CSV or PDF

Flags:
`)
	flag.PrintDefaults()
}
