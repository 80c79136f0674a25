// Package app assembles the portal API from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/noah-isme/course-portal-api/api/swagger"
	"github.com/noah-isme/course-portal-api/internal/catalog"
	"github.com/noah-isme/course-portal-api/internal/handler"
	"github.com/noah-isme/course-portal-api/internal/middleware"
	"github.com/noah-isme/course-portal-api/internal/models"
	"github.com/noah-isme/course-portal-api/internal/repository"
	"github.com/noah-isme/course-portal-api/internal/service"
	"github.com/noah-isme/course-portal-api/pkg/cache"
	"github.com/noah-isme/course-portal-api/pkg/config"
	"github.com/noah-isme/course-portal-api/pkg/database"
	"github.com/noah-isme/course-portal-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/course-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-portal-api/pkg/middleware/requestid"
)

// App holds the assembled router and the resources it owns.
type App struct {
	Router  *gin.Engine
	Metrics *service.MetricsService

	db    *sqlx.DB
	redis *redis.Client
}

// catalogBackend is everything the services need from the selected store.
type catalogBackend interface {
	service.CatalogReader
	service.EnrollmentStore
	Restore(ctx context.Context, userID, moduleID string) error
}

// New connects the configured backends, applies the schema and seed, and
// builds the router.
func New(ctx context.Context, cfg *config.Config, logr *zap.Logger) (_ *App, err error) {
	if logr == nil {
		logr = zap.NewNop()
	}
	a := &App{Metrics: service.NewMetricsService()}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.Close())
		}
	}()

	if a.db, err = database.Open(cfg); err != nil {
		return nil, err
	}
	if err = database.Migrate(ctx, a.db); err != nil {
		return nil, err
	}
	if a.redis, err = cache.NewRedis(ctx, cfg.Redis); err != nil {
		return nil, err
	}

	var seed *catalog.Seed
	if cfg.Catalog.Seed || cfg.Store.Driver == config.StoreDriverMemory {
		if seed, err = catalog.DefaultSeed(); err != nil {
			return nil, fmt.Errorf("load catalog seed: %w", err)
		}
	}

	users := repository.NewUserRepository(a.db)
	var (
		backend catalogBackend
		seeder  *repository.CatalogRepository
	)
	if cfg.Store.Driver == config.StoreDriverMemory {
		store, err := catalog.New(seed.Courses)
		if err != nil {
			return nil, fmt.Errorf("build catalog: %w", err)
		}
		backend = store
	} else {
		seeder = repository.NewCatalogRepository(a.db)
		backend = sqlBackend{CatalogRepository: seeder, EnrollmentRepository: repository.NewEnrollmentRepository(a.db)}
	}

	if seed != nil {
		var catalogSeeder interface {
			SeedCourses(ctx context.Context, courses []models.Course) error
		}
		if seeder != nil {
			catalogSeeder = seeder
		}
		if err = service.NewSeedService(catalogSeeder, users, backend, logr).Run(ctx, seed); err != nil {
			return nil, err
		}
	}

	validate := validator.New()
	cacheRepo := repository.NewCacheRepository(a.redis, logr)
	cacheSvc := service.NewCacheService(cacheRepo, a.Metrics, cfg.Catalog.CacheTTL, logr, cfg.Catalog.CacheEnabled && cacheRepo.Enabled())

	catalogSvc := service.NewCatalogService(backend, cacheSvc, validate, logr, cfg.Catalog.CacheTTL)
	enrollmentSvc := service.NewEnrollmentService(backend, backend, catalogSvc, a.Metrics, logr)
	authSvc := service.NewAuthService(users, backend, validate, a.Metrics, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})

	probes := map[string]handler.Probe{"database": a.db.PingContext}
	if cacheRepo.Enabled() {
		probes["redis"] = cacheRepo.Ping
	}

	a.Router = newRouter(cfg, logr, a.Metrics)
	handler.RegisterRoutes(a.Router, cfg.APIPrefix, handler.Handlers{
		Auth:       handler.NewAuthHandler(authSvc),
		Catalog:    handler.NewCatalogHandler(catalogSvc, enrollmentSvc),
		Enrollment: handler.NewEnrollmentHandler(enrollmentSvc),
		Ops:        handler.NewMetricsHandler(a.Metrics, probes),
	}, middleware.JWT(authSvc), middleware.OptionalJWT(authSvc))

	logr.Info("portal assembled",
		zap.String("store", cfg.Store.Driver),
		zap.Bool("catalog_cache", cacheSvc.Enabled()),
		zap.Bool("seeded", seed != nil),
	)
	return a, nil
}

func newRouter(cfg *config.Config, logr *zap.Logger, metrics *service.MetricsService) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	if cfg.Env != config.EnvProduction {
		swagger.SwaggerInfo.BasePath = cfg.APIPrefix
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
	return r
}

// Close releases the database and Redis connections.
func (a *App) Close() error {
	var err error
	if a.db != nil {
		err = multierr.Append(err, a.db.Close())
	}
	if a.redis != nil {
		err = multierr.Append(err, a.redis.Close())
	}
	return err
}

// sqlBackend joins the SQL catalog and enrollment repositories.
type sqlBackend struct {
	*repository.CatalogRepository
	*repository.EnrollmentRepository
}
