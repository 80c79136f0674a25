package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/course-portal-api/internal/catalog"
	"github.com/noah-isme/course-portal-api/internal/models"
)

type catalogSeeder interface {
	SeedCourses(ctx context.Context, courses []models.Course) error
}

type seedUserStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
}

type enrollmentRestorer interface {
	Restore(ctx context.Context, userID, moduleID string) error
}

// SeedService loads the catalog document and demo accounts into an empty
// backend. Every step is idempotent so it can run on each start.
type SeedService struct {
	catalog  catalogSeeder
	users    seedUserStore
	restorer enrollmentRestorer
	logger   *zap.Logger
}

// NewSeedService constructs a seeder. catalog may be nil when the catalog is
// already held in memory.
func NewSeedService(catalog catalogSeeder, users seedUserStore, restorer enrollmentRestorer, logger *zap.Logger) *SeedService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SeedService{catalog: catalog, users: users, restorer: restorer, logger: logger}
}

// Run applies seed. Existing courses and users are left untouched; demo
// enrollments are recorded without changing enrolled counts since the seeded
// counts already include them.
func (s *SeedService) Run(ctx context.Context, seed *catalog.Seed) error {
	if seed == nil {
		return nil
	}
	if s.catalog != nil {
		if err := s.catalog.SeedCourses(ctx, seed.Courses); err != nil {
			return fmt.Errorf("seed courses: %w", err)
		}
	}

	for _, demo := range seed.Users {
		userID, err := s.ensureUser(ctx, demo)
		if err != nil {
			return err
		}
		for _, moduleID := range demo.EnrolledModuleIDs {
			if err := s.restorer.Restore(ctx, userID, moduleID); err != nil {
				return fmt.Errorf("restore enrollment %s for %s: %w", moduleID, demo.Email, err)
			}
		}
	}

	s.logger.Info("seed applied", zap.Int("courses", len(seed.Courses)), zap.Int("users", len(seed.Users)))
	return nil
}

func (s *SeedService) ensureUser(ctx context.Context, demo catalog.SeedUser) (string, error) {
	existing, err := s.users.FindByEmail(ctx, demo.Email)
	if err == nil {
		return existing.ID, nil
	}
	if !isNotFound(err) {
		return "", fmt.Errorf("lookup seed user %s: %w", demo.Email, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(demo.Password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash seed password: %w", err)
	}
	user := &models.User{
		ID:           demo.ID,
		FirstName:    demo.FirstName,
		LastName:     demo.LastName,
		Email:        demo.Email,
		Phone:        NormalizePhone(demo.Phone),
		PasswordHash: string(hash),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return "", fmt.Errorf("create seed user %s: %w", demo.Email, err)
	}
	s.logger.Debug("seed user created", zap.String("user_id", user.ID))
	return user.ID, nil
}
