package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/course-portal-api/internal/dto"
	"github.com/noah-isme/course-portal-api/internal/models"
	"github.com/noah-isme/course-portal-api/pkg/cache"
	appErrors "github.com/noah-isme/course-portal-api/pkg/errors"
)

const (
	defaultCoursePageSize = 20
	catalogCacheNamespace = "catalog"
)

// CatalogReader is the read side of the catalog.
type CatalogReader interface {
	ListCourses(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindCourse(ctx context.Context, id string) (*models.Course, error)
	FindModule(ctx context.Context, id string) (*models.Module, *models.Course, error)
	Departments(ctx context.Context) ([]string, error)
}

// CatalogService serves course and module lookups with an optional cache.
type CatalogService struct {
	store     CatalogReader
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	ttl       time.Duration
}

// NewCatalogService constructs the service. cache may be nil.
func NewCatalogService(store CatalogReader, cacheSvc *CacheService, validate *validator.Validate, logger *zap.Logger, ttl time.Duration) *CatalogService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{store: store, cache: cacheSvc, validator: validate, logger: logger, ttl: ttl}
}

type courseListEntry struct {
	Courses []cachedCourse `json:"courses"`
	Total   int            `json:"total"`
}

// cachedCourse keeps the ordering columns that the public JSON omits, so a
// cached course reads back identical to one loaded from the store.
type cachedCourse struct {
	models.Course
	Position int            `json:"position"`
	Modules  []cachedModule `json:"modules,omitempty"`
}

type cachedModule struct {
	models.Module
	Position int `json:"position"`
}

func toCachedCourse(c models.Course) cachedCourse {
	out := cachedCourse{Course: c, Position: c.Position}
	out.Course.Modules = nil
	if c.Modules != nil {
		out.Modules = make([]cachedModule, len(c.Modules))
		for i, m := range c.Modules {
			out.Modules[i] = cachedModule{Module: m, Position: m.Position}
		}
	}
	return out
}

func (c cachedCourse) course() models.Course {
	out := c.Course
	out.Position = c.Position
	out.Modules = nil
	if c.Modules != nil {
		out.Modules = make([]models.Module, len(c.Modules))
		for i, m := range c.Modules {
			m.Module.Position = m.Position
			out.Modules[i] = m.Module
		}
	}
	return out
}

// ListCourses filters by department (ignoring "all") and a case-insensitive
// search over title, code and description.
func (s *CatalogService) ListCourses(ctx context.Context, query dto.CourseQuery) ([]models.Course, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course query")
	}
	filter := models.CourseFilter{
		Department: strings.TrimSpace(query.Department),
		Search:     strings.TrimSpace(query.Search),
		Page:       query.Page,
		PageSize:   query.PageSize,
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = defaultCoursePageSize
	}

	key := cache.Key(catalogCacheNamespace, "courses",
		"d="+filter.Department,
		"q="+strings.ToLower(filter.Search),
		"p="+strconv.Itoa(filter.Page),
		"n="+strconv.Itoa(filter.PageSize))
	var entry courseListEntry
	if !s.cache.Get(ctx, key, &entry) {
		courses, total, err := s.store.ListCourses(ctx, filter)
		if err != nil {
			return nil, nil, storeFailure(err, "failed to list courses")
		}
		entry = courseListEntry{Courses: make([]cachedCourse, len(courses)), Total: total}
		for i, c := range courses {
			entry.Courses[i] = toCachedCourse(c)
		}
		s.cache.Set(ctx, key, entry, s.ttl)
	}

	courses := make([]models.Course, len(entry.Courses))
	for i, c := range entry.Courses {
		courses[i] = c.course()
	}
	return courses, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: entry.Total}, nil
}

// GetCourse returns a course with its modules.
func (s *CatalogService) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	key := courseCacheKey(id)
	var cached cachedCourse
	if s.cache.Get(ctx, key, &cached) {
		course := cached.course()
		return &course, nil
	}

	found, err := s.store.FindCourse(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, appErrors.ErrCourseNotFound
		}
		return nil, storeFailure(err, "failed to load course")
	}
	s.cache.Set(ctx, key, toCachedCourse(*found), s.ttl)
	return found, nil
}

// GetModule returns a module, its course summary and remaining seats. The
// result is never cached because enrolled counts move.
func (s *CatalogService) GetModule(ctx context.Context, id string) (*dto.ModuleDetail, error) {
	module, course, err := s.store.FindModule(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, appErrors.ErrModuleNotFound
		}
		return nil, storeFailure(err, "failed to load module")
	}
	return &dto.ModuleDetail{Module: *module, Course: course.Summary(), SeatsLeft: module.SeatsLeft()}, nil
}

// Departments lists the distinct departments.
func (s *CatalogService) Departments(ctx context.Context) ([]string, error) {
	departments, err := s.store.Departments(ctx)
	if err != nil {
		return nil, storeFailure(err, "failed to list departments")
	}
	return departments, nil
}

// InvalidateCourse drops cached views holding the course's enrolled counts.
func (s *CatalogService) InvalidateCourse(ctx context.Context, courseID string) {
	s.cache.Invalidate(ctx, []string{courseCacheKey(courseID)})
}

func courseCacheKey(id string) string {
	return cache.Key(catalogCacheNamespace, "course", id)
}
