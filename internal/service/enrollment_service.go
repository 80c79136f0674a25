package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/course-portal-api/internal/dto"
	"github.com/noah-isme/course-portal-api/internal/models"
	appErrors "github.com/noah-isme/course-portal-api/pkg/errors"
	"github.com/noah-isme/course-portal-api/pkg/export"
)

// RegisteredMessage confirms a successful registration.
const RegisteredMessage = "Successfully registered for module"

const dashboardFanOut = 4

// ModuleResolver resolves a module id to the module and its owning course.
type ModuleResolver interface {
	FindModule(ctx context.Context, id string) (*models.Module, *models.Course, error)
}

// EnrollmentStore persists enrollments. Enroll must apply the capacity
// check, the duplicate check, the list append and the counter increment as
// one unit, reporting models.ErrCapacityExceeded before
// models.ErrAlreadyEnrolled.
type EnrollmentStore interface {
	IsEnrolled(ctx context.Context, userID, moduleID string) (bool, error)
	Enroll(ctx context.Context, userID, moduleID string) error
	ListModuleIDs(ctx context.Context, userID string) ([]string, error)
}

type courseInvalidator interface {
	InvalidateCourse(ctx context.Context, courseID string)
}

// EnrollmentService registers users for modules and reports on their
// enrollments.
type EnrollmentService struct {
	catalog     ModuleResolver
	store       EnrollmentStore
	invalidator courseInvalidator
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewEnrollmentService constructs the service. invalidator and metrics may
// be nil.
func NewEnrollmentService(catalog ModuleResolver, store EnrollmentStore, invalidator courseInvalidator, metrics *MetricsService, logger *zap.Logger) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{catalog: catalog, store: store, invalidator: invalidator, metrics: metrics, logger: logger}
}

// Register enrolls userID in moduleID. Checks run in a fixed order: module
// exists, module has a free seat, user is not already enrolled. The store
// mutation is detached from ctx cancellation so it always runs to completion
// once started.
func (s *EnrollmentService) Register(ctx context.Context, userID, moduleID string) (*models.RegistrationResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, appErrors.ErrUnauthorized
	}

	module, course, err := s.catalog.FindModule(ctx, moduleID)
	if err != nil {
		if isNotFound(err) {
			s.metrics.RecordRegistration(OutcomeNotFound)
			return nil, appErrors.ErrModuleNotFound
		}
		s.metrics.RecordRegistration(OutcomeError)
		return nil, storeFailure(err, "failed to load module")
	}

	if module.IsFull() {
		s.metrics.RecordRegistration(OutcomeModuleFull)
		return nil, appErrors.ErrModuleFull
	}

	enrolled, err := s.store.IsEnrolled(ctx, userID, moduleID)
	if err != nil {
		s.metrics.RecordRegistration(OutcomeError)
		return nil, storeFailure(err, "failed to check enrollment")
	}
	if enrolled {
		s.metrics.RecordRegistration(OutcomeAlreadyEnrolled)
		return nil, appErrors.ErrAlreadyEnrolled
	}

	if err := s.store.Enroll(context.WithoutCancel(ctx), userID, moduleID); err != nil {
		return nil, s.enrollFailure(err)
	}

	s.metrics.RecordRegistration(OutcomeRegistered)
	if s.invalidator != nil {
		s.invalidator.InvalidateCourse(ctx, course.ID)
	}
	s.logger.Info("module registration",
		zap.String("user_id", userID),
		zap.String("module_id", moduleID),
		zap.String("course_id", course.ID),
	)

	if fresh, _, err := s.catalog.FindModule(ctx, moduleID); err == nil {
		module = fresh
	} else {
		module.Enrolled++
	}
	return &models.RegistrationResult{Module: *module, Course: course.Summary(), Message: RegisteredMessage}, nil
}

// IsEnrolled reports whether userID holds a seat in moduleID.
func (s *EnrollmentService) IsEnrolled(ctx context.Context, userID, moduleID string) (bool, error) {
	enrolled, err := s.store.IsEnrolled(ctx, userID, moduleID)
	if err != nil {
		return false, storeFailure(err, "failed to check enrollment")
	}
	return enrolled, nil
}

// enrollFailure maps a lost race at the data layer onto the same errors the
// pre-checks produce.
func (s *EnrollmentService) enrollFailure(err error) error {
	switch {
	case errors.Is(err, models.ErrCapacityExceeded):
		s.metrics.RecordRegistration(OutcomeModuleFull)
		return appErrors.ErrModuleFull
	case errors.Is(err, models.ErrAlreadyEnrolled):
		s.metrics.RecordRegistration(OutcomeAlreadyEnrolled)
		return appErrors.ErrAlreadyEnrolled
	case isNotFound(err):
		s.metrics.RecordRegistration(OutcomeNotFound)
		return appErrors.ErrModuleNotFound
	default:
		s.metrics.RecordRegistration(OutcomeError)
		s.logger.Error("enrollment mutation failed", zap.Error(err))
		return storeFailure(err, "failed to register for module")
	}
}

// ListForUser returns the user's enrollments in enrollment order. Ids whose
// module no longer resolves are skipped.
func (s *EnrollmentService) ListForUser(ctx context.Context, userID string) ([]dto.EnrollmentView, error) {
	ids, err := s.store.ListModuleIDs(ctx, userID)
	if err != nil {
		return nil, storeFailure(err, "failed to list enrollments")
	}
	return s.resolve(ctx, ids)
}

// resolve looks modules up concurrently and keeps the input order.
func (s *EnrollmentService) resolve(ctx context.Context, ids []string) ([]dto.EnrollmentView, error) {
	slots := make([]*dto.EnrollmentView, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dashboardFanOut)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			module, course, err := s.catalog.FindModule(gctx, id)
			if err != nil {
				if isNotFound(err) {
					s.logger.Debug("dropping enrollment for unknown module", zap.String("module_id", id))
					return nil
				}
				return err
			}
			slots[i] = &dto.EnrollmentView{Module: *module, Course: course.Summary()}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, storeFailure(err, "failed to resolve enrollments")
	}

	views := make([]dto.EnrollmentView, 0, len(ids))
	for _, view := range slots {
		if view != nil {
			views = append(views, *view)
		}
	}
	return views, nil
}

// Dashboard summarises the user's enrollments. Classmates is the sum over
// modules of everyone else enrolled; credits count each course once.
func (s *EnrollmentService) Dashboard(ctx context.Context, userID string) (*dto.DashboardSummary, error) {
	views, err := s.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &dto.DashboardSummary{TotalModules: len(views), Enrollments: views}
	seenCourses := make(map[string]struct{}, len(views))
	for _, view := range views {
		summary.TotalClassmates += view.Module.Classmates()
		if _, ok := seenCourses[view.Course.ID]; ok {
			continue
		}
		seenCourses[view.Course.ID] = struct{}{}
		summary.TotalCredits += view.Course.Credits
	}
	return summary, nil
}

// ExportTimetable renders the user's enrollments as a timetable document.
func (s *EnrollmentService) ExportTimetable(ctx context.Context, userID, rawFormat string) ([]byte, export.Format, error) {
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "format must be csv or pdf")
	}

	views, err := s.ListForUser(ctx, userID)
	if err != nil {
		return nil, "", err
	}

	table := export.Table{
		Title:   "Module Timetable",
		Columns: []string{"Module", "Title", "Course", "Credits", "Instructor", "Schedule", "Location", "Start", "End"},
		Widths:  []float64{1.1, 2.2, 1, 0.6, 1.6, 1.6, 2, 0.9, 0.9},
		Rows:    make([][]string, 0, len(views)),
	}
	for _, view := range views {
		table.Rows = append(table.Rows, []string{
			view.Module.Code,
			view.Module.Title,
			view.Course.Code,
			strconv.Itoa(view.Course.Credits),
			view.Module.Instructor,
			view.Module.Schedule,
			view.Module.Location,
			view.Module.StartDate,
			view.Module.EndDate,
		})
	}

	out, err := export.Render(table, format)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render timetable")
	}
	return out, format, nil
}
