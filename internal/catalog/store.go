package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/noah-isme/course-portal-api/internal/models"
)

type moduleRef struct {
	course int
	module int
}

// Store is the in-memory catalog and enrollment backend. Reads share a lock;
// every mutation of enrolled counts and rosters happens under the single
// writer lock, so the capacity check, duplicate check, roster append and
// counter increment of Enroll are one unit.
type Store struct {
	mu      sync.RWMutex
	courses []models.Course
	byID    map[string]int
	modules map[string]moduleRef
	rosters map[string][]string
	members map[string]map[string]struct{}
}

// New validates courses and builds the id indexes. The input is copied.
func New(courses []models.Course) (*Store, error) {
	if err := Validate(courses); err != nil {
		return nil, err
	}

	s := &Store{
		courses: make([]models.Course, len(courses)),
		byID:    make(map[string]int, len(courses)),
		modules: make(map[string]moduleRef),
		rosters: make(map[string][]string),
		members: make(map[string]map[string]struct{}),
	}
	for ci, course := range courses {
		course.Modules = append([]models.Module(nil), course.Modules...)
		course.ModuleCount = len(course.Modules)
		s.courses[ci] = course
		s.byID[course.ID] = ci
		for mi, module := range course.Modules {
			s.modules[module.ID] = moduleRef{course: ci, module: mi}
		}
	}
	return s, nil
}

// ListCourses returns matching courses without their modules, in catalog
// order, along with the total match count. PageSize <= 0 returns every match.
func (s *Store) ListCourses(_ context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]models.Course, 0, len(s.courses))
	for _, course := range s.courses {
		if !filter.Matches(course) {
			continue
		}
		course.Modules = nil
		matches = append(matches, course)
	}

	total := len(matches)
	if filter.PageSize <= 0 {
		return matches, total, nil
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * filter.PageSize
	if start >= total {
		return []models.Course{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return matches[start:end], total, nil
}

// FindCourse returns a copy of the course with its ordered modules.
func (s *Store) FindCourse(_ context.Context, id string) (*models.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ci, ok := s.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	course := s.courses[ci]
	course.Modules = append([]models.Module(nil), course.Modules...)
	return &course, nil
}

// FindModule resolves a module id to a copy of the module and its owning
// course (without modules).
func (s *Store) FindModule(_ context.Context, id string) (*models.Module, *models.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.modules[id]
	if !ok {
		return nil, nil, models.ErrNotFound
	}
	course := s.courses[ref.course]
	module := course.Modules[ref.module]
	course.Modules = nil
	return &module, &course, nil
}

// IncrementEnrolled adds one seat to a module, failing when it is full.
func (s *Store) IncrementEnrolled(_ context.Context, moduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrementLocked(moduleID)
}

func (s *Store) incrementLocked(moduleID string) error {
	ref, ok := s.modules[moduleID]
	if !ok {
		return models.ErrNotFound
	}
	module := &s.courses[ref.course].Modules[ref.module]
	if module.Enrolled >= module.Capacity {
		return models.ErrCapacityExceeded
	}
	module.Enrolled++
	return nil
}

// IsEnrolled reports whether the user's roster holds moduleID.
func (s *Store) IsEnrolled(_ context.Context, userID, moduleID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[userID][moduleID]
	return ok, nil
}

// Enroll appends moduleID to the user's roster and increments the module's
// enrolled count as one unit. Capacity is checked before duplicates.
func (s *Store) Enroll(_ context.Context, userID, moduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.modules[moduleID]
	if !ok {
		return models.ErrNotFound
	}
	module := s.courses[ref.course].Modules[ref.module]
	if module.IsFull() {
		return models.ErrCapacityExceeded
	}
	if _, dup := s.members[userID][moduleID]; dup {
		return models.ErrAlreadyEnrolled
	}
	if err := s.incrementLocked(moduleID); err != nil {
		return err
	}
	s.appendLocked(userID, moduleID)
	return nil
}

// Restore records an existing enrollment without changing enrolled counts.
// Repeated calls are no-ops.
func (s *Store) Restore(_ context.Context, userID, moduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.modules[moduleID]; !ok {
		return models.ErrNotFound
	}
	if _, dup := s.members[userID][moduleID]; dup {
		return nil
	}
	s.appendLocked(userID, moduleID)
	return nil
}

func (s *Store) appendLocked(userID, moduleID string) {
	set, ok := s.members[userID]
	if !ok {
		set = make(map[string]struct{})
		s.members[userID] = set
	}
	set[moduleID] = struct{}{}
	s.rosters[userID] = append(s.rosters[userID], moduleID)
}

// ListModuleIDs returns the user's enrolled module ids in enrollment order.
func (s *Store) ListModuleIDs(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.rosters[userID]...), nil
}

// Departments lists distinct departments in sorted order.
func (s *Store) Departments(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, course := range s.courses {
		if _, ok := seen[course.Department]; ok {
			continue
		}
		seen[course.Department] = struct{}{}
		out = append(out, course.Department)
	}
	sort.Strings(out)
	return out, nil
}
