package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/noah-isme/course-portal-api/internal/models"
)

//go:embed seed/catalog.json
var defaultSeed []byte

// Seed is the document used to populate an empty backend.
type Seed struct {
	Courses []models.Course `json:"courses"`
	Users   []SeedUser      `json:"users"`
}

// SeedUser is a demo account created on first start. Password is plaintext
// and hashed by the loader.
type SeedUser struct {
	ID                string   `json:"id"`
	FirstName         string   `json:"firstName"`
	LastName          string   `json:"lastName"`
	Email             string   `json:"email"`
	Phone             string   `json:"phone"`
	Password          string   `json:"password"`
	EnrolledModuleIDs []string `json:"enrolledModuleIds"`
}

// DefaultSeed parses the embedded catalog document.
func DefaultSeed() (*Seed, error) {
	return ParseSeed(defaultSeed)
}

// ParseSeed decodes and validates a seed document. Module positions follow
// document order.
func ParseSeed(raw []byte) (*Seed, error) {
	var seed Seed
	if err := json.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("decode catalog seed: %w", err)
	}
	for ci := range seed.Courses {
		course := &seed.Courses[ci]
		course.Position = ci
		for mi := range course.Modules {
			course.Modules[mi].Position = mi
			if course.Modules[mi].CourseID == "" {
				course.Modules[mi].CourseID = course.ID
			}
		}
		course.ModuleCount = len(course.Modules)
	}
	if err := Validate(seed.Courses); err != nil {
		return nil, err
	}
	if err := validateUsers(seed); err != nil {
		return nil, err
	}
	return &seed, nil
}

// Validate checks catalog invariants and reports every defect at once:
// unique course and module ids, module ownership, capacity > 0 and
// 0 <= enrolled <= capacity.
func Validate(courses []models.Course) error {
	var errs error
	courseIDs := make(map[string]struct{}, len(courses))
	moduleOwner := make(map[string]string)

	for _, course := range courses {
		if strings.TrimSpace(course.ID) == "" {
			errs = multierr.Append(errs, fmt.Errorf("course %q: empty id", course.Code))
			continue
		}
		if _, dup := courseIDs[course.ID]; dup {
			errs = multierr.Append(errs, fmt.Errorf("course %s: duplicate id", course.ID))
		}
		courseIDs[course.ID] = struct{}{}

		for _, module := range course.Modules {
			if strings.TrimSpace(module.ID) == "" {
				errs = multierr.Append(errs, fmt.Errorf("course %s: module %q has empty id", course.ID, module.Code))
				continue
			}
			if owner, dup := moduleOwner[module.ID]; dup {
				errs = multierr.Append(errs, fmt.Errorf("module %s: duplicate id in courses %s and %s", module.ID, owner, course.ID))
			}
			moduleOwner[module.ID] = course.ID

			if module.CourseID != course.ID {
				errs = multierr.Append(errs, fmt.Errorf("module %s: courseId %q does not match owner %s", module.ID, module.CourseID, course.ID))
			}
			if module.Capacity <= 0 {
				errs = multierr.Append(errs, fmt.Errorf("module %s: capacity must be positive, got %d", module.ID, module.Capacity))
			}
			if module.Enrolled < 0 || module.Enrolled > module.Capacity {
				errs = multierr.Append(errs, fmt.Errorf("module %s: enrolled %d outside [0, %d]", module.ID, module.Enrolled, module.Capacity))
			}
		}
	}
	return errs
}

func validateUsers(seed Seed) error {
	modules := make(map[string]struct{})
	for _, course := range seed.Courses {
		for _, module := range course.Modules {
			modules[module.ID] = struct{}{}
		}
	}

	var errs error
	emails := make(map[string]struct{}, len(seed.Users))
	for _, user := range seed.Users {
		email := strings.ToLower(user.Email)
		if user.ID == "" || email == "" || user.Password == "" {
			errs = multierr.Append(errs, fmt.Errorf("seed user %q: id, email and password are required", user.Email))
			continue
		}
		if _, dup := emails[email]; dup {
			errs = multierr.Append(errs, fmt.Errorf("seed user %s: duplicate email", email))
		}
		emails[email] = struct{}{}
		for _, moduleID := range user.EnrolledModuleIDs {
			if _, ok := modules[moduleID]; !ok {
				errs = multierr.Append(errs, fmt.Errorf("seed user %s: unknown module %s", user.ID, moduleID))
			}
		}
	}
	return errs
}
