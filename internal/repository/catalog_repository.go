package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-portal-api/internal/models"
)

const (
	courseColumns = `c.id, c.position, c.code, c.title, c.description, c.department, c.credits, c.image`
	moduleColumns = `id, course_id, position, code, title, description, instructor, schedule, location, start_date, end_date, capacity, enrolled`
)

// CatalogRepository reads courses and modules and owns the bounded enrolled
// counter.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs the repository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// ListCourses returns matching courses with their module counts in catalog
// order. PageSize <= 0 disables pagination.
func (r *CatalogRepository) ListCourses(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	base := `FROM courses c WHERE 1=1`
	var args []interface{}

	if filter.Department != "" && filter.Department != models.DepartmentAll {
		args = append(args, filter.Department)
		base += fmt.Sprintf(" AND c.department = $%d", len(args))
	}
	if strings.TrimSpace(filter.Search) != "" {
		args = append(args, likePattern(filter.Search))
		n := len(args)
		base += fmt.Sprintf(" AND (LOWER(c.title) LIKE $%d OR LOWER(c.code) LIKE $%d OR LOWER(c.description) LIKE $%d)", n, n, n)
	}

	query := fmt.Sprintf(`SELECT %s, (SELECT COUNT(*) FROM modules m WHERE m.course_id = c.id) AS module_count %s ORDER BY c.position, c.id`, courseColumns, base)
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.PageSize, (page-1)*filter.PageSize)
	}

	courses := make([]models.Course, 0)
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// FindCourse returns a course with its modules ordered by position.
func (r *CatalogRepository) FindCourse(ctx context.Context, id string) (*models.Course, error) {
	query := fmt.Sprintf(`SELECT %s, (SELECT COUNT(*) FROM modules m WHERE m.course_id = c.id) AS module_count FROM courses c WHERE c.id = $1`, courseColumns)
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find course: %w", err)
	}

	modules := make([]models.Module, 0)
	if err := r.db.SelectContext(ctx, &modules, `SELECT `+moduleColumns+` FROM modules WHERE course_id = $1 ORDER BY position, id`, id); err != nil {
		return nil, fmt.Errorf("list course modules: %w", err)
	}
	course.Modules = modules
	return &course, nil
}

// FindModule returns a module and its owning course.
func (r *CatalogRepository) FindModule(ctx context.Context, id string) (*models.Module, *models.Course, error) {
	var module models.Module
	if err := r.db.GetContext(ctx, &module, `SELECT `+moduleColumns+` FROM modules WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("find module: %w", err)
	}

	var course models.Course
	query := fmt.Sprintf(`SELECT %s FROM courses c WHERE c.id = $1`, courseColumns)
	if err := r.db.GetContext(ctx, &course, query, module.CourseID); err != nil {
		return nil, nil, fmt.Errorf("find module course: %w", err)
	}
	return &module, &course, nil
}

// Departments returns the distinct department names.
func (r *CatalogRepository) Departments(ctx context.Context) ([]string, error) {
	departments := make([]string, 0)
	if err := r.db.SelectContext(ctx, &departments, `SELECT DISTINCT department FROM courses ORDER BY department`); err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	return departments, nil
}

// IncrementEnrolled adds one seat when the module is below capacity.
func (r *CatalogRepository) IncrementEnrolled(ctx context.Context, moduleID string) error {
	return incrementEnrolled(ctx, r.db, moduleID)
}

// SeedCourses inserts courses and modules that are not stored yet. Existing
// rows, including their enrolled counts, are left untouched.
func (r *CatalogRepository) SeedCourses(ctx context.Context, courses []models.Course) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed catalog: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertCourse = `INSERT INTO courses (id, position, code, title, description, department, credits, image) VALUES (:id, :position, :code, :title, :description, :department, :credits, :image) ON CONFLICT (id) DO NOTHING`
	const insertModule = `INSERT INTO modules (id, course_id, position, code, title, description, instructor, schedule, location, start_date, end_date, capacity, enrolled) VALUES (:id, :course_id, :position, :code, :title, :description, :instructor, :schedule, :location, :start_date, :end_date, :capacity, :enrolled) ON CONFLICT (id) DO NOTHING`

	for _, course := range courses {
		if _, err = tx.NamedExecContext(ctx, insertCourse, course); err != nil {
			return fmt.Errorf("seed course %s: %w", course.ID, err)
		}
		for _, module := range course.Modules {
			if _, err = tx.NamedExecContext(ctx, insertModule, module); err != nil {
				return fmt.Errorf("seed module %s: %w", module.ID, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit seed catalog: %w", err)
	}
	return nil
}

// incrementEnrolled applies the bounded update and classifies a miss as
// not-found or full.
func incrementEnrolled(ctx context.Context, exec sqlx.ExtContext, moduleID string) error {
	res, err := exec.ExecContext(ctx, `UPDATE modules SET enrolled = enrolled + 1 WHERE id = $1 AND enrolled < capacity`, moduleID)
	if err != nil {
		return fmt.Errorf("increment enrolled: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment enrolled rows: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var exists int
	if err := sqlx.GetContext(ctx, exec, &exists, `SELECT COUNT(*) FROM modules WHERE id = $1`, moduleID); err != nil {
		return fmt.Errorf("check module: %w", err)
	}
	if exists == 0 {
		return models.ErrNotFound
	}
	return models.ErrCapacityExceeded
}
