package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-portal-api/internal/models"
)

// insertEnrollment gives each new enrollment the user's next seq, which
// orders the list when enrolled_at values tie.
const insertEnrollment = `INSERT INTO enrollments (id, user_id, module_id, enrolled_at, seq) VALUES ($1, $2, $3, $4, (SELECT COALESCE(MAX(seq), 0) + 1 FROM enrollments WHERE user_id = $2)) ON CONFLICT (user_id, module_id) DO NOTHING`

// EnrollmentRepository persists user enrollments. The enrollments table is
// the user's enrolled module list.
type EnrollmentRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// IsEnrolled reports whether the user holds a seat in the module.
func (r *EnrollmentRepository) IsEnrolled(ctx context.Context, userID, moduleID string) (bool, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM enrollments WHERE user_id = $1 AND module_id = $2`, userID, moduleID); err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return count > 0, nil
}

// Enroll increments the module's enrolled count and records the enrollment
// in one transaction. The bounded update runs first, so a full module is
// reported before a duplicate enrollment.
func (r *EnrollmentRepository) Enroll(ctx context.Context, userID, moduleID string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enroll: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = incrementEnrolled(ctx, tx, moduleID); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, insertEnrollment, uuid.NewString(), userID, moduleID, r.now())
	if err != nil {
		return fmt.Errorf("insert enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert enrollment rows: %w", err)
	}
	if affected == 0 {
		err = models.ErrAlreadyEnrolled
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit enroll: %w", err)
	}
	return nil
}

// Restore records an existing enrollment without touching enrolled counts.
func (r *EnrollmentRepository) Restore(ctx context.Context, userID, moduleID string) error {
	if _, err := r.db.ExecContext(ctx, insertEnrollment, uuid.NewString(), userID, moduleID, r.now()); err != nil {
		return fmt.Errorf("restore enrollment: %w", err)
	}
	return nil
}

// ListModuleIDs returns the user's module ids in enrollment order.
func (r *EnrollmentRepository) ListModuleIDs(ctx context.Context, userID string) ([]string, error) {
	ids := make([]string, 0)
	if err := r.db.SelectContext(ctx, &ids, `SELECT module_id FROM enrollments WHERE user_id = $1 ORDER BY seq, enrolled_at, id`, userID); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return ids, nil
}
