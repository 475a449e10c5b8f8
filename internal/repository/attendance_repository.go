package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusops/grade-engine/internal/models"
)

// AttendanceRepository handles persistence for daily attendance records.
// All reconcile reads and writes for one (course, date) batch go through a
// single transaction obtained from WithTx.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// AttendanceTxOps is the transactional surface the reconciler drives. It is
// an interface so the diff-apply flow can be exercised without a database.
type AttendanceTxOps interface {
	FindForDay(ctx context.Context, courseID string, from, to time.Time, studentIDs []string) ([]models.AttendanceRecord, error)
	InsertBatch(ctx context.Context, records []models.AttendanceRecord) (int, error)
	UpdateBatch(ctx context.Context, updates []models.AttendanceUpdate) (int, error)
}

// AttendanceTx exposes the reconcile operations bound to one transaction.
type AttendanceTx struct {
	tx *sqlx.Tx
}

var _ AttendanceTxOps = (*AttendanceTx)(nil)

// WithTx runs fn inside a transaction. Any error from fn rolls the whole
// batch back; the reconcile is all-or-nothing per request.
func (r *AttendanceRepository) WithTx(ctx context.Context, fn func(tx AttendanceTxOps) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin attendance tx: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback()
		}
	}()
	if err := fn(&AttendanceTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attendance tx: %w", err)
	}
	commit = true
	return nil
}

// FindForDay loads existing records for the course and day range, narrowed
// to the submitted students, in a single query.
func (t *AttendanceTx) FindForDay(ctx context.Context, courseID string, from, to time.Time, studentIDs []string) ([]models.AttendanceRecord, error) {
	if len(studentIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT id, student_id, course_id, date, status, reason, created_at, updated_at
FROM attendance_records
WHERE course_id = ? AND date >= ? AND date < ? AND student_id IN (?)`, courseID, from, to, studentIDs)
	if err != nil {
		return nil, fmt.Errorf("bind attendance query: %w", err)
	}
	query = t.tx.Rebind(query)
	var rows []models.AttendanceRecord
	if err := t.tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("find attendance for day: %w", err)
	}
	return rows, nil
}

// InsertBatch bulk-inserts new records, silently skipping any row that would
// violate the (student_id, course_id, date) uniqueness key. The skip keeps a
// duplicate submission idempotent instead of failing the batch. Returns the
// number of rows actually created.
func (t *AttendanceTx) InsertBatch(ctx context.Context, records []models.AttendanceRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	query := `INSERT INTO attendance_records (id, student_id, course_id, date, status, reason, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (student_id, course_id, date) DO NOTHING RETURNING id`
	now := time.Now().UTC()
	created := 0
	for i := range records {
		rec := &records[i]
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
		var insertedID string
		err := t.tx.QueryRowxContext(ctx, query, rec.ID, rec.StudentID, rec.CourseID, rec.Date, rec.Status, rec.Reason, rec.CreatedAt, rec.UpdatedAt).Scan(&insertedID)
		if err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return 0, fmt.Errorf("insert attendance: %w", err)
		}
		created++
	}
	return created, nil
}

// UpdateBatch applies one bounded chunk of updates as a single multi-row
// statement. The caller is responsible for chunking to the configured size.
func (t *AttendanceTx) UpdateBatch(ctx context.Context, updates []models.AttendanceUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	values := make([]string, 0, len(updates))
	args := make([]interface{}, 0, len(updates)*3+1)
	args = append(args, time.Now().UTC())
	for i, update := range updates {
		base := i*3 + 2
		values = append(values, fmt.Sprintf("($%d::text, $%d::text, $%d::text)", base, base+1, base+2))
		args = append(args, update.ID, string(update.Status), update.Reason)
	}
	query := fmt.Sprintf(`UPDATE attendance_records AS a
SET status = v.status, reason = v.reason, updated_at = $1
FROM (VALUES %s) AS v(id, status, reason)
WHERE a.id = v.id`, strings.Join(values, ", "))

	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update attendance chunk: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count updated attendance rows: %w", err)
	}
	return int(affected), nil
}

// Summary aggregates status counts for one student in one course.
func (r *AttendanceRepository) Summary(ctx context.Context, courseID, studentID string) (*models.AttendanceSummary, error) {
	query := `SELECT status, COUNT(*) AS cnt
FROM attendance_records
WHERE course_id = $1 AND student_id = $2
GROUP BY status`
	rows := []struct {
		Status string `db:"status"`
		Count  int    `db:"cnt"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, courseID, studentID); err != nil {
		return nil, fmt.Errorf("attendance summary: %w", err)
	}
	summary := &models.AttendanceSummary{}
	for _, row := range rows {
		switch models.AttendanceStatus(row.Status) {
		case models.AttendanceStatusPresent:
			summary.Present += row.Count
		case models.AttendanceStatusLate:
			summary.Late += row.Count
		case models.AttendanceStatusAbsent:
			summary.Absent += row.Count
		case models.AttendanceStatusExcused:
			summary.Excused += row.Count
		}
		summary.Total += row.Count
	}
	if summary.Total > 0 {
		summary.Percent = float64(summary.Present+summary.Late) / float64(summary.Total) * 100
	}
	return summary, nil
}
