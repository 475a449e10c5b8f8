package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusops/grade-engine/internal/models"
)

// TermGradeRepository persists computed term grades so leaderboard views do
// not recompute them on every request.
type TermGradeRepository struct {
	db *sqlx.DB
}

// NewTermGradeRepository constructs the repository.
func NewTermGradeRepository(db *sqlx.DB) *TermGradeRepository {
	return &TermGradeRepository{db: db}
}

// Upsert stores the provided results, replacing any previous row for the
// same (student, term config) pair.
func (r *TermGradeRepository) Upsert(ctx context.Context, results []models.TermGradeResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin term grade upsert: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback()
		}
	}()

	query := `INSERT INTO term_grade_results (id, student_id, term_config_id, total_percentage, numeric_grade, remarks, calculated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (student_id, term_config_id)
DO UPDATE SET total_percentage = EXCLUDED.total_percentage,
	numeric_grade = EXCLUDED.numeric_grade,
	remarks = EXCLUDED.remarks,
	calculated_at = EXCLUDED.calculated_at`
	now := time.Now().UTC()
	for i := range results {
		result := &results[i]
		if result.ID == "" {
			result.ID = uuid.NewString()
		}
		if result.CalculatedAt.IsZero() {
			result.CalculatedAt = now
		}
		if _, err := tx.ExecContext(ctx, query, result.ID, result.StudentID, result.TermConfigID, result.TotalPercentage, result.NumericGrade, result.Remarks, result.CalculatedAt); err != nil {
			return fmt.Errorf("upsert term grade: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit term grade upsert: %w", err)
	}
	commit = true
	return nil
}

// FetchByConfig returns persisted results for a term config keyed by student.
func (r *TermGradeRepository) FetchByConfig(ctx context.Context, configID string) (map[string]models.TermGradeResult, error) {
	query := `SELECT id, student_id, term_config_id, total_percentage, numeric_grade, remarks, calculated_at
FROM term_grade_results
WHERE term_config_id = $1`
	var rows []models.TermGradeResult
	if err := r.db.SelectContext(ctx, &rows, query, configID); err != nil {
		return nil, fmt.Errorf("fetch term grades: %w", err)
	}
	results := make(map[string]models.TermGradeResult, len(rows))
	for _, row := range rows {
		results[row.StudentID] = row
	}
	return results, nil
}

// FetchByStudent returns a student's persisted results across configs.
func (r *TermGradeRepository) FetchByStudent(ctx context.Context, studentID string, configIDs []string) (map[string]models.TermGradeResult, error) {
	if len(configIDs) == 0 {
		return map[string]models.TermGradeResult{}, nil
	}
	query, args, err := sqlx.In(`SELECT id, student_id, term_config_id, total_percentage, numeric_grade, remarks, calculated_at
FROM term_grade_results
WHERE student_id = ? AND term_config_id IN (?)`, studentID, configIDs)
	if err != nil {
		return nil, fmt.Errorf("bind term grade query: %w", err)
	}
	query = r.db.Rebind(query)
	var rows []models.TermGradeResult
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("fetch student term grades: %w", err)
	}
	results := make(map[string]models.TermGradeResult, len(rows))
	for _, row := range rows {
		results[row.TermConfigID] = row
	}
	return results, nil
}
