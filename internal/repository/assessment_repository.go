package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/campusops/grade-engine/internal/models"
)

// AssessmentRepository reads term weight configurations, assessment
// definitions and raw scores. The engine only ever reads through it.
type AssessmentRepository struct {
	db *sqlx.DB
}

// NewAssessmentRepository constructs the repository.
func NewAssessmentRepository(db *sqlx.DB) *AssessmentRepository {
	return &AssessmentRepository{db: db}
}

// ConfigByCourseTerm returns the weight config for one course term, or nil
// when none exists.
func (r *AssessmentRepository) ConfigByCourseTerm(ctx context.Context, courseID string, term models.Term) (*models.TermWeightConfig, error) {
	query := `SELECT id, course_id, term, pt_weight, quiz_weight, exam_weight, created_at, updated_at
FROM term_weight_configs
WHERE course_id = $1 AND term = $2`
	var config models.TermWeightConfig
	if err := r.db.GetContext(ctx, &config, query, courseID, term); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find term weight config: %w", err)
	}
	return &config, nil
}

// ConfigsByCourse returns every weight config defined for a course, in term
// progression order.
func (r *AssessmentRepository) ConfigsByCourse(ctx context.Context, courseID string) ([]models.TermWeightConfig, error) {
	query := `SELECT id, course_id, term, pt_weight, quiz_weight, exam_weight, created_at, updated_at
FROM term_weight_configs
WHERE course_id = $1
ORDER BY CASE term
	WHEN 'PRELIM' THEN 1
	WHEN 'MIDTERM' THEN 2
	WHEN 'PREFINALS' THEN 3
	WHEN 'FINALS' THEN 4
	ELSE 5 END`
	var configs []models.TermWeightConfig
	if err := r.db.SelectContext(ctx, &configs, query, courseID); err != nil {
		return nil, fmt.Errorf("list term weight configs: %w", err)
	}
	return configs, nil
}

// AssessmentsByConfig lists all assessment definitions owned by a config,
// disabled ones included; the calculator filters on Enabled.
func (r *AssessmentRepository) AssessmentsByConfig(ctx context.Context, configID string) ([]models.AssessmentDefinition, error) {
	query := `SELECT id, term_config_id, type, name, max_score, position, enabled, created_at
FROM assessment_definitions
WHERE term_config_id = $1
ORDER BY position ASC, created_at ASC`
	var assessments []models.AssessmentDefinition
	if err := r.db.SelectContext(ctx, &assessments, query, configID); err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	return assessments, nil
}

// ScoresByConfig loads every recorded score for the config's assessments,
// optionally narrowed to the given students, keyed studentID -> assessmentID.
// A missing key means "not yet graded".
func (r *AssessmentRepository) ScoresByConfig(ctx context.Context, configID string, studentIDs []string) (map[string]map[string]float64, error) {
	query := `SELECT s.assessment_id, s.student_id, s.score
FROM scores s
JOIN assessment_definitions a ON a.id = s.assessment_id
WHERE a.term_config_id = ?`
	args := []interface{}{configID}
	if len(studentIDs) > 0 {
		var err error
		query, args, err = sqlx.In(query+" AND s.student_id IN (?)", configID, studentIDs)
		if err != nil {
			return nil, fmt.Errorf("bind score query: %w", err)
		}
	}
	query = r.db.Rebind(query)

	var rows []models.Score
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}

	scores := make(map[string]map[string]float64, len(rows))
	for _, row := range rows {
		byAssessment, ok := scores[row.StudentID]
		if !ok {
			byAssessment = make(map[string]float64)
			scores[row.StudentID] = byAssessment
		}
		byAssessment[row.AssessmentID] = row.Score
	}
	return scores, nil
}

// StudentIDsByCourse returns the course roster.
func (r *AssessmentRepository) StudentIDsByCourse(ctx context.Context, courseID string) ([]string, error) {
	query := `SELECT student_id FROM course_enrollments WHERE course_id = $1 ORDER BY student_id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, courseID); err != nil {
		return nil, fmt.Errorf("list course roster: %w", err)
	}
	return ids, nil
}
