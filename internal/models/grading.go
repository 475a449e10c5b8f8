package models

import (
	"math"
	"time"
)

// Term identifies one grading period within a school year.
type Term string

const (
	TermPrelim    Term = "PRELIM"
	TermMidterm   Term = "MIDTERM"
	TermPrefinals Term = "PREFINALS"
	TermFinals    Term = "FINALS"
)

// TermProgression lists terms in chronological order.
var TermProgression = []Term{TermPrelim, TermMidterm, TermPrefinals, TermFinals}

// Valid returns true when the term is a supported value.
func (t Term) Valid() bool {
	switch t {
	case TermPrelim, TermMidterm, TermPrefinals, TermFinals:
		return true
	default:
		return false
	}
}

// AssessmentType categorises an assessment within a term.
type AssessmentType string

const (
	AssessmentTypePT   AssessmentType = "PT"
	AssessmentTypeQuiz AssessmentType = "QUIZ"
	AssessmentTypeExam AssessmentType = "EXAM"
)

// Valid returns true when the assessment type is a supported value.
func (t AssessmentType) Valid() bool {
	switch t {
	case AssessmentTypePT, AssessmentTypeQuiz, AssessmentTypeExam:
		return true
	default:
		return false
	}
}

// TermWeightConfig holds the component weights for one course term.
type TermWeightConfig struct {
	ID         string    `db:"id" json:"id"`
	CourseID   string    `db:"course_id" json:"course_id"`
	Term       Term      `db:"term" json:"term"`
	PTWeight   float64   `db:"pt_weight" json:"pt_weight"`
	QuizWeight float64   `db:"quiz_weight" json:"quiz_weight"`
	ExamWeight float64   `db:"exam_weight" json:"exam_weight"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Valid reports whether the weights are finite, non-negative and sum to 100.
// An invalid config never contributes to a grade computation.
func (c TermWeightConfig) Valid() bool {
	for _, w := range []float64{c.PTWeight, c.QuizWeight, c.ExamWeight} {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return false
		}
	}
	return c.PTWeight+c.QuizWeight+c.ExamWeight == 100
}

// AssessmentDefinition describes one gradable item owned by a term config.
type AssessmentDefinition struct {
	ID           string         `db:"id" json:"id"`
	TermConfigID string         `db:"term_config_id" json:"term_config_id"`
	Type         AssessmentType `db:"type" json:"type"`
	Name         string         `db:"name" json:"name"`
	MaxScore     float64        `db:"max_score" json:"max_score"`
	Position     int            `db:"position" json:"position"`
	Enabled      bool           `db:"enabled" json:"enabled"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// Score is a student's raw result for a single assessment. A missing row
// means "not yet graded", which is distinct from a score of zero.
type Score struct {
	AssessmentID string  `db:"assessment_id" json:"assessment_id"`
	StudentID    string  `db:"student_id" json:"student_id"`
	Score        float64 `db:"score" json:"score"`
}

// Grade remarks as shown on report surfaces.
const (
	RemarksPassed = "PASSED"
	RemarksFailed = "FAILED"
)

// TermGradeResult is the computed (and optionally persisted) grade for one
// student in one term config. TotalPercentage is nil when the term could not
// be computed (invalid weights or missing exam score).
type TermGradeResult struct {
	ID              string    `db:"id" json:"id"`
	StudentID       string    `db:"student_id" json:"student_id"`
	TermConfigID    string    `db:"term_config_id" json:"term_config_id"`
	TotalPercentage *float64  `db:"total_percentage" json:"total_percentage,omitempty"`
	NumericGrade    *float64  `db:"numeric_grade" json:"numeric_grade,omitempty"`
	Remarks         *string   `db:"remarks" json:"remarks,omitempty"`
	CalculatedAt    time.Time `db:"calculated_at" json:"calculated_at"`
}

// Computed reports whether the result carries a usable percentage.
func (r TermGradeResult) Computed() bool {
	return r.TotalPercentage != nil
}
