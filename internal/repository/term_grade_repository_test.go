package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusops/grade-engine/internal/models"
)

func newTermGradeMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestTermGradeUpsert(t *testing.T) {
	db, mock, cleanup := newTermGradeMock(t)
	defer cleanup()
	repo := NewTermGradeRepository(db)

	pct := 86.5
	numeric := 1.75
	remarks := models.RemarksPassed

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO term_grade_results").
		WithArgs(sqlmock.AnyArg(), "s1", "cfg1", pct, numeric, remarks, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO term_grade_results").
		WithArgs(sqlmock.AnyArg(), "s2", "cfg1", nil, nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Upsert(context.Background(), []models.TermGradeResult{
		{StudentID: "s1", TermConfigID: "cfg1", TotalPercentage: &pct, NumericGrade: &numeric, Remarks: &remarks},
		{StudentID: "s2", TermConfigID: "cfg1"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTermGradeUpsertEmptyIsNoop(t *testing.T) {
	db, mock, cleanup := newTermGradeMock(t)
	defer cleanup()
	repo := NewTermGradeRepository(db)

	require.NoError(t, repo.Upsert(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTermGradeFetchByConfig(t *testing.T) {
	db, mock, cleanup := newTermGradeMock(t)
	defer cleanup()
	repo := NewTermGradeRepository(db)

	now := time.Now()
	mock.ExpectQuery("SELECT id, student_id, term_config_id").
		WithArgs("cfg1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "term_config_id", "total_percentage", "numeric_grade", "remarks", "calculated_at"}).
			AddRow("r1", "s1", "cfg1", 86.5, 1.75, "PASSED", now).
			AddRow("r2", "s2", "cfg1", nil, nil, nil, now))

	results, err := repo.FetchByConfig(context.Background(), "cfg1")
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.NotNil(t, results["s1"].TotalPercentage)
	assert.InDelta(t, 86.5, *results["s1"].TotalPercentage, 1e-9)
	assert.True(t, results["s1"].Computed())
	assert.False(t, results["s2"].Computed())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTermGradeFetchByStudent(t *testing.T) {
	db, mock, cleanup := newTermGradeMock(t)
	defer cleanup()
	repo := NewTermGradeRepository(db)

	now := time.Now()
	mock.ExpectQuery("SELECT id, student_id, term_config_id").
		WithArgs("s1", "cfg1", "cfg2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "term_config_id", "total_percentage", "numeric_grade", "remarks", "calculated_at"}).
			AddRow("r1", "s1", "cfg1", 75.0, 2.25, "PASSED", now))

	results, err := repo.FetchByStudent(context.Background(), "s1", []string{"cfg1", "cfg2"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r1", results["cfg1"].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
