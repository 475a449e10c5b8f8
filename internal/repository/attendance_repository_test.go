package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusops/grade-engine/internal/models"
)

func newAttendanceMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestAttendanceWithTxCommits(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	day := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, student_id, course_id, date, status, reason, created_at, updated_at").
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "course_id", "date", "status", "reason", "created_at", "updated_at"}).
			AddRow("rec1", "s1", "course1", day, "PRESENT", nil, day, day))
	mock.ExpectCommit()

	var found []models.AttendanceRecord
	err := repo.WithTx(context.Background(), func(tx AttendanceTxOps) error {
		var err error
		found, err = tx.FindForDay(context.Background(), "course1", day, day.AddDate(0, 0, 1), []string{"s1", "s2"})
		return err
	})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "rec1", found[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceWithTxRollsBackOnError(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := repo.WithTx(context.Background(), func(tx AttendanceTxOps) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceInsertBatchSkipsConflicts(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	day := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO attendance_records").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("new1"))
	// Second row hits the uniqueness key: DO NOTHING returns no row.
	mock.ExpectQuery("INSERT INTO attendance_records").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	var created int
	err := repo.WithTx(context.Background(), func(tx AttendanceTxOps) error {
		var err error
		created, err = tx.InsertBatch(context.Background(), []models.AttendanceRecord{
			{StudentID: "s1", CourseID: "course1", Date: day, Status: models.AttendanceStatusPresent},
			{StudentID: "s2", CourseID: "course1", Date: day, Status: models.AttendanceStatusLate},
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceUpdateBatch(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE attendance_records AS a").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	reason := "family emergency"
	var updated int
	err := repo.WithTx(context.Background(), func(tx AttendanceTxOps) error {
		var err error
		updated, err = tx.UpdateBatch(context.Background(), []models.AttendanceUpdate{
			{ID: "rec1", Status: models.AttendanceStatusAbsent},
			{ID: "rec2", Status: models.AttendanceStatusExcused, Reason: &reason},
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceSummary(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectQuery("SELECT status, COUNT").
		WithArgs("course1", "s1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "cnt"}).
			AddRow("PRESENT", 8).
			AddRow("LATE", 1).
			AddRow("EXCUSED", 1))

	summary, err := repo.Summary(context.Background(), "course1", "s1")
	require.NoError(t, err)
	assert.Equal(t, 8, summary.Present)
	assert.Equal(t, 1, summary.Late)
	assert.Equal(t, 1, summary.Excused)
	assert.Equal(t, 10, summary.Total)
	assert.InDelta(t, 90.0, summary.Percent, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}
