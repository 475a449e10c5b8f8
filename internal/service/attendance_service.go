package service

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campusops/grade-engine/internal/models"
	"github.com/campusops/grade-engine/internal/repository"
	appErrors "github.com/campusops/grade-engine/pkg/errors"
)

type attendanceStore interface {
	WithTx(ctx context.Context, fn func(tx repository.AttendanceTxOps) error) error
	Summary(ctx context.Context, courseID, studentID string) (*models.AttendanceSummary, error)
}

// AttendanceServiceConfig carries the reconcile batch contracts.
type AttendanceServiceConfig struct {
	MaxBatch  int
	ChunkSize int
}

// AttendanceService reconciles submitted daily attendance batches against
// stored records: it diffs per student, updates existing rows in place and
// bulk-inserts the rest, all inside one transaction per (course, date).
type AttendanceService struct {
	repo      attendanceStore
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       AttendanceServiceConfig
}

// NewAttendanceService constructs the attendance reconciler.
func NewAttendanceService(repo attendanceStore, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, cfg AttendanceServiceConfig) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 500
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 50
	}
	svc := &AttendanceService{repo: repo, validator: validate, metrics: metrics, logger: logger, cfg: cfg}
	svc.validator.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
		status := models.AttendanceStatus(strings.ToUpper(fl.Field().String()))
		return status.Valid()
	})
	return svc
}

// AttendanceSubmissionItem holds one submitted per-student status.
type AttendanceSubmissionItem struct {
	StudentID string  `json:"student_id" validate:"required"`
	Status    string  `json:"status" validate:"required,attendance_status"`
	Reason    *string `json:"reason"`
}

// ReconcileAttendanceRequest describes a daily attendance submission.
type ReconcileAttendanceRequest struct {
	CourseID string                     `json:"course_id" validate:"required"`
	Date     string                     `json:"date" validate:"required"`
	Records  []AttendanceSubmissionItem `json:"records" validate:"required,min=1,dive"`
}

// Reconcile diffs the submitted batch against stored records for the course
// and day and applies the minimal insert/update set atomically. Batches
// beyond the configured cap are truncated, never rejected; the result
// reports how many records were dropped.
func (s *AttendanceService) Reconcile(ctx context.Context, req ReconcileAttendanceRequest) (*models.ReconcileResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}

	items := req.Records
	if s.metrics != nil {
		s.metrics.ObserveReconcileBatch(len(items))
	}
	result := &models.ReconcileResult{}
	if len(items) > s.cfg.MaxBatch {
		result.Truncated = len(items) - s.cfg.MaxBatch
		items = items[:s.cfg.MaxBatch]
		s.logger.Warn("attendance batch truncated",
			zap.String("course_id", req.CourseID),
			zap.String("date", req.Date),
			zap.Int("dropped", result.Truncated),
		)
	}

	seen := make(map[string]struct{}, len(items))
	submissions := make([]models.AttendanceSubmission, len(items))
	studentIDs := make([]string, len(items))
	for i, item := range items {
		if _, ok := seen[item.StudentID]; ok {
			return nil, appErrors.Clone(appErrors.ErrConflict, "duplicate student in payload")
		}
		seen[item.StudentID] = struct{}{}
		status := models.AttendanceStatus(strings.ToUpper(item.Status))
		submissions[i] = models.AttendanceSubmission{
			StudentID: item.StudentID,
			Status:    status,
			Reason:    normalizeReason(status, item.Reason),
		}
		studentIDs[i] = item.StudentID
	}

	from := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	txStart := time.Now()
	err = s.repo.WithTx(ctx, func(tx repository.AttendanceTxOps) error {
		existing, err := tx.FindForDay(ctx, req.CourseID, from, to, studentIDs)
		if err != nil {
			return err
		}
		byStudent := make(map[string]models.AttendanceRecord, len(existing))
		for _, record := range existing {
			byStudent[record.StudentID] = record
		}

		var toUpdate []models.AttendanceUpdate
		var toCreate []models.AttendanceRecord
		for _, submission := range submissions {
			if record, ok := byStudent[submission.StudentID]; ok {
				toUpdate = append(toUpdate, models.AttendanceUpdate{
					ID:     record.ID,
					Status: submission.Status,
					Reason: submission.Reason,
				})
				continue
			}
			toCreate = append(toCreate, models.AttendanceRecord{
				StudentID: submission.StudentID,
				CourseID:  req.CourseID,
				Date:      from,
				Status:    submission.Status,
				Reason:    submission.Reason,
			})
		}

		for start := 0; start < len(toUpdate); start += s.cfg.ChunkSize {
			end := start + s.cfg.ChunkSize
			if end > len(toUpdate) {
				end = len(toUpdate)
			}
			updated, err := tx.UpdateBatch(ctx, toUpdate[start:end])
			if err != nil {
				return err
			}
			result.Updated += updated
		}

		created, err := tx.InsertBatch(ctx, toCreate)
		if err != nil {
			return err
		}
		result.Created = created
		return nil
	})
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("attendance_reconcile_tx", time.Since(txStart))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "attendance reconcile failed")
	}
	return result, nil
}

// Summary returns status counts for one student in one course.
func (s *AttendanceService) Summary(ctx context.Context, courseID, studentID string) (*models.AttendanceSummary, error) {
	if courseID == "" || studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "course id and student id required")
	}
	summary, err := s.repo.Summary(ctx, courseID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to summarise attendance")
	}
	return summary, nil
}

// normalizeReason enforces the EXCUSED invariant: only an EXCUSED status may
// carry a reason; every other status has it forced to nil even when supplied.
func normalizeReason(status models.AttendanceStatus, reason *string) *string {
	if status != models.AttendanceStatusExcused {
		return nil
	}
	if reason == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*reason)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
