package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/campusops/grade-engine/internal/models"
	"github.com/campusops/grade-engine/pkg/export"
	appErrors "github.com/campusops/grade-engine/pkg/errors"
)

// ExportFormat enumerates supported render targets.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

type leaderboardProvider interface {
	CourseLeaderboard(ctx context.Context, courseID string) ([]models.LeaderboardEntry, bool, error)
}

type gradeSheetProvider interface {
	ComputeTerm(ctx context.Context, courseID string, term models.Term) ([]models.TermGradeResult, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportService renders leaderboards and term grade sheets into
// downloadable documents.
type ExportService struct {
	leaderboards leaderboardProvider
	grades       gradeSheetProvider
	csv          csvRenderer
	pdf          pdfRenderer
	logger       *zap.Logger
}

// NewExportService constructs an ExportService. Nil renderers fall back to
// the default exporters.
func NewExportService(leaderboards leaderboardProvider, grades gradeSheetProvider, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{leaderboards: leaderboards, grades: grades, csv: csv, pdf: pdf, logger: logger}
}

// ExportLeaderboard renders the course leaderboard in the requested format.
func (s *ExportService) ExportLeaderboard(ctx context.Context, courseID string, format ExportFormat) ([]byte, error) {
	entries, _, err := s.leaderboards.CourseLeaderboard(ctx, courseID)
	if err != nil {
		return nil, err
	}
	dataset := export.Dataset{
		Headers: []string{"Rank", "Student ID", "Current Grade", "Numeric Grade", "Improvement %", "Improving"},
		Rows:    make([][]string, 0, len(entries)),
	}
	for _, entry := range entries {
		dataset.Rows = append(dataset.Rows, []string{
			strconv.Itoa(entry.Rank),
			entry.StudentID,
			formatFloat(entry.CurrentGrade),
			formatFloat(entry.NumericGrade),
			formatFloat(entry.Improvement),
			strconv.FormatBool(entry.IsImproving),
		})
	}
	return s.render(dataset, fmt.Sprintf("Leaderboard - %s", courseID), format)
}

// ExportGradeSheet recomputes and renders one term's grade sheet for a course.
func (s *ExportService) ExportGradeSheet(ctx context.Context, courseID string, term models.Term, format ExportFormat) ([]byte, error) {
	results, err := s.grades.ComputeTerm(ctx, courseID, term)
	if err != nil {
		return nil, err
	}
	dataset := export.Dataset{
		Headers: []string{"Student ID", "Total %", "Numeric Grade", "Remarks"},
		Rows:    make([][]string, 0, len(results)),
	}
	for _, result := range results {
		row := []string{result.StudentID, "", "", ""}
		if result.TotalPercentage != nil {
			row[1] = formatFloat(*result.TotalPercentage)
		}
		if result.NumericGrade != nil {
			row[2] = formatFloat(*result.NumericGrade)
		}
		if result.Remarks != nil {
			row[3] = *result.Remarks
		}
		dataset.Rows = append(dataset.Rows, row)
	}
	title := fmt.Sprintf("Grade Sheet - %s (%s)", courseID, term)
	return s.render(dataset, title, format)
}

func (s *ExportService) render(dataset export.Dataset, title string, format ExportFormat) ([]byte, error) {
	switch ExportFormat(strings.ToLower(string(format))) {
	case ExportFormatCSV:
		return s.csv.Render(dataset)
	case ExportFormatPDF:
		return s.pdf.Render(dataset, title)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
