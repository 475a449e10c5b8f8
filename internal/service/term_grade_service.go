package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/campusops/grade-engine/internal/models"
	appErrors "github.com/campusops/grade-engine/pkg/errors"
)

type assessmentReader interface {
	ConfigByCourseTerm(ctx context.Context, courseID string, term models.Term) (*models.TermWeightConfig, error)
	ConfigsByCourse(ctx context.Context, courseID string) ([]models.TermWeightConfig, error)
	AssessmentsByConfig(ctx context.Context, configID string) ([]models.AssessmentDefinition, error)
	ScoresByConfig(ctx context.Context, configID string, studentIDs []string) (map[string]map[string]float64, error)
	StudentIDsByCourse(ctx context.Context, courseID string) ([]string, error)
}

type termGradeStore interface {
	Upsert(ctx context.Context, results []models.TermGradeResult) error
	FetchByConfig(ctx context.Context, configID string) (map[string]models.TermGradeResult, error)
	FetchByStudent(ctx context.Context, studentID string, configIDs []string) (map[string]models.TermGradeResult, error)
}

// TermGradeService computes weighted term grades for course rosters and
// maintains the persisted result rows leaderboard views read from.
type TermGradeService struct {
	assessments assessmentReader
	results     termGradeStore
	cache       *CacheService
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewTermGradeService constructs a TermGradeService.
func NewTermGradeService(assessments assessmentReader, results termGradeStore, cache *CacheService, metrics *MetricsService, logger *zap.Logger) *TermGradeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TermGradeService{
		assessments: assessments,
		results:     results,
		cache:       cache,
		metrics:     metrics,
		logger:      logger,
	}
}

// Compute derives the weighted percentage for one student. scores is keyed
// by assessment id; a missing key means the assessment has not been graded.
//
// The return is nil whenever the term cannot be computed: invalid weights,
// no enabled exam, or an exam that has not been scored yet. Callers must
// treat nil as "exclude this term", never as an error.
//
// The PT and QUIZ averages divide by the count of enabled assessments of
// that type, not the count actually scored: missing work counts as zero.
func Compute(config models.TermWeightConfig, assessments []models.AssessmentDefinition, scores map[string]float64) *float64 {
	if !config.Valid() {
		return nil
	}

	var pts, quizzes []models.AssessmentDefinition
	var exam *models.AssessmentDefinition
	for i := range assessments {
		a := assessments[i]
		if !a.Enabled {
			continue
		}
		switch a.Type {
		case models.AssessmentTypePT:
			pts = append(pts, a)
		case models.AssessmentTypeQuiz:
			quizzes = append(quizzes, a)
		case models.AssessmentTypeExam:
			if exam == nil {
				exam = &assessments[i]
			}
		}
	}

	if exam == nil {
		return nil
	}
	examScore, ok := scores[exam.ID]
	if !ok || exam.MaxScore <= 0 {
		return nil
	}
	examPct := examScore / exam.MaxScore * 100

	ptAvg := typeAverage(pts, scores)
	quizAvg := typeAverage(quizzes, scores)

	total := (ptAvg/100)*config.PTWeight + (quizAvg/100)*config.QuizWeight + (examPct/100)*config.ExamWeight
	return &total
}

func typeAverage(assessments []models.AssessmentDefinition, scores map[string]float64) float64 {
	if len(assessments) == 0 {
		return 0
	}
	sum := 0.0
	for _, a := range assessments {
		score, ok := scores[a.ID]
		if !ok || a.MaxScore <= 0 {
			continue
		}
		sum += score / a.MaxScore * 100
	}
	return sum / float64(len(assessments))
}

// ComputeTerm recomputes and persists term grades for the whole roster of
// one course term. A missing config yields an empty result set; the caller
// owns mapping that to its own not-found surface.
func (s *TermGradeService) ComputeTerm(ctx context.Context, courseID string, term models.Term) ([]models.TermGradeResult, error) {
	start := time.Now()
	config, err := s.assessments.ConfigByCourseTerm(ctx, courseID, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load weight config")
	}
	if config == nil {
		return nil, nil
	}

	assessments, err := s.assessments.AssessmentsByConfig(ctx, config.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessments")
	}
	roster, err := s.assessments.StudentIDsByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	if len(roster) == 0 {
		return nil, nil
	}
	scores, err := s.assessments.ScoresByConfig(ctx, config.ID, roster)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scores")
	}

	now := time.Now().UTC()
	results := make([]models.TermGradeResult, 0, len(roster))
	for _, studentID := range roster {
		results = append(results, buildResult(*config, assessments, scores[studentID], studentID, now))
	}

	upsertStart := time.Now()
	if err := s.results.Upsert(ctx, results); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist term grades")
	}
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("term_grade_upsert", time.Since(upsertStart))
	}
	s.invalidateLeaderboards(ctx)
	if s.metrics != nil {
		s.metrics.ObserveCompute("term_grade", time.Since(start))
	}
	return results, nil
}

// ComputeStudent computes a single student's grade for one course term
// without persisting it.
func (s *TermGradeService) ComputeStudent(ctx context.Context, courseID string, term models.Term, studentID string) (*models.TermGradeResult, error) {
	config, err := s.assessments.ConfigByCourseTerm(ctx, courseID, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load weight config")
	}
	if config == nil {
		return nil, nil
	}
	assessments, err := s.assessments.AssessmentsByConfig(ctx, config.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessments")
	}
	scores, err := s.assessments.ScoresByConfig(ctx, config.ID, []string{studentID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scores")
	}
	result := buildResult(*config, assessments, scores[studentID], studentID, time.Now().UTC())
	return &result, nil
}

// StudentTermGrades returns one student's results across every configured
// term of a course, keyed by term. Persisted computed rows win; anything
// else is recomputed on the fly without being written back.
func (s *TermGradeService) StudentTermGrades(ctx context.Context, courseID, studentID string) (map[models.Term]models.TermGradeResult, error) {
	configs, err := s.assessments.ConfigsByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load weight configs")
	}
	if len(configs) == 0 {
		return nil, nil
	}
	configIDs := make([]string, len(configs))
	for i, config := range configs {
		configIDs[i] = config.ID
	}
	persisted, err := s.results.FetchByStudent(ctx, studentID, configIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load persisted grades")
	}

	out := make(map[models.Term]models.TermGradeResult, len(configs))
	for _, config := range configs {
		if row, ok := persisted[config.ID]; ok && row.Computed() {
			out[config.Term] = row
			continue
		}
		assessments, err := s.assessments.AssessmentsByConfig(ctx, config.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessments")
		}
		scores, err := s.assessments.ScoresByConfig(ctx, config.ID, []string{studentID})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scores")
		}
		out[config.Term] = buildResult(config, assessments, scores[studentID], studentID, time.Now().UTC())
	}
	return out, nil
}

// SeriesForCourse assembles per-student per-term percentages for a course,
// preferring persisted non-null results and recomputing only the gaps.
func (s *TermGradeService) SeriesForCourse(ctx context.Context, courseID string) ([]models.StudentTermSeries, error) {
	configs, err := s.assessments.ConfigsByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load weight configs")
	}
	roster, err := s.assessments.StudentIDsByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	if len(roster) == 0 {
		return nil, nil
	}

	perStudent := make(map[string]map[models.Term]float64, len(roster))
	for _, studentID := range roster {
		perStudent[studentID] = make(map[models.Term]float64)
	}

	for _, config := range configs {
		persisted, err := s.results.FetchByConfig(ctx, config.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load persisted grades")
		}

		var missing []string
		for _, studentID := range roster {
			if result, ok := persisted[studentID]; ok && result.Computed() {
				perStudent[studentID][config.Term] = *result.TotalPercentage
				continue
			}
			missing = append(missing, studentID)
		}
		if len(missing) == 0 {
			continue
		}

		assessments, err := s.assessments.AssessmentsByConfig(ctx, config.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessments")
		}
		scores, err := s.assessments.ScoresByConfig(ctx, config.ID, missing)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scores")
		}
		for _, studentID := range missing {
			if pct := Compute(config, assessments, scores[studentID]); pct != nil {
				perStudent[studentID][config.Term] = *pct
			}
		}
	}

	series := make([]models.StudentTermSeries, 0, len(roster))
	for _, studentID := range roster {
		series = append(series, models.StudentTermSeries{StudentID: studentID, PerTerm: perStudent[studentID]})
	}
	return series, nil
}

func (s *TermGradeService) invalidateLeaderboards(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, "leaderboard:*"); err != nil {
		s.logger.Warn("leaderboard cache invalidation failed", zap.Error(err))
	}
}

func buildResult(config models.TermWeightConfig, assessments []models.AssessmentDefinition, scores map[string]float64, studentID string, at time.Time) models.TermGradeResult {
	result := models.TermGradeResult{
		StudentID:    studentID,
		TermConfigID: config.ID,
		CalculatedAt: at,
	}
	if pct := Compute(config, assessments, scores); pct != nil {
		numeric := Band(*pct)
		remarks := BandRemarks(numeric)
		result.TotalPercentage = pct
		result.NumericGrade = &numeric
		result.Remarks = &remarks
	}
	return result
}
