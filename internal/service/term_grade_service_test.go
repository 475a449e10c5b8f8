package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campusops/grade-engine/internal/models"
)

type mockAssessmentRepo struct {
	configs     map[string]*models.TermWeightConfig
	assessments map[string][]models.AssessmentDefinition
	scores      map[string]map[string]map[string]float64
	roster      []string
}

func (m *mockAssessmentRepo) ConfigByCourseTerm(ctx context.Context, courseID string, term models.Term) (*models.TermWeightConfig, error) {
	for _, cfg := range m.configs {
		if cfg.CourseID == courseID && cfg.Term == term {
			return cfg, nil
		}
	}
	return nil, nil
}

func (m *mockAssessmentRepo) ConfigsByCourse(ctx context.Context, courseID string) ([]models.TermWeightConfig, error) {
	var out []models.TermWeightConfig
	for _, term := range models.TermProgression {
		for _, cfg := range m.configs {
			if cfg.CourseID == courseID && cfg.Term == term {
				out = append(out, *cfg)
			}
		}
	}
	return out, nil
}

func (m *mockAssessmentRepo) AssessmentsByConfig(ctx context.Context, configID string) ([]models.AssessmentDefinition, error) {
	return m.assessments[configID], nil
}

func (m *mockAssessmentRepo) ScoresByConfig(ctx context.Context, configID string, studentIDs []string) (map[string]map[string]float64, error) {
	byStudent := m.scores[configID]
	out := make(map[string]map[string]float64)
	for _, id := range studentIDs {
		if s, ok := byStudent[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (m *mockAssessmentRepo) StudentIDsByCourse(ctx context.Context, courseID string) ([]string, error) {
	return m.roster, nil
}

type mockTermGradeStore struct {
	upserted  []models.TermGradeResult
	persisted map[string]map[string]models.TermGradeResult
}

func (m *mockTermGradeStore) Upsert(ctx context.Context, results []models.TermGradeResult) error {
	m.upserted = append(m.upserted, results...)
	return nil
}

func (m *mockTermGradeStore) FetchByConfig(ctx context.Context, configID string) (map[string]models.TermGradeResult, error) {
	if m.persisted == nil {
		return map[string]models.TermGradeResult{}, nil
	}
	return m.persisted[configID], nil
}

func (m *mockTermGradeStore) FetchByStudent(ctx context.Context, studentID string, configIDs []string) (map[string]models.TermGradeResult, error) {
	out := make(map[string]models.TermGradeResult)
	for _, configID := range configIDs {
		if row, ok := m.persisted[configID][studentID]; ok {
			out[configID] = row
		}
	}
	return out, nil
}

func validConfig() models.TermWeightConfig {
	return models.TermWeightConfig{
		ID:         "cfg1",
		CourseID:   "course1",
		Term:       models.TermPrelim,
		PTWeight:   30,
		QuizWeight: 30,
		ExamWeight: 40,
	}
}

func standardAssessments() []models.AssessmentDefinition {
	return []models.AssessmentDefinition{
		{ID: "pt1", Type: models.AssessmentTypePT, MaxScore: 50, Enabled: true},
		{ID: "pt2", Type: models.AssessmentTypePT, MaxScore: 50, Enabled: true},
		{ID: "q1", Type: models.AssessmentTypeQuiz, MaxScore: 20, Enabled: true},
		{ID: "exam1", Type: models.AssessmentTypeExam, MaxScore: 100, Enabled: true},
	}
}

func TestComputeWeightedTotal(t *testing.T) {
	scores := map[string]float64{"pt1": 40, "pt2": 45, "q1": 18, "exam1": 85}

	total := Compute(validConfig(), standardAssessments(), scores)
	require.NotNil(t, total)
	// PT average (80+90)/2=85, quiz 90, exam 85: 25.5+27+34
	assert.InDelta(t, 86.5, *total, 1e-9)
	assert.Equal(t, 1.75, Band(*total))
}

func TestComputeInvalidWeights(t *testing.T) {
	scores := map[string]float64{"exam1": 85}

	cfg := validConfig()
	cfg.PTWeight = 50 // sums to 120
	assert.Nil(t, Compute(cfg, standardAssessments(), scores))

	cfg = validConfig()
	cfg.QuizWeight = -10
	assert.Nil(t, Compute(cfg, standardAssessments(), scores))
}

func TestComputeMissingScoresCountAsZero(t *testing.T) {
	cfg := models.TermWeightConfig{ID: "cfg1", PTWeight: 100, QuizWeight: 0, ExamWeight: 0}
	assessments := []models.AssessmentDefinition{
		{ID: "pt1", Type: models.AssessmentTypePT, MaxScore: 100, Enabled: true},
		{ID: "pt2", Type: models.AssessmentTypePT, MaxScore: 100, Enabled: true},
		{ID: "pt3", Type: models.AssessmentTypePT, MaxScore: 100, Enabled: true},
		{ID: "exam1", Type: models.AssessmentTypeExam, MaxScore: 100, Enabled: true},
	}
	scores := map[string]float64{"pt1": 80, "pt2": 90, "exam1": 0}

	total := Compute(cfg, assessments, scores)
	require.NotNil(t, total)
	// Divisor is the enabled count, so the ungraded pt3 drags the average.
	assert.InDelta(t, (80.0+90.0)/3.0, *total, 1e-9)
}

func TestComputeExamRequired(t *testing.T) {
	scores := map[string]float64{"pt1": 40, "pt2": 45, "q1": 18}
	assert.Nil(t, Compute(validConfig(), standardAssessments(), scores), "unscored exam")

	assessments := []models.AssessmentDefinition{
		{ID: "pt1", Type: models.AssessmentTypePT, MaxScore: 50, Enabled: true},
		{ID: "exam1", Type: models.AssessmentTypeExam, MaxScore: 100, Enabled: false},
	}
	scores = map[string]float64{"pt1": 40, "exam1": 85}
	assert.Nil(t, Compute(validConfig(), assessments, scores), "disabled exam")
}

func TestComputeIgnoresDisabledAssessments(t *testing.T) {
	cfg := models.TermWeightConfig{ID: "cfg1", PTWeight: 60, QuizWeight: 0, ExamWeight: 40}
	assessments := []models.AssessmentDefinition{
		{ID: "pt1", Type: models.AssessmentTypePT, MaxScore: 100, Enabled: true},
		{ID: "pt2", Type: models.AssessmentTypePT, MaxScore: 100, Enabled: false},
		{ID: "exam1", Type: models.AssessmentTypeExam, MaxScore: 100, Enabled: true},
	}
	scores := map[string]float64{"pt1": 90, "pt2": 10, "exam1": 100}

	total := Compute(cfg, assessments, scores)
	require.NotNil(t, total)
	// Disabled pt2 contributes to neither the sum nor the divisor.
	assert.InDelta(t, 0.9*60+1.0*40, *total, 1e-9)
}

func TestComputeTermPersistsRosterResults(t *testing.T) {
	cfg := validConfig()
	repo := &mockAssessmentRepo{
		configs:     map[string]*models.TermWeightConfig{"cfg1": &cfg},
		assessments: map[string][]models.AssessmentDefinition{"cfg1": standardAssessments()},
		scores: map[string]map[string]map[string]float64{
			"cfg1": {
				"s1": {"pt1": 40, "pt2": 45, "q1": 18, "exam1": 85},
				"s2": {"pt1": 20, "pt2": 25, "q1": 10},
			},
		},
		roster: []string{"s1", "s2"},
	}
	store := &mockTermGradeStore{}
	svc := NewTermGradeService(repo, store, nil, nil, zap.NewNop())

	results, err := svc.ComputeTerm(context.Background(), "course1", models.TermPrelim)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Len(t, store.upserted, 2)

	require.NotNil(t, results[0].TotalPercentage)
	assert.InDelta(t, 86.5, *results[0].TotalPercentage, 1e-9)
	require.NotNil(t, results[0].NumericGrade)
	assert.Equal(t, 1.75, *results[0].NumericGrade)
	require.NotNil(t, results[0].Remarks)
	assert.Equal(t, models.RemarksPassed, *results[0].Remarks)

	// s2 has no exam score: the row persists with null grade fields.
	assert.Nil(t, results[1].TotalPercentage)
	assert.Nil(t, results[1].NumericGrade)
	assert.Nil(t, results[1].Remarks)
}

func TestComputeTermMissingConfig(t *testing.T) {
	repo := &mockAssessmentRepo{}
	svc := NewTermGradeService(repo, &mockTermGradeStore{}, nil, nil, zap.NewNop())

	results, err := svc.ComputeTerm(context.Background(), "course1", models.TermFinals)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestStudentTermGrades(t *testing.T) {
	cfg := validConfig()
	persistedPct := 75.0
	persistedNumeric := 2.25
	repo := &mockAssessmentRepo{
		configs:     map[string]*models.TermWeightConfig{"cfg1": &cfg},
		assessments: map[string][]models.AssessmentDefinition{"cfg1": standardAssessments()},
		scores:      map[string]map[string]map[string]float64{},
		roster:      []string{"s1"},
	}
	store := &mockTermGradeStore{
		persisted: map[string]map[string]models.TermGradeResult{
			"cfg1": {
				"s1": {StudentID: "s1", TermConfigID: "cfg1", TotalPercentage: &persistedPct, NumericGrade: &persistedNumeric},
			},
		},
	}
	svc := NewTermGradeService(repo, store, nil, nil, zap.NewNop())

	grades, err := svc.StudentTermGrades(context.Background(), "course1", "s1")
	require.NoError(t, err)
	require.Len(t, grades, 1)
	require.NotNil(t, grades[models.TermPrelim].NumericGrade)
	assert.Equal(t, 2.25, *grades[models.TermPrelim].NumericGrade)

	// A student with no persisted row and no scores still gets a row per
	// configured term, with nil grade fields.
	grades, err = svc.StudentTermGrades(context.Background(), "course1", "s9")
	require.NoError(t, err)
	require.Len(t, grades, 1)
	assert.False(t, grades[models.TermPrelim].Computed())
}

func TestSeriesForCoursePrefersPersisted(t *testing.T) {
	cfg := validConfig()
	persistedPct := 75.0
	repo := &mockAssessmentRepo{
		configs:     map[string]*models.TermWeightConfig{"cfg1": &cfg},
		assessments: map[string][]models.AssessmentDefinition{"cfg1": standardAssessments()},
		scores: map[string]map[string]map[string]float64{
			"cfg1": {
				"s2": {"pt1": 40, "pt2": 45, "q1": 18, "exam1": 85},
			},
		},
		roster: []string{"s1", "s2"},
	}
	store := &mockTermGradeStore{
		persisted: map[string]map[string]models.TermGradeResult{
			"cfg1": {
				"s1": {StudentID: "s1", TermConfigID: "cfg1", TotalPercentage: &persistedPct},
			},
		},
	}
	svc := NewTermGradeService(repo, store, nil, nil, zap.NewNop())

	series, err := svc.SeriesForCourse(context.Background(), "course1")
	require.NoError(t, err)
	require.Len(t, series, 2)

	assert.Equal(t, "s1", series[0].StudentID)
	assert.InDelta(t, 75.0, series[0].PerTerm[models.TermPrelim], 1e-9)

	// s2 has no persisted row, so the term is recomputed from raw scores.
	assert.Equal(t, "s2", series[1].StudentID)
	assert.InDelta(t, 86.5, series[1].PerTerm[models.TermPrelim], 1e-9)
}
