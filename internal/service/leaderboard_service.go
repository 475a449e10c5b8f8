package service

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/campusops/grade-engine/internal/models"
	appErrors "github.com/campusops/grade-engine/pkg/errors"
)

type termSeriesProvider interface {
	SeriesForCourse(ctx context.Context, courseID string) ([]models.StudentTermSeries, error)
}

// LeaderboardServiceConfig tunes ranking behaviour. FanoutTimeout bounds
// each storage call when building cross-course leaderboards; expiry is a
// hard failure, not a retry.
type LeaderboardServiceConfig struct {
	FanoutTimeout time.Duration
	FanoutWorkers int
	CacheTTL      time.Duration
}

// LeaderboardService ranks students by aggregated grade performance and
// derives trend metrics across the term progression.
type LeaderboardService struct {
	series  termSeriesProvider
	cache   *CacheService
	metrics *MetricsService
	logger  *zap.Logger
	cfg     LeaderboardServiceConfig
}

// NewLeaderboardService constructs a LeaderboardService with sane defaults.
func NewLeaderboardService(series termSeriesProvider, cache *CacheService, metrics *MetricsService, logger *zap.Logger, cfg LeaderboardServiceConfig) *LeaderboardService {
	if cfg.FanoutTimeout <= 0 {
		cfg.FanoutTimeout = 12 * time.Second
	}
	if cfg.FanoutWorkers <= 0 {
		cfg.FanoutWorkers = 4
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LeaderboardService{series: series, cache: cache, metrics: metrics, logger: logger, cfg: cfg}
}

// Rank orders students by current grade with dense 1-based ranks. Students
// without any computable grade (currentGrade <= 0) are excluded before
// ranking. Ties order by ascending student id so output is deterministic.
func Rank(students []models.StudentTermSeries) []models.LeaderboardEntry {
	entries := make([]models.LeaderboardEntry, 0, len(students))
	for _, student := range students {
		current := meanOf(student.PerTerm)
		if current <= 0 {
			continue
		}
		improvement, improving := trend(student.PerTerm)
		entries = append(entries, models.LeaderboardEntry{
			StudentID:    student.StudentID,
			CurrentGrade: current,
			NumericGrade: Band(current),
			Improvement:  improvement,
			IsImproving:  improving,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CurrentGrade == entries[j].CurrentGrade {
			return entries[i].StudentID < entries[j].StudentID
		}
		return entries[i].CurrentGrade > entries[j].CurrentGrade
	})

	rank := 0
	for i := range entries {
		if i == 0 || entries[i].CurrentGrade != entries[i-1].CurrentGrade {
			rank++
		}
		entries[i].Rank = rank
	}
	return entries
}

// CourseLeaderboard ranks one course's roster. The boolean indicates
// whether data originated from cache.
func (s *LeaderboardService) CourseLeaderboard(ctx context.Context, courseID string) ([]models.LeaderboardEntry, bool, error) {
	if courseID == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "courseId is required")
	}
	cacheKey := fmt.Sprintf("leaderboard:course:%s", courseID)
	var cached []models.LeaderboardEntry
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return cached, true, nil
		}
	}

	start := time.Now()
	series, err := s.loadSeries(ctx, courseID)
	if err != nil {
		return nil, false, err
	}
	entries := Rank(series)
	if s.metrics != nil {
		s.metrics.ObserveCompute("leaderboard_course", time.Since(start))
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, entries, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("leaderboard cache write failed", zap.String("key", cacheKey), zap.Error(err))
		}
	}
	return entries, false, nil
}

// SystemLeaderboard ranks students across many courses, unioning each
// student's terms. Courses are fetched with bounded concurrency and a
// per-call timeout.
func (s *LeaderboardService) SystemLeaderboard(ctx context.Context, courseIDs []string) ([]models.LeaderboardEntry, bool, error) {
	if len(courseIDs) == 0 {
		return nil, false, nil
	}
	cacheKey := systemCacheKey(courseIDs)
	var cached []models.LeaderboardEntry
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return cached, true, nil
		}
	}

	start := time.Now()
	perCourse, err := s.fanout(ctx, courseIDs)
	if err != nil {
		return nil, false, err
	}
	entries := Rank(mergeSeries(perCourse))
	if s.metrics != nil {
		s.metrics.ObserveCompute("leaderboard_system", time.Since(start))
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, entries, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("leaderboard cache write failed", zap.String("key", cacheKey), zap.Error(err))
		}
	}
	return entries, false, nil
}

// systemCacheKey derives the cache key from the requested course set, so
// leaderboards built for different sets never share an entry. Order of the
// input does not matter.
func systemCacheKey(courseIDs []string) string {
	sorted := make([]string, len(courseIDs))
	copy(sorted, courseIDs)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return fmt.Sprintf("leaderboard:system:%x", sum[:8])
}

func (s *LeaderboardService) loadSeries(ctx context.Context, courseID string) ([]models.StudentTermSeries, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.FanoutTimeout)
	defer cancel()
	series, err := s.series.SeriesForCourse(callCtx, courseID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, appErrors.Wrap(err, appErrors.ErrTimeout.Code, appErrors.ErrTimeout.Status, fmt.Sprintf("course %s grade fetch timed out", courseID))
		}
		return nil, err
	}
	return series, nil
}

func (s *LeaderboardService) fanout(ctx context.Context, courseIDs []string) ([][]models.StudentTermSeries, error) {
	jobs := make(chan string)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		results  [][]models.StudentTermSeries
	)
	workers := s.cfg.FanoutWorkers
	if workers > len(courseIDs) {
		workers = len(courseIDs)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for courseID := range jobs {
				series, err := s.loadSeries(ctx, courseID)
				mu.Lock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
				} else {
					results = append(results, series)
				}
				mu.Unlock()
			}
		}()
	}
	for _, courseID := range courseIDs {
		jobs <- courseID
	}
	close(jobs)
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// mergeSeries unions term data across courses, averaging a term's value
// when a student has it in more than one course.
func mergeSeries(perCourse [][]models.StudentTermSeries) []models.StudentTermSeries {
	type accumulator struct {
		sum   map[models.Term]float64
		count map[models.Term]int
	}
	acc := make(map[string]*accumulator)
	order := make([]string, 0)
	for _, courseSeries := range perCourse {
		for _, student := range courseSeries {
			entry, ok := acc[student.StudentID]
			if !ok {
				entry = &accumulator{sum: make(map[models.Term]float64), count: make(map[models.Term]int)}
				acc[student.StudentID] = entry
				order = append(order, student.StudentID)
			}
			for term, value := range student.PerTerm {
				entry.sum[term] += value
				entry.count[term]++
			}
		}
	}
	sort.Strings(order)

	merged := make([]models.StudentTermSeries, 0, len(order))
	for _, studentID := range order {
		entry := acc[studentID]
		perTerm := make(map[models.Term]float64, len(entry.sum))
		for term, sum := range entry.sum {
			perTerm[term] = sum / float64(entry.count[term])
		}
		merged = append(merged, models.StudentTermSeries{StudentID: studentID, PerTerm: perTerm})
	}
	return merged
}

func meanOf(perTerm map[models.Term]float64) float64 {
	if len(perTerm) == 0 {
		return 0
	}
	sum := 0.0
	for _, value := range perTerm {
		sum += value
	}
	return sum / float64(len(perTerm))
}

// trend compares the latest available term against the mean of all earlier
// terms. When the earlier mean is zero but the latest value is positive the
// improvement is latest*10, a fixed policy for the zero baseline rather
// than a general formula.
func trend(perTerm map[models.Term]float64) (float64, bool) {
	var values []float64
	for _, term := range models.TermProgression {
		if value, ok := perTerm[term]; ok {
			values = append(values, value)
		}
	}
	if len(values) < 2 {
		return 0, false
	}
	latest := values[len(values)-1]
	prevSum := 0.0
	for _, value := range values[:len(values)-1] {
		prevSum += value
	}
	prevMean := prevSum / float64(len(values)-1)

	improvement := 0.0
	switch {
	case prevMean > 0:
		improvement = (latest - prevMean) / prevMean * 100
	case latest > 0:
		improvement = latest * 10
	}
	return improvement, latest-prevMean > 0
}
