package models

// StudentTermSeries carries a student's computable per-term percentages.
// Absence of a term key means no grade could be computed for that term.
type StudentTermSeries struct {
	StudentID string           `json:"student_id"`
	PerTerm   map[Term]float64 `json:"per_term"`
}

// LeaderboardEntry is one ranked row. Rank is dense and 1-based; students
// without any computable grade are excluded before ranking. The improvement
// figure compares the latest available term against the mean of all earlier
// terms.
type LeaderboardEntry struct {
	StudentID    string  `json:"student_id"`
	CurrentGrade float64 `json:"current_grade"`
	NumericGrade float64 `json:"numeric_grade"`
	Improvement  float64 `json:"improvement"`
	IsImproving  bool    `json:"is_improving"`
	Rank         int     `json:"rank"`
}
