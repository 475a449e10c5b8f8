package models

import "time"

// AttendanceStatus represents the status for a daily attendance record.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "PRESENT"
	AttendanceStatusLate    AttendanceStatus = "LATE"
	AttendanceStatusAbsent  AttendanceStatus = "ABSENT"
	AttendanceStatusExcused AttendanceStatus = "EXCUSED"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusLate, AttendanceStatusAbsent, AttendanceStatusExcused:
		return true
	default:
		return false
	}
}

// AttendanceRecord is a stored attendance row. At most one record exists per
// (student_id, course_id, date); that triple is the reconciliation key.
type AttendanceRecord struct {
	ID        string           `db:"id" json:"id"`
	StudentID string           `db:"student_id" json:"student_id"`
	CourseID  string           `db:"course_id" json:"course_id"`
	Date      time.Time        `db:"date" json:"date"`
	Status    AttendanceStatus `db:"status" json:"status"`
	Reason    *string          `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}

// AttendanceSubmission is one submitted per-student status within a batch.
type AttendanceSubmission struct {
	StudentID string           `json:"student_id"`
	Status    AttendanceStatus `json:"status"`
	Reason    *string          `json:"reason,omitempty"`
}

// AttendanceUpdate targets an existing record by id during reconciliation.
type AttendanceUpdate struct {
	ID     string
	Status AttendanceStatus
	Reason *string
}

// ReconcileResult summarises one reconciled batch.
type ReconcileResult struct {
	Updated   int `json:"updated"`
	Created   int `json:"created"`
	Truncated int `json:"truncated,omitempty"`
}

// AttendanceSummary aggregates status counts for a student within a course.
type AttendanceSummary struct {
	Present int     `json:"present"`
	Late    int     `json:"late"`
	Absent  int     `json:"absent"`
	Excused int     `json:"excused"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
}
