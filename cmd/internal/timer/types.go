package timer

import (
	"math"
	"time"
)

// Interval is one row of time_tracking.
type Interval struct {
	ID        int64
	UserID    int64
	IssueID   int64
	StartTime int64
	StopTime  *int64
	CreatedAt time.Time
}

// Open reports whether the interval is still running.
func (iv Interval) Open() bool { return iv.StopTime == nil }

// Duration is stop - start for a closed interval and 0 while open.
func (iv Interval) Duration() int64 {
	if iv.StopTime == nil {
		return 0
	}
	return *iv.StopTime - iv.StartTime
}

// ActiveTimer is the running interval joined with display names.
type ActiveTimer struct {
	ID             int64  `json:"id"`
	UserID         int64  `json:"user_id"`
	IssueID        int64  `json:"issue_id"`
	StartTime      int64  `json:"start_time"`
	IssueTitle     string `json:"issue_title"`
	ProjectID      int64  `json:"project_id,omitempty"`
	ProjectName    string `json:"project_name"`
	ElapsedSeconds int64  `json:"elapsed_seconds"`
}

// StartResult describes the effect of Start.
type StartResult struct {
	IntervalID int64 `json:"id"`
	IssueID    int64 `json:"issue_id"`
	StartTime  int64 `json:"start_time"`

	// ClosedIntervalID is set when a running timer was closed by this start.
	ClosedIntervalID *int64 `json:"closed_interval_id,omitempty"`
}

// StopResult describes the interval closed by Stop or StopManual.
type StopResult struct {
	IntervalID      int64 `json:"id"`
	IssueID         int64 `json:"issue_id"`
	StartTime       int64 `json:"start_time"`
	StopTime        int64 `json:"stop_time"`
	DurationSeconds int64 `json:"duration_seconds"`
}

// Entry is one interval as listed by GetTimerEntries.
type Entry struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	IssueID         int64     `json:"issue_id"`
	StartTime       int64     `json:"start_time"`
	StopTime        *int64    `json:"stop_time"`
	DurationSeconds int64     `json:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at"`
}

// StatsFilter narrows GetTimeStats. Zero fields do not filter; set fields are AND-ed.
type StatsFilter struct {
	UserID    int64
	IssueID   int64
	ProjectID int64
}

// IssueTotal is the raw per-issue sum produced by a Store.
type IssueTotal struct {
	IssueID      int64
	IssueTitle   string
	ProjectID    int64
	ProjectName  string
	TotalSeconds int64
}

// IssueStat is one row of the per-issue breakdown.
type IssueStat struct {
	IssueID      int64   `json:"issue_id"`
	IssueTitle   string  `json:"issue_title"`
	ProjectID    int64   `json:"project_id,omitempty"`
	ProjectName  string  `json:"project_name"`
	TotalSeconds int64   `json:"total_seconds"`
	TotalHours   float64 `json:"total_hours"`
}

// ProjectStat is one row of the per-project breakdown.
type ProjectStat struct {
	ProjectID    int64   `json:"project_id"`
	ProjectName  string  `json:"project_name"`
	TotalSeconds int64   `json:"total_seconds"`
	TotalHours   float64 `json:"total_hours"`
}

// Stats is the result of GetTimeStats.
type Stats struct {
	TotalSeconds int64         `json:"total_seconds"`
	TotalHours   float64       `json:"total_hours"`
	Issues       []IssueStat   `json:"issues"`
	Projects     []ProjectStat `json:"projects"`
}

// Hours converts seconds to hours rounded to two decimals.
func Hours(seconds int64) float64 {
	return math.Round(float64(seconds)/3600*100) / 100
}
