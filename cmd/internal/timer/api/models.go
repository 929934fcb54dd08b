package timerapi

import "tracker/cmd/internal/timer"

type startRequest struct {
	IssueID int64 `json:"issue_id"`
}

type stopManualRequest struct {
	Hours   *int `json:"hours"`
	Minutes *int `json:"minutes"`
}

type createEntryRequest struct {
	IssueID   int64  `json:"issue_id"`
	StartTime *int64 `json:"start_time"`
	StopTime  *int64 `json:"stop_time"`
}

type updateEntryRequest struct {
	StartTime *int64 `json:"start_time"`
	StopTime  *int64 `json:"stop_time"`
}

type activeResponse struct {
	Active *timer.ActiveTimer `json:"active"`
}

type entriesResponse struct {
	Entries []timer.Entry `json:"entries"`
}

func toEntry(iv timer.Interval) timer.Entry {
	return timer.Entry{
		ID:              iv.ID,
		UserID:          iv.UserID,
		IssueID:         iv.IssueID,
		StartTime:       iv.StartTime,
		StopTime:        iv.StopTime,
		DurationSeconds: iv.Duration(),
		CreatedAt:       iv.CreatedAt,
	}
}
