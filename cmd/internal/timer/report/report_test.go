package report

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"

	"tracker/cmd/internal/timer"
)

func TestWriteStatsXLSX(t *testing.T) {
	t.Parallel()

	st := timer.Stats{
		TotalSeconds: 9000,
		TotalHours:   2.5,
		Issues: []timer.IssueStat{
			{IssueID: 7, IssueTitle: "Login page", ProjectID: 1, ProjectName: "Web", TotalSeconds: 5400, TotalHours: 1.5},
			{IssueID: 8, IssueTitle: "Signup page", ProjectID: 1, ProjectName: "Web", TotalSeconds: 3600, TotalHours: 1},
		},
		Projects: []timer.ProjectStat{
			{ProjectID: 1, ProjectName: "Web", TotalSeconds: 9000, TotalHours: 2.5},
		},
	}

	var buf bytes.Buffer
	if err := WriteStatsXLSX(&buf, st, timer.StatsFilter{UserID: 3}); err != nil {
		t.Fatalf("WriteStatsXLSX: %v", err)
	}

	x, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer func() { _ = x.Close() }()

	rows, err := x.GetRows(SheetIssues)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("issue rows=%d want=3", len(rows))
	}
	if rows[0][0] != "Issue ID" || rows[1][1] != "Login page" || rows[1][3] != "5400" {
		t.Fatalf("unexpected issue rows: %v", rows)
	}

	total, err := x.GetCellValue(SheetSummary, "B1")
	if err != nil || total != "9000" {
		t.Fatalf("summary total=%q err=%v", total, err)
	}
	user, _ := x.GetCellValue(SheetSummary, "B3")
	if user != "3" {
		t.Fatalf("user filter cell=%q want=3", user)
	}

	projects, err := x.GetRows(SheetProjects)
	if err != nil || len(projects) != 2 || projects[1][1] != "Web" {
		t.Fatalf("unexpected project rows: %v err=%v", projects, err)
	}
}
