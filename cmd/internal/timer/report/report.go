// Package report renders timer statistics as an XLSX workbook.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"tracker/cmd/internal/timer"
)

const (
	SheetIssues   = "Issues"
	SheetProjects = "Projects"
	SheetSummary  = "Summary"
)

// WriteStatsXLSX writes st as a three-sheet workbook (Summary, Issues, Projects) to w.
func WriteStatsXLSX(w io.Writer, st timer.Stats, f timer.StatsFilter) error {
	x := excelize.NewFile()
	defer func() { _ = x.Close() }()

	// NewFile creates "Sheet1"; rename it to the first sheet we need.
	if err := x.SetSheetName("Sheet1", SheetSummary); err != nil {
		return err
	}
	if err := writeSummary(x, st, f); err != nil {
		return err
	}

	issues, err := x.NewSheet(SheetIssues)
	if err != nil {
		return err
	}
	if err := writeRows(x, SheetIssues,
		[]string{"Issue ID", "Issue", "Project", "Seconds", "Hours"},
		len(st.Issues),
		func(i int) []any {
			s := st.Issues[i]
			return []any{s.IssueID, s.IssueTitle, s.ProjectName, s.TotalSeconds, s.TotalHours}
		},
	); err != nil {
		return err
	}

	if _, err := x.NewSheet(SheetProjects); err != nil {
		return err
	}
	if err := writeRows(x, SheetProjects,
		[]string{"Project ID", "Project", "Seconds", "Hours"},
		len(st.Projects),
		func(i int) []any {
			p := st.Projects[i]
			return []any{p.ProjectID, p.ProjectName, p.TotalSeconds, p.TotalHours}
		},
	); err != nil {
		return err
	}

	_ = x.SetColWidth(SheetIssues, "B", "C", 30)
	_ = x.SetColWidth(SheetProjects, "B", "B", 30)
	x.SetActiveSheet(issues)

	return x.Write(w)
}

func writeSummary(x *excelize.File, st timer.Stats, f timer.StatsFilter) error {
	rows := [][]any{
		{"Total seconds", st.TotalSeconds},
		{"Total hours", st.TotalHours},
		{"User filter", filterValue(f.UserID)},
		{"Issue filter", filterValue(f.IssueID)},
		{"Project filter", filterValue(f.ProjectID)},
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := x.SetSheetRow(SheetSummary, cell, &r); err != nil {
			return err
		}
	}
	return x.SetColWidth(SheetSummary, "A", "A", 18)
}

func writeRows(x *excelize.File, sheet string, header []string, n int, row func(i int) []any) error {
	if err := x.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		vals := row(i)
		if err := x.SetSheetRow(sheet, fmt.Sprintf("A%d", i+2), &vals); err != nil {
			return err
		}
	}
	return nil
}

func filterValue(id int64) any {
	if id == 0 {
		return "all"
	}
	return id
}
