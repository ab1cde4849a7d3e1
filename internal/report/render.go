package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/pterm/pterm"
)

var summaryHeader = []string{"database", "total", "succeeded", "not found", "job failed", "not generated", "success", "avg ms", "avg polls"}

// Table lays out a report as rows of cells, header first and totals last.
func Table(rep Report) [][]string {
	data := make([][]string, 0, len(rep.Databases)+2)
	data = append(data, summaryHeader)
	for _, row := range rep.Databases {
		data = append(data, tableRow(row.Database, row))
	}
	data = append(data, tableRow("TOTAL", rep.Totals))
	return data
}

func tableRow(label string, row DatabaseRow) []string {
	return []string{
		label,
		strconv.FormatInt(row.Total, 10),
		strconv.FormatInt(row.Succeeded, 10),
		strconv.FormatInt(row.NotFound, 10),
		strconv.FormatInt(row.JobFailed, 10),
		strconv.FormatInt(row.NotGenerated, 10),
		fmt.Sprintf("%.1f%%", row.SuccessRate()*100),
		fmt.Sprintf("%.0f", row.AvgDurationMS),
		fmt.Sprintf("%.1f", row.AvgPolls),
	}
}

// Render writes the report as a boxed terminal table.
func Render(w io.Writer, rep Report) error {
	out, err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(Table(rep)).Srender()
	if err != nil {
		return fmt.Errorf("render report table: %w", err)
	}
	_, err = fmt.Fprintln(w, out)
	return err
}

// RenderQuery writes ad hoc query output as a table.
func RenderQuery(w io.Writer, result QueryResult) error {
	data := make([][]string, 0, len(result.Rows)+1)
	data = append(data, result.Columns)
	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, value := range row {
			if value == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprint(value)
		}
		data = append(data, cells)
	}
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return fmt.Errorf("render query table: %w", err)
	}
	_, err = fmt.Fprintln(w, out)
	return err
}
