package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/kru5ty7/browser-agent-project/pkg/tasks"
)

func countStatus(results []tasks.Result, s tasks.Status) int {
	n := 0
	for _, r := range results {
		if r.Status == s {
			n++
		}
	}
	return n
}

var statusColor = map[tasks.Status]*color.Color{
	tasks.StatusCompleted: color.New(color.FgGreen),
	tasks.StatusFailed:    color.New(color.FgRed),
	tasks.StatusCancelled: color.New(color.FgYellow),
}

// printSummary writes one row per result and the totals.
func printSummary(w io.Writer, results []tasks.Result, rejected int) {
	headers := []string{"TASK", "STATUS", "RETRIES", "TIME", "ERROR"}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		elapsed := "-"
		if d, ok := r.ExecutionTime(); ok {
			elapsed = fmt.Sprintf("%.2fs", d.Seconds())
		}
		rows = append(rows, []string{r.TaskID, string(r.Status), fmt.Sprint(r.Retries), elapsed, r.Error})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	headerColor := color.New(color.FgCyan, color.Bold)
	for i, h := range headers {
		headerColor.Fprintf(w, "%-*s  ", widths[i], h)
	}
	fmt.Fprintln(w)
	for i := range headers {
		fmt.Fprint(w, strings.Repeat("-", widths[i]), "  ")
	}
	fmt.Fprintln(w)
	for ri, row := range rows {
		for i, cell := range row {
			if c, ok := statusColor[results[ri].Status]; ok && i == 1 {
				c.Fprintf(w, "%-*s  ", widths[i], cell)
				continue
			}
			fmt.Fprintf(w, "%-*s  ", widths[i], cell)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total: %d  ", len(results))
	statusColor[tasks.StatusCompleted].Fprintf(w, "Completed: %d  ", countStatus(results, tasks.StatusCompleted))
	statusColor[tasks.StatusFailed].Fprintf(w, "Failed: %d  ", countStatus(results, tasks.StatusFailed))
	statusColor[tasks.StatusCancelled].Fprintf(w, "Cancelled: %d", countStatus(results, tasks.StatusCancelled))
	if rejected > 0 {
		fmt.Fprintf(w, "  Rejected: %d", rejected)
	}
	fmt.Fprintln(w)
}
