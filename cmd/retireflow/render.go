package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"

	"github.com/retireflow/retireflow/pkg/archive"
	"github.com/retireflow/retireflow/pkg/batch"
	"github.com/retireflow/retireflow/pkg/workflow"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	cellStyle  = lipgloss.NewStyle().PaddingRight(2)
)

// renderOutcome prints the human-readable run report to stderr so stdout
// stays clean for scripting.
func renderOutcome(out *workflow.Outcome, target string) {
	w := os.Stderr

	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Retirement batch "+out.RunID[:8]))

	if out.Result != nil && !out.Result.Empty {
		renderSummaryTable(out.Result)
		fmt.Fprintf(w, "  %s %s\n", dimStyle.Render("target:"), target)
	}

	switch out.Status {
	case workflow.StatusArchived:
		fmt.Fprintln(w, okStyle.Render("  archived")+dimStyle.Render("  (confirmed, source cleaned)"))
	case workflow.StatusArchivedUnconfirmed:
		detail := "confirmation " + out.Confirmation.Outcome.String()
		if out.Confirmation.Outcome == archive.Rejected && out.Confirmation.Message != "" {
			detail += ": " + out.Confirmation.Message
		}
		fmt.Fprintln(w, warnStyle.Render("  archived, unconfirmed")+dimStyle.Render("  ("+detail+", source cleaned)"))
	case workflow.StatusEmpty:
		fmt.Fprintln(w, dimStyle.Render("  no eligible records, nothing to do"))
	case workflow.StatusDeleteFailed:
		fmt.Fprintln(w, errStyle.Render("  delete failed")+dimStyle.Render("  (archived but still in source, reconcile manually)"))
		fmt.Fprintf(w, "  %s %v\n", dimStyle.Render("error:"), out.DeleteErr)
	case workflow.StatusStructuralError:
		fmt.Fprintln(w, errStyle.Render("  aborted on malformed input"))
		fmt.Fprintf(w, "  %s %v\n", dimStyle.Render("error:"), out.Err)
	case workflow.StatusCompressFailed, workflow.StatusTransferFailed:
		fmt.Fprintln(w, errStyle.Render("  aborted, nothing deleted")+dimStyle.Render("  (safe to retry)"))
		fmt.Fprintf(w, "  %s %v\n", dimStyle.Render("error:"), out.Err)
	default:
		fmt.Fprintln(w, errStyle.Render("  aborted"))
		if out.Err != nil {
			fmt.Fprintf(w, "  %s %v\n", dimStyle.Render("error:"), out.Err)
		}
	}
	fmt.Fprintln(w)
}

// renderPlan prints the dry-run summary for one period.
func renderPlan(period string, result *batch.Result) {
	w := os.Stderr

	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Plan for period "+period))
	if result.Empty {
		fmt.Fprintln(w, dimStyle.Render("  no eligible records"))
		fmt.Fprintln(w)
		return
	}
	renderSummaryTable(result)
	fmt.Fprintln(w, dimStyle.Render("  nothing transferred or deleted"))
	fmt.Fprintln(w)
}

func renderSummaryTable(result *batch.Result) {
	w := os.Stderr

	widest := len("measurement")
	for _, row := range result.Summary {
		if len(row.Measurement) > widest {
			widest = len(row.Measurement)
		}
	}

	header := cellStyle.Width(widest + 2).Render("measurement") + "records"
	fmt.Fprintln(w, "  "+dimStyle.Render(header))
	for _, row := range result.Summary {
		fmt.Fprintf(w, "  %s%d\n", cellStyle.Width(widest+2).Render(row.Measurement), row.Count)
	}
	fmt.Fprintf(w, "  %s%d records in %d files\n",
		cellStyle.Width(widest+2).Render(dimStyle.Render("total")), result.Total, len(result.Artifacts))

	for _, a := range result.Artifacts {
		fmt.Fprintf(w, "  %s %s\n", dimStyle.Render("file:"), filepath.Base(a))
	}
}
