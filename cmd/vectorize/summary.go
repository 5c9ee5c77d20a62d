package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dshills/vectorize/internal/indexer"
)

var (
	summaryBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)

	summaryTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	summaryLabel = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(16)
	summaryWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// renderSummary formats the statistics of a finished run as a box
func renderSummary(stats *indexer.Statistics, model, storeDir string) string {
	rows := [][2]string{
		{"Collection", stats.Collection},
		{"Store", storeDir},
		{"Model", model},
		{"Files scanned", fmt.Sprint(stats.FilesScanned)},
		{"Files indexed", fmt.Sprint(stats.FilesIndexed)},
		{"Files skipped", fmt.Sprint(stats.FilesSkipped)},
		{"Files removed", fmt.Sprint(stats.FilesRemoved)},
		{"Files failed", fmt.Sprint(stats.FilesFailed)},
		{"Chunks indexed", fmt.Sprintf("%d/%d", stats.ChunksIndexed, stats.ChunksCreated)},
		{"Duration", stats.Duration.Round(time.Millisecond).String()},
	}
	if stats.Fallbacks > 0 {
		rows = append(rows, [2]string{"Local fallback", fmt.Sprintf("%d batches", stats.Fallbacks)})
	}
	if stats.BatchesFailed > 0 {
		rows = append(rows, [2]string{"Batches failed", fmt.Sprint(stats.BatchesFailed)})
	}

	var b strings.Builder
	b.WriteString(summaryTitle.Render("Indexed " + stats.Root))
	for _, row := range rows {
		b.WriteString("\n")
		b.WriteString(summaryLabel.Render(row[0]))
		b.WriteString(row[1])
	}
	for _, msg := range stats.ErrorMessages {
		b.WriteString("\n")
		b.WriteString(summaryWarn.Render("! " + msg))
	}
	return summaryBox.Render(b.String())
}
