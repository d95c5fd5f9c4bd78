package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"parkstatus-backend/internal/importer"
	"parkstatus-backend/internal/model"
	"parkstatus-backend/internal/resolver"
)

const barWidth = 30

// renderProgress draws a single-line progress bar on stderr, rewritten in
// place with a carriage return.
func renderProgress(p importer.Progress) {
	filled := int(p.PercentComplete / 100 * barWidth)
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat("=", filled) + strings.Repeat("-", barWidth-filled)

	date := ""
	if !p.CurrentDate.IsZero() {
		date = p.CurrentDate.Format("2006-01-02")
	}
	fmt.Fprintf(os.Stderr, "\r[%s] %5.1f%%  files %d/%d  records %d  errors %d  %s",
		bar, p.PercentComplete, p.FilesProcessed, p.FilesTotal,
		p.RecordsImported, p.ErrorsEncountered, date)
}

// reportResult prints the job summary and returns a non-nil error when the
// job did not complete, so the process exits non-zero.
func reportResult(res *importer.Result) error {
	fmt.Fprintln(os.Stderr) // terminate the progress line

	fmt.Printf("import %s (%s): %s\n", res.ImportID, res.DestinationID, res.Status)
	fmt.Printf("  files:    %d/%d\n", res.FilesProcessed, res.FilesTotal)
	fmt.Printf("  records:  %d\n", res.RecordsImported)
	fmt.Printf("  errors:   %d\n", res.ErrorsEncountered)
	fmt.Printf("  elapsed:  %s\n", res.Elapsed.Round(time.Millisecond))

	if len(res.Issues) > 0 {
		fmt.Println("  quality issues:")
		for _, it := range sortedIssueTypes(res.Issues) {
			fmt.Printf("    %-16s %d\n", it, res.Issues[it])
		}
	}
	if len(res.ResolverStats) > 0 {
		fmt.Println("  entity matches:")
		for _, mt := range sortedMatchTypes(res.ResolverStats) {
			fmt.Printf("    %-16s %d\n", mt, res.ResolverStats[mt])
		}
	}

	switch res.Status {
	case model.ImportCompleted:
		return nil
	case model.ImportPaused, model.ImportFailed:
		return fmt.Errorf("import %s stopped with status %s; resume with --resume %s",
			res.ImportID, res.Status, res.ImportID)
	default:
		return fmt.Errorf("import %s stopped with status %s", res.ImportID, res.Status)
	}
}

func sortedIssueTypes(m map[model.IssueType]int64) []model.IssueType {
	keys := make([]model.IssueType, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedMatchTypes(m map[resolver.MatchType]int64) []resolver.MatchType {
	keys := make([]resolver.MatchType, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
