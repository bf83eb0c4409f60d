package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"estate-scout/models"
)

// PrintReport renders a run summary to stdout in the same boxed style the
// rest of the CLI output uses.
func PrintReport(result *models.RunResult) {
	critical := result.Critical
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Printf("\n\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("\033[1;35m  🏠 SCRAPE RUN %s\033[0m\n", result.RunID)
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)

	// Overview
	fmt.Printf("\033[1;33m  Overview\033[0m\n")
	fmt.Printf("  %s\n", thin)
	stateColor := "\033[1;32m"
	if result.State != models.RunCompleted {
		stateColor = "\033[1;31m"
	}
	fmt.Printf("  State         : %s%s\033[0m\n", stateColor, result.State)
	fmt.Printf("  Duration      : \033[1m%s\033[0m\n", result.Duration().Round(1e9))
	fmt.Printf("  Created       : \033[1m%d\033[0m\n", result.Created)
	fmt.Printf("  Updated       : \033[1m%d\033[0m\n", result.Updated)
	fmt.Printf("  Price changed : \033[1m%d\033[0m\n", result.PriceChanged)
	fmt.Printf("  Unchanged     : \033[1m%d\033[0m\n", result.Unchanged)
	fmt.Printf("  Missing       : \033[1m%d\033[0m\n", result.Missing)
	fmt.Printf("  Duplicates    : \033[1m%d\033[0m\n", result.Duplicates)
	fmt.Println()

	// Per-source breakdown
	fmt.Printf("\033[1;33m  Sources\033[0m\n")
	fmt.Printf("  %s\n", thin)
	names := make([]string, 0, len(result.Sources))
	for name := range result.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := result.Sources[name]
		status := "\033[1;32mok\033[0m"
		if s.Unavailable {
			status = "\033[1;31munavailable\033[0m"
		}
		fmt.Printf("  %-14s fetched=%-4d normalized=%-4d failed=%-3d %s\n",
			name, s.Fetched, s.Normalized, s.Failed, status)
		if s.FailureCause != "" {
			fmt.Printf("  %-14s %s\n", "", reportTruncate(s.FailureCause, 40))
		}
	}
	fmt.Println()

	// Critical matches
	fmt.Printf("\033[1;33m  Critical Matches\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if len(critical) == 0 {
		fmt.Printf("  None this run\n")
	} else {
		for i, rec := range critical {
			if i >= 5 {
				fmt.Printf("  ... and %d more\n", len(critical)-5)
				break
			}
			fmt.Printf("  \033[1m%d.\033[0m %-38s \033[1;31m%.1f%%\033[0m\n",
				i+1, reportTruncate(rec.Title, 36), rec.MatchScore)
			fmt.Printf("     %s · €%.0f · %s\n", rec.Location, rec.Price, rec.URL)
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Println()
		fmt.Printf("\033[1;33m  Warnings\033[0m\n")
		fmt.Printf("  %s\n", thin)
		for _, w := range result.Warnings {
			fmt.Printf("  ⚠ %s\n", w)
		}
	}

	fmt.Printf("\n\033[1;35m%s\033[0m\n\n", sep)
}

func reportTruncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
