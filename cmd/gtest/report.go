package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%6dµs", d.Microseconds())
	}
	return fmt.Sprintf("%6dms", d.Milliseconds())
}

// formatDiff colors the lines cmp.Diff marks as removed or added.
func formatDiff(diff string) string {
	var sb strings.Builder
	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "-"):
			fmt.Fprintf(&sb, "    %s%s%s\n", cRed, line, cNone)
		case strings.HasPrefix(trimmed, "+"):
			fmt.Fprintf(&sb, "    %s%s%s\n", cGreen, line, cNone)
		default:
			fmt.Fprintf(&sb, "    %s\n", line)
		}
	}
	return sb.String()
}

func printSummary(results []*FileTestResult) {
	counts := make(map[Status]int)
	var compileTotal, runTotal time.Duration
	for _, r := range results {
		counts[r.Status]++
		fmt.Println("----------------------------------------------------------------------")
		fmt.Printf("Testing %s%s%s...\n", cCyan, r.File, cNone)
		switch r.Status {
		case StatusPass:
			fmt.Printf("  [%sPASS%s] %s\n", cGreen, cNone, r.Message)
		case StatusFail:
			fmt.Printf("  [%sFAIL%s] %s\n", cRed, cNone, r.Message)
			fmt.Print(formatDiff(r.Diff))
		case StatusSkip:
			fmt.Printf("  [%sSKIP%s] %s\n", cYellow, cNone, r.Message)
		case StatusError:
			fmt.Printf("  [%sERROR%s] %s\n", cRed, cNone, r.Message)
		}
		if r.Target == nil {
			continue
		}
		compileTotal += r.Target.Compile.Duration
		if r.Target.Run != nil {
			runTotal += r.Target.Run.Duration
			if *verbose {
				fmt.Printf("  [jcc_comp: %s | runtime: %s]\n", formatDuration(r.Target.Compile.Duration), formatDuration(r.Target.Run.Duration))
			}
		}
	}

	fmt.Println("======================================================================")
	fmt.Printf("%sSummary:%s %s%d passed%s, %s%d failed%s, %s%d skipped%s, %s%d errors%s\n",
		cBold, cNone,
		cGreen, counts[StatusPass], cNone,
		cRed, counts[StatusFail], cNone,
		cYellow, counts[StatusSkip], cNone,
		cRed, counts[StatusError], cNone)
	fmt.Printf("Total compile time: %s, total runtime: %s\n", formatDuration(compileTotal), formatDuration(runTotal))
}

func writeJSONReport(results []*FileTestResult, path string) error {
	byFile := make(map[string]*FileTestResult, len(results))
	for _, r := range results {
		byFile[r.File] = r
	}
	data, err := json.MarshalIndent(byFile, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results to JSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write JSON report %s: %w", path, err)
	}
	return nil
}

func hasFailures(results []*FileTestResult) bool {
	for _, r := range results {
		if r.Status == StatusFail || r.Status == StatusError {
			return true
		}
	}
	return false
}
