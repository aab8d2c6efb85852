package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/JakeFAU/telespot/internal/analysis"
	"github.com/JakeFAU/telespot/internal/lookup"
	"github.com/JakeFAU/telespot/internal/orchestrator"
	"github.com/JakeFAU/telespot/internal/provider"
	"github.com/JakeFAU/telespot/internal/search"
)

const (
	summaryTopN     = 5
	starThreshold   = 2
	snippetRunes    = 150
	summaryRuleSize = 60
	statusRuleSize  = 40
)

const banner = `
  _       _                      _
 | |_ ___| | ___  ___ _ __   ___ | |_
 | __/ _ \ |/ _ \/ __| '_ \ / _ \| __|
 | ||  __/ |  __/\__ \ |_) | (_) | |_
  \__\___|_|\___||___/ .__/ \___/ \__|
                     |_|        %s
`

// console renders lookup output for a terminal.
type console struct {
	w io.Writer

	bold, red, green, yellow, cyan, blue *color.Color
}

func newConsole(w io.Writer, noColor bool) *console {
	c := &console{
		w:      w,
		bold:   color.New(color.Bold),
		red:    color.New(color.FgHiRed),
		green:  color.New(color.FgHiGreen),
		yellow: color.New(color.FgHiYellow),
		cyan:   color.New(color.FgHiCyan),
		blue:   color.New(color.FgHiBlue),
	}
	if noColor {
		for _, col := range []*color.Color{c.bold, c.red, c.green, c.yellow, c.cyan, c.blue} {
			col.DisableColor()
		}
	}
	return c
}

func (c *console) printf(format string, args ...any) {
	fmt.Fprintf(c.w, format, args...)
}

func (c *console) Banner(version string) {
	c.blue.Fprintf(c.w, banner, "v"+version)
	c.printf("\n")
}

// APIStatus lists every provider and whether it can run.
func (c *console) APIStatus(statuses []provider.Status) {
	c.printf("\n%s\n", c.bold.Sprint("API Configuration Status:"))
	c.printf("%s\n", strings.Repeat("-", statusRuleSize))
	configured := 0
	for _, st := range statuses {
		if st.Configured {
			configured++
			c.printf("  %s %s: CONFIGURED\n", c.green.Sprint("[+]"), st.ID)
			continue
		}
		line := fmt.Sprintf("  %s %s: NOT CONFIGURED", c.red.Sprint("[-]"), st.ID)
		if st.Reason != "" {
			line += " (" + st.Reason + ")"
		}
		c.printf("%s\n", line)
	}
	c.printf("%s\n", strings.Repeat("-", statusRuleSize))
	c.printf("  %d/%d providers configured\n\n", configured, len(statuses))
}

// SearchHeader announces a run before any task starts.
func (c *console) SearchHeader(phone string) {
	c.printf("\n%s %s\n", c.bold.Sprint("Searching for:"), phone)
	c.printf("Country: United States (+1)\n")
	c.printf("%s\n\n", c.yellow.Sprint("Launching parallel searches..."))
}

// Tasks prints one line per task in planning order.
func (c *console) Tasks(tasks []orchestrator.TaskReport) {
	for i, t := range tasks {
		prefix := fmt.Sprintf("  [%d/%d] %s %s:", i+1, len(tasks), t.Task.Provider, t.Task.Query.Text)
		if t.Err != nil {
			c.printf("%s %s\n", prefix, c.red.Sprint(t.Err.Error()))
			continue
		}
		c.printf("%s %s\n", prefix, c.green.Sprintf("%d results", t.Records))
	}
}

// Completed prints the run duration and, for partial runs, a warning.
func (c *console) Completed(res lookup.Result) {
	elapsed := res.FinishedAt.Sub(res.StartedAt)
	c.printf("\n%s\n", c.green.Sprintf("Completed in %.1f seconds", elapsed.Seconds()))
	if res.Report.Partial {
		c.printf("%s\n", c.yellow.Sprint("Run deadline reached; results are partial"))
	}
}

// Verbose prints each unique result with a truncated snippet.
func (c *console) Verbose(results search.ResultSet) {
	c.printf("\n%s\n", c.bold.Sprint("Detailed Results:"))
	c.printf("%s\n", strings.Repeat("-", summaryRuleSize))
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		if _, dup := seen[r.URL]; dup {
			continue
		}
		seen[r.URL] = struct{}{}
		title := r.Title
		if title == "" {
			title = "No title"
		}
		c.printf("\n%s %s\n", c.cyan.Sprintf("[%s]", r.Source), title)
		c.printf("  URL: %s\n", r.URL)
		if snippet := truncate(r.Snippet, snippetRunes); snippet != "" {
			c.printf("  %s...\n", snippet)
		}
	}
}

// Summary prints the pattern analysis of a run.
func (c *console) Summary(results search.ResultSet, p analysis.Patterns) {
	rule := strings.Repeat("=", summaryRuleSize)
	c.printf("\n%s\n%s\n%s\n", rule, c.bold.Sprint("PATTERN ANALYSIS SUMMARY"), rule)

	conf := c.red
	switch p.Confidence {
	case analysis.ConfidenceHigh:
		conf = c.green
	case analysis.ConfidenceMedium:
		conf = c.yellow
	}
	c.printf("\nConfidence Score: %s\n", conf.Sprintf("%s (%d%%)", p.Confidence, p.ConfidencePct))
	c.printf("Total Results: %d\n", len(results))

	bySource := results.BySource()
	sources := make([]search.ProviderID, 0, len(bySource))
	for id := range bySource {
		sources = append(sources, id)
	}
	sort.Slice(sources, func(i, j int) bool {
		if bySource[sources[i]] != bySource[sources[j]] {
			return bySource[sources[i]] > bySource[sources[j]]
		}
		return sources[i] < sources[j]
	})
	c.printf("\n%s\n", c.bold.Sprint("Results by Source:"))
	for _, id := range sources {
		c.printf("  %s: %d\n", id, bySource[id])
	}

	c.counts("Names Found:", p.Names, true)
	c.counts("Locations:", p.Locations, true)
	c.counts("Usernames:", p.Usernames, false)
	c.counts("Emails:", p.Emails, false)
	c.printf("%s\n", rule)
}

func (c *console) counts(heading string, counts map[string]int, star bool) {
	if len(counts) == 0 {
		return
	}
	c.printf("\n%s\n", c.bold.Sprint(heading))
	for _, entry := range analysis.Top(counts, summaryTopN) {
		mark := ""
		if star && entry.Count > starThreshold {
			mark = " *"
		}
		c.printf("  %s: %dx%s\n", entry.Value, entry.Count, mark)
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
