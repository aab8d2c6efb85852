// Package analysis extracts identity patterns from lookup results and scores
// how much the results say about the number's owner.
package analysis

import (
	"regexp"
	"sort"

	"github.com/JakeFAU/telespot/internal/search"
)

// Confidence grades a result set by the number of distinct patterns found.
type Confidence string

// Confidence levels.
const (
	ConfidenceNone   Confidence = "NONE"
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

var (
	namePattern     = regexp.MustCompile(`\b([A-Z][a-z]+ [A-Z][a-z]+)\b`)
	locationPattern = regexp.MustCompile(`\b([A-Z][a-z]+(?:,?\s+[A-Z]{2})?(?:\s+\d{5})?)\b`)
	usernamePattern = regexp.MustCompile(`@([A-Za-z0-9_]{3,20})`)
	emailPattern    = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
)

const (
	minNameLen     = 6
	minLocationLen = 4
)

// Patterns counts every distinct value per category.
type Patterns struct {
	Names         map[string]int `json:"names" yaml:"names"`
	Locations     map[string]int `json:"locations" yaml:"locations"`
	Usernames     map[string]int `json:"usernames" yaml:"usernames"`
	Emails        map[string]int `json:"emails" yaml:"emails"`
	Confidence    Confidence     `json:"confidence" yaml:"confidence"`
	ConfidencePct int            `json:"confidence_pct" yaml:"confidence_pct"`
}

// Count is one ranked pattern.
type Count struct {
	Value string
	Count int
}

// Analyze scans title and snippet of every record. An empty result set is
// graded NONE.
func Analyze(results search.ResultSet) Patterns {
	p := Patterns{
		Names:     make(map[string]int),
		Locations: make(map[string]int),
		Usernames: make(map[string]int),
		Emails:    make(map[string]int),
	}
	for _, rec := range results {
		text := rec.Title + " " + rec.Snippet
		for _, m := range namePattern.FindAllStringSubmatch(text, -1) {
			if len(m[1]) >= minNameLen {
				p.Names[m[1]]++
			}
		}
		for _, m := range locationPattern.FindAllStringSubmatch(text, -1) {
			if len(m[1]) >= minLocationLen {
				p.Locations[m[1]]++
			}
		}
		for _, m := range usernamePattern.FindAllStringSubmatch(text, -1) {
			p.Usernames["@"+m[1]]++
		}
		for _, email := range emailPattern.FindAllString(text, -1) {
			p.Emails[email]++
		}
	}
	p.Confidence, p.ConfidencePct = grade(len(results), p.Total())
	return p
}

// Total is the number of distinct patterns across all categories.
func (p Patterns) Total() int {
	return len(p.Names) + len(p.Locations) + len(p.Usernames) + len(p.Emails)
}

func grade(results, total int) (Confidence, int) {
	switch {
	case results == 0:
		return ConfidenceNone, 0
	case total > 10:
		return ConfidenceHigh, min(95, 60+total*2)
	case total > 5:
		return ConfidenceMedium, 40 + total*3
	default:
		return ConfidenceLow, max(10, total*8)
	}
}

// Top returns the n most frequent values, ties broken alphabetically.
func Top(counts map[string]int, n int) []Count {
	out := make([]Count, 0, len(counts))
	for v, c := range counts {
		out = append(out, Count{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
