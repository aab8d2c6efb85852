// Package planner expands a phone number into the format x provider task list.
package planner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/telespot/internal/search"
)

var (
	// ErrInvalidNumber signals a digit count the region does not accept.
	ErrInvalidNumber = errors.New("invalid phone number")
	// ErrNoProviders signals that no provider is enabled for the run.
	ErrNoProviders = errors.New("no providers enabled")
)

// IDGenerator produces task identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Region describes the numbering plan phone input is validated against.
type Region struct {
	CountryCode    string
	NationalDigits int
}

// NANP is the North American numbering plan (country code 1, ten digits).
var NANP = Region{CountryCode: "1", NationalDigits: 10}

// Planner builds tasks for a lookup.
type Planner struct {
	region Region
	ids    IDGenerator
}

// New returns a Planner. A nil generator falls back to sequential ids.
func New(region Region, ids IDGenerator) *Planner {
	if region.NationalDigits <= 0 {
		region = NANP
	}
	if ids == nil {
		ids = &sequentialIDs{}
	}
	return &Planner{region: region, ids: ids}
}

// Normalize strips formatting and returns the national digits. Only ASCII
// digits count; other scripts' digits are dropped like punctuation.
func (p *Planner) Normalize(phone string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	switch {
	case len(digits) == p.region.NationalDigits:
		return digits, nil
	case len(digits) == p.region.NationalDigits+len(p.region.CountryCode) &&
		strings.HasPrefix(digits, p.region.CountryCode):
		return digits[len(p.region.CountryCode):], nil
	default:
		return "", fmt.Errorf("%w: %q has %d digits", ErrInvalidNumber, phone, len(digits))
	}
}

// Formats renders the fixed list of search variants for national digits.
// The order is stable.
func (p *Planner) Formats(digits string) []string {
	if len(digits) != 10 {
		return []string{digits, "+" + p.region.CountryCode + digits, `"` + digits + `"`}
	}
	area, exchange, line := digits[:3], digits[3:6], digits[6:]
	hyphenated := fmt.Sprintf("%s-%s-%s", area, exchange, line)
	return []string{
		hyphenated,
		digits,
		fmt.Sprintf("(%s) %s-%s", area, exchange, line),
		"+" + p.region.CountryCode + digits,
		`"` + hyphenated + `"`,
		`"` + digits + `"`,
	}
}

// Plan validates phone and returns one task per (format, enabled provider).
// Providers are visited in search.AllProviders order.
func (p *Planner) Plan(phone string, active map[search.ProviderID]bool, c search.Constraints) ([]search.Task, error) {
	digits, err := p.Normalize(phone)
	if err != nil {
		return nil, err
	}
	providers := enabled(active)
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	c.Keyword = strings.TrimSpace(c.Keyword)
	c.Site = strings.TrimSpace(c.Site)

	formats := p.Formats(digits)
	tasks := make([]search.Task, 0, len(formats)*len(providers))
	for _, format := range formats {
		text := applyConstraints(format, c)
		for _, provider := range providers {
			id, err := p.ids.NewID()
			if err != nil {
				return nil, fmt.Errorf("generate task id: %w", err)
			}
			tasks = append(tasks, search.Task{
				ID:       id,
				Provider: provider,
				Query: search.Query{
					Text:         text,
					Format:       format,
					ProviderHint: provider,
					Constraints:  c,
				},
			})
		}
	}
	return tasks, nil
}

func applyConstraints(format string, c search.Constraints) string {
	text := format
	if c.Keyword != "" {
		text += " " + c.Keyword
	}
	if c.Site != "" {
		text += " site:" + c.Site
	}
	return text
}

func enabled(active map[search.ProviderID]bool) []search.ProviderID {
	out := make([]search.ProviderID, 0, len(active))
	for _, id := range search.AllProviders {
		if active[id] {
			out = append(out, id)
		}
	}
	return out
}

type sequentialIDs struct {
	n int
}

func (s *sequentialIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("task-%d", s.n), nil
}
