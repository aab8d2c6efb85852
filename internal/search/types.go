// Package search defines the shared value types that flow through a lookup run:
// provider identifiers, queries, tasks, result records, and the interfaces the
// planner, orchestrator, and adapters agree on.
package search

import (
	"context"
	"fmt"
	"strings"
)

// ProviderID names one external data source. The set is closed; adapters are
// registered against these identifiers only.
type ProviderID string

// Supported providers, in registry order.
const (
	ProviderGoogle     ProviderID = "google"
	ProviderBing       ProviderID = "bing"
	ProviderDuckDuckGo ProviderID = "duckduckgo"
	ProviderBingHTML   ProviderID = "bing_html"
	ProviderDehashed   ProviderID = "dehashed"
)

// AllProviders lists every known provider in the order tasks are planned.
var AllProviders = []ProviderID{
	ProviderGoogle,
	ProviderBing,
	ProviderDuckDuckGo,
	ProviderBingHTML,
	ProviderDehashed,
}

// ParseProviderID maps user input onto a known ProviderID.
func ParseProviderID(raw string) (ProviderID, error) {
	id := ProviderID(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range AllProviders {
		if id == known {
			return id, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", raw)
}

// Constraints narrow every planned query.
type Constraints struct {
	// Keyword is appended as an extra search term when non-empty.
	Keyword string `json:"keyword,omitempty" yaml:"keyword,omitempty"`
	// Site is appended as a site: restriction when non-empty.
	Site string `json:"site,omitempty" yaml:"site,omitempty"`
}

// Query is an immutable search string produced by the planner.
type Query struct {
	// Text is the phone format with constraints already applied.
	Text string `json:"text" yaml:"text"`
	// Format is the bare phone rendering before constraints.
	Format string `json:"format" yaml:"format"`
	// ProviderHint optionally names the provider the query was planned for.
	ProviderHint ProviderID `json:"provider_hint,omitempty" yaml:"provider_hint,omitempty"`
	// Constraints echoes the constraints applied to Text.
	Constraints Constraints `json:"constraints" yaml:"constraints"`
}

// Task is one (format, provider) unit of work.
type Task struct {
	ID       string     `json:"id"`
	Query    Query      `json:"query"`
	Provider ProviderID `json:"provider"`
}

// Record is the normalized unit every adapter returns.
type Record struct {
	Title    string     `json:"title" yaml:"title"`
	URL      string     `json:"url" yaml:"url"`
	Snippet  string     `json:"snippet" yaml:"snippet"`
	Source   ProviderID `json:"source" yaml:"source"`
	QueryRef string     `json:"query" yaml:"query"`
}

// Valid reports whether the record carries a title or a snippet.
func (r Record) Valid() bool {
	return strings.TrimSpace(r.Title) != "" || strings.TrimSpace(r.Snippet) != ""
}

// ResultSet is the deduplicated output of a run in insertion order.
type ResultSet []Record

// BySource counts records per provider.
func (rs ResultSet) BySource() map[ProviderID]int {
	out := make(map[ProviderID]int)
	for _, rec := range rs {
		out[rec.Source]++
	}
	return out
}

// Provider turns a query into normalized records. Implementations never
// return errors; every failure class degrades to an empty slice.
type Provider interface {
	ID() ProviderID
	Fetch(ctx context.Context, q Query) []Record
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc struct {
	Name ProviderID
	Fn   func(ctx context.Context, q Query) []Record
}

// ID implements Provider.
func (p ProviderFunc) ID() ProviderID { return p.Name }

// Fetch implements Provider.
func (p ProviderFunc) Fetch(ctx context.Context, q Query) []Record {
	if p.Fn == nil {
		return nil
	}
	return p.Fn(ctx, q)
}
