// Package provider adapts external search engines and data APIs to the
// search.Provider contract. Adapters never return errors: every failure is
// logged and degrades to an empty record slice.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/telespot/internal/requester"
	"github.com/JakeFAU/telespot/internal/search"
)

// Default adapter limits.
const (
	DefaultFallbackThreshold = 3
	DefaultMaxBreachResults  = 10
	relatedTopicLimit        = 5
	relatedTitleRunes        = 50
)

// Doer executes one resilient request. *requester.Requester satisfies it.
type Doer interface {
	Execute(ctx context.Context, req requester.Request) (requester.Response, error)
}

// Endpoints holds the base URL of every upstream. Tests point them at
// httptest servers.
type Endpoints struct {
	Google         string `mapstructure:"google"`
	Bing           string `mapstructure:"bing"`
	DuckDuckGo     string `mapstructure:"duckduckgo"`
	DuckDuckGoHTML string `mapstructure:"duckduckgo_html"`
	BingHTML       string `mapstructure:"bing_html"`
	Dehashed       string `mapstructure:"dehashed"`
}

// DefaultEndpoints returns the public production URLs.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Google:         "https://www.googleapis.com/customsearch/v1",
		Bing:           "https://api.bing.microsoft.com/v7.0/search",
		DuckDuckGo:     "https://api.duckduckgo.com/",
		DuckDuckGoHTML: "https://html.duckduckgo.com/html/",
		BingHTML:       "https://www.bing.com/search",
		Dehashed:       "https://api.dehashed.com/search",
	}
}

func (e Endpoints) withDefaults() Endpoints {
	def := DefaultEndpoints()
	if e.Google == "" {
		e.Google = def.Google
	}
	if e.Bing == "" {
		e.Bing = def.Bing
	}
	if e.DuckDuckGo == "" {
		e.DuckDuckGo = def.DuckDuckGo
	}
	if e.DuckDuckGoHTML == "" {
		e.DuckDuckGoHTML = def.DuckDuckGoHTML
	}
	if e.BingHTML == "" {
		e.BingHTML = def.BingHTML
	}
	if e.Dehashed == "" {
		e.Dehashed = def.Dehashed
	}
	return e
}

// Credentials are opaque strings. A provider is configured when its
// credential is present; formats are never validated beyond what is needed to
// use them.
type Credentials struct {
	GoogleAPIKey string
	GoogleCSEID  string
	BingAPIKey   string
	// Dehashed is "email:key".
	Dehashed string
}

// Options tune adapter behavior.
type Options struct {
	Endpoints         Endpoints
	FallbackThreshold int
	MaxBreachResults  int
}

func (o Options) withDefaults() Options {
	o.Endpoints = o.Endpoints.withDefaults()
	if o.FallbackThreshold <= 0 {
		o.FallbackThreshold = DefaultFallbackThreshold
	}
	if o.MaxBreachResults <= 0 {
		o.MaxBreachResults = DefaultMaxBreachResults
	}
	return o
}

// base carries what every adapter shares.
type base struct {
	id     search.ProviderID
	doer   Doer
	logger *zap.Logger
}

func newBase(id search.ProviderID, doer Doer, logger *zap.Logger) base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{id: id, doer: doer, logger: logger.With(zap.String("provider", string(id)))}
}

// ID implements search.Provider.
func (b base) ID() search.ProviderID { return b.id }

// fetch runs req and returns the body of a 200 response. Anything else is
// logged and reported as ok=false.
func (b base) fetch(ctx context.Context, q search.Query, req requester.Request) ([]byte, bool) {
	req.Provider = b.id
	resp, err := b.doer.Execute(ctx, req)
	if err != nil {
		var exhausted *requester.ExhaustedError
		if errors.As(err, &exhausted) {
			b.logger.Warn("provider request exhausted",
				zap.String("query", q.Text),
				zap.Int("attempts", len(exhausted.Attempts)),
				zap.String("last_outcome", string(exhausted.LastOutcome())),
			)
			return nil, false
		}
		b.logger.Warn("provider request failed", zap.String("query", q.Text), zap.Error(err))
		return nil, false
	}
	if resp.StatusCode != http.StatusOK {
		b.logger.Warn("provider rejected request",
			zap.String("query", q.Text),
			zap.Int("status", resp.StatusCode),
			zap.String("reason", apiErrorMessage(resp.Body)),
		)
		return nil, false
	}
	return resp.Body, true
}

// decode unmarshals a JSON payload, logging malformed bodies.
func (b base) decode(q search.Query, body []byte, into any) bool {
	if err := json.Unmarshal(body, into); err != nil {
		b.logger.Warn("malformed provider payload", zap.String("query", q.Text), zap.Error(err))
		return false
	}
	return true
}

// keep appends rec when it carries a title or snippet.
func (b base) keep(out []search.Record, q search.Query, title, link, snippet string) []search.Record {
	rec := search.Record{
		Title:    cleanText(title),
		URL:      strings.TrimSpace(link),
		Snippet:  cleanText(snippet),
		Source:   b.id,
		QueryRef: q.Text,
	}
	if !rec.Valid() {
		return out
	}
	return append(out, rec)
}

// apiErrorMessage pulls a human readable reason out of the error envelopes
// used by Google, Bing and Dehashed.
func apiErrorMessage(body []byte) string {
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	if envelope.Message != "" {
		return envelope.Message
	}
	if len(envelope.Error) == 0 {
		return ""
	}
	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(envelope.Error, &nested); err == nil && nested.Message != "" {
		return nested.Message
	}
	var plain string
	if err := json.Unmarshal(envelope.Error, &plain); err == nil {
		return plain
	}
	return ""
}

// cleanText collapses runs of whitespace.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
