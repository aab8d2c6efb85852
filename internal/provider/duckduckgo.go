package provider

import (
	"context"
	"encoding/json"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/telespot/internal/requester"
	"github.com/JakeFAU/telespot/internal/search"
)

const defaultAbstractTitle = "DuckDuckGo Result"

// DuckDuckGo combines the Instant Answer API with a scrape of the HTML
// endpoint. The scrape only runs when the API yields fewer than
// fallbackThreshold records; its records are appended after the API ones.
type DuckDuckGo struct {
	base
	apiEndpoint       string
	htmlEndpoint      string
	fallbackThreshold int
}

// NewDuckDuckGo builds the hybrid adapter.
func NewDuckDuckGo(doer Doer, apiEndpoint, htmlEndpoint string, fallbackThreshold int, logger *zap.Logger) *DuckDuckGo {
	if fallbackThreshold <= 0 {
		fallbackThreshold = DefaultFallbackThreshold
	}
	return &DuckDuckGo{
		base:              newBase(search.ProviderDuckDuckGo, doer, logger),
		apiEndpoint:       apiEndpoint,
		htmlEndpoint:      htmlEndpoint,
		fallbackThreshold: fallbackThreshold,
	}
}

type instantAnswer struct {
	Heading       string            `json:"Heading"`
	AbstractText  string            `json:"AbstractText"`
	AbstractURL   string            `json:"AbstractURL"`
	RelatedTopics []json.RawMessage `json:"RelatedTopics"`
}

// relatedTopic is a leaf entry. Category groups carry "Topics" instead of
// "Text" and are skipped.
type relatedTopic struct {
	Text     string `json:"Text"`
	FirstURL string `json:"FirstURL"`
}

// Fetch implements search.Provider.
func (d *DuckDuckGo) Fetch(ctx context.Context, q search.Query) []search.Record {
	out := d.instantAnswers(ctx, q)
	if len(out) >= d.fallbackThreshold {
		return out
	}
	if ctx.Err() != nil {
		return out
	}
	scraped := d.htmlResults(ctx, q)
	d.logger.Debug("duckduckgo html fallback",
		zap.String("query", q.Text),
		zap.Int("api_count", len(out)),
		zap.Int("html_count", len(scraped)),
	)
	return append(out, scraped...)
}

func (d *DuckDuckGo) instantAnswers(ctx context.Context, q search.Query) []search.Record {
	body, ok := d.fetch(ctx, q, requester.Request{
		URL:  d.apiEndpoint,
		Mode: requester.ModeAPI,
		Query: url.Values{
			"q":             {q.Text},
			"format":        {"json"},
			"no_html":       {"1"},
			"skip_disambig": {"1"},
		},
	})
	if !ok {
		return nil
	}
	var payload instantAnswer
	if !d.decode(q, body, &payload) {
		return nil
	}

	var out []search.Record
	if payload.AbstractText != "" {
		title := payload.Heading
		if title == "" {
			title = defaultAbstractTitle
		}
		out = d.keep(out, q, title, payload.AbstractURL, payload.AbstractText)
	}
	topics := payload.RelatedTopics
	if len(topics) > relatedTopicLimit {
		topics = topics[:relatedTopicLimit]
	}
	for _, raw := range topics {
		var topic relatedTopic
		if err := json.Unmarshal(raw, &topic); err != nil || topic.Text == "" {
			continue
		}
		out = d.keep(out, q, truncateRunes(topic.Text, relatedTitleRunes), topic.FirstURL, topic.Text)
	}
	return out
}

func (d *DuckDuckGo) htmlResults(ctx context.Context, q search.Query) []search.Record {
	body, ok := d.fetch(ctx, q, requester.Request{
		URL:   d.htmlEndpoint,
		Mode:  requester.ModeBrowser,
		Query: url.Values{"q": {q.Text}},
	})
	if !ok {
		return nil
	}
	var out []search.Record
	for _, r := range scrape(body, duckDuckGoSelectors) {
		out = d.keep(out, q, r.title, r.link, r.snippet)
	}
	return out
}
