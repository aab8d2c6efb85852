package provider

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/telespot/internal/requester"
	"github.com/JakeFAU/telespot/internal/search"
)

// BingHTML scrapes the public Bing results page. It needs no credentials and
// is the adapter most exposed to block pages.
type BingHTML struct {
	base
	endpoint string
}

// NewBingHTML builds the adapter.
func NewBingHTML(doer Doer, endpoint string, logger *zap.Logger) *BingHTML {
	return &BingHTML{
		base:     newBase(search.ProviderBingHTML, doer, logger),
		endpoint: endpoint,
	}
}

// Fetch implements search.Provider.
func (b *BingHTML) Fetch(ctx context.Context, q search.Query) []search.Record {
	body, ok := b.fetch(ctx, q, requester.Request{
		URL:   b.endpoint,
		Mode:  requester.ModeBrowser,
		Query: url.Values{"q": {q.Text}},
	})
	if !ok {
		return nil
	}
	var out []search.Record
	for _, r := range scrape(body, bingSelectors) {
		out = b.keep(out, q, r.title, r.link, r.snippet)
	}
	b.logger.Debug("bing html results", zap.String("query", q.Text), zap.Int("count", len(out)))
	return out
}
