package provider

import (
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/telespot/internal/requester"
	"github.com/JakeFAU/telespot/internal/search"
)

const bingKeyHeader = "Ocp-Apim-Subscription-Key"

// Bing queries the Bing Web Search v7 API.
type Bing struct {
	base
	endpoint string
	apiKey   string
}

// NewBing builds the adapter.
func NewBing(doer Doer, endpoint, apiKey string, logger *zap.Logger) *Bing {
	return &Bing{
		base:     newBase(search.ProviderBing, doer, logger),
		endpoint: endpoint,
		apiKey:   apiKey,
	}
}

type bingResponse struct {
	WebPages struct {
		Value []struct {
			Name    string `json:"name"`
			URL     string `json:"url"`
			Snippet string `json:"snippet"`
		} `json:"value"`
	} `json:"webPages"`
}

// Fetch implements search.Provider.
func (b *Bing) Fetch(ctx context.Context, q search.Query) []search.Record {
	body, ok := b.fetch(ctx, q, requester.Request{
		URL:    b.endpoint,
		Mode:   requester.ModeAPI,
		Header: http.Header{bingKeyHeader: {b.apiKey}},
		Query: url.Values{
			"q":     {q.Text},
			"count": {"10"},
		},
	})
	if !ok {
		return nil
	}
	var payload bingResponse
	if !b.decode(q, body, &payload) {
		return nil
	}
	out := make([]search.Record, 0, len(payload.WebPages.Value))
	for _, item := range payload.WebPages.Value {
		out = b.keep(out, q, item.Name, item.URL, item.Snippet)
	}
	b.logger.Debug("bing results", zap.String("query", q.Text), zap.Int("count", len(out)))
	return out
}
