package provider

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/telespot/internal/requester"
	"github.com/JakeFAU/telespot/internal/search"
)

// Google queries the Custom Search JSON API.
type Google struct {
	base
	endpoint string
	apiKey   string
	cseID    string
}

// NewGoogle builds the adapter. Both the API key and the engine id are needed.
func NewGoogle(doer Doer, endpoint, apiKey, cseID string, logger *zap.Logger) *Google {
	return &Google{
		base:     newBase(search.ProviderGoogle, doer, logger),
		endpoint: endpoint,
		apiKey:   apiKey,
		cseID:    cseID,
	}
}

type googleResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

// Fetch implements search.Provider.
func (g *Google) Fetch(ctx context.Context, q search.Query) []search.Record {
	body, ok := g.fetch(ctx, q, requester.Request{
		URL:  g.endpoint,
		Mode: requester.ModeAPI,
		Query: url.Values{
			"key": {g.apiKey},
			"cx":  {g.cseID},
			"q":   {q.Text},
			"num": {"10"},
		},
	})
	if !ok {
		return nil
	}
	var payload googleResponse
	if !g.decode(q, body, &payload) {
		return nil
	}
	out := make([]search.Record, 0, len(payload.Items))
	for _, item := range payload.Items {
		out = g.keep(out, q, item.Title, item.Link, item.Snippet)
	}
	g.logger.Debug("google results", zap.String("query", q.Text), zap.Int("count", len(out)))
	return out
}
