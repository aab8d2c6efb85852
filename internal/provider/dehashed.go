package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/telespot/internal/requester"
	"github.com/JakeFAU/telespot/internal/search"
)

const dehashedSite = "https://dehashed.com"

// ErrMalformedCredential is returned when a Dehashed credential lacks the
// email:key separator.
var ErrMalformedCredential = errors.New("dehashed credential must be email:key")

// Dehashed queries the breach database for phone matches.
type Dehashed struct {
	base
	endpoint   string
	auth       requester.BasicAuth
	maxResults int
}

// SplitDehashedCredential splits "email:key" at the first colon.
func SplitDehashedCredential(credential string) (requester.BasicAuth, error) {
	email, key, ok := strings.Cut(credential, ":")
	if !ok {
		return requester.BasicAuth{}, ErrMalformedCredential
	}
	return requester.BasicAuth{Username: email, Password: key}, nil
}

// NewDehashed builds the adapter from an "email:key" credential.
func NewDehashed(doer Doer, endpoint, credential string, maxResults int, logger *zap.Logger) (*Dehashed, error) {
	auth, err := SplitDehashedCredential(credential)
	if err != nil {
		return nil, err
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxBreachResults
	}
	return &Dehashed{
		base:       newBase(search.ProviderDehashed, doer, logger),
		endpoint:   endpoint,
		auth:       auth,
		maxResults: maxResults,
	}, nil
}

type dehashedResponse struct {
	Entries []struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Name     string `json:"name"`
	} `json:"entries"`
}

// Fetch implements search.Provider.
func (d *Dehashed) Fetch(ctx context.Context, q search.Query) []search.Record {
	auth := d.auth
	body, ok := d.fetch(ctx, q, requester.Request{
		URL:       d.endpoint,
		Mode:      requester.ModeAPI,
		BasicAuth: &auth,
		Header:    http.Header{"Accept": {"application/json"}},
		Query:     url.Values{"query": {`phone:"` + q.Text + `"`}},
	})
	if !ok {
		return nil
	}
	var payload dehashedResponse
	if !d.decode(q, body, &payload) {
		return nil
	}
	entries := payload.Entries
	if len(entries) > d.maxResults {
		entries = entries[:d.maxResults]
	}
	out := make([]search.Record, 0, len(entries))
	for _, e := range entries {
		title := "Dehashed: " + orDefault(e.Email, "Unknown")
		snippet := fmt.Sprintf("Email: %s, Username: %s, Name: %s",
			orDefault(e.Email, "N/A"), orDefault(e.Username, "N/A"), orDefault(e.Name, "N/A"))
		out = d.keep(out, q, title, entryURL(e.Email, e.Username, e.Name), snippet)
	}
	d.logger.Debug("dehashed results", zap.String("query", q.Text), zap.Int("count", len(out)))
	return out
}

// entryURL gives each breach entry its own deduplication key. Entries with no
// identifying field share the bare site URL.
func entryURL(identifiers ...string) string {
	for _, id := range identifiers {
		if id = strings.TrimSpace(id); id != "" {
			return dehashedSite + "/search?query=" + url.QueryEscape(id)
		}
	}
	return dehashedSite
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
