package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/telespot/internal/search"
)

const bingPage = `<!DOCTYPE html><html><body><ol id="b_results">
<li class="b_algo"><h2><a href="https://c.example/listing">John <strong>Smith</strong> Listing</a></h2>
<div class="b_caption"><p>Reach John Smith at <strong>215-555-1212</strong> in Philadelphia, PA</p></div></li>
<li class="b_algo"><h2><a href="https://c.example/empty"></a></h2><div class="b_caption"></div></li>
<li class="b_ad"><h2><a href="https://ads.example">Ad</a></h2></li>
</ol></body></html>`

func TestBingHTMLFetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "215-555-1212 site:example.com", r.URL.Query().Get("q"))
		require.Equal(t, "navigate", r.Header.Get("Sec-Fetch-Mode"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(bingPage))
	}))
	defer srv.Close()

	b := NewBingHTML(newTestDoer(), srv.URL, nil)
	got := b.Fetch(context.Background(), search.Query{Text: "215-555-1212 site:example.com"})
	require.Equal(t, []search.Record{{
		Title:    "John Smith Listing",
		URL:      "https://c.example/listing",
		Snippet:  "Reach John Smith at 215-555-1212 in Philadelphia, PA",
		Source:   search.ProviderBingHTML,
		QueryRef: "215-555-1212 site:example.com",
	}}, got)
}

func TestBingHTMLBlockPageIsEmpty(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><div class="g-recaptcha"></div></body></html>`))
	}))
	defer srv.Close()

	b := NewBingHTML(newTestDoer(), srv.URL, nil)
	require.Empty(t, b.Fetch(context.Background(), testQuery))
}

func TestUnwrapRedirect(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://d.example/page",
		unwrapRedirect("//duckduckgo.com/l/?uddg=https%3A%2F%2Fd.example%2Fpage&rut=abc"))
	require.Equal(t, "https://d.example/page", unwrapRedirect(" https://d.example/page "))
	require.Equal(t, "https://duckduckgo.com/l/?x=1", unwrapRedirect("https://duckduckgo.com/l/?x=1"))
}
