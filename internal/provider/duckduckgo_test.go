package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/telespot/internal/search"
)

const ddgHTMLPage = `<html><body><div class="results">
<div class="result"><h2><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fe.example%2Fowner&rut=1">Owner lookup</a></h2>
<a class="result__snippet">Number 215-555-1212 belongs to Jane Doe</a></div>
<div class="result"><h2><a class="result__a" href="https://e.example/second">Second</a></h2></div>
</div></body></html>`

type ddgServer struct {
	apiHits  atomic.Int32
	htmlHits atomic.Int32
	srv      *httptest.Server
}

func newDDGServer(t *testing.T, apiBody string) *ddgServer {
	t.Helper()
	s := &ddgServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		s.apiHits.Add(1)
		q := r.URL.Query()
		require.Equal(t, "json", q.Get("format"))
		require.Equal(t, "1", q.Get("no_html"))
		require.Equal(t, "1", q.Get("skip_disambig"))
		w.Header().Set("Content-Type", "application/x-javascript")
		_, _ = w.Write([]byte(apiBody))
	})
	mux.HandleFunc("/html/", func(w http.ResponseWriter, _ *http.Request) {
		s.htmlHits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(ddgHTMLPage))
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *ddgServer) adapter() *DuckDuckGo {
	return NewDuckDuckGo(newTestDoer(), s.srv.URL+"/api/", s.srv.URL+"/html/", 3, nil)
}

func TestDuckDuckGoFallsBackBelowThreshold(t *testing.T) {
	t.Parallel()

	s := newDDGServer(t, `{"Heading":"","AbstractText":"Philadelphia area code","AbstractURL":"https://e.example/abstract","RelatedTopics":[]}`)
	got := s.adapter().Fetch(context.Background(), testQuery)

	require.Equal(t, int32(1), s.apiHits.Load())
	require.Equal(t, int32(1), s.htmlHits.Load())
	require.Len(t, got, 3)
	require.Equal(t, defaultAbstractTitle, got[0].Title)
	require.Equal(t, "https://e.example/abstract", got[0].URL)
	require.Equal(t, "Owner lookup", got[1].Title)
	require.Equal(t, "https://e.example/owner", got[1].URL)
	require.Equal(t, "Number 215-555-1212 belongs to Jane Doe", got[1].Snippet)
	require.Equal(t, "Second", got[2].Title)
	for _, rec := range got {
		require.Equal(t, search.ProviderDuckDuckGo, rec.Source)
	}
}

func TestDuckDuckGoSkipsFallbackAtThreshold(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 80)
	s := newDDGServer(t, `{"Heading":"Area code 215","AbstractText":"Pennsylvania","AbstractURL":"https://e.example/a",
		"RelatedTopics":[
			{"Text":"`+long+`","FirstURL":"https://e.example/1"},
			{"Name":"Category","Topics":[{"Text":"nested","FirstURL":"https://e.example/n"}]},
			{"Text":"Second topic","FirstURL":"https://e.example/2"}
		]}`)
	got := s.adapter().Fetch(context.Background(), testQuery)

	require.Equal(t, int32(0), s.htmlHits.Load())
	require.Len(t, got, 3)
	require.Equal(t, "Area code 215", got[0].Title)
	require.Equal(t, strings.Repeat("x", 50), got[1].Title)
	require.Equal(t, long, got[1].Snippet)
	require.Equal(t, "Second topic", got[2].Title)
}

func TestDuckDuckGoCapsRelatedTopics(t *testing.T) {
	t.Parallel()

	var topics []string
	for i := 0; i < 8; i++ {
		topics = append(topics, `{"Text":"topic","FirstURL":"https://e.example/t"}`)
	}
	s := newDDGServer(t, `{"RelatedTopics":[`+strings.Join(topics, ",")+`]}`)
	got := s.adapter().Fetch(context.Background(), testQuery)
	require.Len(t, got, 5)
	require.Equal(t, int32(0), s.htmlHits.Load())
}

func TestDuckDuckGoAPIFailureStillScrapes(t *testing.T) {
	t.Parallel()

	s := newDDGServer(t, `not json`)
	got := s.adapter().Fetch(context.Background(), testQuery)
	require.Len(t, got, 2)
	require.Equal(t, int32(1), s.htmlHits.Load())
}
