package provider

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// resultSelectors locate result blocks on a search engine results page.
type resultSelectors struct {
	container string
	title     string
	snippet   string
}

var (
	bingSelectors = resultSelectors{
		container: "li.b_algo",
		title:     "h2 a",
		snippet:   ".b_caption p",
	}
	duckDuckGoSelectors = resultSelectors{
		container: ".result",
		title:     ".result__a",
		snippet:   ".result__snippet",
	}
)

type scrapedResult struct {
	title   string
	link    string
	snippet string
}

// scrape extracts result blocks. Markup is dropped by taking element text.
// Unparseable documents yield no results.
func scrape(body []byte, sel resultSelectors) []scrapedResult {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	var out []scrapedResult
	doc.Find(sel.container).Each(func(_ int, s *goquery.Selection) {
		titleEl := s.Find(sel.title).First()
		href, _ := titleEl.Attr("href")
		out = append(out, scrapedResult{
			title:   titleEl.Text(),
			link:    unwrapRedirect(href),
			snippet: s.Find(sel.snippet).First().Text(),
		})
	})
	return out
}

// unwrapRedirect resolves DuckDuckGo's /l/?uddg= click-through links to the
// destination URL.
func unwrapRedirect(href string) string {
	href = strings.TrimSpace(href)
	if !strings.Contains(href, "duckduckgo.com/l/") {
		return href
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
