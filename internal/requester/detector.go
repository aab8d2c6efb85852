package requester

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultBlockIndicators are matched case-insensitively against non-JSON bodies.
var DefaultBlockIndicators = []string{
	"captcha",
	"are you a robot",
	"unusual traffic",
	"access denied",
	"rate limit exceeded",
	"security check",
	"verify you are human",
	"automated queries",
}

// DefaultBlockSelectors match challenge widgets that render without text.
var DefaultBlockSelectors = []string{
	"form#captcha-form",
	"div.g-recaptcha",
	"#recaptcha",
	"body.captcha",
}

// BlockDetector recognizes challenge pages served with a 200 status.
type BlockDetector struct {
	keywords  [][]byte
	selectors []string
}

// NewBlockDetector lower-cases the indicator keywords once.
func NewBlockDetector(keywords, selectors []string) *BlockDetector {
	lowerKeywords := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lowerKeywords = append(lowerKeywords, bytes.ToLower([]byte(kw)))
	}
	return &BlockDetector{keywords: lowerKeywords, selectors: selectors}
}

// Blocked reports whether body looks like an anti-automation challenge.
func (d *BlockDetector) Blocked(body []byte) bool {
	if d == nil || len(body) == 0 {
		return false
	}
	return d.containsKeywords(body) || d.matchesSelectors(body)
}

func (d *BlockDetector) containsKeywords(body []byte) bool {
	if len(d.keywords) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(body)
	for _, kw := range d.keywords {
		if bytes.Contains(lowerBody, kw) {
			return true
		}
	}
	return false
}

func (d *BlockDetector) matchesSelectors(body []byte) bool {
	if len(d.selectors) == 0 || !bytes.Contains(body, []byte("<")) {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	for _, sel := range d.selectors {
		if sel != "" && doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}
