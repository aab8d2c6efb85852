package requester

import (
	"encoding/base64"
	"net/http"
)

// Mode selects the header profile sent with a request.
type Mode int

// Header profiles.
const (
	// ModeAPI sends a reduced JSON-oriented header set.
	ModeAPI Mode = iota
	// ModeBrowser sends a full browser header set.
	ModeBrowser
)

func (m Mode) String() string {
	if m == ModeBrowser {
		return "browser"
	}
	return "api"
}

// UserAgents is the fixed rotation pool.
var UserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
}

// AcceptLanguages is the fixed Accept-Language pool for browser mode.
var AcceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-US,en;q=0.8",
	"en-GB,en;q=0.9,en-US;q=0.8",
	"en-US,en;q=0.5",
}

// BasicAuth holds a credential pair sent as an Authorization header.
type BasicAuth struct {
	Username string
	Password string
}

func (b BasicAuth) header() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(b.Username+":"+b.Password))
}

// buildHeaders regenerates the header set for one attempt. Caller supplied
// headers are applied last so adapters can override the profile.
func buildHeaders(req Request) http.Header {
	hdr := http.Header{}
	hdr.Set("User-Agent", pick(UserAgents))
	switch req.Mode {
	case ModeBrowser:
		hdr.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
		hdr.Set("Accept-Language", pick(AcceptLanguages))
		hdr.Set("Connection", "keep-alive")
		hdr.Set("Upgrade-Insecure-Requests", "1")
		hdr.Set("Sec-Fetch-Dest", "document")
		hdr.Set("Sec-Fetch-Mode", "navigate")
		hdr.Set("Sec-Fetch-Site", "none")
		hdr.Set("Sec-Fetch-User", "?1")
	default:
		hdr.Set("Accept", "application/json, text/html, */*")
		hdr.Set("Accept-Language", "en-US,en;q=0.9")
		hdr.Set("Connection", "keep-alive")
	}
	if req.BasicAuth != nil {
		hdr.Set("Authorization", req.BasicAuth.header())
	}
	for key, values := range req.Header {
		hdr.Del(key)
		for _, v := range values {
			hdr.Add(key, v)
		}
	}
	return hdr
}

func pick(pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	return pool[randomInt(int64(len(pool)))]
}
