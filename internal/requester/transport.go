package requester

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"
)

// Response is the raw payload of a completed HTTP round trip.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   []Attempt
}

// Transport performs exactly one HTTP round trip.
type Transport interface {
	Send(ctx context.Context, method, rawURL string, body []byte, hdr http.Header) (Response, error)
}

// CollyConfig tunes the colly-backed transport.
type CollyConfig struct {
	// Timeout bounds the underlying HTTP client.
	Timeout time.Duration
	// MaxBodyBytes caps response bodies; 0 keeps colly's default.
	MaxBodyBytes int
}

// CollyTransport sends requests through a cloned colly collector.
type CollyTransport struct {
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// NewCollyTransport builds a transport with connection pooling. Revisits are
// allowed so retries may hit the same URL, and error statuses are parsed so
// the caller can classify them.
func NewCollyTransport(cfg CollyConfig) *CollyTransport {
	opts := []colly.CollectorOption{
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
	}
	if cfg.MaxBodyBytes > 0 {
		opts = append(opts, colly.MaxBodySize(cfg.MaxBodyBytes))
	}
	c := colly.NewCollector(opts...)
	c.WithTransport(newHTTPTransport())
	c.DisableCookies()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}
	c.SetRequestTimeout(timeout)
	return &CollyTransport{baseCollector: c}
}

// Send executes one request and waits for its outcome or ctx.
func (t *CollyTransport) Send(
	ctx context.Context,
	method, rawURL string,
	body []byte,
	hdr http.Header,
) (Response, error) {
	var (
		result  Response
		sendErr error
	)
	collector := t.baseCollector.Clone()
	configureHooks(collector, &result, &sendErr)

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	done := make(chan error, 1)
	go func() {
		done <- collector.Request(method, rawURL, reader, nil, hdr.Clone())
	}()

	select {
	case <-ctx.Done():
		return Response{}, fmt.Errorf("colly request canceled: %w", ctx.Err())
	case err := <-done:
		if sendErr != nil {
			return Response{}, fmt.Errorf("colly response failed: %w", sendErr)
		}
		if err != nil {
			return Response{}, fmt.Errorf("colly request failed: %w", err)
		}
	}
	decoded, err := decodeBody(result.Header, result.Body)
	if err != nil {
		return Response{}, err
	}
	result.Body = decoded
	return result, nil
}

func configureHooks(hooks collectorHooks, result *Response, sendErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		var hdr http.Header
		if r.Headers != nil {
			hdr = r.Headers.Clone()
		}
		*result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Header:     hdr,
			Body:       append([]byte(nil), r.Body...),
		}
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		*sendErr = err
	})
}

// decodeBody handles brotli payloads; colly already inflates gzip.
func decodeBody(hdr http.Header, body []byte) ([]byte, error) {
	if hdr == nil || len(body) == 0 {
		return body, nil
	}
	if !strings.EqualFold(strings.TrimSpace(hdr.Get("Content-Encoding")), "br") {
		return body, nil
	}
	out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
	if err != nil {
		return nil, fmt.Errorf("brotli decode: %w", err)
	}
	return out, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
	}
}
