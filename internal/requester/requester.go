// Package requester executes single HTTP requests against endpoints that resist
// automation. Every attempt gets fresh headers and its own timeout, responses
// are screened for block pages, and failed attempts are retried with jittered
// exponential backoff. Execute never panics; exhaustion is an ordinary error.
package requester

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/telespot/internal/metrics"
	"github.com/JakeFAU/telespot/internal/search"
)

const (
	defaultAttemptTimeout = 12 * time.Second
	defaultMaxRetries     = 2
	defaultBackoffBase    = time.Second
	defaultJitterMin      = 500 * time.Millisecond
	defaultJitterMax      = 2 * time.Second
)

// ErrInvalidRequest marks descriptors that can never succeed.
var ErrInvalidRequest = errors.New("invalid request")

// Config holds the retry and detection policy shared by all requests.
type Config struct {
	Timeout         time.Duration
	MaxRetries      int
	Backoff         Backoff
	BlockIndicators []string
	BlockSelectors  []string
}

// DefaultConfig returns two retries, 1s base backoff, 0.5-2s jitter, and a
// 12s attempt timeout.
func DefaultConfig() Config {
	return Config{
		Timeout:    defaultAttemptTimeout,
		MaxRetries: defaultMaxRetries,
		Backoff: Backoff{
			Base:      defaultBackoffBase,
			JitterMin: defaultJitterMin,
			JitterMax: defaultJitterMax,
		},
		BlockIndicators: DefaultBlockIndicators,
		BlockSelectors:  DefaultBlockSelectors,
	}
}

// Request describes one logical request.
type Request struct {
	Provider  search.ProviderID
	Method    string
	URL       string
	Query     url.Values
	Body      []byte
	Header    http.Header
	Mode      Mode
	BasicAuth *BasicAuth
}

func (r Request) target() (string, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return "", fmt.Errorf("%w: parse url: %w", ErrInvalidRequest, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: url %q is not absolute", ErrInvalidRequest, r.URL)
	}
	if len(r.Query) > 0 {
		q := u.Query()
		for key, values := range r.Query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Requester is stateless across calls and safe for concurrent use.
type Requester struct {
	cfg       Config
	transport Transport
	detector  *BlockDetector
	limiter   *ProviderLimiter
	logger    *zap.Logger
	pause     func(context.Context, time.Duration) error
}

// New wires a Requester. A nil transport falls back to colly; a nil limiter
// disables cross-task rate limiting.
func New(cfg Config, transport Transport, limiter *ProviderLimiter, logger *zap.Logger) *Requester {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAttemptTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BlockIndicators == nil {
		cfg.BlockIndicators = DefaultBlockIndicators
	}
	if transport == nil {
		transport = NewCollyTransport(CollyConfig{Timeout: cfg.Timeout})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Requester{
		cfg:       cfg,
		transport: transport,
		detector:  NewBlockDetector(cfg.BlockIndicators, cfg.BlockSelectors),
		limiter:   limiter,
		logger:    logger,
		pause:     sleep,
	}
}

// Execute runs req with the configured retry budget and backoff base.
func (r *Requester) Execute(ctx context.Context, req Request) (Response, error) {
	return r.ExecuteWith(ctx, req, r.cfg.MaxRetries, r.cfg.Backoff.Base)
}

// ExecuteWith runs req with up to maxRetries extra attempts. Attempts within a
// call are strictly sequential.
func (r *Requester) ExecuteWith(
	ctx context.Context,
	req Request,
	maxRetries int,
	backoffBase time.Duration,
) (Response, error) {
	target, err := req.target()
	if err != nil {
		return Response{}, err
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := r.cfg.Backoff
	backoff.Base = backoffBase
	provider := string(req.Provider)
	logger := r.logger.With(zap.String("provider", provider), zap.String("mode", req.Mode.String()))

	attempts := make([]Attempt, 0, maxRetries+1)
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			delay := backoff.Delay(i - 1)
			metrics.ObserveRetry(provider, delay)
			if err := r.pause(ctx, delay); err != nil {
				logger.Debug("retry abandoned", zap.Error(err))
				break
			}
		}
		if err := r.limiter.Wait(ctx, req.Provider); err != nil {
			logger.Debug("rate limiter wait abandoned", zap.Error(err))
			break
		}

		attempt := r.attempt(ctx, i+1, method, target, req)
		attempts = append(attempts, attempt.Attempt)
		metrics.ObserveAttempt(provider, string(attempt.Outcome), attempt.Duration)

		if attempt.Outcome == OutcomeSuccess {
			return attempt.response(attempts), nil
		}
		logger.Debug("attempt failed",
			zap.Int("attempt", attempt.Number),
			zap.String("outcome", string(attempt.Outcome)),
			zap.Int("status", attempt.StatusCode),
			zap.Error(attempt.Err),
		)
		if ctx.Err() != nil {
			break
		}
	}

	metrics.ObserveExhausted(provider)
	return Response{Attempts: attempts}, &ExhaustedError{URL: target, Attempts: attempts}
}

type completedAttempt struct {
	Attempt
	resp Response
}

func (a completedAttempt) response(log []Attempt) Response {
	resp := a.resp
	resp.Attempts = log
	return resp
}

func (r *Requester) attempt(ctx context.Context, number int, method, target string, req Request) completedAttempt {
	hdr := buildHeaders(req)
	out := completedAttempt{Attempt: Attempt{
		Number:    number,
		StartedAt: time.Now(),
		Outcome:   OutcomePending,
		UserAgent: hdr.Get("User-Agent"),
	}}

	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	resp, err := r.transport.Send(attemptCtx, method, target, req.Body, hdr)

	out.Duration = time.Since(out.StartedAt)
	out.StatusCode = resp.StatusCode
	out.Err = err
	out.Outcome = r.classify(resp, err)
	out.resp = resp
	return out
}
