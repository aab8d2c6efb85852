package requester

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"
)

// Outcome classifies a single attempt.
type Outcome string

// Attempt outcomes.
const (
	OutcomePending      Outcome = "pending"
	OutcomeSuccess      Outcome = "success"
	OutcomeBlocked      Outcome = "blocked"
	OutcomeRateLimited  Outcome = "rate_limited"
	OutcomeNetworkError Outcome = "network_error"
	OutcomeTimeout      Outcome = "timeout"
)

// Retryable reports whether another attempt may help.
func (o Outcome) Retryable() bool {
	switch o {
	case OutcomeBlocked, OutcomeRateLimited, OutcomeNetworkError, OutcomeTimeout:
		return true
	default:
		return false
	}
}

// Attempt records one HTTP round trip.
type Attempt struct {
	Number     int
	StartedAt  time.Time
	Duration   time.Duration
	Outcome    Outcome
	StatusCode int
	UserAgent  string
	Err        error
}

// ErrExhausted is wrapped by every terminal requester failure.
var ErrExhausted = errors.New("request attempts exhausted")

// ExhaustedError carries the attempt log of a failed request.
type ExhaustedError struct {
	URL      string
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	last := OutcomePending
	if n := len(e.Attempts); n > 0 {
		last = e.Attempts[n-1].Outcome
	}
	return fmt.Sprintf("%s after %d attempts (last outcome %s)", ErrExhausted, len(e.Attempts), last)
}

// Unwrap lets errors.Is match ErrExhausted.
func (e *ExhaustedError) Unwrap() error {
	return ErrExhausted
}

// LastOutcome returns the outcome of the final attempt.
func (e *ExhaustedError) LastOutcome() Outcome {
	if len(e.Attempts) == 0 {
		return OutcomePending
	}
	return e.Attempts[len(e.Attempts)-1].Outcome
}

func (r *Requester) classify(resp Response, err error) Outcome {
	if err != nil {
		if isTimeout(err) {
			return OutcomeTimeout
		}
		return OutcomeNetworkError
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return OutcomeRateLimited
	case http.StatusForbidden, http.StatusServiceUnavailable:
		return OutcomeBlocked
	case http.StatusOK:
		if !isJSON(resp.Header.Get("Content-Type")) && r.detector.Blocked(resp.Body) {
			return OutcomeBlocked
		}
	}
	return OutcomeSuccess
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
