package httpclient

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy controls when to retry after a response. Used by DoWithRetry.
type RetryPolicy struct {
	// Retry429: on 429 Too Many Requests (and 423/408, which several IPTV
	// panels use the same way), wait Retry-After (capped at MaxWait) and
	// retry once.
	Retry429 bool
	MaxWait  time.Duration // cap on Retry-After wait (e.g. 60s)
	// Retry5xx: on 5xx, wait Backoff5xx and retry once.
	Retry5xx   bool
	Backoff5xx time.Duration
}

// SourceRetryPolicy is what the source adapters use: retry 429-class (cap
// 60s) and 5xx (2s backoff). Preflight probes pass a zero policy instead so
// failures classify fast.
var SourceRetryPolicy = RetryPolicy{
	Retry429:   true,
	MaxWait:    60 * time.Second,
	Retry5xx:   true,
	Backoff5xx: 2 * time.Second,
}

// rateLimitedStatus reports 429-class statuses: panels answer 423 (locked)
// and 408 interchangeably with 429 when throttling catalog requests.
func rateLimitedStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusLocked || code == http.StatusRequestTimeout
}

// DoWithRetry performs req and on 429-class/5xx (when policy allows) waits
// and retries once. Other 4xx are never retried. Caller must close
// resp.Body when err == nil.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, policy RetryPolicy) (*http.Response, error) {
	if client == nil {
		client = Default()
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	code := resp.StatusCode
	switch {
	case code == http.StatusOK:
		return resp, nil
	case rateLimitedStatus(code) && policy.Retry429:
		wait := parseRetryAfter(resp.Header.Get("Retry-After"), policy.MaxWait)
		return retryAfter(ctx, client, req, resp, wait)
	case code >= 500 && policy.Retry5xx:
		return retryAfter(ctx, client, req, resp, policy.Backoff5xx)
	default:
		return resp, nil
	}
}

// retryAfter drains the failed response, waits, and re-issues the request
// once. The request is rebuilt because the original body (if any) was
// already consumed.
func retryAfter(ctx context.Context, client *http.Client, req *http.Request, failed *http.Response, wait time.Duration) (*http.Response, error) {
	_, _ = io.Copy(io.Discard, failed.Body)
	failed.Body.Close()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
	}
	req2, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Header {
		req2.Header[k] = v
	}
	return client.Do(req2)
}

// parseRetryAfter parses Retry-After (seconds or HTTP-date); returns
// duration capped at max.
func parseRetryAfter(s string, max time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 1 * time.Second
	}
	if sec, err := strconv.Atoi(s); err == nil && sec >= 0 {
		d := time.Duration(sec) * time.Second
		if d > max {
			return max
		}
		return d
	}
	// RFC 1123 date
	t, err := time.Parse(time.RFC1123, s)
	if err != nil {
		return 1 * time.Second
	}
	until := time.Until(t)
	if until <= 0 {
		return 0
	}
	if until > max {
		return max
	}
	return until
}
