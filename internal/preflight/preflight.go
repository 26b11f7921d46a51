// Package preflight probes an upstream before a scan starts and classifies
// failures into the two classes the caller cares about: credentials dead
// (terminal — surface "re-authentication required", do not retry) versus
// connectivity trouble (transient — the external scheduler should retry
// later). Probes run against the cheapest authenticated endpoint each
// upstream has.
package preflight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mediafold/catalogsync/internal/httpclient"
)

// ErrAuthRequired means the upstream rejected our credentials. The whole
// scan for that source must fail without retry.
var ErrAuthRequired = errors.New("preflight: re-authentication required")

// ErrUnreachable means the upstream did not answer usefully (timeout, DNS,
// 5xx). The caller-facing contract is "retry later".
var ErrUnreachable = errors.New("preflight: provider unreachable")

// Status classifies one probe.
type Status string

const (
	StatusOK         Status = "ok"
	StatusAuthFailed Status = "auth_failed"
	StatusTimeout    Status = "timeout"
	StatusBadStatus  Status = "bad_status"
	StatusError      Status = "error"
)

// Result is the outcome of probing one upstream endpoint.
type Result struct {
	URL        string
	Status     Status
	StatusCode int
	LatencyMs  int64
}

// Err maps a probe result onto the classified sentinel errors. OK maps to
// nil.
func (r Result) Err() error {
	switch r.Status {
	case StatusOK:
		return nil
	case StatusAuthFailed:
		return fmt.Errorf("%w (HTTP %d from %s)", ErrAuthRequired, r.StatusCode, r.URL)
	default:
		return fmt.Errorf("%w (%s, HTTP %d from %s)", ErrUnreachable, r.Status, r.StatusCode, r.URL)
	}
}

// ProbePlayerAPI hits player_api.php?username=&password= on the base URL.
// An Xtream panel answers 200 with a user_info blob; auth:0 inside it (or a
// 401/403) means the subscription is dead, which is terminal. Anything
// timeout-shaped is retryable.
func ProbePlayerAPI(ctx context.Context, baseURL, user, pass string, client *http.Client) Result {
	baseURL = strings.TrimSuffix(baseURL, "/")
	probeURL := baseURL + "/player_api.php?username=" + url.QueryEscape(user) + "&password=" + url.QueryEscape(pass)
	if client == nil {
		client = httpclient.WithTimeout(15 * time.Second)
	}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return Result{URL: probeURL, Status: StatusError, LatencyMs: time.Since(start).Milliseconds()}
	}
	req.Header.Set("User-Agent", "CatalogSync/1.0")
	resp, err := client.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		if isTimeout(err) {
			return Result{URL: probeURL, Status: StatusTimeout, LatencyMs: latency}
		}
		return Result{URL: probeURL, Status: StatusError, LatencyMs: latency}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return Result{URL: probeURL, Status: StatusAuthFailed, StatusCode: resp.StatusCode, LatencyMs: latency}
	case http.StatusOK:
		// fall through to body inspection
	default:
		return Result{URL: probeURL, Status: StatusBadStatus, StatusCode: resp.StatusCode, LatencyMs: latency}
	}

	var body struct {
		UserInfo *struct {
			Auth   any    `json:"auth"`
			Status string `json:"status"`
		} `json:"user_info"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{URL: probeURL, Status: StatusBadStatus, StatusCode: resp.StatusCode, LatencyMs: latency}
	}
	if body.UserInfo == nil {
		return Result{URL: probeURL, Status: StatusBadStatus, StatusCode: resp.StatusCode, LatencyMs: latency}
	}
	if !authOK(body.UserInfo.Auth) || strings.EqualFold(body.UserInfo.Status, "Expired") ||
		strings.EqualFold(body.UserInfo.Status, "Disabled") {
		return Result{URL: probeURL, Status: StatusAuthFailed, StatusCode: resp.StatusCode, LatencyMs: latency}
	}
	return Result{URL: baseURL, Status: StatusOK, StatusCode: resp.StatusCode, LatencyMs: latency}
}

// ProbeArchive hits the archive's authenticated self endpoint with the
// bearer token. 401/403 is terminal; timeouts and 5xx are retryable.
func ProbeArchive(ctx context.Context, baseURL, token string, client *http.Client) Result {
	baseURL = strings.TrimSuffix(baseURL, "/")
	probeURL := baseURL + "/api/v1/me"
	if client == nil {
		client = httpclient.WithTimeout(15 * time.Second)
	}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return Result{URL: probeURL, Status: StatusError, LatencyMs: time.Since(start).Milliseconds()}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", "CatalogSync/1.0")
	resp, err := client.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		if isTimeout(err) {
			return Result{URL: probeURL, Status: StatusTimeout, LatencyMs: latency}
		}
		return Result{URL: probeURL, Status: StatusError, LatencyMs: latency}
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{URL: probeURL, Status: StatusAuthFailed, StatusCode: resp.StatusCode, LatencyMs: latency}
	case resp.StatusCode != http.StatusOK:
		return Result{URL: probeURL, Status: StatusBadStatus, StatusCode: resp.StatusCode, LatencyMs: latency}
	default:
		return Result{URL: baseURL, Status: StatusOK, StatusCode: resp.StatusCode, LatencyMs: latency}
	}
}

// authOK interprets the Xtream auth flag, which panels serialise as a
// number, a numeric string, or a bool depending on the panel software.
func authOK(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x == 1
	case string:
		return x == "1" || strings.EqualFold(x, "true")
	case nil:
		// Some panels omit auth entirely and rely on user_info presence.
		return true
	}
	return false
}

// isTimeout reports whether a transport error is timeout-shaped. The stdlib
// client surfaces its deadline in more than one textual form ("Client.Timeout
// exceeded", "context deadline exceeded"), so ask the error itself first and
// keep the substring check for wrappers that lose the net.Error chain.
func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "timeout") || strings.Contains(s, "deadline")
}
