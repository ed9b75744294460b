package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/dealer-gatherer/internal/metrics"
	"github.com/JakeFAU/dealer-gatherer/internal/transport"
)

const (
	robotsFallbackReasonTLSHandshake = "tls_handshake_timeout"
	robotsFallbackReasonFetch        = "fetch_error"
	maxRobotsBytes                   = 512 << 10
)

var robotsRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

var errRobotsIndeterminate = errors.New("robots.txt indeterminate")

// DownloadRobotRules fetches root/robots.txt. Transient failures defer the crawl rather
// than granting or denying access.
func (f *Fetcher) DownloadRobotRules(ctx context.Context, root string) (transport.RobotRules, error) {
	robotsURL, err := robotsLocation(root)
	if err != nil {
		return transport.RobotRules{}, err
	}
	client := &http.Client{
		Transport: &robotsAwareTransport{base: f.transport},
		Timeout:   f.cfg.Timeout,
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return transport.RobotRules{}, fmt.Errorf("build robots request: %w", err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return transport.RobotRules{}, fmt.Errorf("robots fetch canceled: %w", ctxErr)
		}
		reason := robotsFallbackReasonFetch
		if errors.Is(err, errRobotsIndeterminate) {
			reason = robotsFallbackReasonTLSHandshake
		}
		f.logger.Warn("robots.txt unavailable, deferring", zap.String("url", robotsURL), zap.Error(err))
		metrics.ObserveRobotsFallback(reason)
		return transport.RobotRules{Defer: true}, nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		metrics.ObserveRobotsFallback(robotsFallbackReasonFetch)
		return transport.RobotRules{Defer: true}, nil
	}
	return transport.ParseRobots(resp.StatusCode, body, f.userAgentToken()), nil
}

func (f *Fetcher) userAgentToken() string {
	agent := f.cfg.UserAgent
	if agent == "" {
		return "*"
	}
	if i := strings.IndexAny(agent, "/ "); i > 0 {
		return agent[:i]
	}
	return agent
}

func robotsLocation(root string) (string, error) {
	u, err := url.Parse(root)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("robots root %q: invalid url", root)
	}
	return u.Scheme + "://" + u.Host + "/robots.txt", nil
}

type robotsAwareTransport struct {
	base http.RoundTripper
}

func (t *robotsAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if !isRobotsTxtRequest(req) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("robots transport base roundtrip: %w", err)
		}
		return resp, nil
	}
	return roundTripWithRetry(req, t.base)
}

func isRobotsTxtRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return strings.EqualFold(req.URL.Path, "/robots.txt")
}

func roundTripWithRetry(req *http.Request, base http.RoundTripper) (*http.Response, error) {
	maxAttempts := len(robotsRetryBackoff) + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isTransientTLSError(err) || req.Context().Err() != nil {
			return nil, fmt.Errorf("robots roundtrip non-transient: %w", err)
		}
		if attempt == maxAttempts-1 {
			return nil, fmt.Errorf("%w: %w", errRobotsIndeterminate, err)
		}
		if err := sleepWithContext(req.Context(), robotsRetryBackoff[attempt]); err != nil {
			return nil, fmt.Errorf("robots roundtrip backoff sleep: %w", err)
		}
	}
	return nil, errRobotsIndeterminate
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff sleep context: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func isTransientTLSError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
