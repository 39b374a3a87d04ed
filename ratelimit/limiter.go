// Package ratelimit throttles webhook callers with a fixed-window counter.
// The counter store is pluggable; when it fails the limiter fails open so a
// degraded store never blocks mail ingestion.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-mailroom/core"
)

type Config struct {
	// Limit is the number of requests allowed per client per window.
	Limit int
	// Window is the fixed window length. Counters reset at window
	// boundaries, so bursts across a boundary can briefly see up to twice
	// the limit.
	Window   time.Duration
	Store    core.CounterStore
	Observer *core.Observer
	Now      func() time.Time
}

// FixedWindowLimiter counts requests per client key in aligned windows.
type FixedWindowLimiter struct {
	limit    int
	window   time.Duration
	store    core.CounterStore
	observer *core.Observer
	now      func() time.Time
}

func NewFixedWindowLimiter(cfg Config) (*FixedWindowLimiter, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("ratelimit: counter store is required")
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 100
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &FixedWindowLimiter{
		limit:    limit,
		window:   window,
		store:    cfg.Store,
		observer: cfg.Observer,
		now:      now,
	}, nil
}

// Allow returns a throttled error when the caller identified by clientKey is
// over its window budget. Counter store errors are logged and treated as
// allowed.
func (l *FixedWindowLimiter) Allow(ctx context.Context, clientKey string) error {
	if l == nil || l.store == nil {
		return nil
	}
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		clientKey = "unknown"
	}

	windowStart := l.now().Truncate(l.window)
	count, err := l.store.Increment(ctx, clientKey, windowStart)
	if err != nil {
		if l.observer != nil {
			l.observer.LogWarn(ctx, "rate limiter store degraded, failing open", map[string]any{
				"client_key": clientKey,
				"error":      err.Error(),
			})
		}
		return nil
	}
	if count > l.limit {
		return goerrors.New(
			fmt.Sprintf("ratelimit: client %s exceeded %d requests per window", clientKey, l.limit),
			goerrors.CategoryRateLimit,
		).
			WithCode(http.StatusTooManyRequests).
			WithTextCode(core.MailroomErrorRateLimited).
			WithMetadata(map[string]any{"client_key": clientKey, "count": count})
	}
	return nil
}

// ClientKeyFromRequest derives the limiter key from the caller IP. The
// receiver sits behind a proxy, so the first hop of X-Forwarded-For wins and
// the socket address is the fallback.
func ClientKeyFromRequest(r *http.Request) string {
	if r == nil {
		return "unknown"
	}
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		if first, _, found := strings.Cut(forwarded, ","); found || first != "" {
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}

var _ core.InboundRateLimiter = (*FixedWindowLimiter)(nil)
