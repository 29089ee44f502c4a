package defense

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/jo-hoe/guestbook/internal/common"
)

// CooldownMessage is shown when a client exceeds a rate limit.
const CooldownMessage = "Slow down, speedrunner. Requests per minute are capped. Take a sip of water and try again."

const defaultStoreTimeout = 500 * time.Millisecond

// Limiter applies one named policy against a Store. It satisfies echo's
// middleware.RateLimiterStore.
type Limiter struct {
	policy  string
	limits  []Limit
	store   Store
	timeout time.Duration
	metrics *common.Metrics

	// retryAfter carries the denial wait from Allow to the deny handler.
	retryAfter sync.Map
}

func NewLimiter(policy string, limits []Limit, store Store, metrics *common.Metrics) *Limiter {
	if metrics == nil {
		metrics = common.NewMetrics(nil)
	}
	return &Limiter{
		policy:  policy,
		limits:  limits,
		store:   store,
		timeout: defaultStoreTimeout,
		metrics: metrics,
	}
}

// Allow counts one request for identifier. Store failures let the request
// through.
func (l *Limiter) Allow(identifier string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	decision, err := l.store.Allow(ctx, l.policy+":"+identifier, l.limits)
	if err != nil {
		slog.Error("rate limit store unavailable, allowing request",
			"policy", l.policy, "identifier", identifier, "error", err)
		return true, nil
	}
	if !decision.Allowed {
		l.retryAfter.Store(identifier, decision.RetryAfter)
		l.metrics.RateLimited.WithLabelValues(l.policy).Inc()
		slog.Warn("rate limit exceeded", "policy", l.policy, "identifier", identifier,
			"retry_after", decision.RetryAfter)
	}
	return decision.Allowed, nil
}

// Middleware plugs the limiter into echo's rate limiter.
func (l *Limiter) Middleware(skipper middleware.Skipper) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: skipper,
		Store:   l,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return l.deny(c, identifier)
		},
	})
}

func (l *Limiter) deny(c echo.Context, identifier string) error {
	wait := time.Minute
	if v, ok := l.retryAfter.LoadAndDelete(identifier); ok {
		wait = v.(time.Duration)
	}
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
	return c.String(http.StatusTooManyRequests, CooldownMessage)
}
