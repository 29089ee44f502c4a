package defense

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/jo-hoe/guestbook/internal/common"
)

type HeaderConfig struct {
	ContentSecurityPolicy string
	ReferrerPolicy        string
	HSTSMaxAge            int
	// Extra headers are set on every response after the standard set.
	Extra map[string]string
}

func DefaultHeaderConfig() HeaderConfig {
	return HeaderConfig{
		ContentSecurityPolicy: "default-src 'self'; img-src 'self'; object-src 'none'; frame-ancestors 'none'; base-uri 'self'; form-action 'self'",
		ReferrerPolicy:        "no-referrer",
		HSTSMaxAge:            31536000,
	}
}

// SecureHeaders attaches the security header set to every response. HSTS is
// sent on plain HTTP too, so it applies as soon as a proxy terminates TLS.
func SecureHeaders(cfg HeaderConfig) []echo.MiddlewareFunc {
	secure := middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "0",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		ContentSecurityPolicy: cfg.ContentSecurityPolicy,
		ReferrerPolicy:        cfg.ReferrerPolicy,
	})

	hsts := ""
	if cfg.HSTSMaxAge > 0 {
		hsts = "max-age=" + strconv.Itoa(cfg.HSTSMaxAge) + "; includeSubDomains"
	}
	extra := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			if hsts != "" {
				h.Set(echo.HeaderStrictTransportSecurity, hsts)
			}
			for k, v := range cfg.Extra {
				h.Set(k, v)
			}
			return next(c)
		}
	}
	return []echo.MiddlewareFunc{secure, extra}
}

type SuspiciousHeaderPolicy string

const (
	SuspiciousLog   SuspiciousHeaderPolicy = "log"
	SuspiciousBlock SuspiciousHeaderPolicy = "block"
)

// DefaultSuspiciousHeaders are proxy identity headers a direct visitor has
// no reason to send.
func DefaultSuspiciousHeaders() []string {
	return []string{
		"X-Forwarded-For",
		"X-Forwarded-Host",
		"X-Real-IP",
		"X-Originating-IP",
		"X-Remote-IP",
		"X-Remote-Addr",
		"X-Client-IP",
		"True-Client-IP",
		"Forwarded",
		"Via",
	}
}

// SuspiciousHeaders logs requests carrying any of the given headers and,
// under the block policy, rejects them with 400.
func SuspiciousHeaders(names []string, policy SuspiciousHeaderPolicy, metrics *common.Metrics) echo.MiddlewareFunc {
	canonical := make([]string, len(names))
	for i, n := range names {
		canonical[i] = http.CanonicalHeaderKey(n)
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var found []string
			for _, name := range canonical {
				if _, ok := c.Request().Header[name]; ok {
					found = append(found, name)
					if metrics != nil {
						metrics.SuspiciousHeaders.WithLabelValues(name).Inc()
					}
				}
			}
			if len(found) == 0 {
				return next(c)
			}

			slog.Warn("suspicious request headers",
				"headers", found,
				"remote_addr", c.Request().RemoteAddr,
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"policy", string(policy))
			if policy == SuspiciousBlock {
				return echo.NewHTTPError(http.StatusBadRequest, "request rejected")
			}
			return next(c)
		}
	}
}

// IPExtractor returns the peer address unless the deployment sits behind a
// trusted proxy, in which case X-Forwarded-For from private ranges is honored.
func IPExtractor(trustProxy bool) echo.IPExtractor {
	if trustProxy {
		return echo.ExtractIPFromXFFHeader()
	}
	return echo.ExtractIPDirect()
}
