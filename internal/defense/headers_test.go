package defense

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/jo-hoe/guestbook/internal/common"
)

func TestSecureHeaders(t *testing.T) {
	cfg := DefaultHeaderConfig()
	cfg.Extra = map[string]string{"Permissions-Policy": "camera=()"}

	e := echo.New()
	e.Use(SecureHeaders(cfg)...)
	e.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	h := rec.Header()
	assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", h.Get("X-Frame-Options"))
	assert.Equal(t, "max-age=31536000; includeSubDomains", h.Get("Strict-Transport-Security"))
	assert.Equal(t, cfg.ContentSecurityPolicy, h.Get("Content-Security-Policy"))
	assert.Equal(t, "no-referrer", h.Get("Referrer-Policy"))
	assert.Equal(t, "camera=()", h.Get("Permissions-Policy"))
}

func TestSecureHeaders_OnErrors(t *testing.T) {
	e := echo.New()
	e.Use(SecureHeaders(DefaultHeaderConfig())...)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestSuspiciousHeaders(t *testing.T) {
	tests := []struct {
		name    string
		policy  SuspiciousHeaderPolicy
		headers map[string]string
		status  int
		counted bool
	}{
		{name: "clean request", policy: SuspiciousLog, status: http.StatusOK},
		{name: "logged", policy: SuspiciousLog, headers: map[string]string{"x-forwarded-for": "10.0.0.1"}, status: http.StatusOK, counted: true},
		{name: "blocked", policy: SuspiciousBlock, headers: map[string]string{"Via": "1.1 proxy"}, status: http.StatusBadRequest, counted: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := common.NewMetrics(nil)
			e := echo.New()
			e.Use(SuspiciousHeaders(DefaultSuspiciousHeaders(), tt.policy, metrics))
			e.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			total := 0.0
			for _, name := range DefaultSuspiciousHeaders() {
				total += testutil.ToFloat64(metrics.SuspiciousHeaders.WithLabelValues(http.CanonicalHeaderKey(name)))
			}
			assert.Equal(t, tt.counted, total > 0)
		})
	}
}

func TestIPExtractor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.5")

	assert.Equal(t, "10.0.0.2", IPExtractor(false)(req))
	assert.Equal(t, "203.0.113.5", IPExtractor(true)(req))
}
