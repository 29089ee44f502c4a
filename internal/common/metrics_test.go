package common

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_CountsAndServes(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.UploadRejections.WithLabelValues("extension").Inc()
	m.UploadRejections.WithLabelValues("extension").Inc()
	m.RateLimited.WithLabelValues("write").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.UploadRejections.WithLabelValues("extension")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimited.WithLabelValues("write")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `guestbook_upload_rejections_total{reason="extension"} 2`))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}

func TestNewMetrics_NilRegistry(t *testing.T) {
	m := NewMetrics(nil)
	require.NotNil(t, m.Registry())
	m.EntriesSaved.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntriesSaved))
}
