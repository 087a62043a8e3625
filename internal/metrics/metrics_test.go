package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrapeExposesCounters(t *testing.T) {
	m := New()
	m.HTTPRequests.WithLabelValues("/status", "200").Inc()
	m.ActiveInstances.Set(3)
	m.SetTaskCounts(2, 1, 1, 5, 0)
	m.ToolCalls.WithLabelValues("howell_status").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `howell_http_requests_total{code="200",route="/status"} 1`)
	assert.Contains(t, body, "howell_active_instances 3")
	assert.Contains(t, body, `howell_tasks{status="pending"} 2`)
	assert.Contains(t, body, `howell_tool_calls_total{tool="howell_status"} 1`)
}

func TestIndependentRegistries(t *testing.T) {
	a := New()
	b := New()
	a.ActiveInstances.Set(7)

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.NotContains(t, rec.Body.String(), "howell_active_instances 7")
}
