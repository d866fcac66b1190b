package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheus(reg).(*promCollector)

	c.ConnAccepted()
	c.ConnAccepted()
	c.ConnRejected()
	c.ConnClosed(ReasonTimeout)
	c.ActiveConns(1)
	c.TaskSubmitted("handle-request")
	c.Tick(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.accepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rejected))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.closed.WithLabelValues(ReasonTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.active))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.evicted))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "shlhttp_connections_accepted_total"))
}

func TestNoopCollector(t *testing.T) {
	c := Noop()
	c.ConnAccepted()
	c.ConnClosed(ReasonPeer)
	c.Tick(0)
}
