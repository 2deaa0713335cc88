package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.SetConnections(3)
	pr.IncDelivered("tip-sent")
	pr.IncDelivered("tip-sent")
	pr.IncDropped(DropSlowConsumer)
	pr.IncSuppressed("vote-casted")
	pr.SetQueueDepth(7)

	assert.Equal(t, 3.0, testutil.ToFloat64(pr.connections))
	assert.Equal(t, 2.0, testutil.ToFloat64(pr.delivered.WithLabelValues("tip-sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.suppressed.WithLabelValues("vote-casted")))
	assert.Equal(t, 7.0, testutil.ToFloat64(pr.queueDepth))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestHTTPHandler(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.IncEvicted()

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "overlay_queue_evicted_total")
}
