package observability

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestModuleMetricsObserve(t *testing.T) {
	m := ModuleMetrics()
	route := "/v1/test-" + t.Name()

	m.Observe("listings", route, http.StatusOK, 5*time.Millisecond)
	m.Observe("listings", route, http.StatusConflict, time.Millisecond)
	m.Observe("listings", route, http.StatusConflict, time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("listings", route, "success")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("listings", route, "error")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.errors.WithLabelValues("listings", route, "409")))
}

func TestModuleMetricsInflightAndThrottle(t *testing.T) {
	m := ModuleMetrics()
	module := "inflight-" + t.Name()

	done := m.Begin(module)
	require.Equal(t, 1.0, testutil.ToFloat64(m.inflight.WithLabelValues(module)))
	done()
	require.Equal(t, 0.0, testutil.ToFloat64(m.inflight.WithLabelValues(module)))

	m.RecordThrottle(module, " ")
	require.Equal(t, 1.0, testutil.ToFloat64(m.throttles.WithLabelValues(module, "unspecified")))
}

func TestEventMetrics(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.dropped)
	m.RecordDropped(0)
	m.RecordDropped(3)
	require.Equal(t, before+3, testutil.ToFloat64(m.dropped))

	m.RecordPublished(" Marketplace.Test ")
	require.GreaterOrEqual(t, testutil.ToFloat64(m.published.WithLabelValues("marketplace.test")), 1.0)

	var nilMetrics *moduleMetrics
	nilMetrics.Observe("x", "y", 200, 0)
	nilMetrics.Begin("x")()
}
