package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/kairosauth"
	"github.com/MrEthical07/kairosauth/metrics/export/internaldefs"
)

type fakeSource struct {
	snapshot kairosauth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() kairosauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                        { return f.dropped }

func TestCollectorCounters(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: kairosauth.MetricsSnapshot{
			Counters: map[kairosauth.MetricID]uint64{
				kairosauth.MetricLoginSuccess:              7,
				kairosauth.MetricTwoFactorAttemptsExceeded: 2,
			},
			Histograms: map[kairosauth.MetricID][]uint64{},
		},
		dropped: 3,
	})

	require.Equal(t, len(internaldefs.CounterDefs)+1, testutil.CollectAndCount(c))

	expected := `
# HELP kairos_login_success_total Logins that ended with an established session.
# TYPE kairos_login_success_total counter
kairos_login_success_total 7
# HELP kairos_two_factor_attempts_exceeded_total Pending logins destroyed after too many failed codes.
# TYPE kairos_two_factor_attempts_exceeded_total counter
kairos_two_factor_attempts_exceeded_total 2
# HELP kairos_audit_dropped_total Audit events dropped because the dispatcher queue was full.
# TYPE kairos_audit_dropped_total counter
kairos_audit_dropped_total 3
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"kairos_login_success_total",
		"kairos_two_factor_attempts_exceeded_total",
		"kairos_audit_dropped_total",
	))
}

func TestCollectorHistogramIsCumulative(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: kairosauth.MetricsSnapshot{
			Counters: map[kairosauth.MetricID]uint64{},
			Histograms: map[kairosauth.MetricID][]uint64{
				kairosauth.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
	})

	expected := `
# HELP kairos_validate_latency_seconds Session validation latency.
# TYPE kairos_validate_latency_seconds histogram
kairos_validate_latency_seconds_bucket{le="0.005"} 1
kairos_validate_latency_seconds_bucket{le="0.01"} 3
kairos_validate_latency_seconds_bucket{le="0.025"} 6
kairos_validate_latency_seconds_bucket{le="0.05"} 10
kairos_validate_latency_seconds_bucket{le="0.1"} 15
kairos_validate_latency_seconds_bucket{le="0.25"} 21
kairos_validate_latency_seconds_bucket{le="0.5"} 28
kairos_validate_latency_seconds_bucket{le="+Inf"} 36
kairos_validate_latency_seconds_sum 0
kairos_validate_latency_seconds_count 36
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "kairos_validate_latency_seconds"))
}

func TestCollectorRegistersCleanly(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollectorFromSource(fakeSource{})))
}

func TestHandlerServesEngineMetrics(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: kairosauth.MetricsSnapshot{
			Counters: map[kairosauth.MetricID]uint64{kairosauth.MetricSessionCreated: 4},
		},
	})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "kairos_session_created_total 4")
}
