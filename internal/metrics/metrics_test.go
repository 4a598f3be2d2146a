package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	m := New()
	m.SessionArchived(ReasonIdle)
	m.SessionArchived(ReasonIdle)
	m.ReferralOutcome(OutcomeSent)
	m.EscalationSuggested()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsArchivedTotal.WithLabelValues(ReasonIdle)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReferralsTotal.WithLabelValues(OutcomeSent)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EscalationsTotal))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SessionArchived(ReasonResume)
	m.ReferralOutcome(OutcomeFailed)
	m.AICompletion("ok")
	m.EscalationSuggested()
	m.RecordHTTPRequest(http.MethodGet, http.StatusOK, time.Millisecond)
	assert.Nil(t, m.Registry())
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.AICompletion("ok")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), `otai_ai_completions_total{outcome="ok"} 1`))
}
