package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesTurnMetrics(t *testing.T) {
	RecordTurn("answered", 15*time.Millisecond)
	RecordEscalation(true)
	RecordRetrieval("hit")
	RecordLLMCall("openai", time.Second, false)
	RecordStoreOp("memory", "load", time.Millisecond)
	SetLaneStats(1, 0)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, name := range []string{
		"concierge_turns_total",
		"concierge_escalations_total",
		"concierge_retrievals_total",
		"concierge_llm_calls_total",
		"concierge_store_ops_duration_seconds",
		"concierge_active_lanes",
	} {
		assert.True(t, strings.Contains(body, name), "missing metric %s", name)
	}
}

func TestEnsureRegisteredIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		EnsureRegistered()
		EnsureRegistered()
	})
}
