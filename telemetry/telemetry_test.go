package telemetry

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoopMetricsBeforeInit(t *testing.T) {
	if registry != nil {
		t.Skip("registry already initialized")
	}
	require.Nil(t, GetMetricsHandler())
	InitMetrics()
	StatementsExecuted.With("query", "success").Inc()
	FlushDurationSeconds.Observe(0.1)
	OpenConnections.Inc()
}

func TestMetricsServed(t *testing.T) {
	InitializeTelemetry(true)
	InitMetrics()

	StatementsTranslated.With("insert").Inc()
	AutonumberRenumbers.Add(2)

	h := GetMetricsHandler()
	require.NotNil(t, h)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	require.True(t, strings.Contains(body, `ucanaccess_statements_translated_total{kind="insert"} 1`), body)
	require.True(t, strings.Contains(body, "ucanaccess_autonumber_renumbers_total 2"), body)
}
