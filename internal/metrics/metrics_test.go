package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := New()

	c.SessionStarted()
	c.SessionStarted()
	c.GuessEvaluated(models.OutcomeCorrect)
	c.GuessEvaluated(models.OutcomeWrong)
	c.GuessEvaluated(models.OutcomeCorrect)
	c.VersionConflict()
	c.SessionEnded(3)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.sessionsStarted))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.sessionsEnded))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.guesses.WithLabelValues("CORRECT")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.guesses.WithLabelValues("WRONG")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.versionConflicts))
}

func TestHandlerExposesGauges(t *testing.T) {
	c := New()
	rooms := 4
	c.RegisterGauge("active_rooms", "Live rooms.", func() float64 { return float64(rooms) })
	c.ObserveRequest("GET", "/health", "200")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, "trueswiftie_active_rooms 4"), text)
	assert.Contains(t, text, `trueswiftie_http_requests_total{code="200",method="GET",route="/health"} 1`)
}
