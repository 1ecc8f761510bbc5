package trace

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/safety"
)

func TestRecordAssignsIDAndTimestamp(t *testing.T) {
	collector, err := NewCollector(Config{})
	require.NoError(t, err)

	sample := collector.Record(context.Background(), Sample{
		BatchSize: 2,
		Decision:  safety.StatusApproved,
		RiskLevel: safety.RiskLow,
		Outcome:   OutcomeExecuted,
		Duration:  40 * time.Millisecond,
	})

	assert.NotEmpty(t, sample.ID)
	assert.False(t, sample.At.IsZero())

	stored, ok := collector.Lookup(sample.ID)
	require.True(t, ok)
	assert.Equal(t, OutcomeExecuted, stored.Outcome)
}

func TestRecentBoundedAndOrdered(t *testing.T) {
	collector, err := NewCollector(Config{})
	require.NoError(t, err)

	for i := 0; i < recentSampleCap+50; i++ {
		collector.Record(context.Background(), Sample{
			ID:      fmt.Sprintf("s-%d", i),
			Outcome: OutcomeHeld,
		})
	}

	recent := collector.Recent()
	require.Len(t, recent, recentSampleCap)
	// Oldest retained sample first; the first 50 were evicted.
	assert.Equal(t, "s-50", recent[0].ID)
	assert.Equal(t, fmt.Sprintf("s-%d", recentSampleCap+49), recent[len(recent)-1].ID)
}

func TestHandlerServesRecordedMetrics(t *testing.T) {
	collector, err := NewCollector(Config{Enabled: true})
	require.NoError(t, err)

	collector.Record(context.Background(), Sample{
		BatchSize: 1,
		Decision:  safety.StatusApproved,
		RiskLevel: safety.RiskLow,
		Outcome:   OutcomeExecuted,
		Duration:  10 * time.Millisecond,
	})

	recorder := httptest.NewRecorder()
	collector.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "aegis_gate_batches")
	assert.Contains(t, recorder.Body.String(), "aegis_gate_latency")
}

func TestDisabledCollectorStillRetainsSamples(t *testing.T) {
	collector, err := NewCollector(Config{Enabled: false})
	require.NoError(t, err)

	collector.Record(context.Background(), Sample{ID: "x", Outcome: OutcomeRolledBack})

	_, ok := collector.Lookup("x")
	assert.True(t, ok)
}
