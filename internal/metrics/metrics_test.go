package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Claim(ClaimWon)
	m.Claim(ClaimTaken)
	m.Claim(ClaimTaken)
	m.RelayFailure("new-message")
	m.Duplicate("change_feed")
	m.Superseded()
	m.StreamRecord("messages", "INSERT")

	require.Equal(t, 1.0, testutil.ToFloat64(m.ClaimsTotal.WithLabelValues(ClaimWon)))
	require.Equal(t, 2.0, testutil.ToFloat64(m.ClaimsTotal.WithLabelValues(ClaimTaken)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.RelayPublishFailures.WithLabelValues("new-message")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.TimelineDuplicates.WithLabelValues("change_feed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ProvisionalSuperseded))
	require.Equal(t, 1.0, testutil.ToFloat64(m.StreamRecords.WithLabelValues("messages", "INSERT")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.Claim(ClaimWon)
		m.RelayFailure("x")
		m.Duplicate("relay")
		m.Superseded()
		m.StreamRecord("t", "op")
	})
}

func TestNew_SeparateRegistries(t *testing.T) {
	require.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
