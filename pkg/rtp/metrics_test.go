package rtp_test

import (
	"testing"
	"time"

	"github.com/arzzra/grtprt/pkg/rtp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherCounter(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		var total float64
		for _, m := range family.Metric {
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
		}
		return total
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func gatherGauge(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.Metric {
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func counterVecTotal(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		var total float64
		for _, m := range family.Metric {
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
		}
		return total
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestMetricsObserveSendAndReceiveIncrementCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := rtp.NewMetrics(rtp.MetricsConfig{Namespace: "test", Subsystem: "sendrecv", Registerer: reg})

	metrics.ObserveSend(160)
	metrics.ObserveSend(160)
	metrics.ObserveReceive(80)

	assert.Equal(t, float64(2), gatherCounter(t, reg, "test_sendrecv_packets_sent_total"))
	assert.Equal(t, float64(320), gatherCounter(t, reg, "test_sendrecv_bytes_sent_total"))
	assert.Equal(t, float64(1), gatherCounter(t, reg, "test_sendrecv_packets_received_total"))
	assert.Equal(t, float64(80), gatherCounter(t, reg, "test_sendrecv_bytes_received_total"))
}

func TestMetricsObserveRTCPSentLabelsByLeadingType(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := rtp.NewMetrics(rtp.MetricsConfig{Namespace: "test", Subsystem: "rtcp", Registerer: reg})

	metrics.ObserveRTCPSent("sr", 5*time.Second)
	metrics.ObserveRTCPSent("rr", 5*time.Second)
	metrics.ObserveRTCPSent("rr", 5*time.Second)

	assert.Equal(t, float64(3), counterVecTotal(t, reg, "test_rtcp_rtcp_sent_total"))
}

func TestMetricsObserveSessionStatisticsSetsGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := rtp.NewMetrics(rtp.MetricsConfig{Namespace: "test", Subsystem: "stats", Registerer: reg})

	sources := map[uint32]rtp.RemoteSource{
		1: {Stats: rtp.SourceStatistics{Jitter: 12.5, PacketsLost: 3}},
		2: {Stats: rtp.SourceStatistics{Jitter: 4.0, PacketsLost: 1}},
	}
	metrics.ObserveSessionStatistics(rtp.SessionStatistics{}, sources)

	assert.Equal(t, float64(2), gatherGauge(t, reg, "test_stats_sources_active"))
	assert.Equal(t, 12.5, gatherGauge(t, reg, "test_stats_jitter_timestamp_units"))
	assert.Equal(t, float64(4), gatherCounter(t, reg, "test_stats_packets_lost_total"))
}

func TestMetricsAttachWrapsExistingSessionCallbacksWithoutReplacingThem(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := rtp.NewMetrics(rtp.MetricsConfig{Namespace: "test", Subsystem: "attach", Registerer: reg})

	var addedCalls, byeCalls int
	config := &rtp.SessionConfig{
		OnSourceAdded: func(src *rtp.RemoteSource) { addedCalls++ },
		OnBye:         func(src *rtp.RemoteSource, reason string) { byeCalls++ },
	}
	metrics.Attach(config)

	config.OnSourceAdded(&rtp.RemoteSource{})
	config.OnBye(&rtp.RemoteSource{}, "done")

	assert.Equal(t, 1, addedCalls)
	assert.Equal(t, 1, byeCalls)
	assert.Equal(t, float64(1), gatherGauge(t, reg, "test_attach_sources_active"))
	assert.Equal(t, float64(1), gatherCounter(t, reg, "test_attach_bye_received_total"))
}

func TestSessionWithMetricsObservesRealTraffic(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := rtp.NewMetrics(rtp.MetricsConfig{Namespace: "test", Subsystem: "session", Registerer: reg})

	transportA, transportB, _, _ := newLoopbackPair(t)

	sessionB, err := rtp.NewSession(rtp.SessionConfig{
		PayloadType: rtp.PayloadTypePCMU,
		Transport:   transportB,
		Direction:   rtp.DirectionRecvOnly,
	})
	require.NoError(t, err)
	sessionA, err := rtp.NewSession(rtp.SessionConfig{
		PayloadType: rtp.PayloadTypePCMU,
		Transport:   transportA,
		Direction:   rtp.DirectionSendOnly,
		Metrics:     metrics,
	})
	require.NoError(t, err)

	require.NoError(t, sessionA.Start())
	require.NoError(t, sessionB.Start())
	defer sessionA.Stop()
	defer sessionB.Stop()

	require.NoError(t, sessionA.SendAudio(make([]byte, 160), 20*time.Millisecond))
	require.NoError(t, sessionA.SendAudio(make([]byte, 160), 20*time.Millisecond))

	require.Eventually(t, func() bool {
		return gatherCounter(t, reg, "test_session_packets_sent_total") == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(320), gatherCounter(t, reg, "test_session_bytes_sent_total"))
}
