package rtp_test

import (
	"context"
	"testing"
	"time"

	"github.com/arzzra/grtprt/pkg/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthMonitorReportsHealthyWithNoSources(t *testing.T) {
	transportA, _, _, _ := newLoopbackPair(t)
	session, err := rtp.NewSession(rtp.SessionConfig{
		PayloadType: rtp.PayloadTypePCMU,
		Transport:   transportA,
		Direction:   rtp.DirectionSendOnly,
	})
	require.NoError(t, err)
	require.NoError(t, session.Start())
	defer session.Stop()

	monitor := rtp.NewHealthMonitor(session, rtp.HealthMonitorConfig{})
	status := monitor.GetHealthStatus()

	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, 100, status.QualityScore)
	assert.Empty(t, status.SourceHealth)
}

func TestHealthMonitorFlagsHighJitterSource(t *testing.T) {
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
	})
	require.NoError(t, err)

	require.NoError(t, sessionA.Start())
	require.NoError(t, sessionB.Start())
	defer sessionA.Stop()
	defer sessionB.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, sessionA.SendAudio(make([]byte, 160), 20*time.Millisecond))
	}

	require.Eventually(t, func() bool {
		return len(sessionB.Sources()) == 1
	}, time.Second, 5*time.Millisecond, "sessionB should have discovered sessionA's source")

	monitor := rtp.NewHealthMonitor(sessionB, rtp.HealthMonitorConfig{
		Thresholds: rtp.QualityThresholds{MaxJitter: 0.0001, MaxPacketLoss: 1},
	})
	status := monitor.GetHealthStatus()

	require.Len(t, status.SourceHealth, 1)
	for _, h := range status.SourceHealth {
		assert.Equal(t, "critical", h.JitterStatus)
	}
	assert.NotEqual(t, "healthy", status.Status)
	assert.NotEmpty(t, status.Recommendations)
}

func TestHealthMonitorStartStopIsGraceful(t *testing.T) {
	transportA, _, _, _ := newLoopbackPair(t)
	session, err := rtp.NewSession(rtp.SessionConfig{
		PayloadType: rtp.PayloadTypePCMU,
		Transport:   transportA,
		Direction:   rtp.DirectionSendOnly,
	})
	require.NoError(t, err)
	require.NoError(t, session.Start())
	defer session.Stop()

	monitor := rtp.NewHealthMonitor(session, rtp.HealthMonitorConfig{CheckInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	monitor.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()
	monitor.Stop()
}
