package rtp_test

import (
	"sync"
	"testing"
	"time"

	"github.com/arzzra/grtprt/pkg/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests exist to be run under `go test -race`: each hammers a
// shared value from many goroutines at once. They assert observable
// invariants (no duplicate sequence numbers, no lost sources) rather
// than timing, since the point is absence of a data race, not speed.

func TestPacketBuilderConcurrentBuildProducesUniqueSequenceNumbers(t *testing.T) {
	b := rtp.NewPacketBuilder(0x1234, 0, 8000, rtp.NewRandomSource(), nil, nil)

	const goroutines = 32
	const perGoroutine = 50
	seqs := make(chan uint16, goroutines*perGoroutine)

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				_, pkt, err := b.Build([]byte("x"), 160, rtp.BuildOptions{})
				assert.NoError(t, err)
				seqs <- pkt.SequenceNumber
			}
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[uint16]bool)
	count := 0
	for s := range seqs {
		require.False(t, seen[s], "sequence number %d produced twice", s)
		seen[s] = true
		count++
	}
	assert.Equal(t, goroutines*perGoroutine, count)
	assert.EqualValues(t, goroutines*perGoroutine, b.PacketsSent())
}

func TestSourceTableConcurrentOnRTPPacketAcrossManySSRCs(t *testing.T) {
	var mu sync.Mutex
	added := make(map[uint32]bool)
	table := rtp.NewSourceTable(rtp.SourceTableConfig{
		OnSourceAdded: func(src *rtp.RemoteSource) {
			mu.Lock()
			added[src.SSRC] = true
			mu.Unlock()
		},
	})

	const sources = 20
	const packetsPerSource = 10
	var wg sync.WaitGroup
	wg.Add(sources)
	for s := 0; s < sources; s++ {
		ssrc := uint32(0x5000 + s)
		from := &rtp.IPv4Address{IP: [4]byte{127, 0, 0, 1}, Port: uint16(6000 + s)}
		go func(ssrc uint32, from rtp.Address) {
			defer wg.Done()
			for i := 0; i < packetsPerSource; i++ {
				table.OnRTPPacket(ssrc, uint16(i), uint32(i*160), 160, from, time.Now(), 8000)
			}
		}(ssrc, from)
	}
	wg.Wait()

	assert.Equal(t, sources, table.Count())
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, added, sources)
}

func TestLoggerConcurrentUseFromManyGoroutines(t *testing.T) {
	logger := rtp.NewDiscardLogger()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			component := logger.WithComponent("worker").WithSSRC(uint32(i))
			for j := 0; j < 20; j++ {
				component.Info("tick", rtp.Int("j", j))
			}
		}(i)
	}
	wg.Wait()
}
