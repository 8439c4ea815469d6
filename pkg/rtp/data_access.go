// Data-access iteration (component C8 extension): a stable, locked
// walk over the source table for a consumer that wants to pull
// buffered packets explicitly, mirroring RTPSession's
// BeginDataAccess/GotoFirstSource/GetNextPacket cursor rather than
// relying solely on the OnPacketReceived callback.
package rtp

import (
	"fmt"
	"sort"
)

// maxQueuedPacketsPerSource bounds the per-source backlog of accepted
// RTP packets awaiting GetNextPacket, so a consumer that never drains
// the queue doesn't leak memory; oldest packets are dropped first.
const maxQueuedPacketsPerSource = 64

// dataAccessCursor walks a stable snapshot of SSRCs taken at
// BeginDataAccess time, so a source appearing or timing out mid-walk
// never invalidates an iteration already in progress.
type dataAccessCursor struct {
	ssrcs []uint32
	pos   int
}

// BeginDataAccess locks the table for iteration via
// GotoFirstSource/GotoNextSource/GetNextPacket. Must be paired with a
// later EndDataAccess; calling it again before that pairing completes
// is a StateError rather than a deadlock, per §7's "recursive
// BeginDataAccess" error case.
func (t *SourceTable) BeginDataAccess() error {
	if !t.accessMu.TryLock() {
		return newErr(ErrState, "SourceTable.BeginDataAccess", fmt.Errorf("recursive BeginDataAccess"))
	}
	t.mu.RLock()
	ssrcs := make([]uint32, 0, len(t.sources))
	for ssrc := range t.sources {
		ssrcs = append(ssrcs, ssrc)
	}
	t.mu.RUnlock()
	sort.Slice(ssrcs, func(i, j int) bool { return ssrcs[i] < ssrcs[j] })
	t.cursor = dataAccessCursor{ssrcs: ssrcs, pos: -1}
	return nil
}

// EndDataAccess releases the lock taken by BeginDataAccess.
func (t *SourceTable) EndDataAccess() {
	t.cursor = dataAccessCursor{}
	t.accessMu.Unlock()
}

// GotoFirstSource repositions the cursor at the first source in the
// BeginDataAccess snapshot, returning false if there are none.
func (t *SourceTable) GotoFirstSource() bool {
	if len(t.cursor.ssrcs) == 0 {
		return false
	}
	t.cursor.pos = 0
	return true
}

// GotoNextSource advances the cursor, returning false once the
// snapshot is exhausted.
func (t *SourceTable) GotoNextSource() bool {
	if t.cursor.pos+1 >= len(t.cursor.ssrcs) {
		return false
	}
	t.cursor.pos++
	return true
}

// GotoFirstSourceWithData positions the cursor at the first source
// that currently has at least one buffered, unread RTP packet.
func (t *SourceTable) GotoFirstSourceWithData() bool {
	if !t.GotoFirstSource() {
		return false
	}
	if t.currentHasData() {
		return true
	}
	return t.GotoNextSourceWithData()
}

// GotoNextSourceWithData advances the cursor to the next source that
// has buffered data, skipping any with an empty queue.
func (t *SourceTable) GotoNextSourceWithData() bool {
	for t.GotoNextSource() {
		if t.currentHasData() {
			return true
		}
	}
	return false
}

// CurrentSourceSSRC returns the SSRC the cursor currently points at.
func (t *SourceTable) CurrentSourceSSRC() (uint32, bool) {
	if t.cursor.pos < 0 || t.cursor.pos >= len(t.cursor.ssrcs) {
		return 0, false
	}
	return t.cursor.ssrcs[t.cursor.pos], true
}

func (t *SourceTable) currentHasData() bool {
	ssrc, ok := t.CurrentSourceSSRC()
	if !ok {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	src, ok := t.sources[ssrc]
	return ok && len(src.packets) > 0
}

// GetNextPacket dequeues and returns the oldest buffered RTP packet
// for the source the cursor currently points at, or nil if none is
// queued. The caller takes ownership of the returned packet; there is
// no separate "free" step in this implementation.
func (t *SourceTable) GetNextPacket() *Packet {
	ssrc, ok := t.CurrentSourceSSRC()
	if !ok {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	src, ok := t.sources[ssrc]
	if !ok || len(src.packets) == 0 {
		return nil
	}
	pkt := src.packets[0]
	src.packets = src.packets[1:]
	return pkt
}

// enqueuePacket buffers an accepted packet for later retrieval through
// GetNextPacket, trimming the oldest entries once the per-source cap
// is exceeded.
func (t *SourceTable) enqueuePacket(ssrc uint32, pkt *Packet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	src, ok := t.sources[ssrc]
	if !ok {
		return
	}
	src.packets = append(src.packets, pkt)
	if len(src.packets) > maxQueuedPacketsPerSource {
		src.packets = src.packets[len(src.packets)-maxQueuedPacketsPerSource:]
	}
}
