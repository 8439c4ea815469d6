// ExternalTransport lets an application inject packets received over
// a channel it owns (a WebSocket relay, a message bus, a test
// harness) into the session without this package knowing anything
// about the underlying wire. Grounded on the same "externally
// collaborating transport" idea as the DTLS transport, generalized to
// an arbitrary send/receive hook pair.
package rtp

import (
	"context"
	"fmt"
	"sync"
)

// SendFunc is supplied by the application to actually move bytes to
// dest (or to every destination, if dest is nil).
type SendFunc func(raw []byte, dest Address) error

// ExternalTransport adapts an application-provided SendFunc plus an
// injection channel to the Transport interface.
type ExternalTransport struct {
	send  SendFunc
	local Address

	mu           sync.RWMutex
	active       bool
	destinations []Address
	accept       []Address
	ignore       []Address
	inbox        chan *RawPacket
	abort        *abortDescriptor
}

// NewExternalTransport builds a Transport backed by send for outgoing
// data. Use Inject to deliver received packets.
func NewExternalTransport(local Address, send SendFunc) (*ExternalTransport, error) {
	abort, err := newAbortDescriptor()
	if err != nil {
		return nil, err
	}
	return &ExternalTransport{
		send:   send,
		local:  local,
		active: true,
		inbox:  make(chan *RawPacket, 256),
		abort:  abort,
	}, nil
}

// Inject delivers a packet as if it had been received off the wire.
// The caller is responsible for applying any source filtering it
// wants before calling Inject, since the filter lists here exist only
// to satisfy the Transport contract uniformly.
func (t *ExternalTransport) Inject(raw []byte, from Address) {
	t.mu.RLock()
	allowed := sourceFilterAllows(t.accept, t.ignore, from)
	t.mu.RUnlock()
	if !allowed {
		return
	}
	select {
	case t.inbox <- &RawPacket{Data: raw, Sender: from}:
	default:
	}
}

func (t *ExternalTransport) Send(raw []byte) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.active {
		return newErr(ErrState, "ExternalTransport.Send", fmt.Errorf("transport closed"))
	}
	if len(t.destinations) == 0 {
		return t.send(raw, nil)
	}
	var firstErr error
	for _, d := range t.destinations {
		if err := t.send(raw, d); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *ExternalTransport) SendTo(raw []byte, dest Address) error {
	return t.send(raw, dest)
}

func (t *ExternalTransport) Recv(ctx context.Context) (*RawPacket, error) {
	select {
	case <-ctx.Done():
		return nil, newErr(ErrCancelled, "ExternalTransport.Recv", ctx.Err())
	case p := <-t.inbox:
		return p, nil
	}
}

func (t *ExternalTransport) AbortWait() { t.abort.signal() }

func (t *ExternalTransport) AddDestination(addr Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.destinations = append(t.destinations, addr)
	return nil
}
func (t *ExternalTransport) DeleteDestination(addr Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, d := range t.destinations {
		if d.Equal(addr) {
			t.destinations = append(t.destinations[:i], t.destinations[i+1:]...)
			break
		}
	}
	return nil
}
func (t *ExternalTransport) ClearDestinations() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.destinations = nil
}

func (t *ExternalTransport) AddAcceptedSource(host Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accept = append(t.accept, host)
	return nil
}
func (t *ExternalTransport) AddIgnoredSource(host Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ignore = append(t.ignore, host)
	return nil
}
func (t *ExternalTransport) ClearSourceFilters() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accept, t.ignore = nil, nil
}

func (t *ExternalTransport) LocalAddr() Address { return t.local }

func (t *ExternalTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return nil
	}
	t.active = false
	t.abort.close()
	return nil
}

func (t *ExternalTransport) IsActive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}
