//go:build windows

// Loopback-socket abort descriptor for Windows, grounded on JRTPLIB's
// rtpabortdescriptors.cpp Windows branch: select() cannot wait on a
// pipe there, so the abort signal is a connected 127.0.0.1 TCP pair
// instead, with the same collapse/clear semantics as the Unix pipe
// version.
package rtp

import (
	"net"
	"sync"
	"time"
)

type abortDescriptor struct {
	mu       sync.Mutex
	listener net.Listener
	writer   net.Conn
	reader   net.Conn
	signaled bool
}

func newAbortDescriptor() (*abortDescriptor, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, newErr(ErrResource, "newAbortDescriptor", err)
	}
	writer, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		ln.Close()
		return nil, newErr(ErrResource, "newAbortDescriptor", err)
	}
	reader, err := ln.Accept()
	if err != nil {
		ln.Close()
		writer.Close()
		return nil, newErr(ErrResource, "newAbortDescriptor", err)
	}
	return &abortDescriptor{listener: ln, writer: writer, reader: reader}, nil
}

func (a *abortDescriptor) signal() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.signaled {
		return
	}
	a.signaled = true
	a.writer.Write([]byte{0})
}

func (a *abortDescriptor) clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf := make([]byte, 64)
	a.reader.SetReadDeadline(time.Now().Add(time.Millisecond))
	for {
		n, err := a.reader.Read(buf)
		if n <= 0 || err != nil {
			break
		}
	}
	a.reader.SetReadDeadline(time.Time{})
	a.signaled = false
}

func (a *abortDescriptor) conn() net.Conn { return a.reader }

func (a *abortDescriptor) wasSignaled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.signaled
}

func (a *abortDescriptor) close() {
	a.reader.Close()
	a.writer.Close()
	a.listener.Close()
}
