// Package stream keeps live market feeds connected. Every method of the
// types in this package must be called from the event loop they were built
// with; connector callbacks are marshalled back onto that loop.
package stream

import (
	"net"
	"time"
)

// Poster queues work onto the single goroutine that owns supervisor state.
type Poster interface {
	Post(fn func()) bool
}

// Prober reports whether the host currently has network connectivity.
type Prober interface {
	Online() bool
}

// TCPProber considers the host online when addr accepts a TCP connection.
type TCPProber struct {
	addr    string
	timeout time.Duration
}

func NewTCPProber(addr string, timeout time.Duration) *TCPProber {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &TCPProber{addr: addr, timeout: timeout}
}

func (p *TCPProber) Online() bool {
	if p.addr == "" {
		return true
	}
	conn, err := net.DialTimeout("tcp", p.addr, p.timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
