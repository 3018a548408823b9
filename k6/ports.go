// Package k6 wraps the container executor for load-test execution: dashboard
// port allocation, the threshold/exit-code verdict, summary parsing, and
// report packaging.
package k6

import (
	"fmt"
	"net"
	"strconv"
	"sync"
)

// PortPool hands out web-dashboard ports from a configured range. Candidates
// are probed with a real listener under the lock so two concurrent runs can
// never pick the same free port. With no range configured, Allocate returns
// port 0 and the dashboard binds ephemerally.
type PortPool struct {
	mu       sync.Mutex
	start    int
	size     int
	bindAddr string
	cursor   int
	reserved map[int]bool
}

// NewPortPool creates a pool over [start, start+size). A size of zero
// disables the pool.
func NewPortPool(start, size int, bindAddr string) *PortPool {
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	return &PortPool{
		start:    start,
		size:     size,
		bindAddr: bindAddr,
		reserved: make(map[int]bool),
	}
}

// Allocate reserves a free port and returns it with its release function.
// Callers must invoke release on every exit path.
func (p *PortPool) Allocate() (int, func(), error) {
	if p.size <= 0 {
		return 0, func() {}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < p.size; i++ {
		candidate := p.start + (p.cursor+i)%p.size
		if p.reserved[candidate] {
			continue
		}
		if !p.probe(candidate) {
			continue
		}
		p.cursor = (p.cursor + i + 1) % p.size
		p.reserved[candidate] = true
		return candidate, func() { p.release(candidate) }, nil
	}
	return 0, nil, fmt.Errorf("no free dashboard port in [%d, %d)", p.start, p.start+p.size)
}

// probe confirms the port can be bound right now. The listener is closed
// immediately; the reservation set covers the window until the container
// binds it.
func (p *PortPool) probe(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort(p.bindAddr, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	l.Close()
	return true
}

func (p *PortPool) release(port int) {
	p.mu.Lock()
	delete(p.reserved, port)
	p.mu.Unlock()
}

// Reserved reports how many ports are currently held.
func (p *PortPool) Reserved() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reserved)
}
