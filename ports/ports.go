// Package ports hands out TCP ports for helper listeners, so scenarios never contend for a
// hard-coded port number.
package ports

import (
	"fmt"
	"net"
	"sync"
)

// Allocator leases free loopback ports. It is safe for concurrent use.
type Allocator struct {
	host   string
	leased map[int]bool
	lock   sync.Mutex
}

// NewAllocator returns an Allocator that searches for free ports on host. An empty host
// means 127.0.0.1.
func NewAllocator(host string) *Allocator {
	if host == "" {
		host = "127.0.0.1"
	}
	return &Allocator{host: host, leased: make(map[int]bool)}
}

// Lease is a port reserved for one scenario invocation.
type Lease struct {
	Port  int
	owner *Allocator
	once  sync.Once
}

// Release returns the port to the allocator. Calling it more than once is harmless.
func (l *Lease) Release() {
	if l == nil || l.owner == nil {
		return
	}
	l.once.Do(func() {
		l.owner.lock.Lock()
		delete(l.owner.leased, l.Port)
		l.owner.lock.Unlock()
	})
}

const maxPortTries = 32

// Acquire finds an unused ephemeral port by binding to port 0 and immediately closing the
// listener. A port that is still leased is never returned twice.
func (a *Allocator) Acquire() (*Lease, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	for i := 0; i < maxPortTries; i++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(a.host, "0"))
		if err != nil {
			return nil, fmt.Errorf("could not look for a free port on %s: %w", a.host, err)
		}
		port := ln.Addr().(*net.TCPAddr).Port
		_ = ln.Close()
		if a.leased[port] {
			continue
		}
		a.leased[port] = true
		return &Lease{Port: port, owner: a}, nil
	}
	return nil, fmt.Errorf("no unleased port found on %s after %d tries", a.host, maxPortTries)
}

// Fixed leases a specific port, for configurations that pin the legacy port numbers.
// It fails if the port is already leased by this allocator.
func (a *Allocator) Fixed(port int) (*Lease, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.leased[port] {
		return nil, fmt.Errorf("port %d is already leased", port)
	}
	a.leased[port] = true
	return &Lease{Port: port, owner: a}, nil
}

// Leased returns the number of ports currently leased.
func (a *Allocator) Leased() int {
	a.lock.Lock()
	defer a.lock.Unlock()
	return len(a.leased)
}
