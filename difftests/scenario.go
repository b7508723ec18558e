package difftests

import (
	"github.com/difftls/difftests/equiv"
	"github.com/difftls/difftests/readiness"
)

// Program identifies an external program that a scenario runs.
type Program int

const (
	Client Program = iota
	Server
	Constants
	Ciphers
	OpenSSL
	Curl
)

func (p Program) String() string {
	switch p {
	case Client:
		return "client"
	case Server:
		return "server"
	case Constants:
		return "constants"
	case Ciphers:
		return "ciphers"
	case OpenSSL:
		return "openssl"
	case Curl:
		return "curl"
	default:
		return "unknown"
	}
}

// helper reports whether the program is one of the helpers built against the library,
// which are the only ones run through the configured wrapper.
func (p Program) helper() bool {
	return p == Client || p == Server || p == Constants || p == Ciphers
}

// Readiness is how the runner decides that a listener can accept connections.
type Readiness int

const (
	// PortReadiness polls the listener's TCP port.
	PortReadiness Readiness = iota
	// MarkerReadiness waits for the listener to write a marker to stdout.
	MarkerReadiness
)

// Invocation is one run of a program. Args may contain placeholders such as {port} and
// {ca}, which are expanded for each run.
type Invocation struct {
	Name    string
	Program Program
	Args    []string
	// NoEcho sets the no-echo variable, for peers talking to endpoints that do not echo.
	NoEcho bool
	Policy equiv.Policy
}

// Listener is a long-running process that peers connect to.
type Listener struct {
	Program   Program
	Args      []string
	Readiness Readiness
	Marker    []byte // defaults to readiness.Listening

	// ReferenceOnly runs the listener with the reference implementation on both sides, so
	// only the peers differ.
	ReferenceOnly bool

	// Compare requires the listener's own output to be equivalent under Policy.
	Compare bool
	Policy  equiv.Policy
}

func (l *Listener) marker() []byte {
	if len(l.Marker) == 0 {
		return readiness.Listening
	}
	return l.Marker
}

// Scenario is one entry of the catalog.
type Scenario struct {
	Name        string
	Description string

	Listener *Listener
	Peers    []Invocation

	// Request, if set, is run after the peers. The listener is then expected to exit on
	// its own. It always runs with the reference implementation and its output is only
	// logged.
	Request *Invocation

	RequiresNetwork bool
}

func (s Scenario) checkName(peer Invocation) string {
	if peer.Name == "" {
		return s.Name
	}
	return s.Name + "/" + peer.Name
}
