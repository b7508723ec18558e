package difftests

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/stretchr/testify/require"

	"github.com/difftls/difftests/config"
	"github.com/difftls/difftests/equiv"
	"github.com/difftls/difftests/ports"
	"github.com/difftls/difftests/procs"
	"github.com/difftls/difftests/readiness"
)

// Runner runs scenarios with the programs and certificates described by a Config.
type Runner struct {
	cfg       *config.Config
	ports     *ports.Allocator
	procs     *procs.Tracker
	scenarios []Scenario

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunner returns a Runner for the given scenarios, usually Catalog().
func NewRunner(cfg *config.Config, scenarios []Scenario) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cfg:       cfg,
		ports:     ports.NewAllocator(""),
		procs:     procs.NewTracker(),
		scenarios: scenarios,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Interrupt kills every helper process the runner has started and not yet reaped. The
// scenario in progress fails, and the ones after it are skipped. It may be called from any
// goroutine, more than once. It returns the number of processes killed.
func (r *Runner) Interrupt() int {
	r.cancel()
	return r.procs.StopAll()
}

// Interrupted reports whether Interrupt has been called.
func (r *Runner) Interrupted() bool {
	return r.ctx.Err() != nil
}

func (r *Runner) Scenarios() []Scenario {
	return r.scenarios
}

// OfflineSkipped returns the names of the scenarios that will be skipped because they need
// network access and the configuration is offline.
func (r *Runner) OfflineSkipped() []string {
	if !r.cfg.Offline {
		return nil
	}
	var names []string
	for _, s := range r.scenarios {
		if s.RequiresNetwork {
			names = append(names, s.Name)
		}
	}
	return names
}

type sideOutputs struct {
	peers    []procs.Output
	listener procs.Output
}

func (r *Runner) runScenario(t *T, s Scenario) {
	if r.Interrupted() {
		t.SkipWithReason("test run was interrupted")
	}
	if s.RequiresNetwork && r.cfg.Offline {
		t.SkipWithReason("needs network access")
	}
	if s.Listener != nil && s.Listener.Readiness == MarkerReadiness && r.cfg.MarkerTimeout() == 0 {
		t.Debug("warning: marker timeout is disabled, a listener that never becomes ready will block forever")
	}

	reference := r.runSide(t, s, Reference)
	candidate := r.runSide(t, s, Candidate)

	for i, peer := range s.Peers {
		t.RequireEquivalent(s.checkName(peer), reference.peers[i], candidate.peers[i], peer.Policy)
	}
	if s.Listener != nil && s.Listener.Compare {
		t.RequireEquivalent(s.Name, reference.listener, candidate.listener, s.Listener.Policy)
	}
}

func (r *Runner) runSide(t *T, s Scenario, side Side) sideOutputs {
	var out sideOutputs
	var port int
	var listener *procs.ManagedProcess
	var lease *ports.Lease
	if s.Listener != nil {
		lease = r.lease(t, s.Name)
		port = lease.Port
		listener = r.startListener(t, s.Listener, side, port)
	}

	for _, peer := range s.Peers {
		out.peers = append(out.peers, r.run(t, peer, side, port))
	}

	if listener != nil {
		out.listener = r.stopListener(t, s, listener, side, port)
		lease.Release()
	}
	return out
}

func (r *Runner) lease(t *T, scenario string) *ports.Lease {
	var lease *ports.Lease
	var err error
	if port, ok := config.LegacyPorts[scenario]; ok && r.cfg.Ports.Fixed {
		t.Debug("using fixed port %d, scenarios sharing it must not run concurrently", port)
		lease, err = r.ports.Fixed(port)
	} else {
		lease, err = r.ports.Acquire()
	}
	require.NoError(t, err)
	t.Defer(lease.Release)
	return lease
}

func (r *Runner) startListener(t *T, l *Listener, side Side, port int) *procs.ManagedProcess {
	envSide := side
	if l.ReferenceOnly {
		envSide = Reference
	}
	cmd := r.command(l.Program, l.Args, envSide, false, port)
	cmd.WatchStdout = l.Readiness == MarkerReadiness

	t.Debug("%s: starting %s", side, cmd)
	p, err := r.procs.Spawn(cmd)
	require.NoError(t, err)
	t.Defer(func() {
		if err := p.Close(); err != nil {
			t.Errorf("%s", err)
		}
	})

	switch l.Readiness {
	case MarkerReadiness:
		err = p.ScanStdout(l.marker(), r.cfg.MarkerTimeout())
	default:
		err = readiness.WaitForPort(r.ctx, r.cfg.Host, port, readiness.PortOptions{
			Interval: r.cfg.PollInterval(),
			Attempts: r.cfg.PollAttempts(),
			Logger:   t.DebugLogger(),
		})
	}
	require.NoError(t, err, "%s listener did not become ready", side)
	return p
}

// stopListener ends the listener, either by sending the scenario's request and waiting for
// the listener to exit or by killing it, and returns what it wrote.
func (r *Runner) stopListener(t *T, s Scenario, p *procs.ManagedProcess, side Side, port int) procs.Output {
	label := fmt.Sprintf("%s listener [%s]", s.Name, side)
	if s.Request == nil {
		out, err := p.Kill()
		require.NoError(t, err)
		if !s.Listener.Compare {
			equiv.Echo(t.DebugLogger(), label, out)
		}
		return out
	}

	req := r.run(t, *s.Request, Reference, port)
	equiv.Echo(t.DebugLogger(), fmt.Sprintf("%s/%s [%s]", s.Name, s.Request.Name, side), req)

	out, err := p.TakeForWait().WaitTimeout(r.cfg.ExitTimeout())
	if err != nil {
		equiv.Echo(t.DebugLogger(), label, out)
	}
	require.NoError(t, err, "%s listener did not exit after the request", side)
	return out
}

func (r *Runner) run(t *T, inv Invocation, side Side, port int) procs.Output {
	cmd := r.command(inv.Program, inv.Args, side, inv.NoEcho, port)
	t.Debug("%s: running %s", side, cmd)
	out, err := r.procs.Run(cmd)
	require.NoError(t, err)
	return out
}

// command builds the command line for a program run on one side.
func (r *Runner) command(p Program, args []string, side Side, noEcho bool, port int) procs.Command {
	path := r.path(p)
	args = r.expand(args, port)
	if p.helper() && r.cfg.Binaries.Wrapper != "" {
		args = append([]string{path}, args...)
		path = r.cfg.Binaries.Wrapper
	}
	env := r.environment(side)
	if noEcho {
		env[r.cfg.NoEchoVar] = "1"
	}
	return procs.Command{Path: path, Args: args, Env: env, Dir: r.cfg.WorkDir}
}

// environment returns the variables that select the implementation for a side. A candidate
// run without a configured library path inherits the harness's own environment.
func (r *Runner) environment(side Side) map[string]string {
	env := make(map[string]string)
	switch side {
	case Reference:
		env[r.cfg.ImplementationVar] = ""
	case Candidate:
		if r.cfg.CandidateLibraryPath != "" {
			env[r.cfg.ImplementationVar] = r.cfg.CandidateLibraryPath
		}
	}
	return env
}

func (r *Runner) path(p Program) string {
	b := r.cfg.Binaries
	switch p {
	case Client:
		return b.Client
	case Server:
		return b.Server
	case Constants:
		return b.Constants
	case Ciphers:
		return b.Ciphers
	case OpenSSL:
		return b.OpenSSL
	case Curl:
		return b.Curl
	default:
		return p.String()
	}
}

func (r *Runner) expand(args []string, port int) []string {
	portStr := strconv.Itoa(port)
	replacer := strings.NewReplacer(
		"{host}", r.cfg.Host,
		"{port}", portStr,
		"{url}", "https://"+net.JoinHostPort(r.cfg.Host, portStr)+"/",
		"{ca}", r.cfg.CertPath("ca.cert"),
		"{end_cert}", r.cfg.CertPath("end.cert"),
		"{inter_cert}", r.cfg.CertPath("inter.cert"),
		"{end_key}", r.cfg.CertPath("end.key"),
		"{client_key}", r.cfg.CertPath("client.key"),
		"{client_cert}", r.cfg.CertPath("client.cert"),
		"{server_key}", r.cfg.CertPath("server.key"),
		"{server_cert}", r.cfg.CertPath("server.cert"),
	)
	ret := make([]string, len(args))
	for i, a := range args {
		ret[i] = replacer.Replace(a)
	}
	return ret
}
