//go:build !windows

// Package procs starts helper processes and makes sure none of them outlives the scenario
// that started it.
package procs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/alessio/shellescape"

	"github.com/difftls/difftests/readiness"
)

const waitDelay = time.Second * 2

var (
	// ErrSpawn means the operating system could not start a process.
	ErrSpawn = errors.New("failed to start process")

	// ErrTermination means a process could not be signalled or reaped.
	ErrTermination = errors.New("failed to terminate process")
)

// Command describes a process to start. Env entries are applied on top of the
// inherited environment; names in Unset are removed from it.
type Command struct {
	Path        string
	Args        []string
	Env         map[string]string
	Unset       []string
	Dir         string
	WatchStdout bool
}

// String returns the command as a shell-quoted line, preceded by its environment overrides.
func (c Command) String() string {
	var parts []string
	for _, name := range c.Unset {
		parts = append(parts, "-u", shellescape.Quote(name))
	}
	names := make([]string, 0, len(c.Env))
	for name := range c.Env {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		parts = append(parts, name+"="+shellescape.Quote(c.Env[name]))
	}
	if len(parts) > 0 {
		parts = append([]string{"env"}, parts...)
	}
	parts = append(parts, shellescape.Quote(c.Path))
	for _, a := range c.Args {
		parts = append(parts, shellescape.Quote(a))
	}
	return strings.Join(parts, " ")
}

func (c Command) environ() []string {
	drop := make(map[string]bool, len(c.Env)+len(c.Unset))
	for _, name := range c.Unset {
		drop[name] = true
	}
	for name := range c.Env {
		drop[name] = true
	}
	var env []string
	for _, kv := range os.Environ() {
		name := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			name = kv[:i]
		}
		if !drop[name] {
			env = append(env, kv)
		}
	}
	for name, value := range c.Env {
		env = append(env, name+"="+value)
	}
	return env
}

// SpawnError is returned when a command could not be started.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %s", e.Command, e.Err)
}

func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }

func (e *SpawnError) Unwrap() error { return e.Err }

// TerminationError is returned when a process could not be killed or reaped.
type TerminationError struct {
	PID int
	Op  string
	Err error
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("failed to %s process %d: %s", e.Op, e.PID, e.Err)
}

func (e *TerminationError) Is(target error) bool { return target == ErrTermination }

func (e *TerminationError) Unwrap() error { return e.Err }

// ManagedProcess owns a running process. Unless ownership is handed over with TakeForWait,
// Close kills the process and waits for it; callers defer Close right after Spawn.
type ManagedProcess struct {
	cmd        *exec.Cmd
	onReap     func()
	stdout     io.ReadCloser
	transcript bytes.Buffer // stdout already consumed by ScanStdout
	stdoutBuf  bytes.Buffer
	stderrBuf  bytes.Buffer

	mu       sync.Mutex
	taken    bool
	reaped   bool
	closeErr error
	output   Output
}

// Spawn starts cmd in its own process group.
func Spawn(cmd Command) (*ManagedProcess, error) {
	p := &ManagedProcess{}
	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = cmd.environ()
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.WaitDelay = waitDelay
	c.Stderr = &p.stderrBuf
	if cmd.WatchStdout {
		stdout, err := c.StdoutPipe()
		if err != nil {
			return nil, &SpawnError{Command: cmd.String(), Err: err}
		}
		p.stdout = stdout
	} else {
		c.Stdout = &p.stdoutBuf
	}
	if err := c.Start(); err != nil {
		return nil, &SpawnError{Command: cmd.String(), Err: err}
	}
	p.cmd = c
	return p, nil
}

// PID returns the operating system process ID.
func (p *ManagedProcess) PID() int {
	return p.cmd.Process.Pid
}

// ScanStdout blocks until the process writes marker to stdout, without consuming anything
// that follows it. The consumed bytes are kept and reported as part of the final Output.
// It is only valid for processes spawned with WatchStdout.
func (p *ManagedProcess) ScanStdout(marker []byte, timeout time.Duration) error {
	if p.stdout == nil {
		return errors.New("stdout of this process is not being watched")
	}
	read, err := readiness.WaitForMarker(p.stdout, marker, timeout)
	p.transcript.Write(read)
	return err
}

// TakeForWait transfers ownership of the process to the caller, who must then call
// Handle.Wait. After this, Close does nothing.
func (p *ManagedProcess) TakeForWait() *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.taken || p.reaped {
		return nil
	}
	p.taken = true
	return &Handle{p: p}
}

// Kill terminates the process if it is still owned and returns what it wrote.
func (p *ManagedProcess) Kill() (Output, error) {
	if err := p.Close(); err != nil {
		return Output{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.reaped {
		return Output{}, errors.New("process was handed over with TakeForWait")
	}
	return p.output, nil
}

// Close kills the process group and waits for the process to exit. It does nothing if
// the process was already reaped or handed over with TakeForWait, and returns the same
// result if called again.
func (p *ManagedProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.taken || p.reaped {
		return p.closeErr
	}
	if err := signalGroup(p.cmd.Process, syscall.SIGKILL); err != nil {
		p.closeErr = &TerminationError{PID: p.cmd.Process.Pid, Op: "kill", Err: err}
		return p.closeErr
	}
	if err := p.reap(true); err != nil {
		p.closeErr = &TerminationError{PID: p.cmd.Process.Pid, Op: "wait for", Err: err}
	}
	return p.closeErr
}

// Exited reports whether the process has been reaped by this package.
func (p *ManagedProcess) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reaped
}

// reap drains stdout, waits for exit and records the Output. Must hold p.mu.
func (p *ManagedProcess) reap(killed bool) error {
	var drainErr error
	if p.stdout != nil {
		if d, ok := p.stdout.(interface{ SetReadDeadline(time.Time) error }); ok && killed {
			// a descendant that escaped the process group could keep the pipe open
			_ = d.SetReadDeadline(time.Now().Add(waitDelay))
		}
		// Read until EOF before Wait, which closes the pipe.
		_, err := io.Copy(&p.transcript, p.stdout)
		if err != nil && !errors.Is(err, os.ErrClosed) && !(killed && errors.Is(err, os.ErrDeadlineExceeded)) {
			drainErr = err
		}
	}
	status, err := waitResult(p.cmd, p.cmd.Wait())
	p.reaped = true
	if p.onReap != nil {
		p.onReap()
	}
	if err != nil {
		return err
	}
	stdout := p.stdoutBuf.Bytes()
	if p.stdout != nil {
		stdout = p.transcript.Bytes()
	}
	p.output = Output{
		Status: status,
		Stdout: append([]byte{}, stdout...),
		Stderr: append([]byte{}, p.stderrBuf.Bytes()...),
	}
	return drainErr
}

// Handle is a process whose natural exit the caller waits for.
type Handle struct {
	p *ManagedProcess
}

// Wait blocks until the process exits on its own and returns what it wrote.
func (h *Handle) Wait() (Output, error) {
	return h.WaitTimeout(0)
}

// WaitTimeout is like Wait, but if the process has not exited after timeout it kills the
// process group, reaps it and returns an ExitTimeoutError. Zero means no limit.
func (h *Handle) WaitTimeout(timeout time.Duration) (Output, error) {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	if h.p.reaped {
		return h.p.output, nil
	}
	var expired atomic.Bool
	if timeout > 0 {
		proc := h.p.cmd.Process
		timer := time.AfterFunc(timeout, func() {
			expired.Store(true)
			_ = signalGroup(proc, syscall.SIGKILL)
		})
		defer timer.Stop()
	}
	err := h.p.reap(false)
	if expired.Load() {
		return h.p.output, &ExitTimeoutError{PID: h.p.cmd.Process.Pid, Timeout: timeout}
	}
	if err != nil {
		return Output{}, err
	}
	return h.p.output, nil
}

// ExitTimeoutError is returned by WaitTimeout when a process had to be killed. It matches
// ErrTermination.
type ExitTimeoutError struct {
	PID     int
	Timeout time.Duration
}

func (e *ExitTimeoutError) Error() string {
	return fmt.Sprintf("process %d did not exit within %s and was killed", e.PID, e.Timeout)
}

func (e *ExitTimeoutError) Is(target error) bool { return target == ErrTermination }

// Run starts cmd and waits for it to finish. A non-zero exit is not an error; it is part
// of the returned Output.
func Run(cmd Command) (Output, error) {
	return waitFor(Spawn(cmd))
}

func waitFor(p *ManagedProcess, err error) (Output, error) {
	if err != nil {
		return Output{}, err
	}
	defer p.Close()
	return p.TakeForWait().Wait()
}

// Alive reports whether a process with this ID exists and has not been reaped.
func Alive(pid int) bool {
	err := syscall.Kill(pid, syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// signalGroup sends sig to the process group led by proc, returning nil if the process
// has already exited.
func signalGroup(proc *os.Process, sig syscall.Signal) error {
	_ = syscall.Kill(-proc.Pid, sig)
	// The leader may have left its group, so it is signalled directly as well.
	err := proc.Signal(sig)
	if err == nil || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
