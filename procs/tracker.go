//go:build !windows

package procs

import (
	"errors"
	"os"
	"sync"
	"syscall"
)

// ErrStopped is returned by Tracker.Spawn once StopAll has been called.
var ErrStopped = errors.New("process tracker stopped")

// Tracker remembers the processes it started until they are reaped, so that all of them
// can be killed when the harness itself is interrupted. Processes run in their own process
// group and do not receive the terminal's signals. It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	live    map[int]*os.Process
	stopped bool
}

func NewTracker() *Tracker {
	return &Tracker{live: make(map[int]*os.Process)}
}

// Spawn is like the package-level Spawn, but records the process until it is reaped.
func (t *Tracker) Spawn(cmd Command) (*ManagedProcess, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return nil, &SpawnError{Command: cmd.String(), Err: ErrStopped}
	}
	p, err := Spawn(cmd)
	if err != nil {
		return nil, err
	}
	pid := p.PID()
	t.live[pid] = p.cmd.Process
	p.onReap = func() {
		t.mu.Lock()
		delete(t.live, pid)
		t.mu.Unlock()
	}
	return p, nil
}

// Run is like the package-level Run, but the process is tracked while it runs.
func (t *Tracker) Run(cmd Command) (Output, error) {
	return waitFor(t.Spawn(cmd))
}

// StopAll kills the process group of every tracked process that has not been reaped yet,
// and makes later calls to Spawn fail. Reaping is still up to each process's owner, whose
// pending Wait or ScanStdout returns once the process is gone. It returns the number of
// processes signalled.
func (t *Tracker) StopAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for _, proc := range t.live {
		_ = signalGroup(proc, syscall.SIGKILL)
	}
	return len(t.live)
}

// Live returns the number of tracked processes that have not been reaped.
func (t *Tracker) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}
