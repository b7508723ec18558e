package procs

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

// ExitStatus describes how a process ended. Code is undefined when the process was
// terminated by a signal, in which case Signal names it.
type ExitStatus struct {
	Code   ldvalue.OptionalInt `json:"code"`
	Signal string              `json:"signal,omitempty"`
}

// Success reports whether the process exited normally with status zero.
func (s ExitStatus) Success() bool {
	return s.Code.IsDefined() && s.Code.IntValue() == 0
}

// Equal reports whether two statuses are the same.
func (s ExitStatus) Equal(other ExitStatus) bool {
	return s.Code == other.Code && s.Signal == other.Signal
}

func (s ExitStatus) String() string {
	if s.Code.IsDefined() {
		return fmt.Sprintf("exit status: %d", s.Code.IntValue())
	}
	if s.Signal != "" {
		return "signal: " + s.Signal
	}
	return "unknown"
}

// Output is the complete record of a finished process. It is built once after the
// process has been reaped and is not modified afterward.
type Output struct {
	Status ExitStatus
	Stdout []byte
	Stderr []byte
}

func statusOf(state interface{ Sys() interface{} }, exitCode int) ExitStatus {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitStatus{Signal: ws.Signal().String()}
	}
	return ExitStatus{Code: ldvalue.NewOptionalInt(exitCode)}
}

// waitResult separates an ordinary non-zero exit, which is just a status, from a failure
// to wait at all. Output left unread after the wait delay does not change the status.
func waitResult(cmd *exec.Cmd, err error) (ExitStatus, error) {
	if err != nil && !errors.Is(err, exec.ErrWaitDelay) {
		var ee *exec.ExitError
		if !errors.As(err, &ee) {
			return ExitStatus{}, err
		}
	}
	if cmd.ProcessState == nil {
		return ExitStatus{}, errors.New("process state unavailable after wait")
	}
	return statusOf(cmd.ProcessState, cmd.ProcessState.ExitCode()), nil
}
