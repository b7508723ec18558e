//go:build !windows

package procs

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/difftls/difftests/readiness"
)

func shell(script string) Command {
	return Command{Path: "/bin/sh", Args: []string{"-c", script}}
}

func TestRunCapturesStatusAndBothStreams(t *testing.T) {
	out, err := Run(shell("printf 'to stdout'; printf 'to stderr' >&2; exit 3"))
	require.NoError(t, err)

	assert.Equal(t, "to stdout", string(out.Stdout))
	assert.Equal(t, "to stderr", string(out.Stderr))
	require.True(t, out.Status.Code.IsDefined())
	assert.Equal(t, 3, out.Status.Code.IntValue())
	assert.False(t, out.Status.Success())
	assert.Equal(t, "exit status: 3", out.Status.String())
}

func TestRunReportsTerminatingSignal(t *testing.T) {
	out, err := Run(shell("kill -TERM $$"))
	require.NoError(t, err)

	assert.False(t, out.Status.Code.IsDefined())
	assert.Equal(t, "terminated", out.Status.Signal)
	assert.Equal(t, "signal: terminated", out.Status.String())
}

func TestSpawnFailsForMissingExecutable(t *testing.T) {
	_, err := Spawn(Command{Path: "/nonexistent/helper-binary"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSpawn))
	assert.Contains(t, err.Error(), "/nonexistent/helper-binary")
}

func TestEnvironmentOverridesAndRemovals(t *testing.T) {
	t.Setenv("DIFFTESTS_TEST_INHERITED", "inherited")
	t.Setenv("DIFFTESTS_TEST_REMOVED", "present")

	cmd := shell(`printf '%s|%s|%s' "$DIFFTESTS_TEST_INHERITED" "${DIFFTESTS_TEST_REMOVED-unset}" "${DIFFTESTS_TEST_EMPTY-unset}"`)
	cmd.Env = map[string]string{"DIFFTESTS_TEST_EMPTY": ""}
	cmd.Unset = []string{"DIFFTESTS_TEST_REMOVED"}

	out, err := Run(cmd)
	require.NoError(t, err)
	assert.Equal(t, "inherited|unset|", string(out.Stdout))
}

func TestCommandStringQuotesArgumentsAndEnvironment(t *testing.T) {
	cmd := Command{
		Path:  "target/client",
		Args:  []string{"localhost", "4443", "test ca/ca.cert"},
		Env:   map[string]string{"NO_ECHO": "1", "LD_LIBRARY_PATH": ""},
		Unset: []string{"SSLKEYLOGFILE"},
	}
	assert.Equal(t,
		"env -u SSLKEYLOGFILE LD_LIBRARY_PATH='' NO_ECHO=1 target/client localhost 4443 'test ca/ca.cert'",
		cmd.String())
	assert.Equal(t, "target/constants", Command{Path: "target/constants"}.String())
}

func TestCloseKillsAndReapsProcess(t *testing.T) {
	p, err := Spawn(shell("sleep 60"))
	require.NoError(t, err)
	pid := p.PID()
	require.True(t, Alive(pid))

	require.NoError(t, p.Close())
	assert.True(t, p.Exited())
	assert.False(t, Alive(pid))
	assert.False(t, Alive(pid))

	// second release does nothing
	assert.NoError(t, p.Close())
}

func TestCloseRunsWhenScenarioAbortsEarly(t *testing.T) {
	var pid int
	func() {
		defer func() { _ = recover() }()
		p, err := Spawn(shell("sleep 60"))
		require.NoError(t, err)
		defer p.Close()
		pid = p.PID()
		panic("assertion failed mid-scenario")
	}()

	require.NotZero(t, pid)
	assert.False(t, Alive(pid))
}

func TestCloseKillsWholeProcessGroup(t *testing.T) {
	p, err := Spawn(Command{
		Path:        "/bin/sh",
		Args:        []string{"-c", "sleep 60 & echo $!; echo listening; wait"},
		WatchStdout: true,
	})
	require.NoError(t, err)
	require.NoError(t, p.ScanStdout(readiness.Listening, time.Second*5))

	// the background sleep shares the stdout pipe, so the drain only finishes promptly
	// if the whole group was killed
	started := time.Now()
	out, err := p.Kill()
	require.NoError(t, err)
	assert.Less(t, int64(time.Since(started)), int64(waitDelay))
	assert.Equal(t, "killed", out.Status.Signal)
	assert.Regexp(t, `^\d+\nlistening\n$`, string(out.Stdout))
}

func TestTakeForWaitLetsProcessExitNaturally(t *testing.T) {
	p, err := Spawn(Command{
		Path:        "/bin/sh",
		Args:        []string{"-c", "echo starting; echo listening; sleep 0.2; echo done; exit 4"},
		WatchStdout: true,
	})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.ScanStdout(readiness.Listening, time.Second*5))

	h := p.TakeForWait()
	require.NotNil(t, h)
	assert.Nil(t, p.TakeForWait(), "ownership can only be taken once")

	// releasing the supervisor after the hand-over must not kill the process
	require.NoError(t, p.Close())

	out, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, "starting\nlistening\ndone\n", string(out.Stdout))
	assert.Equal(t, 4, out.Status.Code.IntValue())
	assert.False(t, Alive(p.PID()))
}

func TestScanStdoutTwiceOnSameProcess(t *testing.T) {
	p, err := Spawn(Command{
		Path:        "/bin/sh",
		Args:        []string{"-c", "echo listening; echo ready; echo tail"},
		WatchStdout: true,
	})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.ScanStdout(readiness.Listening, time.Second*5))
	require.NoError(t, p.ScanStdout([]byte("ready\n"), time.Second*5))

	out, err := p.TakeForWait().Wait()
	require.NoError(t, err)
	assert.Equal(t, "listening\nready\ntail\n", string(out.Stdout))
	assert.True(t, out.Status.Success())
}

func TestScanStdoutFailsWhenProcessExitsFirst(t *testing.T) {
	p, err := Spawn(Command{
		Path:        "/bin/sh",
		Args:        []string{"-c", "echo something else"},
		WatchStdout: true,
	})
	require.NoError(t, err)
	defer p.Close()

	err = p.ScanStdout(readiness.Listening, time.Second*5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, readiness.ErrStreamRead))
}

func TestScanStdoutRequiresWatchedStdout(t *testing.T) {
	p, err := Spawn(shell("true"))
	require.NoError(t, err)
	defer p.Close()

	assert.Error(t, p.ScanStdout(readiness.Listening, time.Second))
}

func TestExitStatusEquality(t *testing.T) {
	a, err := Run(shell("exit 1"))
	require.NoError(t, err)
	b, err := Run(shell("exit 1"))
	require.NoError(t, err)
	c, err := Run(shell("kill -KILL $$"))
	require.NoError(t, err)

	assert.True(t, a.Status.Equal(b.Status))
	assert.False(t, a.Status.Equal(c.Status))
}

func TestWaitTimeoutKillsProcessThatDoesNotExit(t *testing.T) {
	cmd := shell("echo started; sleep 30")
	cmd.WatchStdout = true
	p, err := Spawn(cmd)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.ScanStdout([]byte("started\n"), time.Second*5))
	start := time.Now()
	out, err := p.TakeForWait().WaitTimeout(time.Millisecond * 200)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTermination))
	var timeoutErr *ExitTimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, p.PID(), timeoutErr.PID)
	assert.Less(t, time.Since(start), waitDelay)
	assert.Equal(t, "killed", out.Status.Signal)
	assert.Equal(t, "started\n", string(out.Stdout))
	assert.False(t, Alive(p.PID()))
}

func TestWaitTimeoutReturnsNormallyWhenProcessExits(t *testing.T) {
	p, err := Spawn(shell("printf done"))
	require.NoError(t, err)
	out, err := p.TakeForWait().WaitTimeout(time.Second * 5)
	require.NoError(t, err)
	assert.Equal(t, "done", string(out.Stdout))
	assert.True(t, out.Status.Success())
}
