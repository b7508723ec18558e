//go:build !windows

package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/alessio/shellescape"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/difftls/difftests/procs"
)

func TestInterruptStopsHelperProcesses(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "server.pid")
	server := filepath.Join(dir, "server")
	script := fmt.Sprintf("#!/bin/sh\necho $$ > %s\necho listening\nexec sleep 60\n", shellescape.Quote(pidFile))
	require.NoError(t, os.WriteFile(server, []byte(script), 0o755))
	curl := filepath.Join(dir, "curl")
	require.NoError(t, os.WriteFile(curl, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	cfgPath := filepath.Join(dir, "difftests.yaml")
	cfg := fmt.Sprintf("host: 127.0.0.1\nexit_timeout: 60s\nbinaries:\n  server: %s\n  curl: %s\n", server, curl)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	exe, err := os.Executable()
	require.NoError(t, err)
	var stdout, stderr bytes.Buffer
	harness := exec.Command(exe, "--config", cfgPath, "--run", "^server$")
	harness.Env = append(os.Environ(), harnessModeVar+"=1")
	harness.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	harness.Stdout = &stdout
	harness.Stderr = &stderr
	require.NoError(t, harness.Start())
	defer func() { _ = syscall.Kill(-harness.Process.Pid, syscall.SIGKILL) }()

	var listenerPID int
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(pidFile)
		if err != nil {
			return false
		}
		listenerPID, err = strconv.Atoi(strings.TrimSpace(string(data)))
		return err == nil
	}, time.Second*10, time.Millisecond*20)
	defer func() { _ = syscall.Kill(-listenerPID, syscall.SIGKILL) }()

	// What a terminal does on Ctrl-C; the listener is in a different group and misses it.
	require.NoError(t, syscall.Kill(-harness.Process.Pid, syscall.SIGINT))

	waited := make(chan error, 1)
	go func() { waited <- harness.Wait() }()
	select {
	case err = <-waited:
	case <-time.After(time.Second * 20):
		require.Fail(t, "harness did not exit after SIGINT")
	}
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "unexpected result %v", err)
	assert.Equal(t, exitFailure, exitErr.ExitCode())
	assert.Contains(t, stderr.String(), "test run interrupted")
	assert.Contains(t, stdout.String(), "Interrupted, killed ")

	assert.Eventually(t, func() bool { return !procs.Alive(listenerPID) }, time.Second*5, time.Millisecond*20)
}
