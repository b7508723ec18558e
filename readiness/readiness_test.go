package readiness

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/launchdarkly/go-test-helpers/v2/httphelpers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	lines []string
}

func (l *recordingLogger) Printf(message string, args ...interface{}) {
	l.lines = append(l.lines, message)
}

func serverPort(t *testing.T, server *httptest.Server) int {
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func TestWaitForPortSucceedsWhenListenerIsUp(t *testing.T) {
	server := httptest.NewServer(httphelpers.HandlerWithStatus(200))
	defer server.Close()

	interval := time.Millisecond * 50
	started := time.Now()
	err := WaitForPort(context.Background(), "127.0.0.1", serverPort(t, server), PortOptions{Interval: interval})
	require.NoError(t, err)

	// first attempt succeeds: one interval plus scheduling slack, far below the full budget
	assert.Less(t, int64(time.Since(started)), int64(interval*DefaultPollAttempts))
}

func TestWaitForPortSucceedsWhenListenerAppearsLater(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	listeners := make(chan net.Listener, 1)
	go func() {
		time.Sleep(time.Millisecond * 50)
		late, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			close(listeners)
			return
		}
		listeners <- late
	}()

	err = WaitForPort(context.Background(), "127.0.0.1", port, PortOptions{Interval: time.Millisecond * 20, Attempts: 50})
	assert.NoError(t, err)
	if late, ok := <-listeners; ok {
		_ = late.Close()
	}
}

func TestWaitForPortGivesUpAfterConfiguredAttempts(t *testing.T) {
	dials := 0
	refused := errors.New("connection refused")
	logger := &recordingLogger{}
	opts := PortOptions{
		Interval: time.Millisecond,
		Attempts: 4,
		Logger:   logger,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			dials++
			assert.Equal(t, "tcp", network)
			assert.Equal(t, "localhost:4443", address)
			return nil, refused
		},
	}

	err := WaitForPort(context.Background(), "localhost", 4443, opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReadinessTimeout))
	assert.True(t, errors.Is(err, refused))

	var timeout *TimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, 4, timeout.Attempts)
	assert.Equal(t, 4, dials)
	assert.Len(t, logger.lines, 4)
}

func TestWaitForPortDefaultsToTenAttempts(t *testing.T) {
	dials := 0
	opts := PortOptions{
		Interval: time.Millisecond,
		Dial: func(context.Context, string, string) (net.Conn, error) {
			dials++
			return nil, errors.New("refused")
		},
	}
	err := WaitForPort(context.Background(), "localhost", 1, opts)
	assert.True(t, errors.Is(err, ErrReadinessTimeout))
	assert.Equal(t, DefaultPollAttempts, dials)
}

func TestWaitForPortBoundsEachConnectionAttempt(t *testing.T) {
	interval := time.Millisecond * 100
	attempts := 3
	dials := 0
	opts := PortOptions{
		Interval: interval,
		Attempts: attempts,
		// a port that drops packets: the dial only ends when its context does
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			dials++
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	started := time.Now()
	err := WaitForPort(context.Background(), "localhost", 4444, opts)
	elapsed := time.Since(started)

	assert.True(t, errors.Is(err, ErrReadinessTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, attempts, dials)
	// attempts * (interval + interval/4) plus slack, well under the two intervals per
	// attempt an unbounded dial would take
	assert.Less(t, int64(elapsed), int64(interval*time.Duration(attempts)*2))
}

func TestWaitForPortStopsWhenContextIsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WaitForPort(ctx, "localhost", 1, PortOptions{Interval: time.Hour})
	assert.Equal(t, context.Canceled, err)
}

func TestWaitForMarkerDoesNotReadPastMarker(t *testing.T) {
	r := strings.NewReader("starting up\nlistening\nACCEPT\nready\ntrailing output")

	read, err := WaitForMarker(r, Listening, 0)
	require.NoError(t, err)
	assert.Equal(t, "starting up\nlistening\n", string(read))

	read, err = WaitForMarker(r, []byte("ready\n"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ACCEPT\nready\n", string(read))

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "trailing output", string(rest))
}

func TestWaitForMarkerMatchesMarkerSplitAcrossWrites(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		_, _ = pw.Write([]byte("lis"))
		_, _ = pw.Write([]byte("ten"))
		_, _ = pw.Write([]byte("ing\nafter"))
		_ = pw.Close()
	}()

	read, err := WaitForMarker(pr, Listening, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "listening\n", string(read))

	rest, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.Equal(t, "after", string(rest))
}

func TestWaitForMarkerFailsWhenStreamEnds(t *testing.T) {
	_, err := WaitForMarker(strings.NewReader("no marker here"), Listening, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStreamRead))
	assert.True(t, errors.Is(err, io.EOF))

	var streamErr *StreamError
	require.True(t, errors.As(err, &streamErr))
	assert.Equal(t, "no marker here", string(streamErr.Read))
}

func TestWaitForMarkerTimesOutOnReaderWithoutDeadlines(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	_, err := WaitForMarker(pr, Listening, time.Millisecond*30)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReadinessTimeout))
}

func TestWaitForMarkerTimeoutLeavesDeadlineCapableStreamUsable(t *testing.T) {
	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	defer pr.Close()
	defer pw.Close()

	_, err = pw.Write([]byte("partial "))
	require.NoError(t, err)

	read, err := WaitForMarker(pr, Listening, time.Millisecond*30)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReadinessTimeout))
	assert.Equal(t, "partial ", string(read))

	_, err = pw.Write([]byte("listening\n"))
	require.NoError(t, err)
	read, err = WaitForMarker(pr, Listening, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "listening\n", string(read))
}

type stalledReader struct {
	reads int
}

func (r *stalledReader) Read([]byte) (int, error) {
	r.reads++
	return 0, nil
}

func TestWaitForMarkerFailsOnReaderThatMakesNoProgress(t *testing.T) {
	r := &stalledReader{}
	_, err := WaitForMarker(r, Listening, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStreamRead))
	assert.True(t, errors.Is(err, io.ErrNoProgress))
	assert.Equal(t, maxEmptyReads, r.reads)
}
