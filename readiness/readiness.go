// Package readiness contains the two primitives the runner uses to know when a spawned
// process can be talked to: polling a TCP port until something accepts connections, and
// scanning a process's output until it announces itself with a marker.
package readiness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"
)

const (
	DefaultPollInterval = time.Millisecond * 500
	DefaultPollAttempts = 10
)

// Listening is the marker a helper server writes to stdout right before it accepts connections.
var Listening = []byte("listening\n")

var (
	// ErrReadinessTimeout is matched by errors from both primitives when the awaited
	// condition did not occur within the configured bound.
	ErrReadinessTimeout = errors.New("readiness timeout")

	// ErrStreamRead means the scanned stream failed or ended before the marker appeared.
	ErrStreamRead = errors.New("stream read failure")
)

// Logger is the subset of framework.Logger used for progress messages.
type Logger interface {
	Printf(message string, args ...interface{})
}

type nullLogger struct{}

func (nullLogger) Printf(string, ...interface{}) {}

// DialFunc has the signature of net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// PortOptions controls WaitForPort. Zero values select the defaults.
type PortOptions struct {
	Interval time.Duration
	Attempts int
	Dial     DialFunc
	Logger   Logger
}

// TimeoutError is returned by WaitForPort when no connection succeeded.
type TimeoutError struct {
	Address  string
	Attempts int
	LastErr  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("nothing listening at %s after %d attempts: %s", e.Address, e.Attempts, e.LastErr)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrReadinessTimeout }

func (e *TimeoutError) Unwrap() error { return e.LastErr }

// WaitForPort waits until a TCP connection to host:port can be established.
//
// Each attempt is preceded by a sleep of opts.Interval, so a listener that is already up
// is detected after one interval. A single connection attempt may take at most a quarter
// of the interval. After opts.Attempts failed attempts it returns a
// *TimeoutError. It does not decide whether that is fatal; callers do.
func WaitForPort(ctx context.Context, host string, port int, opts PortOptions) error {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}
	dial := opts.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	// A port that drops packets must not add a full interval to every attempt.
	dialTimeout := interval / 4
	logger := opts.Logger
	if logger == nil {
		logger = nullLogger{}
	}
	address := net.JoinHostPort(host, strconv.Itoa(port))

	timer := time.NewTimer(interval)
	defer timer.Stop()
	var lastErr error
	for count := 1; ; count++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		conn, err := dial(dialCtx, "tcp", address)
		cancel()
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		logger.Printf("waiting for port %d", port)
		if count >= attempts {
			return &TimeoutError{Address: address, Attempts: count, LastErr: lastErr}
		}
		timer.Reset(interval)
	}
}

// StreamError is returned by WaitForMarker when the stream failed or closed first.
type StreamError struct {
	Marker []byte
	Read   []byte
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream ended while waiting for %q after %d bytes: %s", e.Marker, len(e.Read), e.Err)
}

func (e *StreamError) Is(target error) bool { return target == ErrStreamRead }

func (e *StreamError) Unwrap() error { return e.Err }

// MarkerTimeoutError is returned by WaitForMarker when the marker did not appear in time.
type MarkerTimeoutError struct {
	Marker  []byte
	Timeout time.Duration
	Read    []byte
}

func (e *MarkerTimeoutError) Error() string {
	return fmt.Sprintf("did not see %q within %s (read %d bytes)", e.Marker, e.Timeout, len(e.Read))
}

func (e *MarkerTimeoutError) Is(target error) bool { return target == ErrReadinessTimeout }

type deadliner interface {
	SetReadDeadline(time.Time) error
}

// WaitForMarker reads r one byte at a time until the bytes read so far end with marker,
// and returns everything it consumed.
//
// It never reads a byte past the end of the marker, so it can be called again on the same
// stream to wait for a later marker. A timeout of zero waits forever.
//
// If r supports read deadlines, the timeout is enforced with a deadline that is cleared
// before returning. Otherwise the scan runs in a separate goroutine; on timeout that
// goroutine is abandoned and may still consume one more byte, so the stream must not be
// scanned again after a timeout.
func WaitForMarker(r io.Reader, marker []byte, timeout time.Duration) ([]byte, error) {
	if len(marker) == 0 {
		return nil, nil
	}
	if timeout <= 0 {
		return scan(r, marker)
	}

	if d, ok := r.(deadliner); ok {
		if err := d.SetReadDeadline(time.Now().Add(timeout)); err == nil {
			read, err := scan(r, marker)
			_ = d.SetReadDeadline(time.Time{})
			if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
				return read, &MarkerTimeoutError{Marker: marker, Timeout: timeout, Read: read}
			}
			return read, err
		}
	}

	type result struct {
		read []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		read, err := scan(r, marker)
		done <- result{read, err}
	}()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	select {
	case res := <-done:
		return res.read, res.err
	case <-deadline.C:
		return nil, &MarkerTimeoutError{Marker: marker, Timeout: timeout}
	}
}

// maxEmptyReads is how many consecutive zero-byte reads scan tolerates, as in bufio.
const maxEmptyReads = 100

func scan(r io.Reader, marker []byte) ([]byte, error) {
	buffer := make([]byte, 0, 1024)
	input := make([]byte, 1)
	empty := 0
	for {
		n, err := r.Read(input)
		if n == 1 {
			empty = 0
			buffer = append(buffer, input[0])
			if bytes.HasSuffix(buffer, marker) {
				return buffer, nil
			}
			continue
		}
		if err == nil {
			if empty++; empty < maxEmptyReads {
				continue
			}
			err = io.ErrNoProgress
		}
		return buffer, &StreamError{Marker: marker, Read: buffer, Err: err}
	}
}
