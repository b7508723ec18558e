// Package equiv decides whether the reference and candidate runs of a scenario step
// produced the same observable output.
package equiv

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/difftls/difftests/procs"
)

// ErrMismatch is matched by the error of any failed Verdict.
var ErrMismatch = errors.New("outputs are not equivalent")

// Policy says which parts of a capture must match besides stdout, which always must.
type Policy struct {
	Status bool
	Stderr bool
}

var (
	// Full requires status, stdout and stderr to match. Used for steps that are not
	// expected to produce implementation-specific diagnostics.
	Full = Policy{Status: true, Stderr: true}

	// StdoutOnly is for steps whose stderr legitimately differs, such as failures whose
	// error stacks name source files and line numbers.
	StdoutOnly = Policy{}
)

func (p Policy) String() string {
	fields := []string{"stdout"}
	if p.Status {
		fields = append([]string{"status"}, fields...)
	}
	if p.Stderr {
		fields = append(fields, "stderr")
	}
	return strings.Join(fields, "+")
}

// Field names one part of a capture.
type Field string

const (
	FieldStatus Field = "status"
	FieldStdout Field = "stdout"
	FieldStderr Field = "stderr"
)

// Verdict is the outcome of a comparison.
type Verdict struct {
	Name       string
	Policy     Policy
	Reference  procs.Output
	Candidate  procs.Output
	Mismatches []Field
}

// OK reports whether every field required by the policy matched.
func (v Verdict) OK() bool {
	return len(v.Mismatches) == 0
}

// Err returns nil for a passing verdict, or a *MismatchError.
func (v Verdict) Err() error {
	if v.OK() {
		return nil
	}
	return &MismatchError{Verdict: v}
}

// Compare checks the two captures field by field. It never does partial matching.
func Compare(name string, reference, candidate procs.Output, policy Policy) Verdict {
	v := Verdict{Name: name, Policy: policy, Reference: reference, Candidate: candidate}
	if policy.Status && !reference.Status.Equal(candidate.Status) {
		v.Mismatches = append(v.Mismatches, FieldStatus)
	}
	if !bytes.Equal(reference.Stdout, candidate.Stdout) {
		v.Mismatches = append(v.Mismatches, FieldStdout)
	}
	if policy.Stderr && !bytes.Equal(reference.Stderr, candidate.Stderr) {
		v.Mismatches = append(v.Mismatches, FieldStderr)
	}
	return v
}

// Logger is the subset of framework.Logger the checker writes to.
type Logger interface {
	Printf(message string, args ...interface{})
}

// Echo writes a capture in full so a failure can be diagnosed without running again.
func Echo(logger Logger, label string, out procs.Output) {
	logger.Printf("%s", Format(label, out))
}

// Format renders a capture as Echo prints it.
func Format(label string, out procs.Output) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s status: %s\n", label, out.Status)
	fmt.Fprintf(&b, "%s stdout:\n%s\n", label, out.Stdout)
	fmt.Fprintf(&b, "%s stderr:\n%s\n", label, out.Stderr)
	return b.String()
}

// Check echoes both captures and then compares them.
func Check(logger Logger, name string, reference, candidate procs.Output, policy Policy) Verdict {
	Echo(logger, name+" [reference]", reference)
	Echo(logger, name+" [candidate]", candidate)
	return Compare(name, reference, candidate, policy)
}

// MismatchError describes which fields of a Verdict diverged.
type MismatchError struct {
	Verdict Verdict
}

func (e *MismatchError) Is(target error) bool { return target == ErrMismatch }

func (e *MismatchError) Error() string {
	v := e.Verdict
	var b strings.Builder
	fields := make([]string, 0, len(v.Mismatches))
	for _, f := range v.Mismatches {
		fields = append(fields, string(f))
	}
	fmt.Fprintf(&b, "%s: reference and candidate differ in %s (policy %s)",
		v.Name, strings.Join(fields, ", "), v.Policy)
	for _, f := range v.Mismatches {
		switch f {
		case FieldStatus:
			fmt.Fprintf(&b, "\nstatus: reference %s, candidate %s", v.Reference.Status, v.Candidate.Status)
		case FieldStdout:
			b.WriteString("\n" + streamDiff("stdout", v.Reference.Stdout, v.Candidate.Stdout))
		case FieldStderr:
			b.WriteString("\n" + streamDiff("stderr", v.Reference.Stderr, v.Candidate.Stderr))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func streamDiff(stream string, reference, candidate []byte) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(reference)),
		B:        difflib.SplitLines(string(candidate)),
		FromFile: "reference " + stream,
		ToFile:   "candidate " + stream,
		Context:  3,
	})
	if err != nil || diff == "" {
		return fmt.Sprintf("%s: first difference at byte %d", stream, firstDifference(reference, candidate))
	}
	return diff
}

func firstDifference(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
