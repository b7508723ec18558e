package difftests

import (
	"github.com/difftls/difftests/equiv"
	"github.com/difftls/difftests/framework"
	"github.com/difftls/difftests/procs"
)

// T represents a scenario or subtest in the differential test suite.
//
// It implements the same basic functionality as Go's testing.T, but in an environment that is outside
// of the Go test runner, and with some extra features such as debug logging that are convenient for
// our use case. Those features are provided by our lower-level framework package.
//
// To make test assertions, you can use the assert and require packages, passing the *T as if it were
// a *testing.T. Infrastructure failures such as a helper that cannot be started are reported with
// require, which ends the scenario; processes it started are still killed and reaped.
type T struct {
	context *framework.Context
	runner  *Runner
}

// Errorf is called by assertions to log a test failure. It does not cause an immediate exit.
func (t *T) Errorf(format string, args ...interface{}) {
	t.context.Errorf(format, args...)
}

// FailNow is called by assertions when a test should fail and immediately exit. The methods in
// the require package call FailNow.
func (t *T) FailNow() {
	t.context.FailNow()
}

// Run runs a subtest. This is equivalent to the Run method of testing.T.
func (t *T) Run(name string, action func(*T)) {
	t.context.Run(name, func(c *framework.Context) {
		action(&T{context: c, runner: t.runner})
	})
}

// Debug logs some debug output for the test. The output will be passed to the test logger at
// the end of the test.
func (t *T) Debug(format string, args ...interface{}) {
	t.context.Debug(format, args...)
}

func (t *T) DebugLogger() framework.Logger {
	return t.context.DebugLogger()
}

// Defer registers fn to run when the test ends, however it ends.
func (t *T) Defer(fn func()) {
	t.context.Defer(fn)
}

// SkipWithReason ends the test without failing it.
func (t *T) SkipWithReason(reason string) {
	t.context.SkipWithReason(reason)
}

// RunScenario runs both sides of a scenario and compares them.
func (t *T) RunScenario(s Scenario) {
	t.runner.runScenario(t, s)
}

// RequireEquivalent echoes both captures to the debug log and marks the test as failed if
// they differ under policy. It returns true if they are equivalent.
func (t *T) RequireEquivalent(name string, reference, candidate procs.Output, policy equiv.Policy) bool {
	v := equiv.Check(t.DebugLogger(), name, reference, candidate, policy)
	if err := v.Err(); err != nil {
		t.Errorf("%s", err)
		return false
	}
	return true
}
