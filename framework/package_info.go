// Package framework contains the low-level implementation of test harness infrastructure
// that can be reused for different kinds of tests.
//
// The general model is:
//
// 1. There is a general notion of a test context which is similar to Go's *testing.T,
// allowing pieces of test logic to be associated with a test identifier and to accumulate
// success/failure results. Tests form a tree; each node can run subtests.
//
// 2. A test can register cleanup functions with Defer. These run when the test ends,
// including when it is aborted with FailNow or by a panic, so resources such as child
// processes are always released.
//
// 3. Each test has its own capturing debug logger. A TestLogger decides what to show for
// each test as it starts and finishes, and a Report can record the whole run as JSON.
//
// The domain-specific code that knows what is being tested is responsible for building a
// test API on top of the test context.
package framework
