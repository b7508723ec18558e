// Package difftests contains the differential scenarios and the runner that drives them.
//
// Each scenario runs the same helper programs twice, once with the reference TLS library
// and once with the candidate, and requires the two runs to be indistinguishable from the
// outside. Process supervision, readiness waits and the comparison itself live in the
// procs, readiness and equiv packages; test bookkeeping is in the framework package.
package difftests
