package difftests

import (
	"github.com/difftls/difftests/framework"
)

// RunTestSuite runs every scenario of the runner as a top-level test.
func RunTestSuite(
	runner *Runner,
	filter framework.Filter,
	testLogger framework.TestLogger,
) framework.Results {
	return framework.Run(filter, testLogger, func(c *framework.Context) {
		t := &T{context: c, runner: runner}

		for _, s := range runner.Scenarios() {
			s := s
			t.Run(s.Name, func(t *T) {
				if s.Description != "" {
					t.Debug("%s", s.Description)
				}
				t.RunScenario(s)
			})
		}
	})
}
