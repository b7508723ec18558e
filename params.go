package main

import (
	"github.com/spf13/cobra"

	"github.com/difftls/difftests/config"
	"github.com/difftls/difftests/framework"
)

type commandParams struct {
	configPath string
	candidate  string
	workDir    string
	filters    framework.RegexFilters
	offline    bool
	reportPath string
	debug      bool
	debugAll   bool
}

func (c *commandParams) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&c.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&c.candidate, "candidate", "", "library path of the candidate implementation (overrides the config file)")
	fs.StringVar(&c.workDir, "work-dir", "", "directory the helper programs run in (overrides the config file)")
	fs.Var(&c.filters.MustMatch, "run", "regex pattern(s) to select tests to run")
	fs.Var(&c.filters.MustNotMatch, "skip", "regex pattern(s) to select tests not to run")
	fs.BoolVar(&c.offline, "offline", false, "skip tests that need network access")
	fs.StringVar(&c.reportPath, "report", "", "write a JSON report of the run to this file")
	fs.BoolVar(&c.debug, "debug", false, "enable debug logging for failed tests")
	fs.BoolVar(&c.debugAll, "debug-all", false, "enable debug logging for all tests")
}

// loadConfig reads the configuration file, if any, and applies the flag overrides.
func (c *commandParams) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if c.configPath != "" {
		var err error
		if cfg, err = config.Load(c.configPath); err != nil {
			return nil, err
		}
	}
	if c.candidate != "" {
		cfg.CandidateLibraryPath = c.candidate
	}
	if c.workDir != "" {
		cfg.WorkDir = c.workDir
	}
	if c.offline {
		cfg.Offline = true
	}
	return cfg, nil
}
