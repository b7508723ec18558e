// Package config loads the optional YAML file that tells the harness where the helper
// programs and certificates live and how the two implementations are selected.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/difftls/difftests/readiness"
)

// Default values.
const (
	DefaultImplementationVar = "LD_LIBRARY_PATH"
	DefaultNoEchoVar         = "NO_ECHO"
	DefaultHost              = "localhost"
	DefaultCertDir           = "test-ca/rsa"
	DefaultMarkerTimeout     = 10 * time.Second
	DefaultExitTimeout       = 30 * time.Second
)

// Legacy port numbers, used only when Ports.Fixed is set.
var LegacyPorts = map[string]int{
	"client unauthenticated": 4443,
	"client auth":            4444,
	"server":                 5555,
}

// Config holds the parsed configuration. All fields are optional; zero values mean defaults.
type Config struct {
	// ImplementationVar is the environment variable that selects the implementation.
	// Reference runs set it to the empty string.
	ImplementationVar string `yaml:"implementation_var"`

	// CandidateLibraryPath, if set, is assigned to ImplementationVar for candidate runs.
	// Otherwise candidate runs inherit the harness's own value.
	CandidateLibraryPath string `yaml:"candidate_library_path"`

	NoEchoVar string   `yaml:"no_echo_var"`
	Host      string   `yaml:"host"`
	CertDir   string   `yaml:"cert_dir"`
	WorkDir   string   `yaml:"work_dir"`
	Binaries  Binaries `yaml:"binaries"`
	Ports     Ports    `yaml:"ports"`

	// Offline skips scenarios that need the public internet.
	Offline bool `yaml:"offline"`

	RawMarkerTimeout string `yaml:"marker_timeout"` // e.g. "10s"; "0" waits forever
	RawExitTimeout   string `yaml:"exit_timeout"`   // how long a listener may take to exit after its request
	RawPollInterval  string `yaml:"poll_interval"`
	RawPollAttempts  int    `yaml:"poll_attempts"`
}

// Binaries locates the programs the scenarios run.
type Binaries struct {
	Client    string `yaml:"client"`
	Server    string `yaml:"server"`
	Constants string `yaml:"constants"`
	Ciphers   string `yaml:"ciphers"`
	OpenSSL   string `yaml:"openssl"`
	Curl      string `yaml:"curl"`

	// Wrapper, if set, is prefixed to the helper programs (client, server, constants,
	// ciphers), for instance a script that runs them under valgrind.
	Wrapper string `yaml:"wrapper"`
}

// Ports controls listener port selection.
type Ports struct {
	// Fixed pins the legacy port numbers instead of allocating free ports. Scenarios
	// sharing a port must then not run concurrently.
	Fixed bool `yaml:"fixed"`
}

// Default returns the configuration used when no file is given, matching the layout of a
// libssl build tree: helpers in target/, certificates in test-ca/rsa.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads a YAML configuration file and fills in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.ImplementationVar == "" {
		c.ImplementationVar = DefaultImplementationVar
	}
	if c.NoEchoVar == "" {
		c.NoEchoVar = DefaultNoEchoVar
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.CertDir == "" {
		c.CertDir = DefaultCertDir
	}
	b := &c.Binaries
	if b.Client == "" {
		b.Client = filepath.Join("target", "client")
	}
	if b.Server == "" {
		b.Server = filepath.Join("target", "server")
	}
	if b.Constants == "" {
		b.Constants = filepath.Join("target", "constants")
	}
	if b.Ciphers == "" {
		b.Ciphers = filepath.Join("target", "ciphers")
	}
	if b.OpenSSL == "" {
		b.OpenSSL = "openssl"
	}
	if b.Curl == "" {
		b.Curl = "curl"
	}
}

func (c *Config) validate() error {
	for name, raw := range map[string]string{
		"marker_timeout": c.RawMarkerTimeout,
		"exit_timeout":   c.RawExitTimeout,
		"poll_interval":  c.RawPollInterval,
	} {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.RawPollAttempts < 0 {
		return fmt.Errorf("poll_attempts must not be negative")
	}
	return nil
}

// MarkerTimeout returns how long to wait for a readiness marker. Zero means no limit.
func (c *Config) MarkerTimeout() time.Duration {
	if c.RawMarkerTimeout != "" {
		if d, err := time.ParseDuration(c.RawMarkerTimeout); err == nil && d >= 0 {
			return d
		}
	}
	return DefaultMarkerTimeout
}

// ExitTimeout returns how long to wait for a listener to exit on its own after the request
// that should end it. Zero means no limit.
func (c *Config) ExitTimeout() time.Duration {
	if c.RawExitTimeout != "" {
		if d, err := time.ParseDuration(c.RawExitTimeout); err == nil && d >= 0 {
			return d
		}
	}
	return DefaultExitTimeout
}

// PollInterval returns the delay before each port connection attempt.
func (c *Config) PollInterval() time.Duration {
	if c.RawPollInterval != "" {
		if d, err := time.ParseDuration(c.RawPollInterval); err == nil && d > 0 {
			return d
		}
	}
	return readiness.DefaultPollInterval
}

// PollAttempts returns how many port connection attempts to make.
func (c *Config) PollAttempts() int {
	if c.RawPollAttempts > 0 {
		return c.RawPollAttempts
	}
	return readiness.DefaultPollAttempts
}

// CertPath returns the path of a file in the certificate directory.
func (c *Config) CertPath(name string) string {
	return filepath.Join(c.CertDir, name)
}
