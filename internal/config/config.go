// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cmux-cli/cdpscript/internal/executor"
)

// Config is the global cdpscript configuration
type Config struct {
	// Home directory holding config.yaml
	Home string `yaml:"-"`

	// Browser connection settings
	Browser BrowserConfig `yaml:"browser"`

	// Script execution settings
	Execution ExecutionConfig `yaml:"execution"`

	// Script generator settings
	Generator GeneratorConfig `yaml:"generator"`

	// HTTP front-end settings
	Server ServerConfig `yaml:"server"`

	// LogLevel is "info" or "debug"
	LogLevel string `yaml:"log_level"`
}

type BrowserConfig struct {
	// DebugURL is Chrome's remote debugging endpoint
	DebugURL string `yaml:"debug_url"`

	// Launch starts a local Chrome instead of attaching to DebugURL
	Launch   bool   `yaml:"launch"`
	Headless bool   `yaml:"headless"`
	ExecPath string `yaml:"exec_path"`

	ConnectTimeout string `yaml:"connect_timeout"`
}

type ExecutionConfig struct {
	// Policy is what happens after a failed command: stop, skip or continue
	Policy string `yaml:"policy"`

	// CommandTimeout bounds each command ("0" disables the limit)
	CommandTimeout string `yaml:"command_timeout"`

	// OutputDir is where relative save_as paths are written
	OutputDir string `yaml:"output_dir"`
}

type GeneratorConfig struct {
	// Command is the AI CLI binary (default: "claude")
	Command     string `yaml:"command"`
	Model       string `yaml:"model"`
	MaxAttempts int    `yaml:"max_attempts"`
	Timeout     string `yaml:"timeout"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Home returns the cdpscript home directory
func Home() string {
	if home := os.Getenv("CDPSCRIPT_HOME"); home != "" {
		return home
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".cdpscript")
}

// Path returns the default config file location.
func Path() string {
	return filepath.Join(Home(), "config.yaml")
}

// Load reads the config file at path, or Path() when path is empty.
// A missing file yields the defaults. Environment overrides are applied
// last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = Path()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg.ExpandPaths()
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CDPSCRIPT_CDP_URL"); v != "" {
		c.Browser.DebugURL = v
	}
	if v := os.Getenv("CDPSCRIPT_CHROME_PATH"); v != "" {
		c.Browser.ExecPath = v
	}
	if v := os.Getenv("CDPSCRIPT_GENERATOR_CMD"); v != "" {
		c.Generator.Command = v
	}
}

// ExpandPaths expands a leading ~ in path settings.
func (c *Config) ExpandPaths() {
	c.Browser.ExecPath = expandPath(c.Browser.ExecPath)
	c.Execution.OutputDir = expandPath(c.Execution.OutputDir)
}

func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, path[1:])
}

// Save writes the config as YAML to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// ConnectTimeout returns the parsed browser connect timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return parseDuration(c.Browser.ConnectTimeout)
}

// CommandTimeout returns the parsed per-command timeout.
func (c *Config) CommandTimeout() time.Duration {
	return parseDuration(c.Execution.CommandTimeout)
}

// GeneratorTimeout returns the parsed generator timeout.
func (c *Config) GeneratorTimeout() time.Duration {
	return parseDuration(c.Generator.Timeout)
}

// Policy returns the parsed failure policy.
func (c *Config) Policy() executor.Policy {
	p, _ := executor.ParsePolicy(c.Execution.Policy)
	return p
}

// Debug reports whether debug logging is enabled.
func (c *Config) Debug() bool {
	return strings.EqualFold(c.LogLevel, "debug")
}

func parseDuration(s string) time.Duration {
	if s == "" || s == "0" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	var errs []string

	if c.Browser.DebugURL == "" && !c.Browser.Launch {
		errs = append(errs, "browser.debug_url is required unless browser.launch is set")
	}
	if c.Browser.DebugURL != "" && !hasScheme(c.Browser.DebugURL, "http://", "https://", "ws://", "wss://") {
		errs = append(errs, "browser.debug_url must be an http(s) or ws(s) URL")
	}
	errs = checkDuration(errs, "browser.connect_timeout", c.Browser.ConnectTimeout)

	if _, err := executor.ParsePolicy(c.Execution.Policy); err != nil {
		errs = append(errs, "execution.policy must be one of stop, skip, continue")
	}
	errs = checkDuration(errs, "execution.command_timeout", c.Execution.CommandTimeout)

	if c.Generator.Command == "" {
		errs = append(errs, "generator.command is required")
	}
	if c.Generator.MaxAttempts < 1 {
		errs = append(errs, "generator.max_attempts must be at least 1")
	}
	errs = checkDuration(errs, "generator.timeout", c.Generator.Timeout)

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "info", "debug":
	default:
		errs = append(errs, "log_level must be info or debug")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func hasScheme(url string, schemes ...string) bool {
	for _, s := range schemes {
		if strings.HasPrefix(url, s) {
			return true
		}
	}
	return false
}

func checkDuration(errs []string, field, value string) []string {
	if value == "" || value == "0" {
		return errs
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return append(errs, fmt.Sprintf("%s: invalid duration %q", field, value))
	}
	if d < 0 {
		return append(errs, fmt.Sprintf("%s must not be negative", field))
	}
	return errs
}
