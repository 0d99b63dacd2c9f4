// internal/config/defaults.go
package config

// Default browser settings
const (
	DefaultDebugURL       = "http://localhost:9222"
	DefaultConnectTimeout = "5s"
)

// Default execution settings
const (
	DefaultPolicy         = "stop"
	DefaultCommandTimeout = "30s"
)

// Default generator settings
const (
	DefaultGeneratorCommand = "claude"
	DefaultMaxAttempts      = 3
	DefaultGeneratorTimeout = "2m"
)

// DefaultServerAddr is the address the HTTP front-end listens on.
const DefaultServerAddr = "127.0.0.1:9669"

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Home: Home(),

		Browser: BrowserConfig{
			DebugURL:       DefaultDebugURL,
			Headless:       true,
			ConnectTimeout: DefaultConnectTimeout,
		},

		Execution: ExecutionConfig{
			Policy:         DefaultPolicy,
			CommandTimeout: DefaultCommandTimeout,
		},

		Generator: GeneratorConfig{
			Command:     DefaultGeneratorCommand,
			MaxAttempts: DefaultMaxAttempts,
			Timeout:     DefaultGeneratorTimeout,
		},

		Server: ServerConfig{
			Addr: DefaultServerAddr,
		},

		LogLevel: "info",
	}
}
