package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Browser   BrowserConfig   `yaml:"browser" envconfig:"BROWSER"`
	Workflow  WorkflowConfig  `yaml:"workflow" envconfig:"WORKFLOW"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// BrowserConfig contains browser automation configuration.
// The browser stays visible by default so an operator can complete
// two-factor challenges by hand.
type BrowserConfig struct {
	Headless         bool          `yaml:"headless" envconfig:"HEADLESS"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout" envconfig:"NAVIGATE_TIMEOUT"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout" envconfig:"PROBE_TIMEOUT"`
	FieldWaitTimeout time.Duration `yaml:"field_wait_timeout" envconfig:"FIELD_WAIT_TIMEOUT"`
	SettleDelay      time.Duration `yaml:"settle_delay" envconfig:"SETTLE_DELAY"`
	TwoFactorTimeout time.Duration `yaml:"two_factor_timeout" envconfig:"TWO_FACTOR_TIMEOUT"`
	PollInterval     time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`
	SessionTTL       time.Duration `yaml:"session_ttl" envconfig:"SESSION_TTL"`
	ActionsPerSecond float64       `yaml:"actions_per_second" envconfig:"ACTIONS_PER_SECOND"`
	ActionBurst      int           `yaml:"action_burst" envconfig:"ACTION_BURST"`
}

// WorkflowConfig contains workflow engine configuration
type WorkflowConfig struct {
	TemplatesFile  string        `yaml:"templates_file" envconfig:"TEMPLATES_FILE"`
	PauseCheckTick time.Duration `yaml:"pause_check_tick" envconfig:"PAUSE_CHECK_TICK"`
	BackoffUnit    time.Duration `yaml:"backoff_unit" envconfig:"BACKOFF_UNIT"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	DataDir         string `yaml:"data_dir" envconfig:"DATA_DIR"`
	SessionsFile    string `yaml:"sessions_file" envconfig:"SESSIONS_FILE"`
	CredentialsFile string `yaml:"credentials_file" envconfig:"CREDENTIALS_FILE"`
	ReportsDir      string `yaml:"reports_dir" envconfig:"REPORTS_DIR"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
}

// SecurityConfig contains credential vault configuration. The passphrase
// is expected from the environment (PORTALFLOW_SECURITY_VAULT_PASSPHRASE)
// and is deliberately absent from the default YAML.
type SecurityConfig struct {
	VaultPassphrase string `yaml:"vault_passphrase" envconfig:"VAULT_PASSPHRASE"`
}

// Default returns the built-in configuration. File and environment
// values overlay it in that order.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:         false,
			NavigateTimeout:  30 * time.Second,
			ProbeTimeout:     2 * time.Second,
			FieldWaitTimeout: 10 * time.Second,
			SettleDelay:      3 * time.Second,
			TwoFactorTimeout: 120 * time.Second,
			PollInterval:     2 * time.Second,
			SessionTTL:       24 * time.Hour,
			ActionsPerSecond: 4,
			ActionBurst:      8,
		},
		Workflow: WorkflowConfig{
			PauseCheckTick: 250 * time.Millisecond,
			BackoffUnit:    time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: filepath.Join("logs", "portalflow.log"),
		},
		Paths: PathsConfig{
			DataDir:         "data",
			SessionsFile:    "sessions.json",
			CredentialsFile: "credentials.json",
			ReportsDir:      "reports",
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      30 * time.Second,
			PongWait:        60 * time.Second,
		},
	}
}

// Load loads configuration from the defaults, an optional YAML file and
// environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	return LoadFrom(configFilePath())
}

// LoadFrom is Load with an explicit config file path, used by tests.
func LoadFrom(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			data, err := os.ReadFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := envconfig.Process("PORTALFLOW", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// SessionsPath returns the path of the session store document.
func (c *Config) SessionsPath() string {
	return filepath.Join(c.Paths.DataDir, c.Paths.SessionsFile)
}

// CredentialsPath returns the path of the credential store document.
func (c *Config) CredentialsPath() string {
	return filepath.Join(c.Paths.DataDir, c.Paths.CredentialsFile)
}

// EnsureDirectories creates the data and report directories if missing.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.ReportsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Browser.PollInterval <= 0 {
		return fmt.Errorf("browser poll interval must be positive")
	}
	if c.Browser.TwoFactorTimeout <= 0 {
		return fmt.Errorf("two-factor timeout must be positive")
	}
	if c.Workflow.BackoffUnit <= 0 {
		return fmt.Errorf("workflow backoff unit must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	return nil
}

func configFilePath() string {
	if p := os.Getenv("PORTALFLOW_CONFIG"); p != "" {
		return p
	}
	return "portalflow.yaml"
}
