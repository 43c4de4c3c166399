// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// DefaultMaxAgeMinutes is how long a verified session stays reusable (8h).
const DefaultMaxAgeMinutes = 480

// Config is the root configuration, unmarshaled by viper.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Network  NetworkConfig  `mapstructure:"network" yaml:"network"`
	Target   TargetConfig   `mapstructure:"target" yaml:"target"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Login    LoginConfig    `mapstructure:"login" yaml:"login"`
	Wizard   WizardConfig   `mapstructure:"wizard" yaml:"wizard"`
	Extract  ExtractConfig  `mapstructure:"extract" yaml:"extract"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the browser process.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args            []string `mapstructure:"args" yaml:"args"`
	ExecPath        string   `mapstructure:"exec_path" yaml:"exec_path"`
	ViewportWidth   int64    `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight  int64    `mapstructure:"viewport_height" yaml:"viewport_height"`
	Stealth         bool     `mapstructure:"stealth" yaml:"stealth"`
}

// NetworkConfig tunes navigation and settle behavior.
type NetworkConfig struct {
	NavigationTimeout time.Duration     `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	QuiescenceTimeout time.Duration     `mapstructure:"quiescence_timeout" yaml:"quiescence_timeout"`
	PostLoadWait      time.Duration     `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	Headers           map[string]string `mapstructure:"headers" yaml:"headers"`
}

// TargetConfig identifies the application and the account to use.
type TargetConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"-"`
	// UseKeyring looks the password up in the OS keyring when none was given.
	UseKeyring     bool   `mapstructure:"use_keyring" yaml:"use_keyring"`
	KeyringService string `mapstructure:"keyring_service" yaml:"keyring_service"`
}

// SessionConfig controls session persistence and reuse.
type SessionConfig struct {
	File          string `mapstructure:"file" yaml:"file"`
	MaxAgeMinutes int    `mapstructure:"max_age_minutes" yaml:"max_age_minutes"`
	ForceLogin    bool   `mapstructure:"force_login" yaml:"force_login"`
}

// LoginConfig bounds every wait in the login sequence.
type LoginConfig struct {
	SelectorTimeout  time.Duration `mapstructure:"selector_timeout" yaml:"selector_timeout"`
	IndicatorTimeout time.Duration `mapstructure:"indicator_timeout" yaml:"indicator_timeout"`
	PollAttempts     int           `mapstructure:"poll_attempts" yaml:"poll_attempts"`
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	SettleTimeout    time.Duration `mapstructure:"settle_timeout" yaml:"settle_timeout"`
	SettleInterval   time.Duration `mapstructure:"settle_interval" yaml:"settle_interval"`
}

// WizardConfig lists the labelled steps clicked before extraction.
type WizardConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Steps    []string      `mapstructure:"steps" yaml:"steps"`
	Attempts int           `mapstructure:"attempts" yaml:"attempts"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ExtractConfig tunes the paginated extraction loop.
type ExtractConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	ScrollSteps    int           `mapstructure:"scroll_steps" yaml:"scroll_steps"`
	ScrollPixels   int           `mapstructure:"scroll_pixels" yaml:"scroll_pixels"`
	ControlTimeout time.Duration `mapstructure:"control_timeout" yaml:"control_timeout"`
	SettleTimeout  time.Duration `mapstructure:"settle_timeout" yaml:"settle_timeout"`
	Output         string        `mapstructure:"output" yaml:"output"`
}

// DatabaseConfig holds the optional PostgreSQL sink details.
type DatabaseConfig struct {
	URL   string `mapstructure:"url" yaml:"url"`
	Table string `mapstructure:"table" yaml:"table"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "harvest")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", true)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.stealth", true)

	// -- Network --
	v.SetDefault("network.navigation_timeout", "60s")
	v.SetDefault("network.quiescence_timeout", "15s")
	v.SetDefault("network.post_load_wait", "1500ms")

	// -- Session --
	v.SetDefault("session.file", "session.json")
	v.SetDefault("session.max_age_minutes", DefaultMaxAgeMinutes)
	v.SetDefault("session.force_login", false)

	// -- Target --
	v.SetDefault("target.use_keyring", false)
	v.SetDefault("target.keyring_service", "harvest")

	// -- Login --
	v.SetDefault("login.selector_timeout", "1s")
	v.SetDefault("login.indicator_timeout", "1500ms")
	v.SetDefault("login.poll_attempts", 10)
	v.SetDefault("login.poll_interval", "1s")
	v.SetDefault("login.settle_timeout", "5s")
	v.SetDefault("login.settle_interval", "250ms")

	// -- Wizard --
	v.SetDefault("wizard.enabled", true)
	v.SetDefault("wizard.steps", []string{"Launch Challenge", "Local Database", "All Products", "Table View", "View Products"})
	v.SetDefault("wizard.attempts", 3)
	v.SetDefault("wizard.timeout", "5s")

	// -- Extract --
	v.SetDefault("extract.max_attempts", 50)
	v.SetDefault("extract.scroll_steps", 5)
	v.SetDefault("extract.scroll_pixels", 800)
	v.SetDefault("extract.control_timeout", "2s")
	v.SetDefault("extract.settle_timeout", "10s")
	v.SetDefault("extract.output", "products.json")

	// -- Database --
	v.SetDefault("database.table", "extracted_rows")
}

// NewConfigFromViper creates a validated configuration from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Credentials are commonly provided through the environment.
	_ = v.BindEnv("target.username", "HARVEST_TARGET_USERNAME", "APP_EMAIL")
	_ = v.BindEnv("target.password", "HARVEST_TARGET_PASSWORD", "APP_PASSWORD")
	_ = v.BindEnv("database.url", "HARVEST_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
// Credentials are not required here since a reusable session may make them unnecessary.
func (c *Config) Validate() error {
	if c.Target.URL != "" {
		u, err := url.Parse(c.Target.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("target.url must be an absolute URL")
		}
	}
	if c.Session.File == "" {
		return fmt.Errorf("session.file is required")
	}
	if c.Session.MaxAgeMinutes <= 0 {
		return fmt.Errorf("session.max_age_minutes must be a positive integer")
	}
	if err := c.Login.Validate(); err != nil {
		return fmt.Errorf("login configuration invalid: %w", err)
	}
	if err := c.Extract.Validate(); err != nil {
		return fmt.Errorf("extract configuration invalid: %w", err)
	}
	if c.Wizard.Enabled && c.Wizard.Attempts <= 0 {
		return fmt.Errorf("wizard.attempts must be a positive integer")
	}
	return nil
}

// Validate checks the LoginConfig settings.
func (l *LoginConfig) Validate() error {
	if l.PollAttempts <= 0 {
		return fmt.Errorf("poll_attempts must be a positive integer")
	}
	if l.SelectorTimeout <= 0 || l.IndicatorTimeout <= 0 || l.PollInterval <= 0 {
		return fmt.Errorf("selector_timeout, indicator_timeout and poll_interval must be positive durations")
	}
	return nil
}

// Validate checks the ExtractConfig settings.
func (e *ExtractConfig) Validate() error {
	if e.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be a positive integer")
	}
	if e.ScrollSteps < 0 {
		return fmt.Errorf("scroll_steps must not be negative")
	}
	if e.Output == "" {
		return fmt.Errorf("output is required")
	}
	return nil
}
