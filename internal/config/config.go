// internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Captcha CaptchaConfig `mapstructure:"captcha" yaml:"captcha"`
	Worker  WorkerConfig  `mapstructure:"worker" yaml:"worker"`
}

// LoggerConfig configures the zap logger and the rotating log file.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BackendConfig points at the record-keeping REST API.
type BackendConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	InternalAPIKey string        `mapstructure:"internal_api_key" yaml:"internal_api_key"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// RequestsPerSecond throttles calls to the backend; zero disables the limiter.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// BrowserConfig configures both session variants.
type BrowserConfig struct {
	Headless bool     `mapstructure:"headless" yaml:"headless"`
	ExecPath string   `mapstructure:"exec_path" yaml:"exec_path"`
	Args     []string `mapstructure:"args" yaml:"args"`
	// RemoteURL is the CDP websocket endpoint of the pre-provisioned remote
	// browser used when captchas are solved out of band.
	RemoteURL string `mapstructure:"remote_url" yaml:"remote_url"`
	// DownloadDir is where intercepted downloads land; empty means a fresh
	// temp dir per session.
	DownloadDir       string        `mapstructure:"download_dir" yaml:"download_dir"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// CaptchaConfig configures the external token service.
type CaptchaConfig struct {
	APIURL       string        `mapstructure:"api_url" yaml:"api_url"`
	APIKey       string        `mapstructure:"api_key" yaml:"api_key"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	SolveTimeout time.Duration `mapstructure:"solve_timeout" yaml:"solve_timeout"`
}

// WorkerConfig configures the job orchestrator.
type WorkerConfig struct {
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
	JobTimeout  time.Duration `mapstructure:"job_timeout" yaml:"job_timeout"`
	// MaxAttempts bounds full-run restarts of one search; the source had no
	// bound and could loop forever on a permanently broken selector.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	QueueSize   int `mapstructure:"queue_size" yaml:"queue_size"`
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "factuscan")
	v.SetDefault("logger.log_file", "factuscan.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.timeout", "30s")
	v.SetDefault("backend.requests_per_second", 10.0)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.action_timeout", "5s")

	v.SetDefault("captcha.api_url", "https://api.anti-captcha.com")
	v.SetDefault("captcha.poll_interval", "5s")
	v.SetDefault("captcha.solve_timeout", "2m")

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.job_timeout", "3m")
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.queue_size", 100)
}

// Load reads configuration from viper's current state into a typed Config.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker.max_attempts must be positive, got %d", c.Worker.MaxAttempts)
	}
	return nil
}
