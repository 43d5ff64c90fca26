package common

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Server      ServerConfig   `toml:"server"`
	Security    SecurityConfig `toml:"security"`
	Storage     StorageConfig  `toml:"storage"`
	Jobs        JobsConfig     `toml:"jobs"`
	Refresh     RefreshConfig  `toml:"refresh"`
	Portal      PortalConfig   `toml:"portal"`
	Browser     BrowserConfig  `toml:"browser"`
	Logging     LoggingConfig  `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host"`
}

// SecurityConfig holds the process-wide secrets. Neither value is ever logged.
type SecurityConfig struct {
	MasterKey string `toml:"master_key" validate:"required"` // 32 bytes raw, or base64 of 32 bytes
	APIKey    string `toml:"api_key"`                        // X-API-Key expected on /api/sync/
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

// JobsConfig sizes the sync worker pool and the in-memory job table
type JobsConfig struct {
	Workers   int    `toml:"workers" validate:"min=1,max=50"` // Concurrent sync jobs (each may drive a browser)
	TTL       string `toml:"ttl" validate:"required"`         // Idle time before a job record is evicted, e.g. "10m"
	QueueSize int    `toml:"queue_size" validate:"min=1"`     // Submitted jobs waiting for a worker
}

// RefreshConfig controls the background session refresh sweep
type RefreshConfig struct {
	Enabled         bool   `toml:"enabled"`
	Interval        string `toml:"interval"`                             // Delay between the end of one sweep and the start of the next
	Schedule        string `toml:"schedule"`                             // Optional cron expression; overrides interval when set
	SessionLifetime string `toml:"session_lifetime" validate:"required"` // Portal session lifetime the interval must stay under
	RunOnStart      bool   `toml:"run_on_start"`                         // Sweep once immediately at startup
}

// PortalConfig describes the external portal endpoints
type PortalConfig struct {
	BaseURL           string        `toml:"base_url" validate:"required,url"`
	LoginURL          string        `toml:"login_url" validate:"required,url"`
	HomePath          string        `toml:"home_path" validate:"required"` // Authenticated landing route, e.g. "/ct/home"
	HomeCourseURL     string        `toml:"home_course_url" validate:"required,url"`
	UserAgent         string        `toml:"user_agent"`
	RequestTimeout    time.Duration `toml:"request_timeout"`
	RequestsPerSecond float64       `toml:"requests_per_second" validate:"gt=0"`
	Timezone          string        `toml:"timezone" validate:"required"`
}

// BrowserConfig configures the headless Chrome sessions used for interactive login
type BrowserConfig struct {
	Headless       bool          `toml:"headless"`
	NoSandbox      bool          `toml:"no_sandbox"`
	DisableGPU     bool          `toml:"disable_gpu"`
	WindowWidth    int           `toml:"window_width"`
	WindowHeight   int           `toml:"window_height"`
	MaxInstances   int           `toml:"max_instances" validate:"min=1"`
	ElementTimeout time.Duration `toml:"element_timeout"` // Wait for login form fields and the landing route
	MFATimeout     time.Duration `toml:"mfa_timeout"`     // Wait for the verification code display
	KMSITimeout    time.Duration `toml:"kmsi_timeout"`    // Wait for the stay-signed-in prompt
	ErrorProbe     time.Duration `toml:"error_probe"`     // Wait for inline username/password errors
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Jobs: JobsConfig{
			Workers:   5,
			TTL:       "10m",
			QueueSize: 100,
		},
		Refresh: RefreshConfig{
			Enabled:         true,
			Interval:        "80m", // portal sessions expire after 90 minutes
			SessionLifetime: "90m",
			RunOnStart:      true,
		},
		Portal: PortalConfig{
			BaseURL:           "https://ct.ritsumei.ac.jp",
			LoginURL:          "https://ct.ritsumei.ac.jp/ct/login",
			HomePath:          "/ct/home",
			HomeCourseURL:     "https://ct.ritsumei.ac.jp/ct/home_course",
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			RequestTimeout:    30 * time.Second,
			RequestsPerSecond: 4,
			Timezone:          "Asia/Tokyo",
		},
		Browser: BrowserConfig{
			Headless:       true,
			NoSandbox:      true,
			DisableGPU:     true,
			WindowWidth:    1920,
			WindowHeight:   1080,
			MaxInstances:   6, // job workers + the refresh sweep
			ElementTimeout: 120 * time.Second,
			MFATimeout:     30 * time.Second,
			KMSITimeout:    60 * time.Second,
			ErrorProbe:     3 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Later files override earlier ones
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CAMPUSSYNC_ENV"); env != "" {
		config.Environment = env
	}

	// Server
	if port := os.Getenv("CAMPUSSYNC_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("CAMPUSSYNC_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Security
	if key := os.Getenv("CAMPUSSYNC_MASTER_KEY"); key != "" {
		config.Security.MasterKey = key
	}
	if apiKey := os.Getenv("CAMPUSSYNC_API_KEY"); apiKey != "" {
		config.Security.APIKey = apiKey
	}

	// Storage
	if badgerPath := os.Getenv("CAMPUSSYNC_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Jobs
	if workers := os.Getenv("CAMPUSSYNC_JOBS_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Jobs.Workers = w
		}
	}
	if ttl := os.Getenv("CAMPUSSYNC_JOBS_TTL"); ttl != "" {
		config.Jobs.TTL = ttl
	}

	// Refresh
	if enabled := os.Getenv("CAMPUSSYNC_REFRESH_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Refresh.Enabled = b
		}
	}
	if interval := os.Getenv("CAMPUSSYNC_REFRESH_INTERVAL"); interval != "" {
		config.Refresh.Interval = interval
	}
	if schedule := os.Getenv("CAMPUSSYNC_REFRESH_SCHEDULE"); schedule != "" {
		config.Refresh.Schedule = schedule
	}

	// Portal
	if baseURL := os.Getenv("CAMPUSSYNC_PORTAL_BASE_URL"); baseURL != "" {
		config.Portal.BaseURL = baseURL
	}
	if tz := os.Getenv("CAMPUSSYNC_PORTAL_TIMEZONE"); tz != "" {
		config.Portal.Timezone = tz
	}

	// Browser
	if headless := os.Getenv("CAMPUSSYNC_BROWSER_HEADLESS"); headless != "" {
		if b, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = b
		}
	}
	if maxInstances := os.Getenv("CAMPUSSYNC_BROWSER_MAX_INSTANCES"); maxInstances != "" {
		if n, err := strconv.Atoi(maxInstances); err == nil {
			config.Browser.MaxInstances = n
		}
	}

	// Logging
	if level := os.Getenv("CAMPUSSYNC_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("CAMPUSSYNC_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
// Flags have the highest priority
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks struct constraints and the cross-field rules go-playground tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := c.MasterKeyBytes(); err != nil {
		return err
	}

	if _, err := time.ParseDuration(c.Jobs.TTL); err != nil {
		return fmt.Errorf("invalid jobs.ttl %q: %w", c.Jobs.TTL, err)
	}

	if _, err := time.LoadLocation(c.Portal.Timezone); err != nil {
		return fmt.Errorf("invalid portal.timezone %q: %w", c.Portal.Timezone, err)
	}

	if c.Refresh.Enabled {
		if _, err := c.RefreshSchedule(); err != nil {
			return err
		}
	}

	// Wiping the store would drop every remembered credential
	if c.IsProduction() && c.Storage.Badger.ResetOnStartup {
		return fmt.Errorf("storage.badger.reset_on_startup is not allowed in production")
	}

	return nil
}

// MasterKeyBytes returns the 256-bit vault key. A 32-character value is used as-is,
// anything else must be standard base64 of 32 bytes.
func (c *Config) MasterKeyBytes() ([]byte, error) {
	key := strings.TrimSpace(c.Security.MasterKey)
	if len(key) == 32 {
		return []byte(key), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("security.master_key must be 32 bytes or base64 of 32 bytes")
	}
	if len(decoded) != 32 {
		return nil, fmt.Errorf("security.master_key decodes to %d bytes, expected 32", len(decoded))
	}
	return decoded, nil
}

// JobTTL returns the parsed job idle TTL
func (c *Config) JobTTL() time.Duration {
	ttl, err := time.ParseDuration(c.Jobs.TTL)
	if err != nil || ttl <= 0 {
		return 10 * time.Minute
	}
	return ttl
}

// Location returns the portal's local time zone
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Portal.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RefreshSchedule resolves the sweep schedule. A cron expression wins over the interval.
// An interval schedule must stay under the portal session lifetime.
func (c *Config) RefreshSchedule() (cron.Schedule, error) {
	if c.Refresh.Schedule != "" {
		schedule, err := cron.ParseStandard(c.Refresh.Schedule)
		if err != nil {
			return nil, fmt.Errorf("invalid refresh.schedule: %w", err)
		}
		return schedule, nil
	}

	interval, err := time.ParseDuration(c.Refresh.Interval)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh.interval %q: %w", c.Refresh.Interval, err)
	}
	lifetime, err := time.ParseDuration(c.Refresh.SessionLifetime)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh.session_lifetime %q: %w", c.Refresh.SessionLifetime, err)
	}
	if interval <= 0 || interval >= lifetime {
		return nil, fmt.Errorf("refresh.interval (%s) must be positive and shorter than the session lifetime (%s)", interval, lifetime)
	}

	return cron.Every(interval), nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
