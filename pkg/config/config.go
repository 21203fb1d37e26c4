// Package config loads the harness configuration.
//
// Values are resolved in three layers: built-in defaults for the IP view page
// served on localhost:8000, an optional YAML file and environment variables.
// CLI flags are applied on top by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported browser drivers.
const (
	DriverRod        = "rod"
	DriverChromedp   = "chromedp"
	DriverPlaywright = "playwright"
)

// Drivers lists the accepted values for Browser.Driver.
var Drivers = []string{DriverRod, DriverChromedp, DriverPlaywright}

// Config holds all harness configuration.
type Config struct {
	TargetURL          string `yaml:"target_url"`
	TimeoutMs          int    `yaml:"timeout_ms"`
	TransitionSettleMs int    `yaml:"transition_settle_ms"`

	Browser   BrowserConfig   `yaml:"browser"`
	Settle    SettleConfig    `yaml:"settle"`
	Structure StructureConfig `yaml:"structure"`
	Toggle    ToggleConfig    `yaml:"toggle"`
	Artifacts ArtifactConfig  `yaml:"artifacts"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	Temporal  TemporalConfig  `yaml:"temporal"`
}

// BrowserConfig selects and configures the automation backend.
type BrowserConfig struct {
	Driver         string `yaml:"driver"`
	Headless       bool   `yaml:"headless"`
	ChromeBin      string `yaml:"chrome_bin"`
	ViewportWidth  int    `yaml:"viewport_width"`
	ViewportHeight int    `yaml:"viewport_height"`
	ConsoleBuffer  int    `yaml:"console_buffer"`
	LaunchTimeout  int    `yaml:"launch_timeout_ms"`
}

// SettleConfig describes the element whose text starts as a sentinel.
type SettleConfig struct {
	Selector       string   `yaml:"selector"`
	Sentinel       string   `yaml:"sentinel"`
	PollIntervalMs int      `yaml:"poll_interval_ms"`
	ErrorValues    []string `yaml:"error_values"`
}

// StructureConfig describes the container that must be visible after settle.
type StructureConfig struct {
	Selector string `yaml:"selector"`
	GraceMs  int    `yaml:"grace_ms"`
}

// ToggleConfig describes the theme root and the control that flips it.
type ToggleConfig struct {
	RootSelector   string `yaml:"root_selector"`
	Attribute      string `yaml:"attribute"`
	Token          string `yaml:"token"`
	ToggleSelector string `yaml:"toggle_selector"`
	RoundTrip      bool   `yaml:"round_trip"`

	// ActionTimeoutMs bounds each read of the root element and the click.
	ActionTimeoutMs int `yaml:"action_timeout_ms"`
}

// ArtifactConfig controls where screenshots are written.
type ArtifactConfig struct {
	Dir    string   `yaml:"dir"`
	PerRun bool     `yaml:"per_run"`
	S3     S3Config `yaml:"s3"`
}

// S3Config enables mirroring artifacts to an S3-compatible bucket.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PublicURL       string `yaml:"public_url"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// Enabled reports whether a bucket has been configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// DatabaseConfig configures the results store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// APIConfig configures cmd/api.
type APIConfig struct {
	Port              string  `yaml:"port"`
	MaxConcurrentRuns int     `yaml:"max_concurrent_runs"`
	RunsPerMinute     float64 `yaml:"runs_per_minute"`
	Burst             int     `yaml:"burst"`
}

// TemporalConfig configures the Temporal client and worker.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue"`
}

// Default returns the configuration for the stock IP view page.
func Default() Config {
	return Config{
		TargetURL:          "http://localhost:8000",
		TimeoutMs:          20000,
		TransitionSettleMs: 500,
		Browser: BrowserConfig{
			Driver:         DriverRod,
			Headless:       true,
			ViewportWidth:  1280,
			ViewportHeight: 720,
			ConsoleBuffer:  500,
			LaunchTimeout:  30000,
		},
		Settle: SettleConfig{
			Selector:       "#ip-address",
			Sentinel:       "Loading...",
			PollIntervalMs: 100,
		},
		Structure: StructureConfig{
			Selector: "#map",
		},
		Toggle: ToggleConfig{
			RootSelector:    "html",
			Attribute:       "class",
			Token:           "dark",
			ToggleSelector:  "#theme-toggle",
			ActionTimeoutMs: 10000,
		},
		Artifacts: ArtifactConfig{
			Dir: "verification",
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Database: DatabaseConfig{
			Driver: "mysql",
		},
		API: APIConfig{
			Port:              "8080",
			MaxConcurrentRuns: 2,
			RunsPerMinute:     30,
			Burst:             5,
		},
		Temporal: TemporalConfig{
			Namespace: "default",
			TaskQueue: "ipview-verify",
		},
	}
}

// Load reads an optional YAML file over the defaults and then applies
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// decode parses YAML strictly so typos in keys are reported.
func decode(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	var problems []string

	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		v := getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %q is not an integer", key, v))
			return
		}
		*dst = n
	}
	flag := func(key string, dst *bool) {
		v := getenv(key)
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %q is not a boolean", key, v))
			return
		}
		*dst = b
	}

	str("VERIFY_TARGET_URL", &c.TargetURL)
	num("VERIFY_TIMEOUT_MS", &c.TimeoutMs)
	num("VERIFY_TRANSITION_MS", &c.TransitionSettleMs)
	str("VERIFY_DRIVER", &c.Browser.Driver)
	flag("VERIFY_HEADLESS", &c.Browser.Headless)
	str("CHROME_BIN", &c.Browser.ChromeBin)
	str("VERIFY_ARTIFACT_DIR", &c.Artifacts.Dir)
	str("SCREENSHOT_DIR", &c.Artifacts.Dir)
	str("VERIFY_S3_BUCKET", &c.Artifacts.S3.Bucket)
	str("AWS_ENDPOINT_URL_S3", &c.Artifacts.S3.Endpoint)
	str("AWS_REGION", &c.Artifacts.S3.Region)
	str("AWS_ACCESS_KEY_ID", &c.Artifacts.S3.AccessKeyID)
	str("AWS_SECRET_ACCESS_KEY", &c.Artifacts.S3.SecretAccessKey)
	str("DB_DRIVER", &c.Database.Driver)
	str("MYSQL_DSN", &c.Database.DSN)
	str("PORT", &c.API.Port)
	str("TEMPORAL_HOST", &c.Temporal.HostPort)
	str("TEMPORAL_NAMESPACE", &c.Temporal.Namespace)
	str("TEMPORAL_TASK_QUEUE", &c.Temporal.TaskQueue)

	if len(problems) > 0 {
		return &ValidationError{Errors: problems}
	}
	return nil
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// IsValidationError reports whether err carries configuration problems.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks the fields the protocol depends on.
func (c Config) Validate() error {
	var problems []string

	if c.TargetURL == "" {
		problems = append(problems, "target_url is required")
	} else if u, err := url.Parse(c.TargetURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("target_url %q is not an absolute URL", c.TargetURL))
	}
	if c.TimeoutMs <= 0 {
		problems = append(problems, "timeout_ms must be positive")
	}
	if c.TransitionSettleMs < 0 {
		problems = append(problems, "transition_settle_ms must not be negative")
	}
	if !isValidDriver(c.Browser.Driver) {
		problems = append(problems, fmt.Sprintf("browser.driver %q must be one of %v", c.Browser.Driver, Drivers))
	}
	if c.Settle.Selector == "" {
		problems = append(problems, "settle.selector is required")
	}
	if c.Settle.PollIntervalMs <= 0 {
		problems = append(problems, "settle.poll_interval_ms must be positive")
	}
	if c.Structure.Selector == "" {
		problems = append(problems, "structure.selector is required")
	}
	if c.Structure.GraceMs < 0 {
		problems = append(problems, "structure.grace_ms must not be negative")
	}
	if c.Toggle.RootSelector == "" {
		problems = append(problems, "toggle.root_selector is required")
	}
	if c.Toggle.ToggleSelector == "" {
		problems = append(problems, "toggle.toggle_selector is required")
	}
	if c.Toggle.Attribute == "" {
		problems = append(problems, "toggle.attribute is required")
	}
	if c.Toggle.ActionTimeoutMs <= 0 {
		problems = append(problems, "toggle.action_timeout_ms must be positive")
	}
	if c.Toggle.Token == "" || strings.ContainsAny(c.Toggle.Token, " \t\n") {
		problems = append(problems, "toggle.token must be a single non-empty token")
	}
	if c.Artifacts.Dir == "" {
		problems = append(problems, "artifacts.dir is required")
	}

	if len(problems) > 0 {
		return &ValidationError{Errors: problems}
	}
	return nil
}

// Timeout is the settle bound as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// TransitionSettle is the fixed post-toggle sleep as a duration.
func (c Config) TransitionSettle() time.Duration {
	return time.Duration(c.TransitionSettleMs) * time.Millisecond
}

// ActionTimeout bounds each toggle read and click as a duration.
func (c Config) ActionTimeout() time.Duration {
	return time.Duration(c.Toggle.ActionTimeoutMs) * time.Millisecond
}

// PollInterval is the settle polling interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Settle.PollIntervalMs) * time.Millisecond
}

// StructureGrace is the optional bounded re-check window for the structural assertion.
func (c Config) StructureGrace() time.Duration {
	return time.Duration(c.Structure.GraceMs) * time.Millisecond
}

// LaunchTimeout bounds browser startup.
func (c Config) LaunchTimeout() time.Duration {
	return time.Duration(c.Browser.LaunchTimeout) * time.Millisecond
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func isValidDriver(name string) bool {
	for _, d := range Drivers {
		if d == name {
			return true
		}
	}
	return false
}
