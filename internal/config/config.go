// Package config loads mailfixture settings from an optional TOML file,
// an optional .env file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/busybox42/mailfixture/internal/api"
	"github.com/busybox42/mailfixture/internal/delivery"
	"github.com/busybox42/mailfixture/internal/fixture"
	"github.com/busybox42/mailfixture/internal/logging"
	"github.com/busybox42/mailfixture/internal/mailhog"
	"github.com/busybox42/mailfixture/internal/smtp"
	"github.com/busybox42/mailfixture/internal/store"
	"github.com/busybox42/mailfixture/internal/watch"
	"github.com/joho/godotenv"

	toml "github.com/pelletier/go-toml/v2"
)

// MaxConfigFileSize bounds the configuration file read from disk
const MaxConfigFileSize = 1024 * 1024

// Environment overrides, applied after the file and any .env file
const (
	EnvSMTPAddr = "MAILFIXTURE_SMTP_ADDR"
	EnvAPIURL   = "MAILHOG_API_URL"
	EnvTestTo   = "TEST_EMAIL"
	EnvLogLevel = "MAILFIXTURE_LOG_LEVEL"
)

// Duration is a time.Duration written as a string such as "5s" in TOML
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the application configuration
type Config struct {
	// Submission of the fixture message
	SMTP struct {
		Addr               string   `toml:"addr"`
		Helo               string   `toml:"helo"`
		TLS                string   `toml:"tls"` // "required", "opportunistic", "none"
		InsecureSkipVerify bool     `toml:"insecure_skip_verify"`
		DialTimeout        Duration `toml:"dial_timeout"`
	} `toml:"smtp"`

	// Fixture envelope and headers
	Fixture struct {
		From    string `toml:"from"`
		To      string `toml:"to"`
		Subject string `toml:"subject"`
		WebUI   string `toml:"web_ui"`
	} `toml:"fixture"`

	// Local capture server
	Capture struct {
		SMTPListen      string `toml:"smtp_listen"`
		HTTPListen      string `toml:"http_listen"`
		Hostname        string `toml:"hostname"`
		Store           string `toml:"store"` // "memory" or "sqlite"
		SQLitePath      string `toml:"sqlite_path"`
		MaxMessageBytes int64  `toml:"max_message_bytes"`
		StartTLS        bool   `toml:"starttls"`
		CertFile        string `toml:"cert_file"`
		KeyFile         string `toml:"key_file"`
		// Requests per second per client on the HTTP API, 0 disables
		RateLimit float64 `toml:"rate_limit"`
	} `toml:"capture"`

	// MailHog compatible API used by status, latest and watch
	API struct {
		URL     string   `toml:"url"`
		Timeout Duration `toml:"timeout"`
	} `toml:"api"`

	Samples struct {
		Dir string `toml:"dir"`
	} `toml:"samples"`

	Watch struct {
		Interval        Duration `toml:"interval"`
		IncludeExisting bool     `toml:"include_existing"`
	} `toml:"watch"`

	Logging struct {
		Level  string `toml:"level"`
		Format string `toml:"format"` // "text" or "json"
	} `toml:"logging"`
}

// DefaultConfig returns a configuration with the built-in fixture defaults
func DefaultConfig() *Config {
	cfg := &Config{}

	sender := delivery.DefaultConfig()
	cfg.SMTP.Addr = sender.Addr
	cfg.SMTP.Helo = sender.HeloName
	cfg.SMTP.TLS = string(sender.TLSMode)
	cfg.SMTP.InsecureSkipVerify = sender.InsecureSkipVerify
	cfg.SMTP.DialTimeout = Duration(sender.DialTimeout)

	cfg.Fixture.From = fixture.DefaultFrom
	cfg.Fixture.To = fixture.DefaultTo
	cfg.Fixture.Subject = fixture.DefaultSubject
	cfg.Fixture.WebUI = fixture.DefaultWebUI

	capture := smtp.DefaultConfig()
	cfg.Capture.SMTPListen = capture.ListenAddr
	cfg.Capture.HTTPListen = api.DefaultConfig().ListenAddr
	cfg.Capture.Hostname = capture.Hostname
	cfg.Capture.Store = "memory"
	cfg.Capture.SQLitePath = "mailfixture.db"
	cfg.Capture.MaxMessageBytes = capture.MaxMessageBytes
	cfg.Capture.StartTLS = capture.StartTLS

	client := mailhog.DefaultConfig()
	cfg.API.URL = client.URL
	cfg.API.Timeout = Duration(client.Timeout)

	cfg.Samples.Dir = "samples"

	cfg.Watch.Interval = Duration(watch.DefaultConfig().Interval)

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	return cfg
}

// FindConfigFile looks for a configuration file in common locations
func FindConfigFile(configPath string) (string, error) {
	// If a specific path is provided, check only that
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
		return "", fmt.Errorf("config file not found at specified path: %s", configPath)
	}

	locations := []string{
		"./mailfixture.toml",
		"./config/mailfixture.toml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		locations = append(locations, home+"/.mailfixture.toml")
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc, nil
		}
	}

	return "", errNoConfigFile
}

var errNoConfigFile = errors.New("no config file found")

// LoadConfig loads the configuration file at configPath, or the first one
// found in the default locations, and applies environment overrides. An
// explicit path that does not exist is an error; finding no file in the
// default locations is not.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	configFile, err := FindConfigFile(configPath)
	switch {
	case errors.Is(err, errNoConfigFile):
		configFile = ""
	case err != nil:
		return nil, err
	}

	if configFile != "" {
		info, err := os.Stat(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > MaxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max: %d)", info.Size(), MaxConfigFileSize)
		}

		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing TOML configuration: %w", err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate().Err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the first existing file among paths into
// the process environment. Variables already set are left alone. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		return nil
	}
	return nil
}

// ApplyEnv overrides settings from the environment
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvSMTPAddr); v != "" {
		c.SMTP.Addr = v
	}
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.API.URL = v
	}
	if v := os.Getenv(EnvTestTo); v != "" {
		c.Fixture.To = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
}

// SaveConfig writes the configuration to configPath as TOML
func (c *Config) SaveConfig(configPath string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	content := append([]byte("# mailfixture configuration\n\n"), data...)
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// CreateDefaultConfig writes the default configuration to configPath,
// refusing to overwrite an existing file
func CreateDefaultConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists at %s", configPath)
	}
	return DefaultConfig().SaveConfig(configPath)
}

// FixtureMessage returns the fixture message described by the configuration
func (c *Config) FixtureMessage() fixture.Fixture {
	f := fixture.Default()
	f.From = c.Fixture.From
	f.To = c.Fixture.To
	f.Subject = c.Fixture.Subject
	return f
}

// SenderConfig returns the submission client configuration
func (c *Config) SenderConfig() delivery.Config {
	cfg := delivery.DefaultConfig()
	cfg.Addr = c.SMTP.Addr
	if c.SMTP.Helo != "" {
		cfg.HeloName = c.SMTP.Helo
	}
	if mode, err := delivery.ParseTLSMode(c.SMTP.TLS); err == nil {
		cfg.TLSMode = mode
	}
	cfg.InsecureSkipVerify = c.SMTP.InsecureSkipVerify
	if c.SMTP.DialTimeout > 0 {
		cfg.DialTimeout = c.SMTP.DialTimeout.Std()
	}
	return cfg
}

// CaptureConfig returns the capture SMTP server configuration
func (c *Config) CaptureConfig() *smtp.Config {
	cfg := smtp.DefaultConfig()
	cfg.ListenAddr = c.Capture.SMTPListen
	cfg.Hostname = c.Capture.Hostname
	cfg.MaxMessageBytes = c.Capture.MaxMessageBytes
	cfg.StartTLS = c.Capture.StartTLS
	cfg.CertFile = c.Capture.CertFile
	cfg.KeyFile = c.Capture.KeyFile
	return cfg
}

// StoreConfig returns the capture store configuration
func (c *Config) StoreConfig() store.Config {
	return store.Config{Type: c.Capture.Store, Path: c.Capture.SQLitePath}
}

// APIConfig returns the capture HTTP API configuration
func (c *Config) APIConfig(version string) *api.Config {
	cfg := api.DefaultConfig()
	cfg.ListenAddr = c.Capture.HTTPListen
	cfg.SMTPAddr = c.Capture.SMTPListen
	cfg.Version = version
	if c.Capture.RateLimit > 0 {
		cfg.RateLimit = api.RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: c.Capture.RateLimit,
		}
	}
	return cfg
}

// MailHogConfig returns the API client configuration
func (c *Config) MailHogConfig() mailhog.Config {
	cfg := mailhog.DefaultConfig()
	cfg.URL = c.API.URL
	if c.API.Timeout > 0 {
		cfg.Timeout = c.API.Timeout.Std()
	}
	return cfg
}

// WatchConfig returns the watcher configuration
func (c *Config) WatchConfig() watch.Config {
	cfg := watch.DefaultConfig()
	cfg.Interval = c.Watch.Interval.Std()
	cfg.Recipient = c.Fixture.To
	cfg.IncludeExisting = c.Watch.IncludeExisting
	return cfg
}

// LoggingConfig returns the logger configuration
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.Logging.Level, Format: c.Logging.Format}
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error in field '%s': %s (current value: %v)", e.Field, e.Message, e.Value)
}

// ValidationResult holds the results of configuration validation
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
	Valid    bool
}

// AddError adds a validation error
func (vr *ValidationResult) AddError(field string, value interface{}, message string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: message})
	vr.Valid = false
}

// AddWarning adds a validation warning
func (vr *ValidationResult) AddWarning(field string, value interface{}, message string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: message})
}

// Err returns nil for a valid result, otherwise one error listing every
// validation error
func (vr *ValidationResult) Err() error {
	if vr.Valid {
		return nil
	}
	messages := make([]string, 0, len(vr.Errors))
	for _, err := range vr.Errors {
		messages = append(messages, err.Error())
	}
	return fmt.Errorf("configuration validation failed: %s", strings.Join(messages, "; "))
}

// Validate checks every section of the configuration
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{Valid: true}

	c.validateSMTP(result)
	c.validateFixture(result)
	c.validateCapture(result)
	c.validateAPI(result)
	c.validateWatch(result)
	c.validateLogging(result)

	if !c.Capture.StartTLS && c.SMTP.TLS == "required" && c.SMTP.Addr == c.Capture.SMTPListen {
		result.AddWarning("capture.starttls", false, "send requires STARTTLS but the capture server does not offer it")
	}

	return result
}

func (c *Config) validateSMTP(result *ValidationResult) {
	if !isValidListenAddress(c.SMTP.Addr) || strings.HasSuffix(c.SMTP.Addr, ":0") {
		result.AddError("smtp.addr", c.SMTP.Addr, "must be host:port")
	}
	if c.SMTP.Helo != "" && !isValidHostname(c.SMTP.Helo) {
		result.AddError("smtp.helo", c.SMTP.Helo, "invalid hostname")
	}
	if _, err := delivery.ParseTLSMode(c.SMTP.TLS); err != nil {
		result.AddError("smtp.tls", c.SMTP.TLS, err.Error())
	}
	if c.SMTP.DialTimeout < 0 {
		result.AddError("smtp.dial_timeout", c.SMTP.DialTimeout.Std(), "cannot be negative")
	}
}

func (c *Config) validateFixture(result *ValidationResult) {
	if !isValidEmail(c.Fixture.From) {
		result.AddError("fixture.from", c.Fixture.From, "invalid email address")
	}
	if !isValidEmail(c.Fixture.To) {
		result.AddError("fixture.to", c.Fixture.To, "invalid email address")
	}
	if strings.ContainsAny(c.Fixture.Subject, "\r\n") {
		result.AddError("fixture.subject", c.Fixture.Subject, "cannot contain line breaks")
	}
}

func (c *Config) validateCapture(result *ValidationResult) {
	if !isValidListenAddress(c.Capture.SMTPListen) {
		result.AddError("capture.smtp_listen", c.Capture.SMTPListen, "invalid listen address")
	}
	if !isValidListenAddress(c.Capture.HTTPListen) {
		result.AddError("capture.http_listen", c.Capture.HTTPListen, "invalid listen address")
	}
	if c.Capture.Hostname != "" && !isValidHostname(c.Capture.Hostname) {
		result.AddError("capture.hostname", c.Capture.Hostname, "invalid hostname")
	}

	switch c.Capture.Store {
	case "memory":
	case "sqlite":
		if c.Capture.SQLitePath == "" {
			result.AddError("capture.sqlite_path", c.Capture.SQLitePath, "required for the sqlite store")
		}
	default:
		result.AddError("capture.store", c.Capture.Store, "must be one of: memory, sqlite")
	}

	if c.Capture.MaxMessageBytes <= 0 {
		result.AddError("capture.max_message_bytes", c.Capture.MaxMessageBytes, "must be positive")
	}
	if (c.Capture.CertFile == "") != (c.Capture.KeyFile == "") {
		result.AddError("capture.cert_file", c.Capture.CertFile, "cert_file and key_file must be set together")
	}
	if c.Capture.RateLimit < 0 {
		result.AddError("capture.rate_limit", c.Capture.RateLimit, "cannot be negative")
	}
}

func (c *Config) validateAPI(result *ValidationResult) {
	u, err := url.Parse(c.API.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		result.AddError("api.url", c.API.URL, "must be an http or https URL")
	}
	if c.API.Timeout < 0 {
		result.AddError("api.timeout", c.API.Timeout.Std(), "cannot be negative")
	}
}

func (c *Config) validateWatch(result *ValidationResult) {
	if c.Watch.Interval.Std() < time.Second {
		result.AddError("watch.interval", c.Watch.Interval.Std(), "must be at least 1s")
	}
}

func (c *Config) validateLogging(result *ValidationResult) {
	if _, err := logging.StringToLevel(c.Logging.Level); err != nil {
		result.AddError("logging.level", c.Logging.Level, "must be one of: debug, info, warn, error")
	}
	if !contains([]string{"text", "json"}, strings.ToLower(c.Logging.Format)) {
		result.AddError("logging.format", c.Logging.Format, "must be one of: text, json")
	}
}

var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`)

func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}

	// Allow localhost and IP addresses
	if hostname == "localhost" || net.ParseIP(hostname) != nil {
		return true
	}

	return hostnameRegex.MatchString(hostname)
}

func isValidListenAddress(addr string) bool {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return false
	}

	// Empty host listens on all interfaces
	if host == "" || host == "0.0.0.0" || host == "::" {
		return true
	}

	return isValidHostname(host)
}

func isValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email, "@")
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
