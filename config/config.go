// Package config loads the notifier's configuration file and message template.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"moddb-notifier/pkg/notifier"

	"gopkg.in/yaml.v3"
)

// Email providers.
const (
	ProviderSMTP  = "smtp"
	ProviderGmail = "gmail"
	ProviderBrevo = "brevo"
	ProviderMock  = "mock"
)

// Config is the operator configuration, loaded once at startup.
type Config struct {
	Schedule Schedule `yaml:"schedule"`
	SMTP     SMTP     `yaml:"smtp"`
	Email    Email    `yaml:"email"`
	ModDB    ModDB    `yaml:"moddb"`
	Members  Members  `yaml:"members"`
	Storage  Storage  `yaml:"storage"`

	// Body is the contents of the message template file.
	Body string `yaml:"-"`
}

// Schedule controls how often a run is started.
type Schedule struct {
	Interval int `yaml:"interval"` // minutes
}

// SMTP holds the relay account; Email is also the sending address.
type SMTP struct {
	Server   string `yaml:"server"`
	Port     int    `yaml:"port"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// Email holds message templates and the delivery provider.
type Email struct {
	Subject     string `yaml:"subject"`  // {author}
	Sender      string `yaml:"sender"`   // {email}
	Template    string `yaml:"template"` // path to the body template
	Provider    string `yaml:"provider"`
	BrevoAPIKey string `yaml:"brevo_api_key"`
}

// ModDB holds site credentials used to see comments hidden from guests.
type ModDB struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	BaseURL  string `yaml:"base_url"`
}

// Members lists the watched members.
type Members struct {
	UIDs []notifier.Member `yaml:"uids"`
}

// Storage selects where the watermark lives. A bucket takes precedence over
// the local path.
type Storage struct {
	Path   string `yaml:"path"`
	Bucket string `yaml:"bucket"`
	Object string `yaml:"object"`
}

// Interval returns the schedule interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Schedule.Interval) * time.Minute
}

// Load reads the YAML configuration at path, applies environment overrides and
// defaults, loads the body template and validates the result. A relative
// template path is resolved against the configuration file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tmplPath := cfg.Email.Template
	if !filepath.IsAbs(tmplPath) {
		tmplPath = filepath.Join(filepath.Dir(path), tmplPath)
	}
	body, err := os.ReadFile(tmplPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read message template: %w", err)
	}
	cfg.Body = string(body)

	return &cfg, nil
}

// applyEnv lets secrets and deployment settings come from the environment.
func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&c.SMTP.Password, "SMTP_PASSWORD")
	override(&c.ModDB.Password, "MODDB_PASSWORD")
	override(&c.Storage.Bucket, "STORAGE_BUCKET")
	override(&c.Email.BrevoAPIKey, "BREVO_API_KEY")
	override(&c.Email.Provider, "EMAIL_PROVIDER")
}

func (c *Config) applyDefaults() {
	if c.Email.Provider == "" {
		c.Email.Provider = ProviderSMTP
	}
	c.Email.Provider = strings.ToLower(c.Email.Provider)
	if c.Email.Subject == "" {
		c.Email.Subject = "New comment from {author}"
	}
	if c.Email.Sender == "" {
		c.Email.Sender = "{email}"
	}
	if c.Email.Template == "" {
		c.Email.Template = "template.txt"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "last_update.txt"
	}
	if c.Storage.Object == "" {
		c.Storage.Object = "last_update.txt"
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Schedule.Interval <= 0 {
		return errors.New("schedule.interval must be a positive number of minutes")
	}
	if len(c.Members.UIDs) == 0 {
		return errors.New("members.uids must list at least one member")
	}
	for i, m := range c.Members.UIDs {
		if strings.TrimSpace(m.UID) == "" || strings.TrimSpace(m.Email) == "" {
			return fmt.Errorf("members.uids[%d] needs both uid and email", i)
		}
	}

	switch c.Email.Provider {
	case ProviderSMTP:
		if c.SMTP.Server == "" || c.SMTP.Port == 0 || c.SMTP.Email == "" {
			return errors.New("smtp.server, smtp.port and smtp.email are required for the smtp provider")
		}
	case ProviderBrevo:
		if c.Email.BrevoAPIKey == "" {
			return errors.New("email.brevo_api_key (or BREVO_API_KEY) is required for the brevo provider")
		}
	case ProviderGmail, ProviderMock:
	default:
		return fmt.Errorf("unknown email.provider %q", c.Email.Provider)
	}
	return nil
}
