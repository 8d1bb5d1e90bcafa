package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/harrisonrobin/clockwatch/pkg/schedule"
)

const (
	xdgAppName = "clockwatch"
	configFile = "config.yaml"
	envPrefix  = "CLOCKWATCH"

	NotifierSlack = "slack"
	NotifierGmail = "gmail"
)

type Config struct {
	TeamID         string `mapstructure:"team_id" yaml:"team_id"`
	ClickUpToken   string `mapstructure:"clickup_token" yaml:"clickup_token,omitempty"`
	ClickUpBaseURL string `mapstructure:"clickup_base_url" yaml:"clickup_base_url,omitempty"`
	SlackToken     string `mapstructure:"slack_token" yaml:"slack_token,omitempty"`
	Notifier       string `mapstructure:"notifier" yaml:"notifier"`
	GmailSender    string `mapstructure:"gmail_sender" yaml:"gmail_sender,omitempty"`

	TrackedSpaces    []string `mapstructure:"tracked_spaces" yaml:"tracked_spaces"`
	RelevantStatuses []string `mapstructure:"relevant_statuses" yaml:"relevant_statuses"`
	ReviewStatuses   []string `mapstructure:"review_statuses" yaml:"review_statuses"`
	DeployStatuses   []string `mapstructure:"deploy_statuses" yaml:"deploy_statuses"`

	ActivitySource    string `mapstructure:"activity_source" yaml:"activity_source"`
	StatusUpdateField string `mapstructure:"status_update_field" yaml:"status_update_field,omitempty"`

	// Identities maps tracker names to notification identities.
	Identities map[string]string `mapstructure:"identities" yaml:"identities"`
	// Managers maps a space name to the tracker names of its managers.
	Managers map[string][]string `mapstructure:"managers" yaml:"managers,omitempty"`

	MaxConcurrency     int           `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	MinRequestInterval time.Duration `mapstructure:"min_request_interval" yaml:"min_request_interval"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RunTimeout         time.Duration `mapstructure:"run_timeout" yaml:"run_timeout,omitempty"`

	Schedule string `mapstructure:"schedule" yaml:"schedule"`
	Timezone string `mapstructure:"timezone" yaml:"timezone"`

	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" yaml:"log_json"`
}

func Default() *Config {
	return &Config{
		Notifier:           NotifierSlack,
		RelevantStatuses:   []string{"in progress", "code review", "testing", "ready to prod"},
		ReviewStatuses:     []string{"code review", "testing"},
		DeployStatuses:     []string{"ready to prod"},
		ActivitySource:     "comments",
		StatusUpdateField:  "status update",
		MaxConcurrency:     5,
		MinRequestInterval: 150 * time.Millisecond,
		RequestTimeout:     30 * time.Second,
		Schedule:           "0 */2 * * 1-5",
		Timezone:           "Local",
		LogLevel:           "info",
	}
}

// Dir is the configuration directory, $XDG_CONFIG_HOME/clockwatch or
// ~/.config/clockwatch.
func Dir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, xdgAppName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName), nil
}

func GetConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// secret environment variables kept from the original deployment.
var legacyEnv = map[string]string{
	"team_id":       "TEAM_ID",
	"clickup_token": "CLICKUP_TOKEN",
	"slack_token":   "SLACK_TOKEN",
}

// Load reads the config file (path, or the default location when empty),
// then applies a .env file from the working directory and environment
// overrides. A missing default file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	explicit := path != ""
	if !explicit {
		p, err := GetConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, envPrefix+"_"+strings.ToUpper(key), env); err != nil {
			return nil, err
		}
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("notifier", d.Notifier)
	v.SetDefault("relevant_statuses", d.RelevantStatuses)
	v.SetDefault("review_statuses", d.ReviewStatuses)
	v.SetDefault("deploy_statuses", d.DeployStatuses)
	v.SetDefault("activity_source", d.ActivitySource)
	v.SetDefault("status_update_field", d.StatusUpdateField)
	v.SetDefault("max_concurrency", d.MaxConcurrency)
	v.SetDefault("min_request_interval", d.MinRequestInterval)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("run_timeout", d.RunTimeout)
	v.SetDefault("schedule", d.Schedule)
	v.SetDefault("timezone", d.Timezone)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_json", d.LogJSON)
	v.SetDefault("team_id", "")
	v.SetDefault("clickup_token", "")
	v.SetDefault("clickup_base_url", "")
	v.SetDefault("slack_token", "")
	v.SetDefault("gmail_sender", "")
}

// Validate checks what a run needs before it touches any API.
func (c *Config) Validate() error {
	var errs []error
	if c.TeamID == "" {
		errs = append(errs, errors.New("team_id is required"))
	}
	if c.ClickUpToken == "" {
		errs = append(errs, errors.New("clickup_token is required"))
	}
	if len(c.TrackedSpaces) == 0 {
		errs = append(errs, errors.New("tracked_spaces must list at least one space"))
	}
	switch c.Notifier {
	case NotifierSlack:
		if c.SlackToken == "" {
			errs = append(errs, errors.New("slack_token is required for the slack notifier"))
		}
	case NotifierGmail:
	default:
		errs = append(errs, fmt.Errorf("unknown notifier %q", c.Notifier))
	}
	if c.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("max_concurrency must be positive"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Schedule != "" {
		if err := schedule.Validate(c.Schedule); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Location resolves Timezone; "" and "Local" mean the machine's zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Save writes cfg to path, or to the default location when path is empty.
func Save(cfg *Config, path string) error {
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file for writing: %w", err)
	}
	defer f.Close()

	encoder := yaml.NewEncoder(f)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return encoder.Close()
}
