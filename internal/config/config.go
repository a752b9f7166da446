package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables holding secrets. They never live in the config file.
const (
	EnvLLMAPIKey    = "KLUSTERAI_API_KEY"
	EnvGitHubToken  = "GH_TOKEN"
	EnvSlackToken   = "SLACK_TOKEN"
	EnvSlackWebhook = "SLACK_WEBHOOK_URL"
)

// DefaultConfigPath is used when no --config flag is given.
const DefaultConfigPath = "config.yaml"

// Config holds all application configuration
type Config struct {
	GitHub   GitHubConfig   `yaml:"github" toml:"github"`
	LLM      LLMConfig      `yaml:"klusterai" toml:"klusterai"`
	Slack    SlackConfig    `yaml:"slack" toml:"slack"`
	Limits   LimitsConfig   `yaml:"limits" toml:"limits"`
	State    StateConfig    `yaml:"state" toml:"state"`
	Schedule ScheduleConfig `yaml:"schedule" toml:"schedule"`
	Log      LogConfig      `yaml:"log" toml:"log"`

	// Path is the file the config was loaded from.
	Path string `yaml:"-" toml:"-"`
}

// GitHubConfig selects the issues to summarize. Org takes precedence over
// Owner/Repo and covers every repository of the organization.
type GitHubConfig struct {
	Owner   string `yaml:"owner" toml:"owner"`
	Repo    string `yaml:"repo" toml:"repo"`
	Org     string `yaml:"org" toml:"org"`
	State   string `yaml:"state" toml:"state"`
	BaseURL string `yaml:"base_url" toml:"base_url"`
	Token   string `yaml:"-" toml:"-"`
}

// LLMConfig holds the batch inference endpoint settings
type LLMConfig struct {
	BaseURL          string   `yaml:"base_url" toml:"base_url"`
	Model            string   `yaml:"model" toml:"model"`
	CompletionWindow string   `yaml:"completion_window" toml:"completion_window"`
	PollInterval     Duration `yaml:"poll_interval" toml:"poll_interval"`
	APIKey           string   `yaml:"-" toml:"-"`
}

// SlackConfig holds the delivery channel settings
type SlackConfig struct {
	Channel    string `yaml:"channel" toml:"channel"`
	APIURL     string `yaml:"api_url" toml:"api_url"`
	WebhookURL string `yaml:"webhook_url" toml:"webhook_url"`
	Token      string `yaml:"-" toml:"-"`
}

// LimitsConfig bounds request and message sizes
type LimitsConfig struct {
	InputTokensPerRequest int `yaml:"input_tokens_per_request" toml:"input_tokens_per_request"`
	MessageChars          int `yaml:"message_chars" toml:"message_chars"`
}

// StateConfig locates the last-run file and the batch JSONL files
type StateConfig struct {
	Dir      string   `yaml:"dir" toml:"dir"`
	Lookback Duration `yaml:"lookback" toml:"lookback"`
}

// ScheduleConfig drives the watch command
type ScheduleConfig struct {
	Cron string `yaml:"cron" toml:"cron"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		GitHub: GitHubConfig{
			State:   "open",
			BaseURL: "https://api.github.com/",
		},
		LLM: LLMConfig{
			BaseURL:          "https://api.kluster.ai/v1",
			CompletionWindow: "24h",
			PollInterval:     Duration(10 * time.Second),
		},
		Slack: SlackConfig{
			APIURL: "https://slack.com/api/",
		},
		Limits: LimitsConfig{
			InputTokensPerRequest: 100000,
			MessageChars:          40000,
		},
		State: StateConfig{
			Lookback: Duration(24 * time.Hour),
		},
		Schedule: ScheduleConfig{
			Cron: "0 9 * * *",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML or TOML file and the secrets from the
// environment. envPath overrides the env file that sits next to the config.
func Load(path, envPath string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	path = ExpandPath(path)

	if err := loadEnvFile(path, envPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Path = path

	cfg.LLM.APIKey = os.Getenv(EnvLLMAPIKey)
	cfg.GitHub.Token = os.Getenv(EnvGitHubToken)
	cfg.Slack.Token = os.Getenv(EnvSlackToken)
	if hook := os.Getenv(EnvSlackWebhook); hook != "" {
		cfg.Slack.WebhookURL = hook
	}

	if cfg.State.Dir == "" {
		cfg.State.Dir = filepath.Dir(path)
	}
	cfg.State.Dir = ExpandPath(cfg.State.Dir)

	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, cfg)
	case ".yaml", ".yml", "":
		return yaml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

// loadEnvFile loads the explicit env file, or the config path with an .env
// extension when it exists. Variables already set in the process win.
func loadEnvFile(configPath, envPath string) error {
	if envPath != "" {
		if err := gotenv.Load(ExpandPath(envPath)); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		return nil
	}

	sidecar := EnvPathFor(configPath)
	if _, err := os.Stat(sidecar); err != nil {
		return nil
	}
	if err := gotenv.Load(sidecar); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// EnvPathFor returns the config path with its extension replaced by .env
func EnvPathFor(configPath string) string {
	return strings.TrimSuffix(configPath, filepath.Ext(configPath)) + ".env"
}

// Validate checks if the config is usable for a digest run
func (c *Config) Validate() error {
	var errs []error
	if c.GitHub.Org == "" && (c.GitHub.Owner == "" || c.GitHub.Repo == "") {
		errs = append(errs, errors.New("github: either org or owner and repo are required"))
	}
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("klusterai: model is required"))
	}
	if c.Slack.Channel == "" {
		errs = append(errs, errors.New("slack: channel is required"))
	}
	if c.Limits.InputTokensPerRequest <= 0 {
		errs = append(errs, errors.New("limits: input_tokens_per_request must be positive"))
	}
	if c.Limits.MessageChars <= 0 {
		errs = append(errs, errors.New("limits: message_chars must be positive"))
	}
	return errors.Join(errs...)
}

// Identity names the configuration for per-config state such as the last-run file.
func (c *Config) Identity() string {
	base := filepath.Base(c.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// Duration is a time.Duration written as "10s" or "24h" in config files.
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText implements encoding.TextUnmarshaler (used by go-toml).
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}
