package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	DataDir      string     `yaml:"data_dir"`
	AccountsFile string     `yaml:"accounts_file"`
	Collection   Collection `yaml:"collection"`
	Trend        Trend      `yaml:"trend"`
	RateLimit    RateLimit  `yaml:"rate_limit"`
	Fetcher      Fetcher    `yaml:"fetcher"`
	Publish      Publish    `yaml:"publish"`
	Generation   Generation `yaml:"generation"`
	Profile      Profile    `yaml:"profile"`
	Review       Review     `yaml:"review"`
	Schedule     Schedule   `yaml:"schedule"`
	Metrics      Metrics    `yaml:"metrics"`
	Server       Server     `yaml:"server"`
	Logging      Logging    `yaml:"logging"`
}

type Collection struct {
	PostsPerAccount     int      `yaml:"posts_per_account"`
	MaxPostAgeMinutes   int      `yaml:"max_post_age_minutes"`
	MaxPostsPerScan     int      `yaml:"max_posts_per_scan"`
	AuthorCooldownHours int      `yaml:"author_cooldown_hours"`
	SearchQueries       []string `yaml:"search_queries"`
}

type Trend struct {
	LikeWeight   float64 `yaml:"like_weight"`
	RepostWeight float64 `yaml:"retweet_weight"`
	ReplyWeight  float64 `yaml:"reply_weight"`
	MinScore     float64 `yaml:"min_score"`
	MinCount     int     `yaml:"min_count"`
}

type RateLimit struct {
	DelaySeconds             float64 `yaml:"delay_seconds"`
	PublishDelaySeconds      float64 `yaml:"publish_delay_seconds"`
	Retries                  int     `yaml:"retries"`
	BackoffSeconds           int     `yaml:"backoff_seconds"`
	MaxConcurrentGenerations int     `yaml:"max_concurrent_generations"`
}

type Fetcher struct {
	Source          string `yaml:"source"`
	BirdPath        string `yaml:"bird_path"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	FeedURLTemplate string `yaml:"feed_url_template"`
	CacheMinutes    int    `yaml:"cache_minutes"`
}

type Publish struct {
	Mode    string  `yaml:"mode"`
	Browser Browser `yaml:"browser"`
}

type Browser struct {
	ProfileDir     string `yaml:"profile_dir"`
	RemoteURL      string `yaml:"remote_url"`
	Headless       bool   `yaml:"headless"`
	ExecPath       string `yaml:"exec_path"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type Generation struct {
	Provider        string  `yaml:"provider"`
	Model           string  `yaml:"model"`
	OllamaURL       string  `yaml:"ollama_url"`
	OpenAIModel     string  `yaml:"openai_model"`
	APIKeyEnv       string  `yaml:"api_key_env"`
	GeminiModel     string  `yaml:"gemini_model"`
	GeminiKeyEnv    string  `yaml:"gemini_key_env"`
	MaxTokens       int     `yaml:"max_tokens"`
	Temperature     float64 `yaml:"temperature"`
	TimeoutSeconds  int     `yaml:"timeout_seconds"`
	LinkContext     bool    `yaml:"link_context"`
	SessionTTLHours int     `yaml:"session_ttl_hours"`
}

type Profile struct {
	Expertise     []string  `yaml:"expertise"`
	Tone          string    `yaml:"tone"`
	Keywords      []string  `yaml:"keywords"`
	AvoidKeywords []string  `yaml:"avoid_keywords"`
	Examples      []Example `yaml:"examples"`
}

type Example struct {
	Post    string `yaml:"post"`
	Comment string `yaml:"comment"`
}

type Review struct {
	Driver   string   `yaml:"driver"`
	Telegram Telegram `yaml:"telegram"`
}

type Telegram struct {
	TokenEnv string `yaml:"token_env"`
	ChatID   int64  `yaml:"chat_id"`
}

type Schedule struct {
	Cron                string `yaml:"cron"`
	ScanIntervalMinutes int    `yaml:"scan_interval_minutes"`
	WatchAccounts       bool   `yaml:"watch_accounts"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for xgrowth.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "xgrowth")
}

// DataDir returns the XDG data directory for xgrowth.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "xgrowth")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/xgrowth/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'xgrowth init' to create a default config",
		xdgConfig,
	)
}

// LoadEnv loads .env files from the working directory and the config
// directory. Variables already set in the environment win.
func LoadEnv() error {
	for _, path := range []string{".env", filepath.Join(ConfigDir(), ".env")} {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}
	return nil
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		Collection: Collection{
			PostsPerAccount:     20,
			MaxPostAgeMinutes:   30,
			MaxPostsPerScan:     10,
			AuthorCooldownHours: 0,
		},
		Trend: Trend{
			LikeWeight:   1.0,
			RepostWeight: 2.0,
			ReplyWeight:  1.5,
			MinScore:     30,
			MinCount:     3,
		},
		RateLimit: RateLimit{
			DelaySeconds:             3,
			PublishDelaySeconds:      10,
			Retries:                  2,
			BackoffSeconds:           30,
			MaxConcurrentGenerations: 3,
		},
		Fetcher: Fetcher{
			Source:          "bird",
			BirdPath:        "bird",
			TimeoutSeconds:  30,
			FeedURLTemplate: "https://rsshub.app/twitter/user/{handle}",
			CacheMinutes:    10,
		},
		Publish: Publish{
			Mode:    "bird",
			Browser: Browser{TimeoutSeconds: 60},
		},
		Generation: Generation{
			Provider:        "ollama",
			Model:           "qwen2.5:7b",
			OllamaURL:       "http://localhost:11434",
			OpenAIModel:     "gpt-4o-mini",
			APIKeyEnv:       "OPENAI_API_KEY",
			GeminiModel:     "gemini-2.5-flash",
			GeminiKeyEnv:    "GEMINI_API_KEY",
			MaxTokens:       512,
			Temperature:     0.8,
			TimeoutSeconds:  120,
			SessionTTLHours: 168,
		},
		Review: Review{
			Driver:   "terminal",
			Telegram: Telegram{TokenEnv: "TELEGRAM_BOT_TOKEN"},
		},
		Schedule: Schedule{
			ScanIntervalMinutes: 30,
			WatchAccounts:       true,
		},
		Metrics: Metrics{Addr: ":9464"},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Fetcher.Source {
	case "bird", "feed":
	default:
		return fmt.Errorf("fetcher.source must be bird or feed, got %q", c.Fetcher.Source)
	}
	switch c.Publish.Mode {
	case "bird", "browser":
	default:
		return fmt.Errorf("publish.mode must be bird or browser, got %q", c.Publish.Mode)
	}
	switch c.Review.Driver {
	case "terminal", "telegram":
	default:
		return fmt.Errorf("review.driver must be terminal or telegram, got %q", c.Review.Driver)
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	return DataDir()
}

// GetAccountsFile returns the accounts file path, defaulting to the config dir.
func (c *Config) GetAccountsFile() string {
	if c.AccountsFile != "" {
		return c.AccountsFile
	}
	return filepath.Join(ConfigDir(), "accounts.yaml")
}

// AuthorCooldown is the author exclusion window. Zero means all history.
func (c *Config) AuthorCooldown() time.Duration {
	return time.Duration(c.Collection.AuthorCooldownHours) * time.Hour
}

func seconds(n float64) time.Duration {
	return time.Duration(n * float64(time.Second))
}

// FetchDelay is the minimum spacing between fetch calls.
func (c *Config) FetchDelay() time.Duration { return seconds(c.RateLimit.DelaySeconds) }

// PublishDelay is the minimum spacing between publish calls.
func (c *Config) PublishDelay() time.Duration { return seconds(c.RateLimit.PublishDelaySeconds) }

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
