// Package config loads the service configuration from an optional YAML
// file overlaid with POSTPILOT_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	Image     ImageConfig     `koanf:"image"`
	Search    SearchConfig    `koanf:"search"`
	Platform  PlatformConfig  `koanf:"platform"`
	Store     StoreConfig     `koanf:"store"`
	Bot       BotConfig       `koanf:"bot"`
	Admission AdmissionConfig `koanf:"admission"`
	Server    ServerConfig    `koanf:"server"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider string `koanf:"provider"` // openai, anthropic
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   string `koanf:"api_key"`
}

type ImageConfig struct {
	Enabled   bool   `koanf:"enabled"`
	APIKey    string `koanf:"api_key"`
	Model     string `koanf:"model"`
	AssetsDir string `koanf:"assets_dir"`
}

type SearchConfig struct {
	Enabled    bool   `koanf:"enabled"`
	APIKey     string `koanf:"api_key"`
	Model      string `koanf:"model"`
	MaxResults int    `koanf:"max_results"`
}

type PlatformConfig struct {
	UserID         string `koanf:"user_id"`
	ConsumerKey    string `koanf:"consumer_key"`
	ConsumerSecret string `koanf:"consumer_secret"`
	AccessToken    string `koanf:"access_token"`
	AccessSecret   string `koanf:"access_secret"`
}

type StoreConfig struct {
	Path string `koanf:"path"`
}

type BotConfig struct {
	Persona            string   `koanf:"persona"`
	CharLimit          int      `koanf:"char_limit"`
	PostInterval       string   `koanf:"post_interval"`
	MentionInterval    string   `koanf:"mention_interval"`
	AllowedAuthors     []string `koanf:"allowed_authors"`
	PostHistoryLimit   int      `koanf:"post_history_limit"`
	AuthorHistoryLimit int      `koanf:"author_history_limit"`
}

type AdmissionConfig struct {
	Tier string `koanf:"tier"` // free, basic, pro
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// Global k instance
var k = koanf.New(".")

func Load(path string) (*Config, error) {
	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("llm.provider", "openai")
	k.Set("llm.model", "gpt-4o")

	k.Set("image.enabled", true)
	k.Set("image.model", "google/gemini-3-pro-image-preview")
	k.Set("search.enabled", true)
	k.Set("search.model", "anthropic/claude-sonnet-4.5")
	k.Set("search.max_results", 5)

	k.Set("store.path", "postpilot.db")

	k.Set("bot.char_limit", 280)
	k.Set("bot.post_interval", "6h")
	k.Set("bot.mention_interval", "15m")
	k.Set("bot.post_history_limit", 50)
	k.Set("bot.author_history_limit", 5)

	k.Set("admission.tier", "free")
	k.Set("server.addr", ":8080")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (POSTPILOT_LLM__API_KEY -> llm.api_key). Double
	// underscore separates segments so keys like api_key survive.
	if err := k.Load(env.Provider("POSTPILOT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "POSTPILOT_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("config: unsupported llm provider %q", c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("config: llm.api_key is required")
	}
	if c.Bot.CharLimit <= 3 {
		return fmt.Errorf("config: bot.char_limit must be greater than 3")
	}
	return nil
}
