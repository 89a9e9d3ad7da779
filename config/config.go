// Package config loads tradebot settings from a YAML file, a .env file and the
// environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	steam "github.com/zergu1ar/steamtrade"
	"github.com/zergu1ar/steamtrade/store"
	"github.com/zergu1ar/steamtrade/tradeoffer"
)

const StoreNone = "none"

type Config struct {
	Steam   SteamConfig   `yaml:"steam"`
	Manager ManagerConfig `yaml:"manager"`
	Store   StoreConfig   `yaml:"store"`
	Notify  NotifyConfig  `yaml:"notify"`
}

type SteamConfig struct {
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	SharedSecret   string `yaml:"shared_secret"`
	IdentitySecret string `yaml:"identity_secret"`
	APIKey         string `yaml:"api_key"`
	// Language accepts a Steam language name or a BCP 47 tag.
	Language string `yaml:"language"`
}

type ManagerConfig struct {
	PollInterval           time.Duration `yaml:"poll_interval"`
	CancelTime             time.Duration `yaml:"cancel_time"`
	PendingCancelTime      time.Duration `yaml:"pending_cancel_time"`
	CancelOfferCount       int           `yaml:"cancel_offer_count"`
	CancelOfferCountMinAge time.Duration `yaml:"cancel_offer_count_min_age"`
	AssetCacheSize         int           `yaml:"asset_cache_size"`
}

type StoreConfig struct {
	// Kind is file, sqlite, postgres or none.
	Kind string `yaml:"kind"`
	// Target is a directory, a database path or a DSN depending on Kind.
	Target   string `yaml:"target"`
	Compress bool   `yaml:"compress"`
}

type NotifyConfig struct {
	URL    string            `yaml:"url"`
	Header map[string]string `yaml:"header"`
}

// Load reads path (optional) and the .env file in the working directory
// (optional), then applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf(".env: %w", err)
	}

	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	override(&c.Steam.Username, "STEAM_USERNAME")
	override(&c.Steam.Password, "STEAM_PASSWORD")
	override(&c.Steam.SharedSecret, "STEAM_SHARED_SECRET")
	override(&c.Steam.IdentitySecret, "STEAM_IDENTITY_SECRET")
	override(&c.Steam.APIKey, "STEAM_API_KEY")
	override(&c.Steam.Language, "STEAM_LANGUAGE")
	override(&c.Store.Kind, "TRADEBOT_STORE")
	override(&c.Store.Target, "TRADEBOT_STORE_DSN")
	override(&c.Notify.URL, "TRADEBOT_NOTIFY_URL")
}

func override(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) normalize() {
	c.Steam.Language = steam.ResolveLanguage(c.Steam.Language)
	c.Store.Kind = strings.ToLower(strings.TrimSpace(c.Store.Kind))
	if c.Store.Kind == "" {
		c.Store.Kind = store.KindFile
	}
	if c.Store.Target == "" {
		switch c.Store.Kind {
		case store.KindFile:
			c.Store.Target = "data"
		case store.KindSQLite:
			c.Store.Target = "tradebot.db"
		}
	}
	if c.Manager.PollInterval == 0 {
		c.Manager.PollInterval = tradeoffer.DefaultPollInterval
	}
}

func (c *Config) Validate() error {
	if c.Steam.Username == "" || c.Steam.Password == "" {
		return errors.New("steam username and password are required")
	}
	switch c.Store.Kind {
	case store.KindFile, store.KindSQLite, StoreNone:
	case store.KindPostgres:
		if c.Store.Target == "" {
			return errors.New("postgres store needs a DSN")
		}
	default:
		return fmt.Errorf("unknown store kind %q", c.Store.Kind)
	}
	if c.Manager.CancelTime < 0 || c.Manager.PendingCancelTime < 0 || c.Manager.CancelOfferCountMinAge < 0 {
		return errors.New("cancel times must not be negative")
	}
	if c.Manager.CancelOfferCount < 0 || c.Manager.AssetCacheSize < 0 {
		return errors.New("counts must not be negative")
	}
	return nil
}

// StoreKind is the kind to hand to store.Open, folding the compression flag in.
func (c *Config) StoreKind() string {
	if c.Store.Kind == store.KindFile && c.Store.Compress {
		return store.KindFileZstd
	}
	return c.Store.Kind
}

func (c *Config) Credentials() *steam.Credentials {
	return &steam.Credentials{
		Username:       c.Steam.Username,
		Password:       c.Steam.Password,
		SharedSecret:   c.Steam.SharedSecret,
		IdentitySecret: c.Steam.IdentitySecret,
	}
}

// ManagerOptions fills the configurable part of tradeoffer.Options.
func (c *Config) ManagerOptions() tradeoffer.Options {
	return tradeoffer.Options{
		Language:               c.Steam.Language,
		PollInterval:           c.Manager.PollInterval,
		CancelTime:             c.Manager.CancelTime,
		PendingCancelTime:      c.Manager.PendingCancelTime,
		CancelOfferCount:       c.Manager.CancelOfferCount,
		CancelOfferCountMinAge: c.Manager.CancelOfferCountMinAge,
	}
}
