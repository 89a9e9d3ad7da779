package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zergu1ar/steamtrade/store"
	"github.com/zergu1ar/steamtrade/tradeoffer"
)

var envKeys = []string{
	"STEAM_USERNAME", "STEAM_PASSWORD", "STEAM_SHARED_SECRET", "STEAM_IDENTITY_SECRET",
	"STEAM_API_KEY", "STEAM_LANGUAGE", "TRADEBOT_STORE", "TRADEBOT_STORE_DSN", "TRADEBOT_NOTIFY_URL",
}

// isolate runs the test in an empty directory with none of the overrides set.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, k := range envKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	return dir
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoad_YAML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "tradebot.yaml")
	writeFile(t, path, `
steam:
  username: bot
  password: hunter2
  language: ru
manager:
  poll_interval: 10s
  cancel_time: 1h
  cancel_offer_count: 20
  cancel_offer_count_min_age: 5m
store:
  kind: sqlite
notify:
  url: wss://hints.example/ws
  header:
    X-Token: abc
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bot", cfg.Steam.Username)
	assert.Equal(t, "russian", cfg.Steam.Language)
	assert.Equal(t, 10*time.Second, cfg.Manager.PollInterval)
	assert.Equal(t, time.Hour, cfg.Manager.CancelTime)
	assert.Equal(t, store.KindSQLite, cfg.Store.Kind)
	assert.Equal(t, "tradebot.db", cfg.Store.Target)
	assert.Equal(t, "abc", cfg.Notify.Header["X-Token"])

	opts := cfg.ManagerOptions()
	assert.Equal(t, "russian", opts.Language)
	assert.Equal(t, 20, opts.CancelOfferCount)
	assert.Equal(t, 5*time.Minute, opts.CancelOfferCountMinAge)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "tradebot.yaml")
	writeFile(t, path, "steam:\n  username: file\n  password: pw\nstore:\n  kind: sqlite\n")
	t.Setenv("STEAM_USERNAME", "env")
	t.Setenv("TRADEBOT_STORE", "postgres")
	t.Setenv("TRADEBOT_STORE_DSN", "postgres://localhost/trades")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env", cfg.Steam.Username)
	assert.Equal(t, store.KindPostgres, cfg.Store.Kind)
	assert.Equal(t, "postgres://localhost/trades", cfg.Store.Target)
}

func TestLoad_DotEnvAndDefaults(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ".env"), "STEAM_USERNAME=dotenv\nSTEAM_PASSWORD=pw\n")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "dotenv", cfg.Steam.Username)
	assert.Equal(t, store.KindFile, cfg.Store.Kind)
	assert.Equal(t, "data", cfg.Store.Target)
	assert.Equal(t, tradeoffer.DefaultPollInterval, cfg.Manager.PollInterval)
	assert.Empty(t, cfg.Steam.Language)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no credentials", "steam: {}\n", "username and password"},
		{"unknown store", "steam: {username: a, password: b}\nstore: {kind: redis}\n", `unknown store kind "redis"`},
		{"postgres without dsn", "steam: {username: a, password: b}\nstore: {kind: postgres}\n", "needs a DSN"},
		{"negative cancel time", "steam: {username: a, password: b}\nmanager: {cancel_time: -1s}\n", "must not be negative"},
		{"bad yaml", "steam: [\n", "tradebot.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			path := filepath.Join(dir, "tradebot.yaml")
			writeFile(t, path, tt.yaml)
			_, err := Load(path)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestStoreKind(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Kind: store.KindFile, Compress: true}}
	assert.Equal(t, store.KindFileZstd, cfg.StoreKind())
	cfg.Store.Kind = store.KindSQLite
	assert.Equal(t, store.KindSQLite, cfg.StoreKind())
}
