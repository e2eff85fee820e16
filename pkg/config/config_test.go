package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestConfigUsesFileValues(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	clearEnv(t)

	configDir := filepath.Join(home, ".stockbrief")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	data := []byte(`api_keys:
  anthropic: file-ant
  llama_cloud: file-llama
aws:
  region: ap-south-1
storage:
  redis_addr: localhost:6380
retry:
  max_retries: 4
collection:
  max_turns: 3
chat:
  storage_batch_size: 5
defaults:
  adapter: anthropic
  model: claude-sonnet-4-20250514
`)
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AnthropicAPIKey != "file-ant" || cfg.LlamaCloudAPIKey != "file-llama" {
		t.Fatalf("expected file API keys, got %q %q", cfg.AnthropicAPIKey, cfg.LlamaCloudAPIKey)
	}
	if cfg.AWSRegion != "ap-south-1" || cfg.RedisAddr != "localhost:6380" {
		t.Fatalf("unexpected aws/storage config: %+v", cfg)
	}
	s := cfg.Settings
	if s.Retry.MaxRetries != 4 || s.Retry.BaseBackoffMs != 200 {
		t.Fatalf("unexpected retry: %+v", s.Retry)
	}
	if s.Collection.MaxTurns != 3 || s.Collection.MaxToolCalls != 6 {
		t.Fatalf("unexpected collection: %+v", s.Collection)
	}
	if s.Chat.StorageBatchSize != 5 || s.Chat.MaxHistory != 50 {
		t.Fatalf("unexpected chat: %+v", s.Chat)
	}
	if s.Defaults.Adapter != "anthropic" || s.Defaults.Model != "claude-sonnet-4-20250514" {
		t.Fatalf("unexpected defaults: %+v", s.Defaults)
	}
}

func TestConfigEnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("api_keys:\n  serpapi: file-serp\nstorage:\n  dynamodb_table: file-table\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SERPAPI_API_KEY", "env-serp")
	t.Setenv("STOCKBRIEF_DYNAMODB_TABLE", "env-table")
	t.Setenv("OPENAI_API_KEY", "env-openai")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SerpAPIKey != "env-serp" || cfg.DynamoDBTable != "env-table" || cfg.OpenAIAPIKey != "env-openai" {
		t.Fatalf("expected env values to win: %+v", cfg)
	}
	if !cfg.HasAdapter("openai") || cfg.HasAdapter("google") || !cfg.HasAdapter("bedrock") {
		t.Fatalf("unexpected adapter availability")
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	setHomeEnv(t, t.TempDir())
	if _, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	configDir := filepath.Join(home, ".stockbrief")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte("retry: [1, 2"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if s.Defaults.Adapter != "bedrock" || s.Defaults.Model != "anthropic.claude-3-5-sonnet-20241022-v2:0" {
		t.Errorf("unexpected defaults: %+v", s.Defaults)
	}
	if s.Retry.MaxRetries != 2 || s.Retry.BaseBackoffMs != 200 || s.Retry.MaxBackoffMs != 2000 {
		t.Errorf("unexpected retry: %+v", s.Retry)
	}
	if s.Timeouts.Inference() != 120*time.Second || s.Timeouts.Tool() != 60*time.Second {
		t.Errorf("unexpected timeouts: %+v", s.Timeouts)
	}
	if s.Collection.MaxTurns != 8 || s.Collection.MaxToolCalls != 6 {
		t.Errorf("unexpected collection: %+v", s.Collection)
	}
	if s.Chat.SessionTTL() != 24*time.Hour {
		t.Errorf("unexpected ttl: %v", s.Chat.SessionTTL())
	}
}

func TestApplyDefaultsClampsBackoff(t *testing.T) {
	s := &Settings{Retry: RetryConfig{BaseBackoffMs: 500, MaxBackoffMs: 100}}
	applyDefaults(s)
	if s.Retry.MaxBackoffMs != 500 {
		t.Errorf("MaxBackoffMs = %d, want 500", s.Retry.MaxBackoffMs)
	}
}

func setHomeEnv(t *testing.T, home string) {
	t.Helper()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GOOGLE_API_KEY", "DEEPSEEK_API_KEY",
		"LLAMA_CLOUD_API_KEY", "SERPAPI_API_KEY", "AWS_REGION",
		"STOCKBRIEF_REDIS_ADDR", "STOCKBRIEF_DYNAMODB_TABLE", "STOCKBRIEF_SQLITE_PATH",
	} {
		t.Setenv(name, "")
	}
}
