package config

import (
	"time"
)

// Settings holds the tunable behaviour of runs and chat sessions.
type Settings struct {
	Defaults   RouteTarget      `yaml:"defaults,omitempty"`
	Retry      RetryConfig      `yaml:"retry,omitempty"`
	Timeouts   TimeoutConfig    `yaml:"timeouts,omitempty"`
	Collection CollectionConfig `yaml:"collection,omitempty"`
	Chat       ChatConfig       `yaml:"chat,omitempty"`
}

// RouteTarget specifies an adapter and model combination.
type RouteTarget struct {
	Adapter string `yaml:"adapter"`
	Model   string `yaml:"model"`
}

// RetryConfig defines retry and backoff behavior.
type RetryConfig struct {
	MaxRetries    int `yaml:"max_retries,omitempty"`
	BaseBackoffMs int `yaml:"base_backoff_ms,omitempty"`
	MaxBackoffMs  int `yaml:"max_backoff_ms,omitempty"`
}

// TimeoutConfig bounds individual external calls.
type TimeoutConfig struct {
	InferenceSeconds int `yaml:"inference_seconds,omitempty"`
	ToolSeconds      int `yaml:"tool_seconds,omitempty"`
}

// CollectionConfig bounds the data-collection loop.
type CollectionConfig struct {
	MaxTurns     int `yaml:"max_turns,omitempty"`
	MaxToolCalls int `yaml:"max_tool_calls,omitempty"`
}

// ChatConfig controls chat history and persistence.
type ChatConfig struct {
	MaxHistory       int `yaml:"max_history,omitempty"`
	StorageBatchSize int `yaml:"storage_batch_size,omitempty"`
	SessionTTLHours  int `yaml:"session_ttl_hours,omitempty"`
}

// Inference returns the per-call inference timeout.
func (t TimeoutConfig) Inference() time.Duration {
	return time.Duration(t.InferenceSeconds) * time.Second
}

// Tool returns the per-call tool timeout.
func (t TimeoutConfig) Tool() time.Duration {
	return time.Duration(t.ToolSeconds) * time.Second
}

// SessionTTL returns how long a cached session lives.
func (c ChatConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// DefaultSettings returns settings with every default applied.
func DefaultSettings() *Settings {
	s := &Settings{}
	applyDefaults(s)
	return s
}

func applyDefaults(s *Settings) {
	if s == nil {
		return
	}
	if s.Defaults.Adapter == "" {
		s.Defaults.Adapter = "bedrock"
	}
	if s.Defaults.Model == "" && s.Defaults.Adapter == "bedrock" {
		s.Defaults.Model = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	if s.Retry.MaxRetries == 0 {
		s.Retry.MaxRetries = 2
	}
	if s.Retry.BaseBackoffMs == 0 {
		s.Retry.BaseBackoffMs = 200
	}
	if s.Retry.MaxBackoffMs == 0 {
		s.Retry.MaxBackoffMs = 2000
	}
	if s.Retry.MaxBackoffMs < s.Retry.BaseBackoffMs {
		s.Retry.MaxBackoffMs = s.Retry.BaseBackoffMs
	}
	if s.Timeouts.InferenceSeconds == 0 {
		s.Timeouts.InferenceSeconds = 120
	}
	if s.Timeouts.ToolSeconds == 0 {
		s.Timeouts.ToolSeconds = 60
	}
	if s.Collection.MaxTurns == 0 {
		s.Collection.MaxTurns = 8
	}
	if s.Collection.MaxToolCalls == 0 {
		s.Collection.MaxToolCalls = 6
	}
	if s.Chat.MaxHistory == 0 {
		s.Chat.MaxHistory = 50
	}
	if s.Chat.StorageBatchSize == 0 {
		s.Chat.StorageBatchSize = 20
	}
	if s.Chat.SessionTTLHours == 0 {
		s.Chat.SessionTTLHours = 24
	}
}
