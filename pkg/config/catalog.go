package config

import (
	"fmt"
	"sort"
	"strings"
)

// ModelEntry is one selectable model.
type ModelEntry struct {
	Name        string   `yaml:"name"`
	Provider    string   `yaml:"provider"`
	ID          string   `yaml:"id"`
	Description string   `yaml:"description,omitempty"`
	Aliases     []string `yaml:"aliases,omitempty"`
	Default     bool     `yaml:"default,omitempty"`
}

// ModelCatalog maps display names and aliases to provider model IDs.
type ModelCatalog struct {
	Models []ModelEntry `yaml:"models"`
}

// Resolve finds a model by display name, alias or provider ID.
// Names and aliases match case-insensitively.
func (c *ModelCatalog) Resolve(nameOrID string) (ModelEntry, bool) {
	if c == nil {
		return ModelEntry{}, false
	}
	for _, m := range c.Models {
		if m.ID == nameOrID || strings.EqualFold(m.Name, nameOrID) {
			return m, true
		}
		for _, alias := range m.Aliases {
			if strings.EqualFold(alias, nameOrID) {
				return m, true
			}
		}
	}
	return ModelEntry{}, false
}

// Default returns the entry flagged as default, or the first entry.
func (c *ModelCatalog) Default() (ModelEntry, bool) {
	if c == nil || len(c.Models) == 0 {
		return ModelEntry{}, false
	}
	for _, m := range c.Models {
		if m.Default {
			return m, true
		}
	}
	return c.Models[0], true
}

// ValidateModel checks if a model exists in the provider's list.
// Returns nil if valid, or an error describing the problem.
func (c *ModelCatalog) ValidateModel(provider, model string) error {
	if c == nil || len(c.Models) == 0 {
		return nil
	}

	known := false
	for _, m := range c.Models {
		if m.Provider != provider {
			continue
		}
		known = true
		if m.ID == model {
			return nil
		}
	}
	if !known {
		return fmt.Errorf("unknown adapter %q", provider)
	}
	return fmt.Errorf("model %q not in %s provider list", model, provider)
}

// Providers returns a sorted list of provider names.
func (c *ModelCatalog) Providers() []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]bool)
	var providers []string
	for _, m := range c.Models {
		if !seen[m.Provider] {
			seen[m.Provider] = true
			providers = append(providers, m.Provider)
		}
	}
	sort.Strings(providers)
	return providers
}

// ProviderModels returns the entries for a given provider in catalog order.
func (c *ModelCatalog) ProviderModels(provider string) []ModelEntry {
	if c == nil {
		return nil
	}
	var out []ModelEntry
	for _, m := range c.Models {
		if m.Provider == provider {
			out = append(out, m)
		}
	}
	return out
}

// DefaultCatalog returns the built-in model catalog.
func DefaultCatalog() *ModelCatalog {
	return &ModelCatalog{
		Models: []ModelEntry{
			{
				Name:        "Claude 3.5 Sonnet v2",
				Provider:    "bedrock",
				ID:          "anthropic.claude-3-5-sonnet-20241022-v2:0",
				Description: "Balanced quality and latency on Bedrock",
				Aliases:     []string{"sonnet-3.5"},
				Default:     true,
			},
			{
				Name:        "Claude 3.7 Sonnet",
				Provider:    "bedrock",
				ID:          "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
				Description: "Extended reasoning on Bedrock (cross-region profile)",
				Aliases:     []string{"sonnet-3.7"},
			},
			{
				Name:        "Claude Sonnet 4",
				Provider:    "anthropic",
				ID:          "claude-sonnet-4-20250514",
				Description: "Anthropic API",
				Aliases:     []string{"quality"},
			},
			{
				Name:        "GPT-4o",
				Provider:    "openai",
				ID:          "gpt-4o",
				Description: "OpenAI chat completions",
				Aliases:     []string{"fast"},
			},
			{
				Name:        "Gemini 2.0 Flash",
				Provider:    "google",
				ID:          "gemini-2.0-flash",
				Description: "Google Gemini",
				Aliases:     []string{"research"},
			},
			{
				Name:        "DeepSeek Chat",
				Provider:    "deepseek",
				ID:          "deepseek-chat",
				Description: "DeepSeek OpenAI-compatible API",
				Aliases:     []string{"cheap"},
			},
			{
				Name:        "DeepSeek Reasoner",
				Provider:    "deepseek",
				ID:          "deepseek-reasoner",
				Description: "DeepSeek with reasoning traces",
				Aliases:     []string{"reason"},
			},
		},
	}
}
