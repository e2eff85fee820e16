package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	AnthropicAPIKey  string
	OpenAIAPIKey     string
	GoogleAPIKey     string
	DeepSeekAPIKey   string
	LlamaCloudAPIKey string
	SerpAPIKey       string
	AWSRegion        string

	RedisAddr     string
	DynamoDBTable string
	SQLitePath    string

	Settings  *Settings
	Catalog   *ModelCatalog
	ConfigDir string
}

// FileConfig represents the structure of ~/.stockbrief/config.yaml
type FileConfig struct {
	APIKeys  APIKeysConfig `yaml:"api_keys"`
	AWS      AWSConfig     `yaml:"aws"`
	Storage  StorageConfig `yaml:"storage"`
	Settings `yaml:",inline"`
	Models   []ModelEntry `yaml:"models,omitempty"`
}

// APIKeysConfig holds API key configuration from file.
type APIKeysConfig struct {
	Anthropic  string `yaml:"anthropic"`
	OpenAI     string `yaml:"openai"`
	Google     string `yaml:"google"`
	DeepSeek   string `yaml:"deepseek"`
	LlamaCloud string `yaml:"llama_cloud"`
	SerpAPI    string `yaml:"serpapi"`
}

// AWSConfig holds AWS settings used by Bedrock and DynamoDB.
type AWSConfig struct {
	Region string `yaml:"region"`
}

// StorageConfig selects chat persistence backends.
type StorageConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	DynamoDBTable string `yaml:"dynamodb_table"`
	SQLitePath    string `yaml:"sqlite_path"`
}

// Load reads configuration from ~/.stockbrief/config.yaml and environment
// variables. Environment variables take precedence over file configuration.
func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	fileConfig, err := loadFileConfig(filepath.Join(configDir, "config.yaml"), false)
	if err != nil {
		return nil, err
	}
	return build(fileConfig, configDir), nil
}

// LoadFrom loads config from a specific file, which must exist.
func LoadFrom(path string) (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	fileConfig, err := loadFileConfig(path, true)
	if err != nil {
		return nil, err
	}
	return build(fileConfig, configDir), nil
}

func build(fc *FileConfig, configDir string) *Config {
	settings := fc.Settings
	applyDefaults(&settings)

	catalog := DefaultCatalog()
	if len(fc.Models) > 0 {
		catalog = &ModelCatalog{Models: fc.Models}
	}

	return &Config{
		AnthropicAPIKey:  getEnvOrDefault("ANTHROPIC_API_KEY", fc.APIKeys.Anthropic),
		OpenAIAPIKey:     getEnvOrDefault("OPENAI_API_KEY", fc.APIKeys.OpenAI),
		GoogleAPIKey:     getEnvOrDefault("GOOGLE_API_KEY", fc.APIKeys.Google),
		DeepSeekAPIKey:   getEnvOrDefault("DEEPSEEK_API_KEY", fc.APIKeys.DeepSeek),
		LlamaCloudAPIKey: getEnvOrDefault("LLAMA_CLOUD_API_KEY", fc.APIKeys.LlamaCloud),
		SerpAPIKey:       getEnvOrDefault("SERPAPI_API_KEY", fc.APIKeys.SerpAPI),
		AWSRegion:        getEnvOrDefault("AWS_REGION", fc.AWS.Region),
		RedisAddr:        getEnvOrDefault("STOCKBRIEF_REDIS_ADDR", fc.Storage.RedisAddr),
		DynamoDBTable:    getEnvOrDefault("STOCKBRIEF_DYNAMODB_TABLE", fc.Storage.DynamoDBTable),
		SQLitePath:       getEnvOrDefault("STOCKBRIEF_SQLITE_PATH", fc.Storage.SQLitePath),
		Settings:         &settings,
		Catalog:          catalog,
		ConfigDir:        configDir,
	}
}

// HasAdapter returns true if the credentials for the given adapter are configured.
// Bedrock resolves credentials through the AWS default chain and is always
// reported as available.
func (c *Config) HasAdapter(name string) bool {
	switch name {
	case "anthropic":
		return c.AnthropicAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	case "google":
		return c.GoogleAPIKey != ""
	case "deepseek":
		return c.DeepSeekAPIKey != ""
	case "bedrock", "mock":
		return true
	default:
		return false
	}
}

// loadFileConfig reads the config file. A missing file yields an empty config
// unless required is set.
func loadFileConfig(path string, required bool) (*FileConfig, error) {
	cfg := &FileConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".stockbrief")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
