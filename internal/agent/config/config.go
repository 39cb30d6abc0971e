package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the agent system
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Context   ContextConfig   `mapstructure:"context"`
	Data      DataConfig      `mapstructure:"data"`
	MCP       MCPConfig       `mapstructure:"mcp"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Server    ServerConfig    `mapstructure:"server"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai, anthropic
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model to use for each pipeline stage
type LLMRoutingConfig struct {
	Planning   string `mapstructure:"planning"`
	Execution  string `mapstructure:"execution"`
	Validation string `mapstructure:"validation"`
	Synthesis  string `mapstructure:"synthesis"`
	Fallback   string `mapstructure:"fallback"`
}

// ExecutionConfig bounds the agent's step loop
type ExecutionConfig struct {
	MaxTotalSteps   int `mapstructure:"max_total_steps"`
	MaxStepsPerTask int `mapstructure:"max_steps_per_task"`
}

// ContextConfig bounds accumulated tool output
type ContextConfig struct {
	MaxOutputTokens       int `mapstructure:"max_output_tokens"`
	MaxSingleOutputTokens int `mapstructure:"max_single_output_tokens"`
	MaxListItems          int `mapstructure:"max_list_items"`
}

// DataConfig locates the clinical data set
type DataConfig struct {
	FHIRDir string `mapstructure:"fhir_dir"`
}

// MCPConfig configures the remote medical analysis server
type MCPConfig struct {
	ServerURL string `mapstructure:"server_url"`
	APIKey    string `mapstructure:"api_key"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // redis or memory
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	LogFile      string `mapstructure:"log_file"`
	CostTracking bool   `mapstructure:"cost_tracking"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	viper.SetConfigName("medster_config")
	viper.SetConfigType("json")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("MEDSTER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Config file is optional - defaults apply if not found
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("general.debug", false)
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "30s")

	viper.SetDefault("llm.routing.planning", "gpt-5")
	viper.SetDefault("llm.routing.execution", "gpt-5")
	viper.SetDefault("llm.routing.validation", "gpt-5")
	viper.SetDefault("llm.routing.synthesis", "gpt-5")
	viper.SetDefault("llm.routing.fallback", "gpt-5-nano")

	viper.SetDefault("execution.max_total_steps", 50)
	viper.SetDefault("execution.max_steps_per_task", 12)

	viper.SetDefault("context.max_output_tokens", 50000)
	viper.SetDefault("context.max_single_output_tokens", 10000)
	viper.SetDefault("context.max_list_items", 20)

	viper.SetDefault("data.fhir_dir", "./data/fhir")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.redis.host", "localhost")
	viper.SetDefault("storage.redis.port", 6379)
	viper.SetDefault("storage.redis.db", 0)
	viper.SetDefault("storage.redis.timeout", "5s")

	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.cost_tracking", true)

	viper.SetDefault("server.address", ":8080")
}

// overrideFromEnv overrides configuration with environment variables
func overrideFromEnv() {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		viper.Set("llm.providers.openai.api_key", apiKey)
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		viper.Set("llm.providers.anthropic.api_key", apiKey)
	}

	if dir := os.Getenv("MEDSTER_FHIR_PATH"); dir != "" {
		viper.Set("data.fhir_dir", dir)
	}

	if url := os.Getenv("MCP_SERVER_URL"); url != "" {
		viper.Set("mcp.server_url", url)
	}
	if key := os.Getenv("MCP_API_KEY"); key != "" {
		viper.Set("mcp.api_key", key)
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		viper.Set("storage.redis.host", host)
		viper.Set("storage.type", "redis")
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("storage.redis.port", p)
		}
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		viper.Set("storage.redis.password", password)
	}
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if len(config.LLM.Providers) == 0 {
		return fmt.Errorf("at least one LLM provider must be configured")
	}

	routingModels := []string{
		config.LLM.Routing.Planning,
		config.LLM.Routing.Execution,
		config.LLM.Routing.Validation,
		config.LLM.Routing.Synthesis,
		config.LLM.Routing.Fallback,
	}

	for _, model := range routingModels {
		if model == "" {
			continue
		}
		found := false
		for _, provider := range config.LLM.Providers {
			for _, providerModel := range provider.Models {
				if providerModel.Name == model {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return fmt.Errorf("routing model '%s' not found in any provider", model)
		}
	}

	if config.Execution.MaxTotalSteps <= 0 {
		return fmt.Errorf("execution.max_total_steps must be positive")
	}
	if config.Execution.MaxStepsPerTask <= 0 {
		return fmt.Errorf("execution.max_steps_per_task must be positive")
	}

	return nil
}
