package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the planner service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Session   SessionConfig   `mapstructure:"session"`
	Ranking   RankingConfig   `mapstructure:"ranking"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai, local, etc.
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

// LLMRoutingConfig defines which model to use for different tasks
type LLMRoutingConfig struct {
	Planning string `mapstructure:"planning"` // drives the tool-use loop
	Fallback string `mapstructure:"fallback"`
}

// ToolsConfig configures the external collaborators behind the tool set
type ToolsConfig struct {
	GoogleMapsAPIKey string        `mapstructure:"google_maps_api_key"`
	YelpAPIKey       string        `mapstructure:"yelp_api_key"`
	RosterFile       string        `mapstructure:"roster_file"`
	Timeout          time.Duration `mapstructure:"timeout"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	MaxToolCalls     int           `mapstructure:"max_tool_calls"`
	MaxTurnSeconds   int           `mapstructure:"max_turn_seconds"`
	MaxDriveMinutes  float64       `mapstructure:"max_drive_minutes"`
}

func (t ToolsConfig) Validate() error {
	if strings.TrimSpace(t.RosterFile) == "" {
		return fmt.Errorf("tools.roster_file is required")
	}
	if t.MaxToolCalls < 0 {
		return fmt.Errorf("tools.max_tool_calls cannot be negative")
	}
	if t.MaxTurnSeconds < 0 {
		return fmt.Errorf("tools.max_turn_seconds cannot be negative")
	}
	return nil
}

// SessionConfig controls the session store
type SessionConfig struct {
	Store     string        `mapstructure:"store"` // inmemory, redis
	TTL       time.Duration `mapstructure:"ttl"`
	SweepCron string        `mapstructure:"sweep_cron"`
	Redis     RedisConfig   `mapstructure:"redis"`
}

func (s SessionConfig) Validate() error {
	switch s.Store {
	case "", "inmemory":
	case "redis":
		if err := s.Redis.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("session.store must be inmemory or redis, got %q", s.Store)
	}
	return nil
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("session.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("session.redis.port required")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	viper.SetDefault("server.address", ":8000")
	viper.SetDefault("tools.roster_file", "friends.json")
	viper.SetDefault("tools.timeout", "15s")
	viper.SetDefault("tools.cache_ttl", "10m")
	viper.SetDefault("tools.max_tool_calls", 15)
	viper.SetDefault("tools.max_turn_seconds", 120)
	viper.SetDefault("tools.max_drive_minutes", 40)
	viper.SetDefault("session.store", "inmemory")
	viper.SetDefault("session.ttl", "1h")
	viper.SetDefault("session.sweep_cron", "*/5 * * * *")
	viper.SetDefault("ranking.default_profile", "safe")

	if path == "" {
		viper.AddConfigPath("./app/config") // path to look for the config file in
		viper.AddConfigPath("./config")     // path to look for the config file in
		viper.AddConfigPath(".")            // optionally look for config in the working directory
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)                                // bin/
		viper.AddConfigPath(filepath.Join(exeDir, ".."))           // repo root
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("TABLY")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (TABLY_*)

	err := viper.ReadInConfig() // Find and read the config file
	if err != nil {             // Handle errors reading the config file
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	// unmarshal config
	var config Config

	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Ranking = config.Ranking.Normalize()

	if err := config.Tools.Validate(); err != nil {
		panic(err)
	}
	if err := config.Session.Validate(); err != nil {
		panic(err)
	}
	if err := config.Ranking.Validate(); err != nil {
		panic(err)
	}
	return &config
}
