package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment string            `mapstructure:"environment"`
	LogLevel    string            `mapstructure:"log_level"`
	Server      ServerConfig      `mapstructure:"server"`
	Chain       ChainConfig       `mapstructure:"chain"`
	Farcaster   FarcasterConfig   `mapstructure:"farcaster"`
	AI          AIConfig          `mapstructure:"ai"`
	Arena       ArenaConfig       `mapstructure:"arena"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
}

type ServerConfig struct {
	Port          int    `mapstructure:"port"`
	Host          string `mapstructure:"host"`
	ReadTimeout   int    `mapstructure:"read_timeout"`
	WriteTimeout  int    `mapstructure:"write_timeout"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// ChainConfig configures access to the on-chain contract through one or
// more redundant JSON-RPC endpoints.
type ChainConfig struct {
	RPCURLs           []string `mapstructure:"rpc_urls"`
	ContractAddress   string   `mapstructure:"contract_address"`
	Timeout           int      `mapstructure:"timeout"`
	MaxRetries        int      `mapstructure:"max_retries"`
	RequestsPerSecond int      `mapstructure:"requests_per_second"`
}

type FarcasterConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	BotHandle  string `mapstructure:"bot_handle"`
	Timeout    int    `mapstructure:"timeout"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// AIConfig contains AI provider configuration
type AIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
	Timeout     int     `mapstructure:"timeout"`
}

// ArenaConfig holds the coordination-layer timing and sizing knobs.
// All durations are in seconds.
type ArenaConfig struct {
	UserFactsTTL       int `mapstructure:"user_facts_ttl"`
	CommonFactsTTL     int `mapstructure:"common_facts_ttl"`
	DedupWindow        int `mapstructure:"dedup_window"`
	SpamWindow         int `mapstructure:"spam_window"`
	ReservationTimeout int `mapstructure:"reservation_timeout"`
	MaxQueueSize       int `mapstructure:"max_queue_size"`
	MaxQueueWait       int `mapstructure:"max_queue_wait"`
	InterRequestDelay  int `mapstructure:"inter_request_delay_ms"`
	TopUpSuspicion     int `mapstructure:"topup_suspicion_window"`

	// Cached balances below this value right after a recorded top-up are
	// treated as implausible and force a refresh.
	SuspicionThreshold float64 `mapstructure:"balance_suspicion_threshold"`
}

type PersistenceConfig struct {
	DataDir       string `mapstructure:"data_dir"`
	DebounceDelay int    `mapstructure:"debounce_delay_ms"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// Set defaults
	setDefaults()

	// Read from config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Override specific environment variables
	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)

	// Chain defaults
	viper.SetDefault("chain.rpc_urls", []string{"https://mainnet.base.org"})
	viper.SetDefault("chain.timeout", 15)
	viper.SetDefault("chain.max_retries", 3)
	viper.SetDefault("chain.requests_per_second", 10)

	// Farcaster defaults
	viper.SetDefault("farcaster.base_url", "https://api.neynar.com")
	viper.SetDefault("farcaster.bot_handle", "castarena")
	viper.SetDefault("farcaster.timeout", 15)
	viper.SetDefault("farcaster.max_retries", 3)

	// AI defaults
	viper.SetDefault("ai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("ai.model", "gpt-4o-mini")
	viper.SetDefault("ai.max_tokens", 300)
	viper.SetDefault("ai.temperature", 0.8)
	viper.SetDefault("ai.timeout", 45)

	// Coordination defaults
	viper.SetDefault("arena.user_facts_ttl", 60)
	viper.SetDefault("arena.common_facts_ttl", 300)
	viper.SetDefault("arena.dedup_window", 60)
	viper.SetDefault("arena.spam_window", 10)
	viper.SetDefault("arena.reservation_timeout", 30)
	viper.SetDefault("arena.max_queue_size", 5)
	viper.SetDefault("arena.max_queue_wait", 120)
	viper.SetDefault("arena.inter_request_delay_ms", 500)
	viper.SetDefault("arena.topup_suspicion_window", 120)
	viper.SetDefault("arena.balance_suspicion_threshold", 0.000001)

	// Persistence defaults
	viper.SetDefault("persistence.data_dir", "./data")
	viper.SetDefault("persistence.debounce_delay_ms", 2000)
}

func overrideFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("server.port", p)
		}
	}
	if secret := os.Getenv("WEBHOOK_SECRET"); secret != "" {
		viper.Set("server.webhook_secret", secret)
	}
	if urls := os.Getenv("CHAIN_RPC_URLS"); urls != "" {
		parts := strings.Split(urls, ",")
		var cleaned []string
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			viper.Set("chain.rpc_urls", cleaned)
		}
	}
	if contract := os.Getenv("CONTRACT_ADDRESS"); contract != "" {
		viper.Set("chain.contract_address", contract)
	}
	if key := os.Getenv("FARCASTER_API_KEY"); key != "" {
		viper.Set("farcaster.api_key", key)
	}
	if key := os.Getenv("NEYNAR_API_KEY"); key != "" {
		viper.Set("farcaster.api_key", key)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		viper.Set("ai.api_key", key)
	}
	if model := os.Getenv("AI_MODEL"); model != "" {
		viper.Set("ai.model", model)
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		viper.Set("persistence.data_dir", dir)
	}
}

func validate(cfg *Config) error {
	if len(cfg.Chain.RPCURLs) == 0 {
		return fmt.Errorf("chain.rpc_urls must not be empty")
	}
	if cfg.Arena.DedupWindow <= 0 || cfg.Arena.ReservationTimeout <= 0 {
		return fmt.Errorf("arena windows must be positive")
	}
	// A reservation must never outlive the window during which a duplicate
	// of its request could still be admitted.
	if cfg.Arena.ReservationTimeout >= cfg.Arena.DedupWindow {
		return fmt.Errorf("arena.reservation_timeout (%d) must be shorter than arena.dedup_window (%d)",
			cfg.Arena.ReservationTimeout, cfg.Arena.DedupWindow)
	}
	if cfg.Arena.SpamWindow > cfg.Arena.DedupWindow {
		return fmt.Errorf("arena.spam_window must not exceed arena.dedup_window")
	}
	if cfg.Arena.MaxQueueSize <= 0 {
		return fmt.Errorf("arena.max_queue_size must be positive")
	}
	if cfg.Environment == "production" && cfg.Server.WebhookSecret == "" {
		return fmt.Errorf("server.webhook_secret is required in production")
	}
	return nil
}

// UserFactsTTLDuration returns the per-address cache validity window.
func (a ArenaConfig) UserFactsTTLDuration() time.Duration {
	return time.Duration(a.UserFactsTTL) * time.Second
}

// CommonFactsTTLDuration returns the global cache validity window.
func (a ArenaConfig) CommonFactsTTLDuration() time.Duration {
	return time.Duration(a.CommonFactsTTL) * time.Second
}

// DedupWindowDuration returns the duplicate-suppression window.
func (a ArenaConfig) DedupWindowDuration() time.Duration {
	return time.Duration(a.DedupWindow) * time.Second
}

// SpamWindowDuration returns the near-duplicate sub-window.
func (a ArenaConfig) SpamWindowDuration() time.Duration {
	return time.Duration(a.SpamWindow) * time.Second
}

// ReservationTimeoutDuration returns the reservation expiry interval.
func (a ArenaConfig) ReservationTimeoutDuration() time.Duration {
	return time.Duration(a.ReservationTimeout) * time.Second
}

// MaxQueueWaitDuration returns how long an entry may wait before age-out.
func (a ArenaConfig) MaxQueueWaitDuration() time.Duration {
	return time.Duration(a.MaxQueueWait) * time.Second
}

// InterRequestDelayDuration returns the burst-smoothing delay between
// consecutive requests for one address.
func (a ArenaConfig) InterRequestDelayDuration() time.Duration {
	return time.Duration(a.InterRequestDelay) * time.Millisecond
}

// TopUpSuspicionDuration returns how long after a top-up a near-zero cached
// balance is treated as implausible.
func (a ArenaConfig) TopUpSuspicionDuration() time.Duration {
	return time.Duration(a.TopUpSuspicion) * time.Second
}

// DebounceDelayDuration returns the snapshot write coalescing delay.
func (p PersistenceConfig) DebounceDelayDuration() time.Duration {
	return time.Duration(p.DebounceDelay) * time.Millisecond
}
