package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadClean(t *testing.T) (*Config, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	return Load()
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadClean(t)
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"https://mainnet.base.org"}, cfg.Chain.RPCURLs)
	assert.Equal(t, 60, cfg.Arena.UserFactsTTL)
	assert.Equal(t, 300, cfg.Arena.CommonFactsTTL)
	assert.Equal(t, 5, cfg.Arena.MaxQueueSize)
	assert.Equal(t, 2000, cfg.Persistence.DebounceDelay)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("WEBHOOK_SECRET", "hub-secret")
	t.Setenv("CHAIN_RPC_URLS", "https://rpc-a.example, https://rpc-b.example")
	t.Setenv("CONTRACT_ADDRESS", "0xarena")

	cfg, err := loadClean(t)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "hub-secret", cfg.Server.WebhookSecret)
	assert.Equal(t, []string{"https://rpc-a.example", "https://rpc-b.example"}, cfg.Chain.RPCURLs)
	assert.Equal(t, "0xarena", cfg.Chain.ContractAddress)
}

func TestDurationHelpers(t *testing.T) {
	arena := ArenaConfig{
		UserFactsTTL:       60,
		DedupWindow:        60,
		SpamWindow:         10,
		ReservationTimeout: 30,
		MaxQueueWait:       120,
		InterRequestDelay:  500,
		TopUpSuspicion:     120,
	}

	assert.Equal(t, time.Minute, arena.UserFactsTTLDuration())
	assert.Equal(t, time.Minute, arena.DedupWindowDuration())
	assert.Equal(t, 10*time.Second, arena.SpamWindowDuration())
	assert.Equal(t, 30*time.Second, arena.ReservationTimeoutDuration())
	assert.Equal(t, 2*time.Minute, arena.MaxQueueWaitDuration())
	assert.Equal(t, 500*time.Millisecond, arena.InterRequestDelayDuration())
	assert.Equal(t, 2*time.Second, PersistenceConfig{DebounceDelay: 2000}.DebounceDelayDuration())
}

func TestValidateReservationWindowOrdering(t *testing.T) {
	cfg := validConfig()
	cfg.Arena.ReservationTimeout = 90

	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reservation_timeout")
}

func TestValidateSpamWindowBound(t *testing.T) {
	cfg := validConfig()
	cfg.Arena.SpamWindow = 120

	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spam_window")
}

func TestValidateProductionRequiresSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Environment = "production"
	cfg.Server.WebhookSecret = ""

	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook_secret")

	cfg.Server.WebhookSecret = "hub-secret"
	assert.NoError(t, validate(cfg))
}

func TestValidateRequiresEndpoints(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.RPCURLs = nil

	assert.Error(t, validate(cfg))
}

func validConfig() *Config {
	return &Config{
		Environment: "development",
		Chain:       ChainConfig{RPCURLs: []string{"https://rpc.example"}},
		Arena: ArenaConfig{
			UserFactsTTL:       60,
			CommonFactsTTL:     300,
			DedupWindow:        60,
			SpamWindow:         10,
			ReservationTimeout: 30,
			MaxQueueSize:       5,
			MaxQueueWait:       120,
		},
	}
}
