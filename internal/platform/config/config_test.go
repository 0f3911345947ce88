package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remittance/internal/remittance/models"
)

const ownerHex = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("REMIT_OWNER", ownerHex)

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, ownerHex, cfg.Owner.Hex())
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 100, cfg.Outbox.BatchSize)
	assert.Equal(t, uint64(1500), cfg.TierLimits[models.Tier1])
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestFromEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tiers:\n  TIER1: 2000\n  vip: 250000\n"), 0o600))

	t.Setenv("REMIT_OWNER", ownerHex)
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("OUTBOX_POLL_INTERVAL", "500ms")
	t.Setenv("TIER_LIMITS_FILE", path)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 500*time.Millisecond, cfg.Outbox.PollInterval)
	assert.Equal(t, uint64(2000), cfg.TierLimits[models.Tier1])
	assert.Equal(t, uint64(250000), cfg.TierLimits[models.TierVIP])
	assert.Equal(t, uint64(5000), cfg.TierLimits[models.Tier2], "tiers absent from the file keep their default")
}

func TestFromEnvReportsMalformedValues(t *testing.T) {
	t.Setenv("REMIT_OWNER", "not-an-address")
	t.Setenv("OUTBOX_BATCH_SIZE", "many")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REMIT_OWNER")
	assert.Contains(t, err.Error(), "OUTBOX_BATCH_SIZE")
}

func TestValidate(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REMIT_OWNER is required")
}

func TestParseTierLimits(t *testing.T) {
	t.Run("numeric codes", func(t *testing.T) {
		table, err := ParseTierLimits([]byte("tiers:\n  \"2\": 7000\n"))
		require.NoError(t, err)
		assert.Equal(t, models.TierLimitTable{models.Tier2: 7000}, table)
	})

	t.Run("unknown tier", func(t *testing.T) {
		_, err := ParseTierLimits([]byte("tiers:\n  GOLD: 1\n"))
		assert.Error(t, err)
	})

	t.Run("NONE cannot carry a limit", func(t *testing.T) {
		_, err := ParseTierLimits([]byte("tiers:\n  NONE: 1\n"))
		assert.Error(t, err)
	})

	t.Run("above maximum", func(t *testing.T) {
		_, err := ParseTierLimits([]byte("tiers:\n  TIER1: 9223372036854775808\n"))
		assert.Error(t, err)
	})
}
