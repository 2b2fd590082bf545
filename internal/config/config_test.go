package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_ENV_PATH", t.TempDir()+"/missing.env")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/storybook?parseTime=true")
	t.Setenv("S3_REGION", "us-east-1")
	t.Setenv("S3_ACCESS_KEY", "key")
	t.Setenv("S3_SECRET_KEY", "secret")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
	t.Setenv("LULU_CLIENT_KEY", "lulu")
	t.Setenv("LULU_CLIENT_SECRET", "lulu-secret")
	t.Setenv("FULFILLMENT_CALLBACK_SECRET", "cb")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.App.ListenAddr)
	assert.Equal(t, StoreMySQL, cfg.App.Store)
	assert.Equal(t, 3, cfg.Credits.FreeLimit)
	assert.Equal(t, 1299, cfg.Credits.EbookPrice)
	assert.Equal(t, time.Hour, cfg.S3.SignedURLTTL)
	assert.Equal(t, 365*24*time.Hour, cfg.Credits.PurchaseTTL)
	assert.Equal(t, "usd", cfg.Credits.Currency)
}

func TestLoadMissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("MYSQL_DSN", "")
	t.Setenv("LULU_CLIENT_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MYSQL_DSN")
	assert.Contains(t, err.Error(), "LULU_CLIENT_KEY")
}

func TestLoadMemoryStoreSkipsDSN(t *testing.T) {
	setRequired(t)
	t.Setenv("MYSQL_DSN", "")
	t.Setenv("STORE_DRIVER", "Memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.App.Store)
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	setRequired(t)
	t.Setenv("STORE_DRIVER", "postgres")

	_, err := Load()
	require.Error(t, err)
}
