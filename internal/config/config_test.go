package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_SOURCE", "postgres://ledger@localhost/ledger")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.True(t, cfg.MigrateOnStart)
	assert.Equal(t, 10000, cfg.AccountCache)
	assert.Equal(t, SettlementSimulated, cfg.SettlementMode)
	assert.Equal(t, 30*time.Second, cfg.SettlementTimeout)
	assert.Equal(t, time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, "tipledger:deposits", cfg.DepositStream)
	assert.False(t, cfg.IsProduction())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("SETTLEMENT_MODE", "gateway")
	t.Setenv("SETTLEMENT_GATEWAY_URL", "http://gateway:8000")
	t.Setenv("SETTLEMENT_TIMEOUT", "5s")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("MIGRATE_ON_START", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, SettlementGateway, cfg.SettlementMode)
	assert.Equal(t, "http://gateway:8000", cfg.GatewayURL)
	assert.Equal(t, 5*time.Second, cfg.SettlementTimeout)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.False(t, cfg.MigrateOnStart)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	content := "DB_SOURCE=postgres://file@localhost/ledger\nSERVER_PORT=7000\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600))
	t.Setenv("SERVER_PORT", "7001")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "postgres://file@localhost/ledger", cfg.DBSource)
	assert.Equal(t, "7001", cfg.Port, "environment overrides the file")
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing db source", env: map[string]string{"DB_SOURCE": ""}},
		{name: "unknown driver", env: map[string]string{"STORE_DRIVER": "sqlite"}},
		{name: "gateway without url", env: map[string]string{"STORE_DRIVER": "memory", "SETTLEMENT_MODE": "gateway"}},
		{name: "unknown settlement mode", env: map[string]string{"STORE_DRIVER": "memory", "SETTLEMENT_MODE": "carrier-pigeon"}},
		{name: "zero timeout", env: map[string]string{"STORE_DRIVER": "memory", "SETTLEMENT_TIMEOUT": "0s"}},
		{name: "grace shorter than timeout", env: map[string]string{"STORE_DRIVER": "memory", "RECONCILE_GRACE": "10s"}},
		{name: "grace equal to timeout", env: map[string]string{"STORE_DRIVER": "memory", "SETTLEMENT_TIMEOUT": "1m", "RECONCILE_GRACE": "1m"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
