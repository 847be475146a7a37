package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigPassesValidation(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, 9090, cfg.Server.MetricsPort)
	require.Equal(t, uint32(256), cfg.Sandbox.MemoryLimitPages)
	require.Equal(t, uint64(10_000_000), cfg.Sandbox.FuelLimit)
	require.Equal(t, 1000, cfg.Router.InboxCapacity)
	require.Less(t, cfg.Router.InboxLowWaterMark, cfg.Router.InboxHighWaterMark)
	require.Equal(t, 384, cfg.Memory.EmbeddingDimension)
	require.Equal(t, "sqlite", cfg.Storage.Driver)
	require.Equal(t, "info", cfg.Log.Level)
	require.False(t, cfg.Telemetry.Enabled)
}

func TestStorageConfigDSN(t *testing.T) {
	t.Run("sqlite returns path", func(t *testing.T) {
		cfg := StorageConfig{Driver: "sqlite", Path: "caxton.db"}
		require.Equal(t, "caxton.db", cfg.DSN())
	})

	t.Run("postgres builds keyword dsn", func(t *testing.T) {
		cfg := StorageConfig{
			Driver: "postgres", Host: "localhost", Port: 5432,
			User: "caxton", Password: "secret", Name: "caxtondb", SSLMode: "disable",
		}
		dsn := cfg.DSN()
		require.Contains(t, dsn, "host=localhost")
		require.Contains(t, dsn, "port=5432")
		require.Contains(t, dsn, "dbname=caxtondb")
	})

	t.Run("mysql builds dsn", func(t *testing.T) {
		cfg := StorageConfig{
			Driver: "mysql", Host: "localhost", Port: 3306,
			User: "caxton", Password: "secret", Name: "caxtondb",
		}
		dsn := cfg.DSN()
		require.Contains(t, dsn, "caxton:secret@tcp(localhost:3306)/caxtondb")
	})

	t.Run("unknown driver returns empty", func(t *testing.T) {
		cfg := StorageConfig{Driver: "oracle"}
		require.Empty(t, cfg.DSN())
	})
}
