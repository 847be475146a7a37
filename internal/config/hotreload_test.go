package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHotReloadManagerApplyConfigRecordsChanges(t *testing.T) {
	base := DefaultConfig()
	m := NewHotReloadManager(base)

	updated := DefaultConfig()
	updated.Log.Level = "debug"
	updated.Memory.ReembedDistanceThreshold = 0.5
	updated.Sandbox.FuelLimit = 20_000_000 // requires-restart field

	require.NoError(t, m.ApplyConfig(updated, "test"))

	log := m.GetChangeLog(0)
	require.NotEmpty(t, log)

	byPath := map[string]ConfigChange{}
	for _, c := range log {
		byPath[c.Path] = c
	}

	logChange, ok := byPath["Log.Level"]
	require.True(t, ok)
	require.False(t, logChange.RequiresRestart)
	require.Equal(t, "info", logChange.OldValue)
	require.Equal(t, "debug", logChange.NewValue)

	sandboxChange, ok := byPath["Sandbox.FuelLimit"]
	require.True(t, ok)
	require.True(t, sandboxChange.RequiresRestart)

	require.Equal(t, updated, m.GetConfig())
}

func TestHotReloadManagerInvokesCallbacks(t *testing.T) {
	base := DefaultConfig()
	m := NewHotReloadManager(base)

	var changeCount int
	m.OnChange(func(c ConfigChange) { changeCount++ })

	var reloadCount int
	m.OnReload(func(oldCfg, newCfg *Config) { reloadCount++ })

	updated := DefaultConfig()
	updated.Log.Level = "warn"
	require.NoError(t, m.ApplyConfig(updated, "test"))

	require.Equal(t, 1, changeCount)
	require.Equal(t, 1, reloadCount)
}

func TestHotReloadManagerUpdateFieldRejectsRestartRequiredField(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig())
	err := m.UpdateField("Sandbox.FuelLimit", uint64(1))
	require.Error(t, err)
}

func TestHotReloadManagerUpdateFieldRejectsUnknownField(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig())
	err := m.UpdateField("Nonexistent.Field", "value")
	require.Error(t, err)
}

func TestHotReloadManagerUpdateFieldAppliesHotReloadableField(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig())
	require.NoError(t, m.UpdateField("Log.Level", "debug"))
	require.Equal(t, "debug", m.GetConfig().Log.Level)

	log := m.GetChangeLog(0)
	require.Len(t, log, 1)
	require.Equal(t, "Log.Level", log[0].Path)
	require.Equal(t, "api", log[0].Source)
}

func TestIsHotReloadable(t *testing.T) {
	require.True(t, IsHotReloadable("Log.Level"))
	require.True(t, IsHotReloadable("Memory.ReembedDistanceThreshold"))
	require.False(t, IsHotReloadable("Sandbox.FuelLimit"))
	require.False(t, IsHotReloadable("Nonexistent.Field"))
}

func TestGetHotReloadableFieldsReturnsCopy(t *testing.T) {
	fields := GetHotReloadableFields()
	require.NotEmpty(t, fields)
	delete(fields, "Log.Level")
	require.True(t, IsHotReloadable("Log.Level"))
}

func TestDetectChangesIgnoresIdenticalConfigs(t *testing.T) {
	base := DefaultConfig()
	other := DefaultConfig()
	changes := detectChanges(base, other)
	require.Empty(t, changes)
}

func TestGetChangeLogRespectsLimit(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig())
	for i := 0; i < 5; i++ {
		clone := *m.GetConfig()
		clone.Memory.MaxEntities = 100_000 + i + 1
		require.NoError(t, m.ApplyConfig(&clone, "test"))
	}

	require.Len(t, m.GetChangeLog(2), 2)
	require.True(t, len(m.GetChangeLog(0)) >= 5)
}
