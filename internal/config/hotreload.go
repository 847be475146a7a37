package config

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HotReloadManager watches a config file and applies changes to fields
// marked hot-reloadable without restarting the process. Fields not in
// the registry, or explicitly marked RequiresRestart, are still recorded
// in the change log but flagged so the operator knows a restart is
// needed before they take effect.
type HotReloadManager struct {
	mu sync.RWMutex

	config     *Config
	configPath string

	watcher *FileWatcher

	changeCallbacks []ChangeCallback
	reloadCallbacks []ReloadCallback

	changeLog []ConfigChange

	logger *zap.Logger

	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// ChangeCallback is invoked once per applied field change.
type ChangeCallback func(change ConfigChange)

// ReloadCallback is invoked once per full reload, with the config before
// and after.
type ReloadCallback func(oldConfig, newConfig *Config)

// ConfigChange records one field's old and new value and whether
// applying it requires a restart.
type ConfigChange struct {
	Timestamp       time.Time
	Source          string
	Path            string
	OldValue        interface{}
	NewValue        interface{}
	RequiresRestart bool
	Applied         bool
}

// HotReloadableField describes one field's reload policy.
type HotReloadableField struct {
	Path            string
	Description     string
	RequiresRestart bool
}

// hotReloadableFields lists every field changeable without a restart.
// Anything tuning a live loop's parameters (timeouts, thresholds,
// budgets, log verbosity) qualifies; anything fixed at construction time
// (sandbox memory limits, storage driver/DSN) requires a restart.
var hotReloadableFields = map[string]HotReloadableField{
	"Log.Level":  {Path: "Log.Level", Description: "Log level (debug, info, warn, error)"},
	"Log.Format": {Path: "Log.Format", Description: "Log output format (json, console)"},

	"Router.ConversationIdleTTL": {Path: "Router.ConversationIdleTTL", Description: "Conversation idle eviction TTL"},
	"Router.DedupCacheTTL":       {Path: "Router.DedupCacheTTL", Description: "Dedup cache entry TTL"},
	"Router.DeliveryMaxRetries":  {Path: "Router.DeliveryMaxRetries", Description: "Max AtLeastOnce/ExactlyOnce delivery retries"},

	"Memory.ReembedDistanceThreshold": {Path: "Memory.ReembedDistanceThreshold", Description: "Textual-distance threshold before re-embedding"},
	"Memory.MaxEntities":              {Path: "Memory.MaxEntities", Description: "Soft entity count limit before LRU eviction"},
	"Memory.MaxRelations":             {Path: "Memory.MaxRelations", Description: "Soft relation count limit before LRU eviction"},
	"Memory.MaxStorageBytes":          {Path: "Memory.MaxStorageBytes", Description: "Soft storage footprint limit before LRU eviction"},
	"Memory.CleanupInterval":          {Path: "Memory.CleanupInterval", Description: "Background stale-entity cleanup interval"},
	"Memory.StaleMaxAge":              {Path: "Memory.StaleMaxAge", Description: "Age past which an unreferenced entity is stale"},

	"Accountant.MaxActiveAgents":       {Path: "Accountant.MaxActiveAgents", Description: "Max concurrently deployed agents"},
	"Accountant.MemoryBudgetBytes":     {Path: "Accountant.MemoryBudgetBytes", Description: "Aggregate memory budget across agents"},
	"Accountant.FuelBudgetPerWindow":   {Path: "Accountant.FuelBudgetPerWindow", Description: "Aggregate fuel budget per accounting window"},
	"Accountant.TrapRateTripThreshold": {Path: "Accountant.TrapRateTripThreshold", Description: "Sandbox trap rate that trips the circuit breaker"},

	"Telemetry.Enabled":    {Path: "Telemetry.Enabled", Description: "Enable OpenTelemetry export"},
	"Telemetry.SampleRate": {Path: "Telemetry.SampleRate", Description: "Trace sample rate"},

	// Fixed at construction time; listed so UpdateField rejects them with
	// a clear message instead of "unknown field".
	"Sandbox.MemoryLimitPages": {Path: "Sandbox.MemoryLimitPages", Description: "WASM linear memory page limit", RequiresRestart: true},
	"Sandbox.FuelLimit":        {Path: "Sandbox.FuelLimit", Description: "Per-invocation fuel limit", RequiresRestart: true},
	"Storage.Driver":           {Path: "Storage.Driver", Description: "Embedded store driver", RequiresRestart: true},
	"Server.MetricsPort":       {Path: "Server.MetricsPort", Description: "Metrics listener port", RequiresRestart: true},
}

// HotReloadOption configures a HotReloadManager.
type HotReloadOption func(*HotReloadManager)

// WithHotReloadLogger sets the manager's logger.
func WithHotReloadLogger(logger *zap.Logger) HotReloadOption {
	return func(m *HotReloadManager) { m.logger = logger }
}

// WithConfigPath sets the file the manager watches for reload.
func WithConfigPath(path string) HotReloadOption {
	return func(m *HotReloadManager) { m.configPath = path }
}

// NewHotReloadManager wraps an already-loaded config with change
// tracking and (optionally) file-watch-triggered reload.
func NewHotReloadManager(config *Config, opts ...HotReloadOption) *HotReloadManager {
	m := &HotReloadManager{
		config:          config,
		changeCallbacks: make([]ChangeCallback, 0),
		reloadCallbacks: make([]ReloadCallback, 0),
		changeLog:       make([]ConfigChange, 0, 100),
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins watching the config file, if one was set via
// WithConfigPath.
func (m *HotReloadManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("hot reload manager already running")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)

	if m.configPath != "" {
		watcher, err := NewFileWatcher([]string{m.configPath},
			WithWatcherLogger(m.logger),
			WithDebounceDelay(500*time.Millisecond))
		if err != nil {
			return fmt.Errorf("failed to create file watcher: %w", err)
		}
		watcher.OnChange(m.handleFileChange)
		if err := watcher.Start(m.ctx); err != nil {
			return fmt.Errorf("failed to start file watcher: %w", err)
		}
		m.watcher = watcher
	}

	m.running = true
	m.logger.Info("hot reload manager started", zap.String("config_path", m.configPath))
	return nil
}

// Stop stops the underlying watcher, if any.
func (m *HotReloadManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	if m.cancel != nil {
		m.cancel()
	}
	if m.watcher != nil {
		if err := m.watcher.Stop(); err != nil {
			m.logger.Error("failed to stop file watcher", zap.Error(err))
		}
	}
	m.running = false
	m.logger.Info("hot reload manager stopped")
	return nil
}

func (m *HotReloadManager) handleFileChange(event FileEvent) {
	m.logger.Info("config file changed", zap.String("path", event.Path), zap.String("op", event.Op.String()))
	if event.Op == FileOpWrite || event.Op == FileOpCreate {
		if err := m.ReloadFromFile(); err != nil {
			m.logger.Error("failed to reload config", zap.Error(err))
		}
	}
}

// ReloadFromFile reloads the config file and applies the diff.
func (m *HotReloadManager) ReloadFromFile() error {
	if m.configPath == "" {
		return fmt.Errorf("no config path set")
	}

	newConfig, err := NewLoader().WithConfigPath(m.configPath).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	return m.ApplyConfig(newConfig, "file")
}

// ApplyConfig diffs newConfig against the current config, records every
// changed field in the change log, and swaps in newConfig as current.
func (m *HotReloadManager) ApplyConfig(newConfig *Config, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldConfig := m.config
	changes := detectChanges(oldConfig, newConfig)

	var requiresRestart bool
	appliedChanges := make([]ConfigChange, 0, len(changes))

	for _, change := range changes {
		change.Source = source
		change.Timestamp = time.Now()

		if field, known := hotReloadableFields[change.Path]; known {
			change.RequiresRestart = field.RequiresRestart
		} else {
			change.RequiresRestart = true
		}
		if change.RequiresRestart {
			requiresRestart = true
		}
		change.Applied = true
		appliedChanges = append(appliedChanges, change)
		m.logChange(change)
	}

	m.config = newConfig
	m.changeLog = append(m.changeLog, appliedChanges...)
	if len(m.changeLog) > 1000 {
		m.changeLog = m.changeLog[len(m.changeLog)-1000:]
	}

	for _, cb := range m.changeCallbacks {
		for _, change := range appliedChanges {
			cb(change)
		}
	}
	for _, cb := range m.reloadCallbacks {
		cb(oldConfig, newConfig)
	}

	if requiresRestart {
		m.logger.Warn("some configuration changes require restart to take effect")
	}
	m.logger.Info("configuration reloaded", zap.Int("changes", len(appliedChanges)), zap.Bool("requires_restart", requiresRestart))
	return nil
}

func detectChanges(oldConfig, newConfig *Config) []ConfigChange {
	var changes []ConfigChange
	oldVal := reflect.ValueOf(oldConfig).Elem()
	newVal := reflect.ValueOf(newConfig).Elem()
	compareStructs("", oldVal, newVal, &changes)
	return changes
}

func compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]ConfigChange) {
	if oldVal.Kind() != reflect.Struct || newVal.Kind() != reflect.Struct {
		return
	}

	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		fieldPath := field.Name
		if prefix != "" {
			fieldPath = prefix + "." + field.Name
		}

		oldField := oldVal.Field(i)
		newField := newVal.Field(i)

		if oldField.Kind() == reflect.Struct {
			compareStructs(fieldPath, oldField, newField, changes)
			continue
		}
		if !reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			*changes = append(*changes, ConfigChange{
				Path:     fieldPath,
				OldValue: oldField.Interface(),
				NewValue: newField.Interface(),
			})
		}
	}
}

func (m *HotReloadManager) logChange(change ConfigChange) {
	m.logger.Info("configuration changed",
		zap.String("path", change.Path),
		zap.String("source", change.Source),
		zap.Bool("requires_restart", change.RequiresRestart),
		zap.Any("old_value", change.OldValue),
		zap.Any("new_value", change.NewValue),
	)
}

// OnChange registers a callback invoked for every applied field change.
func (m *HotReloadManager) OnChange(callback ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changeCallbacks = append(m.changeCallbacks, callback)
}

// OnReload registers a callback invoked once per full reload.
func (m *HotReloadManager) OnReload(callback ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadCallbacks = append(m.reloadCallbacks, callback)
}

// GetConfig returns the currently active configuration.
func (m *HotReloadManager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetChangeLog returns up to limit most-recent changes (0 for all).
func (m *HotReloadManager) GetChangeLog(limit int) []ConfigChange {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.changeLog) {
		limit = len(m.changeLog)
	}
	start := len(m.changeLog) - limit
	result := make([]ConfigChange, limit)
	copy(result, m.changeLog[start:])
	return result
}

// UpdateField sets a single hot-reloadable field by dotted path (e.g.
// "Memory.ReembedDistanceThreshold"). It rejects unknown fields and
// fields marked RequiresRestart.
func (m *HotReloadManager) UpdateField(path string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	field, known := hotReloadableFields[path]
	if !known {
		return fmt.Errorf("unknown configuration field: %s", path)
	}
	if field.RequiresRestart {
		return fmt.Errorf("field %s requires a restart and cannot be hot reloaded", path)
	}

	oldValue, err := m.getFieldValue(path)
	if err != nil {
		return fmt.Errorf("failed to get old value: %w", err)
	}
	if err := m.setFieldValue(path, value); err != nil {
		return fmt.Errorf("failed to set value: %w", err)
	}

	change := ConfigChange{
		Timestamp:       time.Now(),
		Source:          "api",
		Path:            path,
		OldValue:        oldValue,
		NewValue:        value,
		RequiresRestart: false,
		Applied:         true,
	}
	m.logChange(change)
	m.changeLog = append(m.changeLog, change)

	for _, cb := range m.changeCallbacks {
		cb(change)
	}
	return nil
}

func (m *HotReloadManager) getFieldValue(path string) (interface{}, error) {
	return getNestedField(reflect.ValueOf(m.config).Elem(), path)
}

func (m *HotReloadManager) setFieldValue(path string, value interface{}) error {
	return setNestedField(reflect.ValueOf(m.config).Elem(), path, value)
}

func getNestedField(v reflect.Value, path string) (interface{}, error) {
	for _, part := range splitPath(path) {
		if v.Kind() == reflect.Ptr {
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return nil, fmt.Errorf("not a struct at %s", part)
		}
		v = v.FieldByName(part)
		if !v.IsValid() {
			return nil, fmt.Errorf("field not found: %s", part)
		}
	}
	return v.Interface(), nil
}

func setNestedField(v reflect.Value, path string, value interface{}) error {
	parts := splitPath(path)
	for i, part := range parts {
		if v.Kind() == reflect.Ptr {
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return fmt.Errorf("not a struct at %s", part)
		}
		v = v.FieldByName(part)
		if !v.IsValid() {
			return fmt.Errorf("field not found: %s", part)
		}

		if i == len(parts)-1 {
			if !v.CanSet() {
				return fmt.Errorf("cannot set field: %s", part)
			}
			newVal := reflect.ValueOf(value)
			if !newVal.Type().ConvertibleTo(v.Type()) {
				return fmt.Errorf("type mismatch: expected %s, got %s", v.Type(), newVal.Type())
			}
			v.Set(newVal.Convert(v.Type()))
		}
	}
	return nil
}

func splitPath(path string) []string {
	var parts []string
	var current string
	for _, c := range path {
		if c == '.' {
			if current != "" {
				parts = append(parts, current)
				current = ""
			}
			continue
		}
		current += string(c)
	}
	if current != "" {
		parts = append(parts, current)
	}
	return parts
}

// GetHotReloadableFields returns a copy of the hot-reloadable field
// registry.
func GetHotReloadableFields() map[string]HotReloadableField {
	result := make(map[string]HotReloadableField, len(hotReloadableFields))
	for k, v := range hotReloadableFields {
		result[k] = v
	}
	return result
}

// IsHotReloadable reports whether path can be changed without a restart.
func IsHotReloadable(path string) bool {
	field, known := hotReloadableFields[path]
	return known && !field.RequiresRestart
}
