package config

import "time"

// Config is Caxton's complete configuration tree.
type Config struct {
	Server     ServerConfig     `yaml:"server" env:"SERVER"`
	Sandbox    SandboxConfig    `yaml:"sandbox" env:"SANDBOX"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle" env:"LIFECYCLE"`
	Router     RouterConfig     `yaml:"router" env:"ROUTER"`
	Memory     MemoryConfig     `yaml:"memory" env:"MEMORY"`
	Accountant AccountantConfig `yaml:"accountant" env:"ACCOUNTANT"`
	Storage    StorageConfig    `yaml:"storage" env:"STORAGE"`
	Log        LogConfig        `yaml:"log" env:"LOG"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig controls the operator-facing surface: metrics and health,
// not an agent-facing API (explicitly out of scope).
type ServerConfig struct {
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	HealthPort      int           `yaml:"health_port" env:"HEALTH_PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// SandboxConfig tunes the WASM host (C1). Changing any of these requires
// a restart: they are fixed at module-load time.
type SandboxConfig struct {
	MemoryLimitPages uint32        `yaml:"memory_limit_pages" env:"MEMORY_LIMIT_PAGES"`
	FuelLimit        uint64        `yaml:"fuel_limit" env:"FUEL_LIMIT"`
	InvokeTimeout    time.Duration `yaml:"invoke_timeout" env:"INVOKE_TIMEOUT"`
}

// LifecycleConfig tunes the state machine and recovery policy (C2).
type LifecycleConfig struct {
	DeployTimeout        time.Duration `yaml:"deploy_timeout" env:"DEPLOY_TIMEOUT"`
	RecoveryMaxAttempts  int           `yaml:"recovery_max_attempts" env:"RECOVERY_MAX_ATTEMPTS"`
	RecoveryBackoffBase  time.Duration `yaml:"recovery_backoff_base" env:"RECOVERY_BACKOFF_BASE"`
	SustainedRunningGrace time.Duration `yaml:"sustained_running_grace" env:"SUSTAINED_RUNNING_GRACE"`
}

// RouterConfig tunes message routing and delivery (C3).
type RouterConfig struct {
	InboxCapacity        int           `yaml:"inbox_capacity" env:"INBOX_CAPACITY"`
	InboxHighWaterMark   float64       `yaml:"inbox_high_water_mark" env:"INBOX_HIGH_WATER_MARK"`
	InboxLowWaterMark    float64       `yaml:"inbox_low_water_mark" env:"INBOX_LOW_WATER_MARK"`
	ConversationIdleTTL  time.Duration `yaml:"conversation_idle_ttl" env:"CONVERSATION_IDLE_TTL"`
	DedupCacheTTL        time.Duration `yaml:"dedup_cache_ttl" env:"DEDUP_CACHE_TTL"`
	DeliveryMaxRetries   int           `yaml:"delivery_max_retries" env:"DELIVERY_MAX_RETRIES"`
}

// MemoryConfig tunes the associative memory subsystem (C4).
type MemoryConfig struct {
	EmbeddingDimension       int           `yaml:"embedding_dimension" env:"EMBEDDING_DIMENSION"`
	ReembedDistanceThreshold float64       `yaml:"reembed_distance_threshold" env:"REEMBED_DISTANCE_THRESHOLD"`
	MaxEntities              int           `yaml:"max_entities" env:"MAX_ENTITIES"`
	MaxRelations             int           `yaml:"max_relations" env:"MAX_RELATIONS"`
	MaxStorageBytes          int64         `yaml:"max_storage_bytes" env:"MAX_STORAGE_BYTES"`
	HardEntityLimit          int           `yaml:"hard_entity_limit" env:"HARD_ENTITY_LIMIT"`
	CleanupInterval          time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
	StaleMaxAge              time.Duration `yaml:"stale_max_age" env:"STALE_MAX_AGE"`
}

// AccountantConfig tunes resource accounting and admission control (C6).
type AccountantConfig struct {
	MaxActiveAgents       int           `yaml:"max_active_agents" env:"MAX_ACTIVE_AGENTS"`
	MemoryBudgetBytes     int64         `yaml:"memory_budget_bytes" env:"MEMORY_BUDGET_BYTES"`
	FuelBudgetPerWindow   uint64        `yaml:"fuel_budget_per_window" env:"FUEL_BUDGET_PER_WINDOW"`
	WindowDuration        time.Duration `yaml:"window_duration" env:"WINDOW_DURATION"`
	TrapRateTripThreshold float64       `yaml:"trap_rate_trip_threshold" env:"TRAP_RATE_TRIP_THRESHOLD"`
}

// StorageConfig controls the embedded transactional store backing
// internal/memory. Driver is "sqlite" (the embedded default), "postgres",
// or "mysql"; the non-sqlite fields are only consulted for those drivers.
type StorageConfig struct {
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Path            string        `yaml:"path" env:"PATH"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig tunes the zap logger every package in Caxton uses.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig tunes the OpenTelemetry tracer provider.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}
