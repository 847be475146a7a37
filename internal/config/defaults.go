package config

import "time"

// DefaultConfig returns Caxton's default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Sandbox:    DefaultSandboxConfig(),
		Lifecycle:  DefaultLifecycleConfig(),
		Router:     DefaultRouterConfig(),
		Memory:     DefaultMemoryConfig(),
		Accountant: DefaultAccountantConfig(),
		Storage:    DefaultStorageConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MetricsPort:     9090,
		HealthPort:      9091,
		ShutdownTimeout: 15 * time.Second,
	}
}

func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		MemoryLimitPages: 256, // 16 MiB at the WASM 64 KiB page size
		FuelLimit:        10_000_000,
		InvokeTimeout:    30 * time.Second,
	}
}

func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		DeployTimeout:         30 * time.Second,
		RecoveryMaxAttempts:   5,
		RecoveryBackoffBase:   500 * time.Millisecond,
		SustainedRunningGrace: 2 * time.Minute,
	}
}

func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		InboxCapacity:       1000,
		InboxHighWaterMark:  0.8,
		InboxLowWaterMark:   0.5,
		ConversationIdleTTL: 30 * time.Minute,
		DedupCacheTTL:       10 * time.Minute,
		DeliveryMaxRetries:  5,
	}
}

func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		EmbeddingDimension:       384,
		ReembedDistanceThreshold: 0.15,
		MaxEntities:              100_000,
		MaxRelations:             500_000,
		MaxStorageBytes:          1 << 30,
		HardEntityLimit:          150_000,
		CleanupInterval:          10 * time.Minute,
		StaleMaxAge:              30 * 24 * time.Hour,
	}
}

func DefaultAccountantConfig() AccountantConfig {
	return AccountantConfig{
		MaxActiveAgents:       10_000,
		MemoryBudgetBytes:     8 << 30,
		FuelBudgetPerWindow:   1_000_000_000,
		WindowDuration:        time.Minute,
		TrapRateTripThreshold: 0.5,
	}
}

func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Driver:          "sqlite",
		Path:            "caxton.db",
		SSLMode:         "disable",
		MaxOpenConns:    16,
		MaxIdleConns:    4,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "caxton",
		SampleRate:   0.1,
	}
}
