package config

// Config is the main configuration carrier for talon.
type Config struct {
	App       AppConfig       `toml:"app"`
	Database  DatabaseConfig  `toml:"database"`
	Broker    BrokerConfig    `toml:"broker"`
	Safety    SafetyConfig    `toml:"safety"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Trading   TradingConfig   `toml:"trading"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
}

type DatabaseConfig struct {
	LedgerPath string `toml:"ledger_path"`
	AuditPath  string `toml:"audit_path"`
}

// BrokerConfig describes how to reach the external broker.
type BrokerConfig struct {
	Adapter        string `toml:"adapter"` // "rest" | "binance" | "paper"
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	APISecret      string `toml:"api_secret"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	// Symbols is the watchlist used by adapters whose order-history API is
	// scoped per symbol (binance spot).
	Symbols []string `toml:"symbols"`
	// Circuit breaker guarding broker availability.
	BreakerThreshold      int `toml:"breaker_threshold"`
	BreakerCooldownSecond int `toml:"breaker_cooldown_seconds"`
}

type SafetyConfig struct {
	// SentinelPath, when set, is watched: creating the file activates the
	// kill switch, removing it deactivates.
	SentinelPath string `toml:"sentinel_path"`
}

type SchedulerConfig struct {
	TickSeconds             int `toml:"tick_seconds"`
	OrderReconcileSeconds   int `toml:"order_reconcile_seconds"`
	PositionSyncSeconds     int `toml:"position_sync_seconds"`
	HealthCheckSeconds      int `toml:"health_check_seconds"`
	BackoffCeilingSeconds   int `toml:"backoff_ceiling_seconds"`
	ShutdownDrainSeconds    int `toml:"shutdown_drain_seconds"`
	ConsistencyCheckSeconds int `toml:"consistency_check_seconds"`
}

// TradingConfig controls execution-side behavior.
type TradingConfig struct {
	DefaultStrategy       string `toml:"default_strategy"`
	PaperTrading          bool   `toml:"paper_trading"`
	SimulateImmediateFill bool   `toml:"simulate_immediate_fill"`
	InstrumentPatternPath string `toml:"instrument_pattern_path"`
}
