package config

const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultLedgerPath        = "data/talon-ledger.db"
	defaultAuditPath         = "data/talon-audit.db"
	defaultBrokerAdapter     = "paper"
	defaultBrokerTimeout     = 15
	defaultBreakerThreshold  = 5
	defaultBreakerCooldown   = 30
	defaultTick              = 5
	defaultOrderReconcile    = 30
	defaultPositionSync      = 60
	defaultHealthCheck       = 120
	defaultConsistencyCheck  = 300
	defaultBackoffCeiling    = 3600
	defaultShutdownDrain     = 30
	defaultTradingStrategy   = "default"
)

func (c *Config) applyDefaults() {
	c.App.applyDefaults()
	c.Database.applyDefaults()
	c.Broker.applyDefaults()
	c.Scheduler.applyDefaults()
	c.Trading.applyDefaults()
}

func (a *AppConfig) applyDefaults() {
	if a.Env == "" {
		a.Env = defaultAppEnv
	}
	if a.LogLevel == "" {
		a.LogLevel = defaultAppLogLevel
	}
}

func (d *DatabaseConfig) applyDefaults() {
	if d.LedgerPath == "" {
		d.LedgerPath = defaultLedgerPath
	}
	if d.AuditPath == "" {
		d.AuditPath = defaultAuditPath
	}
}

func (b *BrokerConfig) applyDefaults() {
	if b.Adapter == "" {
		b.Adapter = defaultBrokerAdapter
	}
	if b.TimeoutSeconds <= 0 {
		b.TimeoutSeconds = defaultBrokerTimeout
	}
	if b.BreakerThreshold <= 0 {
		b.BreakerThreshold = defaultBreakerThreshold
	}
	if b.BreakerCooldownSecond <= 0 {
		b.BreakerCooldownSecond = defaultBreakerCooldown
	}
}

func (s *SchedulerConfig) applyDefaults() {
	if s.TickSeconds <= 0 {
		s.TickSeconds = defaultTick
	}
	if s.OrderReconcileSeconds <= 0 {
		s.OrderReconcileSeconds = defaultOrderReconcile
	}
	if s.PositionSyncSeconds <= 0 {
		s.PositionSyncSeconds = defaultPositionSync
	}
	if s.HealthCheckSeconds <= 0 {
		s.HealthCheckSeconds = defaultHealthCheck
	}
	if s.ConsistencyCheckSeconds <= 0 {
		s.ConsistencyCheckSeconds = defaultConsistencyCheck
	}
	if s.BackoffCeilingSeconds <= 0 {
		s.BackoffCeilingSeconds = defaultBackoffCeiling
	}
	if s.ShutdownDrainSeconds <= 0 {
		s.ShutdownDrainSeconds = defaultShutdownDrain
	}
}

func (t *TradingConfig) applyDefaults() {
	if t.DefaultStrategy == "" {
		t.DefaultStrategy = defaultTradingStrategy
	}
}
