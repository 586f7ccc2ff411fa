package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines backing services
	Tier Tier `json:"tier"`

	// Risk thresholds and rule parameters
	Risk RiskConfig `json:"risk"`

	// Component configurations
	Store    StoreConfig    `json:"store"`
	Cache    CacheConfig    `json:"cache"`
	EventBus EventBusConfig `json:"eventBus"`
	Worker   WorkerConfig   `json:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// RiskConfig carries every threshold and rule parameter used by the two
// evaluators. It is injected at construction so tests can vary thresholds per
// case; nothing in the engine reads a hidden global.
type RiskConfig struct {
	// Tip-limit rule
	MaxTipUnverified decimal.Decimal `json:"maxTipUnverified"`
	MaxTipVerified   decimal.Decimal `json:"maxTipVerified"`
	TipLimitPoints   int             `json:"tipLimitPoints"`

	// Frequency rule
	FrequencyWindow time.Duration `json:"frequencyWindow"`
	MaxTipsPerHour  int           `json:"maxTipsPerHour"`
	FrequencyPoints int           `json:"frequencyPoints"`

	// Smurfing rule
	SmurfingWindow    time.Duration   `json:"smurfingWindow"`
	SmurfingCount     int             `json:"smurfingCount"`
	SmurfingMaxAmount decimal.Decimal `json:"smurfingMaxAmount"`
	SmurfingPoints    int             `json:"smurfingPoints"`

	// Score thresholds
	ReviewThreshold int `json:"reviewThreshold"` // user risk >= this: manual review
	BlockThreshold  int `json:"blockThreshold"`  // user risk >= this: block
	RevokeThreshold int `json:"revokeThreshold"` // user risk > this: revoke access

	// Session review
	DominantTipperRatio   float64         `json:"dominantTipperRatio"`
	MicroTipRatio         float64         `json:"microTipRatio"`
	MicroTipAmount        decimal.Decimal `json:"microTipAmount"`
	FailureRateThreshold  float64         `json:"failureRateThreshold"`
	SessionHistoryWindow  time.Duration   `json:"sessionHistoryWindow"`
	AvgRiskEventsFlagging float64         `json:"avgRiskEventsFlagging"` // avg risk events per recent session
}

// DefaultRiskConfig returns the production thresholds.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxTipUnverified: decimal.NewFromInt(50),
		MaxTipVerified:   decimal.NewFromInt(500),
		TipLimitPoints:   40,

		FrequencyWindow: time.Hour,
		MaxTipsPerHour:  10,
		FrequencyPoints: 20,

		SmurfingWindow:    time.Minute,
		SmurfingCount:     5,
		SmurfingMaxAmount: decimal.NewFromInt(20),
		SmurfingPoints:    30,

		ReviewThreshold: 50,
		BlockThreshold:  100,
		RevokeThreshold: 150,

		DominantTipperRatio:   0.8,
		MicroTipRatio:         0.7,
		MicroTipAmount:        decimal.NewFromInt(5),
		FailureRateThreshold:  0.5,
		SessionHistoryWindow:  14 * 24 * time.Hour,
		AvgRiskEventsFlagging: 10,
	}
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// WorkerConfig holds async worker settings.
type WorkerConfig struct {
	Enabled bool `json:"enabled"`

	// SweepInterval is how often open sessions are re-reviewed.
	// Zero disables the periodic sweep.
	SweepInterval time.Duration `json:"sweepInterval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + in-process channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Risk: DefaultRiskConfig(),
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300 * time.Second,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Worker: WorkerConfig{
			Enabled:       true,
			SweepInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Store = StoreConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
