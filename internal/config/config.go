package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for a rumornet node.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Envelope   EnvelopeConfig   `json:"envelope"`
	View       ViewConfig       `json:"view"`
	Dampener   DampenerConfig   `json:"dampener"`
	Scoring    ScoringConfig    `json:"scoring"`
	Reputation ReputationConfig `json:"reputation"`
	Trust      TrustConfig      `json:"trust"`
	Sync       SyncConfig       `json:"sync"`
	NATS       NATSConfig       `json:"nats"`
	Redis      RedisConfig      `json:"redis"`
	Database   DatabaseConfig   `json:"database"`
	Logging    LoggingConfig    `json:"logging"`
}

// ServerConfig holds the admin HTTP surface configuration.
type ServerConfig struct {
	Port         int           `json:"port"`
	Host         string        `json:"host"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// EnvelopeConfig holds Envelope & Validator tunables (§4.A).
type EnvelopeConfig struct {
	MaxMessageSize      int     `json:"max_message_size"`
	PredictionTolerance float64 `json:"prediction_tolerance"`
	PredictionFloor     float64 `json:"prediction_floor"`
	CurrentVersion      string  `json:"current_version"`
}

// ViewConfig holds Materialized View tunables (§4.C).
type ViewConfig struct {
	SnapshotInterval  int     `json:"snapshot_interval"`
	InitialTrustScore float64 `json:"initial_trust_score"`
}

// DampenerConfig holds Correlation Dampener tunables (§4.E).
type DampenerConfig struct {
	ClusterThreshold  float64 `json:"cluster_threshold"`
	CorrelationLambda float64 `json:"correlation_lambda"`
}

// ScoringConfig holds BTS/RBTS tunables (§4.F).
type ScoringConfig struct {
	RBTSThreshold int     `json:"rbts_threshold"`
	RBTSMinimum   int     `json:"rbts_minimum"`
	BTSAlpha      float64 `json:"bts_alpha"`
}

// ReputationConfig holds Reputation Ledger tunables (§4.G).
type ReputationConfig struct {
	InitialTrustScore float64 `json:"initial_trust_score"`
	MinStakeVote      int64   `json:"min_stake_vote"`
	MinStakePost      int64   `json:"min_stake_post"`
	MinStakeDispute   int64   `json:"min_stake_dispute"`
	RewardMult        float64 `json:"reward_mult"`
	SlashMult         float64 `json:"slash_mult"`
	DecayRate         float64 `json:"decay_rate"`
	RecoveryRate      float64 `json:"recovery_rate"`
	MinScore          float64 `json:"min_score"`
	MaxScore          float64 `json:"max_score"`
}

// TrustConfig holds Trust Propagator / PPR tunables (§4.H).
type TrustConfig struct {
	Damping       float64 `json:"damping"`
	Tolerance     float64 `json:"tolerance"`
	MaxIterations int     `json:"max_iterations"`
}

// SyncConfig holds Anti-Entropy Sync tunables (§4.I).
type SyncConfig struct {
	Cooldown     time.Duration `json:"cooldown"`
	MaxBatchSize int           `json:"max_batch_size"`
}

// NATSConfig contains NATS gossip transport configuration.
type NATSConfig struct {
	URL string `json:"url"`
}

// RedisConfig contains Redis persistence configuration.
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// DatabaseConfig contains Postgres persistence configuration.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"ssl_mode"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level string `json:"level"`
}

// Load loads configuration from environment variables, falling back to
// the spec's defaults for anything unset.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Envelope: EnvelopeConfig{
			MaxMessageSize:      getEnvInt("ENVELOPE_MAX_MESSAGE_SIZE", 64*1024),
			PredictionTolerance: getEnvFloat("ENVELOPE_PREDICTION_TOLERANCE", 0.02),
			PredictionFloor:     getEnvFloat("ENVELOPE_PREDICTION_FLOOR", 0.001),
			CurrentVersion:      getEnv("ENVELOPE_CURRENT_VERSION", "1.0"),
		},
		View: ViewConfig{
			SnapshotInterval:  getEnvInt("VIEW_SNAPSHOT_INTERVAL", 10),
			InitialTrustScore: getEnvFloat("VIEW_INITIAL_TRUST_SCORE", 10),
		},
		Dampener: DampenerConfig{
			ClusterThreshold:  getEnvFloat("DAMPENER_CLUSTER_THRESHOLD", 0.85),
			CorrelationLambda: getEnvFloat("DAMPENER_CORRELATION_LAMBDA", 10.0),
		},
		Scoring: ScoringConfig{
			RBTSThreshold: getEnvInt("SCORING_RBTS_THRESHOLD", 30),
			RBTSMinimum:   getEnvInt("SCORING_RBTS_MINIMUM", 3),
			BTSAlpha:      getEnvFloat("SCORING_BTS_ALPHA", 1.0),
		},
		Reputation: ReputationConfig{
			InitialTrustScore: getEnvFloat("REPUTATION_INITIAL_TRUST_SCORE", 10),
			MinStakeVote:      int64(getEnvInt("REPUTATION_MIN_STAKE_VOTE", 1)),
			MinStakePost:      int64(getEnvInt("REPUTATION_MIN_STAKE_POST", 5)),
			MinStakeDispute:   int64(getEnvInt("REPUTATION_MIN_STAKE_DISPUTE", 3)),
			RewardMult:        getEnvFloat("REPUTATION_REWARD_MULT", 1.0),
			SlashMult:         getEnvFloat("REPUTATION_SLASH_MULT", 1.5),
			DecayRate:         getEnvFloat("REPUTATION_DECAY_RATE", 0.99),
			RecoveryRate:      getEnvFloat("REPUTATION_RECOVERY_RATE", 0.1),
			MinScore:          getEnvFloat("REPUTATION_MIN_SCORE", 0),
			MaxScore:          getEnvFloat("REPUTATION_MAX_SCORE", 1000),
		},
		Trust: TrustConfig{
			Damping:       getEnvFloat("TRUST_DAMPING", 0.85),
			Tolerance:     getEnvFloat("TRUST_TOLERANCE", 1e-6),
			MaxIterations: getEnvInt("TRUST_MAX_ITERATIONS", 100),
		},
		Sync: SyncConfig{
			Cooldown:     getEnvDuration("SYNC_COOLDOWN", 30*time.Second),
			MaxBatchSize: getEnvInt("SYNC_MAX_BATCH_SIZE", 100),
		},
		NATS: NATSConfig{
			URL: getEnv("NATS_URL", "nats://localhost:4222"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "rumornet"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "rumornet"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
