// Package config loads process configuration from environment
// variables and per-source strategy profiles from YAML files.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds agent configuration.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Config struct {
	LogLevel string

	// Proposal feed.
	FeedURL       string
	FeedJWTSecret string

	// Decision engine.
	EngineURL   string
	EngineModel string

	// Execution surface.
	SurfaceURL    string
	SurfaceAPIKey string

	// Attestation identity. The private key is hex-encoded secp256k1;
	// it is never logged.
	SignerPrivateKey  string
	ChainID           uint64
	VerifyingContract string
	SchemaUID         string
	Recipient         string

	// Checkpoint store. Backend is "sqlite" or "postgres"; DSN is a
	// file path for sqlite and a connection URL for postgres.
	CheckpointBackend string
	CheckpointDSN     string

	// Optional Redis URL; when set, run locks coordinate across
	// instances instead of in process.
	RedisURL string

	// Run shaping.
	SourceKeys          []string
	RunInterval         time.Duration
	ConfidenceThreshold float64
	MaxItemsPerRun      int
	AttestationTTL      time.Duration
	DryRun              bool

	StrategyDir string

	// Attestation archive: "s3", "gcs", or empty to disable.
	ArchiveBackend string
	ArchiveBucket  string

	OTLPEndpoint string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		LogLevel: getenv("LOG_LEVEL", "INFO"),

		FeedURL:       getenv("FEED_URL", "http://localhost:8090"),
		FeedJWTSecret: os.Getenv("FEED_JWT_SECRET"),

		EngineURL:   getenv("ENGINE_URL", "http://localhost:1234"),
		EngineModel: getenv("ENGINE_MODEL", "default"),

		SurfaceURL:    getenv("SURFACE_URL", "http://localhost:8091"),
		SurfaceAPIKey: os.Getenv("SURFACE_API_KEY"),

		SignerPrivateKey:  os.Getenv("SIGNER_PRIVATE_KEY"),
		ChainID:           getenvUint("CHAIN_ID", 1),
		VerifyingContract: os.Getenv("VERIFYING_CONTRACT"),
		SchemaUID:         os.Getenv("SCHEMA_UID"),
		Recipient:         os.Getenv("RECIPIENT"),

		CheckpointBackend: getenv("CHECKPOINT_BACKEND", "sqlite"),
		CheckpointDSN:     getenv("CHECKPOINT_DSN", "steward.db"),

		RedisURL: os.Getenv("REDIS_URL"),

		SourceKeys:          splitList(os.Getenv("SOURCE_KEYS")),
		RunInterval:         getenvDuration("RUN_INTERVAL", 0),
		ConfidenceThreshold: getenvFloat("CONFIDENCE_THRESHOLD", 0.7),
		MaxItemsPerRun:      int(getenvUint("MAX_ITEMS_PER_RUN", 0)),
		AttestationTTL:      getenvDuration("ATTESTATION_TTL", time.Hour),
		DryRun:              os.Getenv("DRY_RUN") == "true",

		StrategyDir: os.Getenv("STRATEGY_DIR"),

		ArchiveBackend: os.Getenv("ARCHIVE_BACKEND"),
		ArchiveBucket:  os.Getenv("ARCHIVE_BUCKET"),

		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvUint(key string, fallback uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
