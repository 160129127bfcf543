// Package config loads service configuration from the environment so main stays lean.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	Environment   string
	LogLevel      string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
	TokenTTL      time.Duration

	// AdminToken enables /admin routes when set.
	AdminToken     string
	TrustedProxies string
}

// Network is one ledger network taken from LEDGER_<NAME>_* variables.
type Network struct {
	Name       string
	RPCURL     string
	ChainID    int64
	Contract   string
	PrivateKey string
	GasLimit   uint64
}

// Credential tunes confirmation waits and background work.
type Credential struct {
	MinConfirmations         uint64
	ConfirmationTimeout      time.Duration
	ConfirmationPollInterval time.Duration
	BackgroundTimeout        time.Duration
	HealthInterval           time.Duration
	ReconcileInterval        time.Duration
}

type Storage struct {
	IPFSURL string
	Timeout time.Duration
	// HealthInterval paces the background ping that lifts degraded mode.
	HealthInterval time.Duration
}

// Database selects PostgreSQL when URL is set, SQLite when only SQLitePath is.
type Database struct {
	URL        string
	SQLitePath string
}

// RedisConfig is empty when Redis is not configured; a process-local lock is used then.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LockTTL      time.Duration
}

type Kafka struct {
	Brokers string
	Topic   string
}

type Proof struct {
	SigningKey string
	SaltSecret string
}

type Config struct {
	Server      Server
	Networks    []Network
	Credential  Credential
	Storage     Storage
	Database    Database
	Redis       RedisConfig
	Kafka       Kafka
	Proof       Proof
	IssuersJSON string
}

const devJWTSigningKey = "dev-secret-key-change-in-production"

// FromEnv builds a Config from environment variables. Unset values take the
// defaults below; malformed values are errors.
func FromEnv() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	e := &env{getenv: getenv}

	cfg := Config{
		Server: Server{
			Addr:           e.str("CREDANCHOR_ADDR", ":8080"),
			Environment:    e.str("ENVIRONMENT", "development"),
			LogLevel:       e.str("LOG_LEVEL", "info"),
			JWTSigningKey:  e.str("JWT_SIGNING_KEY", ""),
			JWTIssuer:      e.str("JWT_ISSUER", "credanchor"),
			JWTAudience:    e.str("JWT_AUDIENCE", "credanchor-api"),
			TokenTTL:       e.duration("TOKEN_TTL", 15*time.Minute),
			AdminToken:     e.str("ADMIN_API_TOKEN", ""),
			TrustedProxies: e.str("TRUSTED_PROXIES", ""),
		},
		Credential: Credential{
			MinConfirmations:         e.uint("MIN_CONFIRMATIONS", 3),
			ConfirmationTimeout:      e.duration("CONFIRMATION_TIMEOUT", 60*time.Second),
			ConfirmationPollInterval: e.duration("CONFIRMATION_POLL_INTERVAL", 2*time.Second),
			BackgroundTimeout:        e.duration("BACKGROUND_CONFIRMATION_TIMEOUT", 10*time.Minute),
			HealthInterval:           e.duration("HEALTH_INTERVAL", 30*time.Second),
			ReconcileInterval:        e.duration("RECONCILE_INTERVAL", time.Minute),
		},
		Storage: Storage{
			IPFSURL:        e.str("IPFS_API_URL", "localhost:5001"),
			Timeout:        e.duration("IPFS_TIMEOUT", 10*time.Second),
			HealthInterval: e.duration("IPFS_HEALTH_INTERVAL", 15*time.Second),
		},
		Database: Database{
			URL:        e.str("DATABASE_URL", ""),
			SQLitePath: e.str("SQLITE_PATH", ""),
		},
		Redis: RedisConfig{
			URL:          e.str("REDIS_URL", ""),
			PoolSize:     int(e.uint("REDIS_POOL_SIZE", 10)),
			MinIdleConns: int(e.uint("REDIS_MIN_IDLE_CONNS", 2)),
			DialTimeout:  e.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			LockTTL:      e.duration("REDIS_LOCK_TTL", 2*time.Minute),
		},
		Kafka: Kafka{
			Brokers: e.str("KAFKA_BROKERS", ""),
			Topic:   e.str("KAFKA_TOPIC", "credential-events"),
		},
		Proof: Proof{
			SigningKey: e.str("PROOF_SIGNING_KEY", ""),
			SaltSecret: e.str("PROOF_SALT_SECRET", ""),
		},
		IssuersJSON: e.str("ISSUERS_JSON", ""),
	}

	for _, name := range splitList(e.str("LEDGER_NETWORKS", "")) {
		prefix := "LEDGER_" + strings.ToUpper(name) + "_"
		cfg.Networks = append(cfg.Networks, Network{
			Name:       strings.ToLower(name),
			RPCURL:     e.required(prefix + "RPC_URL"),
			ChainID:    e.int(prefix+"CHAIN_ID", 0),
			Contract:   e.required(prefix + "CONTRACT"),
			PrivateKey: e.required(prefix + "PRIVATE_KEY"),
			GasLimit:   e.uint(prefix+"GAS_LIMIT", 0),
		})
	}

	if e.err != nil {
		return Config{}, e.err
	}
	if cfg.Server.JWTSigningKey == "" {
		if cfg.IsProduction() {
			return Config{}, fmt.Errorf("JWT_SIGNING_KEY is required in production")
		}
		cfg.Server.JWTSigningKey = devJWTSigningKey
	}
	if cfg.Credential.MinConfirmations == 0 {
		return Config{}, fmt.Errorf("MIN_CONFIRMATIONS must be at least 1")
	}
	if cfg.Storage.HealthInterval <= 0 {
		return Config{}, fmt.Errorf("IPFS_HEALTH_INTERVAL must be positive")
	}
	if cfg.Redis.URL != "" && cfg.Redis.LockTTL <= cfg.Credential.ConfirmationTimeout {
		// the lock must outlive the synchronous confirmation wait it guards
		return Config{}, fmt.Errorf("REDIS_LOCK_TTL (%s) must exceed CONFIRMATION_TIMEOUT (%s)",
			cfg.Redis.LockTTL, cfg.Credential.ConfirmationTimeout)
	}
	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// env records the first parse error so load reads top to bottom.
type env struct {
	getenv func(string) string
	err    error
}

func (e *env) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s: %w", key, err)
	}
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *env) required(key string) string {
	v := e.str(key, "")
	if v == "" {
		e.fail(key, fmt.Errorf("is required"))
	}
	return v
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}

func (e *env) uint(key string, def uint64) uint64 {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *env) int(key string, def int64) int64 {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
