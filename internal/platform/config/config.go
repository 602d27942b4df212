package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full runtime configuration, read once at startup.
type Config struct {
	Server     Server
	Database   DatabaseConfig
	Redis      RedisConfig
	Attestor   AttestorConfig
	Decision   DecisionConfig
	Anchor     AnchorConfig
	Kafka      KafkaConfig
	Worldcheck WorldcheckConfig
	ParamsFile string
	LogLevel   string
	LogFormat  string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr       string
	AdminToken string
	Env        string
}

func (s Server) IsDev() bool { return s.Env == "dev" }

// DatabaseConfig selects PostgreSQL. An empty URL means in-memory stores.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig selects Redis leases. An empty URL means in-process locks.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type AttestorConfig struct {
	Seed        string
	ActiveKID   string
	RetiredKIDs []string
	SignTimeout time.Duration
}

type DecisionConfig struct {
	WaitTimeout  time.Duration
	LeaseTTL     time.Duration
	PendingAfter time.Duration
}

type AnchorConfig struct {
	Interval  time.Duration
	BatchSize int
	LeaseTTL  time.Duration
}

// KafkaConfig enables anchor publication when Brokers is non-empty.
type KafkaConfig struct {
	Brokers     []string
	AnchorTopic string
}

// WorldcheckConfig enables one-bit resolution when URL is non-empty.
type WorldcheckConfig struct {
	URL     string
	Timeout time.Duration
}

// devSeed is only accepted when CM_ENV=dev.
const devSeed = "contramind-dev-seed"

// FromEnv builds the configuration from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var errs []error
	durationVar := func(key string, def time.Duration) time.Duration {
		d, err := envDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}
	intVar := func(key string, def int) int {
		n, err := envInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return n
	}

	cfg := Config{
		Server: Server{
			Addr:       envString("CM_ADDR", ":8080"),
			AdminToken: os.Getenv("CM_ADMIN_TOKEN"),
			Env:        envString("CM_ENV", "prod"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    intVar("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    intVar("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: durationVar("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     intVar("REDIS_POOL_SIZE", 10),
			MinIdleConns: intVar("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  durationVar("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  durationVar("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: durationVar("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Attestor: AttestorConfig{
			Seed:        os.Getenv("ATTESTOR_SEED"),
			ActiveKID:   envString("ATTESTOR_ACTIVE_KID", "k1"),
			RetiredKIDs: envList("ATTESTOR_RETIRED_KIDS"),
			SignTimeout: durationVar("ATTESTOR_SIGN_TIMEOUT", 2*time.Second),
		},
		Decision: DecisionConfig{
			WaitTimeout:  durationVar("DECISION_WAIT_TIMEOUT", 5*time.Second),
			LeaseTTL:     durationVar("DECISION_LEASE_TTL", 10*time.Second),
			PendingAfter: durationVar("DECISION_PENDING_AFTER", 30*time.Second),
		},
		Anchor: AnchorConfig{
			Interval:  durationVar("ANCHOR_INTERVAL", time.Minute),
			BatchSize: intVar("ANCHOR_BATCH_SIZE", 1000),
			LeaseTTL:  durationVar("ANCHOR_LEASE_TTL", 2*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:     envList("KAFKA_BROKERS"),
			AnchorTopic: envString("KAFKA_ANCHOR_TOPIC", "contramind.anchors"),
		},
		Worldcheck: WorldcheckConfig{
			URL:     os.Getenv("WORLDCHECK_URL"),
			Timeout: durationVar("WORLDCHECK_TIMEOUT", 800*time.Millisecond),
		},
		ParamsFile: os.Getenv("PARAMS_FILE"),
		LogLevel:   envString("LOG_LEVEL", "info"),
		LogFormat:  envString("LOG_FORMAT", "json"),
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	if cfg.Attestor.Seed == "" {
		if !cfg.Server.IsDev() {
			return Config{}, errors.New("ATTESTOR_SEED is required outside CM_ENV=dev")
		}
		cfg.Attestor.Seed = devSeed
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the services cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Anchor.BatchSize <= 0 {
		errs = append(errs, errors.New("ANCHOR_BATCH_SIZE must be positive"))
	}
	for name, d := range map[string]time.Duration{
		"ANCHOR_INTERVAL":        c.Anchor.Interval,
		"ANCHOR_LEASE_TTL":       c.Anchor.LeaseTTL,
		"ATTESTOR_SIGN_TIMEOUT":  c.Attestor.SignTimeout,
		"DECISION_WAIT_TIMEOUT":  c.Decision.WaitTimeout,
		"DECISION_LEASE_TTL":     c.Decision.LeaseTTL,
		"DECISION_PENDING_AFTER": c.Decision.PendingAfter,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if strings.TrimSpace(c.Attestor.ActiveKID) == "" {
		errs = append(errs, errors.New("ATTESTOR_ACTIVE_KID must not be empty"))
	}
	for _, kid := range c.Attestor.RetiredKIDs {
		if kid == c.Attestor.ActiveKID {
			errs = append(errs, fmt.Errorf("ATTESTOR_RETIRED_KIDS contains the active kid %q", kid))
		}
	}
	return errors.Join(errs...)
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
