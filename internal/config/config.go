// Package config loads server settings from .env, the environment and flags.
// Flags win over environment variables, which win over defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/and161185/bruteguard/internal/lockout"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
)

// Config is the full server configuration.
type Config struct {
	Env      string `validate:"oneof=development production"`
	HTTPAddr string `validate:"required"`
	// GRPCAddr is the admin listener; empty disables the admin RPC.
	GRPCAddr string
	TLSCert  string `validate:"required_with=TLSKey"`
	TLSKey   string `validate:"required_with=TLSCert"`
	Dev      bool

	Backend       string `validate:"oneof=memory postgres redis mongo"`
	DSN           string `validate:"required_if=Backend postgres"`
	RedisAddr     string `validate:"required_if=Backend redis"`
	RedisPassword string
	RedisDB       int    `validate:"gte=0"`
	MongoURI      string `validate:"required_if=Backend mongo"`
	MongoDB       string `validate:"required_if=Backend mongo"`

	Threshold      int           `validate:"min=1"`
	BlockDuration  time.Duration `validate:"gt=0"`
	ResetOnSuccess bool
	StoreTimeout   time.Duration `validate:"gte=0"`
	MaxRetries     int           `validate:"gte=0"`
	RecordTTL      time.Duration `validate:"gte=0"`
	SweepInterval  time.Duration `validate:"gte=0"`

	// LoginRatePerMin caps requests per client IP on /v1/auth; 0 disables.
	LoginRatePerMin int `validate:"gte=0"`
	// TrustProxyHeaders keys clients by X-Forwarded-For / X-Real-IP.
	TrustProxyHeaders bool
	// AdminJWTKey signs admin tokens; required when GRPCAddr is set.
	AdminJWTKey     string        `validate:"required_with=GRPCAddr"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

// Lockout returns the guard settings.
func (c *Config) Lockout() lockout.Config {
	return lockout.Config{
		Threshold:      c.Threshold,
		BlockDuration:  c.BlockDuration,
		ResetOnSuccess: c.ResetOnSuccess,
		StoreTimeout:   c.StoreTimeout,
		MaxRetries:     c.MaxRetries,
	}
}

// Load reads an optional .env file, then BG_* variables, then args.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	def := lockout.DefaultConfig()
	cfg := &Config{}
	fs := flag.NewFlagSet("bruteguard", flag.ContinueOnError)

	fs.StringVar(&cfg.Env, "env", getEnv("BG_ENV", "production"), "development|production")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", getEnv("BG_HTTP_ADDR", ":8080"), "HTTP listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", getEnv("BG_GRPC_ADDR", ""), "admin gRPC listen address (empty disables)")
	fs.StringVar(&cfg.TLSCert, "tls-cert", getEnv("BG_TLS_CERT", ""), "admin TLS certificate (PEM)")
	fs.StringVar(&cfg.TLSKey, "tls-key", getEnv("BG_TLS_KEY", ""), "admin TLS private key (PEM)")
	fs.BoolVar(&cfg.Dev, "dev", getEnvAsBool("BG_DEV", false), "enable gRPC reflection (dev only)")

	fs.StringVar(&cfg.Backend, "store", getEnv("BG_STORE", BackendMemory), "attempt store: memory|postgres|redis|mongo")
	fs.StringVar(&cfg.DSN, "dsn", getEnv("BG_DSN", ""), "PostgreSQL DSN")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("BG_REDIS_ADDR", ""), "Redis address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", getEnv("BG_REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", getEnvAsInt("BG_REDIS_DB", 0), "Redis database")
	fs.StringVar(&cfg.MongoURI, "mongo-uri", getEnv("BG_MONGO_URI", ""), "MongoDB URI")
	fs.StringVar(&cfg.MongoDB, "mongo-db", getEnv("BG_MONGO_DB", "bruteguard"), "MongoDB database")

	fs.IntVar(&cfg.Threshold, "threshold", getEnvAsInt("BG_THRESHOLD", def.Threshold), "failures before a block")
	fs.DurationVar(&cfg.BlockDuration, "block-duration", getEnvAsDuration("BG_BLOCK_DURATION", def.BlockDuration), "block length")
	fs.BoolVar(&cfg.ResetOnSuccess, "reset-on-success", getEnvAsBool("BG_RESET_ON_SUCCESS", def.ResetOnSuccess), "clear the counter after a successful login")
	fs.DurationVar(&cfg.StoreTimeout, "store-timeout", getEnvAsDuration("BG_STORE_TIMEOUT", def.StoreTimeout), "timeout per storage call")
	fs.IntVar(&cfg.MaxRetries, "max-retries", getEnvAsInt("BG_MAX_RETRIES", def.MaxRetries), "retries of a conflicting update")
	fs.DurationVar(&cfg.RecordTTL, "record-ttl", getEnvAsDuration("BG_RECORD_TTL", 24*time.Hour), "redis record TTL")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", getEnvAsDuration("BG_SWEEP_INTERVAL", 0), "eager expiry interval (0 disables)")

	fs.IntVar(&cfg.LoginRatePerMin, "login-rate", getEnvAsInt("BG_LOGIN_RATE", 60), "login requests per minute per IP (0 disables)")
	fs.BoolVar(&cfg.TrustProxyHeaders, "trust-proxy", getEnvAsBool("BG_TRUST_PROXY", false), "take the client IP from proxy headers")
	fs.StringVar(&cfg.AdminJWTKey, "admin-jwt-key", getEnv("BG_ADMIN_JWT_KEY", ""), "HS256 key for admin tokens")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", getEnvAsDuration("BG_SHUTDOWN_TIMEOUT", 10*time.Second), "graceful shutdown limit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const minAdminKeyLen = 16

var validate = validator.New()

// Validate checks field constraints and reports them by field name.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		if c.AdminJWTKey != "" && len(c.AdminJWTKey) < minAdminKeyLen {
			return fmt.Errorf("invalid config: AdminJWTKey: shorter than %d bytes", minAdminKeyLen)
		}
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}
