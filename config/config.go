package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Key formats accepted for the remote store credential.
const (
	KeyFormatJWT      = "jwt"
	KeyFormatSBSecret = "sb_secret"
	KeyFormatUnknown  = "unknown"
)

// Config represents the application configuration
type Config struct {
	// Direct Postgres store (preferred when set)
	DatabaseURL string

	// Remote PostgREST store
	SupabaseURL        string
	SupabaseServiceKey string

	// Worker configuration
	BatchSize       int
	MaxBatches      int
	ForceEnqueueAll bool
	RunInterval     time.Duration // 0 means a single pass

	// Discovery configuration
	FetchTimeout   time.Duration
	FetchBlockTime time.Duration

	// Memcache configuration (optional, fetch rate-limit blocks)
	MemcacheAddr string

	// Redis configuration (optional, result events)
	RedisAddr            string
	RedisDB              int
	RedisStream          string
	RedisStreamMaxLength int

	// Environment
	Environment string
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	streamMaxLen, _ := strconv.Atoi(getEnv("REDIS_STREAM_MAX_LENGTH", "500"))
	batchSize, _ := strconv.Atoi(getEnv("PRICE_WORKER_BATCH_SIZE", "20"))
	maxBatches, _ := strconv.Atoi(getEnv("PRICE_WORKER_MAX_BATCHES", "5"))
	fetchTimeout, _ := strconv.Atoi(getEnv("FETCH_TIMEOUT_SECONDS", "12"))
	blockTime, _ := strconv.Atoi(getEnv("FETCH_BLOCK_SECONDS", "300"))
	runInterval, _ := strconv.Atoi(getEnv("RUN_INTERVAL_SECONDS", "0"))

	return Config{
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		SupabaseURL:          os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey:   os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		BatchSize:            batchSize,
		MaxBatches:           maxBatches,
		ForceEnqueueAll:      getEnv("PRICE_WORKER_FORCE_ENQUEUE_ALL", "false") == "true",
		RunInterval:          time.Duration(runInterval) * time.Second,
		FetchTimeout:         time.Duration(fetchTimeout) * time.Second,
		FetchBlockTime:       time.Duration(blockTime) * time.Second,
		MemcacheAddr:         os.Getenv("MEMCACHE_ADDR"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisDB:              redisDB,
		RedisStream:          getEnv("REDIS_STREAM", "price_results"),
		RedisStreamMaxLength: streamMaxLen,
		Environment:          getEnv("PRICEWORKER_ENVIRONMENT", "development"),
	}
}

// Validate checks that the configuration is usable. Exactly one store must be
// reachable: DATABASE_URL, or SUPABASE_URL plus a sufficiently privileged key.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return errors.New("PRICE_WORKER_BATCH_SIZE must be positive")
	}
	if c.MaxBatches <= 0 {
		return errors.New("PRICE_WORKER_MAX_BATCHES must be positive")
	}
	if c.FetchTimeout <= 0 {
		return errors.New("FETCH_TIMEOUT_SECONDS must be positive")
	}

	if c.DatabaseURL != "" {
		return nil
	}

	if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
		return errors.New("configure DATABASE_URL, or SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY")
	}

	// Block only when the key is clearly an anon credential. Keys in the
	// sb_secret format carry no locally readable role; those are validated
	// against the store at startup.
	role := ParseJWTRole(c.SupabaseServiceKey)
	if role == "anon" {
		return errors.New("SUPABASE_SERVICE_ROLE_KEY looks like an anon key; use the service role key")
	}
	if DetectKeyFormat(c.SupabaseServiceKey) == KeyFormatJWT && role != "" && role != "service_role" {
		return fmt.Errorf("unexpected role %q in SUPABASE_SERVICE_ROLE_KEY; use the service role key", role)
	}

	return nil
}

// UsesRemoteStore reports whether the PostgREST store is selected.
func (c Config) UsesRemoteStore() bool {
	return c.DatabaseURL == ""
}

// DetectKeyFormat classifies a store credential by its shape.
func DetectKeyFormat(key string) string {
	value := strings.TrimSpace(key)
	if strings.HasPrefix(value, "eyJ") {
		return KeyFormatJWT
	}
	if strings.HasPrefix(value, "sb_") {
		return KeyFormatSBSecret
	}
	return KeyFormatUnknown
}

// ParseJWTRole extracts the role claim from an unverified JWT payload.
// Returns an empty string when the token is not readable as a JWT.
func ParseJWTRole(token string) string {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) < 2 {
		return ""
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ""
	}

	var payload struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return ""
	}
	return payload.Role
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
