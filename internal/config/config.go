package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config centralizes runtime settings for the ingestion drivers. It is built
// once at startup and passed in; nothing reads the environment mid-run.
type Config struct {
	APIBaseURL string
	TokenURL   string

	ClientID     string
	ClientSecret string
	RefreshToken string

	MarketplaceIDs []string

	SinkBackend string
	OutputDir   string
	S3Bucket    string
	S3Prefix    string
	S3Region    string

	DatabaseURL string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	LockKey        string
	LockTTLSeconds int

	RateLimitRPS   float64
	RateLimitBurst int

	HTTPTimeoutSeconds int

	RetryMaxAttempts        int
	RetryBackoff            []time.Duration
	NetworkRetryMaxAttempts int
	NetworkBackoff          []time.Duration

	PollIntervalSeconds int
	PollMaxAttempts     int

	StartDaysAgo  int
	EndDaysAgo    int
	BackfillYears int
	ChunkSize     int

	Parallel bool
}

func Load() Config {
	return Config{
		APIBaseURL: getEnv("SPAPI_BASE_URL", "https://sellingpartnerapi-fe.amazon.com"),
		TokenURL:   getEnv("SPAPI_TOKEN_URL", "https://api.amazon.com/auth/o2/token"),

		ClientID:     getEnv("SPAPI_CLIENT_ID", ""),
		ClientSecret: getEnv("SPAPI_CLIENT_SECRET", ""),
		RefreshToken: getEnv("SPAPI_REFRESH_TOKEN", ""),

		MarketplaceIDs: getEnvList("SPAPI_MARKETPLACE_IDS", []string{"A1VC38T7YXB528"}),

		SinkBackend: getEnv("SINK_BACKEND", "local"),
		OutputDir:   getEnv("OUTPUT_DIR", "data"),
		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3Prefix:    getEnv("S3_PREFIX", ""),
		S3Region:    getEnv("AWS_REGION", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		LockKey:        getEnv("RUN_LOCK_KEY", "sellersync:run"),
		LockTTLSeconds: getEnvInt("RUN_LOCK_TTL_SECONDS", 900),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 0.5),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 5),

		HTTPTimeoutSeconds: getEnvInt("HTTP_TIMEOUT_SECONDS", 90),

		RetryMaxAttempts:        getEnvInt("RETRY_MAX_ATTEMPTS", 4),
		RetryBackoff:            getEnvDurations("RETRY_BACKOFF_SECONDS", []time.Duration{60 * time.Second, 300 * time.Second, 300 * time.Second}),
		NetworkRetryMaxAttempts: getEnvInt("NETWORK_RETRY_MAX_ATTEMPTS", 3),
		NetworkBackoff:          getEnvDurations("NETWORK_BACKOFF_SECONDS", []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}),

		PollIntervalSeconds: getEnvInt("POLL_INTERVAL_SECONDS", 20),
		PollMaxAttempts:     getEnvInt("POLL_MAX_ATTEMPTS", 20),

		StartDaysAgo:  getEnvInt("START_DAYS_AGO", 8),
		EndDaysAgo:    getEnvInt("END_DAYS_AGO", 1),
		BackfillYears: getEnvInt("BACKFILL_YEARS", 2),
		ChunkSize:     getEnvInt("ASIN_CHUNK_SIZE", 10),

		Parallel: getEnvBool("PARALLEL", true),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var list []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			list = append(list, part)
		}
	}
	if len(list) == 0 {
		return fallback
	}
	return list
}

// getEnvDurations parses a comma-separated list of seconds, e.g. "60,300,300".
func getEnvDurations(key string, fallback []time.Duration) []time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var schedule []time.Duration
	for _, part := range strings.Split(value, ",") {
		seconds, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || seconds < 0 {
			return fallback
		}
		schedule = append(schedule, time.Duration(seconds)*time.Second)
	}
	if len(schedule) == 0 {
		return fallback
	}
	return schedule
}
