package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the process configuration loaded from the environment.
type Config struct {
	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	HTTPAddr      string
	LogLevel      string

	// Bar history: "sqlite", "postgres" or "none"
	HistorySource  string
	SQLitePath     string
	PostgresDSN    string
	ArchiveOutputs bool // also write rows to the SQLite indicator_outputs table
	WarmupChunk    int

	// Stream consumption
	ConsumerGroup string
	ConsumerName  string
	PELInterval   time.Duration
	PELMinIdle    time.Duration

	// Series: comma-separated seconds ("60,300") and symbols. Empty symbols
	// means discover streams in Redis.
	EnabledTFs string
	Symbols    string

	// Indicator sets: YAML file, else the INDICATOR_CONFIGS string.
	IndicatorFile    string
	IndicatorConfigs string
	ExternalBackend  bool

	OutputBuffer    int
	RedisBufferRows int
}

// Load reads an optional .env file and then environment variables with
// defaults. Variables already set in the environment win over the file.
func Load(envFile string) *Config {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			log.Printf("[config] could not read %s: %v", envFile, err)
		}
	}

	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		HTTPAddr:      getEnv("INDENGINE_HTTP_ADDR", ":9095"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		HistorySource:  strings.ToLower(getEnv("HISTORY_SOURCE", "sqlite")),
		SQLitePath:     getEnv("SQLITE_PATH", "data/bars.db"),
		PostgresDSN:    getEnv("POSTGRES_DSN", ""),
		ArchiveOutputs: getEnvBool("ARCHIVE_OUTPUTS", false),
		WarmupChunk:    getEnvInt("WARMUP_CHUNK", 5000),

		ConsumerGroup: getEnv("CONSUMER_GROUP", "indengine"),
		ConsumerName:  getEnv("CONSUMER_NAME", ""),
		PELInterval:   getEnvDuration("PEL_RECLAIM_INTERVAL", 30*time.Second),
		PELMinIdle:    getEnvDuration("PEL_MIN_IDLE", time.Minute),

		EnabledTFs: getEnv("ENABLED_TFS", "60,300"),
		Symbols:    getEnv("SYMBOLS", ""),

		IndicatorFile:    getEnv("INDICATOR_FILE", ""),
		IndicatorConfigs: getEnv("INDICATOR_CONFIGS", ""),
		ExternalBackend:  getEnvBool("EXTERNAL_BACKEND", true),

		OutputBuffer:    getEnvInt("OUTPUT_BUFFER", 10000),
		RedisBufferRows: getEnvInt("REDIS_BUFFER_ROWS", 10000),
	}
}

// ParseTFs parses EnabledTFs into timeframe durations in seconds, skipping
// invalid values.
func (c *Config) ParseTFs() []int {
	parts := strings.Split(c.EnabledTFs, ",")
	tfs := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			log.Printf("[config] skipping invalid TF value: %q", p)
			continue
		}
		tfs = append(tfs, n)
	}
	return tfs
}

// ParseSymbols splits Symbols on commas.
func (c *Config) ParseSymbols() []string {
	var out []string
	for _, s := range strings.Split(c.Symbols, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

// getEnvDuration accepts Go durations ("30s") or bare seconds ("30").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
	return fallback
}
