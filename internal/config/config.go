// Package config loads engine configuration from the environment. A .env
// file is honored when present so local development does not need exported
// variables.
package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the typed configuration for the api and worker binaries.
type Config struct {
	// HTTPPort is the listen port for the API binary.
	HTTPPort string
	// DataRoot is the directory under which per-job artifact directories live.
	DataRoot string
	// MaxConcurrentEncodes bounds the export worker pool. Defaults to half
	// the CPU count, minimum 1, when unset.
	MaxConcurrentEncodes int
	// FFmpegPath and FFprobePath override the binaries resolved from PATH.
	FFmpegPath  string
	FFprobePath string
	// DatabaseURL enables the durable export-history repository when set.
	DatabaseURL string
	// RedisAddr enables the distributed export queue when set.
	RedisAddr string
	// ExportQueueName is the redis list key for fleet-mode export tasks.
	ExportQueueName string
	// CORSAllowedOrigins for the HTTP surface.
	CORSAllowedOrigins []string
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment, honoring a .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		DataRoot:             getEnv("DATA_ROOT", "./data"),
		MaxConcurrentEncodes: getIntEnv("MAX_CONCURRENT_ENCODES", defaultEncodeBudget()),
		FFmpegPath:           getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:          getEnv("FFPROBE_PATH", "ffprobe"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		ExportQueueName:      getEnv("EXPORT_QUEUE_NAME", "vidforge:exports"),
		CORSAllowedOrigins:   getCSVEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		ShutdownTimeout:      getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// EncodeBudget implements the resource-budget collaborator consumed by the
// export orchestrator.
func (c Config) EncodeBudget() int {
	if c.MaxConcurrentEncodes < 1 {
		return 1
	}
	return c.MaxConcurrentEncodes
}

func defaultEncodeBudget() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	return n
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getCSVEnv(key string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
