package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr             string
	DatabaseURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	// TriggerJWTSecret protects POST /generate when non-empty.
	TriggerJWTSecret string

	LogMode string

	StorageBackend  string // gcs | local
	GCSBucket       string
	LocalStorageDir string

	RedisAddr    string
	RedisChannel string

	WorkerEnabled      bool
	WorkerID           string
	WorkerPollInterval time.Duration

	ImageOffsetEMU int64
	ImageSizeEMU   int64
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:          mustGetenv("DATABASE_URL"),
		CORSAllowCredentials: getbool("CORS_ALLOW_CREDENTIALS", false),
		TriggerJWTSecret:     getenv("TRIGGER_JWT_SECRET", ""),
		LogMode:              getenv("LOG_MODE", "dev"),
		StorageBackend:       strings.ToLower(getenv("STORAGE_BACKEND", "local")),
		GCSBucket:            getenv("GCS_BUCKET", ""),
		LocalStorageDir:      getenv("LOCAL_STORAGE_DIR", "./data"),
		RedisAddr:            getenv("REDIS_ADDR", ""),
		RedisChannel:         getenv("REDIS_CHANNEL", "deckgen.jobs"),
		WorkerEnabled:        getbool("WORKER_ENABLED", false),
		WorkerID:             getenv("WORKER_ID", hostnameOr("worker-1")),
		WorkerPollInterval:   getduration("WORKER_POLL_INTERVAL", 2*time.Second),
		ImageOffsetEMU:       getint64("IMAGE_OFFSET_EMU", 914400),
		ImageSizeEMU:         getint64("IMAGE_SIZE_EMU", 1828800),
	}

	origins := strings.Split(getenv("CORS_ALLOWED_ORIGINS", ""), ",")
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	if cfg.StorageBackend == "gcs" && cfg.GCSBucket == "" {
		panic("missing env: GCS_BUCKET (required when STORAGE_BACKEND=gcs)")
	}
	return cfg, nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func mustGetenv(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		panic("missing env: " + key)
	}
	return v
}

func getbool(key string, def bool) bool {
	switch strings.ToLower(getenv(key, "")) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func getint64(key string, def int64) int64 {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func getduration(key string, def time.Duration) time.Duration {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func hostnameOr(def string) string {
	h, err := os.Hostname()
	if err != nil || strings.TrimSpace(h) == "" {
		return def
	}
	return h
}
