package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Database DatabaseConfig
	Queue    QueueConfig
	Storage  StorageConfig
	ML       MLConfig
	Jobs     JobsConfig

	// SystemConfigPath points to an optional YAML file overriding the embedded system defaults.
	SystemConfigPath string
}

type DatabaseConfig struct {
	URL                    string // PostgreSQL connection URL
	MaxOpenConns           int    // Maximum open connections (default 25)
	MaxIdleConns           int    // Maximum idle connections (default 5)
	HNSWFaceIndexPath      string // Path to persist face HNSW index (optional, if empty index is rebuilt on startup)
	HNSWEmbeddingIndexPath string // Path to persist embedding HNSW index (optional, if empty index is rebuilt on startup)
	HNSWDisabled           bool   // Use PostgreSQL for neighbour search instead of the in-memory index
}

type QueueConfig struct {
	Backend       string // "memory" (default) or "redis"
	RedisAddr     string // defaults to localhost:6379
	RedisPassword string
	RedisDB       int
}

// UsesRedis reports whether tasks are persisted in Redis via asynq.
func (c *QueueConfig) UsesRedis() bool {
	return strings.EqualFold(c.Backend, "redis")
}

type StorageConfig struct {
	Backend string // "local" (default) or "minio"
	Root    string // local media root, defaults to ./upload

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string // defaults to photo-jobs
	MinIOUseSSL    bool
}

type MLConfig struct {
	URL string // defaults to http://localhost:8000
}

type JobsConfig struct {
	// Concurrency holds the per-queue worker count keyed by job name.
	// Populated from JOB_CONCURRENCY_<NAME> (e.g. JOB_CONCURRENCY_SMARTSEARCH=2).
	Concurrency map[string]int
	// DefaultConcurrency applies to queues without an explicit entry.
	DefaultConcurrency int
}

// ConcurrencyFor returns the worker count for a queue.
func (c *JobsConfig) ConcurrencyFor(name string) int {
	if n, ok := c.Concurrency[name]; ok && n > 0 {
		return n
	}
	if c.DefaultConcurrency > 0 {
		return c.DefaultConcurrency
	}
	return 1
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envBool reads an environment variable as a boolean ("1", "true", "yes").
func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// envString returns the env var or the default when unset.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// queueNames lists the queue names whose concurrency can be tuned via environment.
var queueNames = []string{
	"metadataExtraction",
	"thumbnailGeneration",
	"smartSearch",
	"faceDetection",
	"facialRecognition",
	"duplicateDetection",
}

func loadConcurrency() map[string]int {
	out := make(map[string]int, len(queueNames))
	for _, name := range queueNames {
		if n := envInt("JOB_CONCURRENCY_"+strings.ToUpper(name), 0); n > 0 {
			out[name] = n
		}
	}
	return out
}

func Load() *Config {
	redisDB, _ := strconv.Atoi(os.Getenv("REDIS_DB"))

	cfg := &Config{
		Database: DatabaseConfig{
			URL:                    os.Getenv("DATABASE_URL"),
			MaxOpenConns:           envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:           envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWFaceIndexPath:      os.Getenv("HNSW_FACE_INDEX_PATH"),
			HNSWEmbeddingIndexPath: os.Getenv("HNSW_EMBEDDING_INDEX_PATH"),
			HNSWDisabled:           envBool("HNSW_DISABLED"),
		},
		Queue: QueueConfig{
			Backend:       envString("QUEUE_BACKEND", "memory"),
			RedisAddr:     envString("REDIS_ADDR", "localhost:6379"),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
			RedisDB:       redisDB,
		},
		Storage: StorageConfig{
			Backend:        envString("STORAGE_BACKEND", "local"),
			Root:           envString("STORAGE_ROOT", "./upload"),
			MinIOEndpoint:  os.Getenv("MINIO_ENDPOINT"),
			MinIOAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			MinIOSecretKey: os.Getenv("MINIO_SECRET_KEY"),
			MinIOBucket:    envString("MINIO_BUCKET", "photo-jobs"),
			MinIOUseSSL:    envBool("MINIO_USE_SSL"),
		},
		ML: MLConfig{
			URL: os.Getenv("ML_URL"),
		},
		Jobs: JobsConfig{
			Concurrency:        loadConcurrency(),
			DefaultConcurrency: envInt("JOB_CONCURRENCY", 2),
		},
		SystemConfigPath: os.Getenv("SYSTEM_CONFIG_PATH"),
	}

	// Every worker process writes vectors to PostgreSQL, so a process-local
	// index would miss what the others saved.
	if cfg.Queue.UsesRedis() {
		cfg.Database.HNSWDisabled = true
	}
	return cfg
}
