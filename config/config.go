package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ApiURL           string
	AccessKey        string
	SecretKey        string
	BucketName       string
	PublicBucketName string
	Region           string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StatusTTL       time.Duration
	LinkTTL         time.Duration
	FallbackLinkTTL time.Duration

	TempDir       string
	ArchivePrefix string

	DownloadChunkSize    int64
	DownloadConcurrency  int
	DownloadMaxRetries   int
	DownloadChunkTimeout time.Duration
	DirectTimeout        time.Duration
	DirectMaxRedirects   int

	UploadChunkSize   int64
	UploadThreshold   int64
	UploadConcurrency int
	UploadMaxRetries  int
	UploadRetryDelay  time.Duration

	WorkerConcurrency int
	QueueName         string
}

const (
	defaultDownloadChunkSize = 8 << 20
	defaultUploadChunkSize   = 16 << 20
	defaultUploadThreshold   = 32 << 20
)

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn(".env file not found, using environment variables only")
	}

	config := &Config{
		ApiURL:           getEnv("API_URL", ""),
		AccessKey:        getEnv("ACCESS_KEY", ""),
		SecretKey:        getEnv("SECRET_KEY", ""),
		BucketName:       getEnv("BUCKET_NAME", ""),
		PublicBucketName: getEnv("PUBLIC_BUCKET_NAME", ""),
		Region:           getEnv("REGION", ""),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		TempDir:          getEnv("TEMP_DIR", os.TempDir()),
		ArchivePrefix:    getEnv("ARCHIVE_PREFIX", "archives/"),
		QueueName:        getEnv("QUEUE_NAME", "default"),
	}

	var err error
	if config.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if config.StatusTTL, err = getEnvDuration("STATUS_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if config.LinkTTL, err = getEnvDuration("LINK_TTL", time.Hour); err != nil {
		return nil, err
	}
	if config.FallbackLinkTTL, err = getEnvDuration("FALLBACK_LINK_TTL", time.Hour); err != nil {
		return nil, err
	}
	if config.DownloadChunkSize, err = getEnvInt64("DOWNLOAD_CHUNK_SIZE", defaultDownloadChunkSize); err != nil {
		return nil, err
	}
	if config.DownloadConcurrency, err = getEnvInt("DOWNLOAD_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if config.DownloadMaxRetries, err = getEnvInt("DOWNLOAD_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if config.DownloadChunkTimeout, err = getEnvDuration("DOWNLOAD_CHUNK_TIMEOUT", time.Minute); err != nil {
		return nil, err
	}
	if config.DirectTimeout, err = getEnvDuration("DIRECT_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if config.DirectMaxRedirects, err = getEnvInt("DIRECT_MAX_REDIRECTS", 5); err != nil {
		return nil, err
	}
	if config.UploadChunkSize, err = getEnvInt64("UPLOAD_CHUNK_SIZE", defaultUploadChunkSize); err != nil {
		return nil, err
	}
	if config.UploadThreshold, err = getEnvInt64("UPLOAD_THRESHOLD", defaultUploadThreshold); err != nil {
		return nil, err
	}
	if config.UploadConcurrency, err = getEnvInt("UPLOAD_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if config.UploadMaxRetries, err = getEnvInt("UPLOAD_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if config.UploadRetryDelay, err = getEnvDuration("UPLOAD_RETRY_DELAY", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if config.WorkerConcurrency, err = getEnvInt("WORKER_CONCURRENCY", 2); err != nil {
		return nil, err
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
