package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"batchzip/config"
	"batchzip/internal/batch"
	"batchzip/internal/download"
	"batchzip/internal/links"
	"batchzip/internal/models"
	"batchzip/internal/s3client"
	"batchzip/internal/status"
	"batchzip/internal/upload"
)

// effectiveConfig applies command line overrides to a copy of the loaded
// configuration.
func effectiveConfig(cmd *cobra.Command) *config.Config {
	c := *cfg
	c.BucketName = getBucketName(cmd)
	return &c
}

func newRedisClient(c *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	})
}

func redisConnOpt(c *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

func newOrchestrator(c *config.Config, store status.Store, logger *slog.Logger) (*batch.Orchestrator, error) {
	client, err := s3client.New(c, logger)
	if err != nil {
		return nil, err
	}

	downloader := download.New(logger,
		download.NewChunkedStrategy(client, c.TempDir),
		download.NewDirectStrategy(c.DirectTimeout, c.DirectMaxRedirects),
	)
	uploader := upload.New(client, upload.Options{
		ChunkSize:     c.UploadChunkSize,
		SizeThreshold: c.UploadThreshold,
		Concurrency:   c.UploadConcurrency,
		Retries:       c.UploadMaxRetries,
		RetryDelay:    c.UploadRetryDelay,
		Visibility:    models.VisibilityPrivate,
	}, logger)

	return batch.New(
		links.NewResolver(client, models.VisibilityPrivate, logger),
		downloader,
		uploader,
		store,
		batch.Options{
			TempDir:         c.TempDir,
			ArchivePrefix:   c.ArchivePrefix,
			FallbackLinkTTL: c.FallbackLinkTTL,
			Visibility:      models.VisibilityPrivate,
			Download: models.ChunkOptions{
				ChunkSize:      c.DownloadChunkSize,
				MaxConcurrency: c.DownloadConcurrency,
				MaxRetries:     c.DownloadMaxRetries,
				ChunkTimeout:   c.DownloadChunkTimeout,
			},
		},
		logger,
	), nil
}

// loadTask reads a batch task from a JSON file, or stdin for "-". A missing
// cache key is generated.
func loadTask(path string, stdin io.Reader) (models.BatchTask, error) {
	var task models.BatchTask

	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return task, fmt.Errorf("failed to open task file: %w", err)
		}
		defer f.Close()
		r = f
	}

	if err := json.NewDecoder(r).Decode(&task); err != nil {
		return task, fmt.Errorf("failed to decode task: %w", err)
	}
	if task.CacheKey == "" {
		task.CacheKey = uuid.NewString()
	}
	if err := task.Validate(); err != nil {
		return task, fmt.Errorf("invalid task: %w", err)
	}
	return task, nil
}
