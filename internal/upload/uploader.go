// Package upload persists a finished archive through the storage service.
// Whether the transfer is split into parts is decided by the storage side
// from the threshold and chunk parameters supplied here.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"batchzip/internal/models"
)

var (
	ErrArchiveMissing = errors.New("archive file missing")
	ErrEmptyArchive   = errors.New("archive file is empty")
	ErrNoDestination  = errors.New("no destination key")
)

type Transfer interface {
	UploadByChunks(ctx context.Context, org string, upload models.ChunkUpload, vis models.Visibility) (string, error)
}

type Options struct {
	ChunkSize     int64
	SizeThreshold int64
	Concurrency   int
	Retries       int
	RetryDelay    time.Duration
	Visibility    models.Visibility
}

type Result struct {
	StorageKey string `json:"storage_key"`
	SizeBytes  int64  `json:"size_bytes"`
}

type Uploader struct {
	transfer Transfer
	opts     Options
	logger   *slog.Logger
}

func New(transfer Transfer, opts Options, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Visibility == "" {
		opts.Visibility = models.VisibilityPrivate
	}
	return &Uploader{transfer: transfer, opts: opts, logger: logger}
}

func (u *Uploader) Upload(ctx context.Context, org, localPath, destinationKey string) (*Result, error) {
	if destinationKey == "" {
		return nil, ErrNoDestination
	}

	info, err := os.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrArchiveMissing, localPath)
		}
		return nil, fmt.Errorf("failed to stat archive %s: %w", localPath, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyArchive, localPath)
	}

	chunked := info.Size() >= u.opts.SizeThreshold
	u.logger.Info("uploading archive",
		"org", org,
		"storage_key", destinationKey,
		"size", info.Size(),
		"chunked", chunked,
	)

	key, err := u.transfer.UploadByChunks(ctx, org, models.ChunkUpload{
		LocalPath:      localPath,
		DestinationKey: destinationKey,
		ChunkSize:      u.opts.ChunkSize,
		SizeThreshold:  u.opts.SizeThreshold,
		Concurrency:    u.opts.Concurrency,
		Retries:        u.opts.Retries,
		RetryDelay:     u.opts.RetryDelay,
	}, u.opts.Visibility)
	if err != nil {
		return nil, fmt.Errorf("failed to upload archive to %s: %w", destinationKey, err)
	}
	if key == "" {
		key = destinationKey
	}

	return &Result{StorageKey: key, SizeBytes: info.Size()}, nil
}
