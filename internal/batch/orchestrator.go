// Package batch runs one archival batch end to end: resolve links, stream
// every file into a zip archive, upload it and publish a download link.
//
// Files are processed one at a time in insertion order because the archive
// has a single writer. A file that cannot be fetched or appended is skipped;
// only a batch without links, without entries, or with a failed upload ends
// as failed. Run always returns a well-formed result.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"batchzip/internal/archive"
	"batchzip/internal/download"
	"batchzip/internal/links"
	"batchzip/internal/models"
	"batchzip/internal/pathnorm"
	"batchzip/internal/status"
	"batchzip/internal/upload"
	"batchzip/pkg/utils"

	"go.uber.org/multierr"
)

var (
	ErrNoValidLinks     = errors.New("no valid links")
	ErrNoFilesProcessed = errors.New("no files processed")
	errNoLink           = errors.New("file has no download link")
)

type LinkResolver interface {
	Resolve(ctx context.Context, org string, files []models.FileRef) ([]models.FileLinkDescriptor, error)
	ResolveOne(ctx context.Context, org, key string) (*models.Link, error)
}

type StreamOpener interface {
	Open(ctx context.Context, req download.Request) (*download.Stream, error)
}

type ArchiveUploader interface {
	Upload(ctx context.Context, org, localPath, destinationKey string) (*upload.Result, error)
}

type Options struct {
	// TempDir holds the in-progress archive and entry staging files.
	TempDir         string
	ArchivePrefix   string
	FallbackLinkTTL time.Duration
	Visibility      models.Visibility
	Download        models.ChunkOptions
}

type Orchestrator struct {
	links      LinkResolver
	downloader StreamOpener
	uploader   ArchiveUploader
	status     status.Store
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
}

func New(links LinkResolver, downloader StreamOpener, uploader ArchiveUploader, store status.Store, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Visibility == "" {
		opts.Visibility = models.VisibilityPrivate
	}
	if opts.FallbackLinkTTL <= 0 {
		opts.FallbackLinkTTL = time.Hour
	}
	return &Orchestrator{
		links:      links,
		downloader: downloader,
		uploader:   uploader,
		status:     store,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

type compressOutcome struct {
	entries int
	skipped []string
}

func (o *Orchestrator) Run(ctx context.Context, task models.BatchTask) (result models.BatchResult) {
	log := o.logger.With("cache_key", task.CacheKey, "org", task.OrganizationCode)
	statusCtx := context.WithoutCancel(ctx)
	total := len(task.Files)

	var (
		archiveFile *os.File
		archivePath string
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("batch panicked", "panic", r, "stack", string(debug.Stack()))
			if archiveFile != nil {
				// compress may have closed it already
				_ = archiveFile.Close()
			}
			result = o.fail(statusCtx, log, task.CacheKey, fmt.Sprintf("internal error: %v", r))
		}
		o.removeArchive(log, archivePath)
	}()

	o.status.SetProgress(statusCtx, task.CacheKey, models.StateStarting, 0, total, fmt.Sprintf("starting batch of %d files", total))
	log.Info("batch started", "files", total)

	if err := task.Validate(); err != nil {
		return o.fail(statusCtx, log, task.CacheKey, fmt.Sprintf("invalid task: %v", err))
	}

	descriptors, err := o.links.Resolve(ctx, task.OrganizationCode, task.Files)
	if err != nil {
		return o.fail(statusCtx, log, task.CacheKey, err.Error())
	}
	usable := links.CountUsable(descriptors)
	if usable == 0 {
		return o.fail(statusCtx, log, task.CacheKey, ErrNoValidLinks.Error())
	}
	o.status.SetProgress(statusCtx, task.CacheKey, models.StateLinksResolved, 0, total,
		fmt.Sprintf("resolved %d of %d links", usable, total))

	f, err := os.CreateTemp(o.opts.TempDir, "batch-*.zip")
	if err != nil {
		return o.fail(statusCtx, log, task.CacheKey, fmt.Sprintf("failed to create archive file: %v", err))
	}
	archiveFile, archivePath = f, f.Name()

	outcome, err := o.compress(ctx, statusCtx, log, task, descriptors, f)
	if err != nil {
		return o.fail(statusCtx, log, task.CacheKey, err.Error())
	}

	o.status.SetProgress(statusCtx, task.CacheKey, models.StateUploading, total, total, "uploading archive")
	name := utils.ArchiveName(task.TargetName, o.now())
	destination := DestinationKey(task, o.opts.ArchivePrefix, name)

	uploaded, err := o.uploader.Upload(ctx, task.OrganizationCode, archivePath, destination)
	o.removeArchive(log, archivePath)
	archivePath = ""
	if err != nil {
		return o.fail(statusCtx, log, task.CacheKey, err.Error())
	}

	downloadURL, expiresAt := o.archiveLink(ctx, log, task.OrganizationCode, uploaded.StorageKey)

	result = models.BatchResult{
		Success:           true,
		DownloadURL:       downloadURL,
		FileCount:         outcome.entries,
		ArchiveSizeBytes:  uploaded.SizeBytes,
		ExpiresAt:         expiresAt,
		ArchiveFileName:   name,
		ArchiveStorageKey: uploaded.StorageKey,
		SkippedFiles:      outcome.skipped,
	}
	o.status.SetCompleted(statusCtx, task.CacheKey, result)
	log.Info("batch completed",
		"entries", outcome.entries,
		"skipped", len(outcome.skipped),
		"size", uploaded.SizeBytes,
		"storage_key", uploaded.StorageKey,
	)
	return result
}

// compress writes every reachable file into f and closes it. The caller owns
// removal of the file.
func (o *Orchestrator) compress(ctx, statusCtx context.Context, log *slog.Logger, task models.BatchTask, descriptors []models.FileLinkDescriptor, f *os.File) (compressOutcome, error) {
	var outcome compressOutcome

	builder := archive.Open(f, archive.WithStagingDir(o.opts.TempDir), archive.WithLogger(log))
	names := pathnorm.NewNameSet()
	total := len(descriptors)

	for i, d := range descriptors {
		entry, err := o.processFile(ctx, builder, names, task, d)
		if err != nil {
			outcome.skipped = append(outcome.skipped, d.FileID)
			log.Warn("skipping file", "file_id", d.FileID, "storage_key", d.StorageKey, "error", err)
			if errors.Is(err, archive.ErrSink) || ctx.Err() != nil {
				return outcome, multierr.Append(err, f.Close())
			}
		}

		msg := fmt.Sprintf("compressed %d/%d files: %s", i+1, total, entry)
		if err != nil {
			msg = fmt.Sprintf("skipped %d/%d files: %s", i+1, total, d.FileID)
		}
		o.status.SetProgress(statusCtx, task.CacheKey, models.StateCompressing, i+1, total, msg)
	}

	if err := multierr.Append(builder.Finish(), f.Close()); err != nil {
		return outcome, fmt.Errorf("failed to finish archive: %w", err)
	}

	outcome.entries = builder.Entries()
	if outcome.entries == 0 {
		return outcome, ErrNoFilesProcessed
	}
	if info, err := os.Stat(f.Name()); err != nil || info.Size() == 0 {
		return outcome, ErrNoFilesProcessed
	}
	return outcome, nil
}

// processFile downloads one file and appends it. The stream is closed, and
// its spool file removed, before it returns.
func (o *Orchestrator) processFile(ctx context.Context, builder *archive.Builder, names *pathnorm.NameSet, task models.BatchTask, d models.FileLinkDescriptor) (string, error) {
	if !d.Usable() {
		return "", errNoLink
	}

	stream, err := o.downloader.Open(ctx, download.Request{
		OrganizationCode: task.OrganizationCode,
		URL:              d.URL,
		StorageKey:       d.StorageKey,
		Visibility:       o.opts.Visibility,
		Options:          o.opts.Download,
	})
	if err != nil {
		return "", err
	}
	defer func() {
		if err := stream.Close(); err != nil {
			o.logger.Warn("failed to release stream", "file_id", d.FileID, "error", err)
		}
	}()

	entry := names.Claim(pathnorm.ComputeEntryPath(task.Workdir, d.StorageKey))
	if _, err := builder.Append(ctx, entry, stream); err != nil {
		return entry, err
	}
	return entry, nil
}

func (o *Orchestrator) archiveLink(ctx context.Context, log *slog.Logger, org, key string) (string, time.Time) {
	link, err := o.links.ResolveOne(ctx, org, key)
	if err != nil {
		log.Warn("archive uploaded without download link", "storage_key", key, "error", err)
		return "", o.now().Add(o.opts.FallbackLinkTTL)
	}
	return link.URL, link.ExpiresAt
}

func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, cacheKey, message string) models.BatchResult {
	log.Error("batch failed", "error", message)
	o.status.SetFailed(ctx, cacheKey, message)
	return models.Failure(message)
}

func (o *Orchestrator) removeArchive(log *slog.Logger, path string) {
	if err := utils.CleanupTempFile(path); err != nil {
		log.Warn("failed to remove temporary archive", "path", path, "error", err)
	}
}
