package s3client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/sync/errgroup"

	appConfig "batchzip/config"
	"batchzip/internal/models"
	"batchzip/pkg/utils"
)

// headConcurrency bounds the existence checks GetLinks runs in parallel.
const headConcurrency = 8

var ErrNoBucket = errors.New("no bucket configured")

type Client struct {
	s3Client  *s3.Client
	presigner *s3.PresignClient
	config    *appConfig.Config
	logger    *slog.Logger
	now       func() time.Time
}

func New(cfg *appConfig.Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	awsConfig, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.StaticCredentialsProvider{
			Value: aws.Credentials{
				AccessKeyID:     cfg.AccessKey,
				SecretAccessKey: cfg.SecretKey,
			},
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Client *s3.Client
	if cfg.ApiURL != "" {
		s3Client = s3.NewFromConfig(awsConfig, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.ApiURL)
			o.UsePathStyle = true
		})
	} else {
		s3Client = s3.NewFromConfig(awsConfig)
	}

	return &Client{
		s3Client:  s3Client,
		presigner: s3.NewPresignClient(s3Client),
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (c *Client) bucketFor(vis models.Visibility) (string, error) {
	bucket := c.config.BucketName
	if vis == models.VisibilityPublic && c.config.PublicBucketName != "" {
		bucket = c.config.PublicBucketName
	}
	if bucket == "" {
		return "", ErrNoBucket
	}
	return bucket, nil
}

// GetLinks returns a signed GET link, keyed by storage key, for every
// requested object that exists. Missing keys are left out of the map; any
// other storage error fails the whole call.
func (c *Client) GetLinks(ctx context.Context, org string, reqs []models.LinkRequest, vis models.Visibility) (map[string]models.Link, error) {
	bucket, err := c.bucketFor(vis)
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		links = make(map[string]models.Link, len(reqs))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(headConcurrency)
	for _, req := range reqs {
		key := req.StorageKey
		g.Go(func() error {
			_, err := c.s3Client.HeadObject(gctx, &s3.HeadObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String(key),
			})
			if isNotFound(err) {
				c.logger.Debug("object not found", "org", org, "storage_key", key)
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to check object %s: %w", key, err)
			}

			link, err := c.presign(gctx, bucket, key, req.DisplayName)
			if err != nil {
				return err
			}

			mu.Lock()
			links[key] = *link
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return links, nil
}

func (c *Client) GetLink(ctx context.Context, org, key string, vis models.Visibility) (*models.Link, error) {
	bucket, err := c.bucketFor(vis)
	if err != nil {
		return nil, err
	}
	return c.presign(ctx, bucket, key, "")
}

// presign signs a GET for key served as displayName, or as the key's base
// name when displayName is empty.
func (c *Client) presign(ctx context.Context, bucket, key, displayName string) (*models.Link, error) {
	name := displayName
	if name == "" {
		name = path.Base(key)
	}
	ttl := c.config.LinkTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	issued := c.now()

	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(bucket),
		Key:                        aws.String(key),
		ResponseContentDisposition: aws.String(contentDisposition(name)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return nil, fmt.Errorf("failed to sign link for %s: %w", key, err)
	}

	return &models.Link{
		URL:          req.URL,
		Path:         key,
		ExpiresAt:    issued.Add(ttl),
		DownloadName: name,
	}, nil
}

// DownloadByChunks fetches sourceKey into destPath with concurrent ranged
// requests. Each request is retried opts.MaxRetries times and bounded by
// opts.ChunkTimeout.
func (c *Client) DownloadByChunks(ctx context.Context, org, sourceKey, destPath string, vis models.Visibility, opts models.ChunkOptions) error {
	bucket, err := c.bucketFor(vis)
	if err != nil {
		return err
	}

	file, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destPath, err)
	}
	defer file.Close()

	downloader := manager.NewDownloader(c.s3Client, func(d *manager.Downloader) {
		if opts.ChunkSize > 0 {
			d.PartSize = opts.ChunkSize
		}
		if opts.MaxConcurrency > 0 {
			d.Concurrency = opts.MaxConcurrency
		}
		d.ClientOptions = append(d.ClientOptions, withRetries(opts.MaxRetries, nil), withTimeout(opts.ChunkTimeout))
	})

	n, err := downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(sourceKey),
	})
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", sourceKey, err)
	}

	c.logger.Debug("chunked download finished", "org", org, "storage_key", sourceKey, "bytes", n)
	return nil
}

// UploadByChunks stores the local file under the destination key and returns
// that key. Files below the size threshold go up in one request.
func (c *Client) UploadByChunks(ctx context.Context, org string, upload models.ChunkUpload, vis models.Visibility) (string, error) {
	bucket, err := c.bucketFor(vis)
	if err != nil {
		return "", err
	}

	file, err := os.Open(upload.LocalPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %w", upload.LocalPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", upload.LocalPath, err)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(upload.DestinationKey),
		Body:        file,
		ContentType: aws.String(detectContentType(upload.DestinationKey)),
		Metadata:    map[string]string{"organization": org},
	}
	retries := withRetries(upload.Retries, fixedBackoff(upload.RetryDelay))

	if info.Size() < upload.SizeThreshold {
		input.ContentLength = aws.Int64(info.Size())
		if _, err := c.s3Client.PutObject(ctx, input, retries); err != nil {
			return "", fmt.Errorf("failed to upload to S3: %w", err)
		}
		return upload.DestinationKey, nil
	}

	uploader := manager.NewUploader(c.s3Client, func(u *manager.Uploader) {
		if upload.ChunkSize >= manager.MinUploadPartSize {
			u.PartSize = upload.ChunkSize
		}
		if upload.Concurrency > 0 {
			u.Concurrency = upload.Concurrency
		}
		u.ClientOptions = append(u.ClientOptions, retries)
	})

	out, err := uploader.Upload(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	if out.Key != nil && *out.Key != "" {
		return *out.Key, nil
	}
	return upload.DestinationKey, nil
}

// PruneArchives deletes objects under prefix last modified more than daysOld
// days ago. With dryRun set nothing is deleted.
func (c *Client) PruneArchives(ctx context.Context, prefix string, daysOld int, dryRun bool) (*models.PruneResult, error) {
	bucketName := c.config.BucketName
	cutoffDate := c.now().AddDate(0, 0, -daysOld)

	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var toDelete []types.ObjectIdentifier
	var deletedFiles []string
	var totalSize int64

	paginator := s3.NewListObjectsV2Paginator(c.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucketName),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.LastModified == nil || !obj.LastModified.Before(cutoffDate) {
				continue
			}
			toDelete = append(toDelete, types.ObjectIdentifier{Key: obj.Key})
			deletedFiles = append(deletedFiles, aws.ToString(obj.Key))
			totalSize += aws.ToInt64(obj.Size)
		}
	}

	deletedCount := 0
	if !dryRun {
		for batch := range slices.Chunk(toDelete, 1000) {
			_, err := c.s3Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(bucketName),
				Delete: &types.Delete{Objects: batch},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to delete objects batch: %w", err)
			}
			deletedCount += len(batch)
			c.logger.Info("deleted archive batch", "count", len(batch), "prefix", prefix)
		}
	}

	return &models.PruneResult{
		BucketName:     bucketName,
		Prefix:         prefix,
		DaysOld:        daysOld,
		DeletedFiles:   deletedFiles,
		DeletedCount:   deletedCount,
		TotalSizeBytes: totalSize,
		TotalSizeHuman: utils.FormatBytes(totalSize),
		OperationTime:  utils.FormatTime(c.now()),
		CutoffDate:     utils.FormatTime(cutoffDate),
		DryRun:         dryRun,
	}, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func withRetries(retries int, backoff retry.BackoffDelayer) func(*s3.Options) {
	return func(o *s3.Options) {
		o.Retryer = retry.NewStandard(func(so *retry.StandardOptions) {
			so.MaxAttempts = max(retries, 0) + 1
			if backoff != nil {
				so.Backoff = backoff
			}
		})
	}
}

func withTimeout(timeout time.Duration) func(*s3.Options) {
	return func(o *s3.Options) {
		if timeout > 0 {
			o.HTTPClient = awshttp.NewBuildableClient().WithTimeout(timeout)
		}
	}
}

type fixedBackoff time.Duration

func (b fixedBackoff) BackoffDelay(attempt int, err error) (time.Duration, error) {
	return time.Duration(b), nil
}

func contentDisposition(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}

func detectContentType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))

	contentTypes := map[string]string{
		".zip":  "application/zip",
		".json": "application/json",
		".txt":  "text/plain",
		".pdf":  "application/pdf",
	}

	if contentType, exists := contentTypes[ext]; exists {
		return contentType
	}
	if contentType := mime.TypeByExtension(ext); contentType != "" {
		return contentType
	}
	return "application/octet-stream"
}
