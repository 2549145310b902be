// Package download fetches one remote file as a single-use stream.
//
// Strategies are tried in order and the first one that yields a stream wins.
// The usual chain is a chunked transfer into a local spool file followed by a
// direct streamed GET of the signed URL.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"batchzip/internal/models"

	"go.uber.org/multierr"
)

var (
	ErrNoStream   = errors.New("no stream available")
	ErrNoURL      = errors.New("no download url")
	ErrNoKey      = errors.New("no storage key")
	ErrBadStatus  = errors.New("unexpected response status")
	ErrRedirected = errors.New("too many redirects")
)

type Request struct {
	OrganizationCode string
	URL              string
	StorageKey       string
	Visibility       models.Visibility
	Options          models.ChunkOptions
}

type Strategy interface {
	Name() string
	Open(ctx context.Context, req Request) (*Stream, error)
}

// Transfer is the storage service's ranged download into a local file.
type Transfer interface {
	DownloadByChunks(ctx context.Context, org, sourceKey, destPath string, vis models.Visibility, opts models.ChunkOptions) error
}

type Downloader struct {
	strategies []Strategy
	logger     *slog.Logger
}

func New(logger *slog.Logger, strategies ...Strategy) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{strategies: strategies, logger: logger}
}

// Open returns the first stream any strategy produces. When all of them fail
// the error wraps ErrNoStream; the caller is expected to skip the file.
func (d *Downloader) Open(ctx context.Context, req Request) (*Stream, error) {
	var errs error
	for _, s := range d.strategies {
		stream, err := s.Open(ctx, req)
		if err == nil {
			return stream, nil
		}

		errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		d.logger.Warn("download strategy failed",
			"strategy", s.Name(),
			"storage_key", req.StorageKey,
			"error", err,
		)
		if ctx.Err() != nil {
			break
		}
	}

	if errs == nil {
		return nil, ErrNoStream
	}
	return nil, fmt.Errorf("%w for %s: %w", ErrNoStream, req.StorageKey, errs)
}

type ChunkedStrategy struct {
	transfer Transfer
	spoolDir string
}

func NewChunkedStrategy(transfer Transfer, spoolDir string) *ChunkedStrategy {
	return &ChunkedStrategy{transfer: transfer, spoolDir: spoolDir}
}

func (s *ChunkedStrategy) Name() string {
	return "chunked"
}

func (s *ChunkedStrategy) Open(ctx context.Context, req Request) (*Stream, error) {
	if req.StorageKey == "" {
		return nil, ErrNoKey
	}

	spool, err := os.CreateTemp(s.spoolDir, "spool-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}
	path := spool.Name()
	handedOff := false
	defer func() {
		if !handedOff {
			removeSpool(path)
		}
	}()

	if err := spool.Close(); err != nil {
		return nil, fmt.Errorf("failed to prepare spool file: %w", err)
	}

	err = s.transfer.DownloadByChunks(ctx, req.OrganizationCode, req.StorageKey, path, req.Visibility, req.Options)
	if err != nil {
		return nil, fmt.Errorf("chunked download failed: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spool file: %w", err)
	}
	handedOff = true
	return NewFileStream(f, s.Name()), nil
}

func removeSpool(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove spool file", "path", path, "error", err)
	}
}

type DirectStrategy struct {
	client *http.Client
}

// NewDirectStrategy fetches the signed URL over one connection. timeout bounds
// the whole request including the body; at most maxRedirects are followed.
func NewDirectStrategy(timeout time.Duration, maxRedirects int) *DirectStrategy {
	return &DirectStrategy{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return fmt.Errorf("%w: stopped after %d", ErrRedirected, maxRedirects)
				}
				return nil
			},
		},
	}
}

func (s *DirectStrategy) Name() string {
	return "direct"
}

func (s *DirectStrategy) Open(ctx context.Context, req Request) (*Stream, error) {
	if req.URL == "" {
		return nil, ErrNoURL
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: HTTP %d", ErrBadStatus, resp.StatusCode)
	}

	return NewReadCloserStream(resp.Body, s.Name()), nil
}
