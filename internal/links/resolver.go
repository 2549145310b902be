// Package links resolves storage keys into time-limited download links.
package links

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"batchzip/internal/models"
)

var ErrNoLink = errors.New("no link for key")

// Service is the storage side's link signer.
type Service interface {
	GetLinks(ctx context.Context, org string, reqs []models.LinkRequest, vis models.Visibility) (map[string]models.Link, error)
	GetLink(ctx context.Context, org, key string, vis models.Visibility) (*models.Link, error)
}

type Resolver struct {
	svc        Service
	visibility models.Visibility
	logger     *slog.Logger
}

func NewResolver(svc Service, vis models.Visibility, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if vis == "" {
		vis = models.VisibilityPrivate
	}
	return &Resolver{svc: svc, visibility: vis, logger: logger}
}

// Resolve signs every file's storage key in one call and returns one
// descriptor per file, in input order. Files without a link get a descriptor
// with an empty URL. A failing call is returned as is and not retried. A key
// shared by several files is signed once, under the first file's display name.
func (r *Resolver) Resolve(ctx context.Context, org string, files []models.FileRef) ([]models.FileLinkDescriptor, error) {
	reqs := make([]models.LinkRequest, 0, len(files))
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		if f.StorageKey == "" || seen[f.StorageKey] {
			continue
		}
		seen[f.StorageKey] = true
		reqs = append(reqs, models.LinkRequest{StorageKey: f.StorageKey, DisplayName: f.DisplayName})
	}

	var resolved map[string]models.Link
	if len(reqs) > 0 {
		var err error
		resolved, err = r.svc.GetLinks(ctx, org, reqs, r.visibility)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve links for %d keys: %w", len(reqs), err)
		}
	}

	out := make([]models.FileLinkDescriptor, 0, len(files))
	for _, f := range files {
		link, ok := resolved[f.StorageKey]
		if !ok || link.URL == "" {
			r.logger.Warn("no link for file", "org", org, "file_id", f.ID, "storage_key", f.StorageKey)
			out = append(out, models.FileLinkDescriptor{
				FileID:              f.ID,
				StorageKey:          f.StorageKey,
				OriginalDisplayName: f.DisplayName,
			})
			continue
		}

		downloadName := link.DownloadName
		if downloadName == "" {
			downloadName = f.DisplayName
		}
		out = append(out, models.FileLinkDescriptor{
			FileID:              f.ID,
			URL:                 link.URL,
			StorageKey:          f.StorageKey,
			ExpiresAt:           link.ExpiresAt,
			DownloadDisplayName: downloadName,
			OriginalDisplayName: f.DisplayName,
		})
	}
	return out, nil
}

// ResolveOne signs a single key, typically the uploaded archive.
func (r *Resolver) ResolveOne(ctx context.Context, org, key string) (*models.Link, error) {
	link, err := r.svc.GetLink(ctx, org, key, r.visibility)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve link for %s: %w", key, err)
	}
	if link == nil || link.URL == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoLink, key)
	}
	return link, nil
}

func CountUsable(descriptors []models.FileLinkDescriptor) int {
	n := 0
	for _, d := range descriptors {
		if d.Usable() {
			n++
		}
	}
	return n
}
