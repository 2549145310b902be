package models

import "time"

// Visibility is the access scope storage operations are authorized under.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// LinkRequest asks for a link to StorageKey. DisplayName, when set, is the
// file name the link serves the object under.
type LinkRequest struct {
	StorageKey  string
	DisplayName string
}

// Link is what the link service returns for one storage key.
type Link struct {
	URL          string    `json:"url"`
	Path         string    `json:"path"`
	ExpiresAt    time.Time `json:"expires_at"`
	DownloadName string    `json:"download_name,omitempty"`
}

// ChunkOptions controls a ranged, concurrent download.
type ChunkOptions struct {
	ChunkSize      int64
	MaxConcurrency int
	MaxRetries     int
	ChunkTimeout   time.Duration
}

// ChunkUpload describes one archive upload. Files smaller than SizeThreshold
// are sent in a single request.
type ChunkUpload struct {
	LocalPath      string
	DestinationKey string
	ChunkSize      int64
	SizeThreshold  int64
	Concurrency    int
	Retries        int
	RetryDelay     time.Duration
}

type PruneResult struct {
	BucketName     string   `json:"bucket_name"`
	Prefix         string   `json:"prefix"`
	DaysOld        int      `json:"days_old"`
	DeletedFiles   []string `json:"deleted_files"`
	DeletedCount   int      `json:"deleted_count"`
	TotalSizeBytes int64    `json:"total_size_bytes"`
	TotalSizeHuman string   `json:"total_size_human"`
	OperationTime  string   `json:"operation_time"`
	CutoffDate     string   `json:"cutoff_date"`
	DryRun         bool     `json:"dry_run"`
}
