package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// FileRef is one remotely stored file that belongs to a batch.
type FileRef struct {
	ID          string `json:"id"`
	StorageKey  string `json:"storageKey"`
	DisplayName string `json:"displayName,omitempty"`
}

// FileSet keeps the files of a batch in insertion order.
//
// It decodes either from an array of FileRef or from an object keyed by file
// identifier; object key order is preserved.
type FileSet []FileRef

func (fs *FileSet) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*fs = nil
		return nil
	}

	if data[0] == '[' {
		var refs []FileRef
		if err := json.Unmarshal(data, &refs); err != nil {
			return fmt.Errorf("failed to decode file list: %w", err)
		}
		*fs = refs
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("failed to decode file set: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("file set must be an object or an array")
	}

	var refs []FileRef
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("failed to decode file set key: %w", err)
		}
		id, _ := tok.(string)

		var ref FileRef
		if err := dec.Decode(&ref); err != nil {
			return fmt.Errorf("failed to decode file %q: %w", id, err)
		}
		ref.ID = id
		if seen[id] {
			return fmt.Errorf("duplicate file identifier %q", id)
		}
		seen[id] = true
		refs = append(refs, ref)
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("failed to decode file set: %w", err)
	}

	*fs = refs
	return nil
}

// BatchTask is one compression job as carried by the trigger event.
type BatchTask struct {
	CacheKey         string  `json:"cacheKey"`
	OrganizationCode string  `json:"organizationCode"`
	Files            FileSet `json:"files"`
	Workdir          string  `json:"workdir,omitempty"`
	TargetName       string  `json:"targetName,omitempty"`
	TargetPath       string  `json:"targetPath,omitempty"`
}

func (t BatchTask) Validate() error {
	if t.CacheKey == "" {
		return fmt.Errorf("cacheKey is required")
	}
	if t.OrganizationCode == "" {
		return fmt.Errorf("organizationCode is required")
	}
	if len(t.Files) == 0 {
		return fmt.Errorf("at least one file is required")
	}
	seen := make(map[string]bool, len(t.Files))
	for i, f := range t.Files {
		if f.ID == "" {
			return fmt.Errorf("file %d has no id", i)
		}
		if seen[f.ID] {
			return fmt.Errorf("duplicate file id %q", f.ID)
		}
		seen[f.ID] = true
	}
	return nil
}

// FileLinkDescriptor is the resolved transfer target for one file. An empty
// URL marks a file whose link could not be resolved.
type FileLinkDescriptor struct {
	FileID              string    `json:"file_id"`
	URL                 string    `json:"url"`
	StorageKey          string    `json:"storage_key"`
	ExpiresAt           time.Time `json:"expires_at"`
	DownloadDisplayName string    `json:"download_display_name,omitempty"`
	OriginalDisplayName string    `json:"original_display_name,omitempty"`
}

func (d FileLinkDescriptor) Usable() bool {
	return d.URL != ""
}

// BatchResult is the terminal outcome of a batch. Success fields and Error are
// mutually exclusive.
type BatchResult struct {
	Success           bool      `json:"success"`
	DownloadURL       string    `json:"downloadUrl,omitempty"`
	FileCount         int       `json:"fileCount,omitempty"`
	ArchiveSizeBytes  int64     `json:"archiveSizeBytes,omitempty"`
	ExpiresAt         time.Time `json:"expiresAt,omitzero"`
	ArchiveFileName   string    `json:"archiveFileName,omitempty"`
	ArchiveStorageKey string    `json:"archiveStorageKey,omitempty"`
	SkippedFiles      []string  `json:"skippedFiles,omitempty"`
	Error             string    `json:"error,omitempty"`
}

func Failure(message string) BatchResult {
	return BatchResult{Success: false, Error: message}
}
