package batch

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"batchzip/internal/download"
	"batchzip/internal/models"
	"batchzip/internal/status"
	"batchzip/internal/upload"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeLinks struct {
	missing    map[string]bool
	err        error
	archiveErr error
	resolved   int
}

func (f *fakeLinks) Resolve(ctx context.Context, org string, files []models.FileRef) ([]models.FileLinkDescriptor, error) {
	f.resolved++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.FileLinkDescriptor, 0, len(files))
	for _, file := range files {
		d := models.FileLinkDescriptor{FileID: file.ID, StorageKey: file.StorageKey, OriginalDisplayName: file.DisplayName}
		if !f.missing[file.StorageKey] {
			d.URL = "https://storage.example/" + file.StorageKey
			d.ExpiresAt = fixedNow.Add(time.Hour)
		}
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeLinks) ResolveOne(ctx context.Context, org, key string) (*models.Link, error) {
	if f.archiveErr != nil {
		return nil, f.archiveErr
	}
	return &models.Link{URL: "https://storage.example/" + key, Path: key, ExpiresAt: fixedNow.Add(2 * time.Hour)}, nil
}

type fakeTransfer struct {
	mu      sync.Mutex
	content map[string]string
	panicOn string
	calls   int
}

func (f *fakeTransfer) DownloadByChunks(ctx context.Context, org, sourceKey, destPath string, vis models.Visibility, opts models.ChunkOptions) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if sourceKey == f.panicOn {
		panic("transfer exploded")
	}
	data, ok := f.content[sourceKey]
	if !ok {
		return errors.New("NoSuchKey: " + sourceKey)
	}
	return os.WriteFile(destPath, []byte(data), 0o600)
}

// brokenOpener serves key from a reader that fails after a few bytes and
// delegates every other key.
type brokenOpener struct {
	next   StreamOpener
	key    string
	panics bool
}

func (b *brokenOpener) Open(ctx context.Context, req download.Request) (*download.Stream, error) {
	if req.StorageKey != b.key {
		return b.next.Open(ctx, req)
	}
	r := &halfReader{data: []byte("partial"), panics: b.panics}
	return download.NewReadCloserStream(io.NopCloser(r), "broken"), nil
}

type halfReader struct {
	data   []byte
	panics bool
}

func (h *halfReader) Read(p []byte) (int, error) {
	if len(h.data) == 0 {
		if h.panics {
			panic("stream exploded")
		}
		return 0, errors.New("connection reset mid-stream")
	}
	n := copy(p, h.data)
	h.data = h.data[n:]
	return n, nil
}

type fakeUploader struct {
	err     error
	calls   int
	dest    string
	entries map[string]string
	order   []string
}

func (f *fakeUploader) Upload(ctx context.Context, org, localPath, destinationKey string) (*upload.Result, error) {
	f.calls++
	f.dest = destinationKey
	if f.err != nil {
		return nil, f.err
	}

	zr, err := zip.OpenReader(localPath)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	f.entries = make(map[string]string)
	for _, file := range zr.File {
		rc, err := file.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		f.entries[file.Name] = string(data)
		f.order = append(f.order, file.Name)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, err
	}
	return &upload.Result{StorageKey: destinationKey, SizeBytes: info.Size()}, nil
}

type harness struct {
	orch     *Orchestrator
	links    *fakeLinks
	transfer *fakeTransfer
	uploader *fakeUploader
	store    *status.MemoryStore
	tempDir  string
	spoolDir string
}

func newHarness(t *testing.T, content map[string]string) *harness {
	t.Helper()

	h := &harness{
		links:    &fakeLinks{missing: map[string]bool{}},
		transfer: &fakeTransfer{content: content},
		uploader: &fakeUploader{},
		store:    status.NewMemoryStore(),
		tempDir:  t.TempDir(),
		spoolDir: t.TempDir(),
	}
	downloader := download.New(nil, download.NewChunkedStrategy(h.transfer, h.spoolDir))
	h.orch = New(h.links, downloader, h.uploader, h.store, Options{
		TempDir:         h.tempDir,
		ArchivePrefix:   "archives/",
		FallbackLinkTTL: 30 * time.Minute,
		Download:        models.ChunkOptions{ChunkSize: 1024, MaxConcurrency: 2, MaxRetries: 1},
	}, nil)
	h.orch.now = func() time.Time { return fixedNow }
	return h
}

func (h *harness) assertNoTempFiles(t *testing.T) {
	t.Helper()
	for _, dir := range []string{h.tempDir, h.spoolDir} {
		left, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, left, "temporary files left in %s", dir)
	}
}

func (h *harness) assertMonotonicProgress(t *testing.T, cacheKey string) {
	t.Helper()
	last := 0
	for _, st := range h.store.History(cacheKey) {
		if st.State == models.StateCompleted || st.State == models.StateFailed {
			continue
		}
		assert.GreaterOrEqual(t, st.Done, last, "progress went backwards")
		assert.LessOrEqual(t, st.Done, st.Total, "progress exceeds total")
		last = st.Done
	}
}

func newTask(files ...models.FileRef) models.BatchTask {
	return models.BatchTask{
		CacheKey:         "cache-1",
		OrganizationCode: "org",
		Files:            files,
		Workdir:          "org/wd",
	}
}

func TestRunSuccessSkipsFailedDownloads(t *testing.T) {
	h := newHarness(t, map[string]string{
		"org/wd/a.txt":     "alpha",
		"org/wd/sub/b.txt": "bravo",
	})

	task := newTask(
		models.FileRef{ID: "f1", StorageKey: "org/wd/a.txt"},
		models.FileRef{ID: "f2", StorageKey: "org/wd/gone.txt"},
		models.FileRef{ID: "f3", StorageKey: "org/wd/sub/b.txt"},
	)
	task.TargetName = "export"

	result := h.orch.Run(context.Background(), task)

	require.True(t, result.Success, result.Error)
	assert.Empty(t, result.Error)
	assert.Equal(t, 2, result.FileCount)
	assert.Equal(t, []string{"f2"}, result.SkippedFiles)
	assert.Equal(t, "export.zip", result.ArchiveFileName)
	assert.Equal(t, "archives/org/export.zip", result.ArchiveStorageKey)
	assert.Equal(t, "https://storage.example/archives/org/export.zip", result.DownloadURL)
	assert.Equal(t, fixedNow.Add(2*time.Hour), result.ExpiresAt)
	assert.Positive(t, result.ArchiveSizeBytes)

	assert.Equal(t, map[string]string{"a.txt": "alpha", "sub/b.txt": "bravo"}, h.uploader.entries)
	assert.Equal(t, []string{"a.txt", "sub/b.txt"}, h.uploader.order)
	assert.Len(t, h.uploader.entries, result.FileCount)

	st, err := h.store.Get(context.Background(), "cache-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, st.State)
	assert.Equal(t, result, *st.Result)

	var compressing []int
	for _, s := range h.store.History("cache-1") {
		if s.State == models.StateCompressing {
			compressing = append(compressing, s.Done)
		}
	}
	assert.Equal(t, []int{1, 2, 3}, compressing, "one progress unit per attempted file")

	h.assertMonotonicProgress(t, "cache-1")
	h.assertNoTempFiles(t)
}

func TestRunNoValidLinks(t *testing.T) {
	h := newHarness(t, map[string]string{"org/wd/a.txt": "alpha"})
	h.links.missing = map[string]bool{"org/wd/a.txt": true}

	result := h.orch.Run(context.Background(), newTask(models.FileRef{ID: "f1", StorageKey: "org/wd/a.txt"}))

	assert.Equal(t, models.Failure("no valid links"), result)
	assert.Zero(t, h.transfer.calls, "no download attempted")
	assert.Zero(t, h.uploader.calls, "no upload attempted")

	st, err := h.store.Get(context.Background(), "cache-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, st.State)
	h.assertNoTempFiles(t)
}

func TestRunLinkResolutionError(t *testing.T) {
	h := newHarness(t, nil)
	h.links.err = errors.New("link service unavailable")

	result := h.orch.Run(context.Background(), newTask(models.FileRef{ID: "f1", StorageKey: "org/wd/a.txt"}))

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "link service unavailable")
	assert.Zero(t, h.uploader.calls)
}

func TestRunAllDownloadsFail(t *testing.T) {
	h := newHarness(t, map[string]string{})

	result := h.orch.Run(context.Background(), newTask(
		models.FileRef{ID: "f1", StorageKey: "org/wd/a.txt"},
		models.FileRef{ID: "f2", StorageKey: "org/wd/b.txt"},
	))

	assert.Equal(t, models.Failure("no files processed"), result)
	assert.Equal(t, 2, h.transfer.calls)
	assert.Zero(t, h.uploader.calls)
	h.assertMonotonicProgress(t, "cache-1")
	h.assertNoTempFiles(t)
}

func TestRunUploadFailure(t *testing.T) {
	h := newHarness(t, map[string]string{"org/wd/a.txt": "alpha"})
	h.uploader.err = errors.New("multipart upload aborted")

	result := h.orch.Run(context.Background(), newTask(models.FileRef{ID: "f1", StorageKey: "org/wd/a.txt"}))

	assert.False(t, result.Success)
	assert.Equal(t, "multipart upload aborted", result.Error)
	assert.Empty(t, result.DownloadURL)
	assert.Zero(t, result.FileCount)
	h.assertNoTempFiles(t)
}

func TestRunArchiveLinkFailureStillSucceeds(t *testing.T) {
	h := newHarness(t, map[string]string{"org/wd/a.txt": "alpha"})
	h.links.archiveErr = errors.New("presign failed")

	task := newTask(models.FileRef{ID: "f1", StorageKey: "org/wd/a.txt"})
	task.TargetPath = "exports/2025"
	result := h.orch.Run(context.Background(), task)

	require.True(t, result.Success)
	assert.Empty(t, result.DownloadURL)
	assert.Equal(t, fixedNow.Add(30*time.Minute), result.ExpiresAt)
	assert.Equal(t, "exports/2025/batch_20250601_120000.zip", result.ArchiveStorageKey)
	assert.Equal(t, 1, result.FileCount)
	h.assertNoTempFiles(t)
}

func TestRunSkipsPlaceholderLinks(t *testing.T) {
	h := newHarness(t, map[string]string{
		"org/wd/a.txt": "alpha",
		"org/wd/b.txt": "bravo",
	})
	h.links.missing = map[string]bool{"org/wd/b.txt": true}

	result := h.orch.Run(context.Background(), newTask(
		models.FileRef{ID: "f1", StorageKey: "org/wd/a.txt"},
		models.FileRef{ID: "f2", StorageKey: "org/wd/b.txt"},
	))

	require.True(t, result.Success)
	assert.Equal(t, 1, result.FileCount)
	assert.Equal(t, []string{"f2"}, result.SkippedFiles)
	assert.Equal(t, 1, h.transfer.calls, "placeholder is never downloaded")
}

func TestRunDuplicateEntryNames(t *testing.T) {
	h := newHarness(t, map[string]string{
		"x/one/report.pdf": "first",
		"y/one/report.pdf": "second",
	})

	task := newTask(
		models.FileRef{ID: "f1", StorageKey: "x/one/report.pdf"},
		models.FileRef{ID: "f2", StorageKey: "y/one/report.pdf"},
	)
	task.Workdir = "elsewhere"
	result := h.orch.Run(context.Background(), task)

	require.True(t, result.Success)
	assert.Equal(t, map[string]string{
		"one/report.pdf":     "first",
		"one/report (1).pdf": "second",
	}, h.uploader.entries)
}

func TestRunRecoversFromPanic(t *testing.T) {
	h := newHarness(t, map[string]string{"org/wd/a.txt": "alpha"})
	h.transfer.panicOn = "org/wd/a.txt"

	result := h.orch.Run(context.Background(), newTask(models.FileRef{ID: "f1", StorageKey: "org/wd/a.txt"}))

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "internal error")
	st, err := h.store.Get(context.Background(), "cache-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, st.State)
	h.assertNoTempFiles(t)
}

func TestRunRecoversFromPanickingStream(t *testing.T) {
	h := newHarness(t, map[string]string{"org/wd/a.txt": "alpha", "org/wd/b.txt": "bravo"})
	h.orch.downloader = &brokenOpener{next: h.orch.downloader, key: "org/wd/b.txt", panics: true}

	result := h.orch.Run(context.Background(), newTask(
		models.FileRef{ID: "f1", StorageKey: "org/wd/a.txt"},
		models.FileRef{ID: "f2", StorageKey: "org/wd/b.txt"},
	))

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "internal error")
	assert.Zero(t, h.uploader.calls)
	h.assertNoTempFiles(t)
}

func TestRunSkipsStreamFailingMidRead(t *testing.T) {
	h := newHarness(t, map[string]string{
		"org/wd/a.txt": "alpha",
		"org/wd/b.txt": "bravo",
		"org/wd/c.txt": "charlie",
	})
	h.orch.downloader = &brokenOpener{next: h.orch.downloader, key: "org/wd/b.txt"}

	result := h.orch.Run(context.Background(), newTask(
		models.FileRef{ID: "f1", StorageKey: "org/wd/a.txt"},
		models.FileRef{ID: "f2", StorageKey: "org/wd/b.txt"},
		models.FileRef{ID: "f3", StorageKey: "org/wd/c.txt"},
	))

	require.True(t, result.Success, result.Error)
	assert.Equal(t, 2, result.FileCount)
	assert.Equal(t, []string{"f2"}, result.SkippedFiles)
	assert.Equal(t, map[string]string{"a.txt": "alpha", "c.txt": "charlie"}, h.uploader.entries)
	h.assertMonotonicProgress(t, "cache-1")
	h.assertNoTempFiles(t)
}

func TestRunInvalidTask(t *testing.T) {
	h := newHarness(t, nil)

	result := h.orch.Run(context.Background(), models.BatchTask{CacheKey: "cache-1", OrganizationCode: "org"})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "invalid task")
	assert.Zero(t, h.links.resolved)
}
