package download

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"batchzip/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransfer struct {
	content map[string]string
	err     error
	remove  bool
	panics  bool
	calls   int
	opts    models.ChunkOptions
}

func (f *fakeTransfer) DownloadByChunks(ctx context.Context, org, sourceKey, destPath string, vis models.Visibility, opts models.ChunkOptions) error {
	f.calls++
	f.opts = opts
	if f.panics {
		panic("transfer blew up")
	}
	if f.err != nil {
		return f.err
	}
	if f.remove {
		return os.Remove(destPath)
	}
	data, ok := f.content[sourceKey]
	if !ok {
		return errors.New("NoSuchKey")
	}
	return os.WriteFile(destPath, []byte(data), 0o600)
}

func spoolFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "spool-*"))
	require.NoError(t, err)
	return matches
}

func TestChunkedStreamDeletesSpoolOnClose(t *testing.T) {
	dir := t.TempDir()
	transfer := &fakeTransfer{content: map[string]string{"org/a.txt": "alpha"}}
	d := New(nil, NewChunkedStrategy(transfer, dir))

	opts := models.ChunkOptions{ChunkSize: 1024, MaxConcurrency: 3, MaxRetries: 2}
	stream, err := d.Open(context.Background(), Request{StorageKey: "org/a.txt", Options: opts})
	require.NoError(t, err)
	assert.Equal(t, "chunked", stream.Source())
	assert.Equal(t, opts, transfer.opts)
	assert.Len(t, spoolFiles(t, dir), 1)

	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))

	require.NoError(t, stream.Close())
	assert.Empty(t, spoolFiles(t, dir))

	require.NoError(t, stream.Close(), "second close is a no-op")
	_, err = stream.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestChunkedFailureFallsBackToDirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "from-direct")
	}))
	defer srv.Close()

	dir := t.TempDir()
	transfer := &fakeTransfer{err: errors.New("connection refused")}
	d := New(nil, NewChunkedStrategy(transfer, dir), NewDirectStrategy(5*time.Second, 3))

	stream, err := d.Open(context.Background(), Request{URL: srv.URL, StorageKey: "org/a.txt"})
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, "direct", stream.Source())
	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "from-direct", string(data))
	assert.Equal(t, 1, transfer.calls)
	assert.Empty(t, spoolFiles(t, dir), "failed chunked attempt must not leave a spool file")
}

func TestMissingSpoolFallsBackToDirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := New(nil, NewChunkedStrategy(&fakeTransfer{remove: true}, dir), NewDirectStrategy(5*time.Second, 3))

	stream, err := d.Open(context.Background(), Request{URL: srv.URL, StorageKey: "org/a.txt"})
	require.NoError(t, err)
	defer stream.Close()
	assert.Equal(t, "direct", stream.Source())
}

func TestAllStrategiesFailReturnsNoStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := New(nil,
		NewChunkedStrategy(&fakeTransfer{err: errors.New("timeout")}, dir),
		NewDirectStrategy(5*time.Second, 3),
	)

	stream, err := d.Open(context.Background(), Request{URL: srv.URL, StorageKey: "org/a.txt"})
	assert.Nil(t, stream)
	require.ErrorIs(t, err, ErrNoStream)
	assert.ErrorIs(t, err, ErrBadStatus)
	assert.Empty(t, spoolFiles(t, dir))
}

func TestChunkedPanicRemovesSpool(t *testing.T) {
	dir := t.TempDir()
	s := NewChunkedStrategy(&fakeTransfer{panics: true}, dir)

	assert.Panics(t, func() {
		s.Open(context.Background(), Request{StorageKey: "org/a.txt"})
	})
	assert.Empty(t, spoolFiles(t, dir))
}

func TestNoStrategies(t *testing.T) {
	_, err := New(nil).Open(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoStream)
}

func TestDirectStrategyRedirectLimit(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/again", http.StatusFound)
	}))
	defer srv.Close()

	_, err := NewDirectStrategy(5*time.Second, 2).Open(context.Background(), Request{URL: srv.URL})
	assert.ErrorIs(t, err, ErrRedirected)
}

func TestDirectStrategyFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "landed")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	stream, err := NewDirectStrategy(5*time.Second, 2).Open(context.Background(), Request{URL: srv.URL + "/start"})
	require.NoError(t, err)
	defer stream.Close()

	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "landed", string(data))
}

func TestDirectStrategyTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewDirectStrategy(50*time.Millisecond, 1).Open(context.Background(), Request{URL: srv.URL})
	assert.Error(t, err)
}

func TestStrategiesRejectMissingInput(t *testing.T) {
	_, err := NewDirectStrategy(time.Second, 1).Open(context.Background(), Request{StorageKey: "k"})
	assert.ErrorIs(t, err, ErrNoURL)

	_, err = NewChunkedStrategy(&fakeTransfer{}, t.TempDir()).Open(context.Background(), Request{URL: "http://x"})
	assert.ErrorIs(t, err, ErrNoKey)
}
