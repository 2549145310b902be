// Package archive assembles a zip archive from a sequence of byte streams.
//
// Each entry is deflated into a staging file next to the archive and copied
// into the sink in raw form only after its source ended cleanly, so a source
// that fails half way leaves no trace in the archive. Memory use is one copy
// buffer plus the compressor state, independent of entry and archive size.
// Sizes above 4 GiB are written with zip64 records.
package archive

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"go.uber.org/multierr"
)

const (
	DefaultLevel      = 6
	defaultBufferSize = 256 << 10
)

var (
	ErrFinished       = errors.New("archive already finished")
	ErrEmptyEntryName = errors.New("empty entry name")
	ErrSink           = errors.New("archive sink failed")
)

type Builder struct {
	zw         *zip.Writer
	sink       *countingWriter
	stagingDir string
	level      int
	buf        []byte
	now        func() time.Time
	logger     *slog.Logger

	entries  int
	finished bool
	err      error
}

type Option func(*Builder)

// WithStagingDir sets where per-entry staging files are created.
func WithStagingDir(dir string) Option {
	return func(b *Builder) {
		b.stagingDir = dir
	}
}

func WithLevel(level int) Option {
	return func(b *Builder) {
		b.level = level
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// Open starts an archive written to w. The caller keeps ownership of w and
// closes it after Finish.
func Open(w io.Writer, opts ...Option) *Builder {
	sink := &countingWriter{w: w}
	b := &Builder{
		zw:     zip.NewWriter(sink),
		sink:   sink,
		level:  DefaultLevel,
		buf:    make([]byte, defaultBufferSize),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Append adds one entry read from r and returns the number of uncompressed
// bytes stored. On a source error the archive is left unchanged. Errors
// wrapping ErrSink mean the archive itself is broken.
func (b *Builder) Append(ctx context.Context, name string, r io.Reader) (int64, error) {
	if b.finished {
		return 0, ErrFinished
	}
	if b.err != nil {
		return 0, b.err
	}
	if name == "" {
		return 0, ErrEmptyEntryName
	}

	staged, err := b.stage(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("failed to read entry %s: %w", name, err)
	}
	defer func() {
		if err := staged.release(); err != nil {
			b.logger.Warn("failed to remove staging file", "entry", name, "error", err)
		}
	}()

	header := &zip.FileHeader{
		Name:               name,
		Method:             zip.Deflate,
		CRC32:              staged.crc,
		CompressedSize64:   staged.compressedSize,
		UncompressedSize64: uint64(staged.size),
		Modified:           b.now(),
	}
	header.SetMode(0o644)

	w, err := b.zw.CreateRaw(header)
	if err != nil {
		b.err = fmt.Errorf("%w: failed to create entry %s: %v", ErrSink, name, err)
		return 0, b.err
	}
	if _, err := io.CopyBuffer(w, onlyReader{staged.file}, b.buf); err != nil {
		b.err = fmt.Errorf("%w: failed to write entry %s: %v", ErrSink, name, err)
		return 0, b.err
	}

	b.entries++
	return staged.size, nil
}

// Finish writes the central directory. Append is rejected afterwards.
func (b *Builder) Finish() error {
	if b.finished {
		return ErrFinished
	}
	b.finished = true
	if b.err != nil {
		return b.err
	}
	if err := b.zw.Close(); err != nil {
		b.err = fmt.Errorf("%w: failed to finalize archive: %v", ErrSink, err)
		return b.err
	}
	return nil
}

func (b *Builder) Entries() int {
	return b.entries
}

// BytesWritten is the number of bytes emitted to the sink so far.
func (b *Builder) BytesWritten() int64 {
	return b.sink.n
}

type stagedEntry struct {
	file           *os.File
	crc            uint32
	size           int64
	compressedSize uint64
}

func (s *stagedEntry) release() error {
	return multierr.Append(s.file.Close(), os.Remove(s.file.Name()))
}

func (b *Builder) stage(ctx context.Context, r io.Reader) (_ *stagedEntry, err error) {
	f, err := os.CreateTemp(b.stagingDir, "entry-*.deflate")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	staged := &stagedEntry{file: f}
	handedOff := false
	defer func() {
		if !handedOff {
			err = multierr.Append(err, staged.release())
		}
	}()

	fw, err := flate.NewWriter(f, b.level)
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	crc := crc32.NewIEEE()
	n, err := io.CopyBuffer(io.MultiWriter(fw, crc), &contextReader{ctx: ctx, r: r}, b.buf)
	if err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush compressor: %w", err)
	}

	compressed, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("failed to size staging file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind staging file: %w", err)
	}

	staged.crc = crc.Sum32()
	staged.size = n
	staged.compressedSize = uint64(compressed)
	handedOff = true
	return staged, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// onlyReader hides WriterTo so io.CopyBuffer uses the shared buffer.
type onlyReader struct {
	io.Reader
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
