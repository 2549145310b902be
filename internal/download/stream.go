package download

import (
	"errors"
	"io"
	"os"
	"sync"

	"go.uber.org/multierr"
)

var ErrStreamClosed = errors.New("stream already closed")

// Stream is a single-use byte stream. Closing it releases every resource the
// producing strategy acquired for it, including its spool file.
type Stream struct {
	r       io.Reader
	closers []func() error
	source  string

	mu     sync.Mutex
	closed bool
}

func newStream(r io.Reader, source string, closers ...func() error) *Stream {
	return &Stream{r: r, source: source, closers: closers}
}

// NewFileStream wraps an open spool file; Close closes and deletes it.
func NewFileStream(f *os.File, source string) *Stream {
	return newStream(f, source, f.Close, func() error {
		if err := os.Remove(f.Name()); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})
}

// NewReadCloserStream wraps a body such as an HTTP response.
func NewReadCloserStream(rc io.ReadCloser, source string) *Stream {
	return newStream(rc, source, rc.Close)
}

func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, ErrStreamClosed
	}
	return s.r.Read(p)
}

// Source names the strategy that produced the stream.
func (s *Stream) Source() string {
	return s.source
}

// Close runs every release step once, even if earlier ones fail.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	for _, c := range s.closers {
		err = multierr.Append(err, c())
	}
	return err
}
