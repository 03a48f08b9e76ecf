package streaming

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/ChunkStream/internal/block"
	"github.com/jaywantadh/ChunkStream/internal/chunker"
	"github.com/jaywantadh/ChunkStream/pkg/logging"
)

// ErrCancelled is returned by Request once the subscriber has cancelled.
var ErrCancelled = errors.New("streaming: subscription cancelled")

// File is the part of *os.File a Source needs.
type File interface {
	io.Reader
	io.Closer
}

// OpenFunc opens a file for reading.
type OpenFunc func(path string) (File, error)

func openFile(path string) (File, error) {
	return os.Open(path)
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithOpener replaces os.Open.
func WithOpener(open OpenFunc) SourceOption {
	return func(s *Source) {
		s.open = open
	}
}

// WithSourceLogger sets the log entry used by the source.
func WithSourceLogger(entry *logrus.Entry) SourceOption {
	return func(s *Source) {
		s.log = entry
	}
}

// Source exposes a file on disk as a pull-based sequence of blocks.
type Source struct {
	path string
	pool *block.Pool
	open OpenFunc
	log  *logrus.Entry
}

// NewSource validates that path names an existing regular file. A missing
// file is reported here rather than on the first request.
func NewSource(path string, pool *block.Pool, opts ...SourceOption) (*Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat source %s", path)
	}
	if !info.Mode().IsRegular() {
		return nil, errors.Errorf("source %s is not a regular file", path)
	}

	s := &Source{
		path: path,
		pool: pool,
		open: openFile,
		log:  logging.Component("source"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the file path.
func (s *Source) Path() string {
	return s.path
}

// Stat returns the current size of the file.
func (s *Source) Stat() (int64, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to stat source %s", s.path)
	}
	if !info.Mode().IsRegular() {
		return 0, errors.Errorf("source %s is not a regular file", s.path)
	}
	return info.Size(), nil
}

// Pool returns the pool blocks are drawn from.
func (s *Source) Pool() *block.Pool {
	return s.pool
}

// Open starts a new read session over the file. The session reads at most
// the size the file had when it was opened.
func (s *Source) Open() (*Subscription, error) {
	f, err := s.open(s.path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open source %s", s.path)
	}

	size, err := s.statOpened(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"path": s.path, "size": size}).Debug("source opened")
	return &Subscription{
		file:   f,
		size:   size,
		chunks: chunker.NewReader(io.LimitReader(f, size), s.pool),
		log:    s.log,
	}, nil
}

func (s *Source) statOpened(f File) (int64, error) {
	if st, ok := f.(interface{ Stat() (os.FileInfo, error) }); ok {
		info, err := st.Stat()
		if err != nil {
			return 0, errors.Wrapf(err, "failed to stat source %s", s.path)
		}
		return info.Size(), nil
	}
	return s.Stat()
}

// Subscription is one read session. Request must be called from a single
// goroutine; Cancel may be called from any goroutine.
type Subscription struct {
	file      File
	size      int64
	chunks    *chunker.Reader
	log       *logrus.Entry
	closeOnce sync.Once
	cancelled atomic.Bool
	// terminal is io.EOF after a clean end, or the error that ended the session.
	terminal error
}

// Size returns the file size seen when the session was opened.
func (sub *Subscription) Size() int64 {
	return sub.size
}

// Request reads up to n blocks, one read per unit of demand, and hands each
// one to emit. emit takes ownership of the block whether or not it succeeds.
// At end of file the handle is closed and io.EOF is returned. Any read or
// emit error closes the handle and is returned as-is. Once finished, every
// later call returns the same terminal error.
func (sub *Subscription) Request(n int, emit func(*block.Block) error) error {
	if sub.cancelled.Load() {
		return ErrCancelled
	}
	if sub.terminal != nil {
		return sub.terminal
	}

	for ; n > 0; n-- {
		if sub.cancelled.Load() {
			return ErrCancelled
		}

		b, err := sub.chunks.Next()
		if err != nil {
			return sub.finish(err)
		}
		if err := emit(b); err != nil {
			return sub.finish(err)
		}
	}
	return nil
}

func (sub *Subscription) finish(err error) error {
	sub.terminal = err
	sub.close()
	return err
}

// Cancel stops the session and releases the file handle. No reads are issued
// after Cancel returns.
func (sub *Subscription) Cancel() {
	sub.cancelled.Store(true)
	sub.close()
}

// Blocks returns how many blocks were read so far.
func (sub *Subscription) Blocks() int64 {
	return sub.chunks.Blocks()
}

func (sub *Subscription) close() {
	sub.closeOnce.Do(func() {
		if err := sub.file.Close(); err != nil {
			sub.log.WithError(err).Warn("failed to close source file")
		}
	})
}

// Publish drives a new subscription into out until end of file, an error, or
// ctx is done. out is closed when Publish returns.
func (s *Source) Publish(ctx context.Context, out chan<- *block.Block) error {
	sub, err := s.Open()
	if err != nil {
		close(out)
		return err
	}
	return sub.Publish(ctx, out)
}

// Publish drives the subscription into out. Demand follows the free capacity
// of out so a slow consumer throttles reads. out is closed and the handle
// released when Publish returns.
func (sub *Subscription) Publish(ctx context.Context, out chan<- *block.Block) error {
	defer close(out)
	defer sub.Cancel()

	emit := func(b *block.Block) error {
		select {
		case out <- b:
			return nil
		case <-ctx.Done():
			b.Release()
			return ctx.Err()
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		demand := cap(out) - len(out)
		if demand < 1 {
			demand = 1
		}

		if err := sub.Request(demand, emit); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
