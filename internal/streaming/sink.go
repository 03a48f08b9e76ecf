package streaming

import (
	"context"
	"encoding/hex"
	"hash"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/jaywantadh/ChunkStream/internal/block"
	"github.com/jaywantadh/ChunkStream/pkg/logging"
)

// Result describes a completed write.
type Result struct {
	Path   string `json:"path"`
	Bytes  int64  `json:"bytes"`
	Blocks int64  `json:"blocks"`
	Digest string `json:"digest"`
}

// ProgressFunc is told how many bytes moved each time a block is written.
type ProgressFunc func(bytes int)

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithCommit renames the finished temporary file to path. path should live
// on the same filesystem as the sink directory.
func WithCommit(path string) SinkOption {
	return func(s *Sink) {
		s.commitPath = path
	}
}

// WithSinkProgress registers a progress callback.
func WithSinkProgress(progress ProgressFunc) SinkOption {
	return func(s *Sink) {
		s.progress = progress
	}
}

// WithSinkLogger sets the log entry used by the sink.
func WithSinkLogger(entry *logrus.Entry) SinkOption {
	return func(s *Sink) {
		s.log = entry
	}
}

// Sink writes a block sequence, in arrival order, to a fresh temporary file.
type Sink struct {
	dir        string
	pattern    string
	commitPath string
	progress   ProgressFunc
	log        *logrus.Entry
}

// NewSink creates a sink writing into dir. An empty dir means os.TempDir.
func NewSink(dir, pattern string, opts ...SinkOption) *Sink {
	s := &Sink{
		dir:     dir,
		pattern: pattern,
		log:     logging.Component("sink"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Consume writes every block received on in and releases it. It returns when
// in is closed, when a write fails, or when ctx is done. The file handle is
// closed on every path and a failed write leaves no file behind.
func (s *Sink) Consume(ctx context.Context, in <-chan *block.Block) (res *Result, err error) {
	f, err := os.CreateTemp(s.dir, s.pattern)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create temporary file")
	}
	path := f.Name()
	log := s.log.WithField("path", path)
	log.Debug("sink opened")

	closed := false
	defer func() {
		if !closed {
			_ = f.Close()
		}
		if err != nil {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				log.WithError(rmErr).Warn("failed to remove partial file")
			}
			log.WithError(err).Warn("sink aborted")
		}
	}()

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create digest")
	}

	res = &Result{Path: path}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case b, ok := <-in:
			if !ok {
				closed = true
				if err := f.Close(); err != nil {
					return nil, errors.Wrapf(err, "failed to close %s", path)
				}
				return s.finish(res, hasher)
			}

			if err := s.write(f, hasher, b); err != nil {
				return nil, err
			}
			res.Bytes += int64(b.Len())
			res.Blocks++
			if s.progress != nil {
				s.progress(b.Len())
			}
			b.Release()
		}
	}
}

func (s *Sink) write(f *os.File, hasher hash.Hash, b *block.Block) error {
	data := b.Bytes()
	if _, err := f.Write(data); err != nil {
		b.Release()
		return errors.Wrapf(err, "failed to write block %d", b.Index)
	}
	hasher.Write(data)
	return nil
}

func (s *Sink) finish(res *Result, hasher hash.Hash) (*Result, error) {
	res.Digest = hex.EncodeToString(hasher.Sum(nil))

	if s.commitPath != "" {
		if err := os.Rename(res.Path, s.commitPath); err != nil {
			return nil, errors.Wrapf(err, "failed to commit %s", s.commitPath)
		}
		res.Path = s.commitPath
	}

	s.log.WithFields(logrus.Fields{
		"path":   res.Path,
		"bytes":  res.Bytes,
		"blocks": res.Blocks,
	}).Debug("sink completed")
	return res, nil
}
