package chunker

import (
	"io"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/jaywantadh/ChunkStream/internal/block"
)

// Reader splits an io.Reader into fixed-size blocks. Each call to Next fills
// exactly one pooled buffer, so a caller controls how far ahead the
// underlying reader is consumed.
type Reader struct {
	r     io.Reader
	pool  *block.Pool
	index int64
	reads atomic.Int64
	done  bool
}

// NewReader wraps r, drawing buffers from pool.
func NewReader(r io.Reader, pool *block.Pool) *Reader {
	return &Reader{r: r, pool: pool}
}

// Next returns the next block or io.EOF once r is exhausted. Every block is
// full except possibly the last one.
func (c *Reader) Next() (*block.Block, error) {
	if c.done {
		return nil, io.EOF
	}

	b := c.pool.Get()
	c.reads.Add(1)
	n, err := io.ReadFull(c.r, b.Buffer())

	switch {
	case err == nil:
	case err == io.EOF:
		c.done = true
		b.Release()
		return nil, io.EOF
	case err == io.ErrUnexpectedEOF:
		c.done = true
	default:
		c.done = true
		b.Release()
		return nil, errors.Wrapf(err, "failed to read block %d", c.index)
	}

	b.SetLen(n)
	b.Index = c.index
	c.index++
	return b, nil
}

// Reads returns how many fills were attempted against the underlying reader.
func (c *Reader) Reads() int64 {
	return c.reads.Load()
}

// Blocks returns how many blocks have been produced.
func (c *Reader) Blocks() int64 {
	return c.index
}
