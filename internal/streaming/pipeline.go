package streaming

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/jaywantadh/ChunkStream/internal/block"
	"github.com/jaywantadh/ChunkStream/internal/chunker"
)

// DefaultDepth is the number of blocks that may sit between a producer and
// its consumer.
const DefaultDepth = 8

// Options tune a pipeline.
type Options struct {
	// Depth bounds the block channel; the producer blocks when it is full.
	Depth int
	// Progress is called after each block reaches its destination.
	Progress ProgressFunc
	// Filters are applied to each block, in order, before it is written.
	Filters []Filter
	// Opened is called by Download with the size of the opened file before
	// the first block is written.
	Opened func(size int64)
}

func (o Options) depth() int {
	if o.Depth < 1 {
		return DefaultDepth
	}
	return o.Depth
}

// Produce reads r block by block into out until EOF, an error, or ctx is
// done. It does not close out: the caller closes it only after Produce
// returned nil, so a consumer never reads a failed body as a complete one.
func Produce(ctx context.Context, r *chunker.Reader, out chan<- *block.Block) error {
	for {
		b, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		select {
		case out <- b:
		case <-ctx.Done():
			b.Release()
			return ctx.Err()
		}
	}
}

// Upload streams body into sink. The first failure on either side stops the
// other side and is returned; blocks still queued are released.
func Upload(ctx context.Context, body io.Reader, pool *block.Pool, sink *Sink, opts Options) (*Result, error) {
	if opts.Progress != nil && sink.progress == nil {
		sink.progress = opts.Progress
	}

	ch := make(chan *block.Block, opts.depth())
	closeCh := sync.OnceFunc(func() { close(ch) })
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := Produce(gctx, chunker.NewReader(body, pool), ch); err != nil {
			return err
		}
		closeCh()
		return nil
	})

	var res *Result
	g.Go(func() error {
		r, err := sink.Consume(gctx, ch)
		if err != nil {
			return err
		}
		res = r
		return nil
	})

	err := g.Wait()
	closeCh()
	block.Drain(ch)
	if err != nil {
		return nil, errors.Wrap(err, "upload failed")
	}
	return res, nil
}

// Download streams src into w, flushing after each block when w is an
// http.Flusher. It returns the number of bytes written.
func Download(ctx context.Context, src *Source, w io.Writer, opts Options) (int64, error) {
	sub, err := src.Open()
	if err != nil {
		return 0, errors.Wrap(err, "download failed")
	}
	if opts.Opened != nil {
		opts.Opened(sub.Size())
	}

	ch := make(chan *block.Block, opts.depth())
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sub.Publish(gctx, ch)
	})

	var written int64
	g.Go(func() error {
		flusher, _ := w.(http.Flusher)
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case b, ok := <-ch:
				if !ok {
					return nil
				}
				for _, filter := range opts.Filters {
					b = filter(b)
				}

				n, err := w.Write(b.Bytes())
				b.Release()
				written += int64(n)
				if err != nil {
					return errors.Wrap(err, "failed to write block")
				}
				if flusher != nil {
					flusher.Flush()
				}
				if opts.Progress != nil {
					opts.Progress(n)
				}
			}
		}
	})

	err = g.Wait()
	block.Drain(ch)
	if err != nil {
		return written, errors.Wrap(err, "download failed")
	}
	return written, nil
}
