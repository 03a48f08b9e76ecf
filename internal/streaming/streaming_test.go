package streaming

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/ChunkStream/internal/block"
)

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.bin")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func patterned(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 253)
	}
	return data
}

// spyFile counts reads and records whether it was closed.
type spyFile struct {
	r       io.Reader
	reads   atomic.Int64
	closed  atomic.Bool
	failOn  int64
	failErr error
}

func (f *spyFile) Read(p []byte) (int, error) {
	if f.closed.Load() {
		return 0, os.ErrClosed
	}
	n := f.reads.Add(1)
	if f.failOn > 0 && n >= f.failOn {
		return 0, f.failErr
	}
	return f.r.Read(p)
}

func (f *spyFile) Close() error {
	f.closed.Store(true)
	return nil
}

type spyOpener struct {
	mu    sync.Mutex
	files []*spyFile
	data  []byte
	fail  int64
}

func (o *spyOpener) open(string) (File, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f := &spyFile{r: bytes.NewReader(o.data), failOn: o.fail, failErr: errors.New("bad sector")}
	o.files = append(o.files, f)
	return f, nil
}

func TestNewSourceFailsFast(t *testing.T) {
	req := require.New(t)
	pool := block.NewPool(block.DefaultSize)

	_, err := NewSource(filepath.Join(t.TempDir(), "missing.bin"), pool)
	req.Error(err)

	_, err = NewSource(t.TempDir(), pool)
	req.Error(err)
	req.Contains(err.Error(), "not a regular file")
}

func TestSubscriptionHonoursDemand(t *testing.T) {
	req := require.New(t)
	data := patterned(10 * block.DefaultSize)
	opener := &spyOpener{data: data}
	pool := block.NewPool(block.DefaultSize)

	src, err := NewSource(writeFile(t, data), pool, WithOpener(opener.open))
	req.NoError(err)
	size, err := src.Stat()
	req.NoError(err)
	req.Equal(int64(len(data)), size)

	sub, err := src.Open()
	req.NoError(err)
	spy := opener.files[0]

	var got []*block.Block
	collect := func(b *block.Block) error {
		got = append(got, b)
		return nil
	}

	req.NoError(sub.Request(3, collect))
	req.Len(got, 3)
	req.Equal(int64(3), spy.reads.Load())

	// no demand, no reads
	req.NoError(sub.Request(0, collect))
	req.Equal(int64(3), spy.reads.Load())

	req.NoError(sub.Request(7, collect))
	req.Len(got, 10)
	req.False(spy.closed.Load())

	req.Equal(io.EOF, sub.Request(5, collect))
	req.True(spy.closed.Load())
	req.Len(got, 10)

	for _, b := range got {
		b.Release()
	}
	req.Equal(int64(0), pool.Outstanding())
}

func TestSubscriptionCancelReleasesHandle(t *testing.T) {
	req := require.New(t)
	data := patterned(8 * block.DefaultSize)
	opener := &spyOpener{data: data}
	pool := block.NewPool(block.DefaultSize)

	src, err := NewSource(writeFile(t, data), pool, WithOpener(opener.open))
	req.NoError(err)

	sub, err := src.Open()
	req.NoError(err)

	received := 0
	req.NoError(sub.Request(2, func(b *block.Block) error {
		received++
		b.Release()
		return nil
	}))
	req.Equal(2, received)

	sub.Cancel()
	spy := opener.files[0]
	req.True(spy.closed.Load())

	readsAtCancel := spy.reads.Load()
	req.Equal(ErrCancelled, sub.Request(4, func(b *block.Block) error {
		received++
		b.Release()
		return nil
	}))
	req.Equal(readsAtCancel, spy.reads.Load())
	req.Equal(2, received)
}

func TestPublishCancelledByConsumer(t *testing.T) {
	req := require.New(t)
	data := patterned(64 * block.DefaultSize)
	opener := &spyOpener{data: data}
	pool := block.NewPool(block.DefaultSize)

	src, err := NewSource(writeFile(t, data), pool, WithOpener(opener.open))
	req.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan *block.Block, 2)
	done := make(chan error, 1)
	go func() {
		done <- src.Publish(ctx, ch)
	}()

	first := <-ch
	first.Release()
	cancel()

	err = <-done
	req.ErrorIs(err, context.Canceled)
	block.Drain(ch)

	spy := opener.files[0]
	req.True(spy.closed.Load())
	req.Less(spy.reads.Load(), int64(64))
	req.Equal(int64(0), pool.Outstanding())
}

func TestSubscriptionReadErrorClosesHandle(t *testing.T) {
	req := require.New(t)
	data := patterned(4 * block.DefaultSize)
	opener := &spyOpener{data: data, fail: 2}
	pool := block.NewPool(block.DefaultSize)

	src, err := NewSource(writeFile(t, data), pool, WithOpener(opener.open))
	req.NoError(err)

	ch := make(chan *block.Block, 8)
	err = src.Publish(context.Background(), ch)
	req.Error(err)
	req.Contains(err.Error(), "bad sector")
	req.True(opener.files[0].closed.Load())

	req.Equal(1, block.Drain(ch))
	req.Equal(int64(0), pool.Outstanding())
}

func TestSubscriptionKeepsTerminalError(t *testing.T) {
	req := require.New(t)
	data := patterned(4 * block.DefaultSize)
	opener := &spyOpener{data: data, fail: 2}
	pool := block.NewPool(block.DefaultSize)

	src, err := NewSource(writeFile(t, data), pool, WithOpener(opener.open))
	req.NoError(err)

	sub, err := src.Open()
	req.NoError(err)

	release := func(b *block.Block) error {
		b.Release()
		return nil
	}
	err = sub.Request(4, release)
	req.Error(err)
	req.Contains(err.Error(), "bad sector")

	again := sub.Request(1, release)
	req.Equal(err, again)
	req.NotEqual(io.EOF, again)
	req.Equal(int64(2), opener.files[0].reads.Load())
}

func TestSourceFollowsRewrittenFile(t *testing.T) {
	req := require.New(t)
	pool := block.NewPool(block.DefaultSize)
	path := writeFile(t, patterned(100))

	src, err := NewSource(path, pool)
	req.NoError(err)

	grown := patterned(10_000)
	req.NoError(os.WriteFile(path, grown, 0644))

	size, err := src.Stat()
	req.NoError(err)
	req.Equal(int64(len(grown)), size)

	var out bytes.Buffer
	var opened int64
	n, err := Download(context.Background(), src, &out, Options{
		Opened: func(size int64) { opened = size },
	})
	req.NoError(err)
	req.Equal(int64(len(grown)), opened)
	req.Equal(opened, n)
	req.Equal(grown, out.Bytes())
}

func TestUploadRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 4095, 4096, 4097, 1_000_000} {
		req := require.New(t)
		data := patterned(size)
		pool := block.NewPool(block.DefaultSize)
		dir := t.TempDir()

		res, err := Upload(context.Background(), bytes.NewReader(data), pool, NewSink(dir, "upload-*.tmp"), Options{Depth: 4})
		req.NoError(err, "size %d", size)
		req.Equal(int64(size), res.Bytes)
		req.Equal(filepath.Dir(res.Path), dir)
		req.NotEmpty(res.Digest)

		written, err := os.ReadFile(res.Path)
		req.NoError(err)
		req.True(bytes.Equal(data, written), "size %d differs after round trip", size)
		req.Equal(int64(0), pool.Outstanding())
	}
}

func TestUploadCommit(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	final := filepath.Join(dir, "report.txt")
	pool := block.NewPool(block.DefaultSize)

	res, err := Upload(context.Background(), bytes.NewReader([]byte("quarterly")), pool,
		NewSink(dir, ".upload-*", WithCommit(final)), Options{})
	req.NoError(err)
	req.Equal(final, res.Path)

	entries, err := os.ReadDir(dir)
	req.NoError(err)
	req.Len(entries, 1)
}

// brokenBody yields good bytes and then fails, like a client that hangs up.
type brokenBody struct {
	r io.Reader
}

func (b *brokenBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err == io.EOF {
		return n, errors.New("connection reset")
	}
	return n, err
}

func TestUploadFailedBodyLeavesNoFile(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	final := filepath.Join(dir, "final.bin")
	original := []byte("keep me")
	req.NoError(os.WriteFile(final, original, 0644))
	pool := block.NewPool(block.DefaultSize)

	for i := 0; i < 100; i++ {
		body := &brokenBody{r: bytes.NewReader(patterned(3 * block.DefaultSize))}
		res, err := Upload(context.Background(), body, pool,
			NewSink(dir, ".upload-*", WithCommit(final)), Options{Depth: 2})
		req.Error(err)
		req.Nil(res)
		req.Contains(err.Error(), "connection reset")
	}

	kept, err := os.ReadFile(final)
	req.NoError(err)
	req.Equal(original, kept)

	entries, err := os.ReadDir(dir)
	req.NoError(err)
	req.Len(entries, 1)
	req.Equal(int64(0), pool.Outstanding())
}

func TestBlockOrderPreserved(t *testing.T) {
	for _, n := range []int{1, 2, 10} {
		req := require.New(t)
		data := make([]byte, n*block.DefaultSize)
		for i := 0; i < n; i++ {
			binary.BigEndian.PutUint32(data[i*block.DefaultSize:], uint32(i))
		}
		pool := block.NewPool(block.DefaultSize)

		src, err := NewSource(writeFile(t, data), pool)
		req.NoError(err)

		ch := make(chan *block.Block, 3)
		errs := make(chan error, 1)
		go func() {
			errs <- src.Publish(context.Background(), ch)
		}()

		var seen []uint32
		for b := range ch {
			seen = append(seen, binary.BigEndian.Uint32(b.Bytes()))
			b.Release()
		}
		req.NoError(<-errs)

		req.Len(seen, n)
		for i, idx := range seen {
			req.Equal(uint32(i), idx)
		}
	}
}

func TestDownloadEmptyFile(t *testing.T) {
	req := require.New(t)
	pool := block.NewPool(block.DefaultSize)

	src, err := NewSource(writeFile(t, nil), pool)
	req.NoError(err)

	var out bytes.Buffer
	opened := int64(-1)
	n, err := Download(context.Background(), src, &out, Options{
		Opened: func(size int64) { opened = size },
	})
	req.NoError(err)
	req.Equal(int64(0), opened)
	req.Equal(int64(0), n)
	req.Equal(0, out.Len())
}

func TestDownloadWithFilter(t *testing.T) {
	req := require.New(t)
	pool := block.NewPool(block.DefaultSize)
	text := bytes.Repeat([]byte("xylophone box "), 600)

	src, err := NewSource(writeFile(t, text), pool)
	req.NoError(err)

	var out bytes.Buffer
	var progressed int64
	n, err := Download(context.Background(), src, &out, Options{
		Filters:  []Filter{UpperX(pool)},
		Progress: func(b int) { progressed += int64(b) },
	})
	req.NoError(err)
	req.Equal(int64(len(text)), n)
	req.Equal(n, progressed)
	req.Equal(bytes.ReplaceAll(text, []byte("x"), []byte("X")), out.Bytes())
	req.Equal(int64(0), pool.Outstanding())
}

func TestFilterByName(t *testing.T) {
	req := require.New(t)
	pool := block.NewPool(block.DefaultSize)

	f, err := FilterByName("", pool)
	req.NoError(err)
	req.Nil(f)

	f, err = FilterByName("UpperX", pool)
	req.NoError(err)
	req.NotNil(f)

	_, err = FilterByName("rot13", pool)
	req.Error(err)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("peer went away")
}

func TestDownloadWriteFailureStopsSource(t *testing.T) {
	req := require.New(t)
	data := patterned(32 * block.DefaultSize)
	opener := &spyOpener{data: data}
	pool := block.NewPool(block.DefaultSize)

	src, err := NewSource(writeFile(t, data), pool, WithOpener(opener.open))
	req.NoError(err)

	_, err = Download(context.Background(), src, failingWriter{}, Options{Depth: 2})
	req.Error(err)
	req.Contains(err.Error(), "peer went away")
	req.True(opener.files[0].closed.Load())
	req.Equal(int64(0), pool.Outstanding())
}

func TestSinkCancelledLeavesNoFile(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	pool := block.NewPool(block.DefaultSize)

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan *block.Block, 1)
	b := pool.Get()
	b.SetLen(10)
	ch <- b

	done := make(chan error, 1)
	go func() {
		_, err := NewSink(dir, "partial-*").Consume(ctx, ch)
		done <- err
	}()

	cancel()
	req.ErrorIs(<-done, context.Canceled)
	close(ch)
	block.Drain(ch)

	entries, err := os.ReadDir(dir)
	req.NoError(err)
	req.Empty(entries)
	req.Equal(int64(0), pool.Outstanding())
}

func TestConcurrentUploadsAreIsolated(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	pool := block.NewPool(block.DefaultSize)

	payloads := [][]byte{
		bytes.Repeat([]byte{'a'}, 300_000),
		bytes.Repeat([]byte{'b'}, 300_000),
	}

	results := make([]*Result, len(payloads))
	errs := make([]error, len(payloads))
	var wg sync.WaitGroup
	for i, p := range payloads {
		wg.Add(1)
		go func(i int, p []byte) {
			defer wg.Done()
			results[i], errs[i] = Upload(context.Background(), bytes.NewReader(p), pool, NewSink(dir, "upload-*"), Options{Depth: 1})
		}(i, p)
	}
	wg.Wait()

	req.NoError(errs[0])
	req.NoError(errs[1])
	req.NotEqual(results[0].Path, results[1].Path)

	for i, res := range results {
		written, err := os.ReadFile(res.Path)
		req.NoError(err)
		req.Equal(payloads[i], written)
	}
}
