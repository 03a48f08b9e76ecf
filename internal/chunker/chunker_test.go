package chunker

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/ChunkStream/internal/block"
)

func patterned(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestChunkerSplitSizes(t *testing.T) {
	cases := []struct {
		size   int
		blocks int
	}{
		{0, 0},
		{1, 1},
		{4095, 1},
		{4096, 1},
		{4097, 2},
		{1_000_000, 245},
	}

	for _, tc := range cases {
		req := require.New(t)
		pool := block.NewPool(block.DefaultSize)
		data := patterned(tc.size)
		r := NewReader(bytes.NewReader(data), pool)

		var out []byte
		count := 0
		for {
			b, err := r.Next()
			if err == io.EOF {
				break
			}
			req.NoError(err)
			req.Equal(int64(count), b.Index)
			if count < tc.blocks-1 {
				req.Equal(block.DefaultSize, b.Len(), "only the last block may be short")
			}
			out = append(out, b.Bytes()...)
			b.Release()
			count++
		}

		req.Equal(tc.blocks, count, "size %d", tc.size)
		req.Equal(data, append([]byte{}, out...))
		req.Equal(int64(0), pool.Outstanding())

		_, err := r.Next()
		req.Equal(io.EOF, err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("disk on fire")
}

func TestChunkerReadError(t *testing.T) {
	req := require.New(t)
	pool := block.NewPool(8)
	r := NewReader(failingReader{}, pool)

	b, err := r.Next()
	req.Nil(b)
	req.Error(err)
	req.Contains(err.Error(), "disk on fire")
	req.Equal(int64(0), pool.Outstanding())

	_, err = r.Next()
	req.Equal(io.EOF, err)
	req.Equal(int64(1), r.Reads())
}
