package block

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReleaseIsOnce(t *testing.T) {
	req := require.New(t)
	pool := NewPool(16)

	b := pool.Get()
	req.Len(b.Buffer(), 16)
	req.Equal(int64(1), pool.Outstanding())

	copy(b.Buffer(), "hello")
	b.SetLen(5)
	req.Equal([]byte("hello"), b.Bytes())

	req.True(b.Release())
	req.False(b.Release())
	req.True(b.Released())
	req.Equal(int64(0), pool.Outstanding())
}

func TestSetLenOutOfRange(t *testing.T) {
	pool := NewPool(8)
	b := pool.Get()
	defer b.Release()

	require.Panics(t, func() { b.SetLen(9) })
	require.Panics(t, func() { b.SetLen(-1) })
}

func TestDefaultSize(t *testing.T) {
	require.Equal(t, DefaultSize, NewPool(0).Size())
}

func TestDrain(t *testing.T) {
	req := require.New(t)
	pool := NewPool(4)

	ch := make(chan *Block, 3)
	for i := 0; i < 3; i++ {
		ch <- pool.Get()
	}
	close(ch)

	req.Equal(3, Drain(ch))
	req.Equal(int64(0), pool.Outstanding())
}
