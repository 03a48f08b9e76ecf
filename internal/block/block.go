package block

import (
	"sync"
	"sync/atomic"
)

// DefaultSize is the number of bytes carried by a full block.
const DefaultSize = 4096

// Block is a bounded chunk of file bytes moving through a producer/consumer
// pipeline. The holder of a block owns it until it hands it off; the final
// consumer must call Release once it has written or forwarded the bytes.
type Block struct {
	Index int64

	buf      []byte
	n        int
	released atomic.Bool
	pool     *Pool
}

// Bytes returns the payload. The slice must not be retained after Release.
func (b *Block) Bytes() []byte {
	return b.buf[:b.n]
}

// Len returns the payload length in bytes.
func (b *Block) Len() int {
	return b.n
}

// Buffer exposes the whole backing buffer so a producer can fill it.
func (b *Block) Buffer() []byte {
	return b.buf
}

// SetLen records how many bytes of the backing buffer carry payload.
func (b *Block) SetLen(n int) {
	if n < 0 || n > len(b.buf) {
		panic("block: length out of range")
	}
	b.n = n
}

// Release hands the buffer back to its pool. Only the first call has any
// effect; it reports whether this call performed the release.
func (b *Block) Release() bool {
	if !b.released.CompareAndSwap(false, true) {
		return false
	}
	if b.pool != nil {
		b.pool.put(b.buf)
	}
	b.buf = nil
	b.n = 0
	return true
}

// Released reports whether the block has been released.
func (b *Block) Released() bool {
	return b.released.Load()
}

// Pool recycles fixed-size block buffers.
type Pool struct {
	size        int
	buffers     sync.Pool
	outstanding atomic.Int64
}

// NewPool creates a pool of buffers of the given size.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	p := &Pool{size: size}
	p.buffers.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	return p
}

// Size returns the buffer size handed out by the pool.
func (p *Pool) Size() int {
	return p.size
}

// Get returns an empty block backed by a pooled buffer.
func (p *Pool) Get() *Block {
	bufPtr := p.buffers.Get().(*[]byte)
	p.outstanding.Add(1)
	return &Block{buf: (*bufPtr)[:p.size], pool: p}
}

// Outstanding returns the number of blocks handed out and not yet released.
func (p *Pool) Outstanding() int64 {
	return p.outstanding.Load()
}

func (p *Pool) put(buf []byte) {
	p.outstanding.Add(-1)
	buf = buf[:cap(buf)]
	p.buffers.Put(&buf)
}

// Drain releases every block still queued in ch. The channel must be closed
// by its producer, otherwise Drain blocks.
func Drain(ch <-chan *Block) int {
	n := 0
	for b := range ch {
		if b.Release() {
			n++
		}
	}
	return n
}
