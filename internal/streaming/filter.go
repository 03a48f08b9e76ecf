package streaming

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/jaywantadh/ChunkStream/internal/block"
)

// Filter turns one block into another of the same length. It takes ownership
// of its input and returns a block the caller owns.
type Filter func(in *block.Block) *block.Block

const (
	lowerX = 'x'
	upperX = 'X'
)

// UpperX rewrites every ASCII 'x' as 'X'.
func UpperX(pool *block.Pool) Filter {
	return func(in *block.Block) *block.Block {
		out := pool.Get()
		dst := out.Buffer()
		src := in.Bytes()
		for i, c := range src {
			if c == lowerX {
				c = upperX
			}
			dst[i] = c
		}
		out.SetLen(len(src))
		out.Index = in.Index
		in.Release()
		return out
	}
}

// FilterByName resolves a filter from a query value. An empty name yields no
// filter.
func FilterByName(name string, pool *block.Pool) (Filter, error) {
	switch strings.ToLower(name) {
	case "":
		return nil, nil
	case "upperx":
		return UpperX(pool), nil
	default:
		return nil, errors.Errorf("unknown filter %q", name)
	}
}
