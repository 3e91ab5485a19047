package kvcache

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/alchemorsel/gateway/internal/ports/outbound"
)

// chunkStreamReader fetches chunks [firstChunk..lastChunk] sequentially from
// the store, keeping only the [low, high) byte window of each chunk that
// overlaps the requested range, and writes the result into the stream as
// each chunk arrives. Only one chunk is held in memory at a time.
type chunkStreamReader struct {
	ctx         context.Context
	store       outbound.KVStore
	baseKey     string
	firstChunk  int
	current     int
	last        int
	firstOffset int64
	lastEnd     int64 // inclusive byte offset within the last chunk
	pending     *bytes.Reader
}

func newChunkStreamReader(ctx context.Context, store outbound.KVStore, baseKey string, firstChunk, lastChunk int, firstOffset, lastEnd int64) io.ReadCloser {
	return &chunkStreamReader{
		ctx:         ctx,
		store:       store,
		baseKey:     baseKey,
		firstChunk:  firstChunk,
		current:     firstChunk,
		last:        lastChunk,
		firstOffset: firstOffset,
		lastEnd:     lastEnd,
	}
}

func (c *chunkStreamReader) Read(p []byte) (int, error) {
	for {
		if c.pending != nil {
			n, err := c.pending.Read(p)
			if n > 0 {
				return n, nil
			}
			if err == io.EOF {
				c.pending = nil
				continue
			}
			return n, err
		}

		if c.current > c.last {
			return 0, io.EOF
		}

		data, ok, err := c.store.GetBytes(c.ctx, fmt.Sprintf("%s_chunk_%d", c.baseKey, c.current))
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("kvcache: missing chunk %d for %s", c.current, c.baseKey)
		}

		low := int64(0)
		if c.current == c.firstChunkIndex() {
			low = c.firstOffset
		}
		high := int64(len(data))
		if c.current == c.last {
			high = c.lastEnd + 1
		}
		if low > int64(len(data)) {
			low = int64(len(data))
		}
		if high > int64(len(data)) {
			high = int64(len(data))
		}
		if low > high {
			low = high
		}

		c.pending = bytes.NewReader(data[low:high])
		c.current++
	}
}

func (c *chunkStreamReader) Close() error {
	return nil
}

func (c *chunkStreamReader) firstChunkIndex() int {
	return c.firstChunk
}
