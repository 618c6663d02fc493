package task

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/tanq16/downpour/internal/engine"
	"github.com/tanq16/downpour/internal/meta"
	"github.com/tanq16/downpour/internal/ratelimit"
	"github.com/tanq16/downpour/internal/utils"
)

type blockProgressFunc func(blockID int, delta int64)

// Block downloads one byte range of the file through its own engine,
// writing at absolute offsets and pulling tokens from the global
// limiter per chunk.
type Block struct {
	mu         sync.Mutex
	info       meta.BlockRecord
	filePath   string
	url        string
	engine     *engine.Engine
	limiter    *ratelimit.TokenBucket
	onProgress blockProgressFunc
	paused     atomic.Bool
}

func NewBlock(info meta.BlockRecord, filePath, url string, eng *engine.Engine, limiter *ratelimit.TokenBucket, onProgress blockProgressFunc) *Block {
	return &Block{
		info:       info,
		filePath:   filePath,
		url:        url,
		engine:     eng,
		limiter:    limiter,
		onProgress: onProgress,
	}
}

// Info returns a copy of the block's current descriptor.
func (b *Block) Info() meta.BlockRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.info
}

// Pause aborts the in-flight transfer. Safe from any goroutine,
// idempotent. The downloaded counter stays consistent with bytes
// actually written.
func (b *Block) Pause() {
	b.paused.Store(true)
	b.engine.Cancel()
}

// Execute runs the block's range download to completion or error.
func (b *Block) Execute(cfg utils.HTTPClientConfig) error {
	b.mu.Lock()
	if b.info.Completed {
		b.mu.Unlock()
		return nil
	}
	unknownSize := b.info.RangeStart < 0
	if unknownSize && b.info.Downloaded > 0 {
		// Unknown-size transfers cannot resume; start over.
		b.info.Downloaded = 0
	}
	downloaded := b.info.Downloaded
	rangeStart := b.info.RangeStart
	rangeEnd := b.info.RangeEnd
	blockID := b.info.BlockID
	b.mu.Unlock()

	flags := os.O_WRONLY
	if unknownSize {
		// Written from byte 0 every time, so drop any earlier content.
		flags |= os.O_CREATE | os.O_TRUNC
	}
	file, err := os.OpenFile(b.filePath, flags, 0644)
	if err != nil {
		return fmt.Errorf("error opening file for block %d: %v", blockID, err)
	}
	defer file.Close()

	// Resume from the exact byte after what was already written.
	var offset int64
	httpStart := int64(-1)
	if !unknownSize {
		offset = rangeStart + downloaded
		httpStart = offset
	}

	sink := func(data []byte) int {
		consumed := 0
		remaining := data
		for len(remaining) > 0 {
			if b.paused.Load() {
				return consumed
			}
			want := int64(len(remaining))
			granted := want
			if b.limiter != nil {
				granted = b.limiter.Acquire(want)
				if granted == 0 {
					return consumed
				}
				if granted > want {
					granted = want
				}
			}
			n, writeErr := file.WriteAt(remaining[:granted], offset)
			if writeErr != nil {
				return consumed
			}
			offset += int64(n)
			consumed += n
			remaining = remaining[n:]

			b.mu.Lock()
			b.info.Downloaded += int64(n)
			b.mu.Unlock()
			b.onProgress(blockID, int64(n))
		}
		return consumed
	}

	err = b.engine.Download(b.url, httpStart, rangeEnd, cfg, sink, nil)
	if err != nil {
		return err
	}

	if !b.paused.Load() {
		b.mu.Lock()
		b.info.Completed = true
		b.mu.Unlock()
		// Zero-byte event signals this block is terminal.
		b.onProgress(blockID, 0)
	}
	return nil
}
