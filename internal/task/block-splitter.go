package task

import (
	"fmt"

	"github.com/tanq16/downpour/internal/meta"
)

const (
	MinBlocks = 1
	MaxBlocks = 32

	// Files below this size are not worth splitting.
	minSplitSize = 2 * 1024 * 1024
)

// SplitBlocks partitions [0, fileSize-1] into contiguous ranges. The
// last block absorbs the remainder. Servers without range support and
// small files get a single block.
func SplitBlocks(fileSize int64, numBlocks int, acceptRanges bool) ([]meta.BlockRecord, error) {
	if fileSize <= 0 {
		return nil, fmt.Errorf("invalid argument: file size must be > 0, got %d", fileSize)
	}
	if numBlocks < MinBlocks || numBlocks > MaxBlocks {
		return nil, fmt.Errorf("invalid argument: block count must be in [%d, %d], got %d", MinBlocks, MaxBlocks, numBlocks)
	}

	if !acceptRanges || fileSize < minSplitSize {
		return []meta.BlockRecord{{BlockID: 0, RangeStart: 0, RangeEnd: fileSize - 1}}, nil
	}

	actual := int64(numBlocks)
	if fileSize < actual {
		actual = fileSize
	}
	blockSize := fileSize / actual

	blocks := make([]meta.BlockRecord, 0, actual)
	var offset int64
	for i := int64(0); i < actual; i++ {
		size := blockSize
		if i == actual-1 {
			size = fileSize - offset
		}
		blocks = append(blocks, meta.BlockRecord{
			BlockID:    int(i),
			RangeStart: offset,
			RangeEnd:   offset + size - 1,
		})
		offset += size
	}
	return blocks, nil
}
