package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitBlocksEven(t *testing.T) {
	blocks, err := SplitBlocks(100*1024*1024, 4, true)
	require.NoError(t, err)
	require.Len(t, blocks, 4)

	size := int64(100 * 1024 * 1024)
	quarter := size / 4
	for i, b := range blocks {
		assert.Equal(t, i, b.BlockID)
		assert.Equal(t, int64(i)*quarter, b.RangeStart)
		assert.Equal(t, int64(i+1)*quarter-1, b.RangeEnd)
		assert.Zero(t, b.Downloaded)
		assert.False(t, b.Completed)
	}
}

func TestSplitBlocksSmallSizes(t *testing.T) {
	// Below the 2MiB threshold a single block covers everything, so these
	// literal inputs each come back as one block; the multi-block layouts
	// are exercised at MiB scale in the other tests.
	tests := []struct {
		name     string
		fileSize int64
		num      int
		ranges   [][2]int64
	}{
		{"100 bytes, 4 requested", 100, 4, [][2]int64{{0, 99}}},
		{"single byte", 1, 8, [][2]int64{{0, 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks, err := SplitBlocks(tt.fileSize, tt.num, true)
			require.NoError(t, err)
			require.Len(t, blocks, len(tt.ranges))
			for i, r := range tt.ranges {
				assert.Equal(t, r[0], blocks[i].RangeStart)
				assert.Equal(t, r[1], blocks[i].RangeEnd)
			}
		})
	}
}

func TestSplitBlocksRemainder(t *testing.T) {
	// 103MiB plus 3 bytes: the last block absorbs the 3-byte remainder
	fileSize := int64(103*1024*1024 + 3)
	blocks, err := SplitBlocks(fileSize, 4, true)
	require.NoError(t, err)
	require.Len(t, blocks, 4)

	blockSize := fileSize / 4
	assert.Equal(t, int64(0), blocks[0].RangeStart)
	assert.Equal(t, blockSize-1, blocks[0].RangeEnd)
	assert.Equal(t, fileSize-1, blocks[3].RangeEnd)

	// Last block is larger than the others by the remainder
	lastSize := blocks[3].RangeEnd - blocks[3].RangeStart + 1
	assert.Equal(t, blockSize+fileSize%4, lastSize)
}

func TestSplitBlocksInvariants(t *testing.T) {
	sizes := []int64{2 * 1024 * 1024, 10 * 1024 * 1024, 100*1024*1024 + 7, 3*1024*1024 + 1}
	for _, size := range sizes {
		for _, num := range []int{1, 2, 7, 16, 32} {
			blocks, err := SplitBlocks(size, num, true)
			require.NoError(t, err)

			assert.Equal(t, int64(0), blocks[0].RangeStart)
			assert.Equal(t, size-1, blocks[len(blocks)-1].RangeEnd)

			var total int64
			for i, b := range blocks {
				assert.LessOrEqual(t, b.RangeStart, b.RangeEnd)
				if i > 0 {
					assert.Equal(t, blocks[i-1].RangeEnd+1, b.RangeStart)
				}
				total += b.RangeEnd - b.RangeStart + 1
			}
			assert.Equal(t, size, total)
		}
	}
}

func TestSplitBlocksNoRangeSupport(t *testing.T) {
	blocks, err := SplitBlocks(50*1024*1024, 8, false)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, int64(0), blocks[0].RangeStart)
	assert.Equal(t, int64(50*1024*1024-1), blocks[0].RangeEnd)
}

func TestSplitBlocksBelowThreshold(t *testing.T) {
	blocks, err := SplitBlocks(2*1024*1024-1, 8, true)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
}

func TestSplitBlocksInvalidArguments(t *testing.T) {
	_, err := SplitBlocks(0, 4, true)
	assert.Error(t, err)
	_, err = SplitBlocks(-5, 4, true)
	assert.Error(t, err)
	_, err = SplitBlocks(1024, 0, true)
	assert.Error(t, err)
	_, err = SplitBlocks(1024, 33, true)
	assert.Error(t, err)
}
