package afpacket

import "fmt"

const (
	tpacketAlignment = 16 // TPACKET_ALIGNMENT
	tpacketHdrLen    = 52 // TPACKET3_HDRLEN, approximate
	maxBlockSize     = 4 * 1024 * 1024
)

// ringGeometry sizes the TPACKET_V3 ring for a memory budget.
//
// The kernel requires blockSize to be a multiple of the page size and of
// frameSize, and frameSize to be a multiple of TPACKET_ALIGNMENT. Using
// powers of two for both satisfies all three at once.
func ringGeometry(ringBufferMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	if ringBufferMB <= 0 {
		return 0, 0, 0, fmt.Errorf("ring_buffer_mb must be positive, got %d", ringBufferMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snap_len must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize&(pageSize-1) != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be a power of two, got %d", pageSize)
	}

	frameSize = nextPow2(tpacketHdrLen + snapLen)
	if frameSize < tpacketAlignment {
		frameSize = tpacketAlignment
	}

	blockSize = maxBlockSize
	if blockSize < frameSize {
		blockSize = frameSize
	}
	if blockSize < pageSize {
		blockSize = pageSize
	}

	numBlocks = ringBufferMB * 1024 * 1024 / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
