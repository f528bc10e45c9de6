package exception

import "errors"

// Shared memory errors
var (
	// ErrSegmentNotFound is returned when attaching to a segment that does
	// not exist and no creation capacity was given.
	ErrSegmentNotFound = errors.New("shm: segment not found")

	// ErrSegmentTooSmall is returned when an existing segment cannot hold
	// the requested capacity. Only the owning creator may recreate it.
	ErrSegmentTooSmall = errors.New("shm: segment smaller than requested capacity")

	// ErrSegmentCorrupt is returned when a segment's size is not a whole
	// number of candle records.
	ErrSegmentCorrupt = errors.New("shm: segment size is not record aligned")
)
