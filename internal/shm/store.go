// Package shm implements the shared candle table: a fixed-capacity,
// hash-indexed array of OHLCV records in an OS shared memory segment with a
// single writer process and any number of reader processes. A sibling
// segment holds one 8-byte lock word guarding stores and clears.
package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"tradeagent/internal/schema"
	"tradeagent/pkg/exception"
)

const (
	// recordWords is the number of float64 words per candle record.
	recordWords = 5
	recordSize  = recordWords * 8

	// MinCapacity is the slot-count floor. Creating below it invites
	// worst-case clustering of the hash, so the owner never does.
	MinCapacity = 16

	lockSegmentSize = 8
)

// shmDir is where POSIX shared memory objects live on Linux.
var shmDir = "/dev/shm"

// Store is one attachment to the shared candle table.
type Store struct {
	name     string
	lockName string
	owner    bool
	capacity int

	data []byte
	lock []byte

	table    []float64
	lockWord *int64
}

// SegmentName returns the table segment name for a worker id.
func SegmentName(agentID uint64) string { return fmt.Sprintf("TB%d", agentID) }

// LockSegmentName returns the lock segment name for a worker id.
func LockSegmentName(agentID uint64) string { return fmt.Sprintf("TBLOCK%d", agentID) }

// Open attaches to the candle table for the given worker id.
//
// capacity > 0 declares ownership: if the segments do not exist they are
// created with max(capacity, MinCapacity) slots, zero-filled, with the lock
// word reset. If they exist but are smaller than requested,
// ErrSegmentTooSmall is returned and the owner is expected to Cleanup and
// re-Open (resize by replacement, never in place).
//
// capacity == 0 attaches read/write to an existing table and returns
// ErrSegmentNotFound when there is none. Attachers never resize.
func Open(agentID uint64, capacity int) (*Store, error) {
	s := &Store{
		name:     SegmentName(agentID),
		lockName: LockSegmentName(agentID),
		owner:    capacity > 0,
	}

	want := capacity
	if want > 0 && want < MinCapacity {
		want = MinCapacity
	}

	data, created, err := mapSegment(s.name, want*recordSize)
	if err != nil {
		s.Cleanup()
		return nil, err
	}
	s.data = data
	if len(data)%recordSize != 0 {
		s.Cleanup()
		return nil, exception.ErrSegmentCorrupt
	}
	s.capacity = len(data) / recordSize
	if want > 0 && s.capacity < want {
		s.Cleanup()
		return nil, exception.ErrSegmentTooSmall
	}

	lock, _, err := mapSegment(s.lockName, lockSegmentSize)
	if err != nil {
		s.Cleanup()
		return nil, err
	}
	s.lock = lock

	s.table = unsafe.Slice((*float64)(unsafe.Pointer(&s.data[0])), s.capacity*recordWords)
	s.lockWord = (*int64)(unsafe.Pointer(&s.lock[0]))
	if created {
		// fresh segments are zero-filled by ftruncate; reset the lock in
		// case the lock segment survived a previous owner
		atomic.StoreInt64(s.lockWord, 0)
	}
	return s, nil
}

// mapSegment opens or creates a shared memory object and maps it.
// size == 0 means attach-only.
func mapSegment(name string, size int) (data []byte, created bool, err error) {
	path := filepath.Join(shmDir, name)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if os.IsNotExist(err) {
		if size <= 0 {
			return nil, false, exception.ErrSegmentNotFound
		}
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
		if os.IsExist(err) {
			// lost the creation race to a peer; attach instead
			f, err = os.OpenFile(path, os.O_RDWR, 0)
		} else if err == nil {
			created = true
			if err := unix.Ftruncate(int(f.Fd()), int64(size)); err != nil {
				_ = f.Close()
				_ = os.Remove(path)
				return nil, false, fmt.Errorf("shm: size segment %s: %w", name, err)
			}
		}
	}
	if err != nil {
		return nil, false, fmt.Errorf("shm: open segment %s: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, false, fmt.Errorf("shm: stat segment %s: %w", name, err)
	}
	data, err = unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, false, fmt.Errorf("shm: map segment %s: %w", name, err)
	}
	return data, created, nil
}

// Capacity returns the slot count of the attached table.
func (s *Store) Capacity() int {
	if s == nil {
		return 0
	}
	return s.capacity
}

// Owner reports whether this handle created (and will unlink) the segments.
func (s *Store) Owner() bool { return s != nil && s.owner }

func (s *Store) slot(timeframe int, asset schema.AssetID) int {
	h := (uint64(timeframe) * 31) ^ (uint64(asset) * 17)
	return int(h % uint64(s.capacity))
}

// acquire spins on the shared lock word. Expected hold times are
// microseconds, so a busy wait beats a sleeping lock here; starvation under
// heavy contention is an accepted limitation.
func (s *Store) acquire() {
	for !atomic.CompareAndSwapInt64(s.lockWord, 0, 1) {
		runtime.Gosched()
	}
}

func (s *Store) release() {
	atomic.StoreInt64(s.lockWord, 0)
}

// Store writes the candle into the slot for (timeframe, asset) under the
// table lock. Distinct keys hashing to the same slot silently overwrite each
// other; the owner sizes the table so keys in use never exceed capacity.
func (s *Store) Store(timeframe int, asset schema.AssetID, c schema.Candle) {
	i := s.slot(timeframe, asset) * recordWords
	s.acquire()
	s.table[i] = c.Open
	s.table[i+1] = c.High
	s.table[i+2] = c.Low
	s.table[i+3] = c.Close
	s.table[i+4] = c.Volume
	s.release()
}

// Read returns the current candle for (timeframe, asset) without taking the
// lock. A read may race a concurrent Store; each key has a single writer
// cadence and consumers tolerate an in-flight value, so this stays unlocked.
func (s *Store) Read(timeframe int, asset schema.AssetID) schema.Candle {
	i := s.slot(timeframe, asset) * recordWords
	return schema.Candle{
		Open:   s.table[i],
		High:   s.table[i+1],
		Low:    s.table[i+2],
		Close:  s.table[i+3],
		Volume: s.table[i+4],
	}
}

// Clear zeroes the slot for (timeframe, asset) under the table lock. The
// consumer clears right after reading so producers can fold follow-up
// samples into a fresh record.
func (s *Store) Clear(timeframe int, asset schema.AssetID) {
	i := s.slot(timeframe, asset) * recordWords
	s.acquire()
	for k := 0; k < recordWords; k++ {
		s.table[i+k] = 0
	}
	s.release()
}

// Cleanup unmaps the segments and, when this handle is the owner, unlinks
// them. Unlinking tolerates a racing peer having removed them already.
// Safe to call more than once.
func (s *Store) Cleanup() {
	if s == nil {
		return
	}
	if s.data != nil {
		_ = unix.Munmap(s.data)
		s.data = nil
		s.table = nil
	}
	if s.lock != nil {
		_ = unix.Munmap(s.lock)
		s.lock = nil
		s.lockWord = nil
	}
	if s.owner {
		// a racing peer may have unlinked the segments first
		_ = os.Remove(filepath.Join(shmDir, s.name))
		_ = os.Remove(filepath.Join(shmDir, s.lockName))
	}
}

// Remove unlinks a worker's segments without attaching first. The owner uses
// it to resize by replacement when an existing table is too small.
func Remove(agentID uint64) {
	_ = os.Remove(filepath.Join(shmDir, SegmentName(agentID)))
	_ = os.Remove(filepath.Join(shmDir, LockSegmentName(agentID)))
}

// Fold merges a lower-timeframe sample into a higher-timeframe record: open
// keeps the first non-zero sample, high/low track extrema, close takes the
// latest, volume accumulates. Producers call this before each higher
// timeframe's cadence boundary; the store itself never aggregates.
func Fold(higher *schema.Candle, sample schema.Candle) {
	if higher.Open == 0 {
		higher.Open = sample.Open
	}
	if higher.High < sample.High {
		higher.High = sample.High
	}
	if higher.Low == 0 || higher.Low > sample.Low {
		higher.Low = sample.Low
	}
	higher.Close = sample.Close
	higher.Volume += sample.Volume
}
