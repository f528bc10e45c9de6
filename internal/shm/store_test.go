package shm

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"tradeagent/internal/schema"
	"tradeagent/pkg/exception"
)

func testAgentID(t *testing.T) uint64 {
	t.Helper()
	return schema.GenAgentID(fmt.Sprintf("%s-%d", t.Name(), os.Getpid()))
}

func openOwner(t *testing.T, id uint64, capacity int) *Store {
	t.Helper()
	s, err := Open(id, capacity)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(s.Cleanup)
	return s
}

func TestStoreReadClearRoundtrip(t *testing.T) {
	s := openOwner(t, testAgentID(t), 16)

	asset := schema.GenAssetID(schema.MarketSpot, "BTCUSDT")
	c := schema.Candle{Open: 1.5, High: 2.25, Low: 1.25, Close: 2, Volume: 10}

	s.Store(5, asset, c)
	if got := s.Read(5, asset); got != c {
		t.Fatalf("read after store: got %+v, want %+v", got, c)
	}

	c2 := schema.Candle{Open: 2, High: 3, Low: 1, Close: 2.5, Volume: 4}
	s.Store(5, asset, c2)
	if got := s.Read(5, asset); got != c2 {
		t.Fatalf("read after second store: got %+v, want %+v", got, c2)
	}

	s.Clear(5, asset)
	if got := s.Read(5, asset); !got.IsZero() {
		t.Fatalf("read after clear: got %+v, want zero candle", got)
	}
}

func TestMinCapacityFloor(t *testing.T) {
	s := openOwner(t, testAgentID(t), 2)
	if s.Capacity() != MinCapacity {
		t.Fatalf("capacity = %d, want floor %d", s.Capacity(), MinCapacity)
	}
}

func TestAttachRequiresExistingSegment(t *testing.T) {
	if _, err := Open(testAgentID(t), 0); !errors.Is(err, exception.ErrSegmentNotFound) {
		t.Fatalf("expected ErrSegmentNotFound, got %v", err)
	}
}

func TestResizeByReplacement(t *testing.T) {
	id := testAgentID(t)
	small := openOwner(t, id, 16)

	if _, err := Open(id, 32); !errors.Is(err, exception.ErrSegmentTooSmall) {
		t.Fatalf("expected ErrSegmentTooSmall, got %v", err)
	}

	small.Cleanup()
	big := openOwner(t, id, 32)
	if big.Capacity() != 32 {
		t.Fatalf("capacity after recreate = %d, want 32", big.Capacity())
	}
}

func TestCrossAttachmentVisibility(t *testing.T) {
	id := testAgentID(t)
	owner := openOwner(t, id, 16)

	reader, err := Open(id, 0)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	t.Cleanup(reader.Cleanup)

	asset := schema.GenAssetID(schema.MarketSpot, "ETHUSDT")
	c := schema.Candle{Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 3}
	owner.Store(15, asset, c)
	if got := reader.Read(15, asset); got != c {
		t.Fatalf("reader sees %+v, want %+v", got, c)
	}

	reader.Clear(15, asset)
	if got := owner.Read(15, asset); !got.IsZero() {
		t.Fatalf("owner sees %+v after reader clear, want zero", got)
	}
}

// Two distinct keys landing in the same slot overwrite each other silently;
// the table is sized by the owner so that keys in use never exceed capacity,
// and collisions are a documented sizing contract rather than a failure.
func TestCollisionOverwritesSilently(t *testing.T) {
	s := openOwner(t, testAgentID(t), 16)

	// asset id 0 makes the slot (tf*31) % 16, so timeframes 16 and 32 alias.
	var asset schema.AssetID
	if s.slot(16, asset) != s.slot(32, asset) {
		t.Fatalf("test keys no longer alias: %d vs %d", s.slot(16, asset), s.slot(32, asset))
	}

	a := schema.Candle{Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}
	b := schema.Candle{Open: 2, High: 2, Low: 2, Close: 2, Volume: 2}
	s.Store(16, asset, a)
	s.Store(32, asset, b)
	if got := s.Read(16, asset); got != b {
		t.Fatalf("aliased read: got %+v, want overwriting candle %+v", got, b)
	}

	// capacity+1 distinct keys always fit in capacity buckets; storing all
	// of them must not fault, and every read returns some stored candle
	for tf := 1; tf <= s.Capacity()+1; tf++ {
		s.Store(tf, asset, a)
	}
	for tf := 1; tf <= s.Capacity()+1; tf++ {
		if got := s.Read(tf, asset); got != a {
			t.Fatalf("tf %d: got %+v, want %+v", tf, got, a)
		}
	}
}

func TestCleanupIdempotent(t *testing.T) {
	s := openOwner(t, testAgentID(t), 16)
	s.Cleanup()
	s.Cleanup()
	if _, err := Open(testAgentID(t), 0); !errors.Is(err, exception.ErrSegmentNotFound) {
		t.Fatalf("segments should be unlinked, got %v", err)
	}
}

func TestFold(t *testing.T) {
	var h schema.Candle
	Fold(&h, schema.Candle{Open: 10, High: 12, Low: 9, Close: 11, Volume: 2})
	Fold(&h, schema.Candle{Open: 11, High: 15, Low: 10, Close: 14, Volume: 3})
	Fold(&h, schema.Candle{Open: 14, High: 14.5, Low: 8, Close: 13, Volume: 1})

	want := schema.Candle{Open: 10, High: 15, Low: 8, Close: 13, Volume: 6}
	if h != want {
		t.Fatalf("folded candle = %+v, want %+v", h, want)
	}
}
