package schema

import (
	"encoding/binary"
	"hash/fnv"
)

// AssetID is a process-independent 64-bit identifier for a (market, ticker)
// pair. It keys the shared candle table, so every attaching process must
// derive identical values.
type AssetID uint64

// GenAssetID derives the identifier for a market/ticker pair.
func GenAssetID(market Market, ticker string) AssetID {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(market))
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(ticker))
	return AssetID(h.Sum64())
}

// GenAgentID derives a stable worker identifier from its configured name.
// It names the shared memory segments, so it must not change across runs.
func GenAgentID(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}

// OppositeSign reports whether exactly one of a and b is strictly positive.
// Zero therefore counts as the short side, which is what position
// reconciliation relies on when a fill nets a position to zero.
func OppositeSign(a, b float64) bool {
	return (a > 0) != (b > 0)
}
