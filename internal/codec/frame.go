// Package codec serializes control-channel messages into fixed-width
// little-endian frames. Every message occupies exactly FrameSize bytes so
// both channel ends can read whole frames without length negotiation; the
// layout is part of the wire contract between the supervisor and the worker.
package codec

import (
	"bytes"
	"encoding/binary"
	"math"
)

// FrameSize is the size of every control frame in bytes.
const FrameSize = 128

// headerSize is the common prefix: kind, sub-kind, timeframe, timestamp.
const headerSize = 16

// Kind tags the payload carried by a frame.
type Kind uint16

const (
	KindUnknown Kind = iota
	// KindSentinel terminates a protocol phase and doubles as the shutdown
	// signal; it carries no payload.
	KindSentinel
	// KindAck acknowledges one non-sentinel payload.
	KindAck
	KindAssetInfo
	KindAccountItem
	KindWarmupCandle
	// KindCandleReady tells the worker a timeframe's candle is waiting in
	// the shared table; the candle itself is never sent inline.
	KindCandleReady
	KindFillReport
	KindOrderRequest
)

// FrameKind reads the kind tag of a frame.
func FrameKind(src []byte) (Kind, bool) {
	if len(src) < headerSize {
		return KindUnknown, false
	}
	return Kind(binary.LittleEndian.Uint16(src[0:2])), true
}

// FrameTimeframe reads the timeframe tag of a frame.
func FrameTimeframe(src []byte) int {
	if len(src) < headerSize {
		return 0
	}
	return int(binary.LittleEndian.Uint32(src[4:8]))
}

func newFrame(dst []byte, kind Kind, sub uint16, timeframe int, ts int64) []byte {
	if cap(dst) < FrameSize {
		dst = make([]byte, FrameSize)
	} else {
		dst = dst[:FrameSize]
		for i := range dst {
			dst[i] = 0
		}
	}
	binary.LittleEndian.PutUint16(dst[0:2], uint16(kind))
	binary.LittleEndian.PutUint16(dst[2:4], sub)
	binary.LittleEndian.PutUint32(dst[4:8], uint32(timeframe))
	binary.LittleEndian.PutUint64(dst[8:16], uint64(ts))
	return dst
}

// EncodeSentinel builds a phase-terminator / shutdown frame.
func EncodeSentinel(dst []byte) []byte {
	return newFrame(dst, KindSentinel, 0, 0, 0)
}

// EncodeAck builds an acknowledgement frame.
func EncodeAck(dst []byte) []byte {
	return newFrame(dst, KindAck, 0, 0, 0)
}

// EncodeCandleReady builds a live candle notice for one timeframe.
func EncodeCandleReady(dst []byte, timeframe int) []byte {
	return newFrame(dst, KindCandleReady, 0, timeframe, 0)
}

func putF64(dst []byte, v float64) {
	binary.LittleEndian.PutUint64(dst, math.Float64bits(v))
}

func f64(src []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(src))
}

// putString zero-pads s into dst, truncating to fit.
func putString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func getString(src []byte) string {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		src = src[:i]
	}
	return string(src)
}
