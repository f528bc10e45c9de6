package codec

import "tradeagent/internal/schema"

// EncodeWarmupCandle serializes one historical candle for a timeframe.
func EncodeWarmupCandle(dst []byte, timeframe int, c schema.Candle) []byte {
	dst = newFrame(dst, KindWarmupCandle, 0, timeframe, 0)
	putF64(dst[16:24], c.Open)
	putF64(dst[24:32], c.High)
	putF64(dst[32:40], c.Low)
	putF64(dst[40:48], c.Close)
	putF64(dst[48:56], c.Volume)
	return dst
}

// DecodeWarmupCandle parses a warmup candle frame.
func DecodeWarmupCandle(src []byte) (timeframe int, c schema.Candle, ok bool) {
	if len(src) < FrameSize {
		return 0, schema.Candle{}, false
	}
	return FrameTimeframe(src), schema.Candle{
		Open:   f64(src[16:24]),
		High:   f64(src[24:32]),
		Low:    f64(src[32:40]),
		Close:  f64(src[40:48]),
		Volume: f64(src[48:56]),
	}, true
}
