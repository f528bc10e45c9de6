package codec

import (
	"encoding/binary"

	"tradeagent/internal/schema"
)

// EncodeOrderRequest serializes a decision-engine order request.
func EncodeOrderRequest(dst []byte, r schema.OrderRequest) []byte {
	dst = newFrame(dst, KindOrderRequest, uint16(r.Market), 0, 0)
	putString(dst[16:32], r.Ticker)
	putF64(dst[32:40], r.Value)
	putF64(dst[40:48], r.Price)
	putF64(dst[48:56], r.Slippage)
	putF64(dst[56:64], r.StopLoss)
	putF64(dst[64:72], r.TakeProfit)
	putF64(dst[72:80], r.TrailingProfit)
	putF64(dst[80:88], r.TrailingDistance)
	binary.LittleEndian.PutUint32(dst[88:92], uint32(r.LifetimeMin))
	return dst
}

// DecodeOrderRequest parses an order request frame.
func DecodeOrderRequest(src []byte) (schema.OrderRequest, bool) {
	if len(src) < FrameSize {
		return schema.OrderRequest{}, false
	}
	return schema.OrderRequest{
		Market:           schema.Market(binary.LittleEndian.Uint16(src[2:4])),
		Ticker:           getString(src[16:32]),
		Value:            f64(src[32:40]),
		Price:            f64(src[40:48]),
		Slippage:         f64(src[48:56]),
		StopLoss:         f64(src[56:64]),
		TakeProfit:       f64(src[64:72]),
		TrailingProfit:   f64(src[72:80]),
		TrailingDistance: f64(src[80:88]),
		LifetimeMin:      int(binary.LittleEndian.Uint32(src[88:92])),
	}, true
}
