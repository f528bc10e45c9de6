package codec

import (
	"encoding/binary"

	"tradeagent/internal/schema"
)

// EncodeFillReport serializes a terminal order report. Executed, rejected
// and cancelled outcomes travel in the same frame, distinguished by status.
func EncodeFillReport(dst []byte, f schema.Fill) []byte {
	dst = newFrame(dst, KindFillReport, uint16(f.Status), 0, f.TS)
	putString(dst[16:40], f.OrderID)
	putString(dst[40:56], f.Ticker)
	putString(dst[56:80], f.Reason)
	putF64(dst[80:88], f.Value)
	putF64(dst[88:96], f.BaseValue)
	putF64(dst[96:104], f.Price)
	putF64(dst[104:112], f.Fee)
	binary.LittleEndian.PutUint16(dst[112:114], uint16(f.Market))
	return dst
}

// DecodeFillReport parses a fill report frame.
func DecodeFillReport(src []byte) (schema.Fill, bool) {
	if len(src) < FrameSize {
		return schema.Fill{}, false
	}
	return schema.Fill{
		Status:    schema.FillStatus(binary.LittleEndian.Uint16(src[2:4])),
		TS:        int64(binary.LittleEndian.Uint64(src[8:16])),
		OrderID:   getString(src[16:40]),
		Ticker:    getString(src[40:56]),
		Reason:    getString(src[56:80]),
		Value:     f64(src[80:88]),
		BaseValue: f64(src[88:96]),
		Price:     f64(src[96:104]),
		Fee:       f64(src[104:112]),
		Market:    schema.Market(binary.LittleEndian.Uint16(src[112:114])),
	}, true
}
