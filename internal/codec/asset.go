package codec

import (
	"encoding/binary"

	"tradeagent/internal/schema"
)

// EncodeAssetInfo serializes the traded asset description.
func EncodeAssetInfo(dst []byte, a schema.Asset) []byte {
	dst = newFrame(dst, KindAssetInfo, uint16(a.Market), 0, 0)
	putString(dst[16:32], a.Symbol)
	putString(dst[32:48], a.Ticker)
	putString(dst[48:64], a.BaseTicker)
	putF64(dst[64:72], a.MinOrderAmount)
	putF64(dst[72:80], a.MaxOrderAmount)
	putF64(dst[80:88], a.ValueStep)
	putF64(dst[88:96], a.PriceStep)
	putF64(dst[96:104], a.TickSize)
	if a.Trading {
		binary.LittleEndian.PutUint16(dst[104:106], 1)
	}
	return dst
}

// DecodeAssetInfo parses an asset-info frame.
func DecodeAssetInfo(src []byte) (schema.Asset, bool) {
	if len(src) < FrameSize {
		return schema.Asset{}, false
	}
	return schema.Asset{
		Market:         schema.Market(binary.LittleEndian.Uint16(src[2:4])),
		Symbol:         getString(src[16:32]),
		Ticker:         getString(src[32:48]),
		BaseTicker:     getString(src[48:64]),
		MinOrderAmount: f64(src[64:72]),
		MaxOrderAmount: f64(src[72:80]),
		ValueStep:      f64(src[80:88]),
		PriceStep:      f64(src[88:96]),
		TickSize:       f64(src[96:104]),
		Trading:        binary.LittleEndian.Uint16(src[104:106]) == 1,
	}, true
}
