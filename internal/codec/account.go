package codec

import (
	"encoding/binary"

	"tradeagent/internal/schema"
)

// AccountItemKind reads the account-item tag of a frame.
func AccountItemKind(src []byte) (schema.AccountItemKind, bool) {
	if len(src) < FrameSize {
		return schema.AccountItemUnknown, false
	}
	return schema.AccountItemKind(binary.LittleEndian.Uint16(src[2:4])), true
}

// EncodeBalanceItem serializes one spot balance as an account-state payload.
func EncodeBalanceItem(dst []byte, b schema.Balance) []byte {
	dst = newFrame(dst, KindAccountItem, uint16(schema.AccountItemBalance), 0, 0)
	putString(dst[16:32], b.Ticker)
	putF64(dst[32:40], b.Value)
	putF64(dst[40:48], b.Locked)
	return dst
}

// DecodeBalanceItem parses a balance account-state payload.
func DecodeBalanceItem(src []byte) (schema.Balance, bool) {
	if len(src) < FrameSize {
		return schema.Balance{}, false
	}
	return schema.Balance{
		Ticker: getString(src[16:32]),
		Value:  f64(src[32:40]),
		Locked: f64(src[40:48]),
	}, true
}

// EncodeFundingItem serializes one funding balance.
func EncodeFundingItem(dst []byte, f schema.FundingBalance) []byte {
	dst = newFrame(dst, KindAccountItem, uint16(schema.AccountItemFunding), 0, 0)
	putString(dst[16:32], f.Ticker)
	putF64(dst[32:40], f.Balance)
	putF64(dst[40:48], f.Available)
	return dst
}

// DecodeFundingItem parses a funding account-state payload.
func DecodeFundingItem(src []byte) (schema.FundingBalance, bool) {
	if len(src) < FrameSize {
		return schema.FundingBalance{}, false
	}
	return schema.FundingBalance{
		Ticker:    getString(src[16:32]),
		Balance:   f64(src[32:40]),
		Available: f64(src[40:48]),
	}, true
}

// EncodePositionItem serializes one open position.
func EncodePositionItem(dst []byte, p schema.Position) []byte {
	dst = newFrame(dst, KindAccountItem, uint16(schema.AccountItemPosition), 0, p.CreatedTS)
	putString(dst[16:32], p.Ticker)
	putF64(dst[32:40], p.Value)
	putF64(dst[40:48], p.BaseValue)
	putF64(dst[48:56], p.OpenPrice)
	putF64(dst[56:64], p.RealizedPnL)
	binary.LittleEndian.PutUint32(dst[64:68], uint32(p.Leverage))
	binary.LittleEndian.PutUint16(dst[68:70], uint16(p.Market))
	return dst
}

// DecodePositionItem parses a position account-state payload.
func DecodePositionItem(src []byte) (schema.Position, bool) {
	if len(src) < FrameSize {
		return schema.Position{}, false
	}
	return schema.Position{
		Ticker:      getString(src[16:32]),
		Value:       f64(src[32:40]),
		BaseValue:   f64(src[40:48]),
		OpenPrice:   f64(src[48:56]),
		RealizedPnL: f64(src[56:64]),
		Leverage:    int(binary.LittleEndian.Uint32(src[64:68])),
		Market:      schema.Market(binary.LittleEndian.Uint16(src[68:70])),
		CreatedTS:   int64(binary.LittleEndian.Uint64(src[8:16])),
	}, true
}

// EncodeOrderItem serializes one resting order.
func EncodeOrderItem(dst []byte, o schema.OpenOrder) []byte {
	dst = newFrame(dst, KindAccountItem, uint16(schema.AccountItemOrder), 0, 0)
	putString(dst[16:48], o.ID)
	putString(dst[48:64], o.Ticker)
	putF64(dst[64:72], o.Value)
	putF64(dst[72:80], o.ExecValue)
	putF64(dst[80:88], o.OpenPrice)
	putF64(dst[88:96], o.AvgExecPrice)
	putF64(dst[96:104], o.ExecFee)
	putF64(dst[104:112], o.StopLoss)
	putF64(dst[112:120], o.TakeProfit)
	return dst
}

// DecodeOrderItem parses a resting-order account-state payload.
func DecodeOrderItem(src []byte) (schema.OpenOrder, bool) {
	if len(src) < FrameSize {
		return schema.OpenOrder{}, false
	}
	return schema.OpenOrder{
		ID:           getString(src[16:48]),
		Ticker:       getString(src[48:64]),
		Value:        f64(src[64:72]),
		ExecValue:    f64(src[72:80]),
		OpenPrice:    f64(src[80:88]),
		AvgExecPrice: f64(src[88:96]),
		ExecFee:      f64(src[96:104]),
		StopLoss:     f64(src[104:112]),
		TakeProfit:   f64(src[112:120]),
	}, true
}
