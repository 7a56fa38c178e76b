package domain

import (
	"github.com/shopspring/decimal"
)

// SignalKind 机会信号类型
type SignalKind string

const (
	SignalNone       SignalKind = "none"
	SignalOpenLong   SignalKind = "open_long"   // maker 买入 + taker 卖出对冲
	SignalOpenShort  SignalKind = "open_short"  // maker 卖出 + taker 买入对冲
	SignalCloseLong  SignalKind = "close_long"  // 反向平多
	SignalCloseShort SignalKind = "close_short" // 反向平空
)

// IsOpen 是否为开仓信号
func (k SignalKind) IsOpen() bool {
	return k == SignalOpenLong || k == SignalOpenShort
}

// IsClose 是否为平仓信号
func (k SignalKind) IsClose() bool {
	return k == SignalCloseLong || k == SignalCloseShort
}

// MakerSide 信号对应的 maker 腿方向
func (k SignalKind) MakerSide() Side {
	switch k {
	case SignalOpenLong, SignalCloseShort:
		return SideBuy
	default:
		return SideSell
	}
}

// Signal 检测器产出的机会信号。
// Maker/Taker 为信号产生时的报价快照，执行层据此做价格容差复核。
type Signal struct {
	Kind       SignalKind
	Size       decimal.Decimal // 本次执行数量
	Spread     decimal.Decimal // 触发信号的价差（开仓为对应方向价差，平仓为反向价差）
	Threshold  decimal.Decimal // 当时生效的阈值
	Maker      Quote
	Taker      Quote
	SkipReason string // Kind 为 none 时的原因（限流日志用）
}
