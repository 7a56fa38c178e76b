package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position 净持仓状态（以 maker 腿为基准）。
// Flat 时 Quantity 为零，EntrySpread/OpenedAt 无意义。
type Position struct {
	Side        PositionSide    // 持仓方向
	Quantity    decimal.Decimal // 持仓数量（非负）
	EntrySpread decimal.Decimal // 加权平均入场价差
	OpenedAt    time.Time       // 从 Flat 转为非 Flat 的时间
}

// NewFlatPosition 创建空仓
func NewFlatPosition() Position {
	return Position{Side: PositionFlat, Quantity: decimal.Zero, EntrySpread: decimal.Zero}
}

// IsFlat 检查是否空仓
func (p Position) IsFlat() bool {
	return p.Side == PositionFlat || p.Quantity.IsZero()
}

// HoldingDuration 持仓时长。空仓返回零。
func (p Position) HoldingDuration(now time.Time) time.Duration {
	if p.IsFlat() || p.OpenedAt.IsZero() {
		return 0
	}
	d := now.Sub(p.OpenedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Signed 返回带符号持仓数量（多为正，空为负）
func (p Position) Signed() decimal.Decimal {
	if p.Side == PositionShort {
		return p.Quantity.Neg()
	}
	if p.Side == PositionLong {
		return p.Quantity
	}
	return decimal.Zero
}
