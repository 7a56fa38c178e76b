package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order 订单领域模型
type Order struct {
	OrderID     string          // 场所侧订单 ID
	ClientID    string          // 客户端生成的幂等 ID
	Venue       VenueRole       // 所属场所（maker/taker）
	Side        Side            // 订单方向
	Price       decimal.Decimal // 限价（市价单为参考价）
	Size        decimal.Decimal // 订单原始数量（requested size）
	FilledSize  decimal.Decimal // 已成交数量（partial fill 累计）
	FilledPrice decimal.Decimal // 成交均价（可为零）
	PostOnly    bool            // 是否只做 maker
	Status      OrderStatus     // 订单状态
	CreatedAt   time.Time       // 创建时间
	FilledAt    *time.Time      // 全部成交时间（可选）
	CanceledAt  *time.Time      // 取消时间（可选）
}

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"  // 已提交，未确认
	OrderStatusOpen     OrderStatus = "open"     // 挂单中
	OrderStatusPartial  OrderStatus = "partial"  // 部分成交
	OrderStatusFilled   OrderStatus = "filled"   // 已全部成交
	OrderStatusCanceled OrderStatus = "canceled" // 已取消
	OrderStatusRejected OrderStatus = "rejected" // 被场所拒绝（如 post-only 穿价）
	OrderStatusFailed   OrderStatus = "failed"   // 失败
)

// IsFilled 检查订单是否已全部成交
func (o *Order) IsFilled() bool {
	return o.Status == OrderStatusFilled
}

// IsPartiallyFilled 检查订单是否部分成交
func (o *Order) IsPartiallyFilled() bool {
	return o.Status == OrderStatusPartial &&
		o.FilledSize.IsPositive() && o.FilledSize.LessThan(o.Size)
}

// ExecutedSize 返回已成交数量。
// canceled/rejected 订单可能带着非零 FilledSize（撤单前的部分成交），
// 对冲腿必须按这个数量下单，而不是按原始 Size。
func (o *Order) ExecutedSize() decimal.Decimal {
	if o == nil {
		return decimal.Zero
	}
	if o.Status == OrderStatusFilled && o.FilledSize.IsZero() {
		return o.Size
	}
	return o.FilledSize
}

// Remaining 返回未成交数量
func (o *Order) Remaining() decimal.Decimal {
	r := o.Size.Sub(o.FilledSize)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// IsFinalStatus 检查订单是否为最终状态（filled/canceled/rejected/failed）
// 最终状态不应该被中间状态（open/pending/partial）覆盖
func (o *Order) IsFinalStatus() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusFailed:
		return true
	}
	return false
}
