package ports

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/arbbot/goarb/internal/domain"
)

// 场所适配层的公共错误。具体实现负责把场所侧错误码翻译到这里，
// 执行层只依赖这些哨兵做分支。
var (
	// ErrPostOnlyRejected post-only 挂单会立即成交而被场所拒绝（良性，跳过本轮）
	ErrPostOnlyRejected = errors.New("venue: post-only order would cross")
	// ErrOrderNotFound 查询/撤销的订单在场所侧不存在
	ErrOrderNotFound = errors.New("venue: order not found")
	// ErrOrderFinal 撤单时订单已处于最终状态（良性，按已成交量处理）
	ErrOrderFinal = errors.New("venue: order already in final status")
)

// LimitOrderSpec 限价单参数
type LimitOrderSpec struct {
	Side     domain.Side
	Price    decimal.Decimal
	Size     decimal.Decimal
	PostOnly bool
	ClientID string
}

// MarketOrderSpec 市价/IOC 单参数。LimitPrice 非零时按激进限价 IOC 提交，
// 用于控制对冲腿的最大滑点。
type MarketOrderSpec struct {
	Side       domain.Side
	Size       decimal.Decimal
	LimitPrice decimal.Decimal
	ClientID   string
}

// OrderPlacer 下单能力
type OrderPlacer interface {
	PlaceLimitOrder(ctx context.Context, spec LimitOrderSpec) (*domain.Order, error)
	PlaceMarketOrder(ctx context.Context, spec MarketOrderSpec) (*domain.Order, error)
}

// OrderCanceler 撤单能力。撤销已处于最终状态的订单返回 ErrOrderFinal。
type OrderCanceler interface {
	CancelOrder(ctx context.Context, orderID string) error
}

// OrderStatusGetter 订单状态查询能力
type OrderStatusGetter interface {
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	OpenOrders(ctx context.Context) ([]*domain.Order, error)
}

// PositionGetter 场所侧持仓查询能力（带符号，多为正）
type PositionGetter interface {
	GetPosition(ctx context.Context) (decimal.Decimal, error)
}

// VenueConnector 单个场所的完整交易能力。
// 行情不走这里：BBO 由行情协程直接写入 QuoteCache。
type VenueConnector interface {
	Name() string
	OrderPlacer
	OrderCanceler
	OrderStatusGetter
	PositionGetter
}
