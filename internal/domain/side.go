package domain

// Side 订单方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite 返回反方向（对冲腿使用）
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// VenueRole 场所角色：maker 腿挂单吃返佣，taker 腿市价对冲
type VenueRole string

const (
	VenueMaker VenueRole = "maker"
	VenueTaker VenueRole = "taker"
)

// PositionSide 持仓方向
type PositionSide string

const (
	PositionFlat  PositionSide = "flat"
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)
