package detector

import (
	"github.com/shopspring/decimal"

	"github.com/arbbot/goarb/internal/domain"
	"github.com/arbbot/goarb/internal/position"
)

// Params 单次检测的全部输入参数。
// 阈值与平仓档位由调用方在每个决策周期解析好再传入，
// 检测本身是纯函数，不读时钟不读全局状态。
type Params struct {
	OrderSize   decimal.Decimal // 单次执行数量
	MaxPosition decimal.Decimal // 净持仓上限
	LongOpen    decimal.Decimal // 做多开仓阈值
	ShortOpen   decimal.Decimal // 做空开仓阈值
	Close       position.CloseParams // 当前持仓时长档位的平仓参数
}

// Detect 机会检测决策表。
//
// 每个周期最多产出一个信号，平仓优先于加仓：
//   - 空仓：做多价差超过阈值开多，否则做空价差超过阈值开空
//   - 持多：反向（做空）价差达到档位平仓阈值则平多；
//     否则做多价差再超阈值且未触上限则同向加仓
//   - 持空：对称
//
// 开仓数量固定为 OrderSize，加仓会使净持仓超上限时不降量、直接跳过。
// 平仓数量为 min(OrderSize, 持仓数量)，只减仓不穿仓。
func Detect(maker, taker domain.Quote, pos domain.Position, p Params) domain.Signal {
	if !maker.Ready() || !taker.Ready() {
		return skip("quotes not ready")
	}

	long := domain.LongSpread(maker, taker)
	short := domain.ShortSpread(maker, taker)

	switch pos.Side {
	case domain.PositionLong:
		closeThr := p.Close.Threshold(p.ShortOpen)
		if short.GreaterThanOrEqual(closeThr) {
			return domain.Signal{
				Kind:      domain.SignalCloseLong,
				Size:      decimal.Min(p.OrderSize, pos.Quantity),
				Spread:    short,
				Threshold: closeThr,
				Maker:     maker,
				Taker:     taker,
			}
		}
		if long.GreaterThan(p.LongOpen) {
			if pos.Quantity.Add(p.OrderSize).GreaterThan(p.MaxPosition) {
				return skip("max position reached")
			}
			return open(domain.SignalOpenLong, long, p.LongOpen, p.OrderSize, maker, taker)
		}

	case domain.PositionShort:
		closeThr := p.Close.Threshold(p.LongOpen)
		if long.GreaterThanOrEqual(closeThr) {
			return domain.Signal{
				Kind:      domain.SignalCloseShort,
				Size:      decimal.Min(p.OrderSize, pos.Quantity),
				Spread:    long,
				Threshold: closeThr,
				Maker:     maker,
				Taker:     taker,
			}
		}
		if short.GreaterThan(p.ShortOpen) {
			if pos.Quantity.Add(p.OrderSize).GreaterThan(p.MaxPosition) {
				return skip("max position reached")
			}
			return open(domain.SignalOpenShort, short, p.ShortOpen, p.OrderSize, maker, taker)
		}

	default:
		if long.GreaterThan(p.LongOpen) {
			if p.OrderSize.GreaterThan(p.MaxPosition) {
				return skip("order size exceeds max position")
			}
			return open(domain.SignalOpenLong, long, p.LongOpen, p.OrderSize, maker, taker)
		}
		if short.GreaterThan(p.ShortOpen) {
			if p.OrderSize.GreaterThan(p.MaxPosition) {
				return skip("order size exceeds max position")
			}
			return open(domain.SignalOpenShort, short, p.ShortOpen, p.OrderSize, maker, taker)
		}
	}

	return skip("no opportunity")
}

func open(kind domain.SignalKind, spread, threshold, size decimal.Decimal, maker, taker domain.Quote) domain.Signal {
	return domain.Signal{
		Kind:      kind,
		Size:      size,
		Spread:    spread,
		Threshold: threshold,
		Maker:     maker,
		Taker:     taker,
	}
}

func skip(reason string) domain.Signal {
	return domain.Signal{Kind: domain.SignalNone, SkipReason: reason}
}
