package detector

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/arbbot/goarb/internal/domain"
	"github.com/arbbot/goarb/internal/position"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func quote(bid, ask float64) domain.Quote {
	return domain.Quote{Bid: d(bid), Ask: d(ask), ObservedAt: time.Now()}
}

func baseParams() Params {
	return Params{
		OrderSize:   d(1),
		MaxPosition: d(3),
		LongOpen:    d(0.2),
		ShortOpen:   d(0.2),
		Close:       position.CloseParams{Multiplier: d(0.10), MinSpread: d(0.15)},
	}
}

func flat() domain.Position { return domain.NewFlatPosition() }

func longPos(qty float64) domain.Position {
	return domain.Position{Side: domain.PositionLong, Quantity: d(qty), OpenedAt: time.Now()}
}

func shortPos(qty float64) domain.Position {
	return domain.Position{Side: domain.PositionShort, Quantity: d(qty), OpenedAt: time.Now()}
}

func TestNoSignalWhenQuotesNotReady(t *testing.T) {
	sig := Detect(domain.Quote{}, quote(100.3, 100.4), flat(), baseParams())
	assert.Equal(t, domain.SignalNone, sig.Kind)
	assert.Equal(t, "quotes not ready", sig.SkipReason)

	// 单边报价同样不就绪
	oneSided := domain.Quote{Ask: d(100.2), ObservedAt: time.Now()}
	sig = Detect(oneSided, quote(100.3, 100.4), flat(), baseParams())
	assert.Equal(t, domain.SignalNone, sig.Kind)
}

func TestOpenLongWhenLongSpreadExceedsThreshold(t *testing.T) {
	// maker ask 100.2, taker bid 100.5 -> long spread 0.3 > 0.2
	sig := Detect(quote(100.1, 100.2), quote(100.5, 100.6), flat(), baseParams())

	assert.Equal(t, domain.SignalOpenLong, sig.Kind)
	assert.True(t, sig.Size.Equal(d(1)))
	assert.True(t, sig.Spread.Equal(d(0.3)), "spread=%s", sig.Spread)
	assert.Equal(t, domain.SideBuy, sig.Kind.MakerSide())
}

func TestOpenShortWhenShortSpreadExceedsThreshold(t *testing.T) {
	// maker bid 100.5, taker ask 100.2 -> short spread 0.3 > 0.2
	sig := Detect(quote(100.5, 100.6), quote(100.1, 100.2), flat(), baseParams())

	assert.Equal(t, domain.SignalOpenShort, sig.Kind)
	assert.True(t, sig.Spread.Equal(d(0.3)))
	assert.Equal(t, domain.SideSell, sig.Kind.MakerSide())
}

func TestNoSignalAtExactThreshold(t *testing.T) {
	// long spread 恰好等于阈值 0.2，开仓要求严格大于
	sig := Detect(quote(100.1, 100.2), quote(100.4, 100.5), flat(), baseParams())
	assert.Equal(t, domain.SignalNone, sig.Kind)
	assert.Equal(t, "no opportunity", sig.SkipReason)
}

func TestOpenSkippedWhenOrderSizeExceedsMax(t *testing.T) {
	p := baseParams()
	p.OrderSize = d(5)
	sig := Detect(quote(100.1, 100.2), quote(100.5, 100.6), flat(), p)

	assert.Equal(t, domain.SignalNone, sig.Kind)
	assert.Equal(t, "order size exceeds max position", sig.SkipReason)
}

func TestTopUpLongUntilMaxPosition(t *testing.T) {
	p := baseParams()
	maker, taker := quote(100.1, 100.2), quote(100.5, 100.6)

	sig := Detect(maker, taker, longPos(2), p)
	assert.Equal(t, domain.SignalOpenLong, sig.Kind, "2+1 <= 3 允许加仓")

	sig = Detect(maker, taker, longPos(3), p)
	assert.Equal(t, domain.SignalNone, sig.Kind)
	assert.Equal(t, "max position reached", sig.SkipReason)
}

func TestCloseLongOnReverseSpread(t *testing.T) {
	p := baseParams()
	// short spread = 100.38 - 100.2 = 0.18 >= max(0.2*0.10, 0.15) = 0.15
	sig := Detect(quote(100.38, 100.48), quote(100.1, 100.2), longPos(2), p)

	assert.Equal(t, domain.SignalCloseLong, sig.Kind)
	assert.True(t, sig.Size.Equal(d(1)), "平仓数量为 min(orderSize, qty)")
	assert.True(t, sig.Threshold.Equal(d(0.15)))
	assert.Equal(t, domain.SideSell, sig.Kind.MakerSide())
}

func TestCloseSizeCappedByPosition(t *testing.T) {
	p := baseParams()
	sig := Detect(quote(100.38, 100.48), quote(100.1, 100.2), longPos(0.4), p)

	assert.Equal(t, domain.SignalCloseLong, sig.Kind)
	assert.True(t, sig.Size.Equal(d(0.4)), "持仓不足一单时只平持仓量")
}

func TestClosePreferredOverTopUp(t *testing.T) {
	p := baseParams()
	// taker 盘口瞬时倒挂，双向价差同时满足：
	// long = 100.65 - 100.40 = 0.25 > 0.2（可加仓）
	// short = 100.38 - 100.20 = 0.18 >= 0.15（可平仓）
	sig := Detect(quote(100.38, 100.40), quote(100.65, 100.20), longPos(1), p)
	assert.Equal(t, domain.SignalCloseLong, sig.Kind, "平仓优先于加仓")
}

func TestCloseShortOnReverseSpread(t *testing.T) {
	p := baseParams()
	// long spread = taker bid 100.38 - maker ask 100.2 = 0.18 >= 0.15
	sig := Detect(quote(100.1, 100.2), quote(100.38, 100.48), shortPos(2), p)

	assert.Equal(t, domain.SignalCloseShort, sig.Kind)
	assert.Equal(t, domain.SideBuy, sig.Kind.MakerSide())
}

func TestFinalStageClosesAtZeroSpread(t *testing.T) {
	p := baseParams()
	p.Close = position.CloseParams{Multiplier: decimal.Zero, MinSpread: decimal.Zero}

	// short spread 恰好为 0，末档允许离场
	sig := Detect(quote(100.2, 100.3), quote(100.1, 100.2), longPos(1), p)
	assert.Equal(t, domain.SignalCloseLong, sig.Kind)
}

func TestHoldingLongBelowCloseThresholdNoSignal(t *testing.T) {
	p := baseParams()
	// short spread = 0.1 < 0.15，long spread 不足加仓
	sig := Detect(quote(100.3, 100.4), quote(100.1, 100.2), longPos(1), p)
	assert.Equal(t, domain.SignalNone, sig.Kind)
}
