package position

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/arbbot/goarb/internal/domain"
)

var log = logrus.WithField("module", "position")

// ErrMaxPositionExceeded 成交会使持仓超出上限
var ErrMaxPositionExceeded = errors.New("position: max position exceeded")

// Tracker 净持仓跟踪器。
//
// 以 maker 腿为基准维护一个带符号净持仓，同时分别记录两条场所腿，
// 用于和场所回报做定期对账以及裸头寸检测。
type Tracker struct {
	mu          sync.Mutex
	pos         domain.Position
	maxPosition decimal.Decimal
	makerLeg    decimal.Decimal // maker 场所带符号持仓
	takerLeg    decimal.Decimal // taker 场所带符号持仓（正常情况与 maker 腿反号）
}

// NewTracker 创建空仓跟踪器
func NewTracker(maxPosition decimal.Decimal) *Tracker {
	return &Tracker{
		pos:         domain.NewFlatPosition(),
		maxPosition: maxPosition,
	}
}

// Position 返回当前持仓快照
func (t *Tracker) Position() domain.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos
}

// Legs 返回两条场所腿的带符号持仓
func (t *Tracker) Legs() (maker, taker decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.makerLeg, t.takerLeg
}

// ApplyFill 记录一组已对冲的成交（maker 腿方向 + 数量）。
// 同向加仓按数量加权更新入场价差；反向减仓保留入场元数据；
// 减到零回到空仓并清空入场元数据。
// 超出持仓上限的更新被拒绝，持仓保持不变。
func (t *Tracker) ApplyFill(makerSide domain.Side, qty, spread decimal.Decimal, now time.Time) error {
	if !qty.IsPositive() {
		return errors.New("position: fill quantity must be positive")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	delta := qty
	if makerSide == domain.SideSell {
		delta = qty.Neg()
	}

	newSigned := t.pos.Signed().Add(delta)
	if newSigned.Abs().GreaterThan(t.maxPosition) {
		return errors.Wrapf(ErrMaxPositionExceeded, "current=%s delta=%s max=%s",
			t.pos.Signed(), delta, t.maxPosition)
	}

	oldSigned := t.pos.Signed()
	switch {
	case newSigned.IsZero():
		t.pos = domain.NewFlatPosition()

	case oldSigned.IsZero() || oldSigned.Sign() != newSigned.Sign():
		// 开仓，或减仓穿越零点后的剩余部分视为新仓
		t.pos = domain.Position{
			Side:        sideOf(newSigned),
			Quantity:    newSigned.Abs(),
			EntrySpread: spread,
			OpenedAt:    now,
		}

	case delta.Sign() == oldSigned.Sign():
		// 同向加仓：按数量加权入场价差，保留首次入场时间
		oldQty := t.pos.Quantity
		newQty := newSigned.Abs()
		t.pos.EntrySpread = t.pos.EntrySpread.Mul(oldQty).Add(spread.Mul(qty)).Div(newQty)
		t.pos.Quantity = newQty

	default:
		// 反向减仓
		t.pos.Quantity = newSigned.Abs()
	}

	t.makerLeg = t.makerLeg.Add(delta)
	t.takerLeg = t.takerLeg.Sub(delta)
	return nil
}

func sideOf(signed decimal.Decimal) domain.PositionSide {
	if signed.IsPositive() {
		return domain.PositionLong
	}
	if signed.IsNegative() {
		return domain.PositionShort
	}
	return domain.PositionFlat
}

// SyncVenue 用场所回报的真实持仓对账。
// 漂移超过 tolerance 时采信场所侧数据并返回 true（调用方记录告警）。
func (t *Tracker) SyncVenue(makerActual, takerActual, tolerance decimal.Decimal) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	makerDrift := makerActual.Sub(t.makerLeg).Abs()
	takerDrift := takerActual.Sub(t.takerLeg).Abs()
	if makerDrift.LessThanOrEqual(tolerance) && takerDrift.LessThanOrEqual(tolerance) {
		return false
	}

	log.Warnf("持仓对账漂移: maker %s -> %s, taker %s -> %s",
		t.makerLeg, makerActual, t.takerLeg, takerActual)
	t.makerLeg = makerActual
	t.takerLeg = takerActual

	// 净持仓跟随 maker 腿修正；入场元数据尽量保留
	newSigned := makerActual
	switch {
	case newSigned.IsZero():
		t.pos = domain.NewFlatPosition()
	case t.pos.IsFlat():
		t.pos = domain.Position{
			Side:     sideOf(newSigned),
			Quantity: newSigned.Abs(),
			OpenedAt: time.Now(),
		}
	default:
		t.pos.Side = sideOf(newSigned)
		t.pos.Quantity = newSigned.Abs()
	}
	return true
}

// IsNaked 两条腿同号且都超出容差，说明对冲缺失（裸头寸）
func (t *Tracker) IsNaked(tolerance decimal.Decimal) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.makerLeg.Abs().LessThanOrEqual(tolerance) || t.takerLeg.Abs().LessThanOrEqual(tolerance) {
		return false
	}
	return t.makerLeg.Sign() == t.takerLeg.Sign()
}

// State 可持久化的跟踪器状态
type State struct {
	Side        domain.PositionSide `json:"side"`
	Quantity    decimal.Decimal     `json:"quantity"`
	EntrySpread decimal.Decimal     `json:"entry_spread"`
	OpenedAt    time.Time           `json:"opened_at"`
	MakerLeg    decimal.Decimal     `json:"maker_leg"`
	TakerLeg    decimal.Decimal     `json:"taker_leg"`
}

// Export 导出状态用于持久化
func (t *Tracker) Export() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{
		Side:        t.pos.Side,
		Quantity:    t.pos.Quantity,
		EntrySpread: t.pos.EntrySpread,
		OpenedAt:    t.pos.OpenedAt,
		MakerLeg:    t.makerLeg,
		TakerLeg:    t.takerLeg,
	}
}

// Restore 从持久化状态恢复（重启后保留入场时间与入场价差）
func (t *Tracker) Restore(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s.Quantity.IsZero() || s.Side == domain.PositionFlat || s.Side == "" {
		t.pos = domain.NewFlatPosition()
	} else {
		t.pos = domain.Position{
			Side:        s.Side,
			Quantity:    s.Quantity,
			EntrySpread: s.EntrySpread,
			OpenedAt:    s.OpenedAt,
		}
	}
	t.makerLeg = s.MakerLeg
	t.takerLeg = s.TakerLeg
}
