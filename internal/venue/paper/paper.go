package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/arbbot/goarb/internal/domain"
	"github.com/arbbot/goarb/internal/marketstate"
	"github.com/arbbot/goarb/internal/ports"
)

// Venue 模拟场所连接器（dry-run 模式）。
//
// 用行情缓存里的真实 BBO 模拟成交：
//   - post-only 限价单穿价即拒，与真实场所一致
//   - 限价单在盘口走到挂单价时成交（FillDelay 之后才开始判定，
//     模拟排队时间）
//   - 市价/IOC 单立即按对手价全部成交
//
// 持仓在本地记账，供对账路径和收尾路径走真实代码。
type Venue struct {
	mu        sync.Mutex
	name      string
	role      domain.VenueRole
	cache     *marketstate.QuoteCache
	fillDelay time.Duration

	orders map[string]*domain.Order
	seq    int
	pos    decimal.Decimal
	log    *logrus.Entry
}

// New 创建模拟场所
func New(name string, role domain.VenueRole, cache *marketstate.QuoteCache, fillDelay time.Duration) *Venue {
	return &Venue{
		name:      name,
		role:      role,
		cache:     cache,
		fillDelay: fillDelay,
		orders:    make(map[string]*domain.Order),
		log:       logrus.WithField("module", "paper:"+name),
	}
}

func (v *Venue) Name() string { return v.name }

// PlaceLimitOrder 挂限价单。post-only 且价格穿越盘口时返回 ErrPostOnlyRejected。
func (v *Venue) PlaceLimitOrder(_ context.Context, spec ports.LimitOrderSpec) (*domain.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	q, ok := v.cache.Quote(v.role)
	if spec.PostOnly && ok && q.Ready() {
		if spec.Side == domain.SideBuy && spec.Price.GreaterThanOrEqual(q.Ask) {
			return nil, ports.ErrPostOnlyRejected
		}
		if spec.Side == domain.SideSell && spec.Price.LessThanOrEqual(q.Bid) {
			return nil, ports.ErrPostOnlyRejected
		}
	}

	v.seq++
	o := &domain.Order{
		OrderID:   fmt.Sprintf("%s-%d", v.name, v.seq),
		ClientID:  spec.ClientID,
		Venue:     v.role,
		Side:      spec.Side,
		Price:     spec.Price,
		Size:      spec.Size,
		PostOnly:  spec.PostOnly,
		Status:    domain.OrderStatusOpen,
		CreatedAt: time.Now(),
	}
	v.orders[o.OrderID] = o
	v.log.Debugf("挂单 %s %s %s@%s", o.OrderID, o.Side, o.Size, o.Price)
	cp := *o
	return &cp, nil
}

// PlaceMarketOrder 市价/IOC 单立即按对手价成交
func (v *Venue) PlaceMarketOrder(_ context.Context, spec ports.MarketOrderSpec) (*domain.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	price := spec.LimitPrice
	if q, ok := v.cache.Quote(v.role); ok && q.Ready() {
		if spec.Side == domain.SideBuy {
			price = q.Ask
		} else {
			price = q.Bid
		}
	}

	v.seq++
	now := time.Now()
	o := &domain.Order{
		OrderID:     fmt.Sprintf("%s-%d", v.name, v.seq),
		ClientID:    spec.ClientID,
		Venue:       v.role,
		Side:        spec.Side,
		Price:       price,
		Size:        spec.Size,
		FilledSize:  spec.Size,
		FilledPrice: price,
		Status:      domain.OrderStatusFilled,
		CreatedAt:   now,
		FilledAt:    &now,
	}
	v.applyFillLocked(spec.Side, spec.Size)
	v.log.Debugf("市价成交 %s %s %s@%s", o.OrderID, o.Side, o.Size, price)
	return o, nil
}

// CancelOrder 撤单。已终态返回 ErrOrderFinal。
func (v *Venue) CancelOrder(_ context.Context, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	o, ok := v.orders[orderID]
	if !ok {
		return ports.ErrOrderNotFound
	}
	v.settleLocked(o)
	if o.IsFinalStatus() {
		return ports.ErrOrderFinal
	}
	now := time.Now()
	o.Status = domain.OrderStatusCanceled
	o.CanceledAt = &now
	v.log.Debugf("撤单 %s（已成交 %s）", orderID, o.FilledSize)
	return nil
}

// GetOrder 查询订单，顺带推进成交模拟
func (v *Venue) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	o, ok := v.orders[orderID]
	if !ok {
		return nil, ports.ErrOrderNotFound
	}
	v.settleLocked(o)
	cp := *o
	return &cp, nil
}

// OpenOrders 返回全部非终态订单
func (v *Venue) OpenOrders(_ context.Context) ([]*domain.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var out []*domain.Order
	for _, o := range v.orders {
		v.settleLocked(o)
		if !o.IsFinalStatus() {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

// GetPosition 返回本地记账持仓
func (v *Venue) GetPosition(_ context.Context) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pos, nil
}

// settleLocked 按当前盘口推进限价单的成交模拟
func (v *Venue) settleLocked(o *domain.Order) {
	if o.IsFinalStatus() || time.Since(o.CreatedAt) < v.fillDelay {
		return
	}
	q, ok := v.cache.Quote(v.role)
	if !ok || !q.Ready() {
		return
	}

	crossed := (o.Side == domain.SideBuy && q.Ask.LessThanOrEqual(o.Price)) ||
		(o.Side == domain.SideSell && q.Bid.GreaterThanOrEqual(o.Price))
	if !crossed {
		return
	}

	fill := o.Size.Sub(o.FilledSize)
	if !fill.IsPositive() {
		return
	}
	o.FilledSize = o.Size
	o.FilledPrice = o.Price
	o.Status = domain.OrderStatusFilled
	now := time.Now()
	o.FilledAt = &now
	v.applyFillLocked(o.Side, fill)
	v.log.Debugf("限价成交 %s %s %s@%s", o.OrderID, o.Side, fill, o.Price)
}

func (v *Venue) applyFillLocked(side domain.Side, qty decimal.Decimal) {
	if side == domain.SideBuy {
		v.pos = v.pos.Add(qty)
	} else {
		v.pos = v.pos.Sub(qty)
	}
}
