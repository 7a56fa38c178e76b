package marketstate

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbbot/goarb/internal/domain"
	"github.com/arbbot/goarb/pkg/sigchan"
)

// QuoteCache 双场所 BBO 快照缓存。
//
// 每个场所一个 atomic.Pointer，行情协程整体替换不可变 Quote，
// 决策循环无锁读取，不会出现撕裂读（半新半旧的 bid/ask）。
// 约定：每个场所只有一个写入者（对应的行情协程）。
type QuoteCache struct {
	maker atomic.Pointer[domain.Quote]
	taker atomic.Pointer[domain.Quote]
	wake  *sigchan.Notifier
}

// NewQuoteCache 创建空缓存
func NewQuoteCache() *QuoteCache {
	return &QuoteCache{wake: sigchan.NewNotifier()}
}

// Update 写入一侧场所的最新报价。
// bid/ask 为零表示该侧本次未更新，沿用旧值（部分深度推送）。
func (c *QuoteCache) Update(role domain.VenueRole, bid, ask decimal.Decimal, at time.Time) {
	slot := c.slot(role)
	q := domain.Quote{Bid: bid, Ask: ask, ObservedAt: at}
	if prev := slot.Load(); prev != nil {
		if bid.IsZero() {
			q.Bid = prev.Bid
		}
		if ask.IsZero() {
			q.Ask = prev.Ask
		}
	}
	slot.Store(&q)
	c.wake.Notify()
}

func (c *QuoteCache) slot(role domain.VenueRole) *atomic.Pointer[domain.Quote] {
	if role == domain.VenueMaker {
		return &c.maker
	}
	return &c.taker
}

// Quote 返回单侧报价快照
func (c *QuoteCache) Quote(role domain.VenueRole) (domain.Quote, bool) {
	p := c.slot(role).Load()
	if p == nil {
		return domain.Quote{}, false
	}
	return *p, true
}

// Snapshot 返回两侧报价副本。
// 任一侧尚未就绪（双边报价未齐）时 ok 为 false。
func (c *QuoteCache) Snapshot() (maker, taker domain.Quote, ok bool) {
	mp := c.maker.Load()
	tp := c.taker.Load()
	if mp == nil || tp == nil {
		return domain.Quote{}, domain.Quote{}, false
	}
	if !mp.Ready() || !tp.Ready() {
		return *mp, *tp, false
	}
	return *mp, *tp, true
}

// IsFresh 两侧报价的观察时间都在 maxAge 内
func (c *QuoteCache) IsFresh(now time.Time, maxAge time.Duration) bool {
	mp := c.maker.Load()
	tp := c.taker.Load()
	if mp == nil || tp == nil {
		return false
	}
	return now.Sub(mp.ObservedAt) <= maxAge && now.Sub(tp.ObservedAt) <= maxAge
}

// WakeC 行情更新唤醒 channel（供决策循环 select）
func (c *QuoteCache) WakeC() <-chan struct{} {
	return c.wake.Wait()
}
