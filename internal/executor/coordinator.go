package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/arbbot/goarb/internal/domain"
	"github.com/arbbot/goarb/internal/marketstate"
	"github.com/arbbot/goarb/internal/ports"
	"github.com/arbbot/goarb/internal/position"
)

var log = logrus.WithField("module", "executor")

// ErrHedgeFailed 对冲腿重试耗尽仍未成交。
// 此时存在未对冲敞口，调用方必须立即停止开新仓并触发平仓收尾。
var ErrHedgeFailed = errors.New("executor: hedge failed after retries")

// ErrExposureUnknown 撤单后拿不到 maker 订单终态，已成交量未知。
// 未知敞口等同于未对冲敞口，处理方式与 ErrHedgeFailed 相同：
// 停机并以场所回报的持仓为准收尾。
var ErrExposureUnknown = errors.New("executor: maker fill unknown after cancel")

// State 执行周期状态
type State string

const (
	StateIdle         State = "idle"
	StateMakerPlaced  State = "maker_placed"
	StateMakerFilling State = "maker_filling"
	StateCancelling   State = "cancelling"
	StateHedging      State = "hedging"
	StateSettled      State = "settled"
)

// Config 执行协调器配置
type Config struct {
	TickSize          decimal.Decimal // maker 挂单价离盘口的最小跳动
	FillTimeout       time.Duration   // maker 腿等待成交的最长时间
	PollInterval      time.Duration   // 订单状态轮询间隔
	PriceTolerancePct decimal.Decimal // 下单前盘口漂移容差（百分比，0.05 = 0.05%）
	HedgeSlippagePct  decimal.Decimal // 对冲腿激进限价滑点（百分比，0.5 = 0.5%）
	HedgeRetry        RetryPolicy
}

// TradeRecorder 成交落库接口（可为 nil）
type TradeRecorder interface {
	RecordTrade(venue domain.VenueRole, side domain.Side, price, size decimal.Decimal, at time.Time)
}

// Coordinator 单周期执行协调器。
//
// 一次执行 = maker 腿 post-only 挂单 + taker 腿市价对冲：
//
//	Idle -> MakerPlaced -> MakerFilling -> Hedging -> Settled -> Idle
//	                    \-> Cancelling（超时撤单，部分成交走 Hedging）
//
// 同一时刻最多一个周期在途，重入直接拒绝。
// 铁律：maker 腿成交多少，taker 腿就对冲多少，不多不少。
type Coordinator struct {
	maker    ports.VenueConnector
	taker    ports.VenueConnector
	cache    *marketstate.QuoteCache
	tracker  *position.Tracker
	recorder TradeRecorder
	cfg      Config

	mu       sync.Mutex
	state    State
	inflight bool
}

// NewCoordinator 创建执行协调器。recorder 可为 nil。
func NewCoordinator(maker, taker ports.VenueConnector, cache *marketstate.QuoteCache,
	tracker *position.Tracker, recorder TradeRecorder, cfg Config) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 5 * time.Second
	}
	return &Coordinator{
		maker:    maker,
		taker:    taker,
		cache:    cache,
		tracker:  tracker,
		recorder: recorder,
		cfg:      cfg,
		state:    StateIdle,
	}
}

// State 当前执行状态（状态接口用）
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	log.Debugf("执行状态 -> %s", s)
}

func (c *Coordinator) tryBegin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight {
		return false
	}
	c.inflight = true
	return true
}

func (c *Coordinator) finish() {
	c.mu.Lock()
	c.inflight = false
	c.state = StateIdle
	c.mu.Unlock()
}

// Execute 执行一个完整的开/平仓周期。
// 返回 nil 表示周期干净结束（包括未成交撤单、post-only 被拒等良性情形）；
// 包含 ErrHedgeFailed 或 ErrExposureUnknown 的错误表示留下了
// （或无法排除）未对冲敞口，必须停机处理。
func (c *Coordinator) Execute(ctx context.Context, sig domain.Signal) error {
	if sig.Kind == domain.SignalNone || !sig.Size.IsPositive() {
		return nil
	}
	if !c.tryBegin() {
		log.Warn("已有执行周期在途，丢弃信号")
		return nil
	}
	defer c.finish()

	makerSide := sig.Kind.MakerSide()

	// 盘口漂移复核：信号产生到执行之间价格可能已经走掉
	curMaker, curTaker, ok := c.cache.Snapshot()
	if !ok {
		log.Warn("执行前行情缓存未就绪，跳过")
		return nil
	}
	if !c.withinTolerance(sig, curMaker, curTaker, makerSide) {
		log.Infof("盘口漂移超过容差，跳过 %s", sig.Kind)
		return nil
	}

	makerPrice := c.makerPrice(curMaker, makerSide)
	order, err := c.placeMaker(ctx, makerSide, makerPrice, sig.Size)
	if err != nil {
		if errors.Is(err, ports.ErrPostOnlyRejected) {
			log.Infof("post-only 挂单会穿价被拒，跳过 %s", sig.Kind)
			return nil
		}
		return errors.Wrap(err, "maker 腿下单失败")
	}
	c.setState(StateMakerPlaced)

	filled, err := c.waitForFill(ctx, order)
	if err != nil {
		return err
	}
	if !filled.IsPositive() {
		log.Infof("maker 腿超时未成交，已撤单: %s", order.OrderID)
		return nil
	}

	c.setState(StateHedging)
	hedgePrice, err := c.hedge(ctx, makerSide.Opposite(), filled)
	if err != nil {
		return err
	}

	now := time.Now()
	if err := c.tracker.ApplyFill(makerSide, filled, sig.Spread, now); err != nil {
		// 检测层已按上限裁剪，这里只可能是对账修正后的边界情形
		log.Errorf("持仓更新被拒绝: %v", err)
	}
	if c.recorder != nil {
		c.recorder.RecordTrade(domain.VenueMaker, makerSide, makerPrice, filled, now)
		c.recorder.RecordTrade(domain.VenueTaker, makerSide.Opposite(), hedgePrice, filled, now)
	}

	c.setState(StateSettled)
	log.Infof("执行完成 %s: 数量=%s maker价=%s 对冲价=%s 价差=%s",
		sig.Kind, filled, makerPrice, hedgePrice, sig.Spread)
	return nil
}

// withinTolerance 比较信号时与当前的关键盘口价
func (c *Coordinator) withinTolerance(sig domain.Signal, curMaker, curTaker domain.Quote, makerSide domain.Side) bool {
	if c.cfg.PriceTolerancePct.IsZero() {
		return true
	}
	var sigMaker, curM, sigTaker, curT decimal.Decimal
	if makerSide == domain.SideBuy {
		// maker 买入吃 ask，对冲卖出吃 taker bid
		sigMaker, curM = sig.Maker.Ask, curMaker.Ask
		sigTaker, curT = sig.Taker.Bid, curTaker.Bid
	} else {
		sigMaker, curM = sig.Maker.Bid, curMaker.Bid
		sigTaker, curT = sig.Taker.Ask, curTaker.Ask
	}
	return withinPct(sigMaker, curM, c.cfg.PriceTolerancePct) &&
		withinPct(sigTaker, curT, c.cfg.PriceTolerancePct)
}

func withinPct(ref, cur, pct decimal.Decimal) bool {
	if !ref.IsPositive() {
		return false
	}
	drift := cur.Sub(ref).Abs().Div(ref).Mul(decimal.NewFromInt(100))
	return drift.LessThanOrEqual(pct)
}

// makerPrice 挂单价贴近盘口但不穿价：买挂 ask-tick，卖挂 bid+tick
func (c *Coordinator) makerPrice(maker domain.Quote, side domain.Side) decimal.Decimal {
	if side == domain.SideBuy {
		return maker.Ask.Sub(c.cfg.TickSize)
	}
	return maker.Bid.Add(c.cfg.TickSize)
}

func (c *Coordinator) placeMaker(ctx context.Context, side domain.Side, price, size decimal.Decimal) (*domain.Order, error) {
	return c.maker.PlaceLimitOrder(ctx, ports.LimitOrderSpec{
		Side:     side,
		Price:    price,
		Size:     size,
		PostOnly: true,
		ClientID: uuid.NewString(),
	})
}

// waitForFill 轮询 maker 腿订单直到全部成交或超时。
// 超时撤单后以最终回报的已成交量为准（撤单与成交存在竞态，
// CANCELED 订单完全可能带着部分成交）。
func (c *Coordinator) waitForFill(ctx context.Context, order *domain.Order) (decimal.Decimal, error) {
	c.setState(StateMakerFilling)

	deadline := time.NewTimer(c.cfg.FillTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.cancelAndSettle(order)
		case <-deadline.C:
			return c.cancelAndSettle(order)
		case <-ticker.C:
			cur, err := c.maker.GetOrder(ctx, order.OrderID)
			if err != nil {
				log.Warnf("查询 maker 订单失败: %v", err)
				continue
			}
			if cur.IsFilled() {
				return cur.ExecutedSize(), nil
			}
			if cur.IsFinalStatus() {
				// 被场所撤销/拒绝，按已成交量结算
				return cur.ExecutedSize(), nil
			}
		}
	}
}

// cancelAndSettle 撤销未成交部分并返回最终已成交量。
// 撤单后必须拿到订单终态才能知道有多少成交需要对冲，
// 重试耗尽仍拿不到即按 ErrExposureUnknown 致命上抛。
func (c *Coordinator) cancelAndSettle(order *domain.Order) (decimal.Decimal, error) {
	c.setState(StateCancelling)

	// 撤单走独立 context：即使外层已取消也要把单撤掉
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	retry := c.cfg.HedgeRetry
	var lastErr error
	for attempt := 0; attempt < retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retry.Delay(attempt - 1)):
			case <-ctx.Done():
				return decimal.Zero, errors.Wrapf(ErrExposureUnknown,
					"订单 %s 撤单结算中断: %v", order.OrderID, ctx.Err())
			}
		}

		if err := c.maker.CancelOrder(ctx, order.OrderID); err != nil && !errors.Is(err, ports.ErrOrderFinal) {
			lastErr = err
			log.Warnf("撤销 maker 订单 %s 失败 (第 %d 次): %v", order.OrderID, attempt+1, err)
			continue
		}
		final, err := c.maker.GetOrder(ctx, order.OrderID)
		if err != nil {
			lastErr = err
			log.Warnf("查询 maker 订单 %s 终态失败 (第 %d 次): %v", order.OrderID, attempt+1, err)
			continue
		}
		return final.ExecutedSize(), nil
	}

	return decimal.Zero, errors.Wrapf(ErrExposureUnknown, "订单 %s 终态未知: %v", order.OrderID, lastErr)
}

// hedge 在 taker 场所对冲指定数量，激进限价控制滑点，重试有界。
// 返回首笔成交的参考价。重试耗尽返回 ErrHedgeFailed。
func (c *Coordinator) hedge(ctx context.Context, side domain.Side, qty decimal.Decimal) (decimal.Decimal, error) {
	remaining := qty
	var refPrice decimal.Decimal

	for attempt := 0; attempt < c.cfg.HedgeRetry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.cfg.HedgeRetry.Delay(attempt - 1)):
			case <-ctx.Done():
				return refPrice, errors.Wrapf(ErrHedgeFailed, "对冲中断，剩余 %s: %v", remaining, ctx.Err())
			}
		}

		price := c.hedgeLimitPrice(side)
		ord, err := c.taker.PlaceMarketOrder(ctx, ports.MarketOrderSpec{
			Side:       side,
			Size:       remaining,
			LimitPrice: price,
			ClientID:   uuid.NewString(),
		})
		if err != nil {
			log.Warnf("对冲下单失败 (第 %d 次): %v", attempt+1, err)
			continue
		}

		executed := ord.ExecutedSize()
		if executed.IsPositive() {
			if refPrice.IsZero() {
				refPrice = ord.FilledPrice
				if refPrice.IsZero() {
					refPrice = price
				}
			}
			remaining = remaining.Sub(executed)
		}
		if !remaining.IsPositive() {
			return refPrice, nil
		}
		log.Warnf("对冲部分成交，剩余 %s (第 %d 次)", remaining, attempt+1)
	}

	return refPrice, errors.Wrapf(ErrHedgeFailed, "剩余未对冲数量 %s", remaining)
}

// hedgeLimitPrice 对冲腿的激进限价：卖压 bid 下方，买抬 ask 上方
func (c *Coordinator) hedgeLimitPrice(side domain.Side) decimal.Decimal {
	taker, ok := c.cache.Quote(domain.VenueTaker)
	if !ok || !taker.Ready() {
		return decimal.Zero // 无行情时退化为纯市价
	}
	slip := c.cfg.HedgeSlippagePct.Div(decimal.NewFromInt(100))
	if side == domain.SideSell {
		return taker.Bid.Mul(decimal.NewFromInt(1).Sub(slip))
	}
	return taker.Ask.Mul(decimal.NewFromInt(1).Add(slip))
}
