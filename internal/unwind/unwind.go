package unwind

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/arbbot/goarb/internal/domain"
	"github.com/arbbot/goarb/internal/executor"
	"github.com/arbbot/goarb/internal/marketstate"
	"github.com/arbbot/goarb/internal/ports"
)

var log = logrus.WithField("module", "unwind")

// ErrIncomplete 收尾完成后仍有残余持仓，需要人工介入
var ErrIncomplete = errors.New("unwind: residual position remains")

// Config 紧急收尾配置
type Config struct {
	Tolerance   decimal.Decimal // 视为已平的持仓容差
	SlippagePct decimal.Decimal // 平仓市价单的激进限价滑点（百分比）
	Retry       executor.RetryPolicy
}

// Coordinator 紧急收尾协调器：撤掉所有挂单，把两个场所的持仓全部平掉。
// 停机路径和对冲失败路径共用这一个出口。
type Coordinator struct {
	maker ports.VenueConnector
	taker ports.VenueConnector
	cache *marketstate.QuoteCache // 可为 nil，此时平仓单不带限价
	cfg   Config
}

// New 创建收尾协调器
func New(maker, taker ports.VenueConnector, cache *marketstate.QuoteCache, cfg Config) *Coordinator {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = executor.RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxShift: 3}
	}
	return &Coordinator{maker: maker, taker: taker, cache: cache, cfg: cfg}
}

// Run 执行完整收尾流程。残余持仓返回 ErrIncomplete。
func (u *Coordinator) Run(ctx context.Context) error {
	log.Info("紧急收尾开始：撤单并平掉全部持仓")

	u.cancelAll(ctx, u.maker)
	u.cancelAll(ctx, u.taker)

	venues := []struct {
		role domain.VenueRole
		conn ports.VenueConnector
	}{
		{domain.VenueMaker, u.maker},
		{domain.VenueTaker, u.taker},
	}

	for attempt := 0; attempt < u.cfg.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(u.cfg.Retry.Delay(attempt - 1)):
			case <-ctx.Done():
				return errors.Wrap(ErrIncomplete, "收尾被中断")
			}
		}

		residual := false
		for _, v := range venues {
			pos, err := v.conn.GetPosition(ctx)
			if err != nil {
				log.Warnf("查询 %s 持仓失败: %v", v.conn.Name(), err)
				residual = true
				continue
			}
			if pos.Abs().LessThanOrEqual(u.cfg.Tolerance) {
				continue
			}
			residual = true
			u.flatten(ctx, v.role, v.conn, pos)
		}

		if !residual {
			u.report(ctx)
			log.Info("紧急收尾完成：两场所均已平仓")
			return nil
		}
	}

	u.report(ctx)
	return errors.Wrap(ErrIncomplete, "重试耗尽")
}

// cancelAll 撤销场所上全部挂单。失败只告警，平仓流程继续。
func (u *Coordinator) cancelAll(ctx context.Context, conn ports.VenueConnector) {
	orders, err := conn.OpenOrders(ctx)
	if err != nil {
		log.Warnf("查询 %s 挂单失败: %v", conn.Name(), err)
		return
	}
	for _, o := range orders {
		if err := conn.CancelOrder(ctx, o.OrderID); err != nil && !errors.Is(err, ports.ErrOrderFinal) {
			log.Warnf("撤销 %s 订单 %s 失败: %v", conn.Name(), o.OrderID, err)
		}
	}
	if len(orders) > 0 {
		log.Infof("已撤销 %s 挂单 %d 笔", conn.Name(), len(orders))
	}
}

// flatten 用市价/IOC 单平掉带符号持仓
func (u *Coordinator) flatten(ctx context.Context, role domain.VenueRole, conn ports.VenueConnector, pos decimal.Decimal) {
	side := domain.SideSell
	if pos.IsNegative() {
		side = domain.SideBuy
	}
	spec := ports.MarketOrderSpec{
		Side:       side,
		Size:       pos.Abs(),
		LimitPrice: u.limitPrice(role, side),
		ClientID:   uuid.NewString(),
	}
	log.Infof("平仓 %s: %s %s", conn.Name(), side, spec.Size)
	if _, err := conn.PlaceMarketOrder(ctx, spec); err != nil {
		log.Warnf("平仓 %s 失败: %v", conn.Name(), err)
	}
}

func (u *Coordinator) limitPrice(role domain.VenueRole, side domain.Side) decimal.Decimal {
	if u.cache == nil {
		return decimal.Zero
	}
	q, ok := u.cache.Quote(role)
	if !ok || !q.Ready() {
		return decimal.Zero
	}
	slip := u.cfg.SlippagePct.Div(decimal.NewFromInt(100))
	if side == domain.SideSell {
		return q.Bid.Mul(decimal.NewFromInt(1).Sub(slip))
	}
	return q.Ask.Mul(decimal.NewFromInt(1).Add(slip))
}

// report 输出最终持仓报告
func (u *Coordinator) report(ctx context.Context) {
	for _, conn := range []ports.VenueConnector{u.maker, u.taker} {
		pos, err := conn.GetPosition(ctx)
		if err != nil {
			log.Errorf("收尾报告: %s 持仓查询失败: %v", conn.Name(), err)
			continue
		}
		if pos.Abs().GreaterThan(u.cfg.Tolerance) {
			log.Errorf("收尾报告: %s 残余持仓 %s，需要人工处理", conn.Name(), pos)
		} else {
			log.Infof("收尾报告: %s 已平仓", conn.Name())
		}
	}
}
