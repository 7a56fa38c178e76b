package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/arbbot/goarb/internal/detector"
	"github.com/arbbot/goarb/internal/domain"
	"github.com/arbbot/goarb/internal/executor"
	"github.com/arbbot/goarb/internal/marketstate"
	"github.com/arbbot/goarb/internal/ports"
	"github.com/arbbot/goarb/internal/position"
	"github.com/arbbot/goarb/internal/threshold"
)

var log = logrus.WithField("module", "engine")

// Config 决策循环配置
type Config struct {
	OrderSize            decimal.Decimal
	MaxPosition          decimal.Decimal
	TickInterval         time.Duration   // 无行情事件时的兜底唤醒间隔
	QuoteMaxAge          time.Duration   // 行情超过此时长未更新则暂停决策
	PositionSyncInterval time.Duration   // 与场所持仓对账的间隔
	PositionTolerance    decimal.Decimal // 对账/裸头寸判定容差
	NakedCooloff         time.Duration   // 检出裸头寸后的冷静期
	StatusLogInterval    time.Duration   // 运行状态日志间隔
	SkipLogInterval      time.Duration   // 机会被跳过的日志限流间隔
}

// Executor 执行器接口（由 executor.Coordinator 实现）
type Executor interface {
	Execute(ctx context.Context, sig domain.Signal) error
}

// BBORecorder 行情落库接口（可为 nil）
type BBORecorder interface {
	RecordBBO(maker, taker domain.Quote, long, short decimal.Decimal, at time.Time)
}

// StatePersister 持仓状态持久化接口（可为 nil）
type StatePersister interface {
	SaveState(s position.State) error
}

// Engine 套利决策循环。
//
// 单协程顺序执行：行情唤醒或兜底定时器触发一个决策周期，周期内依次做
// 持仓对账、裸头寸检查、价差采样、阈值更新、机会检测、执行。
// 执行是同步的，天然保证同一时刻只有一个执行周期在途。
type Engine struct {
	cfg        Config
	cache      *marketstate.QuoteCache
	thresholds *threshold.Engine
	tracker    *position.Tracker
	closes     *position.CloseStrategy
	exec       Executor
	maker      ports.PositionGetter
	taker      ports.PositionGetter
	recorder   BBORecorder
	persister  StatePersister

	lastSync      time.Time
	lastStatusLog time.Time
	lastSkipLog   time.Time
	lastStaleLog  time.Time

	// Snapshot 会被状态接口从其他协程读取，必须原子访问
	pausedUntil atomic.Int64 // unix 纳秒
	cycles      atomic.Uint64
}

// New 创建决策循环。recorder、persister 可为 nil。
func New(cfg Config, cache *marketstate.QuoteCache, thresholds *threshold.Engine,
	tracker *position.Tracker, closes *position.CloseStrategy, exec Executor,
	maker, taker ports.PositionGetter, recorder BBORecorder, persister StatePersister) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.QuoteMaxAge <= 0 {
		cfg.QuoteMaxAge = 10 * time.Second
	}
	return &Engine{
		cfg:        cfg,
		cache:      cache,
		thresholds: thresholds,
		tracker:    tracker,
		closes:     closes,
		exec:       exec,
		maker:      maker,
		taker:      taker,
		recorder:   recorder,
		persister:  persister,
	}
}

// Run 运行决策循环直到 ctx 取消或出现致命错误。
// 致命错误（对冲敞口）原样返回，由上层触发紧急收尾。
func (e *Engine) Run(ctx context.Context) error {
	log.Infof("决策循环启动: orderSize=%s maxPosition=%s", e.cfg.OrderSize, e.cfg.MaxPosition)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("决策循环收到停止信号")
			return nil
		case <-e.cache.WakeC():
		case <-ticker.C:
		}

		if err := e.step(ctx, time.Now()); err != nil {
			return err
		}
	}
}

// step 执行一个决策周期。返回非 nil 仅用于致命错误。
func (e *Engine) step(ctx context.Context, now time.Time) error {
	e.cycles.Add(1)

	if now.UnixNano() < e.pausedUntil.Load() {
		return nil
	}

	if e.cfg.PositionSyncInterval > 0 && now.Sub(e.lastSync) >= e.cfg.PositionSyncInterval {
		e.syncPositions(ctx, now)
	}

	if e.tracker.IsNaked(e.cfg.PositionTolerance) {
		makerLeg, takerLeg := e.tracker.Legs()
		log.Errorf("检出裸头寸: maker=%s taker=%s，暂停交易 %s", makerLeg, takerLeg, e.cfg.NakedCooloff)
		e.pausedUntil.Store(now.Add(e.cfg.NakedCooloff).UnixNano())
		return nil
	}

	maker, taker, ok := e.cache.Snapshot()
	if !ok {
		return nil
	}
	if !e.cache.IsFresh(now, e.cfg.QuoteMaxAge) {
		if now.Sub(e.lastStaleLog) >= time.Minute {
			log.Warnf("行情过期超过 %s，暂停决策", e.cfg.QuoteMaxAge)
			e.lastStaleLog = now
		}
		return nil
	}

	long := domain.LongSpread(maker, taker)
	short := domain.ShortSpread(maker, taker)
	e.thresholds.Observe(domain.SpreadObservation{Long: long, Short: short, At: now})
	e.thresholds.MaybeUpdate(now)

	if e.recorder != nil {
		e.recorder.RecordBBO(maker, taker, long, short, now)
	}
	e.maybeLogStatus(now, maker, taker, long, short)

	pos := e.tracker.Position()
	closeParams, stage := e.closes.StageFor(pos.HoldingDuration(now))
	longOpen, shortOpen := e.thresholds.Thresholds()

	sig := detector.Detect(maker, taker, pos, detector.Params{
		OrderSize:   e.cfg.OrderSize,
		MaxPosition: e.cfg.MaxPosition,
		LongOpen:    longOpen,
		ShortOpen:   shortOpen,
		Close:       closeParams,
	})

	if sig.Kind == domain.SignalNone {
		e.maybeLogSkip(now, sig.SkipReason)
		return nil
	}

	log.Infof("信号 %s: 数量=%s 价差=%s 阈值=%s 档位=%d",
		sig.Kind, sig.Size, sig.Spread, sig.Threshold, stage)

	if err := e.exec.Execute(ctx, sig); err != nil {
		if errors.Is(err, executor.ErrHedgeFailed) || errors.Is(err, executor.ErrExposureUnknown) {
			return errors.Wrap(err, "存在未对冲敞口")
		}
		log.Errorf("执行失败: %v", err)
	}
	e.persistState()
	return nil
}

// syncPositions 与两个场所对账持仓
func (e *Engine) syncPositions(ctx context.Context, now time.Time) {
	e.lastSync = now
	if e.maker == nil || e.taker == nil {
		return
	}

	makerPos, err := e.maker.GetPosition(ctx)
	if err != nil {
		log.Warnf("查询 maker 场所持仓失败: %v", err)
		return
	}
	takerPos, err := e.taker.GetPosition(ctx)
	if err != nil {
		log.Warnf("查询 taker 场所持仓失败: %v", err)
		return
	}

	if e.tracker.SyncVenue(makerPos, takerPos, e.cfg.PositionTolerance) {
		e.persistState()
	}
}

func (e *Engine) persistState() {
	if e.persister == nil {
		return
	}
	if err := e.persister.SaveState(e.tracker.Export()); err != nil {
		log.Errorf("持久化持仓状态失败: %v", err)
	}
}

func (e *Engine) maybeLogStatus(now time.Time, maker, taker domain.Quote, long, short decimal.Decimal) {
	if e.cfg.StatusLogInterval <= 0 || now.Sub(e.lastStatusLog) < e.cfg.StatusLogInterval {
		return
	}
	e.lastStatusLog = now

	pos := e.tracker.Position()
	stats := e.thresholds.Snapshot()
	log.Infof("状态: maker=%s/%s taker=%s/%s long=%s short=%s 阈值=%s/%s 持仓=%s %s 周期数=%d",
		maker.Bid, maker.Ask, taker.Bid, taker.Ask, long, short,
		stats.LongOpen, stats.ShortOpen, pos.Side, pos.Quantity, e.cycles.Load())
}

func (e *Engine) maybeLogSkip(now time.Time, reason string) {
	if reason == "no opportunity" || reason == "quotes not ready" {
		return
	}
	if e.cfg.SkipLogInterval > 0 && now.Sub(e.lastSkipLog) < e.cfg.SkipLogInterval {
		return
	}
	e.lastSkipLog = now
	log.Infof("机会被跳过: %s", reason)
}

// Status 对外暴露的运行状态快照
type Status struct {
	Position   domain.Position `json:"position"`
	Thresholds threshold.Stats `json:"thresholds"`
	MakerQuote domain.Quote    `json:"maker_quote"`
	TakerQuote domain.Quote    `json:"taker_quote"`
	Cycles     uint64          `json:"cycles"`
	Paused     bool            `json:"paused"`
}

// Snapshot 返回当前状态。状态接口从独立协程调用，读取走原子字段。
func (e *Engine) Snapshot() Status {
	maker, _ := e.cache.Quote(domain.VenueMaker)
	taker, _ := e.cache.Quote(domain.VenueTaker)
	return Status{
		Position:   e.tracker.Position(),
		Thresholds: e.thresholds.Snapshot(),
		MakerQuote: maker,
		TakerQuote: taker,
		Cycles:     e.cycles.Load(),
		Paused:     time.Now().UnixNano() < e.pausedUntil.Load(),
	}
}
