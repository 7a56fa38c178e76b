package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/arbbot/goarb/internal/domain"
	"github.com/arbbot/goarb/internal/engine"
	"github.com/arbbot/goarb/internal/executor"
	"github.com/arbbot/goarb/internal/marketstate"
	"github.com/arbbot/goarb/internal/opsserver"
	"github.com/arbbot/goarb/internal/position"
	"github.com/arbbot/goarb/internal/recorder"
	"github.com/arbbot/goarb/internal/threshold"
	"github.com/arbbot/goarb/internal/unwind"
	"github.com/arbbot/goarb/internal/venue/feed"
	"github.com/arbbot/goarb/internal/venue/paper"
	"github.com/arbbot/goarb/pkg/config"
	"github.com/arbbot/goarb/pkg/logger"
	"github.com/arbbot/goarb/pkg/shutdown"
	"github.com/arbbot/goarb/pkg/statestore"
	"github.com/arbbot/goarb/pkg/syncgroup"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	dryRun := flag.Bool("dry-run", false, "强制 dry-run 模式（覆盖配置）")
	flag.Parse()

	// .env 不存在属正常情况
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.DryRun = true
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logger.Errorf("异常退出: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger.Infof("goarb 启动: symbol=%s dryRun=%v", cfg.Symbol, cfg.DryRun)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cache := marketstate.NewQuoteCache()

	th, err := threshold.New(threshold.Config{
		Adaptive:       cfg.Threshold.Adaptive,
		LongOpen:       cfg.Threshold.Long.Decimal,
		ShortOpen:      cfg.Threshold.Short.Decimal,
		WindowSize:     cfg.Threshold.WindowSize,
		UpdateInterval: cfg.Threshold.UpdateInterval.Duration,
		Percentile:     cfg.Threshold.Percentile,
		MinThreshold:   cfg.Threshold.Min.Decimal,
		MaxThreshold:   cfg.Threshold.Max.Decimal,
		MinSamples:     cfg.Threshold.MinSamples,
	})
	if err != nil {
		return err
	}

	tracker := position.NewTracker(cfg.MaxPosition.Decimal)

	store, err := statestore.Open(cfg.State.Dir)
	if err != nil {
		return err
	}
	if st, found, err := store.LoadState(); err != nil {
		logger.Warnf("恢复持仓状态失败: %v", err)
	} else if found {
		tracker.Restore(st)
	}

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		rec, err = recorder.Open(cfg.Recorder.Path)
		if err != nil {
			return err
		}
	}
	// nil 指针不能直接塞进接口
	var tradeRec executor.TradeRecorder
	var bboRec engine.BBORecorder
	if rec != nil {
		tradeRec = rec
		bboRec = rec
	}

	// 撮合连接器：当前内置 paper 模拟盘（行情为真实 WS/REST）。
	// TODO: edgex/lighter 下单适配器就绪后按 DryRun 开关切换真实连接器。
	maker := paper.New("maker", domain.VenueMaker, cache, 300*time.Millisecond)
	taker := paper.New("taker", domain.VenueTaker, cache, 0)

	exec := executor.NewCoordinator(maker, taker, cache, tracker, tradeRec, executor.Config{
		TickSize:          cfg.TickSize.Decimal,
		FillTimeout:       cfg.Execution.FillTimeout.Duration,
		PollInterval:      cfg.Execution.PollInterval.Duration,
		PriceTolerancePct: cfg.Execution.PriceTolerancePct.Decimal,
		HedgeSlippagePct:  cfg.Execution.HedgeSlippagePct.Decimal,
		HedgeRetry: executor.RetryPolicy{
			MaxAttempts: cfg.Execution.HedgeMaxAttempts,
			BaseDelay:   cfg.Execution.HedgeBaseDelay.Duration,
			MaxShift:    3,
		},
	})

	eng := engine.New(engine.Config{
		OrderSize:            cfg.OrderSize.Decimal,
		MaxPosition:          cfg.MaxPosition.Decimal,
		TickInterval:         cfg.Engine.TickInterval.Duration,
		QuoteMaxAge:          cfg.Engine.QuoteMaxAge.Duration,
		PositionSyncInterval: cfg.Engine.PositionSyncInterval.Duration,
		PositionTolerance:    cfg.Engine.PositionTolerance.Decimal,
		NakedCooloff:         cfg.Engine.NakedCooloff.Duration,
		StatusLogInterval:    cfg.Engine.StatusLogInterval.Duration,
		SkipLogInterval:      cfg.Engine.SkipLogInterval.Duration,
	}, cache, th, tracker, buildCloseStrategy(cfg.Close), exec, maker, taker, bboRec, store)

	sg := syncgroup.New()
	startFeeds(ctx, sg, cfg, cache)

	if cfg.Ops.Enabled {
		sg.Go(func() {
			if err := opsserver.New(cfg.Ops.Addr, eng).Run(ctx); err != nil {
				logger.Errorf("状态接口异常: %v", err)
			}
		})
	}

	// 收尾顺序：先平仓，再存状态，最后关资源
	mgr := shutdown.NewManager()
	uw := unwind.New(maker, taker, cache, unwind.Config{
		Tolerance:   cfg.Engine.PositionTolerance.Decimal,
		SlippagePct: cfg.Unwind.SlippagePct.Decimal,
		Retry: executor.RetryPolicy{
			MaxAttempts: cfg.Unwind.MaxAttempts,
			BaseDelay:   cfg.Unwind.BaseDelay.Duration,
			MaxShift:    3,
		},
	})
	mgr.OnShutdown("unwind", func(ctx context.Context) {
		if err := uw.Run(ctx); err != nil {
			logger.Errorf("紧急收尾未完成: %v", err)
		}
	})
	mgr.OnShutdown("statestore", func(context.Context) {
		if err := store.SaveState(tracker.Export()); err != nil {
			logger.Errorf("保存持仓状态失败: %v", err)
		}
		if err := store.Close(); err != nil {
			logger.Errorf("关闭状态库失败: %v", err)
		}
	})
	if rec != nil {
		mgr.OnShutdown("recorder", func(context.Context) {
			if err := rec.Close(); err != nil {
				logger.Errorf("关闭数据库失败: %v", err)
			}
		})
	}

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)

	errC := make(chan error, 1)
	sg.Go(func() {
		errC <- eng.Run(ctx)
	})

	var runErr error
	select {
	case s := <-sigC:
		logger.Infof("收到信号 %s，开始停机", s)
	case err := <-errC:
		if err != nil {
			runErr = err
			logger.Errorf("决策循环致命错误: %v", err)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Unwind.Timeout.Duration)
	defer shutdownCancel()
	mgr.Shutdown(shutdownCtx)

	sg.Wait()
	logger.Info("goarb 已退出")
	return runErr
}

// startFeeds 启动两个场所的行情协程（WS 主链路 + REST 兜底）
func startFeeds(ctx context.Context, sg *syncgroup.SyncGroup, cfg *config.Config, cache *marketstate.QuoteCache) {
	feeds := []struct {
		role domain.VenueRole
		fc   config.FeedConfig
	}{
		{domain.VenueMaker, cfg.Feeds.Maker},
		{domain.VenueTaker, cfg.Feeds.Taker},
	}
	for _, f := range feeds {
		if f.fc.WSURL != "" {
			ws := feed.NewWS(f.role, f.fc.WSURL, cache, f.fc.PingInterval.Duration)
			sg.Go(func() { ws.Run(ctx) })
		}
		if f.fc.RESTURL != "" {
			poller := feed.NewRESTPoller(f.role, f.fc.RESTURL, cache,
				f.fc.RESTPollInterval.Duration, cfg.Engine.QuoteMaxAge.Duration)
			sg.Go(func() { poller.Run(ctx) })
		}
	}
}

// buildCloseStrategy 从配置构建平仓策略，未配置档位时使用内置默认
func buildCloseStrategy(cc config.CloseConfig) *position.CloseStrategy {
	if len(cc.Stages) == 0 {
		return position.DefaultCloseStrategy()
	}
	stages := make([]position.Stage, 0, len(cc.Stages))
	for _, s := range cc.Stages {
		stages = append(stages, position.Stage{
			After: s.After.Duration,
			Params: position.CloseParams{
				Multiplier: s.Multiplier.Decimal,
				MinSpread:  s.MinSpread.Decimal,
			},
		})
	}
	return position.NewCloseStrategy(position.CloseParams{
		Multiplier: cc.Multiplier.Decimal,
		MinSpread:  cc.MinSpread.Decimal,
	}, stages)
}
