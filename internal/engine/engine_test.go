package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbbot/goarb/internal/domain"
	"github.com/arbbot/goarb/internal/executor"
	"github.com/arbbot/goarb/internal/marketstate"
	"github.com/arbbot/goarb/internal/position"
	"github.com/arbbot/goarb/internal/threshold"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

type fakeExecutor struct {
	signals []domain.Signal
	err     error
}

func (f *fakeExecutor) Execute(_ context.Context, sig domain.Signal) error {
	f.signals = append(f.signals, sig)
	return f.err
}

type fakePositionGetter struct {
	pos  decimal.Decimal
	err  error
	hits int
}

func (f *fakePositionGetter) GetPosition(_ context.Context) (decimal.Decimal, error) {
	f.hits++
	return f.pos, f.err
}

type engineFixture struct {
	cache   *marketstate.QuoteCache
	tracker *position.Tracker
	exec    *fakeExecutor
	makerPG *fakePositionGetter
	takerPG *fakePositionGetter
	eng     *Engine
}

func newEngineFixture(t *testing.T, cfg Config) *engineFixture {
	t.Helper()
	th, err := threshold.New(threshold.Config{
		LongOpen:  d(0.2),
		ShortOpen: d(0.2),
	})
	require.NoError(t, err)

	f := &engineFixture{
		cache:   marketstate.NewQuoteCache(),
		tracker: position.NewTracker(d(10)),
		exec:    &fakeExecutor{},
		makerPG: &fakePositionGetter{},
		takerPG: &fakePositionGetter{},
	}
	if cfg.OrderSize.IsZero() {
		cfg.OrderSize = d(1)
	}
	if cfg.MaxPosition.IsZero() {
		cfg.MaxPosition = d(10)
	}
	f.eng = New(cfg, f.cache, th, f.tracker, position.DefaultCloseStrategy(),
		f.exec, f.makerPG, f.takerPG, nil, nil)
	return f
}

func (f *engineFixture) setQuotes(now time.Time, makerBid, makerAsk, takerBid, takerAsk float64) {
	f.cache.Update(domain.VenueMaker, d(makerBid), d(makerAsk), now)
	f.cache.Update(domain.VenueTaker, d(takerBid), d(takerAsk), now)
}

func TestStepExecutesOpenSignal(t *testing.T) {
	f := newEngineFixture(t, Config{})
	now := time.Now()
	// long spread = 100.5 - 100.2 = 0.3 > 0.2
	f.setQuotes(now, 100.1, 100.2, 100.5, 100.6)

	require.NoError(t, f.eng.step(context.Background(), now))

	require.Len(t, f.exec.signals, 1)
	assert.Equal(t, domain.SignalOpenLong, f.exec.signals[0].Kind)
	assert.True(t, f.exec.signals[0].Size.Equal(d(1)))
}

func TestStepNoSignalBelowThreshold(t *testing.T) {
	f := newEngineFixture(t, Config{})
	now := time.Now()
	f.setQuotes(now, 100.1, 100.2, 100.3, 100.4)

	require.NoError(t, f.eng.step(context.Background(), now))
	assert.Empty(t, f.exec.signals)
}

func TestStepSkipsStaleQuotes(t *testing.T) {
	f := newEngineFixture(t, Config{QuoteMaxAge: time.Second})
	now := time.Now()
	f.setQuotes(now.Add(-5*time.Second), 100.1, 100.2, 100.5, 100.6)

	require.NoError(t, f.eng.step(context.Background(), now))
	assert.Empty(t, f.exec.signals, "过期行情不得触发执行")
}

func TestStepSkipsWhenCacheNotReady(t *testing.T) {
	f := newEngineFixture(t, Config{})
	now := time.Now()
	f.cache.Update(domain.VenueMaker, d(100.1), d(100.2), now)

	require.NoError(t, f.eng.step(context.Background(), now))
	assert.Empty(t, f.exec.signals)
}

func TestStepHedgeFailureIsFatal(t *testing.T) {
	f := newEngineFixture(t, Config{})
	f.exec.err = executor.ErrHedgeFailed
	now := time.Now()
	f.setQuotes(now, 100.1, 100.2, 100.5, 100.6)

	err := f.eng.step(context.Background(), now)
	require.ErrorIs(t, err, executor.ErrHedgeFailed)
}

func TestStepExposureUnknownIsFatal(t *testing.T) {
	f := newEngineFixture(t, Config{})
	f.exec.err = executor.ErrExposureUnknown
	now := time.Now()
	f.setQuotes(now, 100.1, 100.2, 100.5, 100.6)

	err := f.eng.step(context.Background(), now)
	require.ErrorIs(t, err, executor.ErrExposureUnknown, "敞口未知必须触发停机收尾")
}

func TestStepNonFatalExecErrorContinues(t *testing.T) {
	f := newEngineFixture(t, Config{})
	f.exec.err = assert.AnError
	now := time.Now()
	f.setQuotes(now, 100.1, 100.2, 100.5, 100.6)

	require.NoError(t, f.eng.step(context.Background(), now), "普通执行错误不致命")
}

func TestStepSyncsPositionsOnInterval(t *testing.T) {
	f := newEngineFixture(t, Config{
		PositionSyncInterval: time.Minute,
		PositionTolerance:    d(0.001),
	})
	f.makerPG.pos = d(2)
	f.takerPG.pos = d(-2)
	now := time.Now()
	f.setQuotes(now, 100.1, 100.2, 100.3, 100.4)

	require.NoError(t, f.eng.step(context.Background(), now))
	assert.Equal(t, 1, f.makerPG.hits)

	// 本地为空仓，场所报 2 手多头：采信场所
	pos := f.tracker.Position()
	assert.Equal(t, domain.PositionLong, pos.Side)
	assert.True(t, pos.Quantity.Equal(d(2)))

	// 间隔未到不再查询
	require.NoError(t, f.eng.step(context.Background(), now.Add(30*time.Second)))
	assert.Equal(t, 1, f.makerPG.hits)

	require.NoError(t, f.eng.step(context.Background(), now.Add(61*time.Second)))
	assert.Equal(t, 2, f.makerPG.hits)
}

func TestStepNakedPositionPausesTrading(t *testing.T) {
	f := newEngineFixture(t, Config{
		PositionTolerance: d(0.001),
		NakedCooloff:      time.Minute,
	})
	// 两腿同号 = 裸头寸
	f.tracker.SyncVenue(d(2), d(2), d(0.001))

	now := time.Now()
	f.setQuotes(now, 100.1, 100.2, 100.5, 100.6)

	require.NoError(t, f.eng.step(context.Background(), now))
	assert.Empty(t, f.exec.signals, "裸头寸期间不得交易")

	// 冷静期内继续静默
	require.NoError(t, f.eng.step(context.Background(), now.Add(30*time.Second)))
	assert.Empty(t, f.exec.signals)
}

// 状态接口在独立协程里调 Snapshot，与决策循环并发（-race 下跑才有意义）
func TestSnapshotConcurrentWithRun(t *testing.T) {
	f := newEngineFixture(t, Config{TickInterval: time.Millisecond})
	now := time.Now()
	f.setQuotes(now, 100.1, 100.2, 100.3, 100.4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.eng.Run(ctx) }()

	deadline := time.Now().Add(30 * time.Millisecond)
	for time.Now().Before(deadline) {
		f.eng.Snapshot()
		f.cache.Update(domain.VenueMaker, d(100.1), d(100.2), time.Now())
	}
	cancel()
	require.NoError(t, <-done)
	assert.Greater(t, f.eng.Snapshot().Cycles, uint64(0))
}

func TestSnapshotReflectsState(t *testing.T) {
	f := newEngineFixture(t, Config{})
	now := time.Now()
	f.setQuotes(now, 100.1, 100.2, 100.5, 100.6)
	require.NoError(t, f.eng.step(context.Background(), now))

	st := f.eng.Snapshot()
	assert.Equal(t, uint64(1), st.Cycles)
	assert.True(t, st.MakerQuote.Bid.Equal(d(100.1)))
	assert.False(t, st.Paused)
}
