package threshold

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbbot/goarb/internal/domain"
)

func adaptiveConfig() Config {
	return Config{
		Adaptive:       true,
		WindowSize:     1000,
		UpdateInterval: time.Minute,
		Percentile:     50,
		MinThreshold:   decimal.NewFromFloat(0.1),
		MaxThreshold:   decimal.NewFromFloat(1.0),
		MinSamples:     100,
	}
}

func observeN(e *Engine, n int, long, short decimal.Decimal) {
	at := time.Now()
	for i := 0; i < n; i++ {
		e.Observe(domain.SpreadObservation{Long: long, Short: short, At: at})
	}
}

func TestColdStartUsesMaxBound(t *testing.T) {
	e, err := New(adaptiveConfig())
	require.NoError(t, err)

	long, short := e.Thresholds()
	assert.True(t, long.Equal(decimal.NewFromFloat(1.0)), "冷启动 long=%s", long)
	assert.True(t, short.Equal(decimal.NewFromFloat(1.0)))
}

func TestNoUpdateBelowSampleFloor(t *testing.T) {
	e, err := New(adaptiveConfig())
	require.NoError(t, err)

	observeN(e, 99, decimal.NewFromFloat(0.3), decimal.NewFromFloat(0.3))
	assert.False(t, e.MaybeUpdate(time.Now()))

	long, _ := e.Thresholds()
	assert.True(t, long.Equal(decimal.NewFromFloat(1.0)), "样本不足阈值不得变化")
}

func TestUpdateAtSampleFloor(t *testing.T) {
	e, err := New(adaptiveConfig())
	require.NoError(t, err)

	observeN(e, 100, decimal.NewFromFloat(0.3), decimal.NewFromFloat(0.5))
	assert.True(t, e.MaybeUpdate(time.Now()))

	long, short := e.Thresholds()
	assert.True(t, long.Equal(decimal.NewFromFloat(0.3)), "long=%s", long)
	assert.True(t, short.Equal(decimal.NewFromFloat(0.5)), "short=%s", short)
}

func TestUpdateRespectsInterval(t *testing.T) {
	e, err := New(adaptiveConfig())
	require.NoError(t, err)

	now := time.Now()
	observeN(e, 200, decimal.NewFromFloat(0.3), decimal.NewFromFloat(0.3))
	require.True(t, e.MaybeUpdate(now))

	observeN(e, 200, decimal.NewFromFloat(0.8), decimal.NewFromFloat(0.8))
	assert.False(t, e.MaybeUpdate(now.Add(30*time.Second)), "间隔未到不重算")
	assert.True(t, e.MaybeUpdate(now.Add(61*time.Second)))
}

func TestThresholdClampedToBounds(t *testing.T) {
	e, err := New(adaptiveConfig())
	require.NoError(t, err)

	// 全部样本低于下限
	observeN(e, 150, decimal.NewFromFloat(0.01), decimal.NewFromFloat(5.0))
	e.ForceUpdate(time.Now())

	long, short := e.Thresholds()
	assert.True(t, long.Equal(decimal.NewFromFloat(0.1)), "夹到下限, long=%s", long)
	assert.True(t, short.Equal(decimal.NewFromFloat(1.0)), "夹到上限, short=%s", short)
}

func TestPercentileSelectsWideSpreads(t *testing.T) {
	cfg := adaptiveConfig()
	cfg.Percentile = 80
	e, err := New(cfg)
	require.NoError(t, err)

	// 0.00 .. 0.99 均匀分布，p80 应接近 0.79
	for i := 0; i < 100; i++ {
		v := decimal.NewFromInt(int64(i)).Div(decimal.NewFromInt(100))
		e.Observe(domain.SpreadObservation{Long: v, Short: v, At: time.Now()})
	}
	require.True(t, e.ForceUpdate(time.Now()))

	long, _ := e.Thresholds()
	f, _ := long.Float64()
	assert.InDelta(t, 0.792, f, 0.01)
}

func TestWindowEvictsOldSamples(t *testing.T) {
	cfg := adaptiveConfig()
	cfg.WindowSize = 100
	e, err := New(cfg)
	require.NoError(t, err)

	observeN(e, 100, decimal.NewFromFloat(0.2), decimal.NewFromFloat(0.2))
	// 新样本完全覆盖窗口
	observeN(e, 100, decimal.NewFromFloat(0.6), decimal.NewFromFloat(0.6))
	require.True(t, e.ForceUpdate(time.Now()))

	long, _ := e.Thresholds()
	assert.True(t, long.Equal(decimal.NewFromFloat(0.6)), "旧样本应被逐出, long=%s", long)
}

func TestFixedModeIsNoOp(t *testing.T) {
	e, err := New(Config{
		LongOpen:  decimal.NewFromFloat(0.2),
		ShortOpen: decimal.NewFromFloat(0.25),
	})
	require.NoError(t, err)

	observeN(e, 500, decimal.NewFromFloat(0.9), decimal.NewFromFloat(0.9))
	assert.False(t, e.MaybeUpdate(time.Now()))

	long, short := e.Thresholds()
	assert.True(t, long.Equal(decimal.NewFromFloat(0.2)))
	assert.True(t, short.Equal(decimal.NewFromFloat(0.25)))
}

func TestInvalidConfig(t *testing.T) {
	_, err := New(Config{Adaptive: true, WindowSize: 0})
	assert.Error(t, err)

	cfg := adaptiveConfig()
	cfg.Percentile = 101
	_, err = New(cfg)
	assert.Error(t, err)

	cfg = adaptiveConfig()
	cfg.MinThreshold = decimal.NewFromFloat(2.0)
	_, err = New(cfg)
	assert.Error(t, err)
}
