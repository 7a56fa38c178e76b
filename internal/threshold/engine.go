package threshold

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/arbbot/goarb/internal/domain"
)

var log = logrus.WithField("module", "threshold")

// Config 阈值引擎配置
type Config struct {
	Adaptive       bool            // false 时固定使用 LongOpen/ShortOpen
	LongOpen       decimal.Decimal // 固定模式阈值 / 自适应模式的初始参考
	ShortOpen      decimal.Decimal
	WindowSize     int             // 价差采样窗口容量
	UpdateInterval time.Duration   // 两次重算之间的最小间隔
	Percentile     float64         // 分位数（0-100），如 80 表示只做最宽的 20% 价差
	MinThreshold   decimal.Decimal // 重算结果下限
	MaxThreshold   decimal.Decimal // 重算结果上限
	MinSamples     int             // 首次重算所需的最少样本数
}

// Engine 自适应开仓阈值引擎。
//
// 维护一个有界的价差采样窗口，按固定节奏把开仓阈值重算为窗口分位数，
// 再夹到 [MinThreshold, MaxThreshold]。样本不足时维持当前阈值。
// 冷启动阈值取 MaxThreshold：历史为空时宁可错过也不乱开仓。
type Engine struct {
	mu         sync.Mutex
	cfg        Config
	longWin    []decimal.Decimal // 环形窗口
	shortWin   []decimal.Decimal
	head       int
	count      int
	longOpen   decimal.Decimal
	shortOpen  decimal.Decimal
	lastUpdate time.Time
	updates    int
}

// New 创建阈值引擎。自适应模式下初始阈值为 MaxThreshold。
func New(cfg Config) (*Engine, error) {
	if cfg.Adaptive {
		if cfg.WindowSize <= 0 {
			return nil, errors.New("threshold: window size must be positive")
		}
		if cfg.Percentile < 0 || cfg.Percentile > 100 {
			return nil, errors.Errorf("threshold: percentile %v out of range", cfg.Percentile)
		}
		if cfg.MinThreshold.GreaterThan(cfg.MaxThreshold) {
			return nil, errors.New("threshold: min bound above max bound")
		}
		if cfg.MinSamples <= 0 {
			cfg.MinSamples = 100
		}
	}

	e := &Engine{cfg: cfg}
	if cfg.Adaptive {
		e.longWin = make([]decimal.Decimal, cfg.WindowSize)
		e.shortWin = make([]decimal.Decimal, cfg.WindowSize)
		e.longOpen = cfg.MaxThreshold
		e.shortOpen = cfg.MaxThreshold
	} else {
		e.longOpen = cfg.LongOpen
		e.shortOpen = cfg.ShortOpen
	}
	return e, nil
}

// Observe 记录一次价差采样。窗口满后覆盖最旧样本。
func (e *Engine) Observe(obs domain.SpreadObservation) {
	if !e.cfg.Adaptive {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.longWin[e.head] = obs.Long
	e.shortWin[e.head] = obs.Short
	e.head = (e.head + 1) % e.cfg.WindowSize
	if e.count < e.cfg.WindowSize {
		e.count++
	}
}

// Thresholds 返回当前生效的开仓阈值（长、短）
func (e *Engine) Thresholds() (long, short decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.longOpen, e.shortOpen
}

// MaybeUpdate 满足更新节奏且样本足够时重算阈值，返回是否发生了变化。
// 固定模式下恒为 no-op。
func (e *Engine) MaybeUpdate(now time.Time) bool {
	if !e.cfg.Adaptive {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.lastUpdate.IsZero() && now.Sub(e.lastUpdate) < e.cfg.UpdateInterval {
		return false
	}
	if e.count < e.cfg.MinSamples {
		return false
	}
	return e.recalcLocked(now)
}

// ForceUpdate 忽略更新节奏立即重算（样本不足仍然跳过）
func (e *Engine) ForceUpdate(now time.Time) bool {
	if !e.cfg.Adaptive {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.count < e.cfg.MinSamples {
		return false
	}
	return e.recalcLocked(now)
}

func (e *Engine) recalcLocked(now time.Time) bool {
	newLong := clamp(percentile(e.longWin[:e.sampleLen()], e.cfg.Percentile), e.cfg.MinThreshold, e.cfg.MaxThreshold)
	newShort := clamp(percentile(e.shortWin[:e.sampleLen()], e.cfg.Percentile), e.cfg.MinThreshold, e.cfg.MaxThreshold)
	e.lastUpdate = now

	changed := !newLong.Equal(e.longOpen) || !newShort.Equal(e.shortOpen)
	if changed {
		log.Infof("阈值更新: long %s -> %s, short %s -> %s (样本=%d)",
			e.longOpen, newLong, e.shortOpen, newShort, e.count)
	}
	e.longOpen = newLong
	e.shortOpen = newShort
	e.updates++
	return changed
}

func (e *Engine) sampleLen() int {
	if e.count < e.cfg.WindowSize {
		return e.count
	}
	return e.cfg.WindowSize
}

// Stats 阈值引擎运行统计（状态接口与限流日志用）
type Stats struct {
	Adaptive    bool
	SampleCount int
	Updates     int
	LongOpen    decimal.Decimal
	ShortOpen   decimal.Decimal
	LongMean    decimal.Decimal
	ShortMean   decimal.Decimal
	LastUpdate  time.Time
}

// Snapshot 返回当前统计快照
func (e *Engine) Snapshot() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Stats{
		Adaptive:    e.cfg.Adaptive,
		SampleCount: e.count,
		Updates:     e.updates,
		LongOpen:    e.longOpen,
		ShortOpen:   e.shortOpen,
		LastUpdate:  e.lastUpdate,
	}
	if e.cfg.Adaptive && e.count > 0 {
		s.LongMean = mean(e.longWin[:e.sampleLen()])
		s.ShortMean = mean(e.shortWin[:e.sampleLen()])
	}
	return s
}

// percentile 线性插值分位数。调用方保证 samples 非空。
func percentile(samples []decimal.Decimal, p float64) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := decimal.NewFromFloat(rank - float64(lo))
	return sorted[lo].Add(sorted[lo+1].Sub(sorted[lo]).Mul(frac))
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

func mean(samples []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, s := range samples {
		sum = sum.Add(s)
	}
	return sum.Div(decimal.NewFromInt(int64(len(samples))))
}
