package position

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// CloseParams 某一持仓时长档位下的平仓参数
type CloseParams struct {
	Multiplier decimal.Decimal // 平仓阈值 = 开仓阈值 * Multiplier
	MinSpread  decimal.Decimal // 平仓阈值下限（可为零甚至负数，强制离场档）
}

// Threshold 计算该档位下的实际平仓阈值
func (p CloseParams) Threshold(openThreshold decimal.Decimal) decimal.Decimal {
	t := openThreshold.Mul(p.Multiplier)
	if t.LessThan(p.MinSpread) {
		return p.MinSpread
	}
	return t
}

// Stage 持仓时长档位：持仓达到 After 后启用 Params
type Stage struct {
	After  time.Duration
	Params CloseParams
}

// CloseStrategy 按持仓时长递进放宽的平仓策略。
// 持仓越久参数越宽松，保证最终能离场（末档应配置为零阈值）。
type CloseStrategy struct {
	base   CloseParams
	stages []Stage
}

// NewCloseStrategy 创建平仓策略。stages 按 After 升序排序后保存。
func NewCloseStrategy(base CloseParams, stages []Stage) *CloseStrategy {
	sorted := make([]Stage, len(stages))
	copy(sorted, stages)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].After < sorted[j].After })
	return &CloseStrategy{base: base, stages: sorted}
}

// DefaultCloseStrategy 默认档位：
//
//	< 1h:  multiplier 0.10, min spread 0.15
//	1-2h:  multiplier 0.08, min spread 0.10
//	2-3h:  multiplier 0.05, min spread 0
//	>= 3h: multiplier 0,    min spread 0（无条件离场）
func DefaultCloseStrategy() *CloseStrategy {
	return NewCloseStrategy(
		CloseParams{
			Multiplier: decimal.NewFromFloat(0.10),
			MinSpread:  decimal.NewFromFloat(0.15),
		},
		[]Stage{
			{After: time.Hour, Params: CloseParams{
				Multiplier: decimal.NewFromFloat(0.08),
				MinSpread:  decimal.NewFromFloat(0.10),
			}},
			{After: 2 * time.Hour, Params: CloseParams{
				Multiplier: decimal.NewFromFloat(0.05),
				MinSpread:  decimal.Zero,
			}},
			{After: 3 * time.Hour, Params: CloseParams{
				Multiplier: decimal.Zero,
				MinSpread:  decimal.Zero,
			}},
		},
	)
}

// StageFor 返回给定持仓时长下生效的平仓参数及档位序号（0 为基础档）
func (s *CloseStrategy) StageFor(holding time.Duration) (CloseParams, int) {
	params := s.base
	stage := 0
	for i, st := range s.stages {
		if holding >= st.After {
			params = st.Params
			stage = i + 1
		}
	}
	return params, stage
}
