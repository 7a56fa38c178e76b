package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote 单个场所的 BBO 快照（不可变值对象）。
// Bid/Ask 为零值表示该侧尚未观察到。
type Quote struct {
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	ObservedAt time.Time
}

// Ready 双侧报价均已观察到才可参与价差计算
func (q Quote) Ready() bool {
	return q.Bid.IsPositive() && q.Ask.IsPositive()
}

// Mid 中间价（仅用于日志展示）
func (q Quote) Mid() decimal.Decimal {
	if !q.Ready() {
		return decimal.Zero
	}
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

// LongSpread 做多价差：taker 买一价 - maker 卖一价。
// 为正表示在 maker 低买、taker 高卖有利可图。
func LongSpread(maker, taker Quote) decimal.Decimal {
	return taker.Bid.Sub(maker.Ask)
}

// ShortSpread 做空价差：maker 买一价 - taker 卖一价
func ShortSpread(maker, taker Quote) decimal.Decimal {
	return maker.Bid.Sub(taker.Ask)
}

// SpreadObservation 一次价差采样，阈值引擎的窗口元素
type SpreadObservation struct {
	Long  decimal.Decimal
	Short decimal.Decimal
	At    time.Time
}
