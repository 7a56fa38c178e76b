package executor

import (
	"time"
)

// RetryPolicy 有界指数退避重试策略。
// 第 n 次失败后的等待为 BaseDelay << min(n, MaxShift)，n 从 0 计。
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxShift    uint
}

// DefaultHedgeRetry 对冲腿默认重试：3 次，2s/4s/8s
func DefaultHedgeRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxShift: 3}
}

// Delay 返回第 attempt 次失败后的退避时长
func (p RetryPolicy) Delay(attempt int) time.Duration {
	shift := uint(attempt)
	if shift > p.MaxShift {
		shift = p.MaxShift
	}
	return p.BaseDelay << shift
}
