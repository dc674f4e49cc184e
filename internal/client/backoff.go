package client

import "time"

// Backoff 描述重连退避策略：第 n 次重连前等待 Base·2^(n-1)，封顶 Max，
// 连续失败 MaxAttempts 次后放弃。
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff 返回默认策略：1s 起步、16s 封顶、最多 5 次。
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 16 * time.Second, MaxAttempts: 5}
}

// Delay 计算第 attempt 次重连（从 1 开始计数）前的等待时长。
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Exhausted 判断第 attempt 次尝试是否已超出上限。
func (b Backoff) Exhausted(attempt int) bool {
	return attempt > b.MaxAttempts
}
