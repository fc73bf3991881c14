package errors

import (
	"sync"
	"time"
)

// 超过该时长未再出现的调用栈会被清理
const staleAfter = 24 * time.Hour

// rateLimiter 基于调用栈的上报限流器, 同一key在silent内只放行一次
type rateLimiter struct {
	lock      sync.Mutex
	silent    time.Duration
	now       func() time.Time
	lastSweep time.Time
	buffer    map[string]*errorStats
}

func newRateLimiter(silent time.Duration) *rateLimiter {
	return &rateLimiter{
		silent: silent,
		now:    time.Now,
		buffer: map[string]*errorStats{},
	}
}

type errorStats struct {
	// 总计的发生次数
	totalOccurCount int
	// 上次报告过后被抑制的次数
	suppressedSinceLastReport int
	lastReportTime            time.Time
	lastOccurTime             time.Time
}

// Allow records one occurrence for key and reports whether it must be suppressed.
// The returned stats are a snapshot taken before this occurrence was recorded.
func (b *rateLimiter) Allow(key string) (limited bool, snapshot errorStats) {
	b.lock.Lock()
	defer b.lock.Unlock()
	now := b.now()
	b.sweep(now)
	stats, ok := b.buffer[key]
	if !ok {
		stats = &errorStats{}
		b.buffer[key] = stats
	}
	snapshot = *stats
	stats.totalOccurCount++
	stats.lastOccurTime = now
	if !stats.lastReportTime.IsZero() && now.Sub(stats.lastReportTime) < b.silent {
		stats.suppressedSinceLastReport++
		return true, snapshot
	}
	stats.suppressedSinceLastReport = 0
	stats.lastReportTime = now
	return false, snapshot
}

func (b *rateLimiter) sweep(now time.Time) {
	if now.Sub(b.lastSweep) < staleAfter {
		return
	}
	b.lastSweep = now
	for k, s := range b.buffer {
		if now.Sub(s.lastOccurTime) >= staleAfter {
			delete(b.buffer, k)
		}
	}
}

func (b *rateLimiter) size() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.buffer)
}
