package rules

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// defaultPruneInterval 冷却条目的清理周期
const defaultPruneInterval = 30 * time.Second

// cooldownEntry 冷却条目：记录最近一次触发时间与当时的冷却时长。
// 不做持久化，进程重启即丢失——冷却只是软性防刷措施。
type cooldownEntry struct {
	lastTrigger time.Time
	cooldown    time.Duration
}

// CooldownTracker 按规则ID跟踪冷却状态。
// 检查+记录必须成对原子执行（CheckAndRecord），
// 避免两个并发事件同时绕过同一条冷却。
type CooldownTracker struct {
	mu      sync.Mutex
	entries map[string]cooldownEntry
	now     func() time.Time

	pruneInterval time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// NewCooldownTracker 创建冷却跟踪器并启动周期清理
func NewCooldownTracker() *CooldownTracker {
	return newCooldownTracker(defaultPruneInterval, time.Now)
}

func newCooldownTracker(pruneInterval time.Duration, now func() time.Time) *CooldownTracker {
	t := &CooldownTracker{
		entries:       make(map[string]cooldownEntry),
		now:           now,
		pruneInterval: pruneInterval,
		stopCh:        make(chan struct{}),
	}
	t.wg.Add(1)
	go t.pruneLoop()
	return t
}

// IsOnCooldown 判断规则是否仍在冷却期内
func (t *CooldownTracker) IsOnCooldown(ruleID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, exists := t.entries[ruleID]
	if !exists {
		return false
	}
	return t.now().Sub(entry.lastTrigger) < entry.cooldown
}

// RecordTrigger 记录一次触发。必须在匹配时刻调用，
// 先于任何配置的延迟——延迟不豁免冷却。
func (t *CooldownTracker) RecordTrigger(ruleID string, cooldown time.Duration) {
	if cooldown <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[ruleID] = cooldownEntry{lastTrigger: t.now(), cooldown: cooldown}
}

// CheckAndRecord 原子地检查冷却并记录触发时间。
// 返回true表示允许触发（已记录），false表示仍在冷却期内。
func (t *CooldownTracker) CheckAndRecord(ruleID string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if entry, exists := t.entries[ruleID]; exists {
		if now.Sub(entry.lastTrigger) < entry.cooldown {
			return false
		}
	}
	t.entries[ruleID] = cooldownEntry{lastTrigger: now, cooldown: cooldown}
	return true
}

// Remaining 剩余冷却时间，不在冷却期内返回0
func (t *CooldownTracker) Remaining(ruleID string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, exists := t.entries[ruleID]
	if !exists {
		return 0
	}
	remaining := entry.cooldown - t.now().Sub(entry.lastTrigger)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Forget 删除规则的冷却记录（规则被删除时调用）
func (t *CooldownTracker) Forget(ruleID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, ruleID)
}

// Size 当前冷却条目数量
func (t *CooldownTracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Close 停止周期清理
func (t *CooldownTracker) Close() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
	t.wg.Wait()
}

// pruneLoop 周期清理冷却期已完全结束的条目，
// 限制长时间运行进程的内存占用
func (t *CooldownTracker) pruneLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.prune()
		}
	}
}

// prune 清理过期条目
func (t *CooldownTracker) prune() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for ruleID, entry := range t.entries {
		if now.Sub(entry.lastTrigger) >= entry.cooldown {
			delete(t.entries, ruleID)
			removed++
		}
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Int("remaining", len(t.entries)).Msg("冷却条目清理完成")
	}
}
