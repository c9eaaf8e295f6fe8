package rules

import (
	"sync/atomic"
	"time"
)

// EngineMetrics 引擎运行指标快照
type EngineMetrics struct {
	EventsProcessed  int64     `json:"events_processed"`
	RulesMatched     int64     `json:"rules_matched"`
	CooldownBlocked  int64     `json:"cooldown_blocked"`
	ActionsScheduled int64     `json:"actions_scheduled"`
	ActionsSucceeded int64     `json:"actions_succeeded"`
	ActionsFailed    int64     `json:"actions_failed"`
	ActionsCancelled int64     `json:"actions_cancelled"`
	LastEventAt      time.Time `json:"last_event_at"`
}

// engineCounters 原子计数器，热路径无锁
type engineCounters struct {
	eventsProcessed  atomic.Int64
	rulesMatched     atomic.Int64
	cooldownBlocked  atomic.Int64
	actionsScheduled atomic.Int64
	actionsSucceeded atomic.Int64
	actionsFailed    atomic.Int64
	actionsCancelled atomic.Int64
	lastEventUnixMs  atomic.Int64
}

// snapshot 导出指标快照
func (c *engineCounters) snapshot() EngineMetrics {
	m := EngineMetrics{
		EventsProcessed:  c.eventsProcessed.Load(),
		RulesMatched:     c.rulesMatched.Load(),
		CooldownBlocked:  c.cooldownBlocked.Load(),
		ActionsScheduled: c.actionsScheduled.Load(),
		ActionsSucceeded: c.actionsSucceeded.Load(),
		ActionsFailed:    c.actionsFailed.Load(),
		ActionsCancelled: c.actionsCancelled.Load(),
	}
	if ms := c.lastEventUnixMs.Load(); ms > 0 {
		m.LastEventAt = time.UnixMilli(ms)
	}
	return m
}
