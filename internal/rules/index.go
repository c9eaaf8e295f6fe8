package rules

import (
	"sort"
	"sync"
)

// Index 按事件类型分桶的规则索引，只收录启用的规则。
// 每次规则集变更都整体重建——规则量最多低至数百条，
// 全量重建比增量维护简单且足够快。
type Index struct {
	buckets map[string][]*Rule
	total   int
	mu      sync.RWMutex
}

// NewIndex 创建规则索引
func NewIndex() *Index {
	return &Index{
		buckets: make(map[string][]*Rule),
	}
}

// Rebuild 用完整规则集重建索引
func (idx *Index) Rebuild(rules []*Rule) {
	buckets := make(map[string][]*Rule)
	total := 0
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		buckets[rule.EventType] = append(buckets[rule.EventType], rule)
		total++
	}

	// 桶内排序：优先级降序，相同优先级按ID升序，保证确定性顺序
	for _, bucket := range buckets {
		sort.SliceStable(bucket, func(i, j int) bool {
			if bucket[i].Priority != bucket[j].Priority {
				return bucket[i].Priority > bucket[j].Priority
			}
			return bucket[i].ID < bucket[j].ID
		})
	}

	idx.mu.Lock()
	idx.buckets = buckets
	idx.total = total
	idx.mu.Unlock()
}

// Candidates 获取指定事件类型的候选规则（已排序的副本）
func (idx *Index) Candidates(eventType string) []*Rule {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	bucket, exists := idx.buckets[eventType]
	if !exists {
		return nil
	}
	out := make([]*Rule, len(bucket))
	copy(out, bucket)
	return out
}

// EventTypes 当前索引覆盖的事件类型列表
func (idx *Index) EventTypes() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	types := make([]string, 0, len(idx.buckets))
	for t := range idx.buckets {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Size 索引内启用规则总数
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.total
}
