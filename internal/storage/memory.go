package storage

import (
	"fmt"
	"sync"

	"github.com/streamcast/live-rules/internal/rules"
)

// MemoryStore 内存存储：不落盘，用于测试与一次性会话
type MemoryStore struct {
	mu    sync.RWMutex
	rules map[string]*rules.Rule
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules: make(map[string]*rules.Rule),
	}
}

// Insert 插入规则
func (s *MemoryStore) Insert(rule *rules.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("规则已存在: %s", rule.ID)
	}
	s.rules[rule.ID] = rule.Clone()
	return nil
}

// UpdateByID 更新规则
func (s *MemoryStore) UpdateByID(id string, rule *rules.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("规则不存在: %s", id)
	}
	s.rules[id] = rule.Clone()
	return nil
}

// DeleteByID 删除规则
func (s *MemoryStore) DeleteByID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("规则不存在: %s", id)
	}
	delete(s.rules, id)
	return nil
}

// SelectAll 读取全部规则
func (s *MemoryStore) SelectAll() ([]*rules.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rules.Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		out = append(out, rule.Clone())
	}
	return out, nil
}

// Close 无资源可释放
func (s *MemoryStore) Close() error {
	return nil
}
