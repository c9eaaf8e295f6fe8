package rules

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Store 规则存储：增删改查 + 持久化 + 按事件类型的内存索引。
// 索引在每次变更后整体重建；持久化后端可插拔（SQLite、规则文件等）。
type Store struct {
	storage   Storage
	evaluator *Evaluator
	rules     map[string]*Rule
	index     *Index
	mu        sync.RWMutex
}

// NewStore 创建规则存储并从持久化后端加载全部规则
func NewStore(storage Storage, evaluator *Evaluator) (*Store, error) {
	s := &Store{
		storage:   storage,
		evaluator: evaluator,
		rules:     make(map[string]*Rule),
		index:     NewIndex(),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload 重新从持久化后端加载规则并重建索引
func (s *Store) Reload() error {
	loaded, err := s.storage.SelectAll()
	if err != nil {
		return NewStorageError("加载规则失败", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules = make(map[string]*Rule, len(loaded))
	for _, rule := range loaded {
		if err := s.validate(rule); err != nil {
			log.Error().Err(err).Str("rule_id", rule.ID).Msg("加载的规则未通过验证，已跳过")
			continue
		}
		s.rules[rule.ID] = rule
	}
	s.rebuildIndex()

	log.Info().Int("count", len(s.rules)).Msg("规则加载完成")
	return nil
}

// Create 创建规则：验证、分配ID、持久化、重建索引
func (s *Store) Create(draft *Rule) (*Rule, error) {
	if draft == nil {
		return nil, NewValidationError(ErrCodeRuleName, "规则不能为空")
	}

	rule := draft.Clone()
	rule.ID = uuid.NewString()
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := s.validate(rule); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.Insert(rule); err != nil {
		return nil, NewStorageError("持久化规则失败", err)
	}
	s.rules[rule.ID] = rule
	s.rebuildIndex()

	log.Info().Str("rule_id", rule.ID).Str("name", rule.Name).Str("event_type", rule.EventType).Msg("规则已创建")
	return rule.Clone(), nil
}

// Update 更新规则：用patch整体替换可变字段，重新验证并持久化。
// ID不可变更。
func (s *Store) Update(id string, patch *Rule) (*Rule, error) {
	if patch == nil {
		return nil, NewValidationError(ErrCodeRuleName, "规则不能为空")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[id]
	if !exists {
		return nil, NewNotFoundError(id)
	}

	rule := patch.Clone()
	rule.ID = existing.ID
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()

	if err := s.validate(rule); err != nil {
		return nil, err
	}

	if err := s.storage.UpdateByID(id, rule); err != nil {
		return nil, NewStorageError("持久化规则失败", err)
	}
	s.rules[id] = rule
	s.rebuildIndex()

	log.Info().Str("rule_id", id).Str("name", rule.Name).Msg("规则已更新")
	return rule.Clone(), nil
}

// Delete 删除规则。重复删除同一ID是错误而不是no-op，
// 用于及时暴露操作者的失误。
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return NewNotFoundError(id)
	}

	if err := s.storage.DeleteByID(id); err != nil {
		return NewStorageError("删除规则失败", err)
	}
	delete(s.rules, id)
	s.rebuildIndex()

	log.Info().Str("rule_id", id).Msg("规则已删除")
	return nil
}

// Get 按ID获取规则
func (s *Store) Get(id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, NewNotFoundError(id)
	}
	return rule.Clone(), nil
}

// List 获取全部规则，按ID排序保证确定性
func (s *Store) List() []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		out = append(out, rule.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count 规则总数
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// SetEnabled 启用/禁用规则
func (s *Store) SetEnabled(id string, enabled bool) (*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[id]
	if !exists {
		return nil, NewNotFoundError(id)
	}

	rule := existing.Clone()
	rule.Enabled = enabled
	rule.UpdatedAt = time.Now()

	if err := s.storage.UpdateByID(id, rule); err != nil {
		return nil, NewStorageError("持久化规则失败", err)
	}
	s.rules[id] = rule
	s.rebuildIndex()

	log.Info().Str("rule_id", id).Bool("enabled", enabled).Msg("规则启用状态已变更")
	return rule.Clone(), nil
}

// Candidates 获取指定事件类型的启用规则，
// 优先级降序、相同优先级按ID升序
func (s *Store) Candidates(eventType string) []*Rule {
	return s.index.Candidates(eventType)
}

// ExportAll 导出全部规则（剥离内部ID），用于备份
func (s *Store) ExportAll() []RuleExport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.rules))
	for id := range s.rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]RuleExport, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.rules[id].Export())
	}
	return out
}

// ImportAll 批量导入规则。replaceExisting为true时先清空存量；
// 每个条目都走与Create相同的验证。任一条目验证失败则整体不生效。
func (s *Store) ImportAll(entries []RuleExport, replaceExisting bool) (int, error) {
	drafts := make([]*Rule, 0, len(entries))
	now := time.Now()
	for i, entry := range entries {
		rule := entry.Rule()
		rule.ID = uuid.NewString()
		rule.CreatedAt = now
		rule.UpdatedAt = now
		if err := s.validate(rule); err != nil {
			if re, ok := err.(*RuleError); ok {
				return 0, re.WithContext("import_index", i)
			}
			return 0, err
		}
		drafts = append(drafts, rule)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if replaceExisting {
		for id := range s.rules {
			if err := s.storage.DeleteByID(id); err != nil {
				return 0, NewStorageError("清空存量规则失败", err)
			}
		}
		s.rules = make(map[string]*Rule)
	}

	imported := 0
	for _, rule := range drafts {
		if err := s.storage.Insert(rule); err != nil {
			s.rebuildIndex()
			return imported, NewStorageError("持久化导入规则失败", err)
		}
		s.rules[rule.ID] = rule
		imported++
	}
	s.rebuildIndex()

	log.Info().Int("imported", imported).Bool("replace", replaceExisting).Msg("规则导入完成")
	return imported, nil
}

// rebuildIndex 整体重建索引（调用方持锁）
func (s *Store) rebuildIndex() {
	all := make([]*Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		all = append(all, rule)
	}
	s.index.Rebuild(all)
}

// validate 规则字段约束检查
func (s *Store) validate(rule *Rule) error {
	if rule.Name == "" {
		return NewValidationError(ErrCodeRuleName, "规则名称不能为空")
	}
	if rule.EventType == "" {
		return NewValidationError(ErrCodeRuleEvent, "事件类型不能为空")
	}
	if rule.Action.Empty() {
		return NewValidationError(ErrCodeRuleAction, "动作引用不完整").
			WithContext("category", rule.Action.Category).
			WithContext("name", rule.Action.Name)
	}
	if rule.Cooldown < 0 {
		return NewValidationError(ErrCodeRuleDuration, "冷却时间不能为负数").
			WithContext("cooldown", rule.Cooldown)
	}
	if rule.Delay < 0 {
		return NewValidationError(ErrCodeRuleDuration, "延迟时间不能为负数").
			WithContext("delay", rule.Delay)
	}
	if rule.Conditions != nil {
		if err := s.evaluator.ValidateCondition(rule.Conditions); err != nil {
			return err
		}
	}
	return nil
}
