package rules

import (
	"fmt"
	"regexp"
	"sync"
	"time"
)

// maxPatternLength 超过该长度的正则模式直接拒绝
const maxPatternLength = 500

// unsafePatternShape 嵌套量词与重复分组乘子的形状检测，
// 如 (a+)+、(a*)+、(a{1,10}){1,10}。命中即拒绝编译。
var unsafePatternShape = regexp.MustCompile(`\((?:[^()\\]|\\.)*(?:[+*]|\{\d+(?:,\d*)?\})\)(?:[+*]|\{\d+)`)

// CheckPatternSafety 对用户提供的正则模式做风险启发式检查。
// 被拒绝的模式在条件评估中按不匹配处理（fail closed），不会抛出。
func CheckPatternSafety(pattern string) error {
	if len(pattern) > maxPatternLength {
		return NewValidationError(ErrCodeRuleRegex, "正则模式过长").
			WithContext("length", len(pattern)).
			WithContext("max_length", maxPatternLength)
	}
	if unsafePatternShape.MatchString(pattern) {
		return NewValidationError(ErrCodeRuleRegex, "正则模式包含嵌套量词").
			WithContext("pattern", pattern)
	}
	return nil
}

// regexCacheEntry 缓存条目，包含使用时间和访问计数
type regexCacheEntry struct {
	regex       *regexp.Regexp
	lastUsed    time.Time
	accessCount int64
}

// RegexCache 编译后正则的缓存，带安全检查与LRU淘汰。
// 由评估器持有，不使用包级单例。
type RegexCache struct {
	cache    map[string]*regexCacheEntry
	mu       sync.Mutex
	maxSize  int
	hitCount int64
	requests int64
}

// NewRegexCache 创建正则缓存
func NewRegexCache(maxSize int) *RegexCache {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &RegexCache{
		cache:   make(map[string]*regexCacheEntry),
		maxSize: maxSize,
	}
}

// Get 获取编译后的正则表达式，先过安全检查再查缓存
func (rc *RegexCache) Get(pattern string) (*regexp.Regexp, error) {
	if err := CheckPatternSafety(pattern); err != nil {
		return nil, err
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.requests++
	if entry, exists := rc.cache[pattern]; exists {
		entry.lastUsed = time.Now()
		entry.accessCount++
		rc.hitCount++
		return entry.regex, nil
	}

	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("正则表达式编译失败: %w", err)
	}

	if len(rc.cache) >= rc.maxSize {
		rc.evictLeastUsed()
	}

	rc.cache[pattern] = &regexCacheEntry{
		regex:       compiled,
		lastUsed:    time.Now(),
		accessCount: 1,
	}
	return compiled, nil
}

// Match 使用缓存的正则表达式进行匹配
func (rc *RegexCache) Match(pattern, s string) (bool, error) {
	compiled, err := rc.Get(pattern)
	if err != nil {
		return false, err
	}
	return compiled.MatchString(s), nil
}

// evictLeastUsed 淘汰最少使用的缓存条目（调用方持锁）
func (rc *RegexCache) evictLeastUsed() {
	now := time.Now()
	victim := ""
	minScore := int64(1<<63 - 1)

	// 综合时间权重与访问频率，得分最低者先淘汰
	for pattern, entry := range rc.cache {
		timeWeight := -int64(now.Sub(entry.lastUsed).Seconds())
		score := timeWeight + entry.accessCount
		if victim == "" || score < minScore {
			minScore = score
			victim = pattern
		}
	}
	if victim != "" {
		delete(rc.cache, victim)
	}
}

// Stats 获取缓存统计信息
func (rc *RegexCache) Stats() (size int, hitRate float64, requests int64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	size = len(rc.cache)
	requests = rc.requests
	if rc.requests > 0 {
		hitRate = float64(rc.hitCount) / float64(rc.requests)
	}
	return size, hitRate, requests
}

// Clear 清空缓存
func (rc *RegexCache) Clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.cache = make(map[string]*regexCacheEntry)
	rc.hitCount = 0
	rc.requests = 0
}
