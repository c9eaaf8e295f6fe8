package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/streamcast/live-rules/internal/rules"
)

// changeDebounce 文件变更通知的去抖窗口：
// 编辑器保存往往触发一连串写事件，合并为一次重载
const changeDebounce = 500 * time.Millisecond

// FileStore 规则文件存储：每条规则一个YAML文件（<id>.yaml），
// 通过fsnotify监听目录，外部直接编辑文件时发出变更通知。
type FileStore struct {
	dir     string
	watcher *fsnotify.Watcher
	changes chan struct{}
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// NewFileStore 创建文件存储并启动目录监听
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建规则目录失败: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监听器失败: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("监听规则目录失败: %w", err)
	}

	s := &FileStore{
		dir:     dir,
		watcher: watcher,
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.watchLoop()
	return s, nil
}

// Changes 变更通知通道，实现rules.ChangeNotifier
func (s *FileStore) Changes() <-chan struct{} {
	return s.changes
}

// Insert 插入规则
func (s *FileStore) Insert(rule *rules.Rule) error {
	path := s.rulePath(rule.ID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("规则已存在: %s", rule.ID)
	}
	return s.writeRule(path, rule)
}

// UpdateByID 更新规则
func (s *FileStore) UpdateByID(id string, rule *rules.Rule) error {
	path := s.rulePath(id)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("规则不存在: %s", id)
	}
	return s.writeRule(path, rule)
}

// DeleteByID 删除规则
func (s *FileStore) DeleteByID(id string) error {
	path := s.rulePath(id)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("规则不存在: %s", id)
		}
		return fmt.Errorf("删除规则文件失败: %w", err)
	}
	return nil
}

// SelectAll 扫描目录读取全部规则。
// 单个文件解析失败只记日志跳过，不阻断其余规则加载。
func (s *FileStore) SelectAll() ([]*rules.Rule, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("扫描规则目录失败: %w", err)
	}

	var out []*rules.Rule
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		rule, err := s.readRule(path)
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("加载规则文件失败，已跳过")
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

// Close 停止监听
func (s *FileStore) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	err := s.watcher.Close()
	s.wg.Wait()
	return err
}

// rulePath 规则文件路径
func (s *FileStore) rulePath(id string) string {
	return filepath.Join(s.dir, id+".yaml")
}

// writeRule 写入规则文件
func (s *FileStore) writeRule(path string, rule *rules.Rule) error {
	data, err := yaml.Marshal(rule)
	if err != nil {
		return fmt.Errorf("序列化规则失败: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("写入规则文件失败: %w", err)
	}
	return nil
}

// readRule 读取规则文件
func (s *FileStore) readRule(path string) (*rules.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取规则文件失败: %w", err)
	}
	var rule rules.Rule
	if err := yaml.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("解析规则文件失败: %w", err)
	}
	if rule.ID == "" {
		// 文件名即规则ID的兜底
		rule.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &rule, nil
}

// watchLoop 监听目录事件，去抖后发出变更通知
func (s *FileStore) watchLoop() {
	defer s.wg.Done()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			ext := filepath.Ext(event.Name)
			if ext != ".yaml" && ext != ".yml" {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(changeDebounce, func() {
				select {
				case s.changes <- struct{}{}:
				default:
				}
			})
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("规则目录监听错误")
		}
	}
}
