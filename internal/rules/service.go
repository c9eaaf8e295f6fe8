package rules

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/streamcast/live-rules/internal/model"
)

// ChangeNotifier 持久化后端可选实现的变更通知接口。
// 后端在规则数据被外部修改时（如直接编辑规则文件）发出信号，
// 服务据此整体重载规则集。
type ChangeNotifier interface {
	Changes() <-chan struct{}
}

// Service 规则引擎服务：组装存储、评估器、冷却跟踪与调度器，
// 订阅事件源并驱动派发。所有状态由实例持有，
// 一个进程可以运行多个互不干扰的引擎实例。
type Service struct {
	storage    Storage
	source     EventSource
	evaluator  *Evaluator
	store      *Store
	cooldowns  *CooldownTracker
	dispatcher *Dispatcher

	unsubscribe func() error
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.Mutex
	started     bool
}

// NewService 创建规则引擎服务并从持久化后端加载规则
func NewService(storage Storage, source EventSource) (*Service, error) {
	evaluator := NewEvaluator()
	store, err := NewStore(storage, evaluator)
	if err != nil {
		return nil, err
	}
	cooldowns := NewCooldownTracker()
	return &Service{
		storage:    storage,
		source:     source,
		evaluator:  evaluator,
		store:      store,
		cooldowns:  cooldowns,
		dispatcher: NewDispatcher(store, evaluator, cooldowns),
	}, nil
}

// Store 规则存储
func (s *Service) Store() *Store {
	return s.store
}

// Cooldowns 冷却跟踪器
func (s *Service) Cooldowns() *CooldownTracker {
	return s.cooldowns
}

// RegisterActionHandler 注册动作处理器
func (s *Service) RegisterActionHandler(category string, handler ActionHandler) {
	s.dispatcher.RegisterHandler(category, handler)
}

// HandleEvent 宿主直接推入事件的入口（事件源之外的旁路）
func (s *Service) HandleEvent(ev model.LiveEvent) {
	s.dispatcher.HandleEvent(ev)
}

// StopAll 全局停止派发：取消所有待触发动作，复位处理器状态。
// 规则与冷却状态不受影响。
func (s *Service) StopAll() {
	s.dispatcher.StopAll()
}

// PendingCount 待触发的延迟动作数量
func (s *Service) PendingCount() int {
	return s.dispatcher.PendingCount()
}

// Metrics 引擎指标快照
func (s *Service) Metrics() EngineMetrics {
	return s.dispatcher.Metrics()
}

// Start 订阅事件源并启动变更重载
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.source != nil {
		unsubscribe, err := s.source.Subscribe(s.dispatcher.HandleEvent)
		if err != nil {
			cancel()
			return NewRuleError(ErrorTypeSystem, ErrorLevelCritical, "SYS_SUBSCRIBE", "订阅事件源失败").WithCause(err)
		}
		s.unsubscribe = unsubscribe
	}

	// 持久化后端支持变更通知时，外部修改触发整体重载
	if notifier, ok := s.storage.(ChangeNotifier); ok {
		s.wg.Add(1)
		go s.reloadLoop(ctx, notifier.Changes())
	}

	s.started = true
	log.Info().Int("rules", s.store.Count()).Msg("规则引擎服务已启动")
	return nil
}

// Stop 停止服务：退订事件源、停止派发、关闭冷却清理
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}

	if s.unsubscribe != nil {
		if err := s.unsubscribe(); err != nil {
			log.Warn().Err(err).Msg("退订事件源失败")
		}
		s.unsubscribe = nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.dispatcher.StopAll()
	s.cooldowns.Close()
	s.started = false
	log.Info().Msg("规则引擎服务已停止")
}

// reloadLoop 响应持久化后端的变更通知
func (s *Service) reloadLoop(ctx context.Context, changes <-chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			if err := s.store.Reload(); err != nil {
				log.Error().Err(err).Msg("规则重载失败")
				continue
			}
			log.Info().Int("rules", s.store.Count()).Msg("规则集已重载")
		}
	}
}
