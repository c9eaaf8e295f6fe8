package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamcast/live-rules/internal/model"
)

// stubSource 测试用事件源，把handler暴露给测试直接调用
type stubSource struct {
	handler      func(ev model.LiveEvent)
	unsubscribed bool
}

func (s *stubSource) Subscribe(handler func(ev model.LiveEvent)) (func() error, error) {
	s.handler = handler
	return func() error {
		s.unsubscribed = true
		return nil
	}, nil
}

// notifyingStorage 带变更通知的测试存储
type notifyingStorage struct {
	*stubStorage
	changes chan struct{}
}

func (s *notifyingStorage) Changes() <-chan struct{} {
	return s.changes
}

func TestServiceDispatchesFromEventSource(t *testing.T) {
	source := &stubSource{}
	service, err := NewService(newStubStorage(), source)
	require.NoError(t, err)

	handler := &recordingHandler{}
	service.RegisterActionHandler("recording", handler)
	_, err = service.Store().Create(draftRule("播报", model.EventGift, 0))
	require.NoError(t, err)

	require.NoError(t, service.Start(context.Background()))
	defer service.Stop()
	require.NotNil(t, source.handler)

	source.handler(model.NewLiveEvent(model.EventGift, nil))
	assert.Len(t, handler.executed(), 1)
}

func TestServiceStopUnsubscribes(t *testing.T) {
	source := &stubSource{}
	service, err := NewService(newStubStorage(), source)
	require.NoError(t, err)

	require.NoError(t, service.Start(context.Background()))
	service.Stop()
	assert.True(t, source.unsubscribed)

	// 重复Stop是安全的no-op
	service.Stop()
}

func TestServiceStartIsIdempotent(t *testing.T) {
	service, err := NewService(newStubStorage(), &stubSource{})
	require.NoError(t, err)

	require.NoError(t, service.Start(context.Background()))
	require.NoError(t, service.Start(context.Background()))
	service.Stop()
}

func TestServiceReloadsOnStorageChange(t *testing.T) {
	storage := &notifyingStorage{
		stubStorage: newStubStorage(),
		changes:     make(chan struct{}, 1),
	}
	service, err := NewService(storage, &stubSource{})
	require.NoError(t, err)
	require.Equal(t, 0, service.Store().Count())

	require.NoError(t, service.Start(context.Background()))
	defer service.Stop()

	// 绕过Store直接写入后端，模拟外部编辑
	rule := draftRule("外部规则", model.EventChat, 0)
	rule.ID = "external"
	require.NoError(t, storage.Insert(rule))
	storage.changes <- struct{}{}

	assert.Eventually(t, func() bool {
		return service.Store().Count() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestServiceStopAllViaFacade(t *testing.T) {
	service, err := NewService(newStubStorage(), &stubSource{})
	require.NoError(t, err)
	handler := &recordingHandler{}
	service.RegisterActionHandler("recording", handler)

	rule := draftRule("延迟播报", model.EventGift, 0)
	rule.Delay = 10 * time.Second
	_, err = service.Store().Create(rule)
	require.NoError(t, err)

	service.HandleEvent(model.NewLiveEvent(model.EventGift, nil))
	require.Equal(t, 1, service.PendingCount())

	service.StopAll()
	assert.Equal(t, 0, service.PendingCount())
	assert.Equal(t, int64(1), service.Metrics().ActionsCancelled)
}
