package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamcast/live-rules/internal/model"
	"github.com/streamcast/live-rules/internal/rules"
)

func sampleRule(id, name string) *rules.Rule {
	now := time.Now().UTC().Truncate(time.Second)
	return &rules.Rule{
		ID:        id,
		Enabled:   true,
		Name:      name,
		EventType: model.EventGift,
		Action:    rules.ActionRef{Category: "overlay", Name: "banner"},
		Context:   map[string]string{"text": "{{username}} 送出 {{gift_name}}"},
		Conditions: &rules.Condition{
			Min:   map[string]float64{"coins": 100},
			Allow: map[string][]string{"gift_name": {"Lion"}},
		},
		Delay:     2 * time.Second,
		Cooldown:  30 * time.Second,
		Priority:  5,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// storageFixtures 各后端共用的CRUD行为测试
func storageFixtures(t *testing.T) map[string]rules.Storage {
	t.Helper()

	sqliteStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	fileStore, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { fileStore.Close() })

	return map[string]rules.Storage{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
		"file":   fileStore,
	}
}

func TestStorageCRUD(t *testing.T) {
	for name, store := range storageFixtures(t) {
		t.Run(name, func(t *testing.T) {
			rule := sampleRule("rule-1", "大礼物播报")
			require.NoError(t, store.Insert(rule))

			// 重复插入同一ID报错
			assert.Error(t, store.Insert(rule))

			loaded, err := store.SelectAll()
			require.NoError(t, err)
			require.Len(t, loaded, 1)
			assert.Equal(t, rule.ID, loaded[0].ID)
			assert.Equal(t, rule.Name, loaded[0].Name)
			assert.Equal(t, rule.Action, loaded[0].Action)
			assert.Equal(t, rule.Conditions, loaded[0].Conditions)
			assert.Equal(t, rule.Cooldown, loaded[0].Cooldown)
			assert.Equal(t, rule.Delay, loaded[0].Delay)

			updated := sampleRule("rule-1", "改名后的规则")
			updated.Priority = 9
			require.NoError(t, store.UpdateByID("rule-1", updated))

			loaded, err = store.SelectAll()
			require.NoError(t, err)
			require.Len(t, loaded, 1)
			assert.Equal(t, "改名后的规则", loaded[0].Name)
			assert.Equal(t, 9, loaded[0].Priority)

			require.NoError(t, store.DeleteByID("rule-1"))
			loaded, err = store.SelectAll()
			require.NoError(t, err)
			assert.Empty(t, loaded)
		})
	}
}

func TestStorageMissingRuleErrors(t *testing.T) {
	for name, store := range storageFixtures(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, store.UpdateByID("ghost", sampleRule("ghost", "x")))
			assert.Error(t, store.DeleteByID("ghost"))
		})
	}
}

func TestFileStoreSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Insert(sampleRule("good", "好规则")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("{:::"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("无关文件"), 0o644))

	loaded, err := store.SelectAll()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "good", loaded[0].ID)
}

func TestFileStoreIDFallsBackToFilename(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	defer store.Close()

	// 手工编写的规则文件往往不带id字段
	content := []byte("enabled: true\nname: 手写规则\nevent_type: chat\naction:\n  category: console\n  name: log\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "handmade.yaml"), content, 0o644))

	loaded, err := store.SelectAll()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "handmade", loaded[0].ID)
	assert.Equal(t, "手写规则", loaded[0].Name)
}

func TestFileStoreNotifiesOnExternalEdit(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "external.yaml"),
		[]byte("enabled: true\nname: 外部编辑\nevent_type: gift\naction:\n  category: console\n  name: log\n"),
		0o644,
	))

	select {
	case <-store.Changes():
	case <-time.After(5 * time.Second):
		t.Fatal("未收到文件变更通知")
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "rules.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Insert(sampleRule("rule-1", "持久化规则")))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.SelectAll()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "持久化规则", loaded[0].Name)
}
