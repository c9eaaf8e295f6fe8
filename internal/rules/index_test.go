package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexRule(id, eventType string, priority int, enabled bool) *Rule {
	return &Rule{
		ID:        id,
		Enabled:   enabled,
		Name:      "规则" + id,
		EventType: eventType,
		Action:    ActionRef{Category: "console", Name: "log"},
		Priority:  priority,
	}
}

func TestIndexCandidateOrdering(t *testing.T) {
	idx := NewIndex()
	idx.Rebuild([]*Rule{
		indexRule("b", "gift", 5, true),
		indexRule("a", "gift", 5, true),
		indexRule("c", "gift", 10, true),
		indexRule("d", "gift", 1, true),
	})

	candidates := idx.Candidates("gift")
	require.Len(t, candidates, 4)

	// 优先级降序，相同优先级按ID升序
	ids := make([]string, 0, len(candidates))
	for _, rule := range candidates {
		ids = append(ids, rule.ID)
	}
	assert.Equal(t, []string{"c", "a", "b", "d"}, ids)
}

func TestIndexSkipsDisabledRules(t *testing.T) {
	idx := NewIndex()
	idx.Rebuild([]*Rule{
		indexRule("a", "gift", 0, true),
		indexRule("b", "gift", 0, false),
	})

	candidates := idx.Candidates("gift")
	require.Len(t, candidates, 1)
	assert.Equal(t, "a", candidates[0].ID)
	assert.Equal(t, 1, idx.Size())
}

func TestIndexUnknownEventType(t *testing.T) {
	idx := NewIndex()
	idx.Rebuild([]*Rule{indexRule("a", "gift", 0, true)})

	assert.Nil(t, idx.Candidates("follow"))
}

func TestIndexRebuildReplacesBuckets(t *testing.T) {
	idx := NewIndex()
	idx.Rebuild([]*Rule{indexRule("a", "gift", 0, true)})
	idx.Rebuild([]*Rule{indexRule("b", "chat", 0, true)})

	assert.Empty(t, idx.Candidates("gift"))
	assert.Len(t, idx.Candidates("chat"), 1)
	assert.Equal(t, []string{"chat"}, idx.EventTypes())
}

func TestIndexCandidatesReturnsCopy(t *testing.T) {
	idx := NewIndex()
	idx.Rebuild([]*Rule{
		indexRule("a", "gift", 1, true),
		indexRule("b", "gift", 2, true),
	})

	first := idx.Candidates("gift")
	first[0] = nil
	second := idx.Candidates("gift")
	require.NotNil(t, second[0])
	assert.Equal(t, "b", second[0].ID)
}
