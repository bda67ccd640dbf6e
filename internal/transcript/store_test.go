package transcript

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStoreHistoryOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	for i := 0; i < 5; i++ {
		_, err := s.Append(ctx, Entry{SessionID: "s1", Role: RoleUser, Content: fmt.Sprintf("msg %d", i)})
		require.NoError(t, err)
	}
	_, err := s.Append(ctx, Entry{SessionID: "s2", Role: RoleUser, Content: "other"})
	require.NoError(t, err)

	got, err := s.History(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "msg 3", got[0].Content)
	assert.Equal(t, "msg 4", got[1].Content)

	all, err := s.History(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	none, err := s.History(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAppendFillsDefaultsAndRedacts(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	e, err := s.Append(ctx, Entry{SessionID: "s1", Role: RoleUser, Content: " call me at +1 (555) 123-9876 "})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())
	assert.Equal(t, SourceText, e.Source)
	assert.True(t, e.PIIRedacted)
	assert.Equal(t, "call me at [REDACTED_PHONE]", e.Content)

	plain, err := s.Append(ctx, Entry{SessionID: "s1", Role: RoleAssistant, Source: SourceVoice, Content: "See you at 10:30."})
	require.NoError(t, err)
	assert.False(t, plain.PIIRedacted)
	assert.Equal(t, SourceVoice, plain.Source)

	_, err = s.Append(ctx, Entry{Content: "orphan"})
	assert.Error(t, err)
}

func TestNewStoreDefaultsToMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "  ")
	require.NoError(t, err)
	assert.IsType(t, &InMemoryStore{}, s)
	assert.NoError(t, s.Close())
}
