package history

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CapAndClear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10, 0)

	for i := 0; i < 25; i++ {
		require.NoError(t, store.Append(ctx, "ada", Entry{Role: RoleUser, Content: fmt.Sprintf("m%d", i)}))
		entries, err := store.Entries(ctx, "ada")
		require.NoError(t, err)
		assert.LessOrEqual(t, len(entries), 10)
	}

	entries, err := store.Entries(ctx, "ada")
	require.NoError(t, err)
	require.Len(t, entries, 10)
	assert.Equal(t, "m15", entries[0].Content)
	assert.Equal(t, "m24", entries[9].Content)

	require.NoError(t, store.Clear(ctx, "ada"))
	entries, err = store.Entries(ctx, "ada")
	require.NoError(t, err)
	assert.Empty(t, entries)

	other, err := store.Entries(ctx, "grace")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMemoryStore_EvictIdle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10, time.Hour)
	defer store.Stop()
	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Append(ctx, "ada", Entry{Role: RoleUser, Content: "hi"}))
	now = now.Add(40 * time.Minute)
	_, err := store.NextQueue(ctx, "grace")
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	assert.Equal(t, 1, store.EvictIdle(), "only the session idle past the TTL goes")
	assert.Equal(t, 1, store.Len())

	entries, err := store.Entries(ctx, "ada")
	require.NoError(t, err)
	assert.Empty(t, entries)
	n, err := store.NextQueue(ctx, "grace")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemoryStore_NoTTLKeepsSessions(t *testing.T) {
	store := NewMemoryStore(10, 0)
	_, err := store.NextQueue(context.Background(), "ada")
	require.NoError(t, err)
	assert.Equal(t, 0, store.EvictIdle())
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_NextQueueConcurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10, 0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.NextQueue(ctx, "ada")
			_ = store.Append(ctx, "ada", Entry{Role: RoleUser, Content: "x"})
		}()
	}
	wg.Wait()

	n, err := store.NextQueue(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, int64(51), n)

	entries, err := store.Entries(ctx, "ada")
	require.NoError(t, err)
	assert.Len(t, entries, 10)

	first, err := store.NextQueue(ctx, "grace")
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)
}

func TestRender(t *testing.T) {
	long := strings.Repeat("a", 150)
	entries := []Entry{
		{Role: RoleUser, Content: long},
		{Role: RoleAssistant, Content: "first answer"},
		{Role: RoleUser, Content: "second question"},
		{Role: RoleAssistant, Content: "second answer"},
		{Role: RoleUser, Content: "third question"},
	}

	got := Render(entries, 3, 100)
	want := "Earlier in this conversation: user: " + strings.Repeat("a", 100) + "... | assistant: first answer\n" +
		"Recent conversation:\n" +
		"User: second question\n" +
		"Assistant: second answer\n" +
		"User: third question"
	assert.Equal(t, want, got)

	assert.Equal(t, "Recent conversation:\nUser: hi", Render([]Entry{{Role: RoleUser, Content: "hi"}}, 3, 100))
	assert.Equal(t, "", Render(nil, 3, 100))
}

func TestHistory_RecordContextClear(t *testing.T) {
	ctx := context.Background()
	h := New(NewMemoryStore(DefaultMaxEntries, 0), Config{})

	for i := 0; i < 8; i++ {
		require.NoError(t, h.Record(ctx, "ada", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)))
	}
	entries, err := h.Store().Entries(ctx, "ada")
	require.NoError(t, err)
	assert.Len(t, entries, DefaultMaxEntries)

	rendered, err := h.Context(ctx, "ada")
	require.NoError(t, err)
	assert.Contains(t, rendered, "Earlier in this conversation: user: q3 | assistant: a3")
	assert.True(t, strings.HasSuffix(rendered, "Assistant: a7"))

	require.NoError(t, h.Clear(ctx, "ada"))
	rendered, err = h.Context(ctx, "ada")
	require.NoError(t, err)
	assert.Empty(t, rendered)
}
