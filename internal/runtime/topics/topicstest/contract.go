// Package topicstest holds the behaviour every topics.Store must share.
package topicstest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suoke-life/messagebus/internal/runtime/topics"
)

// RunStoreContract runs the shared store behaviour against stores returned by
// open. Each subtest gets a fresh, empty store.
func RunStoreContract(t *testing.T, open func(t *testing.T) topics.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("create get round trip", func(t *testing.T) {
		store := open(t)
		created := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
		input := topics.Topic{
			Name:           "orders",
			Description:    "order events",
			Properties:     map[string]string{"owner": "checkout"},
			CreatedAt:      created,
			PartitionCount: 3,
			RetentionHours: 48,
		}

		stored, err := store.CreateTopic(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, input, stored)

		got, err := store.GetTopic(ctx, "orders")
		require.NoError(t, err)
		assert.Equal(t, input, got)
	})

	t.Run("create fills created at", func(t *testing.T) {
		store := open(t)
		stored, err := store.CreateTopic(ctx, topics.Topic{Name: "events", PartitionCount: 1, RetentionHours: 24})
		require.NoError(t, err)
		assert.False(t, stored.CreatedAt.IsZero())
	})

	t.Run("duplicate create", func(t *testing.T) {
		store := open(t)
		_, err := store.CreateTopic(ctx, topics.Topic{Name: "orders", Description: "first", PartitionCount: 1, RetentionHours: 24})
		require.NoError(t, err)

		_, err = store.CreateTopic(ctx, topics.Topic{Name: "orders", Description: "second", PartitionCount: 1, RetentionHours: 24})
		require.ErrorIs(t, err, topics.ErrAlreadyExists)

		got, err := store.GetTopic(ctx, "orders")
		require.NoError(t, err)
		assert.Equal(t, "first", got.Description)
	})

	t.Run("get missing", func(t *testing.T) {
		store := open(t)
		_, err := store.GetTopic(ctx, "missing")
		assert.ErrorIs(t, err, topics.ErrNotFound)
	})

	t.Run("returned topics do not alias storage", func(t *testing.T) {
		store := open(t)
		props := map[string]string{"k": "v"}
		_, err := store.CreateTopic(ctx, topics.Topic{Name: "orders", Properties: props, PartitionCount: 1, RetentionHours: 24})
		require.NoError(t, err)
		props["k"] = "mutated"

		got, err := store.GetTopic(ctx, "orders")
		require.NoError(t, err)
		got.Properties["k"] = "changed"

		again, err := store.GetTopic(ctx, "orders")
		require.NoError(t, err)
		assert.Equal(t, "v", again.Properties["k"])
	})

	t.Run("delete", func(t *testing.T) {
		store := open(t)
		_, err := store.CreateTopic(ctx, topics.Topic{Name: "orders", PartitionCount: 1, RetentionHours: 24})
		require.NoError(t, err)

		deleted, err := store.DeleteTopic(ctx, "orders")
		require.NoError(t, err)
		assert.True(t, deleted)

		_, err = store.GetTopic(ctx, "orders")
		assert.ErrorIs(t, err, topics.ErrNotFound)

		deleted, err = store.DeleteTopic(ctx, "orders")
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("pagination concatenates to the full set", func(t *testing.T) {
		store := open(t)
		var want []string
		for i := 0; i < 7; i++ {
			name := fmt.Sprintf("topic-%02d", 6-i)
			_, err := store.CreateTopic(ctx, topics.Topic{Name: name, PartitionCount: 1, RetentionHours: 24})
			require.NoError(t, err)
		}
		for i := 0; i < 7; i++ {
			want = append(want, fmt.Sprintf("topic-%02d", i))
		}

		for _, size := range []int{1, 2, 3, 7, 10} {
			var got []string
			token := ""
			for pages := 0; ; pages++ {
				require.Less(t, pages, 10, "pagination did not terminate")
				page, err := store.ListTopics(ctx, size, token)
				require.NoError(t, err)
				assert.Equal(t, 7, page.TotalCount)
				assert.LessOrEqual(t, len(page.Topics), size)
				for _, topic := range page.Topics {
					got = append(got, topic.Name)
				}
				if page.NextPageToken == "" {
					break
				}
				token = page.NextPageToken
			}
			assert.Equal(t, want, got, "page size %d", size)
		}
	})

	t.Run("empty list", func(t *testing.T) {
		store := open(t)
		page, err := store.ListTopics(ctx, 10, "")
		require.NoError(t, err)
		assert.Empty(t, page.Topics)
		assert.Empty(t, page.NextPageToken)
		assert.Zero(t, page.TotalCount)
	})

	t.Run("invalid page token", func(t *testing.T) {
		store := open(t)
		_, err := store.ListTopics(ctx, 10, "%%%")
		assert.ErrorIs(t, err, topics.ErrInvalidPageToken)
	})

	t.Run("token survives deletion of its anchor", func(t *testing.T) {
		store := open(t)
		for _, name := range []string{"a", "b", "c", "d"} {
			_, err := store.CreateTopic(ctx, topics.Topic{Name: name, PartitionCount: 1, RetentionHours: 24})
			require.NoError(t, err)
		}
		page, err := store.ListTopics(ctx, 2, "")
		require.NoError(t, err)
		require.NotEmpty(t, page.NextPageToken)

		_, err = store.DeleteTopic(ctx, "b")
		require.NoError(t, err)

		next, err := store.ListTopics(ctx, 2, page.NextPageToken)
		require.NoError(t, err)
		require.Len(t, next.Topics, 2)
		assert.Equal(t, "c", next.Topics[0].Name)
		assert.Equal(t, "d", next.Topics[1].Name)
		assert.Empty(t, next.NextPageToken)
	})

	t.Run("count agrees with page during writes", func(t *testing.T) {
		store := open(t)
		const writes = 40

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range writes {
				_, err := store.CreateTopic(ctx, topics.Topic{Name: fmt.Sprintf("topic-%02d", i), PartitionCount: 1, RetentionHours: 24})
				assert.NoError(t, err)
			}
		}()

		for range 20 {
			page, err := store.ListTopics(ctx, 100, "")
			require.NoError(t, err)
			assert.Equal(t, page.TotalCount, len(page.Topics))
			assert.Empty(t, page.NextPageToken)
		}
		wg.Wait()

		page, err := store.ListTopics(ctx, 100, "")
		require.NoError(t, err)
		assert.Equal(t, writes, page.TotalCount)
		assert.Len(t, page.Topics, writes)
	})

	t.Run("canceled context", func(t *testing.T) {
		store := open(t)
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.GetTopic(canceled, "orders")
		assert.ErrorIs(t, err, context.Canceled)
	})
}
