package alerts

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warroomhq/warroom/internal/infrastructure/logging"
	"github.com/warroomhq/warroom/internal/store"
)

func newTestLog(t *testing.T, opts ...Option) *Log {
	t.Helper()
	s := store.New(t.TempDir(), logging.NewNop())
	return NewLog(s, opts...)
}

func TestAppendAndList(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	alert, err := l.Append(ctx, "room1", "alice", "web", "SQLi on /login", "payload: ' OR 1=1--")
	require.NoError(t, err)
	assert.NotEmpty(t, alert.ID)
	assert.False(t, alert.Timestamp.IsZero())
	assert.Equal(t, "alice", alert.FlaggedBy)

	listed, err := l.List(ctx, "room1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, alert.ID, listed[0].ID)
}

func TestCapEvictsOldestFirst(t *testing.T) {
	l := newTestLog(t, WithLimits(200, 100, 200, 200))
	ctx := context.Background()

	var firstID string
	for i := 0; i < 201; i++ {
		alert, err := l.Append(ctx, "room1", "alice", "ctx", fmt.Sprintf("finding %d", i), "")
		require.NoError(t, err)
		if i == 0 {
			firstID = alert.ID
		}
	}

	listed, err := l.List(ctx, "room1")
	require.NoError(t, err)
	require.Len(t, listed, 200, "the 201st alert must evict exactly one")

	assert.NotEqual(t, firstID, listed[0].ID, "the oldest alert is gone")
	assert.Equal(t, "finding 1", listed[0].Title)
	assert.Equal(t, "finding 200", listed[199].Title)
}

func TestFieldClamps(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	alert, err := l.Append(ctx, "room1", "alice",
		strings.Repeat("c", 150),
		strings.Repeat("t", 250),
		strings.Repeat("p", 250),
	)
	require.NoError(t, err)

	assert.Len(t, alert.Context, 100)
	assert.Len(t, alert.Title, 200)
	assert.Len(t, alert.Preview, 200)
}

func TestRoomsAreIsolated(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	_, err := l.Append(ctx, "room1", "alice", "", "one", "")
	require.NoError(t, err)

	listed, err := l.List(ctx, "room2")
	require.NoError(t, err)
	assert.Empty(t, listed)
}
