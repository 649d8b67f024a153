package session

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warroomhq/warroom/internal/infrastructure/logging"
	"github.com/warroomhq/warroom/internal/infrastructure/monitoring"
)

func TestCreateAndAuthenticate(t *testing.T) {
	r := NewRegistry(logging.NewNop())

	token, err := r.Create("room1", "alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	sess, err := r.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "room1", sess.RoomID)
	assert.Equal(t, "alice", sess.Nickname)
}

func TestAuthenticateUnknownToken(t *testing.T) {
	r := NewRegistry(logging.NewNop())

	_, err := r.Authenticate("no-such-token")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpiredTokenEvictedLazily(t *testing.T) {
	current := time.Now()
	r := NewRegistry(logging.NewNop(),
		WithTTL(time.Hour),
		WithClock(func() time.Time { return current }),
	)

	token, err := r.Create("room1", "alice")
	require.NoError(t, err)

	current = current.Add(2 * time.Hour)

	_, err = r.Authenticate(token)
	assert.ErrorIs(t, err, ErrExpired)

	// Lazy eviction: a second lookup no longer finds the token at all.
	_, err = r.Authenticate(token)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, r.Count())
}

func TestSweepEvictsOnlyExpired(t *testing.T) {
	current := time.Now()
	r := NewRegistry(logging.NewNop(),
		WithTTL(time.Hour),
		WithClock(func() time.Time { return current }),
	)

	old, err := r.Create("room1", "alice")
	require.NoError(t, err)

	current = current.Add(90 * time.Minute)

	fresh, err := r.Create("room1", "bob")
	require.NoError(t, err)

	assert.Equal(t, 1, r.Sweep())

	_, err = r.Authenticate(old)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Authenticate(fresh)
	assert.NoError(t, err)
}

func TestInvalidateRoomIsIsolated(t *testing.T) {
	r := NewRegistry(logging.NewNop())

	t1, err := r.Create("room1", "alice")
	require.NoError(t, err)
	t2, err := r.Create("room1", "bob")
	require.NoError(t, err)
	t3, err := r.Create("room2", "carol")
	require.NoError(t, err)

	removed := r.InvalidateRoom("room1")
	assert.ElementsMatch(t, []string{t1, t2}, removed)

	_, err = r.Authenticate(t1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Authenticate(t2)
	assert.ErrorIs(t, err, ErrNotFound)

	// The other room is untouched.
	sess, err := r.Authenticate(t3)
	require.NoError(t, err)
	assert.Equal(t, "carol", sess.Nickname)
	assert.Equal(t, 1, r.CountRoom("room2"))
	assert.Equal(t, 0, r.CountRoom("room1"))
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry(logging.NewNop())

	token, err := r.Create("room1", "alice")
	require.NoError(t, err)

	r.Remove(token)
	r.Remove(token)

	assert.Equal(t, 0, r.Count())
}

func TestAuthenticateReturnsCopy(t *testing.T) {
	r := NewRegistry(logging.NewNop())

	token, err := r.Create("room1", "alice")
	require.NoError(t, err)

	sess, err := r.Authenticate(token)
	require.NoError(t, err)
	sess.Nickname = "mallory"

	again, err := r.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", again.Nickname)
}

func TestMetricsTrackSessionLifecycle(t *testing.T) {
	current := time.Now()
	metrics := monitoring.NewMetrics()
	r := NewRegistry(logging.NewNop(),
		WithTTL(time.Hour),
		WithClock(func() time.Time { return current }),
		WithMetrics(metrics))

	tokenA, err := r.Create("room1", "alice")
	require.NoError(t, err)
	_, err = r.Create("room1", "bob")
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.SessionsActive))

	r.Remove(tokenA)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SessionsActive))

	current = current.Add(2 * time.Hour)
	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.SessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SessionsExpired))
}
