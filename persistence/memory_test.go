package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/photoguess/models"
)

func fixedNow() func() time.Time {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func newTestRoom(t *testing.T, s Store) string {
	t.Helper()
	id, err := s.CreateRoom(context.Background(), &models.Room{
		Status:   models.StatusJoin,
		GameName: "test",
		HostUID:  "host",
		Round:    1,
	})
	require.NoError(t, err)
	return id
}

func TestMemoryStoreCreateAndGetRoom(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	id := newTestRoom(t, s)
	assert.NotEmpty(t, id)

	room, err := s.GetRoom(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusJoin, room.Status)
	assert.False(t, room.CreatedAt.IsZero())

	_, err = s.GetRoom(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreUpdateRoomIf(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	id := newTestRoom(t, s)

	err := s.UpdateRoomIf(ctx, id, models.StatusJoin, Fields{FieldStatus: models.StatusUpload})
	require.NoError(t, err)

	// The second writer still expects join and must lose.
	err = s.UpdateRoomIf(ctx, id, models.StatusJoin, Fields{FieldStatus: models.StatusUpload})
	assert.ErrorIs(t, err, ErrStatusConflict)

	err = s.UpdateRoomIf(ctx, "missing", models.StatusJoin, Fields{FieldStatus: models.StatusUpload})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreUpdateRoomFields(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	id := newTestRoom(t, s)

	ends := time.Now().Add(time.Minute)
	require.NoError(t, s.UpdateRoom(ctx, id, Fields{
		FieldTimerEndsAt:    ends,
		FieldTimerStartedAt: ServerTimestamp,
		FieldResultsIndex:   2,
	}))
	room, err := s.GetRoom(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, room.TimerEndsAt)
	assert.True(t, room.TimerEndsAt.Equal(ends))
	assert.NotNil(t, room.TimerStartedAt)
	assert.Equal(t, 2, room.ResultsIndex)

	var cleared *time.Time
	require.NoError(t, s.UpdateRoom(ctx, id, Fields{FieldTimerEndsAt: cleared, FieldTimerStartedAt: nil}))
	room, err = s.GetRoom(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, room.TimerEndsAt)
	assert.Nil(t, room.TimerStartedAt)

	assert.ErrorIs(t, s.UpdateRoom(ctx, id, Fields{"hostUid": "other"}), ErrUnknownField)
	assert.ErrorIs(t, s.UpdateRoom(ctx, id, Fields{FieldStatus: "paused"}), ErrInvalidValue)
}

func TestMemoryStoreUpsertUserMerges(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	id := newTestRoom(t, s)

	require.NoError(t, s.UpsertUser(ctx, id, models.User{ID: "host", Name: "Ann", Role: models.RoleHost, Connected: true}))
	require.NoError(t, s.IncrementScore(ctx, id, "host", 100))
	require.NoError(t, s.UpdateUser(ctx, id, "host", Fields{FieldReady: true, FieldReadyAt: ServerTimestamp}))

	users, err := s.ListUsers(ctx, id)
	require.NoError(t, err)
	require.Len(t, users, 1)
	joined := users[0].JoinedAt

	// Rejoin as a guest with a new name: profile merges, role and progress stay.
	require.NoError(t, s.UpsertUser(ctx, id, models.User{ID: "host", Name: "Annie", Role: models.RoleGuest, Connected: true}))
	users, err = s.ListUsers(ctx, id)
	require.NoError(t, err)
	require.Len(t, users, 1)
	u := users[0]
	assert.Equal(t, "Annie", u.Name)
	assert.Equal(t, models.RoleHost, u.Role)
	assert.Equal(t, 100, u.Score)
	assert.True(t, u.Ready)
	assert.True(t, u.JoinedAt.Equal(joined))
}

func TestMemoryStoreUsersOrderedByJoin(t *testing.T) {
	s := NewMemoryStoreWithClock(nil, fixedNow())
	ctx := context.Background()
	id := newTestRoom(t, s)

	for _, uid := range []string{"zed", "amy", "kim"} {
		require.NoError(t, s.UpsertUser(ctx, id, models.User{ID: uid, Name: uid, Role: models.RoleGuest}))
	}
	users, err := s.ListUsers(ctx, id)
	require.NoError(t, err)
	ids := []string{users[0].ID, users[1].ID, users[2].ID}
	assert.Equal(t, []string{"zed", "amy", "kim"}, ids)
}

func TestMemoryStoreUpdateMissingUser(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	id := newTestRoom(t, s)

	assert.ErrorIs(t, s.UpdateUser(ctx, id, "ghost", Fields{FieldReady: true}), ErrNotFound)
	assert.ErrorIs(t, s.IncrementScore(ctx, id, "ghost", 100), ErrNotFound)
}

func TestMemoryStorePhotosAndGuesses(t *testing.T) {
	s := NewMemoryStoreWithClock(nil, fixedNow())
	ctx := context.Background()
	id := newTestRoom(t, s)

	p1, err := s.AddPhoto(ctx, id, models.Photo{URL: "u1", UploadedBy: "a"})
	require.NoError(t, err)
	p2, err := s.AddPhoto(ctx, id, models.Photo{URL: "u2", UploadedBy: "b"})
	require.NoError(t, err)

	require.NoError(t, s.SetGuess(ctx, id, p1, "b", "a"))
	require.NoError(t, s.SetGuess(ctx, id, p1, "c", "b"))
	require.NoError(t, s.SetGuess(ctx, id, p1, "c", "a"))

	photos, err := s.ListPhotos(ctx, id)
	require.NoError(t, err)
	require.Len(t, photos, 2)
	assert.Equal(t, p1, photos[0].ID)
	assert.Equal(t, p2, photos[1].ID)
	assert.Equal(t, map[string]string{"b": "a", "c": "a"}, photos[0].Guesses)

	// Listing returns copies.
	photos[0].Guesses["b"] = "zzz"
	again, err := s.ListPhotos(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a", again[0].Guesses["b"])

	require.NoError(t, s.DeletePhoto(ctx, id, p1))
	assert.ErrorIs(t, s.DeletePhoto(ctx, id, p1), ErrNotFound)
	assert.ErrorIs(t, s.SetGuess(ctx, id, p1, "b", "a"), ErrNotFound)
}

func TestMemoryStoreMessagesAppendOnly(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	id := newTestRoom(t, s)

	_, err := s.AddMessage(ctx, id, models.Message{Text: "one", UserName: "a"})
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, id, models.Message{Text: "two", UserName: "b"})
	require.NoError(t, err)

	msgs, err := s.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Text)
	assert.True(t, msgs[0].CreatedAt.Before(msgs[1].CreatedAt))
}

func TestClockStrictlyIncreasing(t *testing.T) {
	c := newClock(fixedNow())
	a := c.Now()
	b := c.Now()
	assert.True(t, b.After(a))
}

type recorder[T any] struct {
	mu     sync.Mutex
	values []T
	errs   []error
	ch     chan struct{}
}

func newRecorder[T any]() *recorder[T] {
	return &recorder[T]{ch: make(chan struct{}, 64)}
}

func (r *recorder[T]) fn(v T, err error) {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *recorder[T]) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func (r *recorder[T]) last() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[len(r.values)-1]
}

func TestMemoryStoreWatchUsers(t *testing.T) {
	notifier := NewLocalNotifier()
	s := NewMemoryStore(notifier)
	ctx := context.Background()
	id := newTestRoom(t, s)

	rec := newRecorder[[]models.User]()
	unsub := s.WatchUsers(id, rec.fn)

	rec.wait(t)
	assert.Empty(t, rec.last())

	require.NoError(t, s.UpsertUser(ctx, id, models.User{ID: "a", Name: "A"}))
	assert.Eventually(t, func() bool {
		select {
		case <-rec.ch:
		default:
		}
		return len(rec.last()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, notifier.Subscribers(id))
	unsub()
	unsub()
	assert.Equal(t, 0, notifier.Subscribers(id))
}

func TestMemoryStoreWatchRoomMissing(t *testing.T) {
	s := NewMemoryStore(nil)
	rec := newRecorder[*models.Room]()
	unsub := s.WatchRoom("nope", rec.fn)
	defer unsub()

	rec.wait(t)
	assert.Nil(t, rec.last())
	assert.NoError(t, rec.errs[0])
}

func TestWatchStopsAfterError(t *testing.T) {
	n := NewLocalNotifier()
	calls := 0
	var mu sync.Mutex
	delivered := make(chan error, 4)
	load := func(context.Context) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return 0, assert.AnError
	}
	unsub := watchCollection(n, "r", CollectionPhotos, load, func(_ int, err error) { delivered <- err })
	defer unsub()

	select {
	case err := <-delivered:
		assert.ErrorIs(t, err, assert.AnError)
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
	}

	n.Dispatch(Change{RoomID: "r", Collection: CollectionPhotos})
	select {
	case <-delivered:
		t.Fatal("watch delivered after an error")
	case <-time.After(100 * time.Millisecond):
	}
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}
