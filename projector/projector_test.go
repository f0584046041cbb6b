package projector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/photoguess/models"
	"github.com/wfunc/photoguess/persistence"
)

func waitFor(t *testing.T, p *Projector, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s, ok := <-p.Updates():
			if !ok {
				t.Fatal("updates closed")
			}
			if cond(s) {
				return s
			}
		case <-deadline:
			t.Fatalf("condition not met; last snapshot %+v", p.Snapshot())
		}
	}
}

func seedRoom(t *testing.T, store persistence.Store) string {
	t.Helper()
	ctx := context.Background()
	id, err := store.CreateRoom(ctx, &models.Room{Status: models.StatusJoin, HostUID: "h", Round: 1})
	require.NoError(t, err)
	require.NoError(t, store.UpsertUser(ctx, id, models.User{ID: "h", Name: "Host", Role: models.RoleHost}))
	return id
}

func TestProjectorLoadsAllStreams(t *testing.T) {
	store := persistence.NewMemoryStore(nil)
	id := seedRoom(t, store)
	p := New(store)
	defer p.Close()

	p.Subscribe(id, true)
	s := waitFor(t, p, func(s Snapshot) bool { return !s.Loading })
	require.NoError(t, s.Err)
	require.NotNil(t, s.Room)
	assert.Equal(t, models.StatusJoin, s.Status())
	require.NotNil(t, s.Host)
	assert.Equal(t, "h", s.Host.ID)
	assert.False(t, s.AllReady)
	assert.Equal(t, models.ReadyToStart, s.ReadyMeaning())
}

func TestProjectorReadyAggregate(t *testing.T) {
	store := persistence.NewMemoryStore(nil)
	id := seedRoom(t, store)
	ctx := context.Background()
	require.NoError(t, store.UpsertUser(ctx, id, models.User{ID: "g", Name: "Guest", Role: models.RoleGuest}))

	p := New(store)
	defer p.Close()
	p.Subscribe(id, true)
	waitFor(t, p, func(s Snapshot) bool { return !s.Loading && len(s.Users) == 2 })

	require.NoError(t, store.UpdateUser(ctx, id, "h", persistence.Fields{persistence.FieldReady: true}))
	s := waitFor(t, p, func(s Snapshot) bool { return s.ReadyCount == 1 })
	assert.False(t, s.AllReady)

	require.NoError(t, store.UpdateUser(ctx, id, "g", persistence.Fields{persistence.FieldReady: true}))
	s = waitFor(t, p, func(s Snapshot) bool { return s.ReadyCount == 2 })
	assert.True(t, s.AllReady)
}

func TestDeriveEmptyRoomNeverAllReady(t *testing.T) {
	s := Snapshot{}
	derive(&s)
	assert.False(t, s.AllReady)
	assert.Nil(t, s.Host)
}

func TestSortUsersByJoinTime(t *testing.T) {
	t0 := time.Now()
	in := []models.User{
		{ID: "c", JoinedAt: t0.Add(2 * time.Second)},
		{ID: "b", JoinedAt: t0},
		{ID: "a", JoinedAt: t0},
	}
	got := sortUsers(in)
	ids := []string{got[0].ID, got[1].ID, got[2].ID}
	if diff := cmp.Diff([]string{"a", "b", "c"}, ids); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "c", in[0].ID, "input must not be reordered")
}

type failingPhotos struct {
	*persistence.MemoryStore
	err error
}

func (f failingPhotos) WatchPhotos(roomID string, fn func([]models.Photo, error)) persistence.Unsubscribe {
	go fn(nil, f.err)
	return func() {}
}

func TestProjectorErrorIsSticky(t *testing.T) {
	mem := persistence.NewMemoryStore(nil)
	id := seedRoom(t, mem)
	boom := errors.New("permission denied")
	p := New(failingPhotos{MemoryStore: mem, err: boom})
	defer p.Close()

	p.Subscribe(id, true)
	s := waitFor(t, p, func(s Snapshot) bool { return s.Err != nil })
	assert.ErrorIs(t, s.Err, boom)
	assert.False(t, s.Loading)

	// Later deliveries from healthy streams keep the error.
	require.NoError(t, mem.UpsertUser(context.Background(), id, models.User{ID: "g", Name: "G"}))
	s = waitFor(t, p, func(s Snapshot) bool { return len(s.Users) == 2 })
	assert.ErrorIs(t, s.Err, boom)
	assert.False(t, s.Loading)
}

func TestProjectorSwitchRooms(t *testing.T) {
	store := persistence.NewMemoryStore(nil)
	a := seedRoom(t, store)
	b := seedRoom(t, store)
	p := New(store)
	defer p.Close()

	p.Subscribe(a, true)
	first := waitFor(t, p, func(s Snapshot) bool { return !s.Loading })

	p.Subscribe(b, true)
	second := waitFor(t, p, func(s Snapshot) bool { return s.RoomID == b && !s.Loading })
	assert.NotEqual(t, first.Generation, second.Generation)

	// Writes to the old room no longer reach the projector.
	_, err := store.AddMessage(context.Background(), a, models.Message{Text: "late", UserName: "x"})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, b, p.Snapshot().RoomID)
	assert.Empty(t, p.Snapshot().Messages)
}

func TestProjectorDisabled(t *testing.T) {
	store := persistence.NewMemoryStore(nil)
	id := seedRoom(t, store)
	p := New(store)
	defer p.Close()

	p.Subscribe(id, false)
	s := p.Snapshot()
	assert.False(t, s.Loading)
	assert.Nil(t, s.Room)
}

func TestProjectorCloseClosesUpdates(t *testing.T) {
	p := New(persistence.NewMemoryStore(nil))
	p.Close()
	p.Close()
	for range p.Updates() {
	}
}

func TestBuildDerivesFacts(t *testing.T) {
	t0 := time.Now()
	users := []models.User{
		{ID: "g", Ready: true, JoinedAt: t0.Add(time.Second)},
		{ID: "h", Role: models.RoleHost, Ready: true, JoinedAt: t0},
	}
	s := Build("r", &models.Room{ID: "r", Status: models.StatusGuess}, users, nil, nil)
	assert.False(t, s.Loading)
	assert.Equal(t, "h", s.Users[0].ID)
	assert.True(t, s.IsHost("h"))
	assert.Equal(t, 2, s.ReadyCount)
	assert.True(t, s.AllReady)
	assert.Equal(t, models.DoneGuessing, s.ReadyMeaning())
}

func TestLoad(t *testing.T) {
	store := persistence.NewMemoryStore(nil)
	id := seedRoom(t, store)

	s, err := Load(context.Background(), store, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusJoin, s.Status())
	assert.True(t, s.IsHost("h"))

	_, err = Load(context.Background(), store, "missing")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}
