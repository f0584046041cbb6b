package state

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/photoguess/blob"
	"github.com/wfunc/photoguess/models"
	"github.com/wfunc/photoguess/persistence"
	"github.com/wfunc/photoguess/projector"
	"github.com/wfunc/photoguess/reveal"
	"github.com/wfunc/photoguess/scoring"
	"github.com/wfunc/photoguess/services"
)

type fixture struct {
	ctx     context.Context
	store   *persistence.MemoryStore
	gateway *services.RoomGateway
	roomID  string
}

func newFixture(t *testing.T, cfg models.GameConfig) *fixture {
	t.Helper()
	store := persistence.NewMemoryStore(nil)
	t.Cleanup(func() { _ = store.Close() })
	g := services.NewRoomGateway(store, blob.NewMemoryStore("http://blobs.test"), nil)
	ctx := context.Background()
	id, err := g.CreateRoom(ctx, models.Profile{UserID: "A", Name: "Ann"}, cfg)
	require.NoError(t, err)
	require.NoError(t, g.JoinRoom(ctx, id, models.Profile{UserID: "B", Name: "Bob"}, models.RoleGuest))
	return &fixture{ctx: ctx, store: store, gateway: g, roomID: id}
}

func (f *fixture) snapshot(t *testing.T) projector.Snapshot {
	t.Helper()
	room, err := f.store.GetRoom(f.ctx, f.roomID)
	require.NoError(t, err)
	users, err := f.store.ListUsers(f.ctx, f.roomID)
	require.NoError(t, err)
	photos, err := f.store.ListPhotos(f.ctx, f.roomID)
	require.NoError(t, err)
	msgs, err := f.store.ListMessages(f.ctx, f.roomID)
	require.NoError(t, err)
	return projector.Build(f.roomID, room, users, photos, msgs)
}

func (f *fixture) readyAll(t *testing.T) {
	t.Helper()
	require.NoError(t, f.gateway.ToggleReady(f.ctx, f.roomID, "A", true))
	require.NoError(t, f.gateway.ToggleReady(f.ctx, f.roomID, "B", true))
}

func (f *fixture) upload(t *testing.T, owner string) models.Photo {
	t.Helper()
	p, err := f.gateway.UploadRoomPhoto(f.ctx, services.Upload{
		RoomID: f.roomID, FileName: owner + ".jpg", Body: strings.NewReader("img"), Size: 3, OwnerID: owner, OwnerName: owner,
	})
	require.NoError(t, err)
	return p
}

func TestStartUploadRequiresReadyLobby(t *testing.T) {
	f := newFixture(t, models.GameConfig{})
	c := NewController(f.gateway, "A", nil, DefaultTiming)

	assert.ErrorIs(t, c.StartUpload(f.ctx, f.snapshot(t)), ErrNotAllReady)

	f.readyAll(t)
	guest := NewController(f.gateway, "B", nil, DefaultTiming)
	assert.ErrorIs(t, guest.StartUpload(f.ctx, f.snapshot(t)), ErrNotHost)

	require.NoError(t, c.StartUpload(f.ctx, f.snapshot(t)))
	snap := f.snapshot(t)
	assert.Equal(t, models.StatusUpload, snap.Status())
	assert.Zero(t, snap.ReadyCount)
	assert.Nil(t, snap.Room.TimerEndsAt)
	assert.False(t, c.Transitioning())
}

func TestStartUploadArmsCountdown(t *testing.T) {
	f := newFixture(t, models.GameConfig{CountdownEnabled: true, TimerPerUserSeconds: 10})
	c := NewController(f.gateway, "A", nil, DefaultTiming)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	f.readyAll(t)
	require.NoError(t, c.StartUpload(f.ctx, f.snapshot(t)))
	room := f.snapshot(t).Room
	require.NotNil(t, room.TimerEndsAt)
	assert.True(t, room.TimerEndsAt.Equal(now.Add(140*time.Second)))
}

func TestLosingControllerLeavesNewStage(t *testing.T) {
	f := newFixture(t, models.GameConfig{CountdownEnabled: true, TimerPerUserSeconds: 10})
	first := NewController(f.gateway, "A", nil, DefaultTiming)
	second := NewController(f.gateway, "A", nil, DefaultTiming)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	first.now = func() time.Time { return now }
	second.now = func() time.Time { return now.Add(time.Hour) }

	f.readyAll(t)
	stale := f.snapshot(t)
	require.NoError(t, first.StartUpload(f.ctx, stale))
	require.NoError(t, f.gateway.ToggleReady(f.ctx, f.roomID, "B", true))

	err := second.StartUpload(f.ctx, stale)
	assert.ErrorIs(t, err, persistence.ErrStatusConflict)

	snap := f.snapshot(t)
	assert.Equal(t, models.StatusUpload, snap.Status())
	require.NotNil(t, snap.Room.TimerEndsAt)
	assert.True(t, snap.Room.TimerEndsAt.Equal(now.Add(140*time.Second)))
	assert.True(t, snap.User("B").Ready)
	assert.False(t, second.Transitioning())
}

func TestDecide(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	ends := t0.Add(time.Minute)
	ready := t0.Add(time.Second)
	stale := t0.Add(-time.Second)
	build := func(status models.Status, countdown bool, photos int, readyAt ...*time.Time) projector.Snapshot {
		room := &models.Room{ID: "r", Status: status, CountdownEnabled: countdown, TimerEndsAt: &ends, StageStartedAt: &t0}
		users := []models.User{{ID: "A", Role: models.RoleHost}, {ID: "B", JoinedAt: t0}}
		for i, at := range readyAt {
			users[i].Ready = at != nil
			users[i].ReadyAt = at
		}
		var ps []models.Photo
		for i := 0; i < photos; i++ {
			ps = append(ps, models.Photo{ID: string(rune('p' + i))})
		}
		return projector.Build("r", room, users, ps, nil)
	}

	cases := []struct {
		name   string
		snap   projector.Snapshot
		now    time.Time
		viewer string
		want   Reason
	}{
		{"upload all ready", build(models.StatusUpload, false, 1, &ready, &ready), t0, "A", ReasonAllReady},
		{"upload no photos", build(models.StatusUpload, true, 0, &ready, &ready), ends, "A", ""},
		{"upload timer", build(models.StatusUpload, true, 1, nil, nil), ends, "A", ReasonTimer},
		{"upload timer ignored without countdown", build(models.StatusUpload, false, 1, nil, nil), ends, "A", ""},
		{"upload stale ready", build(models.StatusUpload, false, 1, &stale, &ready), t0, "A", ""},
		{"guess all ready", build(models.StatusGuess, false, 0, &ready, &ready), t0, "A", ReasonAllReady},
		{"guess timer not reached", build(models.StatusGuess, true, 1, &ready, nil), ends.Add(-time.Millisecond), "A", ""},
		{"guess timer", build(models.StatusGuess, true, 1, &ready, nil), ends, "A", ReasonTimer},
		{"guest never decides", build(models.StatusGuess, false, 1, &ready, &ready), t0, "B", ""},
		{"lobby never automatic", build(models.StatusJoin, true, 1, &ready, &ready), ends, "A", ""},
		{"results never automatic", build(models.StatusResults, true, 1, &ready, &ready), ends, "A", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, ok := Decide(tc.snap, tc.now, tc.viewer)
			if tc.want == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tc.want, d.Reason)
			next, _ := tc.snap.Status().Next()
			assert.Equal(t, next, d.To)
		})
	}

	loading := build(models.StatusGuess, false, 1, &ready, &ready)
	loading.Loading = true
	_, ok := Decide(loading, t0, "A")
	assert.False(t, ok)
	loading.Loading = false
	loading.Err = errors.New("denied")
	_, ok = Decide(loading, t0, "A")
	assert.False(t, ok)
}

func TestShowResultsScoresOnceUnderDoubleTrigger(t *testing.T) {
	f := newFixture(t, models.GameConfig{})
	host := NewController(f.gateway, "A", nil, DefaultTiming)
	f.readyAll(t)
	require.NoError(t, host.StartUpload(f.ctx, f.snapshot(t)))
	pa := f.upload(t, "A")
	pb := f.upload(t, "B")
	require.NoError(t, host.StartGuess(f.ctx, f.snapshot(t)))
	require.NoError(t, f.gateway.AssignPhotoToUser(f.ctx, f.roomID, pb.ID, "B", "A"))
	require.NoError(t, f.gateway.AssignPhotoToUser(f.ctx, f.roomID, pa.ID, "A", "B"))

	snap := f.snapshot(t)
	// Two host clients and a repeated trigger on one of them, all from the same snapshot.
	other := NewController(f.gateway, "A", nil, DefaultTiming)
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i, c := range []*Controller{host, host, other, other} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = c.ShowResults(f.ctx, snap)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, persistence.ErrStatusConflict) || errors.Is(err, ErrTransitionInProgress), err)
	}
	assert.Equal(t, 1, succeeded)

	after := f.snapshot(t)
	assert.Equal(t, models.StatusResults, after.Status())
	assert.NotNil(t, after.Room.ResultsAppliedAt)
	assert.Nil(t, after.Room.TimerEndsAt)
	for _, u := range after.Users {
		assert.Equal(t, 100, u.Score, u.ID)
	}
}

func TestShowResultsReportsUnscoredGuessers(t *testing.T) {
	f := newFixture(t, models.GameConfig{})
	host := NewController(f.gateway, "A", nil, DefaultTiming)
	f.readyAll(t)
	require.NoError(t, host.StartUpload(f.ctx, f.snapshot(t)))
	pa := f.upload(t, "A")
	pb := f.upload(t, "B")
	require.NoError(t, host.StartGuess(f.ctx, f.snapshot(t)))
	require.NoError(t, f.gateway.AssignPhotoToUser(f.ctx, f.roomID, pb.ID, "B", "A"))
	require.NoError(t, f.gateway.AssignPhotoToUser(f.ctx, f.roomID, pa.ID, "A", "B"))

	boom := errors.New("write timeout")
	failing := &flakyActions{RoomGateway: f.gateway, failScore: map[string]error{"B": boom}}
	c := NewController(failing, "A", nil, DefaultTiming)

	err := c.ShowResults(f.ctx, f.snapshot(t))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "B+100")
	assert.NotContains(t, err.Error(), "A+100")
	assert.False(t, c.Transitioning())

	after := f.snapshot(t)
	assert.Equal(t, models.StatusResults, after.Status())
	assert.Nil(t, after.Room.ResultsAppliedAt)
	assert.Equal(t, 100, after.User("A").Score, "other guessers are still scored")
	assert.Zero(t, after.User("B").Score)
}

func TestObserveIsSingleShotPerStage(t *testing.T) {
	f := newFixture(t, models.GameConfig{})
	host := NewController(f.gateway, "A", nil, DefaultTiming)
	f.readyAll(t)
	require.NoError(t, host.StartUpload(f.ctx, f.snapshot(t)))
	f.upload(t, "A")
	f.readyAll(t)

	failing := &flakyActions{RoomGateway: f.gateway, failStatus: errors.New("offline")}
	c := NewController(failing, "A", nil, DefaultTiming)

	d, fired, err := c.Observe(f.ctx, f.snapshot(t))
	require.True(t, fired)
	assert.Equal(t, models.StatusGuess, d.To)
	assert.Error(t, err)
	assert.False(t, c.Transitioning())

	// The condition still holds but the stage already had its automatic attempt.
	failing.failStatus = nil
	_, fired, err = c.Observe(f.ctx, f.snapshot(t))
	assert.False(t, fired)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusUpload, f.snapshot(t).Status())

	// A manual retry still works.
	require.NoError(t, c.StartGuess(f.ctx, f.snapshot(t)))
	assert.Equal(t, models.StatusGuess, f.snapshot(t).Status())
}

func TestObserveNeverAdvancesWithoutPhotos(t *testing.T) {
	f := newFixture(t, models.GameConfig{CountdownEnabled: true})
	host := NewController(f.gateway, "A", nil, DefaultTiming)
	f.readyAll(t)
	require.NoError(t, host.StartUpload(f.ctx, f.snapshot(t)))
	f.readyAll(t)

	host.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, fired, err := host.Observe(f.ctx, f.snapshot(t))
	assert.False(t, fired)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusUpload, f.snapshot(t).Status())
}

func TestAdvanceResults(t *testing.T) {
	f := newFixture(t, models.GameConfig{})
	host := NewController(f.gateway, "A", nil, DefaultTiming)
	f.readyAll(t)
	require.NoError(t, host.StartUpload(f.ctx, f.snapshot(t)))
	f.upload(t, "A")
	f.upload(t, "B")
	require.NoError(t, host.StartGuess(f.ctx, f.snapshot(t)))
	require.NoError(t, host.ShowResults(f.ctx, f.snapshot(t)))

	snap := f.snapshot(t)
	ordered := reveal.OrderPhotos(snap.Photos)
	assert.ErrorIs(t, host.AdvanceResults(f.ctx, snap, reveal.State{PhotoID: ordered[0].ID, Phase: reveal.PhaseGuesses}), ErrRevealPending)
	assert.ErrorIs(t, host.AdvanceResults(f.ctx, snap, reveal.State{PhotoID: ordered[1].ID, Phase: reveal.PhaseDone}), ErrRevealPending)

	guest := NewController(f.gateway, "B", nil, DefaultTiming)
	assert.ErrorIs(t, guest.AdvanceResults(f.ctx, snap, reveal.State{PhotoID: ordered[0].ID, Phase: reveal.PhaseDone}), ErrNotHost)

	require.NoError(t, host.AdvanceResults(f.ctx, snap, reveal.State{PhotoID: ordered[0].ID, Phase: reveal.PhaseDone}))
	snap = f.snapshot(t)
	assert.Equal(t, 1, snap.Room.ResultsIndex)
	assert.Equal(t, models.StatusResults, snap.Status())

	require.NoError(t, host.AdvanceResults(f.ctx, snap, reveal.State{PhotoID: ordered[1].ID, Phase: reveal.PhaseDone}))
	snap = f.snapshot(t)
	assert.Equal(t, models.StatusComplete, snap.Status())
	assert.NotNil(t, snap.Room.CompletedAt)

	assert.ErrorIs(t, host.AdvanceResults(f.ctx, snap, reveal.State{}), ErrTransitionNotAllowed)
}

func TestAdvanceResultsWithoutPhotosCompletes(t *testing.T) {
	f := newFixture(t, models.GameConfig{})
	host := NewController(f.gateway, "A", nil, DefaultTiming)
	f.readyAll(t)
	require.NoError(t, host.StartUpload(f.ctx, f.snapshot(t)))
	require.NoError(t, host.StartGuess(f.ctx, f.snapshot(t)))
	require.NoError(t, host.ShowResults(f.ctx, f.snapshot(t)))

	require.NoError(t, host.AdvanceResults(f.ctx, f.snapshot(t), reveal.State{}))
	assert.Equal(t, models.StatusComplete, f.snapshot(t).Status())
}

func TestFullGame(t *testing.T) {
	f := newFixture(t, models.GameConfig{MaxPhotos: models.IntPtr(1)})
	host := NewController(f.gateway, "A", nil, DefaultTiming)
	observe := func() (Decision, bool) {
		d, fired, err := host.Observe(f.ctx, f.snapshot(t))
		require.NoError(t, err)
		return d, fired
	}

	f.readyAll(t)
	_, fired := observe()
	assert.False(t, fired, "the lobby only starts by hand")
	require.NoError(t, host.StartUpload(f.ctx, f.snapshot(t)))

	pa := f.upload(t, "A")
	pb := f.upload(t, "B")
	counts := models.UploadCounts(f.snapshot(t).Users, f.snapshot(t).Photos)
	assert.False(t, models.CanUpload(counts["A"], models.IntPtr(1)))

	_, fired = observe()
	assert.False(t, fired, "nobody is done uploading yet")
	f.readyAll(t)
	d, fired := observe()
	require.True(t, fired)
	assert.Equal(t, models.StatusGuess, d.To)
	assert.Equal(t, models.StatusGuess, f.snapshot(t).Status())

	// Own photos are never guessable.
	assert.Equal(t, []string{pb.ID}, photoIDs(models.GuessableFor(f.snapshot(t).Photos, "A")))
	require.NoError(t, f.gateway.AssignPhotoToUser(f.ctx, f.roomID, pb.ID, "B", "A"))
	require.NoError(t, f.gateway.AssignPhotoToUser(f.ctx, f.roomID, pa.ID, "A", "B"))
	f.readyAll(t)
	d, fired = observe()
	require.True(t, fired)
	assert.Equal(t, models.StatusResults, d.To)

	snap := f.snapshot(t)
	board := scoring.Scoreboard(snap.Users)
	require.Len(t, board, 2)
	assert.Equal(t, "A", board[0].User.ID)
	assert.Equal(t, "B", board[1].User.ID)
	for _, s := range board {
		assert.Equal(t, 100, s.User.Score)
		assert.Equal(t, 1, s.Rank)
	}

	_, fired = observe()
	assert.False(t, fired)
}

func photoIDs(ps []models.Photo) []string {
	var out []string
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}

type flakyActions struct {
	*services.RoomGateway
	failStatus error
	failScore  map[string]error
}

func (f *flakyActions) RecordScore(ctx context.Context, roomID, userID string, delta int) error {
	if err := f.failScore[userID]; err != nil {
		return err
	}
	return f.RoomGateway.RecordScore(ctx, roomID, userID, delta)
}

func (f *flakyActions) ChangeStatus(ctx context.Context, roomID string, from, next models.Status, extra persistence.Fields) error {
	if f.failStatus != nil {
		return f.failStatus
	}
	return f.RoomGateway.ChangeStatus(ctx, roomID, from, next, extra)
}
