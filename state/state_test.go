package state

import (
	"errors"
	"testing"
	"time"

	"github.com/wfunc/photoguess/models"
	"github.com/wfunc/photoguess/projector"
)

// lobby builds a snapshot of a join-stage room with the given ready flags.
// The first user is the host.
func lobby(ready ...bool) projector.Snapshot {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var users []models.User
	for i, r := range ready {
		u := models.User{ID: string(rune('a' + i)), Ready: r, JoinedAt: t0.Add(time.Duration(i) * time.Second)}
		if i == 0 {
			u.Role = models.RoleHost
		}
		users = append(users, u)
	}
	return projector.Build("room", &models.Room{ID: "room", Status: models.StatusJoin, HostUID: "a"}, users, nil, nil)
}

func TestRules_ForwardOnly(t *testing.T) {
	r := DefaultRules()
	snap := lobby(true, true)

	cases := []struct {
		from, to models.Status
		allowed  bool
	}{
		{models.StatusJoin, models.StatusUpload, true},
		{models.StatusUpload, models.StatusGuess, true},
		{models.StatusGuess, models.StatusResults, true},
		{models.StatusResults, models.StatusComplete, true},
		{models.StatusUpload, models.StatusJoin, false},
		{models.StatusJoin, models.StatusGuess, false},
		{models.StatusComplete, models.StatusJoin, false},
		{models.StatusComplete, models.StatusComplete, false},
	}
	for _, tc := range cases {
		err := r.Check(tc.from, tc.to, snap)
		if tc.allowed && err != nil {
			t.Errorf("%s -> %s: expected allowed, got %v", tc.from, tc.to, err)
		}
		if !tc.allowed && err != ErrTransitionNotAllowed {
			t.Errorf("%s -> %s: expected ErrTransitionNotAllowed, got %v", tc.from, tc.to, err)
		}
	}
}

func TestRules_LobbyConditions(t *testing.T) {
	r := DefaultRules()

	if err := r.Check(models.StatusJoin, models.StatusUpload, lobby(true)); err != ErrNotEnoughPlayers {
		t.Errorf("Expected ErrNotEnoughPlayers for a single player, got %v", err)
	}
	if err := r.Check(models.StatusJoin, models.StatusUpload, lobby(true, false)); err != ErrNotAllReady {
		t.Errorf("Expected ErrNotAllReady, got %v", err)
	}
	if err := r.Check(models.StatusJoin, models.StatusUpload, lobby(true, true, true)); err != nil {
		t.Errorf("Expected lobby of three ready players to start, got %v", err)
	}
}

func TestRules_CustomCondition(t *testing.T) {
	r := NewRules()
	blocked := errors.New("blocked")
	r.AddTransition(models.StatusJoin, models.StatusUpload, func(projector.Snapshot) error { return blocked })

	if err := r.Check(models.StatusJoin, models.StatusUpload, lobby()); err != blocked {
		t.Errorf("Expected condition error, got %v", err)
	}
	r.AddTransition(models.StatusJoin, models.StatusUpload, nil)
	if err := r.Check(models.StatusJoin, models.StatusUpload, lobby()); err != nil {
		t.Errorf("Expected nil condition to allow, got %v", err)
	}
}
