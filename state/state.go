package state

import (
	"errors"
	"sync"

	"github.com/wfunc/photoguess/models"
	"github.com/wfunc/photoguess/projector"
)

var (
	// ErrTransitionNotAllowed is returned when a state transition is not allowed.
	ErrTransitionNotAllowed = errors.New("state transition not allowed")
	ErrNotHost              = errors.New("only the host can change the stage")
	ErrNotAllReady          = errors.New("not every player is ready")
	ErrNotEnoughPlayers     = errors.New("at least two players are needed")
	ErrTransitionInProgress = errors.New("a stage transition is already running")
	ErrRevealPending        = errors.New("the current photo has not been fully revealed")
)

// MinPlayers is the smallest room that may leave the lobby.
const MinPlayers = 2

// Condition decides whether a transition may fire for a snapshot. A nil
// condition always allows it.
type Condition func(snap projector.Snapshot) error

// Rules is the table of permitted stage transitions.
type Rules struct {
	transitions map[models.Status]map[models.Status]Condition // from -> to -> condition
	mutex       sync.RWMutex
}

func NewRules() *Rules {
	return &Rules{transitions: make(map[models.Status]map[models.Status]Condition)}
}

// DefaultRules allows each stage to move one step forward. Leaving the lobby
// needs at least two players, all of them ready.
func DefaultRules() *Rules {
	r := NewRules()
	r.AddTransition(models.StatusJoin, models.StatusUpload, lobbyReady)
	r.AddTransition(models.StatusUpload, models.StatusGuess, nil)
	r.AddTransition(models.StatusGuess, models.StatusResults, nil)
	r.AddTransition(models.StatusResults, models.StatusComplete, nil)
	return r
}

func (r *Rules) AddTransition(from, to models.Status, condition Condition) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.transitions[from]; !exists {
		r.transitions[from] = make(map[models.Status]Condition)
	}
	r.transitions[from][to] = condition
}

// Check returns nil when from -> to is in the table and its condition holds.
func (r *Rules) Check(from, to models.Status, snap projector.Snapshot) error {
	r.mutex.RLock()
	condition, exists := r.transitions[from][to]
	r.mutex.RUnlock()

	if !exists {
		return ErrTransitionNotAllowed
	}
	if condition == nil {
		return nil
	}
	return condition(snap)
}

func lobbyReady(snap projector.Snapshot) error {
	if len(snap.Users) < MinPlayers {
		return ErrNotEnoughPlayers
	}
	if !snap.AllReady {
		return ErrNotAllReady
	}
	return nil
}
