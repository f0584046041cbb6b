package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wfunc/photoguess/logger"
	"github.com/wfunc/photoguess/models"
	"github.com/wfunc/photoguess/monitor"
	"github.com/wfunc/photoguess/persistence"
	"github.com/wfunc/photoguess/projector"
	"github.com/wfunc/photoguess/reveal"
	"github.com/wfunc/photoguess/scoring"
	"github.com/wfunc/photoguess/timer"
)

// Actions is the part of the room gateway the controller writes through.
type Actions interface {
	ChangeStatus(ctx context.Context, roomID string, from, next models.Status, extra persistence.Fields) error
	ResetReadyForAll(ctx context.Context, roomID string, status models.Status) error
	SetTimer(ctx context.Context, roomID string, status models.Status, endsAt *time.Time) error
	RecordScore(ctx context.Context, roomID, userID string, delta int) error
	MarkResultsApplied(ctx context.Context, roomID string) error
	SetResultsIndex(ctx context.Context, roomID string, index int) error
	CompleteRoom(ctx context.Context, roomID string) error
}

// Timing sizes the countdown of timed stages.
type Timing struct {
	BaseSeconds           int
	DefaultPerUserSeconds int
}

var DefaultTiming = Timing{BaseSeconds: 120, DefaultPerUserSeconds: models.DefaultTimerPerUserSeconds}

// Controller moves a room through its stages on behalf of one client. Only
// the host's controller ever writes. Methods are safe for concurrent use; at
// most one transition runs at a time.
type Controller struct {
	actions Actions
	rules   *Rules
	monitor *monitor.Monitor
	timing  Timing
	userID  string
	now     func() time.Time

	transitioning atomic.Bool

	mu          sync.Mutex
	guardRoom   string
	guardStatus models.Status
	fired       bool
}

func NewController(actions Actions, userID string, mon *monitor.Monitor, timing Timing) *Controller {
	if timing.BaseSeconds <= 0 {
		timing.BaseSeconds = DefaultTiming.BaseSeconds
	}
	if timing.DefaultPerUserSeconds <= 0 {
		timing.DefaultPerUserSeconds = DefaultTiming.DefaultPerUserSeconds
	}
	return &Controller{
		actions: actions,
		rules:   DefaultRules(),
		monitor: mon,
		timing:  timing,
		userID:  userID,
		now:     time.Now,
	}
}

// Transitioning reports whether a transition is being written.
func (c *Controller) Transitioning() bool {
	return c.transitioning.Load()
}

// StartUpload leaves the lobby.
func (c *Controller) StartUpload(ctx context.Context, snap projector.Snapshot) error {
	return c.transition(ctx, snap, models.StatusUpload, TriggerManual)
}

// StartGuess ends the upload stage.
func (c *Controller) StartGuess(ctx context.Context, snap projector.Snapshot) error {
	return c.transition(ctx, snap, models.StatusGuess, TriggerManual)
}

// ShowResults ends guessing and applies the round's scores.
func (c *Controller) ShowResults(ctx context.Context, snap projector.Snapshot) error {
	return c.transition(ctx, snap, models.StatusResults, TriggerManual)
}

// Observe runs the automatic transition snap calls for, if any. Each stage
// fires automatically at most once: after the first attempt, success or
// not, automatic triggers stay off until the status changes.
func (c *Controller) Observe(ctx context.Context, snap projector.Snapshot) (Decision, bool, error) {
	d, ok := c.Arm(snap)
	if !ok {
		return Decision{}, false, nil
	}
	return d, true, c.Run(ctx, snap, d)
}

// Arm consumes the stage's automatic attempt when snap calls for one. The
// caller must follow a true result with Run.
func (c *Controller) Arm(snap projector.Snapshot) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := snap.Status()
	if snap.RoomID != c.guardRoom || status != c.guardStatus {
		c.guardRoom = snap.RoomID
		c.guardStatus = status
		c.fired = false
	}
	if c.fired || c.Transitioning() {
		return Decision{}, false
	}
	d, ok := Decide(snap, c.now(), c.userID)
	if !ok {
		return Decision{}, false
	}
	c.fired = true
	return d, true
}

// Run performs an armed automatic transition.
func (c *Controller) Run(ctx context.Context, snap projector.Snapshot, d Decision) error {
	logger.Log.Infof("room %s: auto %s -> %s (%s)", snap.RoomID, d.From, d.To, d.Reason)
	return c.transition(ctx, snap, d.To, TriggerAuto)
}

func (c *Controller) begin(snap projector.Snapshot) error {
	if !snap.IsHost(c.userID) {
		return ErrNotHost
	}
	if !c.transitioning.CompareAndSwap(false, true) {
		return ErrTransitionInProgress
	}
	return nil
}

func (c *Controller) transition(ctx context.Context, snap projector.Snapshot, to models.Status, trigger Trigger) (err error) {
	if snap.Room == nil {
		return ErrTransitionNotAllowed
	}
	from := snap.Room.Status
	if err = c.rules.Check(from, to, snap); err != nil {
		return err
	}
	if err = c.begin(snap); err != nil {
		return err
	}
	defer c.transitioning.Store(false)
	defer func() {
		c.monitor.ObserveTransition(string(from), string(to), string(trigger), err)
		if err != nil {
			logger.Log.Errorf("room %s: %s -> %s failed: %v", snap.RoomID, from, to, err)
		}
	}()

	switch to {
	case models.StatusUpload, models.StatusGuess:
		return c.enterTimedStage(ctx, snap, from, to)
	case models.StatusResults:
		return c.enterResults(ctx, snap)
	}
	return ErrTransitionNotAllowed
}

// enterTimedStage arms the stage countdown, clears ready flags and only then
// moves the status. Each write is conditional on the room still being in
// from, so a controller that lost the race leaves the new stage alone.
func (c *Controller) enterTimedStage(ctx context.Context, snap projector.Snapshot, from, to models.Status) error {
	room := snap.Room
	var endsAt *time.Time
	if room.CountdownEnabled {
		perUser := room.TimerPerUserSeconds
		if perUser <= 0 {
			perUser = c.timing.DefaultPerUserSeconds
		}
		t := c.now().Add(timer.StageDuration(c.timing.BaseSeconds, perUser, len(snap.Users)))
		endsAt = &t
	}
	if err := c.actions.SetTimer(ctx, snap.RoomID, from, endsAt); err != nil {
		return fmt.Errorf("state: set timer: %w", err)
	}
	if err := c.actions.ResetReadyForAll(ctx, snap.RoomID, from); err != nil {
		return fmt.Errorf("state: reset ready: %w", err)
	}
	if err := c.actions.ChangeStatus(ctx, snap.RoomID, from, to, nil); err != nil {
		return fmt.Errorf("state: change status: %w", err)
	}
	return nil
}

// enterResults claims the transition with a conditional status write before
// touching scores, so that of several racing hosts only the one whose write
// lands applies the round.
func (c *Controller) enterResults(ctx context.Context, snap projector.Snapshot) error {
	deltas := scoring.ScoreRound(snap.Photos)

	err := c.actions.ChangeStatus(ctx, snap.RoomID, models.StatusGuess, models.StatusResults, persistence.Fields{
		persistence.FieldResultsIndex:   0,
		persistence.FieldTimerEndsAt:    nil,
		persistence.FieldTimerStartedAt: nil,
	})
	if err != nil {
		return fmt.Errorf("state: change status: %w", err)
	}

	// Every increment is attempted; the room is already in results, so a
	// failed one is reported for repair rather than retried.
	var (
		eg       errgroup.Group
		mu       sync.Mutex
		unscored []string
	)
	for userID, delta := range deltas {
		eg.Go(func() error {
			err := c.actions.RecordScore(ctx, snap.RoomID, userID, delta)
			if err != nil {
				mu.Lock()
				unscored = append(unscored, fmt.Sprintf("%s+%d", userID, delta))
				mu.Unlock()
			}
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		sort.Strings(unscored)
		logger.Log.Errorf("room %s: scores not applied for %v: %v", snap.RoomID, unscored, err)
		return fmt.Errorf("state: record scores for %s: %w", strings.Join(unscored, ","), err)
	}
	if err := c.actions.MarkResultsApplied(ctx, snap.RoomID); err != nil {
		return fmt.Errorf("state: mark results applied: %w", err)
	}
	logger.Log.Infof("room %s: scored %d guessers", snap.RoomID, len(deltas))
	return nil
}

// AdvanceResults moves past the photo the host has finished revealing: to the
// next photo, or out of the game after the last one. st is the host's local
// reveal state, which must be done with the current photo.
func (c *Controller) AdvanceResults(ctx context.Context, snap projector.Snapshot, st reveal.State) (err error) {
	if snap.Room == nil || snap.Room.Status != models.StatusResults {
		return ErrTransitionNotAllowed
	}
	ordered := reveal.OrderPhotos(snap.Photos)
	idx := reveal.ClampIndex(snap.Room.ResultsIndex, len(ordered))
	final := idx >= len(ordered)-1
	if len(ordered) > 0 && (st.PhotoID != ordered[idx].ID || st.Phase != reveal.PhaseDone) {
		return ErrRevealPending
	}
	if err = c.begin(snap); err != nil {
		return err
	}
	defer c.transitioning.Store(false)

	if !final {
		return c.actions.SetResultsIndex(ctx, snap.RoomID, idx+1)
	}
	if err = c.rules.Check(models.StatusResults, models.StatusComplete, snap); err != nil {
		return err
	}
	err = c.actions.CompleteRoom(ctx, snap.RoomID)
	c.monitor.ObserveTransition(string(models.StatusResults), string(models.StatusComplete), string(TriggerManual), err)
	if err != nil && !errors.Is(err, persistence.ErrStatusConflict) {
		logger.Log.Errorf("room %s: complete failed: %v", snap.RoomID, err)
	}
	return err
}
