package state

import (
	"time"

	"github.com/wfunc/photoguess/models"
	"github.com/wfunc/photoguess/projector"
	"github.com/wfunc/photoguess/timer"
)

type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerAuto   Trigger = "auto"
)

// Reason says which condition called for an automatic transition.
type Reason string

const (
	ReasonTimer    Reason = "timer"
	ReasonAllReady Reason = "all_ready"
)

// Decision is a transition the controller should make.
type Decision struct {
	From   models.Status
	To     models.Status
	Reason Reason
}

// Decide returns the automatic transition snap calls for when seen by viewerID
// at now. Only the host acts, and only on a fully loaded, healthy snapshot.
// Upload advances once a photo exists and the timer ran out or everyone is
// done; guess advances on the same signals without the photo requirement.
func Decide(snap projector.Snapshot, now time.Time, viewerID string) (Decision, bool) {
	if snap.Loading || snap.Err != nil || snap.Room == nil || !snap.IsHost(viewerID) {
		return Decision{}, false
	}
	room := snap.Room
	switch room.Status {
	case models.StatusUpload:
		if len(snap.Photos) == 0 {
			return Decision{}, false
		}
	case models.StatusGuess:
	default:
		return Decision{}, false
	}

	next, _ := room.Status.Next()
	d := Decision{From: room.Status, To: next}
	switch {
	case room.CountdownEnabled && timer.Expired(room.TimerEndsAt, now):
		d.Reason = ReasonTimer
	case StageReady(snap):
		d.Reason = ReasonAllReady
	default:
		return Decision{}, false
	}
	return d, true
}

// StageReady reports whether every user has signalled ready since the current
// stage began. A ready flag older than the stage is left over from a reset
// that this client has not observed yet and does not count.
func StageReady(snap projector.Snapshot) bool {
	if len(snap.Users) == 0 || snap.Room == nil {
		return false
	}
	started := snap.Room.StageStartedAt
	for _, u := range snap.Users {
		if !u.Ready {
			return false
		}
		if started != nil && (u.ReadyAt == nil || u.ReadyAt.Before(*started)) {
			return false
		}
	}
	return true
}
