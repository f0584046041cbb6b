package room

import (
	"time"

	"github.com/wfunc/photoguess/models"
	"github.com/wfunc/photoguess/projector"
	"github.com/wfunc/photoguess/reveal"
	"github.com/wfunc/photoguess/scoring"
	"github.com/wfunc/photoguess/timer"
)

// View is everything one player's screen shows, pushed after every change.
type View struct {
	RoomID        string           `json:"roomId"`
	Status        models.Status    `json:"status"`
	Title         string           `json:"title"`
	ReadyMeaning  string           `json:"readyMeaning"`
	Room          *models.Room     `json:"room,omitempty"`
	Users         []models.User    `json:"users"`
	Photos        []models.Photo   `json:"photos"`
	Messages      []models.Message `json:"messages"`
	Loading       bool             `json:"loading"`
	Error         string           `json:"error,omitempty"`
	HostID        string           `json:"hostId,omitempty"`
	ReadyCount    int              `json:"readyCount"`
	AllReady      bool             `json:"allReady"`
	Transitioning bool             `json:"transitioning"`

	Me                *models.User `json:"me,omitempty"`
	IsHost            bool         `json:"isHost"`
	InteractionLocked bool         `json:"interactionLocked"`

	Countdown   string `json:"countdown"`
	SecondsLeft int    `json:"secondsLeft"`
	TimerActive bool   `json:"timerActive"`

	Uploads              int  `json:"uploads"`
	CanUpload            bool `json:"canUpload"`
	UploadRequirementMet bool `json:"uploadRequirementMet"`

	Guessable     []models.Photo      `json:"guessable,omitempty"`
	Unassigned    []models.Photo      `json:"unassigned,omitempty"`
	Assignments   map[string][]string `json:"assignments,omitempty"` // target user id -> photo ids
	GuessComplete bool                `json:"guessComplete"`

	Results    *reveal.View       `json:"results,omitempty"`
	Scoreboard []scoring.Standing `json:"scoreboard,omitempty"`
}

// BuildView projects snap and the local reveal state into viewerID's screen at now.
func BuildView(snap projector.Snapshot, st reveal.State, viewerID string, now time.Time, transitioning bool) View {
	status := snap.Status()
	v := View{
		RoomID:        snap.RoomID,
		Status:        status,
		Title:         status.Title(),
		ReadyMeaning:  snap.ReadyMeaning().String(),
		Room:          snap.Room,
		Users:         snap.Users,
		Photos:        snap.Photos,
		Messages:      snap.Messages,
		Loading:       snap.Loading,
		ReadyCount:    snap.ReadyCount,
		AllReady:      snap.AllReady,
		Transitioning: transitioning,
		Countdown:     timer.FormatCountdown(0, false),
	}
	if snap.Err != nil {
		v.Error = snap.Err.Error()
	}
	if snap.Host != nil {
		v.HostID = snap.Host.ID
	}
	v.Me = snap.User(viewerID)
	v.IsHost = snap.IsHost(viewerID)
	v.InteractionLocked = models.InteractionLocked(status, v.Me)
	if snap.Room == nil {
		return v
	}

	if secs, ok := timer.SecondsLeft(snap.Room.TimerEndsAt, now); ok {
		v.SecondsLeft = secs
		v.TimerActive = true
		v.Countdown = timer.FormatCountdown(secs, true)
	}

	switch status {
	case models.StatusUpload:
		v.Uploads = models.UploadCounts(snap.Users, snap.Photos)[viewerID]
		v.CanUpload = v.Me != nil && models.CanUpload(v.Uploads, snap.Room.MaxPhotos)
		v.UploadRequirementMet = models.MeetsUploadRequirement(v.Uploads, snap.Room.MaxPhotos)
	case models.StatusGuess:
		v.Guessable = models.GuessableFor(snap.Photos, viewerID)
		v.Unassigned = models.UnassignedFor(snap.Photos, viewerID)
		v.Assignments = make(map[string][]string)
		for target, photos := range models.AssignmentsBy(snap.Photos, viewerID) {
			for _, p := range photos {
				v.Assignments[target] = append(v.Assignments[target], p.ID)
			}
		}
		v.GuessComplete = models.GuessComplete(snap.Photos, viewerID)
	case models.StatusResults:
		rv := reveal.BuildView(snap.Room.ResultsIndex, snap.Photos, snap.Users, st, viewerID, v.IsHost)
		v.Results = &rv
		v.Scoreboard = scoring.Scoreboard(snap.Users)
	case models.StatusComplete:
		v.Scoreboard = scoring.Scoreboard(snap.Users)
	}
	return v
}
