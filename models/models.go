// models/models.go
package models

import (
	"time"
)

// Status is the room lifecycle stage. The string values are a stable wire contract.
type Status string

const (
	StatusJoin     Status = "join"
	StatusUpload   Status = "upload"
	StatusGuess    Status = "guess"
	StatusResults  Status = "results"
	StatusComplete Status = "complete"
)

var statusOrder = []Status{StatusJoin, StatusUpload, StatusGuess, StatusResults, StatusComplete}

// Valid reports whether s is one of the five known stages.
func (s Status) Valid() bool {
	return s.rank() >= 0
}

func (s Status) rank() int {
	for i, st := range statusOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the single forward successor of s. Complete has none.
func (s Status) Next() (Status, bool) {
	r := s.rank()
	if r < 0 || r == len(statusOrder)-1 {
		return "", false
	}
	return statusOrder[r+1], true
}

// Before reports whether s comes strictly earlier in the lifecycle than other.
func (s Status) Before(other Status) bool {
	return s.rank() >= 0 && other.rank() >= 0 && s.rank() < other.rank()
}

// Title is the heading shown for the stage.
func (s Status) Title() string {
	switch s {
	case StatusJoin:
		return "Lobby"
	case StatusUpload:
		return "Round 1: Upload"
	case StatusGuess:
		return "Round 2: Guess"
	case StatusResults:
		return "Round 3: Results"
	case StatusComplete:
		return "Complete"
	}
	return "Room"
}

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// ReadyMeaning names what a user's ready flag signals in the current stage.
// The same stored boolean is reused by every stage; only its reading changes.
type ReadyMeaning int

const (
	ReadyUnused ReadyMeaning = iota
	ReadyToStart
	DoneUploading
	DoneGuessing
)

func ReadyMeaningFor(s Status) ReadyMeaning {
	switch s {
	case StatusJoin:
		return ReadyToStart
	case StatusUpload:
		return DoneUploading
	case StatusGuess:
		return DoneGuessing
	}
	return ReadyUnused
}

func (m ReadyMeaning) String() string {
	switch m {
	case ReadyToStart:
		return "ready_to_start"
	case DoneUploading:
		return "done_uploading"
	case DoneGuessing:
		return "done_guessing"
	}
	return "unused"
}

// SystemUserName marks messages generated by the game rather than a player.
const SystemUserName = "system"

const (
	DefaultMaxPhotos           = 1
	DefaultTimerPerUserSeconds = 30
	DefaultHostName            = "Host"
	DefaultGuestName           = "Guest"
)

// Room is the shared per-session document.
type Room struct {
	ID                  string     `json:"id"`
	Status              Status     `json:"status"`
	GameName            string     `json:"gameName"`
	CountdownEnabled    bool       `json:"countdownEnabled"`
	MaxPhotos           *int       `json:"maxPhotos"` // nil means unbounded
	HostUID             string     `json:"hostUid"`
	TimerPerUserSeconds int        `json:"timerPerUserSeconds"`
	Round               int        `json:"round"`
	TimerEndsAt         *time.Time `json:"timerEndsAt"`
	TimerStartedAt      *time.Time `json:"timerStartedAt"`
	StageStartedAt      *time.Time `json:"stageStartedAt,omitempty"` // set by every status change
	ResultsIndex        int        `json:"resultsIndex"`
	ResultsAppliedAt    *time.Time `json:"resultsAppliedAt,omitempty"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// User is a room-scoped player record.
type User struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	AvatarSeed string     `json:"avatarSeed,omitempty"`
	PhotoURL   string     `json:"photoURL,omitempty"`
	Role       Role       `json:"role"`
	Ready      bool       `json:"ready"`
	ReadyAt    *time.Time `json:"readyAt,omitempty"`
	Score      int        `json:"score"`
	JoinedAt   time.Time  `json:"joinedAt"`
	Connected  bool       `json:"connected"`
}

func (u User) IsHost() bool {
	return u.Role == RoleHost
}

// Photo is an uploaded image and the guesses made about its uploader.
type Photo struct {
	ID             string            `json:"id"`
	URL            string            `json:"url"`
	StoragePath    string            `json:"storagePath"`
	UploadedBy     string            `json:"uploadedBy"`
	UploadedByName string            `json:"uploadedByName"`
	CreatedAt      time.Time         `json:"createdAt"`
	Guesses        map[string]string `json:"guesses"` // guesser id -> guessed uploader id
}

// Message is an append-only chat line.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	UserName  string    `json:"userName"`
	UserPhoto string    `json:"userPhoto,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Profile identifies a player and how they are displayed.
type Profile struct {
	UserID     string `json:"userId"`
	Name       string `json:"name"`
	AvatarSeed string `json:"avatarSeed,omitempty"`
	PhotoURL   string `json:"photoURL,omitempty"`
}

// GameConfig holds the options chosen by the host at room creation.
type GameConfig struct {
	GameName            string `json:"gameName"`
	CountdownEnabled    bool   `json:"countdownEnabled"`
	MaxPhotos           *int   `json:"maxPhotos"`
	TimerPerUserSeconds int    `json:"timerPerUserSeconds"`
}

// CloneRoom returns a deep copy of r.
func CloneRoom(r *Room) *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.MaxPhotos = cloneInt(r.MaxPhotos)
	c.TimerEndsAt = cloneTime(r.TimerEndsAt)
	c.TimerStartedAt = cloneTime(r.TimerStartedAt)
	c.StageStartedAt = cloneTime(r.StageStartedAt)
	c.ResultsAppliedAt = cloneTime(r.ResultsAppliedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	return &c
}

// ClonePhoto returns a copy of p with its own guesses map.
func ClonePhoto(p Photo) Photo {
	c := p
	c.Guesses = make(map[string]string, len(p.Guesses))
	for k, v := range p.Guesses {
		c.Guesses[k] = v
	}
	return c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// IntPtr is a convenience for building bounded MaxPhotos values.
func IntPtr(n int) *int {
	return &n
}
