// Package reveal drives the per-client results presentation.
package reveal

import (
	"sort"
	"time"

	"github.com/wfunc/photoguess/models"
	"github.com/wfunc/photoguess/scoring"
)

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhasePhoto    Phase = "photo"
	PhaseUploader Phase = "uploader"
	PhaseGuesses  Phase = "guesses"
	PhaseDone     Phase = "done"
)

const (
	UploaderDelay       = 1200 * time.Millisecond
	GuessesDelay        = 2400 * time.Millisecond
	GuesserInterval     = 400 * time.Millisecond
	DoneAfterGuessers   = 600 * time.Millisecond
	DoneWithoutGuessers = 800 * time.Millisecond
)

const (
	LabelNextPhoto  = "Next Photo"
	LabelFinishGame = "Finish Game"
)

// OrderPhotos returns photos in reveal order: oldest first, ties broken by id.
// Every client derives the same order from the same set.
func OrderPhotos(photos []models.Photo) []models.Photo {
	out := make([]models.Photo, len(photos))
	copy(out, photos)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ClampIndex bounds idx to [0, total-1]. It returns 0 when there is nothing to show.
func ClampIndex(idx, total int) int {
	if total <= 0 || idx < 0 {
		return 0
	}
	if idx > total-1 {
		return total - 1
	}
	return idx
}

// View is what a client shows during the results stage.
type View struct {
	Index           int           `json:"index"`
	Total           int           `json:"total"`
	Photo           *models.Photo `json:"photo,omitempty"`
	Uploader        *models.User  `json:"uploader,omitempty"`
	CorrectGuessers []models.User `json:"correctGuessers"`
	VisibleGuessers []models.User `json:"visibleGuessers"`
	Phase           Phase         `json:"phase"`
	IsFinal         bool          `json:"isFinal"`
	AdvanceLabel    string        `json:"advanceLabel"`
	CanAdvance      bool          `json:"canAdvance"`
	WaitingForHost  bool          `json:"waitingForHost"`
	// GuessedCorrectly is true when the viewer named this photo's uploader.
	GuessedCorrectly bool `json:"guessedCorrectly"`
}

// BuildView projects the authoritative results index and the local sequencer
// state into what viewerID sees.
func BuildView(resultsIndex int, photos []models.Photo, users []models.User, st State, viewerID string, viewerIsHost bool) View {
	ordered := OrderPhotos(photos)
	v := View{
		Total:           len(ordered),
		Phase:           PhaseIdle,
		CorrectGuessers: []models.User{},
		VisibleGuessers: []models.User{},
		AdvanceLabel:    LabelNextPhoto,
	}
	if len(ordered) == 0 {
		return v
	}
	v.Index = ClampIndex(resultsIndex, len(ordered))
	photo := ordered[v.Index]
	v.Photo = &photo
	for i := range users {
		if users[i].ID == photo.UploadedBy {
			u := users[i]
			v.Uploader = &u
			break
		}
	}
	v.CorrectGuessers = scoring.CorrectGuessers(photo, users)
	v.IsFinal = v.Index >= len(ordered)-1
	if v.IsFinal {
		v.AdvanceLabel = LabelFinishGame
	}
	v.GuessedCorrectly = viewerID != "" && photo.Guesses[viewerID] == photo.UploadedBy

	// Local animation state only counts while it is about the current photo.
	if st.PhotoID == photo.ID {
		v.Phase = st.Phase
		n := st.Visible
		if n > len(v.CorrectGuessers) {
			n = len(v.CorrectGuessers)
		}
		v.VisibleGuessers = v.CorrectGuessers[:n]
	}
	done := v.Phase == PhaseDone
	v.CanAdvance = done && viewerIsHost
	v.WaitingForHost = done && !viewerIsHost
	return v
}
