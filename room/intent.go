package room

import (
	"errors"
	"strings"

	"github.com/wfunc/photoguess/models"
	"github.com/wfunc/photoguess/projector"
)

// Kind names a player intent.
type Kind string

const (
	KindReady          Kind = "ready"
	KindChat           Kind = "chat"
	KindRename         Kind = "rename"
	KindGuess          Kind = "guess"
	KindRemovePhoto    Kind = "remove_photo"
	KindStartUpload    Kind = "start_upload"
	KindStartGuess     Kind = "start_guess"
	KindShowResults    Kind = "show_results"
	KindAdvanceResults Kind = "advance_results"

	kindAuto Kind = "auto"
)

// Intent is one thing a player asks their room to do.
type Intent struct {
	Seq      uint64 `json:"seq,omitempty"`
	Kind     Kind   `json:"kind"`
	Ready    bool   `json:"ready,omitempty"`
	Text     string `json:"text,omitempty"`
	Name     string `json:"name,omitempty"`
	PhotoID  string `json:"photoId,omitempty"`
	TargetID string `json:"targetId,omitempty"`
}

var (
	ErrRoomClosed        = errors.New("room: closed")
	ErrNotLoaded         = errors.New("room: still loading")
	ErrNotInRoom         = errors.New("room: join the room first")
	ErrWrongStage        = errors.New("room: not possible in this stage")
	ErrEmptyMessage      = errors.New("room: message is empty")
	ErrEmptyName         = errors.New("room: name is empty")
	ErrInteractionLocked = errors.New("room: locked while you are ready")
	ErrPhotoNotFound     = errors.New("room: photo not found")
	ErrOwnPhoto          = errors.New("room: you cannot guess your own photo")
	ErrUnknownUser       = errors.New("room: no such player")
	ErrNotUploader       = errors.New("room: only the uploader can remove a photo")
	ErrUploadLimit       = errors.New("room: upload limit reached")
	ErrUnknownIntent     = errors.New("room: unknown intent")
)

// member returns the viewer's user record from a loaded snapshot.
func member(snap projector.Snapshot, userID string) (*models.User, error) {
	if snap.Loading || snap.Room == nil {
		return nil, ErrNotLoaded
	}
	me := snap.User(userID)
	if me == nil {
		return nil, ErrNotInRoom
	}
	return me, nil
}

func findPhoto(snap projector.Snapshot, photoID string) (models.Photo, bool) {
	for _, p := range snap.Photos {
		if p.ID == photoID {
			return p, true
		}
	}
	return models.Photo{}, false
}

// CheckUpload reports whether userID may add a photo to the room in snap.
// Uploads are only taken during the upload stage and up to the room's cap.
func CheckUpload(snap projector.Snapshot, userID string) error {
	if _, err := member(snap, userID); err != nil {
		return err
	}
	if snap.Status() != models.StatusUpload {
		return ErrWrongStage
	}
	counts := models.UploadCounts(snap.Users, snap.Photos)
	if !models.CanUpload(counts[userID], snap.Room.MaxPhotos) {
		return ErrUploadLimit
	}
	return nil
}

func checkReady(snap projector.Snapshot, userID string) error {
	if _, err := member(snap, userID); err != nil {
		return err
	}
	if snap.ReadyMeaning() == models.ReadyUnused {
		return ErrWrongStage
	}
	return nil
}

func checkChat(snap projector.Snapshot, userID, text string) (string, error) {
	me, err := member(snap, userID)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if snap.Status() == models.StatusComplete {
		return "", ErrWrongStage
	}
	if models.InteractionLocked(snap.Status(), me) {
		return "", ErrInteractionLocked
	}
	return text, nil
}

func checkRename(snap projector.Snapshot, userID, name string) (string, error) {
	me, err := member(snap, userID)
	if err != nil {
		return "", err
	}
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "", ErrEmptyName
	}
	if models.InteractionLocked(snap.Status(), me) {
		return "", ErrInteractionLocked
	}
	return name, nil
}

func checkGuess(snap projector.Snapshot, userID, photoID, targetID string) error {
	me, err := member(snap, userID)
	if err != nil {
		return err
	}
	if snap.Status() != models.StatusGuess {
		return ErrWrongStage
	}
	if models.InteractionLocked(snap.Status(), me) {
		return ErrInteractionLocked
	}
	photo, ok := findPhoto(snap, photoID)
	if !ok {
		return ErrPhotoNotFound
	}
	if photo.UploadedBy == userID {
		return ErrOwnPhoto
	}
	if snap.User(targetID) == nil {
		return ErrUnknownUser
	}
	return nil
}

func checkRemove(snap projector.Snapshot, userID, photoID string) (models.Photo, error) {
	if _, err := member(snap, userID); err != nil {
		return models.Photo{}, err
	}
	if snap.Status() != models.StatusUpload {
		return models.Photo{}, ErrWrongStage
	}
	photo, ok := findPhoto(snap, photoID)
	if !ok {
		return models.Photo{}, ErrPhotoNotFound
	}
	if photo.UploadedBy != userID {
		return models.Photo{}, ErrNotUploader
	}
	return photo, nil
}
