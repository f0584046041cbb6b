package models

// DefaultTopics are offered when creating a room.
var DefaultTopics = []string{
	"Whose mommy is this?!",
	"Whose daddy is this?!",
	"Whose parents are these?!",
	"Who drew this?!",
	"Who is this baby?!",
}

// GuessableFor returns the photos userID may guess on. A user's own uploads are never included.
func GuessableFor(photos []Photo, userID string) []Photo {
	out := make([]Photo, 0, len(photos))
	for _, p := range photos {
		if p.UploadedBy == userID {
			continue
		}
		out = append(out, p)
	}
	return out
}

// UnassignedFor returns guessable photos that userID has not yet assigned to anyone.
func UnassignedFor(photos []Photo, userID string) []Photo {
	out := make([]Photo, 0, len(photos))
	for _, p := range GuessableFor(photos, userID) {
		if p.Guesses[userID] == "" {
			out = append(out, p)
		}
	}
	return out
}

// AssignmentsBy groups the photos userID has guessed by the guessed target.
func AssignmentsBy(photos []Photo, userID string) map[string][]Photo {
	out := make(map[string][]Photo)
	for _, p := range photos {
		target := p.Guesses[userID]
		if target == "" {
			continue
		}
		out[target] = append(out[target], p)
	}
	return out
}

// GuessComplete reports whether userID has guessed every photo they are allowed to guess.
// A user with nothing to guess is never complete.
func GuessComplete(photos []Photo, userID string) bool {
	guessable := GuessableFor(photos, userID)
	if len(guessable) == 0 {
		return false
	}
	for _, p := range guessable {
		if p.Guesses[userID] == "" {
			return false
		}
	}
	return true
}

// UploadCounts counts photos per uploader, seeded with zero for every user.
func UploadCounts(users []User, photos []Photo) map[string]int {
	counts := make(map[string]int, len(users))
	for _, u := range users {
		counts[u.ID] = 0
	}
	for _, p := range photos {
		if _, ok := counts[p.UploadedBy]; ok {
			counts[p.UploadedBy]++
		}
	}
	return counts
}

// MeetsUploadRequirement is true once uploads reach maxPhotos, or at least one when unbounded.
func MeetsUploadRequirement(uploads int, maxPhotos *int) bool {
	if maxPhotos != nil && *maxPhotos > 0 {
		return uploads >= *maxPhotos
	}
	return uploads >= 1
}

// CanUpload reports whether a user holding uploads photos may add another.
// An unbounded room never blocks.
func CanUpload(uploads int, maxPhotos *int) bool {
	if maxPhotos == nil || *maxPhotos <= 0 {
		return true
	}
	return uploads < *maxPhotos
}

// InteractionLocked is true while a ready user waits in the lobby.
func InteractionLocked(status Status, u *User) bool {
	return status == StatusJoin && u != nil && u.Ready
}
