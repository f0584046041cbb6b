// Package scoring tallies guessing rounds.
package scoring

import (
	"sort"

	"github.com/wfunc/photoguess/models"
)

// PointsPerCorrectGuess is awarded to a guesser for every photo whose uploader they named.
const PointsPerCorrectGuess = 100

// ScoreRound returns the points each guesser earned over photos. Wrong guesses
// cost nothing and guessers with no correct guess are absent from the result.
// It is not idempotent to apply: callers must apply a round exactly once.
func ScoreRound(photos []models.Photo) map[string]int {
	deltas := make(map[string]int)
	for _, p := range photos {
		for guesser, target := range p.Guesses {
			if target != "" && target == p.UploadedBy {
				deltas[guesser] += PointsPerCorrectGuess
			}
		}
	}
	return deltas
}

// CorrectGuessers lists the users who named photo's uploader, in the order of
// users. Guessers no longer in the room are dropped.
func CorrectGuessers(photo models.Photo, users []models.User) []models.User {
	out := make([]models.User, 0, len(photo.Guesses))
	for _, u := range users {
		if t, ok := photo.Guesses[u.ID]; ok && t == photo.UploadedBy {
			out = append(out, u)
		}
	}
	return out
}

// Standing is one row of the final scoreboard.
type Standing struct {
	Rank int         `json:"rank"`
	User models.User `json:"user"`
}

// Scoreboard ranks users by score, highest first. Equal scores are ordered by
// join time, then id, so every client renders the same board. Tied players share a rank.
func Scoreboard(users []models.User) []Standing {
	sorted := make([]models.User, len(users))
	copy(sorted, users)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.ID < b.ID
	})

	board := make([]Standing, len(sorted))
	for i, u := range sorted {
		rank := i + 1
		if i > 0 && u.Score == sorted[i-1].Score {
			rank = board[i-1].Rank
		}
		board[i] = Standing{Rank: rank, User: u}
	}
	return board
}
