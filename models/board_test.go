package models

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func boardPhotos() []Photo {
	return []Photo{
		{ID: "p1", UploadedBy: "a", Guesses: map[string]string{"b": "a", "c": "b"}},
		{ID: "p2", UploadedBy: "b", Guesses: map[string]string{"a": "b"}},
		{ID: "p3", UploadedBy: "c"},
		{ID: "p4", UploadedBy: "a", Guesses: map[string]string{}},
	}
}

func ids(photos []Photo) []string {
	out := make([]string, 0, len(photos))
	for _, p := range photos {
		out = append(out, p.ID)
	}
	return out
}

func TestGuessableExcludesOwnPhotos(t *testing.T) {
	photos := boardPhotos()
	for _, user := range []string{"a", "b", "c", "d"} {
		for _, p := range GuessableFor(photos, user) {
			assert.NotEqual(t, user, p.UploadedBy, "user %s photo %s", user, p.ID)
		}
		for _, p := range UnassignedFor(photos, user) {
			assert.NotEqual(t, user, p.UploadedBy, "user %s photo %s", user, p.ID)
		}
	}

	assert.Equal(t, []string{"p2", "p3"}, ids(GuessableFor(photos, "a")))
	assert.Equal(t, []string{"p1", "p2", "p3", "p4"}, ids(GuessableFor(photos, "d")))
	assert.Empty(t, GuessableFor(nil, "a"))
}

func TestUnassignedFor(t *testing.T) {
	photos := boardPhotos()
	tests := []struct {
		user string
		want []string
	}{
		{"a", []string{"p3"}},
		{"b", []string{"p3", "p4"}},
		{"c", []string{"p2", "p4"}},
		{"d", []string{"p1", "p2", "p3", "p4"}},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(UnassignedFor(photos, tt.user)))
		})
	}
}

func TestAssignmentsBy(t *testing.T) {
	photos := boardPhotos()
	got := AssignmentsBy(photos, "c")
	assert.Len(t, got, 1)
	assert.Equal(t, []string{"p1"}, ids(got["b"]))
	assert.Empty(t, AssignmentsBy(photos, "d"))
}

func TestGuessComplete(t *testing.T) {
	tests := []struct {
		name   string
		photos []Photo
		user   string
		want   bool
	}{
		{"no photos", nil, "a", false},
		{"only own photos", []Photo{{ID: "p1", UploadedBy: "a"}}, "a", false},
		{"one left", boardPhotos(), "a", false},
		{"all guessed", []Photo{
			{ID: "p1", UploadedBy: "a"},
			{ID: "p2", UploadedBy: "b", Guesses: map[string]string{"a": "b"}},
			{ID: "p3", UploadedBy: "c", Guesses: map[string]string{"a": "b"}},
		}, "a", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GuessComplete(tt.photos, tt.user))
		})
	}
}

func TestUploadCounts(t *testing.T) {
	users := []User{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	photos := append(boardPhotos(), Photo{ID: "p5", UploadedBy: "gone"})
	assert.Equal(t, map[string]int{"a": 2, "b": 1, "c": 1}, UploadCounts(users, photos))
}

func TestUploadLimits(t *testing.T) {
	tests := []struct {
		max      *int
		uploads  int
		canAdd   bool
		complete bool
	}{
		{nil, 0, true, false},
		{nil, 1, true, true},
		{IntPtr(0), 0, true, false},
		{IntPtr(0), 3, true, true},
		{IntPtr(-1), 2, true, true},
		{IntPtr(1), 0, true, false},
		{IntPtr(1), 1, false, true},
		{IntPtr(3), 2, true, false},
		{IntPtr(3), 3, false, true},
		{IntPtr(3), 4, false, true},
	}
	for _, tt := range tests {
		bound := "unbounded"
		if tt.max != nil {
			bound = fmt.Sprint(*tt.max)
		}
		t.Run(fmt.Sprintf("max=%s/uploads=%d", bound, tt.uploads), func(t *testing.T) {
			assert.Equal(t, tt.canAdd, CanUpload(tt.uploads, tt.max))
			assert.Equal(t, tt.complete, MeetsUploadRequirement(tt.uploads, tt.max))
		})
	}
}

func TestUnboundedNeverBlocks(t *testing.T) {
	for n := 0; n < 1000; n += 37 {
		assert.True(t, CanUpload(n, nil))
		assert.True(t, CanUpload(n, IntPtr(0)))
	}
}

func TestInteractionLocked(t *testing.T) {
	ready := &User{ID: "a", Ready: true}
	waiting := &User{ID: "b"}
	for _, s := range []Status{StatusJoin, StatusUpload, StatusGuess, StatusResults, StatusComplete} {
		assert.Equal(t, s == StatusJoin, InteractionLocked(s, ready), "status %s", s)
		assert.False(t, InteractionLocked(s, waiting), "status %s", s)
		assert.False(t, InteractionLocked(s, nil), "status %s", s)
	}
}
