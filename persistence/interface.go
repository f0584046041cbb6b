// persistence/interface.go
package persistence

import (
	"context"
	"errors"

	"github.com/wfunc/photoguess/models"
)

// Collection names one of the four independently subscribable streams of a room.
type Collection string

const (
	CollectionRoom     Collection = "room"
	CollectionUsers    Collection = "users"
	CollectionPhotos   Collection = "photos"
	CollectionMessages Collection = "messages"
)

// Unsubscribe stops a watch. It is safe to call more than once.
type Unsubscribe func()

// Store is the shared room document store. Every write is individually atomic;
// nothing spans documents. Watches deliver the full, ordered state of their
// collection once on subscribe and again after every change. A watch that
// reports an error delivers nothing further.
type Store interface {
	// CreateRoom writes a new room document. An empty ID is assigned by the store.
	CreateRoom(ctx context.Context, room *models.Room) (string, error)
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	// UpdateRoom overwrites the given room fields unconditionally.
	UpdateRoom(ctx context.Context, roomID string, fields Fields) error
	// UpdateRoomIf applies fields only while the room still has the expected status.
	// It returns ErrStatusConflict when the status has moved on.
	UpdateRoomIf(ctx context.Context, roomID string, expected models.Status, fields Fields) error

	// UpsertUser creates the user, or merges profile fields (name, avatar, photo,
	// connected) into an existing record. Role, ready, score and joinedAt of an
	// existing record are kept.
	UpsertUser(ctx context.Context, roomID string, user models.User) error
	UpdateUser(ctx context.Context, roomID, userID string, fields Fields) error
	// IncrementScore adds delta to the user's score with the store's native increment.
	IncrementScore(ctx context.Context, roomID, userID string, delta int) error
	// ListUsers returns users ordered by join time.
	ListUsers(ctx context.Context, roomID string) ([]models.User, error)

	AddPhoto(ctx context.Context, roomID string, photo models.Photo) (string, error)
	// ListPhotos returns photos ordered by creation time.
	ListPhotos(ctx context.Context, roomID string) ([]models.Photo, error)
	DeletePhoto(ctx context.Context, roomID, photoID string) error
	// SetGuess writes guesses[guesserID] = targetID as a single-key update.
	SetGuess(ctx context.Context, roomID, photoID, guesserID, targetID string) error

	AddMessage(ctx context.Context, roomID string, msg models.Message) (string, error)
	// ListMessages returns messages ordered by creation time.
	ListMessages(ctx context.Context, roomID string) ([]models.Message, error)

	// WatchRoom delivers a nil room when the document does not exist.
	WatchRoom(roomID string, fn func(*models.Room, error)) Unsubscribe
	WatchUsers(roomID string, fn func([]models.User, error)) Unsubscribe
	WatchPhotos(roomID string, fn func([]models.Photo, error)) Unsubscribe
	WatchMessages(roomID string, fn func([]models.Message, error)) Unsubscribe

	Close() error
}

// 错误定义
var (
	ErrNotFound       = errors.New("persistence: record not found")
	ErrStatusConflict = errors.New("persistence: room status changed concurrently")
	ErrUnknownField   = errors.New("persistence: unknown field")
	ErrInvalidValue   = errors.New("persistence: invalid field value")
)
