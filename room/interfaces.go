package room

import (
	"context"

	"github.com/wfunc/photoguess/persistence"
	"github.com/wfunc/photoguess/state"
)

// Broadcaster defines the interface for broadcasting messages to a room.
// This is defined here to break the import cycle between room and broadcast.
type Broadcaster interface {
	BroadcastToRoom(roomID string, msgID uint16, data []byte) error
}

// Publisher delivers one client's messages. session.Session satisfies it.
type Publisher interface {
	Send(msgID uint16, data []byte) error
}

// Gateway is the set of room writes a client may trigger.
// services.RoomGateway satisfies it.
type Gateway interface {
	state.Actions
	ToggleReady(ctx context.Context, roomID, userID string, ready bool) error
	SendMessage(ctx context.Context, roomID, userName, userPhoto, text string) error
	AssignPhotoToUser(ctx context.Context, roomID, photoID, targetUserID, actingUserID string) error
	RemovePhoto(ctx context.Context, roomID, photoID, storagePath string)
	UpdateUser(ctx context.Context, roomID, userID string, fields persistence.Fields) error
}
