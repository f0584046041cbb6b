// broadcast/broadcast.go
package broadcast

import (
	"errors"

	"github.com/wfunc/photoguess/logger"
	"github.com/wfunc/photoguess/room"
	"github.com/wfunc/photoguess/session"
)

var (
	ErrRoomNotFound = errors.New("room not found")
)

// 广播接口
type Broadcaster interface {
	BroadcastToRoom(roomID string, msgID uint16, data []byte) error
	BroadcastToAll(msgID uint16, data []byte) error
	BroadcastToUsers(userIDs []string, msgID uint16, data []byte) error
}

// 基于房间的广播器
type RoomBroadcaster struct {
	roomManager    *room.Manager
	sessionManager *session.Manager
}

func NewRoomBroadcaster(roomManager *room.Manager, sessionManager *session.Manager) *RoomBroadcaster {
	return &RoomBroadcaster{
		roomManager:    roomManager,
		sessionManager: sessionManager,
	}
}

// BroadcastToRoom sends to every session attached to roomID on this server.
func (b *RoomBroadcaster) BroadcastToRoom(roomID string, msgID uint16, data []byte) error {
	rooms := b.roomManager.InRoom(roomID)
	if len(rooms) == 0 {
		return ErrRoomNotFound
	}

	for _, r := range rooms {
		s, ok := b.sessionManager.Get(r.SessionID)
		if !ok {
			continue
		}
		if err := s.Send(msgID, data); err != nil {
			logger.Log.Debugf("broadcast: room %s session %s: %v", roomID, s.ID, err)
			continue
		}
	}

	return nil
}

func (b *RoomBroadcaster) BroadcastToAll(msgID uint16, data []byte) error {
	for _, s := range b.sessionManager.All() {
		if err := s.Send(msgID, data); err != nil {
			logger.Log.Debugf("broadcast: session %s: %v", s.ID, err)
		}
	}
	return nil
}

func (b *RoomBroadcaster) BroadcastToUsers(userIDs []string, msgID uint16, data []byte) error {
	for _, userID := range userIDs {
		sessions := b.sessionManager.GetByUserID(userID)
		for _, s := range sessions {
			if err := s.Send(msgID, data); err != nil {
				// 处理发送错误
				continue
			}
		}
	}
	return nil
}
