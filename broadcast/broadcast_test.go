package broadcast

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/photoguess/blob"
	"github.com/wfunc/photoguess/models"
	"github.com/wfunc/photoguess/network"
	"github.com/wfunc/photoguess/persistence"
	"github.com/wfunc/photoguess/room"
	"github.com/wfunc/photoguess/services"
	"github.com/wfunc/photoguess/session"
	"github.com/wfunc/photoguess/timer"
)

type mockConnection struct {
	mu   sync.Mutex
	sent []uint16
}

func (m *mockConnection) Send(msgID uint16, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msgID)
	return nil
}
func (m *mockConnection) Close() error                         { return nil }
func (m *mockConnection) RemoteAddr() net.Addr                 { return &net.TCPAddr{} }
func (m *mockConnection) SetHeartbeat(interval time.Duration)  {}
func (m *mockConnection) ReadPacket() (*network.Packet, error) { return nil, nil }

func (m *mockConnection) count(msgID uint16) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range m.sent {
		if id == msgID {
			n++
		}
	}
	return n
}

func TestRoomBroadcaster(t *testing.T) {
	store := persistence.NewMemoryStore(nil)
	defer store.Close()
	g := services.NewRoomGateway(store, blob.NewMemoryStore("http://blobs.test"), nil)
	ctx := context.Background()
	roomID, err := g.CreateRoom(ctx, models.Profile{UserID: "A", Name: "Ann"}, models.GameConfig{})
	require.NoError(t, err)

	tm := timer.NewTimerManager()
	defer tm.Stop()

	sessions := session.NewManager()
	rooms := room.NewRoomManager()
	defer rooms.CloseAll()
	b := NewRoomBroadcaster(rooms, sessions)

	connA, connB, connC := &mockConnection{}, &mockConnection{}, &mockConnection{}
	sa := session.NewSession("s1", connA)
	sa.UserID = "A"
	sb := session.NewSession("s2", connB)
	sb.UserID = "A"
	sc := session.NewSession("s3", connC)
	sc.UserID = "C"
	sessions.Add(sa)
	sessions.Add(sb)
	sessions.Add(sc)

	rooms.Add(room.NewRoom(roomID, "A", "s1", store, g, tm, sa, b, room.Options{}))
	rooms.Add(room.NewRoom(roomID, "A", "s2", store, g, tm, sb, b, room.Options{}))

	assert.ErrorIs(t, b.BroadcastToRoom("nowhere", network.MsgTypeStageNotice, nil), ErrRoomNotFound)
	require.NoError(t, b.BroadcastToRoom(roomID, network.MsgTypeStageNotice, []byte("{}")))
	assert.Equal(t, 1, connA.count(network.MsgTypeStageNotice))
	assert.Equal(t, 1, connB.count(network.MsgTypeStageNotice))
	assert.Zero(t, connC.count(network.MsgTypeStageNotice))

	require.NoError(t, b.BroadcastToUsers([]string{"C"}, network.MsgTypeUploadDone, []byte("{}")))
	assert.Equal(t, 1, connC.count(network.MsgTypeUploadDone))
	assert.Zero(t, connA.count(network.MsgTypeUploadDone))

	require.NoError(t, b.BroadcastToAll(network.MsgTypeServerClosing, nil))
	for _, c := range []*mockConnection{connA, connB, connC} {
		assert.Equal(t, 1, c.count(network.MsgTypeServerClosing))
	}
}
