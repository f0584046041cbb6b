package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wfunc/photoguess/blob"
	"github.com/wfunc/photoguess/broadcast"
	"github.com/wfunc/photoguess/identity"
	"github.com/wfunc/photoguess/logger"
	"github.com/wfunc/photoguess/models"
	"github.com/wfunc/photoguess/monitor"
	"github.com/wfunc/photoguess/network"
	"github.com/wfunc/photoguess/persistence"
	"github.com/wfunc/photoguess/reveal"
	"github.com/wfunc/photoguess/room"
	gameserver_rpc "github.com/wfunc/photoguess/rpc"
	"github.com/wfunc/photoguess/services"
	"github.com/wfunc/photoguess/session"
	"github.com/wfunc/photoguess/state"
)

const (
	heartbeatInterval = 30 * time.Second
	intentTimeout     = 10 * time.Second
	cleanupTimeout    = 5 * time.Second
)

// Options wires the server to its backends.
type Options struct {
	Store     persistence.Store
	Blobs     blob.Store
	BlobDir   string // served under BlobRoute when set
	BlobRoute string
	Tokens    *identity.TokenProvider
	Monitor   *monitor.Monitor
	Scheduler reveal.Scheduler
	Timing    state.Timing

	// AllowLocal accepts an X-Player-ID header (or player query) in place of a
	// token, for clients running on a locally generated identity.
	AllowLocal       bool
	PacketsPerSecond float64
	PacketBurst      int
	MaxUploadBytes   int64
	DefaultMaxPhotos int
}

type GameServer struct {
	addr           string
	opts           Options
	engine         *gin.Engine
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	roomManager    *room.Manager
	sessionManager *session.Manager
	gateway        *services.RoomGateway
	broadcaster    broadcast.Broadcaster
	uploadLocks    *keyedLocks
	rpcServer      *gameserver_rpc.Server
	shutdownChan   chan struct{}
	shutdownOnce   sync.Once
}

// NewGameServer builds the HTTP and websocket server on addr. An empty rpcAddr
// disables the ops RPC listener.
func NewGameServer(addr, rpcAddr string, opts Options) (*GameServer, error) {
	if opts.BlobRoute == "" {
		opts.BlobRoute = "/blobs"
	}
	s := &GameServer{
		addr:           addr,
		opts:           opts,
		roomManager:    room.NewRoomManager(),
		sessionManager: session.NewManager(),
		gateway:        services.NewRoomGateway(opts.Store, opts.Blobs, opts.Monitor),
		uploadLocks:    newKeyedLocks(),
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}

	// 初始化广播器
	s.broadcaster = broadcast.NewRoomBroadcaster(s.roomManager, s.sessionManager)

	if rpcAddr != "" {
		// 初始化RPC服务器
		rpcServer, err := gameserver_rpc.NewServer(rpcAddr)
		if err != nil {
			return nil, err
		}
		// 注册RPC服务
		if err := rpcServer.Register(gameserver_rpc.NewRoomService(opts.Store, s.roomManager)); err != nil {
			rpcServer.Stop()
			return nil, err
		}
		s.rpcServer = rpcServer
	}

	s.engine = s.routes()
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s, nil
}

// Handler is the server's HTTP handler.
func (s *GameServer) Handler() http.Handler {
	return s.engine
}

func (s *GameServer) Start() error {
	if s.rpcServer != nil {
		go s.rpcServer.Start()
	}

	logger.Log.Infof("Game server listening on %s", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown tells every client the server is going away, closes all rooms and
// stops the listeners.
func (s *GameServer) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		_ = s.broadcaster.BroadcastToAll(network.MsgTypeServerClosing, nil)
		close(s.shutdownChan)
		s.roomManager.CloseAll()
		for _, sess := range s.sessionManager.All() {
			_ = sess.Close()
		}
		if s.rpcServer != nil {
			s.rpcServer.Stop()
		}
		err = s.httpServer.Shutdown(ctx)
	})
	return err
}

func (s *GameServer) handleWebSocket(c *gin.Context) {
	user := currentUser(c)
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(conn, user)
}

func (s *GameServer) handleConnection(conn *websocket.Conn, user identity.User) {
	wsConn := network.NewWSConnection(conn)
	wsConn.SetHeartbeat(heartbeatInterval)
	sess := session.NewSession(uuid.New().String(), wsConn)
	sess.UserID = user.UID
	sess.SetRateLimit(s.opts.PacketsPerSecond, s.opts.PacketBurst)
	s.sessionManager.Add(sess)
	s.opts.Monitor.IncOnlinePlayers()

	logger.Log.Infof("New connection from %s, session ID: %s, user: %s", wsConn.RemoteAddr(), sess.GetID(), user.UID)

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())
		s.leave(sess)
		s.sessionManager.Remove(sess.GetID())
		s.opts.Monitor.DecOnlinePlayers()
		wsConn.Close()
	}()

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			packet, err := wsConn.ReadPacket()
			if err != nil {
				return
			}
			sess.Touch()
			if !sess.Allow() {
				s.sendError(sess, errRateLimited)
				continue
			}
			started := time.Now()
			s.opts.Monitor.IncMessagesReceived()
			s.handlePacket(sess, packet)
			s.opts.Monitor.ObserveMessageLatency(time.Since(started))
		}
	}
}

var errRateLimited = errors.New("server: too many packets")

func (s *GameServer) handlePacket(sess *session.Session, packet *network.Packet) {
	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
		_ = sess.Send(network.MsgTypeHeartbeat, nil)
	case network.MsgTypeJoinRoom:
		s.handleJoinRoom(sess, packet)
	case network.MsgTypeLeaveRoom:
		s.leave(sess)
	case network.MsgTypeIntent:
		s.handleIntent(sess, packet)
	default:
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
	}
}

func (s *GameServer) handleJoinRoom(sess *session.Session, packet *network.Packet) {
	var req network.JoinRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.sendError(sess, err)
		return
	}
	if req.RoomID == "" {
		s.sendError(sess, services.ErrRoomRequired)
		return
	}
	if current := sess.RoomID(); current != "" && current != req.RoomID {
		s.leave(sess)
	}

	ctx, cancel := context.WithTimeout(context.Background(), intentTimeout)
	defer cancel()
	profile := models.Profile{UserID: sess.UserID, Name: req.Name, AvatarSeed: req.AvatarSeed, PhotoURL: req.PhotoURL}
	if err := s.gateway.JoinRoom(ctx, req.RoomID, profile, models.RoleGuest); err != nil {
		logger.Log.Warnf("Session %s failed to join room %s: %v", sess.GetID(), req.RoomID, err)
		s.sendError(sess, err)
		return
	}

	r := room.NewRoom(req.RoomID, sess.UserID, sess.ID, s.opts.Store, s.gateway, s.opts.Scheduler, sess, s.broadcaster, room.Options{
		Timing:  s.opts.Timing,
		Monitor: s.opts.Monitor,
	})
	s.roomManager.Add(r)
	sess.SetRoomID(req.RoomID)
	s.opts.Monitor.SetActiveRooms(len(s.roomManager.RoomIDs()))
	logger.Log.Infof("Session %s joined room %s", sess.GetID(), req.RoomID)
}

// leave detaches sess from its room and marks the player disconnected unless
// another of their sessions is still in it.
func (s *GameServer) leave(sess *session.Session) {
	r := s.roomManager.RemoveRoom(sess.GetID())
	sess.SetRoomID("")
	if r == nil {
		return
	}
	s.opts.Monitor.SetActiveRooms(len(s.roomManager.RoomIDs()))
	for _, other := range s.roomManager.InRoom(r.ID) {
		if other.UserID == r.UserID {
			return
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := s.gateway.UpdateUser(ctx, r.ID, r.UserID, persistence.Fields{persistence.FieldConnected: false}); err != nil {
		logger.Log.Warnf("Room %s: mark %s disconnected: %v", r.ID, r.UserID, err)
	}
}

func (s *GameServer) handleIntent(sess *session.Session, packet *network.Packet) {
	var in room.Intent
	if err := json.Unmarshal(packet.Data, &in); err != nil {
		s.sendError(sess, err)
		return
	}
	result := network.IntentResult{Seq: in.Seq, Kind: string(in.Kind)}

	r, exists := s.roomManager.GetRoom(sess.GetID())
	if !exists {
		logger.Log.Warnf("Session %s sent an intent but is not in a room", sess.GetID())
		result.Error = room.ErrNotInRoom.Error()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), intentTimeout)
		err := r.Do(ctx, in)
		cancel()
		if err != nil {
			result.Error = err.Error()
		}
	}

	data, _ := json.Marshal(result)
	_ = sess.Send(network.MsgTypeIntentResult, data)
}

func (s *GameServer) sendError(sess *session.Session, err error) {
	data, _ := json.Marshal(network.ErrorMessage{Error: err.Error()})
	_ = sess.Send(network.MsgTypeError, data)
}
