package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"time"

	"github.com/wfunc/photoguess/logger"
	"github.com/wfunc/photoguess/models"
	"github.com/wfunc/photoguess/persistence"
	"github.com/wfunc/photoguess/projector"
	"github.com/wfunc/photoguess/scoring"
)

// ServiceName is the name RoomService is registered under.
const ServiceName = "RoomService"

const lookupTimeout = 5 * time.Second

var ErrRoomIDRequired = errors.New("rpc: room id is required")

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
	server   *rpc.Server
}

// NewServer listens on addr. Services are registered with Register before Start.
func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  listener.Addr().String(),
		server:   rpc.NewServer(),
	}, nil
}

// Addr is the address the server is listening on.
func (s *Server) Addr() string {
	return s.address
}

// Register publishes service under ServiceName.
func (s *Server) Register(service *RoomService) error {
	return s.server.RegisterName(ServiceName, service)
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Check if the error is due to the listener being closed.
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.server.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// RoomLister reports the rooms with live sessions. room.Manager satisfies it.
type RoomLister interface {
	RoomIDs() []string
}

// RoomService exposes read-only room lookups to operators.
type RoomService struct {
	store persistence.Store
	rooms RoomLister
}

func NewRoomService(store persistence.Store, rooms RoomLister) *RoomService {
	return &RoomService{store: store, rooms: rooms}
}

type RoomArgs struct {
	RoomID string
}

type SnapshotReply struct {
	Room       models.Room
	Users      []models.User
	Photos     []models.Photo
	Messages   []models.Message
	HostID     string
	ReadyCount int
	AllReady   bool
}

type ScoreboardReply struct {
	Status     models.Status
	Standings  []scoring.Standing
	Applied    bool
	PhotoCount int
}

type ActiveRoomsReply struct {
	RoomIDs []string
}

func (rs *RoomService) load(args *RoomArgs) (projector.Snapshot, error) {
	if args == nil || args.RoomID == "" {
		return projector.Snapshot{}, ErrRoomIDRequired
	}
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	return projector.Load(ctx, rs.store, args.RoomID)
}

// Snapshot returns the full state of one room.
// It must follow the net/rpc signature: exported method, exported arguments,
// second argument is a pointer, return type is error.
func (rs *RoomService) Snapshot(args *RoomArgs, reply *SnapshotReply) error {
	snap, err := rs.load(args)
	if err != nil {
		return err
	}
	reply.Room = *snap.Room
	reply.Users = snap.Users
	reply.Photos = snap.Photos
	reply.Messages = snap.Messages
	if snap.Host != nil {
		reply.HostID = snap.Host.ID
	}
	reply.ReadyCount = snap.ReadyCount
	reply.AllReady = snap.AllReady
	return nil
}

// Scoreboard returns a room's ranked players.
func (rs *RoomService) Scoreboard(args *RoomArgs, reply *ScoreboardReply) error {
	snap, err := rs.load(args)
	if err != nil {
		return err
	}
	reply.Status = snap.Status()
	reply.Standings = scoring.Scoreboard(snap.Users)
	reply.Applied = snap.Room.ResultsAppliedAt != nil
	reply.PhotoCount = len(snap.Photos)
	return nil
}

// ActiveRooms lists rooms with at least one connected session on this server.
func (rs *RoomService) ActiveRooms(_ *RoomArgs, reply *ActiveRoomsReply) error {
	if rs.rooms != nil {
		reply.RoomIDs = rs.rooms.RoomIDs()
	}
	return nil
}
