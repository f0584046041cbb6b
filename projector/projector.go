// Package projector folds the four live streams of a room into one snapshot.
package projector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wfunc/photoguess/logger"
	"github.com/wfunc/photoguess/models"
	"github.com/wfunc/photoguess/persistence"
)

// Snapshot is a consistent view of one room as last delivered by the store.
// Slices are shared between snapshots and must be treated as read-only.
type Snapshot struct {
	RoomID   string
	Room     *models.Room
	Users    []models.User
	Photos   []models.Photo
	Messages []models.Message
	Loading  bool
	Err      error

	Host       *models.User
	ReadyCount int
	AllReady   bool

	// Generation changes every time the projector is pointed at a new room.
	Generation uint64
}

// Status is the room status, or empty while the room has not been delivered.
func (s Snapshot) Status() models.Status {
	if s.Room == nil {
		return ""
	}
	return s.Room.Status
}

// ReadyMeaning tells what the users' ready flags stand for in the current stage.
func (s Snapshot) ReadyMeaning() models.ReadyMeaning {
	return models.ReadyMeaningFor(s.Status())
}

// User returns the user with id, or nil.
func (s Snapshot) User(id string) *models.User {
	for i := range s.Users {
		if s.Users[i].ID == id {
			return &s.Users[i]
		}
	}
	return nil
}

// IsHost reports whether id is the room's host.
func (s Snapshot) IsHost(id string) bool {
	return s.Host != nil && s.Host.ID == id
}

const (
	streamRoom = iota
	streamUsers
	streamPhotos
	streamMessages
	streamCount
)

// Projector keeps a Snapshot current for at most one room at a time.
type Projector struct {
	store persistence.Store

	mu      sync.Mutex
	roomID  string
	enabled bool
	gen     uint64
	unsubs  []persistence.Unsubscribe
	seen    [streamCount]bool
	snap    Snapshot
	updates chan Snapshot
	closed  bool
}

func New(store persistence.Store) *Projector {
	return &Projector{
		store:   store,
		updates: make(chan Snapshot, 1),
	}
}

// Updates yields the latest snapshot after every change. Stale snapshots that
// were never received are replaced, so a slow reader only sees the newest.
func (p *Projector) Updates() <-chan Snapshot {
	return p.updates
}

// Snapshot returns the current snapshot.
func (p *Projector) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// Subscribe points the projector at roomID. Changing the room or the enabled
// flag tears down the previous streams first; repeating the current pair is a no-op.
// A disabled projector or an empty room id holds an empty, non-loading snapshot.
func (p *Projector) Subscribe(roomID string, enabled bool) {
	p.mu.Lock()
	if p.closed || (p.gen > 0 && roomID == p.roomID && enabled == p.enabled) {
		p.mu.Unlock()
		return
	}
	old := p.unsubs
	p.unsubs = nil
	p.gen++
	gen := p.gen
	p.roomID = roomID
	p.enabled = enabled
	p.seen = [streamCount]bool{}
	active := enabled && roomID != ""
	p.snap = Snapshot{RoomID: roomID, Loading: active, Users: []models.User{}, Photos: []models.Photo{}, Messages: []models.Message{}, Generation: gen}
	p.publishLocked()
	p.mu.Unlock()

	for _, u := range old {
		u()
	}
	if !active {
		return
	}

	unsubs := []persistence.Unsubscribe{
		p.store.WatchRoom(roomID, func(r *models.Room, err error) {
			p.apply(gen, streamRoom, err, func(s *Snapshot) { s.Room = r })
		}),
		p.store.WatchUsers(roomID, func(users []models.User, err error) {
			p.apply(gen, streamUsers, err, func(s *Snapshot) { s.Users = sortUsers(users) })
		}),
		p.store.WatchPhotos(roomID, func(photos []models.Photo, err error) {
			p.apply(gen, streamPhotos, err, func(s *Snapshot) { s.Photos = photos })
		}),
		p.store.WatchMessages(roomID, func(msgs []models.Message, err error) {
			p.apply(gen, streamMessages, err, func(s *Snapshot) { s.Messages = msgs })
		}),
	}

	p.mu.Lock()
	if p.gen == gen && !p.closed {
		p.unsubs = unsubs
		unsubs = nil
	}
	p.mu.Unlock()
	// Superseded while subscribing.
	for _, u := range unsubs {
		u()
	}
}

func (p *Projector) apply(gen uint64, stream int, err error, set func(*Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || gen != p.gen {
		return
	}
	if err != nil {
		logger.Log.Warnf("projector: room %s stream %d: %v", p.roomID, stream, err)
		if p.snap.Err == nil {
			p.snap.Err = err
		}
		p.snap.Loading = false
		p.publishLocked()
		return
	}
	set(&p.snap)
	p.seen[stream] = true
	if p.snap.Err == nil && p.snap.Loading {
		p.snap.Loading = !(p.seen[streamRoom] && p.seen[streamUsers] && p.seen[streamPhotos] && p.seen[streamMessages])
	}
	derive(&p.snap)
	p.publishLocked()
}

func (p *Projector) publishLocked() {
	select {
	case <-p.updates:
	default:
	}
	p.updates <- p.snap
}

// Close tears down all streams. Updates is closed afterwards.
func (p *Projector) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	old := p.unsubs
	p.unsubs = nil
	close(p.updates)
	p.mu.Unlock()

	for _, u := range old {
		u()
	}
}

// Build assembles a loaded snapshot from one-off reads of the four collections.
func Build(roomID string, room *models.Room, users []models.User, photos []models.Photo, msgs []models.Message) Snapshot {
	s := Snapshot{RoomID: roomID, Room: room, Users: sortUsers(users), Photos: photos, Messages: msgs}
	derive(&s)
	return s
}

// Load reads roomID once from store and builds its snapshot.
func Load(ctx context.Context, store persistence.Store, roomID string) (Snapshot, error) {
	room, err := store.GetRoom(ctx, roomID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("projector: load room: %w", err)
	}
	users, err := store.ListUsers(ctx, roomID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("projector: load users: %w", err)
	}
	photos, err := store.ListPhotos(ctx, roomID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("projector: load photos: %w", err)
	}
	msgs, err := store.ListMessages(ctx, roomID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("projector: load messages: %w", err)
	}
	return Build(roomID, room, users, photos, msgs), nil
}

func derive(s *Snapshot) {
	s.Host = nil
	s.ReadyCount = 0
	for i := range s.Users {
		if s.Users[i].Role == models.RoleHost && s.Host == nil {
			h := s.Users[i]
			s.Host = &h
		}
		if s.Users[i].Ready {
			s.ReadyCount++
		}
	}
	s.AllReady = len(s.Users) > 0 && s.ReadyCount == len(s.Users)
}

func sortUsers(users []models.User) []models.User {
	out := make([]models.User, len(users))
	copy(out, users)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
