package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/photoguess/models"
)

type memRoom struct {
	room     *models.Room
	users    map[string]*models.User
	photos   map[string]*models.Photo
	messages []models.Message
}

// MemoryStore keeps all rooms in process memory. It honours the full Store
// contract and backs tests and single-instance deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	rooms    map[string]*memRoom
	clock    *clock
	notifier Notifier
}

// NewMemoryStore creates an empty store. A nil notifier gets a LocalNotifier.
func NewMemoryStore(notifier Notifier) *MemoryStore {
	return NewMemoryStoreWithClock(notifier, nil)
}

// NewMemoryStoreWithClock uses now as the server timestamp source.
func NewMemoryStoreWithClock(notifier Notifier, now func() time.Time) *MemoryStore {
	if notifier == nil {
		notifier = NewLocalNotifier()
	}
	return &MemoryStore{
		rooms:    make(map[string]*memRoom),
		clock:    newClock(now),
		notifier: notifier,
	}
}

func (s *MemoryStore) publish(ctx context.Context, roomID string, c Collection) {
	_ = s.notifier.Publish(ctx, Change{RoomID: roomID, Collection: c})
}

// bucket returns the room's collections, creating them so that sub-collection
// writes may precede the room document, as they may in a document store.
func (s *MemoryStore) bucket(roomID string) *memRoom {
	b, ok := s.rooms[roomID]
	if !ok {
		b = &memRoom{
			users:  make(map[string]*models.User),
			photos: make(map[string]*models.Photo),
		}
		s.rooms[roomID] = b
	}
	return b
}

func (s *MemoryStore) CreateRoom(ctx context.Context, room *models.Room) (string, error) {
	s.mu.Lock()
	r := models.CloneRoom(room)
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := s.clock.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.bucket(r.ID).room = r
	s.mu.Unlock()

	s.publish(ctx, r.ID, CollectionRoom)
	return r.ID, nil
}

func (s *MemoryStore) GetRoom(_ context.Context, roomID string) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.rooms[roomID]
	if !ok || b.room == nil {
		return nil, ErrNotFound
	}
	return models.CloneRoom(b.room), nil
}

func (s *MemoryStore) UpdateRoom(ctx context.Context, roomID string, fields Fields) error {
	return s.updateRoom(ctx, roomID, "", fields)
}

func (s *MemoryStore) UpdateRoomIf(ctx context.Context, roomID string, expected models.Status, fields Fields) error {
	return s.updateRoom(ctx, roomID, expected, fields)
}

func (s *MemoryStore) updateRoom(ctx context.Context, roomID string, expected models.Status, fields Fields) error {
	s.mu.Lock()
	b, ok := s.rooms[roomID]
	if !ok || b.room == nil {
		s.mu.Unlock()
		return ErrNotFound
	}
	if expected != "" && b.room.Status != expected {
		s.mu.Unlock()
		return ErrStatusConflict
	}
	resolved, err := fields.resolve(roomColumns, s.clock.Now())
	if err != nil {
		s.mu.Unlock()
		return err
	}
	next := models.CloneRoom(b.room)
	if err := applyRoomFields(next, resolved); err != nil {
		s.mu.Unlock()
		return err
	}
	b.room = next
	s.mu.Unlock()

	s.publish(ctx, roomID, CollectionRoom)
	return nil
}

func (s *MemoryStore) UpsertUser(ctx context.Context, roomID string, user models.User) error {
	s.mu.Lock()
	b := s.bucket(roomID)
	if existing, ok := b.users[user.ID]; ok {
		existing.Name = user.Name
		existing.AvatarSeed = user.AvatarSeed
		existing.PhotoURL = user.PhotoURL
		existing.Connected = user.Connected
	} else {
		u := user
		u.JoinedAt = s.clock.Now()
		b.users[u.ID] = &u
	}
	s.mu.Unlock()

	s.publish(ctx, roomID, CollectionUsers)
	return nil
}

func (s *MemoryStore) UpdateUser(ctx context.Context, roomID, userID string, fields Fields) error {
	s.mu.Lock()
	b, ok := s.rooms[roomID]
	if !ok || b.users[userID] == nil {
		s.mu.Unlock()
		return ErrNotFound
	}
	resolved, err := fields.resolve(userColumns, s.clock.Now())
	if err != nil {
		s.mu.Unlock()
		return err
	}
	next := *b.users[userID]
	if err := applyUserFields(&next, resolved); err != nil {
		s.mu.Unlock()
		return err
	}
	*b.users[userID] = next
	s.mu.Unlock()

	s.publish(ctx, roomID, CollectionUsers)
	return nil
}

func (s *MemoryStore) IncrementScore(ctx context.Context, roomID, userID string, delta int) error {
	s.mu.Lock()
	b, ok := s.rooms[roomID]
	if !ok || b.users[userID] == nil {
		s.mu.Unlock()
		return ErrNotFound
	}
	b.users[userID].Score += delta
	s.mu.Unlock()

	s.publish(ctx, roomID, CollectionUsers)
	return nil
}

func (s *MemoryStore) ListUsers(_ context.Context, roomID string) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.rooms[roomID]
	if !ok {
		return []models.User{}, nil
	}
	users := make([]models.User, 0, len(b.users))
	for _, u := range b.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		if !users[i].JoinedAt.Equal(users[j].JoinedAt) {
			return users[i].JoinedAt.Before(users[j].JoinedAt)
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

func (s *MemoryStore) AddPhoto(ctx context.Context, roomID string, photo models.Photo) (string, error) {
	s.mu.Lock()
	p := models.ClonePhoto(photo)
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = s.clock.Now()
	s.bucket(roomID).photos[p.ID] = &p
	s.mu.Unlock()

	s.publish(ctx, roomID, CollectionPhotos)
	return p.ID, nil
}

func (s *MemoryStore) ListPhotos(_ context.Context, roomID string) ([]models.Photo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.rooms[roomID]
	if !ok {
		return []models.Photo{}, nil
	}
	photos := make([]models.Photo, 0, len(b.photos))
	for _, p := range b.photos {
		photos = append(photos, models.ClonePhoto(*p))
	}
	sort.Slice(photos, func(i, j int) bool {
		if !photos[i].CreatedAt.Equal(photos[j].CreatedAt) {
			return photos[i].CreatedAt.Before(photos[j].CreatedAt)
		}
		return photos[i].ID < photos[j].ID
	})
	return photos, nil
}

func (s *MemoryStore) DeletePhoto(ctx context.Context, roomID, photoID string) error {
	s.mu.Lock()
	b, ok := s.rooms[roomID]
	if !ok || b.photos[photoID] == nil {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(b.photos, photoID)
	s.mu.Unlock()

	s.publish(ctx, roomID, CollectionPhotos)
	return nil
}

func (s *MemoryStore) SetGuess(ctx context.Context, roomID, photoID, guesserID, targetID string) error {
	s.mu.Lock()
	b, ok := s.rooms[roomID]
	if !ok || b.photos[photoID] == nil {
		s.mu.Unlock()
		return ErrNotFound
	}
	p := b.photos[photoID]
	if p.Guesses == nil {
		p.Guesses = make(map[string]string)
	}
	p.Guesses[guesserID] = targetID
	s.mu.Unlock()

	s.publish(ctx, roomID, CollectionPhotos)
	return nil
}

func (s *MemoryStore) AddMessage(ctx context.Context, roomID string, msg models.Message) (string, error) {
	s.mu.Lock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = s.clock.Now()
	b := s.bucket(roomID)
	b.messages = append(b.messages, msg)
	s.mu.Unlock()

	s.publish(ctx, roomID, CollectionMessages)
	return msg.ID, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, roomID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.rooms[roomID]
	if !ok {
		return []models.Message{}, nil
	}
	out := make([]models.Message, len(b.messages))
	copy(out, b.messages)
	return out, nil
}

func (s *MemoryStore) WatchRoom(roomID string, fn func(*models.Room, error)) Unsubscribe {
	load := func(ctx context.Context) (*models.Room, error) {
		r, err := s.GetRoom(ctx, roomID)
		if err == ErrNotFound {
			return nil, nil
		}
		return r, err
	}
	return watchCollection(s.notifier, roomID, CollectionRoom, load, fn)
}

func (s *MemoryStore) WatchUsers(roomID string, fn func([]models.User, error)) Unsubscribe {
	load := func(ctx context.Context) ([]models.User, error) { return s.ListUsers(ctx, roomID) }
	return watchCollection(s.notifier, roomID, CollectionUsers, load, fn)
}

func (s *MemoryStore) WatchPhotos(roomID string, fn func([]models.Photo, error)) Unsubscribe {
	load := func(ctx context.Context) ([]models.Photo, error) { return s.ListPhotos(ctx, roomID) }
	return watchCollection(s.notifier, roomID, CollectionPhotos, load, fn)
}

func (s *MemoryStore) WatchMessages(roomID string, fn func([]models.Message, error)) Unsubscribe {
	load := func(ctx context.Context) ([]models.Message, error) { return s.ListMessages(ctx, roomID) }
	return watchCollection(s.notifier, roomID, CollectionMessages, load, fn)
}

func (s *MemoryStore) Close() error {
	return s.notifier.Close()
}
