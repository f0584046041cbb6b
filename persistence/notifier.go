package persistence

import (
	"context"
	"sync"
)

// Change announces that one collection of a room was written.
type Change struct {
	RoomID     string     `json:"roomId"`
	Collection Collection `json:"collection"`
}

// Notifier carries change announcements from writers to watchers, possibly
// across processes.
type Notifier interface {
	Publish(ctx context.Context, ch Change) error
	// Subscribe registers fn for changes to roomID. fn must not block.
	Subscribe(roomID string, fn func(Change)) (cancel func())
	Close() error
}

// LocalNotifier fans changes out to subscribers in this process.
type LocalNotifier struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]func(Change)
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: make(map[string]map[uint64]func(Change))}
}

func (n *LocalNotifier) Publish(_ context.Context, ch Change) error {
	n.Dispatch(ch)
	return nil
}

// Dispatch delivers ch to local subscribers of its room.
func (n *LocalNotifier) Dispatch(ch Change) {
	n.mu.RLock()
	fns := make([]func(Change), 0, len(n.subs[ch.RoomID]))
	for _, fn := range n.subs[ch.RoomID] {
		fns = append(fns, fn)
	}
	n.mu.RUnlock()

	for _, fn := range fns {
		fn(ch)
	}
}

// DispatchAll tells every subscriber that all of its collections may have
// changed. Used after a notification channel reconnects and events may be lost.
func (n *LocalNotifier) DispatchAll() {
	n.mu.RLock()
	rooms := make([]string, 0, len(n.subs))
	for roomID := range n.subs {
		rooms = append(rooms, roomID)
	}
	n.mu.RUnlock()

	for _, roomID := range rooms {
		for _, c := range []Collection{CollectionRoom, CollectionUsers, CollectionPhotos, CollectionMessages} {
			n.Dispatch(Change{RoomID: roomID, Collection: c})
		}
	}
}

func (n *LocalNotifier) Subscribe(roomID string, fn func(Change)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	id := n.nextID
	if n.subs[roomID] == nil {
		n.subs[roomID] = make(map[uint64]func(Change))
	}
	n.subs[roomID][id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs[roomID], id)
		if len(n.subs[roomID]) == 0 {
			delete(n.subs, roomID)
		}
	}
}

// Subscribers counts live subscriptions for roomID.
func (n *LocalNotifier) Subscribers(roomID string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs[roomID])
}

func (n *LocalNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = make(map[string]map[uint64]func(Change))
	return nil
}
