// room/room.go
package room

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/wfunc/photoguess/logger"
	"github.com/wfunc/photoguess/models"
	"github.com/wfunc/photoguess/monitor"
	"github.com/wfunc/photoguess/network"
	"github.com/wfunc/photoguess/persistence"
	"github.com/wfunc/photoguess/projector"
	"github.com/wfunc/photoguess/reveal"
	"github.com/wfunc/photoguess/scoring"
	"github.com/wfunc/photoguess/state"
)

// DefaultTick is how often a room re-checks its countdown.
const DefaultTick = time.Second

type Options struct {
	Timing  state.Timing
	Monitor *monitor.Monitor
	Tick    time.Duration
}

type request struct {
	intent Intent
	reply  chan error
}

type completion struct {
	kind    Kind
	to      models.Status
	trigger state.Trigger
	err     error
}

// Room is one player's live view of a shared room. Store deliveries, reveal
// timer steps, intents and write completions are all handled on a single
// event loop; writes themselves run off the loop.
type Room struct {
	ID        string
	UserID    string
	SessionID string

	gateway     Gateway
	projector   *projector.Projector
	controller  *state.Controller
	sequencer   *reveal.Sequencer
	out         Publisher
	broadcaster Broadcaster
	monitor     *monitor.Monitor
	now         func() time.Time

	// owned by the loop
	snap     projector.Snapshot
	lastSent []byte

	intents   chan request
	finished  chan completion
	ticker    *time.Ticker
	closeChan chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}

	viewMutex sync.RWMutex
	view      View
}

// NewRoom subscribes to roomID on behalf of userID and starts the loop.
func NewRoom(roomID, userID, sessionID string, store persistence.Store, gateway Gateway, sched reveal.Scheduler, out Publisher, broadcaster Broadcaster, opts Options) *Room {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	r := &Room{
		ID:          roomID,
		UserID:      userID,
		SessionID:   sessionID,
		gateway:     gateway,
		projector:   projector.New(store),
		controller:  state.NewController(gateway, userID, opts.Monitor, opts.Timing),
		sequencer:   reveal.NewSequencer(sched),
		out:         out,
		broadcaster: broadcaster,
		monitor:     opts.Monitor,
		now:         time.Now,
		intents:     make(chan request),
		finished:    make(chan completion, 8),
		ticker:      time.NewTicker(opts.Tick),
		closeChan:   make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	r.projector.Subscribe(roomID, true)
	go r.loop()
	return r
}

// Do hands in to the loop and waits for its write to finish.
func (r *Room) Do(ctx context.Context, in Intent) error {
	reply := make(chan error, 1)
	select {
	case r.intents <- request{intent: in, reply: reply}:
	case <-r.closeChan:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View returns the last view published.
func (r *Room) View() View {
	r.viewMutex.RLock()
	defer r.viewMutex.RUnlock()
	return r.view
}

// Snapshot returns the projector's current snapshot.
func (r *Room) Snapshot() projector.Snapshot {
	return r.projector.Snapshot()
}

// Close stops the loop and the room's subscriptions. Writes already issued
// still run to completion.
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		close(r.closeChan)
		<-r.stopped
		r.ticker.Stop()
		r.sequencer.Close()
		r.projector.Close()
	})
}

func (r *Room) loop() {
	defer close(r.stopped)
	for {
		select {
		case snap, ok := <-r.projector.Updates():
			if !ok {
				return
			}
			if snap.Err != nil && r.snap.Err == nil {
				r.monitor.IncSubscriptionErrors()
			}
			r.snap = snap
			r.syncReveal()
			r.observe()
			r.publish()
		case ev := <-r.sequencer.Events():
			if r.sequencer.Handle(ev) {
				r.publish()
			}
		case req := <-r.intents:
			r.handle(req)
		case c := <-r.finished:
			r.complete(c)
		case <-r.ticker.C:
			r.observe()
			r.publish()
		case <-r.closeChan:
			return
		}
	}
}

// syncReveal points the sequencer at the authoritative results photo.
func (r *Room) syncReveal() {
	if r.snap.Status() != models.StatusResults || len(r.snap.Photos) == 0 {
		if r.sequencer.State().Phase != reveal.PhaseIdle {
			r.sequencer.Reset()
		}
		return
	}
	ordered := reveal.OrderPhotos(r.snap.Photos)
	photo := ordered[reveal.ClampIndex(r.snap.Room.ResultsIndex, len(ordered))]
	r.sequencer.Show(photo.ID, len(scoring.CorrectGuessers(photo, r.snap.Users)))
}

func (r *Room) observe() {
	d, ok := r.controller.Arm(r.snap)
	if !ok {
		return
	}
	snap := r.snap
	r.run(kindAuto, nil, func(ctx context.Context) (models.Status, state.Trigger, error) {
		return d.To, state.TriggerAuto, r.controller.Run(ctx, snap, d)
	})
}

func (r *Room) handle(req request) {
	work, err := r.plan(req.intent)
	if err != nil {
		req.reply <- err
		return
	}
	r.run(req.intent.Kind, req.reply, work)
}

type work func(ctx context.Context) (models.Status, state.Trigger, error)

// plan validates in against the current snapshot and returns the write to run.
func (r *Room) plan(in Intent) (work, error) {
	snap := r.snap
	roomID, userID := r.ID, r.UserID
	noStage := func(err error) (models.Status, state.Trigger, error) { return "", "", err }

	switch in.Kind {
	case KindReady:
		if err := checkReady(snap, userID); err != nil {
			return nil, err
		}
		return func(ctx context.Context) (models.Status, state.Trigger, error) {
			return noStage(r.gateway.ToggleReady(ctx, roomID, userID, in.Ready))
		}, nil
	case KindChat:
		text, err := checkChat(snap, userID, in.Text)
		if err != nil {
			return nil, err
		}
		me := snap.User(userID)
		return func(ctx context.Context) (models.Status, state.Trigger, error) {
			return noStage(r.gateway.SendMessage(ctx, roomID, me.Name, me.PhotoURL, text))
		}, nil
	case KindRename:
		name, err := checkRename(snap, userID, in.Name)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (models.Status, state.Trigger, error) {
			return noStage(r.gateway.UpdateUser(ctx, roomID, userID, persistence.Fields{persistence.FieldName: name}))
		}, nil
	case KindGuess:
		if err := checkGuess(snap, userID, in.PhotoID, in.TargetID); err != nil {
			return nil, err
		}
		return func(ctx context.Context) (models.Status, state.Trigger, error) {
			return noStage(r.gateway.AssignPhotoToUser(ctx, roomID, in.PhotoID, in.TargetID, userID))
		}, nil
	case KindRemovePhoto:
		photo, err := checkRemove(snap, userID, in.PhotoID)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (models.Status, state.Trigger, error) {
			r.gateway.RemovePhoto(ctx, roomID, photo.ID, photo.StoragePath)
			return noStage(nil)
		}, nil
	case KindStartUpload:
		return r.manual(models.StatusUpload, r.controller.StartUpload), nil
	case KindStartGuess:
		return r.manual(models.StatusGuess, r.controller.StartGuess), nil
	case KindShowResults:
		return r.manual(models.StatusResults, r.controller.ShowResults), nil
	case KindAdvanceResults:
		st := r.sequencer.State()
		final := true
		if n := len(snap.Photos); n > 0 && snap.Room != nil {
			final = reveal.ClampIndex(snap.Room.ResultsIndex, n) >= n-1
		}
		return func(ctx context.Context) (models.Status, state.Trigger, error) {
			err := r.controller.AdvanceResults(ctx, snap, st)
			if final {
				return models.StatusComplete, state.TriggerManual, err
			}
			return noStage(err)
		}, nil
	}
	return nil, ErrUnknownIntent
}

func (r *Room) manual(to models.Status, fn func(context.Context, projector.Snapshot) error) work {
	snap := r.snap
	return func(ctx context.Context) (models.Status, state.Trigger, error) {
		return to, state.TriggerManual, fn(ctx, snap)
	}
}

// run performs w off the loop. Writes are not tied to the room's lifetime.
func (r *Room) run(kind Kind, reply chan error, w work) {
	go func() {
		started := time.Now()
		to, trigger, err := w(context.Background())
		r.monitor.ObserveAction("intent_"+string(kind), started, err)
		if reply != nil {
			reply <- err
		}
		select {
		case r.finished <- completion{kind: kind, to: to, trigger: trigger, err: err}:
		case <-r.closeChan:
		}
	}()
}

func (r *Room) complete(c completion) {
	if c.err != nil {
		logger.Log.Warnf("room %s: %s by %s failed: %v", r.ID, c.kind, r.UserID, c.err)
	}
	if c.err == nil && c.to != "" && r.broadcaster != nil {
		data, _ := json.Marshal(network.StageNotice{
			RoomID:  r.ID,
			Status:  string(c.to),
			Title:   c.to.Title(),
			Trigger: string(c.trigger),
		})
		if err := r.broadcaster.BroadcastToRoom(r.ID, network.MsgTypeStageNotice, data); err != nil {
			logger.Log.Debugf("room %s: stage notice: %v", r.ID, err)
		}
	}
	r.publish()
}

func (r *Room) publish() {
	v := BuildView(r.snap, r.sequencer.State(), r.UserID, r.now(), r.controller.Transitioning())
	r.viewMutex.Lock()
	r.view = v
	r.viewMutex.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		logger.Log.Errorf("room %s: encode view: %v", r.ID, err)
		return
	}
	if bytes.Equal(data, r.lastSent) {
		return
	}
	r.lastSent = data
	if err := r.out.Send(network.MsgTypeRoomView, data); err != nil {
		logger.Log.Debugf("room %s: send view to %s: %v", r.ID, r.SessionID, err)
	}
}

// --- 房间管理器 ---

// Manager tracks the live rooms of every connected session.
type Manager struct {
	rooms map[string]*Room // sessionID -> room
	mutex sync.RWMutex
}

// NewRoomManager 创建一个新的房间管理器
func NewRoomManager() *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
	}
}

// Add registers r under its session, closing any room the session had before.
func (m *Manager) Add(r *Room) {
	m.mutex.Lock()
	old := m.rooms[r.SessionID]
	m.rooms[r.SessionID] = r
	m.mutex.Unlock()

	if old != nil && old != r {
		old.Close()
	}
}

// RemoveRoom 从管理器中移除并关闭一个房间
func (m *Manager) RemoveRoom(sessionID string) *Room {
	m.mutex.Lock()
	r, exists := m.rooms[sessionID]
	delete(m.rooms, sessionID)
	m.mutex.Unlock()

	if exists {
		r.Close()
	}
	return r
}

// GetRoom 从管理器中获取一个房间
func (m *Manager) GetRoom(sessionID string) (*Room, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	r, exists := m.rooms[sessionID]
	return r, exists
}

// InRoom returns the live rooms attached to roomID.
func (m *Manager) InRoom(roomID string) []*Room {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Room
	for _, r := range m.rooms {
		if r.ID == roomID {
			result = append(result, r)
		}
	}
	return result
}

// RoomIDs lists the distinct rooms with at least one live session.
func (m *Manager) RoomIDs() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	seen := make(map[string]bool)
	var ids []string
	for _, r := range m.rooms {
		if !seen[r.ID] {
			seen[r.ID] = true
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// CloseAll closes every room.
func (m *Manager) CloseAll() {
	m.mutex.Lock()
	rooms := m.rooms
	m.rooms = make(map[string]*Room)
	m.mutex.Unlock()

	for _, r := range rooms {
		r.Close()
	}
}
