// services/room_gateway.go
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wfunc/photoguess/blob"
	"github.com/wfunc/photoguess/logger"
	"github.com/wfunc/photoguess/models"
	"github.com/wfunc/photoguess/monitor"
	"github.com/wfunc/photoguess/persistence"
)

var (
	ErrRoomRequired      = errors.New("services: room id required")
	ErrFileRequired      = errors.New("services: file required")
	ErrUserRequired      = errors.New("services: user id required")
	ErrInvalidTransition = errors.New("services: status may only move one stage forward")
	ErrNegativeScore     = errors.New("services: score delta must not be negative")
)

// RoomGateway is the only writer of room state. Each method performs its
// writes in order and returns the first error; earlier writes are not rolled back.
type RoomGateway struct {
	store   persistence.Store
	blobs   blob.Store
	monitor *monitor.Monitor
	now     func() time.Time
}

func NewRoomGateway(store persistence.Store, blobs blob.Store, mon *monitor.Monitor) *RoomGateway {
	return &RoomGateway{store: store, blobs: blobs, monitor: mon, now: time.Now}
}

func (g *RoomGateway) observe(action string, started time.Time, err *error) {
	g.monitor.ObserveAction(action, started, *err)
}

// CreateRoom writes the room, its host and a system message, in that order.
// A failure part way leaves a partial room behind; retry by creating a new one.
func (g *RoomGateway) CreateRoom(ctx context.Context, host models.Profile, cfg models.GameConfig) (roomID string, err error) {
	defer g.observe("create_room", time.Now(), &err)
	if host.UserID == "" {
		return "", ErrUserRequired
	}
	if host.Name == "" {
		host.Name = models.DefaultHostName
	}
	if cfg.TimerPerUserSeconds <= 0 {
		cfg.TimerPerUserSeconds = models.DefaultTimerPerUserSeconds
	}

	roomID, err = g.store.CreateRoom(ctx, &models.Room{
		Status:              models.StatusJoin,
		GameName:            cfg.GameName,
		CountdownEnabled:    cfg.CountdownEnabled,
		MaxPhotos:           cfg.MaxPhotos,
		HostUID:             host.UserID,
		TimerPerUserSeconds: cfg.TimerPerUserSeconds,
		Round:               1,
	})
	if err != nil {
		return "", fmt.Errorf("services: create room: %w", err)
	}

	err = g.store.UpsertUser(ctx, roomID, models.User{
		ID:         host.UserID,
		Name:       host.Name,
		AvatarSeed: host.AvatarSeed,
		PhotoURL:   host.PhotoURL,
		Role:       models.RoleHost,
		Connected:  true,
	})
	if err != nil {
		return roomID, fmt.Errorf("services: create room host: %w", err)
	}

	if err = g.systemMessage(ctx, roomID, host.Name+" created the room"); err != nil {
		return roomID, err
	}
	logger.Log.Infof("room %s created by %s", roomID, host.UserID)
	return roomID, nil
}

// JoinRoom merges the user into the room and announces them. The host role is
// only ever granted to the room's creator, whatever role the caller asks for.
func (g *RoomGateway) JoinRoom(ctx context.Context, roomID string, profile models.Profile, role models.Role) (err error) {
	defer g.observe("join_room", time.Now(), &err)
	if roomID == "" {
		return ErrRoomRequired
	}
	if profile.UserID == "" {
		return ErrUserRequired
	}
	if profile.Name == "" {
		profile.Name = models.DefaultGuestName
	}

	room, err := g.store.GetRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("services: join room: %w", err)
	}
	if role == models.RoleHost && room.HostUID != profile.UserID {
		role = models.RoleGuest
	}
	if room.HostUID == profile.UserID {
		role = models.RoleHost
	}
	if role == "" {
		role = models.RoleGuest
	}

	err = g.store.UpsertUser(ctx, roomID, models.User{
		ID:         profile.UserID,
		Name:       profile.Name,
		AvatarSeed: profile.AvatarSeed,
		PhotoURL:   profile.PhotoURL,
		Role:       role,
		Connected:  true,
	})
	if err != nil {
		return fmt.Errorf("services: join room: %w", err)
	}
	return g.systemMessage(ctx, roomID, profile.Name+" joined the room")
}

func (g *RoomGateway) systemMessage(ctx context.Context, roomID, text string) error {
	_, err := g.store.AddMessage(ctx, roomID, models.Message{
		Text:     strings.Join(strings.Fields(text), " "),
		UserName: models.SystemUserName,
	})
	if err != nil {
		return fmt.Errorf("services: system message: %w", err)
	}
	return nil
}

// UpdateUser writes arbitrary user fields, such as a new name or connection state.
func (g *RoomGateway) UpdateUser(ctx context.Context, roomID, userID string, fields persistence.Fields) (err error) {
	defer g.observe("update_user", time.Now(), &err)
	if roomID == "" {
		return ErrRoomRequired
	}
	return g.store.UpdateUser(ctx, roomID, userID, fields)
}

// ToggleReady sets the ready flag. readyAt is stamped when ready and cleared otherwise.
func (g *RoomGateway) ToggleReady(ctx context.Context, roomID, userID string, ready bool) (err error) {
	defer g.observe("toggle_ready", time.Now(), &err)
	if roomID == "" {
		return ErrRoomRequired
	}
	var readyAt interface{}
	if ready {
		readyAt = persistence.ServerTimestamp
	}
	return g.store.UpdateUser(ctx, roomID, userID, persistence.Fields{
		persistence.FieldReady:   ready,
		persistence.FieldReadyAt: readyAt,
	})
}

// SendMessage appends a chat line as given. Callers reject empty text.
func (g *RoomGateway) SendMessage(ctx context.Context, roomID, userName, userPhoto, text string) (err error) {
	defer g.observe("send_message", time.Now(), &err)
	if roomID == "" {
		return ErrRoomRequired
	}
	_, err = g.store.AddMessage(ctx, roomID, models.Message{
		Text:      text,
		UserName:  userName,
		UserPhoto: userPhoto,
	})
	return err
}

// Upload is a photo on its way into a room.
type Upload struct {
	RoomID    string
	FileName  string
	Size      int64
	Body      io.Reader
	OwnerID   string
	OwnerName string
	Progress  blob.Progress
}

// StoragePath is where a photo named fileName is kept for roomID.
func StoragePath(roomID, fileName string, at time.Time) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "photo"
	}
	return fmt.Sprintf("rooms/%s/%d_%s", roomID, at.UnixMilli(), name)
}

// UploadRoomPhoto stores the blob and only then records the photo. A failed
// upload creates no photo document.
func (g *RoomGateway) UploadRoomPhoto(ctx context.Context, up Upload) (photo models.Photo, err error) {
	defer g.observe("upload_photo", time.Now(), &err)
	if up.RoomID == "" {
		return models.Photo{}, ErrRoomRequired
	}
	if up.Body == nil {
		return models.Photo{}, ErrFileRequired
	}

	storagePath := StoragePath(up.RoomID, up.FileName, g.now())
	var written int64
	progress := func(n, total int64) {
		written = n
		if up.Progress != nil {
			up.Progress(n, total)
		}
	}
	if err = g.blobs.Upload(ctx, storagePath, up.Body, up.Size, progress); err != nil {
		return models.Photo{}, fmt.Errorf("services: upload photo: %w", err)
	}
	g.monitor.AddUploadBytes(written)

	url, err := g.blobs.URL(ctx, storagePath)
	if err != nil {
		return models.Photo{}, fmt.Errorf("services: resolve photo url: %w", err)
	}

	photo = models.Photo{
		URL:            url,
		StoragePath:    storagePath,
		UploadedBy:     up.OwnerID,
		UploadedByName: up.OwnerName,
		Guesses:        map[string]string{},
	}
	photo.ID, err = g.store.AddPhoto(ctx, up.RoomID, photo)
	if err != nil {
		return models.Photo{}, fmt.Errorf("services: record photo: %w", err)
	}
	return photo, nil
}

// RemovePhoto deletes the photo document, then its blob. Both are best effort:
// failures are logged and never returned.
func (g *RoomGateway) RemovePhoto(ctx context.Context, roomID, photoID, storagePath string) {
	started := time.Now()
	var err error
	defer g.observe("remove_photo", started, &err)

	if err = g.store.DeletePhoto(ctx, roomID, photoID); err != nil {
		logger.Log.Warnf("room %s: delete photo %s: %v", roomID, photoID, err)
	}
	if storagePath == "" {
		return
	}
	if blobErr := g.blobs.Delete(ctx, storagePath); blobErr != nil {
		logger.Log.Debugf("room %s: delete blob %s: %v", roomID, storagePath, blobErr)
	}
}

// AssignPhotoToUser records actingUserID's guess that targetUserID uploaded photoID.
func (g *RoomGateway) AssignPhotoToUser(ctx context.Context, roomID, photoID, targetUserID, actingUserID string) (err error) {
	defer g.observe("assign_guess", time.Now(), &err)
	if roomID == "" {
		return ErrRoomRequired
	}
	if actingUserID == "" {
		return ErrUserRequired
	}
	return g.store.SetGuess(ctx, roomID, photoID, actingUserID, targetUserID)
}

// ChangeStatus moves the room from one stage to the next together with extra
// fields. The write only lands while the room is still in from; a concurrent
// transition makes it fail with persistence.ErrStatusConflict.
func (g *RoomGateway) ChangeStatus(ctx context.Context, roomID string, from, next models.Status, extra persistence.Fields) (err error) {
	defer g.observe("change_status", time.Now(), &err)
	if roomID == "" {
		return ErrRoomRequired
	}
	if want, ok := from.Next(); !ok || want != next {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	fields := persistence.Fields{}
	for k, v := range extra {
		fields[k] = v
	}
	fields[persistence.FieldStatus] = next
	fields[persistence.FieldUpdatedAt] = persistence.ServerTimestamp
	fields[persistence.FieldStageStartedAt] = persistence.ServerTimestamp
	if err = g.store.UpdateRoomIf(ctx, roomID, from, fields); err != nil {
		return err
	}
	logger.Log.Infof("room %s: %s -> %s", roomID, from, next)
	return nil
}

// ResetReadyForAll clears every user's ready flag while the room is still in
// status, one write per user. It is not atomic: a user who joins while it runs
// may keep their flag. A room that has left status fails with
// persistence.ErrStatusConflict and nothing is cleared.
func (g *RoomGateway) ResetReadyForAll(ctx context.Context, roomID string, status models.Status) (err error) {
	defer g.observe("reset_ready", time.Now(), &err)
	if roomID == "" {
		return ErrRoomRequired
	}
	room, err := g.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Status != status {
		return persistence.ErrStatusConflict
	}
	users, err := g.store.ListUsers(ctx, roomID)
	if err != nil {
		return err
	}
	eg, ectx := errgroup.WithContext(ctx)
	for _, u := range users {
		eg.Go(func() error {
			return g.store.UpdateUser(ectx, roomID, u.ID, persistence.Fields{
				persistence.FieldReady:   false,
				persistence.FieldReadyAt: nil,
			})
		})
	}
	return eg.Wait()
}

// SetTimer sets the stage deadline while the room is still in status. A nil
// endsAt disables the countdown.
func (g *RoomGateway) SetTimer(ctx context.Context, roomID string, status models.Status, endsAt *time.Time) (err error) {
	defer g.observe("set_timer", time.Now(), &err)
	if roomID == "" {
		return ErrRoomRequired
	}
	fields := persistence.Fields{
		persistence.FieldTimerEndsAt:    endsAt,
		persistence.FieldTimerStartedAt: persistence.ServerTimestamp,
	}
	if endsAt == nil {
		fields[persistence.FieldTimerStartedAt] = nil
	}
	return g.store.UpdateRoomIf(ctx, roomID, status, fields)
}

// RecordScore adds delta to the user's score with the store's atomic increment.
func (g *RoomGateway) RecordScore(ctx context.Context, roomID, userID string, delta int) (err error) {
	defer g.observe("record_score", time.Now(), &err)
	if roomID == "" {
		return ErrRoomRequired
	}
	if delta < 0 {
		return ErrNegativeScore
	}
	if err = g.store.IncrementScore(ctx, roomID, userID, delta); err != nil {
		return err
	}
	g.monitor.AddPointsAwarded(delta)
	return nil
}

// MarkResultsApplied stamps the room once the round's scores are in.
func (g *RoomGateway) MarkResultsApplied(ctx context.Context, roomID string) error {
	if roomID == "" {
		return ErrRoomRequired
	}
	return g.store.UpdateRoom(ctx, roomID, persistence.Fields{
		persistence.FieldResultsAppliedAt: persistence.ServerTimestamp,
	})
}

// SetResultsIndex moves the reveal pointer. It only applies during results.
func (g *RoomGateway) SetResultsIndex(ctx context.Context, roomID string, index int) (err error) {
	defer g.observe("set_results_index", time.Now(), &err)
	if roomID == "" {
		return ErrRoomRequired
	}
	return g.store.UpdateRoomIf(ctx, roomID, models.StatusResults, persistence.Fields{
		persistence.FieldResultsIndex: index,
		persistence.FieldUpdatedAt:    persistence.ServerTimestamp,
	})
}

// CompleteRoom ends the game. Only a room showing results can complete.
func (g *RoomGateway) CompleteRoom(ctx context.Context, roomID string) error {
	return g.ChangeStatus(ctx, roomID, models.StatusResults, models.StatusComplete, persistence.Fields{
		persistence.FieldCompletedAt: persistence.ServerTimestamp,
	})
}
