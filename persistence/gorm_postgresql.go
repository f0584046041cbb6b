// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wfunc/photoguess/models"
)

// dbClock stamps rows with the database's time, shared by every process
// writing to it.
const dbClock = "clock_timestamp()"

// GormStore 使用GORM的PostgreSQL房间存储
type GormStore struct {
	db       *gorm.DB
	clock    *clock
	notifier Notifier
}

// OpenPostgres 创建GORM PostgreSQL数据库连接并迁移表结构
func OpenPostgres(dsn string) (*gorm.DB, error) {
	// 配置GORM日志
	gormLogger := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold: time.Second,       // 慢SQL阈值
			LogLevel:      gormlogger.Silent, // 日志级别
			Colorful:      false,             // 禁用彩色打印
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	// 获取通用数据库对象 sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := autoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// autoMigrate 自动迁移表结构
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.GormRoom{},
		&models.GormUser{},
		&models.GormPhoto{},
		&models.GormMessage{},
	)
}

// NewGormStore wraps an open database. A nil notifier gets a LocalNotifier,
// which only reaches watchers in this process.
func NewGormStore(db *gorm.DB, notifier Notifier) *GormStore {
	if notifier == nil {
		notifier = NewLocalNotifier()
	}
	return &GormStore{db: db, clock: newClock(nil), notifier: notifier}
}

// now reads the database clock.
func (s *GormStore) now(ctx context.Context) (time.Time, error) {
	var t time.Time
	if err := s.db.WithContext(ctx).Raw("SELECT " + dbClock).Scan(&t).Error; err != nil {
		return time.Time{}, fmt.Errorf("persistence: read clock: %w", err)
	}
	return s.clock.Advance(t), nil
}

// dbColumns maps resolved fields onto columns and points every
// ServerTimestamp field at the database clock.
func dbColumns(fields, resolved Fields, known map[string]string) map[string]interface{} {
	cols := resolved.columns(known)
	for k, v := range fields {
		if _, ok := v.(serverTimestamp); ok {
			cols[known[k]] = gorm.Expr(dbClock)
		}
	}
	return cols
}

func (s *GormStore) publish(ctx context.Context, roomID string, c Collection) {
	_ = s.notifier.Publish(ctx, Change{RoomID: roomID, Collection: c})
}

func (s *GormStore) CreateRoom(ctx context.Context, room *models.Room) (string, error) {
	id := room.ID
	if id == "" {
		id = uuid.NewString()
	}
	now, err := s.now(ctx)
	if err != nil {
		return "", err
	}
	row := models.GormRoom{
		RoomID:              id,
		Status:              string(room.Status),
		GameName:            room.GameName,
		CountdownEnabled:    room.CountdownEnabled,
		MaxPhotos:           room.MaxPhotos,
		HostUID:             room.HostUID,
		TimerPerUserSeconds: room.TimerPerUserSeconds,
		Round:               room.Round,
		TimerEndsAt:         room.TimerEndsAt,
		TimerStartedAt:      room.TimerStartedAt,
		StageStartedAt:      room.StageStartedAt,
		ResultsIndex:        room.ResultsIndex,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("persistence: create room: %w", err)
	}
	s.publish(ctx, id, CollectionRoom)
	return id, nil
}

func (s *GormStore) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	var row models.GormRoom
	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.ToModel(), nil
}

func (s *GormStore) UpdateRoom(ctx context.Context, roomID string, fields Fields) error {
	return s.updateRoom(ctx, roomID, "", fields)
}

func (s *GormStore) UpdateRoomIf(ctx context.Context, roomID string, expected models.Status, fields Fields) error {
	return s.updateRoom(ctx, roomID, expected, fields)
}

func (s *GormStore) updateRoom(ctx context.Context, roomID string, expected models.Status, fields Fields) error {
	resolved, err := fields.resolve(roomColumns, s.clock.Now())
	if err != nil {
		return err
	}
	if err := applyRoomFields(&models.Room{}, resolved); err != nil {
		return err
	}
	q := s.db.WithContext(ctx).Model(&models.GormRoom{}).Where("room_id = ?", roomID)
	if expected != "" {
		q = q.Where("status = ?", string(expected))
	}
	res := q.Updates(dbColumns(fields, resolved, roomColumns))
	if res.Error != nil {
		return fmt.Errorf("persistence: update room: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if expected == "" {
			return ErrNotFound
		}
		// Tell a missing room apart from a lost compare-and-swap.
		if _, err := s.GetRoom(ctx, roomID); err != nil {
			return err
		}
		return ErrStatusConflict
	}
	s.publish(ctx, roomID, CollectionRoom)
	return nil
}

func (s *GormStore) UpsertUser(ctx context.Context, roomID string, user models.User) error {
	joinedAt, err := s.now(ctx)
	if err != nil {
		return err
	}
	row := models.GormUser{
		RoomID:     roomID,
		UserID:     user.ID,
		Name:       user.Name,
		AvatarSeed: user.AvatarSeed,
		PhotoURL:   user.PhotoURL,
		Role:       string(user.Role),
		Ready:      user.Ready,
		ReadyAt:    user.ReadyAt,
		Score:      user.Score,
		JoinedAt:   joinedAt,
		Connected:  user.Connected,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "avatar_seed", "photo_url", "connected", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("persistence: upsert user: %w", err)
	}
	s.publish(ctx, roomID, CollectionUsers)
	return nil
}

func (s *GormStore) UpdateUser(ctx context.Context, roomID, userID string, fields Fields) error {
	resolved, err := fields.resolve(userColumns, s.clock.Now())
	if err != nil {
		return err
	}
	if err := applyUserFields(&models.User{}, resolved); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&models.GormUser{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Updates(dbColumns(fields, resolved, userColumns))
	if res.Error != nil {
		return fmt.Errorf("persistence: update user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	s.publish(ctx, roomID, CollectionUsers)
	return nil
}

func (s *GormStore) IncrementScore(ctx context.Context, roomID, userID string, delta int) error {
	res := s.db.WithContext(ctx).Model(&models.GormUser{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Update("score", gorm.Expr("score + ?", delta))
	if res.Error != nil {
		return fmt.Errorf("persistence: increment score: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	s.publish(ctx, roomID, CollectionUsers)
	return nil
}

func (s *GormStore) ListUsers(ctx context.Context, roomID string) ([]models.User, error) {
	var rows []models.GormUser
	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).
		Order("joined_at ASC").Order("user_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("persistence: list users: %w", err)
	}
	users := make([]models.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.ToModel())
	}
	return users, nil
}

func (s *GormStore) AddPhoto(ctx context.Context, roomID string, photo models.Photo) (string, error) {
	id := photo.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt, err := s.now(ctx)
	if err != nil {
		return "", err
	}
	guesses := make(datatypes.JSONMap, len(photo.Guesses))
	for k, v := range photo.Guesses {
		guesses[k] = v
	}
	row := models.GormPhoto{
		PhotoID:        id,
		RoomID:         roomID,
		URL:            photo.URL,
		StoragePath:    photo.StoragePath,
		UploadedBy:     photo.UploadedBy,
		UploadedByName: photo.UploadedByName,
		Guesses:        guesses,
		CreatedAt:      createdAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("persistence: add photo: %w", err)
	}
	s.publish(ctx, roomID, CollectionPhotos)
	return id, nil
}

func (s *GormStore) ListPhotos(ctx context.Context, roomID string) ([]models.Photo, error) {
	var rows []models.GormPhoto
	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).
		Order("created_at ASC").Order("photo_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("persistence: list photos: %w", err)
	}
	photos := make([]models.Photo, 0, len(rows))
	for _, r := range rows {
		photos = append(photos, r.ToModel())
	}
	return photos, nil
}

func (s *GormStore) DeletePhoto(ctx context.Context, roomID, photoID string) error {
	res := s.db.WithContext(ctx).Where("room_id = ? AND photo_id = ?", roomID, photoID).Delete(&models.GormPhoto{})
	if res.Error != nil {
		return fmt.Errorf("persistence: delete photo: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	s.publish(ctx, roomID, CollectionPhotos)
	return nil
}

// SetGuess writes a single key of the guesses document with jsonb_set, so
// concurrent guessers never overwrite each other.
func (s *GormStore) SetGuess(ctx context.Context, roomID, photoID, guesserID, targetID string) error {
	res := s.db.WithContext(ctx).Model(&models.GormPhoto{}).
		Where("room_id = ? AND photo_id = ?", roomID, photoID).
		Update("guesses", gorm.Expr(
			"jsonb_set(COALESCE(guesses, '{}'::jsonb), ARRAY[?]::text[], to_jsonb(?::text))",
			guesserID, targetID,
		))
	if res.Error != nil {
		return fmt.Errorf("persistence: set guess: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	s.publish(ctx, roomID, CollectionPhotos)
	return nil
}

func (s *GormStore) AddMessage(ctx context.Context, roomID string, msg models.Message) (string, error) {
	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt, err := s.now(ctx)
	if err != nil {
		return "", err
	}
	row := models.GormMessage{
		MessageID: id,
		RoomID:    roomID,
		Text:      msg.Text,
		UserName:  msg.UserName,
		UserPhoto: msg.UserPhoto,
		CreatedAt: createdAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("persistence: add message: %w", err)
	}
	s.publish(ctx, roomID, CollectionMessages)
	return id, nil
}

func (s *GormStore) ListMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	var rows []models.GormMessage
	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).
		Order("created_at ASC").Order("message_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("persistence: list messages: %w", err)
	}
	msgs := make([]models.Message, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, r.ToModel())
	}
	return msgs, nil
}

func (s *GormStore) WatchRoom(roomID string, fn func(*models.Room, error)) Unsubscribe {
	load := func(ctx context.Context) (*models.Room, error) {
		r, err := s.GetRoom(ctx, roomID)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return r, err
	}
	return watchCollection(s.notifier, roomID, CollectionRoom, load, fn)
}

func (s *GormStore) WatchUsers(roomID string, fn func([]models.User, error)) Unsubscribe {
	load := func(ctx context.Context) ([]models.User, error) { return s.ListUsers(ctx, roomID) }
	return watchCollection(s.notifier, roomID, CollectionUsers, load, fn)
}

func (s *GormStore) WatchPhotos(roomID string, fn func([]models.Photo, error)) Unsubscribe {
	load := func(ctx context.Context) ([]models.Photo, error) { return s.ListPhotos(ctx, roomID) }
	return watchCollection(s.notifier, roomID, CollectionPhotos, load, fn)
}

func (s *GormStore) WatchMessages(roomID string, fn func([]models.Message, error)) Unsubscribe {
	load := func(ctx context.Context) ([]models.Message, error) { return s.ListMessages(ctx, roomID) }
	return watchCollection(s.notifier, roomID, CollectionMessages, load, fn)
}

// Close 关闭数据库连接
func (s *GormStore) Close() error {
	nErr := s.notifier.Close()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		return err
	}
	return nErr
}
