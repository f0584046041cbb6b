// models/gorm_models.go
package models

import (
	"time"

	"gorm.io/datatypes"
)

// GormRoom 房间文档
type GormRoom struct {
	RoomID              string  `gorm:"primaryKey;size:64"`
	Status              string  `gorm:"size:16;not null;index"`
	GameName            string  `gorm:"not null"`
	CountdownEnabled    bool    `gorm:"default:false"`
	MaxPhotos           *int
	HostUID             string  `gorm:"size:64;not null"`
	TimerPerUserSeconds int     `gorm:"not null"`
	Round               int     `gorm:"not null"`
	TimerEndsAt         *time.Time
	TimerStartedAt      *time.Time
	StageStartedAt      *time.Time
	ResultsIndex        int `gorm:"default:0"`
	ResultsAppliedAt    *time.Time
	CompletedAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (GormRoom) TableName() string { return "rooms" }

// GormUser 房间内玩家
type GormUser struct {
	RoomID     string `gorm:"primaryKey;size:64"`
	UserID     string `gorm:"primaryKey;size:64"`
	Name       string `gorm:"not null"`
	AvatarSeed string
	PhotoURL   string
	Role       string `gorm:"size:8;not null"`
	Ready      bool   `gorm:"default:false"`
	ReadyAt    *time.Time
	Score      int       `gorm:"default:0"`
	JoinedAt   time.Time `gorm:"index"`
	Connected  bool
	UpdatedAt  time.Time
}

func (GormUser) TableName() string { return "room_users" }

// GormPhoto 上传的照片, Guesses 为 jsonb
type GormPhoto struct {
	PhotoID        string `gorm:"primaryKey;size:64"`
	RoomID         string `gorm:"size:64;not null;index"`
	URL            string `gorm:"not null"`
	StoragePath    string
	UploadedBy     string `gorm:"size:64;not null"`
	UploadedByName string
	Guesses        datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt      time.Time         `gorm:"index"`
	UpdatedAt      time.Time
}

func (GormPhoto) TableName() string { return "room_photos" }

// GormMessage 聊天消息
type GormMessage struct {
	MessageID string `gorm:"primaryKey;size:64"`
	RoomID    string `gorm:"size:64;not null;index"`
	Text      string `gorm:"not null"`
	UserName  string `gorm:"not null"`
	UserPhoto string
	CreatedAt time.Time `gorm:"index"`
}

func (GormMessage) TableName() string { return "room_messages" }

func (g GormRoom) ToModel() *Room {
	return &Room{
		ID:                  g.RoomID,
		Status:              Status(g.Status),
		GameName:            g.GameName,
		CountdownEnabled:    g.CountdownEnabled,
		MaxPhotos:           cloneInt(g.MaxPhotos),
		HostUID:             g.HostUID,
		TimerPerUserSeconds: g.TimerPerUserSeconds,
		Round:               g.Round,
		TimerEndsAt:         cloneTime(g.TimerEndsAt),
		TimerStartedAt:      cloneTime(g.TimerStartedAt),
		StageStartedAt:      cloneTime(g.StageStartedAt),
		ResultsIndex:        g.ResultsIndex,
		ResultsAppliedAt:    cloneTime(g.ResultsAppliedAt),
		CompletedAt:         cloneTime(g.CompletedAt),
		CreatedAt:           g.CreatedAt,
		UpdatedAt:           g.UpdatedAt,
	}
}

func (g GormUser) ToModel() User {
	return User{
		ID:         g.UserID,
		Name:       g.Name,
		AvatarSeed: g.AvatarSeed,
		PhotoURL:   g.PhotoURL,
		Role:       Role(g.Role),
		Ready:      g.Ready,
		ReadyAt:    cloneTime(g.ReadyAt),
		Score:      g.Score,
		JoinedAt:   g.JoinedAt,
		Connected:  g.Connected,
	}
}

func (g GormPhoto) ToModel() Photo {
	guesses := make(map[string]string, len(g.Guesses))
	for k, v := range g.Guesses {
		if s, ok := v.(string); ok && s != "" {
			guesses[k] = s
		}
	}
	return Photo{
		ID:             g.PhotoID,
		URL:            g.URL,
		StoragePath:    g.StoragePath,
		UploadedBy:     g.UploadedBy,
		UploadedByName: g.UploadedByName,
		CreatedAt:      g.CreatedAt,
		Guesses:        guesses,
	}
}

func (g GormMessage) ToModel() Message {
	return Message{
		ID:        g.MessageID,
		Text:      g.Text,
		UserName:  g.UserName,
		UserPhoto: g.UserPhoto,
		CreatedAt: g.CreatedAt,
	}
}
