package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/wfunc/photoguess/identity"
	"github.com/wfunc/photoguess/logger"
	"github.com/wfunc/photoguess/models"
	"github.com/wfunc/photoguess/network"
	"github.com/wfunc/photoguess/persistence"
	"github.com/wfunc/photoguess/projector"
	"github.com/wfunc/photoguess/room"
	"github.com/wfunc/photoguess/services"
)

const (
	ctxUser         = "user"
	localUserHeader = "X-Player-ID"
	photoFormField  = "photo"
)

var errUnauthenticated = errors.New("unauthenticated")

func (s *GameServer) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	api := r.Group("/api")
	api.POST("/identity", s.handleSignIn)
	api.GET("/topics", handleTopics)

	authed := api.Group("", s.authMiddleware())
	authed.PATCH("/identity/profile", s.handleUpdateProfile)
	authed.POST("/rooms", s.handleCreateRoom)
	authed.POST("/rooms/:id/photos", s.handleUploadPhoto)

	r.GET("/ws", s.authMiddleware(), s.handleWebSocket)
	if s.opts.BlobDir != "" {
		r.Static(s.opts.BlobRoute, s.opts.BlobDir)
	}
	if s.opts.Monitor != nil {
		r.GET("/metrics", gin.WrapH(s.opts.Monitor.Handler()))
	}
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Log.Debugw("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
		)
	}
}

// authMiddleware resolves the caller from a bearer token, a token query
// parameter (browsers cannot set headers on websocket upgrades) or, when
// allowed, a locally generated player id.
func (s *GameServer) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := s.authenticate(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, identity.ErrorBody{Error: err.Error()})
			c.Abort()
			return
		}
		c.Set(ctxUser, user)
		c.Next()
	}
}

func (s *GameServer) authenticate(r *http.Request) (identity.User, error) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token != "" && s.opts.Tokens != nil {
		return s.opts.Tokens.Verify(token)
	}
	if s.opts.AllowLocal {
		id := r.Header.Get(localUserHeader)
		if id == "" {
			id = r.URL.Query().Get("player")
		}
		if id != "" {
			return identity.User{UID: id, IsLocal: true}, nil
		}
	}
	return identity.User{}, errUnauthenticated
}

func currentUser(c *gin.Context) identity.User {
	u, _ := c.Get(ctxUser)
	user, _ := u.(identity.User)
	return user
}

func errorResponse(c *gin.Context, status int, err error) {
	c.JSON(status, identity.ErrorBody{Error: err.Error()})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, room.ErrNotInRoom):
		return http.StatusForbidden
	case errors.Is(err, room.ErrWrongStage), errors.Is(err, room.ErrUploadLimit):
		return http.StatusConflict
	case errors.Is(err, services.ErrRoomRequired), errors.Is(err, services.ErrFileRequired), errors.Is(err, services.ErrUserRequired):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *GameServer) handleSignIn(c *gin.Context) {
	if s.opts.Tokens == nil {
		c.JSON(http.StatusForbidden, identity.ErrorBody{Code: identity.RestrictedOperationCode, Error: "anonymous sign-in is disabled"})
		return
	}
	user, err := s.opts.Tokens.SignInAnonymously(c.Request.Context())
	if errors.Is(err, identity.ErrRestrictedOperation) {
		c.JSON(http.StatusForbidden, identity.ErrorBody{Code: identity.RestrictedOperationCode, Error: err.Error()})
		return
	}
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *GameServer) handleUpdateProfile(c *gin.Context) {
	user := currentUser(c)
	if user.Token == "" || s.opts.Tokens == nil {
		errorResponse(c, http.StatusBadRequest, errors.New("local identities keep their profile on the client"))
		return
	}
	var req identity.ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	updated, err := s.opts.Tokens.UpdateProfile(c.Request.Context(), user, strings.TrimSpace(req.DisplayName), req.PhotoURL)
	if err != nil {
		errorResponse(c, http.StatusUnauthorized, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func handleTopics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"topics": models.DefaultTopics})
}

// createRoomRequest configures a new room. An absent maxPhotos takes the
// server default; zero or less means unbounded.
type createRoomRequest struct {
	Name                string `json:"name"`
	AvatarSeed          string `json:"avatarSeed"`
	PhotoURL            string `json:"photoURL"`
	GameName            string `json:"gameName"`
	CountdownEnabled    bool   `json:"countdownEnabled"`
	MaxPhotos           *int   `json:"maxPhotos"`
	TimerPerUserSeconds int    `json:"timerPerUserSeconds"`
}

func (s *GameServer) handleCreateRoom(c *gin.Context) {
	user := currentUser(c)
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	if req.GameName == "" {
		req.GameName = models.DefaultTopics[0]
	}
	switch {
	case req.MaxPhotos == nil:
		n := s.opts.DefaultMaxPhotos
		if n <= 0 {
			n = models.DefaultMaxPhotos
		}
		req.MaxPhotos = models.IntPtr(n)
	case *req.MaxPhotos <= 0:
		req.MaxPhotos = nil
	}
	name := req.Name
	if name == "" {
		name = user.DisplayName
	}

	id, err := s.gateway.CreateRoom(c.Request.Context(), models.Profile{
		UserID:     user.UID,
		Name:       name,
		AvatarSeed: req.AvatarSeed,
		PhotoURL:   req.PhotoURL,
	}, models.GameConfig{
		GameName:            req.GameName,
		CountdownEnabled:    req.CountdownEnabled,
		MaxPhotos:           req.MaxPhotos,
		TimerPerUserSeconds: req.TimerPerUserSeconds,
	})
	if err != nil {
		errorResponse(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"roomId": id})
}

func (s *GameServer) handleUploadPhoto(c *gin.Context) {
	user := currentUser(c)
	roomID := c.Param("id")
	if s.opts.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes)
	}

	header, err := c.FormFile(photoFormField)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, services.ErrFileRequired)
		return
	}

	// The cap check and the write run under one lock per player and room, so
	// parallel uploads cannot both pass the check.
	unlock := s.uploadLocks.Lock(roomID + "/" + user.UID)
	defer unlock()

	ctx := c.Request.Context()
	snap, err := projector.Load(ctx, s.opts.Store, roomID)
	if err != nil {
		errorResponse(c, statusFor(err), err)
		return
	}
	if err := room.CheckUpload(snap, user.UID); err != nil {
		errorResponse(c, statusFor(err), err)
		return
	}

	file, err := header.Open()
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	defer file.Close()

	photo, err := s.gateway.UploadRoomPhoto(ctx, services.Upload{
		RoomID:    roomID,
		FileName:  header.Filename,
		Size:      header.Size,
		Body:      file,
		OwnerID:   user.UID,
		OwnerName: snap.User(user.UID).Name,
	})
	if err != nil {
		errorResponse(c, statusFor(err), err)
		return
	}

	data, _ := json.Marshal(network.UploadNotice{RoomID: roomID, PhotoID: photo.ID, URL: photo.URL})
	_ = s.broadcaster.BroadcastToUsers([]string{user.UID}, network.MsgTypeUploadDone, data)
	c.JSON(http.StatusCreated, photo)
}
