package network

const (
	MsgTypeHeartbeat = 1

	MsgTypeJoinRoom  = 101 // JoinRequest
	MsgTypeLeaveRoom = 102

	MsgTypeIntent       = 201 // room.Intent
	MsgTypeIntentResult = 202 // IntentResult

	MsgTypeRoomView      = 301 // room.View, pushed after every change
	MsgTypeStageNotice   = 302 // StageNotice, to every session of a room
	MsgTypeUploadDone    = 303 // UploadNotice, to the uploader's sessions
	MsgTypeServerClosing = 304

	MsgTypeError = 500 // ErrorMessage
)

// JoinRequest attaches a session to a room.
type JoinRequest struct {
	RoomID     string `json:"roomId"`
	Name       string `json:"name"`
	AvatarSeed string `json:"avatarSeed,omitempty"`
	PhotoURL   string `json:"photoURL,omitempty"`
}

// IntentResult answers one intent. Seq echoes the client's sequence number.
type IntentResult struct {
	Seq   uint64 `json:"seq"`
	Kind  string `json:"kind"`
	Error string `json:"error,omitempty"`
}

type StageNotice struct {
	RoomID  string `json:"roomId"`
	Status  string `json:"status"`
	Title   string `json:"title"`
	Trigger string `json:"trigger"`
}

type UploadNotice struct {
	RoomID  string `json:"roomId"`
	PhotoID string `json:"photoId"`
	URL     string `json:"url"`
}

type ErrorMessage struct {
	Error string `json:"error"`
}
