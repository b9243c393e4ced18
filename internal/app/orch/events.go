package orch

import "github.com/danpat592/Yeettalk/internal/domain"

// Client events.
const (
	EventAuthenticate = "authenticate"
	EventJoinRoom     = "join_room"
	EventLeaveRoom    = "leave_room"
	EventSendMessage  = "send_message"
	EventTypingStart  = "typing_start"
	EventTypingStop   = "typing_stop"
	EventPing         = "ping"
)

// Server events.
const (
	EventAuthenticated  = "authenticated"
	EventAuthError      = "authentication_error"
	EventRoomJoined     = "room_joined"
	EventRoomLeft       = "room_left"
	EventRoomError      = "room_error"
	EventUserJoinedRoom = "user_joined_room"
	EventUserLeftRoom   = "user_left_room"
	EventUserOffline    = "user_offline"
	EventNewMessage     = "new_message"
	EventMessageError   = "message_error"
	EventUserTyping     = "user_typing"
	EventPong           = "pong"
	EventError          = "error"
	EventVoiceError     = "voice_error"
	EventScreenError    = "screen_share_error"
	EventMusicError     = "music_error"
)

// Signaling kinds that may address a single user.
var (
	voiceKinds  = []string{"voice_offer", "voice_answer", "voice_ice_candidate"}
	screenKinds = []string{"screen_share_offer", "screen_share_answer", "screen_share_ice_candidate"}
)

// Signaling kinds that always go to the whole room.
var (
	voiceBroadcastKinds  = []string{"voice_state_changed"}
	screenBroadcastKinds = []string{"screen_share_start", "screen_share_stop"}
	musicKinds           = []string{"music_play", "music_pause", "music_next", "music_previous", "music_seek", "music_volume_change"}
)

type errorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type authenticatedPayload struct {
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
	Avatar   string        `json:"avatar,omitempty"`
}

type roomPayload struct {
	RoomID domain.RoomID `json:"roomId"`
}

type userRoomPayload struct {
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
	Avatar   string        `json:"avatar,omitempty"`
	RoomID   domain.RoomID `json:"roomId,omitempty"`
}

type typingPayload struct {
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
	RoomID   domain.RoomID `json:"roomId"`
	IsTyping bool          `json:"isTyping"`
}
