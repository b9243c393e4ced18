package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindImage  MessageKind = "image"
	KindFile   MessageKind = "file"
	KindAudio  MessageKind = "audio"
	KindVideo  MessageKind = "video"
	KindSystem MessageKind = "system"
)

const DefaultMaxContentLength = 2000

// ClientKind reports whether clients may author messages of this kind.
// System messages are produced server-side only.
func (k MessageKind) ClientKind() bool {
	switch k {
	case KindText, KindImage, KindFile, KindAudio, KindVideo:
		return true
	}
	return false
}

// ChatEvent is an accepted send_message request, not yet persisted.
type ChatEvent struct {
	RoomID  RoomID
	Author  UserID
	Content string
	Kind    MessageKind
	ReplyTo string
}

// Message is a persisted chat message, denormalised for display by the
// store that produced it.
type Message struct {
	ID        string      `json:"id"`
	RoomID    RoomID      `json:"roomId"`
	UserID    UserID      `json:"userId"`
	Username  string      `json:"username"`
	Avatar    string      `json:"avatar,omitempty"`
	Content   string      `json:"content"`
	Kind      MessageKind `json:"kind"`
	ReplyTo   string      `json:"replyTo,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Normalize trims the content and applies the defaults and limits that hold
// for every client-authored message. maxLen counts runes; zero means
// DefaultMaxContentLength.
func (ev *ChatEvent) Normalize(maxLen int) error {
	if maxLen <= 0 {
		maxLen = DefaultMaxContentLength
	}
	ev.Content = strings.TrimSpace(ev.Content)
	if ev.Content == "" {
		return ErrContentEmpty
	}
	if utf8.RuneCountInString(ev.Content) > maxLen {
		return ErrContentTooLong
	}
	if ev.Kind == "" {
		ev.Kind = KindText
	}
	if !ev.Kind.ClientKind() {
		return ErrInvalidKind
	}
	ev.ReplyTo = strings.TrimSpace(ev.ReplyTo)
	return nil
}
