//go:generate go run go.uber.org/mock/mockgen -source=interfaces.go -destination=../mocks/mock_core.go -package=mocks
package core

import (
	"context"

	"github.com/danpat592/Yeettalk/internal/domain"
)

// IdentityVerifier turns a raw credential into a user identity.
// Any failure must wrap domain.ErrAuth.
type IdentityVerifier interface {
	Verify(ctx context.Context, credential string) (*domain.User, error)
}

// MembershipOracle is the authoritative answer to "is user U a member of
// room R". An unknown room is reported as domain.ErrRoomNotFound.
type MembershipOracle interface {
	IsMember(ctx context.Context, userID domain.UserID, roomID domain.RoomID) (bool, error)
}

// MessageStore persists a chat event and returns the display-ready message.
type MessageStore interface {
	Save(ctx context.Context, ev domain.ChatEvent) (domain.Message, error)
}

// PresenceSink receives online/offline edges for persistence.
type PresenceSink interface {
	SetOnline(ctx context.Context, userID domain.UserID, online bool) error
}
