package domain

import (
	"fmt"
	"strings"
	"unicode"
)

const MaxRoomIDLen = 128

type RoomID string

// Room is the persisted room as seen by this service: an id and a name.
// Membership lives with the collaborator store.
type Room struct {
	ID   RoomID `json:"id"`
	Name string `json:"name"`
}

func (id RoomID) Empty() bool { return strings.TrimSpace(string(id)) == "" }

// Validate rejects ids that are blank, too long or carry control
// characters. Storage keys are joined on NUL.
func (id RoomID) Validate() error {
	switch {
	case id.Empty():
		return fmt.Errorf("%w: room id is required", ErrInvalidPayload)
	case len(id) > MaxRoomIDLen:
		return fmt.Errorf("%w: room id too long", ErrInvalidPayload)
	case hasControl(string(id)):
		return fmt.Errorf("%w: room id has control characters", ErrInvalidPayload)
	}
	return nil
}

func hasControl(s string) bool { return strings.IndexFunc(s, unicode.IsControl) >= 0 }
